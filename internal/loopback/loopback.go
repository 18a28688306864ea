// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package loopback is an in-process remote core. It acknowledges the boot
// handshake, serves requests from the host's rings and scratch mailbox,
// and raises the host's notify interrupt when it has replied.
package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/ring"
	"github.com/platinasystems/rpmsg/shm"
	"github.com/platinasystems/rpmsg/wire"
)

type Mode int

const (
	// Serve answers the handshake and every request.
	Serve Mode = iota
	// Hang never answers the handshake, as a core that didn't boot.
	Hang
	// Hold answers the handshake but keeps replies until Release.
	Hold
)

// Handler computes the reply to a request; nil means no reply.
type Handler func(m *wire.Message) *wire.Message

// Echo replies OK with the request payload.
func Echo(m *wire.Message) *wire.Message {
	return wire.NewReply(&m.Header, wire.StatusOK, m.Payload)
}

type channel struct {
	name string
	// from the remote's side: rx is the host's tx ring
	rx *ring.Reader
	tx *ring.Writer
}

type Remote struct {
	cfg    rpmsg.CoreConfig
	mem    *shm.Region
	notify *Notify
	order  binary.ByteOrder

	mu       sync.Mutex
	mode     Mode
	handler  Handler
	chans    map[string]*channel
	names    []string
	held     []held
	requests []wire.Header
	irq      func()
}

type held struct {
	ch *channel
	m  *wire.Message
}

// New attaches to the rings of the core's channels, which the host must
// have initialized. The core's Notify must be n.
func New(mem *shm.Region, core rpmsg.CoreConfig, n *Notify,
	channels []rpmsg.ChannelConfig) (*Remote, error) {
	r := &Remote{
		cfg:     core,
		mem:     mem,
		notify:  n,
		order:   binary.LittleEndian,
		handler: Echo,
		chans:   make(map[string]*channel),
	}
	if core.BigEndian {
		r.order = binary.BigEndian
	}
	if r.cfg.Layout == (rpmsg.NotifyLayout{}) {
		r.cfg.Layout = rpmsg.DefaultLayout(core.ID)
	}
	for _, cc := range channels {
		if cc.Core != core.ID {
			continue
		}
		var order binary.ByteOrder = binary.LittleEndian
		if cc.BigEndian {
			order = binary.BigEndian
		}
		hostTx, err := ring.Attach(mem, cc.TxInfo, order)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cc.Name, err)
		}
		hostRx, err := ring.Attach(mem, cc.RxInfo, order)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cc.Name, err)
		}
		ch := &channel{name: cc.Name}
		if ch.rx, err = hostTx.Reader(0); err != nil {
			return nil, err
		}
		if ch.tx, err = hostRx.Writer(); err != nil {
			return nil, err
		}
		r.chans[cc.Name] = ch
		r.names = append(r.names, cc.Name)
	}
	return r, nil
}

// SetMode changes how the remote behaves from its next doorbell.
func (r *Remote) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

func (r *Remote) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Requests returns the headers of every request served so far.
func (r *Remote) Requests() []wire.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Header(nil), r.requests...)
}

// Start serving doorbells until ctx is done. irq is the host's interrupt
// handler for this core.
func (r *Remote) Start(ctx context.Context, irq func()) {
	r.mu.Lock()
	r.irq = irq
	r.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify.bell:
				r.service()
			}
		}
	}()
}

func (r *Remote) service() {
	r.mu.Lock()
	defer r.mu.Unlock()
	lo := r.cfg.Layout
	st := r.notify.Load()
	r.notify.Register.Update(lo.ToRemote, 0)
	if r.mode == Hang {
		return
	}
	if st&lo.Sync != 0 {
		r.notify.Register.Update(lo.Sync, 0)
		if r.mem.Load32(r.cfg.Flag, r.order) == rpmsg.Sentinel {
			r.mem.Store32(r.cfg.Flag, 0, r.order)
		}
	}
	raise := r.scratch()
	for _, name := range r.names {
		ch := r.chans[name]
		for {
			m, err := r.receive(ch)
			if err != nil {
				log.Print("err", "loopback: ", name, ": ", err)
				ch.rx.Discard()
				break
			}
			if m == nil {
				break
			}
			r.requests = append(r.requests, m.Header)
			rep := r.handler(m)
			if rep == nil {
				continue
			}
			if r.mode == Hold {
				r.held = append(r.held, held{ch, rep})
				continue
			}
			if r.write(ch, rep) {
				raise = true
			}
		}
	}
	if raise {
		r.raise()
	}
}

func (r *Remote) receive(ch *channel) (*wire.Message, error) {
	if ch.rx.Empty() {
		return nil, nil
	}
	var hb [wire.HeaderSize]byte
	if err := ch.rx.Peek(hb[:]); err != nil {
		return nil, err
	}
	h, _ := wire.DecodeHeader(hb[:])
	b := make([]byte, wire.HeaderSize+int(h.ParameterSize))
	if err := ch.rx.Read(b); err != nil {
		return nil, err
	}
	return wire.Unmarshal(b)
}

func (r *Remote) write(ch *channel, m *wire.Message) bool {
	if err := ch.tx.Write(m.Marshal()); err != nil {
		log.Print("err", "loopback: ", ch.name, ": ", err)
		return false
	}
	return true
}

// raise the host's notify interrupt; r.mu is held.
func (r *Remote) raise() {
	lo := r.cfg.Layout
	r.notify.Register.Update(lo.FromRemote, lo.FromRemote)
	if r.irq != nil {
		r.irq()
	}
}

// Release writes the replies held in Hold mode and returns to Serve.
func (r *Remote) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = Serve
	raise := false
	for _, h := range r.held {
		if r.write(h.ch, h.m) {
			raise = true
		}
	}
	r.held = nil
	if raise {
		r.raise()
	}
}

// Send a message to the host on the named channel, as a request from the
// remote or a forged reply.
func (r *Remote) Send(name string, m *wire.Message) error {
	return r.Inject(name, m.Marshal())
}

// Inject raw bytes into the host's receive ring.
func (r *Remote) Inject(name string, b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.chans[name]
	if ch == nil {
		return fmt.Errorf("loopback: %w: %q", rpmsg.ErrNoChannel, name)
	}
	if err := ch.tx.Write(b); err != nil {
		return err
	}
	r.raise()
	return nil
}

// scratch serves a call posted through the mailbox; r.mu is held.
func (r *Remote) scratch() bool {
	box := r.cfg.Mailbox
	if box == 0 {
		return false
	}
	req := r.mem.Load32(box, r.order)
	rep := r.mem.Load32(box+4, r.order)
	if req == 0 {
		return false
	}
	r.mem.Store32(box, 0, r.order)
	r.mem.Store32(box+4, 0, r.order)
	h, err := wire.DecodeHeader(r.mem.Bytes(req, wire.HeaderSize))
	if err != nil {
		return false
	}
	b := append([]byte(nil),
		r.mem.Bytes(req, wire.HeaderSize+h.ParameterSize)...)
	m, err := wire.Unmarshal(b)
	if err != nil {
		return false
	}
	r.requests = append(r.requests, m.Header)
	reply := r.handler(m)
	if reply == nil || r.mode == Hold {
		return false
	}
	out := reply.Marshal()
	// the context word completes the reply so it goes last
	const ctxOff = wire.HeaderSize - 4
	copy(r.mem.Bytes(rep, ctxOff), out[:ctxOff])
	copy(r.mem.Bytes(rep+wire.HeaderSize, uint32(len(out)-wire.HeaderSize)),
		out[wire.HeaderSize:])
	r.mem.Store32(rep+ctxOff, reply.Context, binary.BigEndian)
	return true
}
