// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg/ring"
	"github.com/platinasystems/rpmsg/wire"
)

// ChannelConfig places a channel's rings in shared memory. Tx and Rx are
// from the host's point of view.
type ChannelConfig struct {
	Name           string
	Core           CoreID
	TxInfo, RxInfo uint32
	TxFifo, RxFifo uint32
	TxSize, RxSize uint32
	// BigEndian ring headers; message bytes are always big-endian.
	BigEndian bool
	// Keying defaults to ByOwnerIdentity.
	Keying Keying
}

// logLimit is the number of drop and corruption messages logged per
// channel per connection.
const logLimit = 16

// Channel is a pair of rings to one core with its endpoints.
type Channel struct {
	ChannelConfig
	t    *Transport
	core *Core

	txlock sync.Mutex
	tx     *ring.Writer
	rxlock sync.Mutex
	rx     *ring.Reader

	sched   chan struct{}
	limited atomic.Pointer[log.Limited]
	stats   counters

	mu        sync.Mutex
	keyer     keyer
	endpoints map[uint32]*Endpoint
	alloc     *Endpoint
}

type counters struct {
	tx, rx, dropped, stale, corrupt, timeouts, overflows atomic.Uint64
}

// Stats are a channel's message counts.
type Stats struct {
	Tx, Rx    uint64
	Dropped   uint64
	Stale     uint64
	Corrupt   uint64
	Timeouts  uint64
	Overflows uint64
}

func newChannel(t *Transport, index uint32, cfg ChannelConfig) (*Channel,
	error) {
	c := t.Core(cfg.Core)
	if c == nil {
		return nil, fmt.Errorf("%s: %w: %v", cfg.Name, ErrNoCore, cfg.Core)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if cfg.BigEndian {
		order = binary.BigEndian
	}
	var txr, rxr *ring.Ring
	var err error
	if t.attach {
		if txr, err = ring.Attach(t.mem, cfg.TxInfo, order); err == nil {
			rxr, err = ring.Attach(t.mem, cfg.RxInfo, order)
		}
	} else {
		txr, err = ring.Init(t.mem, cfg.TxInfo, cfg.TxFifo, cfg.TxSize,
			2*index, 1, order)
		if err == nil {
			rxr, err = ring.Init(t.mem, cfg.RxInfo, cfg.RxFifo,
				cfg.RxSize, 2*index+1, 1, order)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	if cfg.Keying == nil {
		cfg.Keying = ByOwnerIdentity{}
	}
	ch := &Channel{
		ChannelConfig: cfg,
		t:             t,
		core:          c,
		sched:         make(chan struct{}, 1),
		keyer:         cfg.Keying.newKeyer(t.clock),
		endpoints:     make(map[uint32]*Endpoint),
	}
	if ch.tx, err = txr.Writer(); err != nil {
		return nil, fmt.Errorf("%s: tx: %w", cfg.Name, err)
	}
	if ch.rx, err = rxr.Reader(0); err != nil {
		return nil, fmt.Errorf("%s: rx: %w", cfg.Name, err)
	}
	ch.alloc = &Endpoint{
		ID:         RemoteAllocID,
		ch:         ch,
		refs:       1,
		concurrent: true,
	}
	ch.endpoints[RemoteAllocID] = ch.alloc
	ch.reset()
	c.addChannel(ch)
	return ch, nil
}

func (ch *Channel) String() string { return ch.Name }

func (ch *Channel) Core() *Core { return ch.core }

// RemoteAlloc is the channel's reserved endpoint. Its callers don't
// exclude each other; replies are matched to them by token.
func (ch *Channel) RemoteAlloc() *Endpoint { return ch.alloc }

// Register an endpoint for owner. Requests from the remote addressed to
// the endpoint are passed to h, which may be nil.
func (ch *Channel) Register(owner uint32, h Handler) (*Endpoint, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	id, share, err := ch.keyer.key(owner, func(id uint32) bool {
		_, found := ch.endpoints[id]
		return found
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ch.Name, err)
	}
	if share {
		e := ch.endpoints[id]
		e.refs++
		if e.handler == nil {
			e.handler = h
		}
		return e, nil
	}
	e := &Endpoint{
		ID:      id,
		Owner:   owner,
		ch:      ch,
		handler: h,
		refs:    1,
	}
	ch.endpoints[id] = e
	return e, nil
}

func (ch *Channel) unregister(e *Endpoint) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if e.refs == 0 || e == ch.alloc {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(ch.endpoints, e.ID)
	ch.keyer.release(e.ID)
	e.close()
}

func (ch *Channel) lookup(id uint32) *Endpoint {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.endpoints[id]
}

// Endpoints is the number of registered endpoints, not counting the
// reserved one.
func (ch *Channel) Endpoints() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.endpoints) - 1
}

func (ch *Channel) limit() *log.Limited { return ch.limited.Load() }

// reset the log limit on each connection.
func (ch *Channel) reset() { ch.limited.Store(log.NewLimited(logLimit)) }

func (ch *Channel) schedule() {
	select {
	case ch.sched <- struct{}{}:
	default:
	}
}

// send never waits for space; a message that doesn't fit isn't written.
func (ch *Channel) send(m *wire.Message) error {
	if err := ch.core.ready(); err != nil {
		return err
	}
	b := m.Marshal()
	ch.txlock.Lock()
	err := ch.tx.Write(b)
	ch.txlock.Unlock()
	if err != nil {
		if errors.Is(err, ring.ErrOverflow) {
			ch.stats.overflows.Add(1)
		}
		return fmt.Errorf("%s: send: %w", ch.Name, err)
	}
	ch.stats.tx.Add(1)
	ch.core.doorbell()
	return nil
}

func (ch *Channel) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.sched:
			if ch.drain() {
				ch.schedule()
			}
		}
	}
}

// drain receives and dispatches at most one message and reports whether
// more remain.
func (ch *Channel) drain() bool {
	m, err := ch.receive()
	if err != nil {
		ch.stats.corrupt.Add(1)
		ch.limit().Print("err", err)
	} else if m != nil {
		ch.stats.rx.Add(1)
		ch.dispatch(m)
	}
	return ch.rx.Used() > 0
}

// receive peeks the header for the message size, then reads the whole
// message. Anything inconsistent discards what's in the ring.
func (ch *Channel) receive() (*wire.Message, error) {
	ch.rxlock.Lock()
	defer ch.rxlock.Unlock()
	if ch.rx.Empty() {
		return nil, nil
	}
	corrupt := func(need, have uint32, err error) error {
		ch.rx.Discard()
		return &CorruptionError{
			Channel: ch.Name,
			Need:    need,
			Have:    have,
			Err:     err,
		}
	}
	have := ch.rx.Used()
	if have < wire.HeaderSize {
		return nil, corrupt(wire.HeaderSize, have, nil)
	}
	var hb [wire.HeaderSize]byte
	if err := ch.rx.Read(hb[:]); err != nil {
		return nil, corrupt(wire.HeaderSize, have, err)
	}
	h, _ := wire.DecodeHeader(hb[:])
	if err := ch.rx.MoveBack(wire.HeaderSize); err != nil {
		return nil, corrupt(wire.HeaderSize, have, err)
	}
	need := uint64(wire.HeaderSize) + uint64(h.ParameterSize)
	if need > uint64(have) {
		return nil, corrupt(uint32(min(need, 1<<32-1)), have, nil)
	}
	b := make([]byte, need)
	if err := ch.rx.Read(b); err != nil {
		return nil, corrupt(uint32(need), have, err)
	}
	return wire.Unmarshal(b)
}

func (ch *Channel) dispatch(m *wire.Message) {
	if m.IsReply() {
		r, err := wire.DecodeReply(m.Payload)
		if err != nil {
			ch.drop(m, err.Error())
			return
		}
		e := ch.lookup(r.Tag)
		if e == nil {
			ch.drop(m, "no endpoint")
			return
		}
		if !e.deliver(m) {
			ch.stats.stale.Add(1)
			ch.limit().Printf("err", "%s: stale %s", ch.Name, &m.Header)
		}
		return
	}
	ch.mu.Lock()
	e := ch.endpoints[m.SysPID]
	var h Handler
	if e != nil {
		h = e.handler
	}
	ch.mu.Unlock()
	if e == nil {
		ch.drop(m, "no endpoint")
		return
	}
	if h == nil {
		ch.drop(m, "no handler")
		return
	}
	if rep := h(Worker{ch}, m); rep != nil {
		if err := ch.send(rep); err != nil {
			ch.limit().Print("err", err)
		}
	}
}

func (ch *Channel) drop(m *wire.Message, why string) {
	ch.stats.dropped.Add(1)
	ch.limit().Printf("err", "%s: drop %s: %s", ch.Name, &m.Header, why)
}

func (ch *Channel) timedOut(m *wire.Message) {
	ch.stats.timeouts.Add(1)
	log.Printf("err", "%s: %s: timeout %s", ch.t.ID, ch.Name, &m.Header)
	log.Print("err", ch.Diag())
}

// Diag describes both rings for post-mortem.
func (ch *Channel) Diag() string {
	return fmt.Sprintf("%s: %s %s\n\ttx %s\n\trx %s", ch.Name, ch.core,
		ch.core.State(), ch.tx.Ring().State(), ch.rx.Ring().State())
}

func (ch *Channel) Stats() Stats {
	return Stats{
		Tx:        ch.stats.tx.Load(),
		Rx:        ch.stats.rx.Load(),
		Dropped:   ch.stats.dropped.Load(),
		Stale:     ch.stats.stale.Load(),
		Corrupt:   ch.stats.corrupt.Load(),
		Timeouts:  ch.stats.timeouts.Load(),
		Overflows: ch.stats.overflows.Load(),
	}
}
