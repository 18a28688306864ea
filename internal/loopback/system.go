// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/ring"
	"github.com/platinasystems/rpmsg/shm"
	"github.com/platinasystems/rpmsg/statepub"
)

// Phys is the bus address of the simulated shared region.
const Phys = 0x04000000

const (
	DefaultRingSize    = 1024
	DefaultScratchSlot = 256
)

// ChannelSpec is a channel to lay out.
type ChannelSpec struct {
	Name   string
	Core   rpmsg.CoreID
	Keying rpmsg.Keying
}

type Options struct {
	// Cores defaults to one each of audio and video.
	Cores []rpmsg.CoreID
	// Channels defaults to one per core named after it.
	Channels  []ChannelSpec
	RingSize  uint32
	BigEndian bool
	// Regmap puts the notify words in a Syscon instead of shared memory.
	Regmap bool
	// HwSpinlock guards each notify word with a lock in shared memory.
	HwSpinlock bool

	Timeout       time.Duration
	Clock         rpmsg.Clock
	Sink          statepub.Sink
	IgnoreContext bool
}

// Layout places the notify words, handshake flags, mailboxes, scratch
// areas and rings of o in a new region.
func Layout(o Options) rpmsg.Config {
	if len(o.Cores) == 0 {
		o.Cores = []rpmsg.CoreID{rpmsg.Audio, rpmsg.Video}
	}
	if len(o.Channels) == 0 {
		for _, id := range o.Cores {
			o.Channels = append(o.Channels, ChannelSpec{
				Name: id.String(),
				Core: id,
			})
		}
	}
	if o.RingSize == 0 {
		o.RingSize = DefaultRingSize
	}
	align := func(n uint32) uint32 { return (n + 7) &^ 7 }
	perCore := align(4) + align(4) + align(4) + 8 + 2*DefaultScratchSlot
	perChannel := 2*align(ring.InfoSize) + 2*align(o.RingSize)
	size := uint32(len(o.Cores))*perCore + uint32(len(o.Channels))*perChannel
	mem := shm.New(Phys, int(size))

	next := uint32(Phys)
	alloc := func(n uint32) uint32 {
		addr := next
		next += align(n)
		return addr
	}
	var order binary.ByteOrder = binary.LittleEndian
	if o.BigEndian {
		order = binary.BigEndian
	}
	cfg := rpmsg.Config{
		Mem:           mem,
		Timeout:       o.Timeout,
		Clock:         o.Clock,
		Sink:          o.Sink,
		IgnoreContext: o.IgnoreContext,
	}
	var syscon *Syscon
	if o.Regmap {
		syscon = new(Syscon)
	}
	for _, id := range o.Cores {
		cc := rpmsg.CoreConfig{
			ID:        id,
			Layout:    rpmsg.DefaultLayout(id),
			BigEndian: o.BigEndian,
		}
		notify := alloc(4)
		if o.Regmap {
			cc.Notify = &rpmsg.Regmap{Syscon: syscon, Offset: notify - Phys}
		} else {
			cc.Notify = &rpmsg.MMIO{Mem: mem, Addr: notify, Order: order}
		}
		lock := alloc(4)
		if o.HwSpinlock {
			cc.Lock = &rpmsg.HwSpinlock{Mem: mem, Addr: lock, Order: order}
		}
		cc.Flag = alloc(4)
		cc.Mailbox = alloc(8)
		alloc(2 * DefaultScratchSlot)
		cfg.Cores = append(cfg.Cores, cc)
	}
	for _, cs := range o.Channels {
		cfg.Channels = append(cfg.Channels, rpmsg.ChannelConfig{
			Name:      cs.Name,
			Core:      cs.Core,
			TxInfo:    alloc(ring.InfoSize),
			RxInfo:    alloc(ring.InfoSize),
			TxFifo:    alloc(o.RingSize),
			RxFifo:    alloc(o.RingSize),
			TxSize:    o.RingSize,
			RxSize:    o.RingSize,
			BigEndian: o.BigEndian,
			Keying:    cs.Keying,
		})
	}
	return cfg
}

// ScratchArea returns the request and reply slots Layout reserved after a
// core's mailbox.
func ScratchArea(cc rpmsg.CoreConfig) (base, slot uint32) {
	return cc.Mailbox + 8, DefaultScratchSlot
}

// System is a transport with a loopback remote for each of its cores.
type System struct {
	*rpmsg.Transport
	Config  rpmsg.Config
	Remotes map[rpmsg.CoreID]*Remote

	cancel context.CancelFunc
}

// NewSystem lays out o and runs it.
func NewSystem(o Options) (*System, error) {
	return Run(Layout(o))
}

// Run a transport over cfg, with ring headers initialized by the host,
// and serve each core from a loopback remote.
func Run(cfg rpmsg.Config) (*System, error) {
	if cfg.AttachRings {
		return nil, fmt.Errorf("loopback: remote can't initialize rings")
	}
	cfg.Cores = append([]rpmsg.CoreConfig(nil), cfg.Cores...)
	notifies := make([]*Notify, len(cfg.Cores))
	for i := range cfg.Cores {
		cc := &cfg.Cores[i]
		if cc.Layout == (rpmsg.NotifyLayout{}) {
			cc.Layout = rpmsg.DefaultLayout(cc.ID)
		}
		notifies[i] = NewNotify(cc.Notify, cc.Layout)
		cc.Notify = notifies[i]
	}
	t, err := rpmsg.New(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &System{
		Transport: t,
		Config:    cfg,
		Remotes:   make(map[rpmsg.CoreID]*Remote),
		cancel:    cancel,
	}
	for i, cc := range cfg.Cores {
		r, err := New(cfg.Mem, cc, notifies[i], cfg.Channels)
		if err != nil {
			s.Close()
			return nil, err
		}
		id := cc.ID
		r.Start(ctx, func() { t.Interrupt(id) })
		s.Remotes[id] = r
	}
	return s, nil
}

func (s *System) Close() error {
	s.cancel()
	return s.Transport.Close()
}
