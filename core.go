// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/log"
)

type CoreID uint8

const (
	Audio CoreID = iota
	Video
	HiFi
	VE3
	NumCores
)

var coreNames = [NumCores]string{
	Audio: "audio",
	Video: "video",
	HiFi:  "hifi",
	VE3:   "ve3",
}

func (id CoreID) String() string {
	if id < NumCores {
		return coreNames[id]
	}
	return fmt.Sprintf("core%d", uint8(id))
}

// ParseCoreID is the inverse of CoreID.String.
func ParseCoreID(s string) (CoreID, error) {
	for i, name := range coreNames {
		if s == name {
			return CoreID(i), nil
		}
	}
	return NumCores, fmt.Errorf("%w: %q", ErrNoCore, s)
}

type State uint32

const (
	Uninitialized State = iota
	Connected
	Disconnected
	Disabled
)

var stateNames = []string{
	Uninitialized: "uninitialized",
	Connected:     "connected",
	Disconnected:  "disconnected",
	Disabled:      "disabled",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state%d", uint32(s))
}

const (
	// Sentinel is stored in the boot flag; the remote acknowledges the
	// handshake by overwriting it.
	Sentinel   = 0xdeadbeef
	KickPolls  = 3000
	KickPeriod = time.Millisecond
)

type CoreConfig struct {
	ID     CoreID
	Notify Register
	Layout NotifyLayout
	// Flag is the bus address of the boot handshake word.
	Flag uint32
	// Mailbox, if non-zero, is the bus address of the two words that
	// carry the request and reply addresses of a scratch call.
	Mailbox uint32
	// Lock, if non-nil, guards Notify against the remote CPUs.
	Lock      *HwSpinlock
	BigEndian bool
	Disabled  bool
}

// Core is the host's view of one remote core.
type Core struct {
	CoreConfig
	t     *Transport
	order binary.ByteOrder

	state      atomic.Uint32
	kick       sync.Mutex
	interrupts atomic.Uint64
	spurious   atomic.Uint64

	// mu serializes writers; readers, the ISR among them, load the
	// copy-on-write snapshots.
	mu        sync.Mutex
	channels  atomic.Pointer[[]*Channel]
	handlers  atomic.Pointer[[]func(IRQ)]
	connected atomic.Pointer[[]func(*Core)]
}

// appendTo replaces the slice at p with a copy extended by v; the caller
// holds mu.
func appendTo[T any](p *atomic.Pointer[[]T], v T) {
	var s []T
	if old := p.Load(); old != nil {
		s = append(s, *old...)
	}
	s = append(s, v)
	p.Store(&s)
}

func load[T any](p *atomic.Pointer[[]T]) []T {
	if s := p.Load(); s != nil {
		return *s
	}
	return nil
}

func newCore(t *Transport, cfg CoreConfig) *Core {
	c := &Core{
		CoreConfig: cfg,
		t:          t,
		order:      binary.LittleEndian,
	}
	if cfg.BigEndian {
		c.order = binary.BigEndian
	}
	if cfg.Layout == (NotifyLayout{}) {
		c.Layout = DefaultLayout(cfg.ID)
	}
	if cfg.Disabled {
		c.state.Store(uint32(Disabled))
	}
	return c
}

func (c *Core) String() string { return c.ID.String() }

func (c *Core) Transport() *Transport { return c.t }

func (c *Core) State() State { return State(c.state.Load()) }

func (c *Core) setState(s State) {
	if old := State(c.state.Swap(uint32(s))); old != s {
		c.announce(s)
	}
}

// transition to s unless the core has been disabled.
func (c *Core) transition(s State) bool {
	for {
		old := c.state.Load()
		if State(old) == Disabled {
			return false
		}
		if c.state.CompareAndSwap(old, uint32(s)) {
			if State(old) != s {
				c.announce(s)
			}
			return true
		}
	}
}

func (c *Core) announce(s State) {
	log.Printf("info", "%s: %s", c, s)
	if err := c.t.sink.Publish(c.String(), s.String()); err != nil {
		log.Print("err", c, " publish: ", err)
	}
}

// ready fails calls that mustn't touch the rings.
func (c *Core) ready() error {
	switch c.State() {
	case Connected:
		return nil
	case Disabled:
		return fmt.Errorf("%s: %w", c, ErrCoreDisabled)
	}
	return fmt.Errorf("%s: %w", c, ErrCoreDisconnected)
}

// update the notify word under the hardware spinlock.
func (c *Core) update(mask, val uint32) {
	c.Lock.Lock()
	defer c.Lock.Unlock()
	c.Notify.Update(mask, val)
}

func (c *Core) doorbell() {
	c.update(c.Layout.ToRemote, c.Layout.ToRemote)
}

// Kick runs the boot handshake. The remote has KickPolls periods to
// overwrite the sentinel.
func (c *Core) Kick(ctx context.Context) error {
	c.kick.Lock()
	defer c.kick.Unlock()
	if c.State() == Disabled {
		return fmt.Errorf("%s: %w", c, ErrCoreDisabled)
	}
	mem := c.t.mem
	c.update(c.Layout.IntEnable, c.Layout.IntEnable)
	c.update(c.Layout.Sync, c.Layout.Sync)
	mem.Store32(c.Flag, Sentinel, c.order)
	c.doorbell()
	disabled := fmt.Errorf("%s: %w", c, ErrCoreDisabled)
	for i := 0; i < KickPolls; i++ {
		if c.State() == Disabled {
			return disabled
		}
		if mem.Load32(c.Flag, c.order) != Sentinel {
			if !c.connect() {
				return disabled
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			if !c.transition(Disconnected) {
				return disabled
			}
			return err
		}
		c.t.clock.Sleep(KickPeriod)
	}
	if !c.transition(Disconnected) {
		return disabled
	}
	return fmt.Errorf("%s: boot handshake: %w", c, ErrTimeout)
}

func (c *Core) connect() bool {
	if !c.transition(Connected) {
		return false
	}
	for _, ch := range load(&c.channels) {
		ch.reset()
		ch.schedule()
	}
	for _, f := range load(&c.connected) {
		f(c)
	}
	return true
}

// Recover re-kicks a core that failed its handshake, backing off between
// attempts.
func (c *Core) Recover(ctx context.Context, attempts int) (err error) {
	b := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    time.Second,
		Factor: 2,
		Jitter: true,
	}
	for i := 0; i < attempts; i++ {
		if err = c.Kick(ctx); err == nil {
			return
		}
		if errorsIsAny(err, ErrCoreDisabled, context.Canceled,
			context.DeadlineExceeded) {
			return
		}
		d := b.Duration()
		log.Printf("info", "%s: retry kick in %v: %v", c, d, err)
		c.t.clock.Sleep(d)
	}
	return
}

// Disable fails all further calls on the core and stops kicks.
func (c *Core) Disable() { c.setState(Disabled) }

// Enable a disabled core; it has to be kicked again.
func (c *Core) Enable() {
	c.state.CompareAndSwap(uint32(Disabled), uint32(Uninitialized))
	log.Printf("info", "%s: %s", c, c.State())
}

// OnConnected runs f after each successful handshake, e.g. to announce the
// core's devices.
func (c *Core) OnConnected(f func(*Core)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appendTo(&c.connected, f)
}

// OnInterrupt adds a handler run in interrupt context after the core's
// channels are scheduled.
func (c *Core) OnInterrupt(f func(IRQ)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appendTo(&c.handlers, f)
}

// Post hands the bus addresses of a scratch request and its reply slot to
// the remote and rings its doorbell.
func (c *Core) Post(req, rep uint32) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.Mailbox == 0 {
		return fmt.Errorf("%s: %w", c, ErrNoMailbox)
	}
	c.t.mem.Store32(c.Mailbox+4, rep, c.order)
	c.t.mem.Store32(c.Mailbox, req, c.order)
	c.doorbell()
	return nil
}

func (c *Core) Channels() []*Channel {
	return append([]*Channel(nil), load(&c.channels)...)
}

func (c *Core) addChannel(ch *Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	appendTo(&c.channels, ch)
}
