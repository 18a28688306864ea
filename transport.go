// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package rpmsg is a request/reply transport to remote cores through rings
// in shared memory.
//
// A Transport owns a set of cores and the channels to them. Each channel
// is a pair of rings, one each way, with a worker goroutine that drains
// the receive ring when the core's notify interrupt schedules it. Callers
// register an Endpoint on a channel and make synchronous calls through it:
//
//	t, err := rpmsg.New(cfg)
//	...
//	err = t.Kick(ctx, rpmsg.Video)
//	e, err := t.RegisterEndpoint("video", uint32(os.Getpid()), nil)
//	reply, err := e.Call(ctx, program, procedure, payload)
//
// Replies are matched by the endpoint id echoed in the reply and the
// per-call token carried in the header context.
package rpmsg

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg/shm"
	"github.com/platinasystems/rpmsg/statepub"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultTimeout = time.Second

type Config struct {
	Mem      *shm.Region
	Cores    []CoreConfig
	Channels []ChannelConfig
	// Timeout bounds each call; zero is DefaultTimeout.
	Timeout time.Duration
	Clock   Clock
	Sink    statepub.Sink
	// AttachRings uses ring headers written by the remote instead of
	// initializing them.
	AttachRings bool
	// IgnoreContext is for firmware that doesn't echo the request
	// context in its replies.
	IgnoreContext bool
}

type Transport struct {
	ID uuid.UUID

	mem     *shm.Region
	clock   Clock
	timeout time.Duration
	sink    statepub.Sink
	attach  bool
	echoes  bool

	cores    [NumCores]*Core
	channels []*Channel
	byName   map[string]*Channel

	token atomic.Uint32

	cancel context.CancelFunc
	g      *errgroup.Group
	once   sync.Once
	done   chan struct{}
}

// New attaches to the shared region and starts a worker per channel. The
// cores are left Uninitialized until kicked.
func New(cfg Config) (*Transport, error) {
	if cfg.Mem == nil {
		return nil, fmt.Errorf("rpmsg: no shared memory")
	}
	t := &Transport{
		ID:      uuid.NewV4(),
		mem:     cfg.Mem,
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
		sink:    cfg.Sink,
		attach:  cfg.AttachRings,
		echoes:  !cfg.IgnoreContext,
		byName:  make(map[string]*Channel),
		done:    make(chan struct{}),
	}
	if t.clock == nil {
		t.clock = SystemClock
	}
	if t.timeout == 0 {
		t.timeout = DefaultTimeout
	}
	if t.sink == nil {
		t.sink = statepub.Discard
	}
	for _, cc := range cfg.Cores {
		switch {
		case cc.ID >= NumCores:
			return nil, fmt.Errorf("%w: %v", ErrNoCore, cc.ID)
		case t.cores[cc.ID] != nil:
			return nil, fmt.Errorf("%v: duplicate core", cc.ID)
		case cc.Notify == nil:
			return nil, fmt.Errorf("%v: no notify register", cc.ID)
		case cc.Flag&3 != 0 || !t.mem.Contains(cc.Flag, 4):
			return nil, fmt.Errorf("%v: flag %#x outside %s", cc.ID,
				cc.Flag, t.mem)
		case cc.Mailbox != 0 && (cc.Mailbox&3 != 0 ||
			!t.mem.Contains(cc.Mailbox, 8)):
			return nil, fmt.Errorf("%v: mailbox %#x outside %s", cc.ID,
				cc.Mailbox, t.mem)
		}
		t.cores[cc.ID] = newCore(t, cc)
	}
	for i, cc := range cfg.Channels {
		if cc.Name == "" {
			return nil, fmt.Errorf("rpmsg: channel %d has no name", i)
		}
		if _, found := t.byName[cc.Name]; found {
			return nil, fmt.Errorf("%s: duplicate channel", cc.Name)
		}
		ch, err := newChannel(t, uint32(i), cc)
		if err != nil {
			return nil, err
		}
		t.channels = append(t.channels, ch)
		t.byName[cc.Name] = ch
	}
	for _, c := range t.cores {
		if c != nil {
			t.sink.Publish(c.String(), c.State().String())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.g, ctx = errgroup.WithContext(ctx)
	for _, ch := range t.channels {
		ch := ch
		t.g.Go(func() error { return ch.run(ctx) })
	}
	log.Printf("info", "%s: %d cores, %d channels", t.ID,
		len(cfg.Cores), len(t.channels))
	return t, nil
}

// Close stops the workers and fails calls still waiting with ErrClosed.
func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.cancel()
	})
	return t.g.Wait()
}

func (t *Transport) Mem() *shm.Region       { return t.mem }
func (t *Transport) Clock() Clock           { return t.clock }
func (t *Transport) Timeout() time.Duration { return t.timeout }

// NextToken returns a call's correlation token. Tokens increase until they
// wrap and are never zero.
func (t *Transport) NextToken() uint32 {
	for {
		if v := t.token.Add(1); v != 0 {
			return v
		}
	}
}

// Core returns nil if id isn't configured.
func (t *Transport) Core(id CoreID) *Core {
	if id >= NumCores {
		return nil
	}
	return t.cores[id]
}

func (t *Transport) Cores() []*Core {
	var cores []*Core
	for _, c := range t.cores {
		if c != nil {
			cores = append(cores, c)
		}
	}
	return cores
}

func (t *Transport) core(id CoreID) (*Core, error) {
	if c := t.Core(id); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoCore, id)
}

// Channel returns nil if there is no channel of the given name.
func (t *Transport) Channel(name string) *Channel { return t.byName[name] }

func (t *Transport) Channels() []*Channel {
	return append([]*Channel(nil), t.channels...)
}

// QueryCoreState of an unconfigured core is Disabled since it can't be
// used.
func (t *Transport) QueryCoreState(id CoreID) State {
	if c := t.Core(id); c != nil {
		return c.State()
	}
	return Disabled
}

func (t *Transport) Kick(ctx context.Context, id CoreID) error {
	c, err := t.core(id)
	if err != nil {
		return err
	}
	return c.Kick(ctx)
}

func (t *Transport) Recover(ctx context.Context, id CoreID,
	attempts int) error {
	c, err := t.core(id)
	if err != nil {
		return err
	}
	return c.Recover(ctx, attempts)
}

func (t *Transport) Disable(id CoreID) error {
	c, err := t.core(id)
	if err != nil {
		return err
	}
	c.Disable()
	return nil
}

func (t *Transport) Enable(id CoreID) error {
	c, err := t.core(id)
	if err != nil {
		return err
	}
	c.Enable()
	return nil
}

// RegisterEndpoint on the named channel.
func (t *Transport) RegisterEndpoint(name string, owner uint32,
	h Handler) (*Endpoint, error) {
	ch := t.Channel(name)
	if ch == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoChannel, name)
	}
	return ch.Register(owner, h)
}

// WriteSummary of cores and channels.
func (t *Transport) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "transport\t%s\n", t.ID)
	for _, c := range t.Cores() {
		fmt.Fprintf(tw, "core\t%s\t%s\tinterrupts %d\tspurious %d\n",
			c, c.State(), c.interrupts.Load(), c.spurious.Load())
	}
	channels := t.Channels()
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})
	for _, ch := range channels {
		s := ch.Stats()
		fmt.Fprintf(tw, "channel\t%s\t%s\ttx %d\trx %d\tdropped %d\tstale %d\tcorrupt %d\ttimeouts %d\toverflows %d\tendpoints %d\n",
			ch, ch.core, s.Tx, s.Rx, s.Dropped, s.Stale, s.Corrupt,
			s.Timeouts, s.Overflows, ch.Endpoints())
	}
	return tw.Flush()
}
