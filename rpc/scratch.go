// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/shm"
	"github.com/platinasystems/rpmsg/wire"
)

// ctxOff is the offset of the header's context word; a reply is complete
// once it holds the call's token.
const ctxOff = wire.HeaderSize - 4

// Doorbell posts the bus addresses of a request and its reply slot to the
// remote. *rpmsg.Core is one.
type Doorbell interface {
	Post(req, rep uint32) error
}

// Scratch is the register path to a core: a request slot and a reply slot
// in shared memory with one call in flight.
type Scratch struct {
	// Task identifies the caller in request headers.
	Task uint32

	bell    Doorbell
	mem     *shm.Region
	timeout time.Duration
	token   func() uint32
	req     uint32
	rep     uint32
	slot    uint32

	mu      sync.Mutex
	pending atomic.Uint32
	done    chan struct{}
}

// NewScratch uses two slots of the given size at base, the request then
// the reply, and completes calls from the core's interrupt.
func NewScratch(c *rpmsg.Core, base, slot uint32) (*Scratch, error) {
	t := c.Transport()
	mem := t.Mem()
	switch {
	case base&3 != 0 || slot&3 != 0:
		return nil, fmt.Errorf("%s: scratch %#x[%d]: %w", c, base, slot,
			wire.ErrUnaligned)
	case slot < wire.HeaderSize+8:
		return nil, fmt.Errorf("%s: scratch slot %d too small", c, slot)
	case !mem.Contains(base, 2*slot):
		return nil, fmt.Errorf("%s: scratch %#x[%d] outside %s", c, base,
			2*slot, mem)
	}
	s := &Scratch{
		bell:    c,
		mem:     mem,
		timeout: t.Timeout(),
		token:   t.NextToken,
		req:     base,
		rep:     base + slot,
		slot:    slot,
		done:    make(chan struct{}, 1),
	}
	c.OnInterrupt(s.interrupt)
	return s, nil
}

func (s *Scratch) TaskID() uint32 { return s.Task }

// interrupt runs in the core's interrupt context.
func (s *Scratch) interrupt(rpmsg.IRQ) {
	token := s.pending.Load()
	if token == 0 {
		return
	}
	if s.mem.Load32(s.rep+ctxOff, binary.BigEndian) == token {
		select {
		case s.done <- struct{}{}:
		default:
		}
	}
}

// Call is synchronous like rpmsg.Endpoint.Call. A reply to an earlier call
// that timed out is ignored since it carries the wrong token.
func (s *Scratch) Call(ctx context.Context, program, procedure uint32,
	payload []byte) (*wire.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &wire.Message{
		Header: wire.Header{
			Program:   program,
			Procedure: procedure,
			TaskID:    s.Task,
			SysPID:    s.Task,
			Context:   s.token(),
		},
		Payload: payload,
	}
	b := m.Marshal()
	if uint64(len(b)) > uint64(s.slot) {
		return nil, fmt.Errorf("scratch: %d > %d: %w", len(b), s.slot,
			rpmsg.ErrOverflow)
	}
	copy(s.mem.Bytes(s.req, uint32(len(b))), b)
	s.mem.Store32(s.rep+ctxOff, 0, binary.BigEndian)
	select {
	case <-s.done:
	default:
	}
	s.pending.Store(m.Context)
	defer s.pending.Store(0)
	if err := s.bell.Post(s.req, s.rep); err != nil {
		return nil, err
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		return nil, fmt.Errorf("scratch: %s: %w", &m.Header,
			rpmsg.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.reply(m)
}

func (s *Scratch) reply(req *wire.Message) (*wire.Message, error) {
	h, err := wire.DecodeHeader(s.mem.Bytes(s.rep, wire.HeaderSize))
	if err != nil {
		return nil, err
	}
	if uint64(h.ParameterSize) > uint64(s.slot-wire.HeaderSize) {
		return nil, fmt.Errorf("%w: scratch: %s", ErrBadReply, &h)
	}
	b := append([]byte(nil),
		s.mem.Bytes(s.rep, wire.HeaderSize+h.ParameterSize)...)
	m, err := wire.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("%w: scratch: %v", ErrBadReply, err)
	}
	if m.Context != req.Context {
		return nil, fmt.Errorf("%w: scratch: stale %s", ErrBadReply,
			&m.Header)
	}
	return m, nil
}
