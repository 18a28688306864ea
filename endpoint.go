// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinasystems/rpmsg/wire"
)

// Handler serves a request from the remote. A non-nil result is sent back.
type Handler func(w Worker, m *wire.Message) *wire.Message

// Endpoint is one caller's address on a channel.
type Endpoint struct {
	ID    uint32
	Owner uint32

	ch      *Channel
	handler Handler
	// refs is guarded by ch.mu
	refs       int
	concurrent bool

	// send holds one call in flight.
	send sync.Mutex

	mu      sync.Mutex
	waiters []*waiter
	closed  bool
}

type waiter struct {
	token uint32
	done  chan *wire.Message
}

func (e *Endpoint) Channel() *Channel { return e.ch }

// TaskID is the tag of replies to the endpoint's calls.
func (e *Endpoint) TaskID() uint32 { return e.ID }

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s.%#x", e.ch.Name, e.ID)
}

// Unregister drops a reference; the last one removes the endpoint from
// its channel.
func (e *Endpoint) Unregister() { e.ch.unregister(e) }

// Call sends a request and waits for its reply. Calls on an endpoint are
// serialized, except on the channel's RemoteAlloc endpoint. A call that
// times out leaves the endpoint usable; its late reply is discarded.
func (e *Endpoint) Call(ctx context.Context, program, procedure uint32,
	payload []byte) (*wire.Message, error) {
	ch := e.ch
	if err := ch.core.ready(); err != nil {
		return nil, err
	}
	if !e.concurrent {
		e.send.Lock()
		defer e.send.Unlock()
	}
	m := &wire.Message{
		Header: wire.Header{
			Program:   program,
			Procedure: procedure,
			TaskID:    e.ID,
			SysTID:    e.Owner,
			SysPID:    e.ID,
			Context:   ch.t.NextToken(),
		},
		Payload: payload,
	}
	w, err := e.wait(m.Context)
	if err != nil {
		return nil, err
	}
	if err = ch.send(m); err != nil {
		e.cancel(w)
		return nil, err
	}
	timer := time.NewTimer(ch.t.timeout)
	defer timer.Stop()
	select {
	case r := <-w.done:
		return r, nil
	case <-timer.C:
		if !e.cancel(w) {
			return <-w.done, nil
		}
		ch.timedOut(m)
		return nil, fmt.Errorf("%s: %s: %w", e, &m.Header, ErrTimeout)
	case <-ctx.Done():
		if !e.cancel(w) {
			return <-w.done, nil
		}
		return nil, ctx.Err()
	case <-ch.t.done:
		e.cancel(w)
		return nil, ErrClosed
	}
}

func (e *Endpoint) wait(token uint32) (*waiter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%s: %w", e, ErrNoEndpoint)
	}
	w := &waiter{
		token: token,
		done:  make(chan *wire.Message, 1),
	}
	e.waiters = append(e.waiters, w)
	return w, nil
}

// cancel reports whether w was still waiting.
func (e *Endpoint) cancel(w *waiter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.waiters {
		if x == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// deliver a reply to the waiter with its token. Without context echo
// the oldest waiter takes it. It reports false if nobody is waiting.
func (e *Endpoint) deliver(m *wire.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := -1
	if e.ch.t.echoes {
		for j, w := range e.waiters {
			if w.token == m.Context {
				i = j
				break
			}
		}
	} else if len(e.waiters) > 0 {
		i = 0
	}
	if i < 0 {
		return false
	}
	w := e.waiters[i]
	e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
	w.done <- m
	return true
}

func (e *Endpoint) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Pending is the number of calls waiting for replies.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}
