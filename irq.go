// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg/wire"
)

// IRQ is the interrupt context of a core. Nothing reachable from it
// blocks: it may read and acknowledge the notify word and schedule
// channel workers.
type IRQ struct {
	c *Core
}

func (q IRQ) Core() CoreID { return q.c.ID }

func (q IRQ) Status() uint32 { return q.c.Notify.Load() }

// Ack clears bits of the notify word. It fails rather than wait if the
// hardware spinlock is held elsewhere for too long.
func (q IRQ) Ack(mask uint32) bool {
	if !q.c.Lock.spin() {
		return false
	}
	defer q.c.Lock.Unlock()
	q.c.Notify.Update(mask, 0)
	return true
}

// Schedule the channel's drain worker. It runs once more however many
// times it's scheduled before then.
func (q IRQ) Schedule(ch *Channel) { ch.schedule() }

// Interrupt is the handler for a core's notify interrupt line.
func (t *Transport) Interrupt(id CoreID) {
	c := t.Core(id)
	if c == nil {
		return
	}
	c.isr(IRQ{c})
}

func (c *Core) isr(q IRQ) {
	c.interrupts.Add(1)
	from := c.Layout.FromRemote
	if q.Status()&from == 0 {
		c.spurious.Add(1)
		return
	}
	// Ack before dispatch so a notify raised meanwhile isn't lost.
	if !q.Ack(from) {
		log.Print("err", c, ": hwspinlock busy, notify not acked")
	}
	if c.State() == Disabled {
		return
	}
	for _, ch := range load(&c.channels) {
		q.Schedule(ch)
	}
	for _, f := range load(&c.handlers) {
		f(q)
	}
}

// Worker is the context of a channel's drain goroutine, given to handlers
// of requests from the remote. Handlers may lock but mustn't wait on the
// remote since nothing else drains the channel meanwhile.
type Worker struct {
	ch *Channel
}

func (w Worker) Channel() *Channel { return w.ch }

// Send a message to the remote on the worker's channel.
func (w Worker) Send(m *wire.Message) error { return w.ch.send(m) }

// Reply to a request from the remote.
func (w Worker) Reply(req *wire.Message, status uint32, data []byte) error {
	return w.ch.send(wire.NewReply(&req.Header, status, data))
}
