// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package loopback

import (
	"sync"

	"github.com/platinasystems/rpmsg"
)

// Notify is a core's notify word that wakes the remote whenever the host
// sets the doorbell bit.
type Notify struct {
	rpmsg.Register
	toRemote uint32
	bell     chan struct{}
}

func NewNotify(reg rpmsg.Register, layout rpmsg.NotifyLayout) *Notify {
	return &Notify{
		Register: reg,
		toRemote: layout.ToRemote,
		bell:     make(chan struct{}, 1),
	}
}

func (n *Notify) Update(mask, val uint32) {
	n.Register.Update(mask, val)
	if mask&val&n.toRemote != 0 {
		select {
		case n.bell <- struct{}{}:
		default:
		}
	}
}

// Syscon is a bank of registers in process memory.
type Syscon struct {
	mu   sync.Mutex
	regs map[uint32]uint32
}

func (s *Syscon) ReadReg(offset uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[offset]
}

func (s *Syscon) WriteReg(offset, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regs == nil {
		s.regs = make(map[uint32]uint32)
	}
	s.regs[offset] = v
}
