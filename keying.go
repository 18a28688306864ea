// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"fmt"
	"time"
)

// Keying selects how a channel assigns endpoint ids.
type Keying interface {
	newKeyer(clock Clock) keyer
	String() string
}

type keyer interface {
	// key returns the id for owner, and whether the existing endpoint
	// with that id is to be shared.
	key(owner uint32, inUse func(uint32) bool) (id uint32, share bool,
		err error)
	release(id uint32)
}

// PoolBase starts the window of pool allocated ids, above any process id.
const PoolBase = 0x40000000

// RemoteAllocID is the reserved endpoint of every channel that allows
// concurrent callers.
const RemoteAllocID = 0x3fffffff

const (
	DefaultPoolCount = 1024
	DefaultFence     = 2 * time.Second
)

// PoolAllocated endpoints each get a fresh id from [Base, Base+Count).
// A released id isn't reused until Fence has elapsed so a late reply to
// its last call can't reach a new owner.
type PoolAllocated struct {
	Base  uint32
	Count uint32
	Fence time.Duration
}

func (k PoolAllocated) String() string {
	k = k.withDefaults()
	return fmt.Sprintf("pool %#x[%d] fence %v", k.Base, k.Count, k.Fence)
}

func (k PoolAllocated) withDefaults() PoolAllocated {
	if k.Base == 0 {
		k.Base = PoolBase
	}
	if k.Count == 0 {
		k.Count = DefaultPoolCount
	}
	if k.Fence == 0 {
		k.Fence = DefaultFence
	}
	return k
}

func (k PoolAllocated) newKeyer(clock Clock) keyer {
	return &pool{
		PoolAllocated: k.withDefaults(),
		clock:         clock,
		quarantine:    make(map[uint32]time.Time),
	}
}

type pool struct {
	PoolAllocated
	clock      Clock
	next       uint32
	quarantine map[uint32]time.Time
}

func (p *pool) key(owner uint32, inUse func(uint32) bool) (uint32, bool,
	error) {
	now := p.clock.Now()
	for i := uint32(0); i < p.Count; i++ {
		id := p.Base + (p.next+i)%p.Count
		if inUse(id) {
			continue
		}
		if until, found := p.quarantine[id]; found {
			if now.Before(until) {
				continue
			}
			delete(p.quarantine, id)
		}
		p.next = (p.next + i + 1) % p.Count
		return id, false, nil
	}
	return 0, false, ErrIDsExhausted
}

func (p *pool) release(id uint32) {
	p.quarantine[id] = p.clock.Now().Add(p.Fence)
}

// ByOwnerIdentity endpoints are keyed by their owner's id. A second
// registration by the same owner shares the endpoint.
type ByOwnerIdentity struct{}

func (ByOwnerIdentity) String() string { return "owner" }

func (ByOwnerIdentity) newKeyer(Clock) keyer { return byOwner{} }

type byOwner struct{}

func (byOwner) key(owner uint32, inUse func(uint32) bool) (uint32, bool,
	error) {
	if owner == RemoteAllocID {
		return 0, false, fmt.Errorf("%w: owner %#x is reserved",
			ErrIDsExhausted, owner)
	}
	return owner, inUse(owner), nil
}

func (byOwner) release(uint32) {}
