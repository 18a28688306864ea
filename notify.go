// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"

	"github.com/platinasystems/rpmsg/shm"
)

// Register is a core's shared notify word.
type Register interface {
	Load() uint32
	// Update replaces the bits under mask with those of val.
	Update(mask, val uint32)
}

// MMIO is a notify word accessed directly in shared memory.
type MMIO struct {
	Mem   *shm.Region
	Addr  uint32
	Order binary.ByteOrder
}

func (r *MMIO) Load() uint32 { return r.Mem.Load32(r.Addr, r.Order) }

func (r *MMIO) Update(mask, val uint32) {
	for {
		old := r.Mem.Load32(r.Addr, r.Order)
		if r.Mem.CompareAndSwap32(r.Addr, old, old&^mask|val&mask,
			r.Order) {
			return
		}
	}
}

// Syscon is a block of system control registers shared by several
// devices, addressed by offset.
type Syscon interface {
	ReadReg(offset uint32) uint32
	WriteReg(offset, v uint32)
}

// Regmap is a notify word behind a Syscon. The Syscon has no atomic
// update so read-modify-write is serialized here with a spin lock, which
// the ISR may take.
type Regmap struct {
	Syscon Syscon
	Offset uint32

	busy atomic.Bool
}

// Load is a single register read and needs no lock.
func (r *Regmap) Load() uint32 { return r.Syscon.ReadReg(r.Offset) }

func (r *Regmap) Update(mask, val uint32) {
	for !r.busy.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	defer r.busy.Store(false)
	v := r.Syscon.ReadReg(r.Offset)
	r.Syscon.WriteReg(r.Offset, v&^mask|val&mask)
}

// NotifyLayout names the bits of a core's notify word.
type NotifyLayout struct {
	// IntEnable enables notify interrupts in both directions.
	IntEnable uint32
	// Sync asks the remote to acknowledge the boot handshake.
	Sync uint32
	// ToRemote is the host's doorbell to the remote.
	ToRemote uint32
	// FromRemote is set by the remote when it has written to a ring.
	FromRemote uint32
}

// DefaultLayout gives each core its own byte of a shared notify word.
func DefaultLayout(id CoreID) NotifyLayout {
	shift := 8 * uint(id)
	return NotifyLayout{
		IntEnable:  0x1 << shift,
		Sync:       0x2 << shift,
		ToRemote:   0x4 << shift,
		FromRemote: 0x8 << shift,
	}
}

// HwSpinlock is a lock word shared with the remote CPUs. A nil
// *HwSpinlock is absent and never contends.
type HwSpinlock struct {
	Mem   *shm.Region
	Addr  uint32
	Order binary.ByteOrder
	// Owner is the non-zero value stored while the host holds the lock.
	Owner uint32
}

const isrSpins = 1000

func (l *HwSpinlock) owner() uint32 {
	if l.Owner == 0 {
		return 1
	}
	return l.Owner
}

func (l *HwSpinlock) TryLock() bool {
	if l == nil {
		return true
	}
	return l.Mem.CompareAndSwap32(l.Addr, 0, l.owner(), l.Order)
}

// Lock spins, yielding, until the lock is free.
func (l *HwSpinlock) Lock() {
	for !l.TryLock() {
		runtime.Gosched()
	}
}

// spin makes a bounded number of attempts for interrupt context.
func (l *HwSpinlock) spin() bool {
	for i := 0; i < isrSpins; i++ {
		if l.TryLock() {
			return true
		}
	}
	return false
}

func (l *HwSpinlock) Unlock() {
	if l == nil {
		return
	}
	l.Mem.CompareAndSwap32(l.Addr, l.owner(), 0, l.Order)
}
