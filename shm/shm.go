// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package shm provides memory shared with a remote core, addressed by the
// physical (bus) address both sides agree on.
package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

type Region struct {
	// Phys is the bus address of the first byte.
	Phys uint32

	b     []byte
	unmap func() error
}

// New allocates a word aligned region in process memory. It's used by
// loopback peers and tests in place of a mapping of device memory.
func New(phys uint32, size int) *Region {
	words := make([]uint64, (size+7)/8)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	return &Region{Phys: phys, b: b[:size:size]}
}

// FromBytes wraps memory mapped elsewhere; b must be word aligned.
func FromBytes(phys uint32, b []byte, unmap func() error) *Region {
	return &Region{Phys: phys, b: b, unmap: unmap}
}

func (r *Region) Size() uint32 { return uint32(len(r.b)) }

// Limit is the bus address just beyond the region.
func (r *Region) Limit() uint64 { return uint64(r.Phys) + uint64(len(r.b)) }

// Contains reports whether [addr, addr+n) lies within the region.
func (r *Region) Contains(addr, n uint32) bool {
	return addr >= r.Phys && uint64(addr)+uint64(n) <= r.Limit()
}

func (r *Region) offset(addr, n uint32) uint32 {
	if !r.Contains(addr, n) {
		panic(fmt.Errorf("shm: %#x[%d] outside %#x[%d]",
			addr, n, r.Phys, len(r.b)))
	}
	return addr - r.Phys
}

// Bytes returns the n bytes at addr; the slice aliases shared memory.
func (r *Region) Bytes(addr, n uint32) []byte {
	o := r.offset(addr, n)
	return r.b[o : o+n : o+n]
}

func (r *Region) word(addr uint32) *uint32 {
	if addr&3 != 0 {
		panic(fmt.Errorf("shm: unaligned word %#x", addr))
	}
	o := r.offset(addr, 4)
	return (*uint32)(unsafe.Pointer(&r.b[o]))
}

func toNative(v uint32, order binary.ByteOrder) uint32 {
	var b [4]byte
	order.PutUint32(b[:], v)
	return binary.NativeEndian.Uint32(b[:])
}

func fromNative(v uint32, order binary.ByteOrder) uint32 {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], v)
	return order.Uint32(b[:])
}

// Load32 atomically reads the word at addr stored in the given order.
func (r *Region) Load32(addr uint32, order binary.ByteOrder) uint32 {
	return fromNative(atomic.LoadUint32(r.word(addr)), order)
}

// Store32 atomically writes the word at addr in the given order.
func (r *Region) Store32(addr uint32, v uint32, order binary.ByteOrder) {
	atomic.StoreUint32(r.word(addr), toNative(v, order))
}

func (r *Region) CompareAndSwap32(addr uint32, old, new uint32,
	order binary.ByteOrder) bool {
	return atomic.CompareAndSwapUint32(r.word(addr),
		toNative(old, order), toNative(new, order))
}

func (r *Region) String() string {
	return fmt.Sprintf("%#08x-%#08x", r.Phys, r.Limit())
}

func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	r.b = nil
	return err
}
