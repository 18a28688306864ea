// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package ring provides byte rings in memory shared with a remote core.
//
// Pointers are bus addresses within [base, limit). The ring holds at most
// capacity-1 bytes so that equal read and write pointers always mean empty.
// Each pointer has one owner: the producer advances the write pointer and
// each consumer advances its own read cursor.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/platinasystems/rpmsg/shm"
)

var (
	ErrOverflow   = errors.New("ring: overflow")
	ErrUnderflow  = errors.New("ring: underflow")
	ErrOwned      = errors.New("ring: pointer already owned")
	ErrBadInfo    = errors.New("ring: bad header")
	ErrBadPointer = errors.New("ring: pointer out of bounds")
)

// Used is the number of valid bytes between rp and wp.
func Used(base, limit, rp, wp uint32) uint32 {
	if wp >= rp {
		return wp - rp
	}
	return (limit - base) - (rp - wp)
}

// Free is the number of bytes that may be written at wp without reaching
// rp.
func Free(base, limit, rp, wp uint32) uint32 {
	return (limit - base) - Used(base, limit, rp, wp) - 1
}

// Advance ptr by n <= limit-base bytes, wrapping at limit.
func Advance(base, limit, ptr, n uint32) uint32 {
	p := uint64(ptr) + uint64(n)
	if p >= uint64(limit) {
		p -= uint64(limit - base)
	}
	return uint32(p)
}

// MoveBack is the inverse of Advance.
func MoveBack(base, limit, ptr, n uint32) uint32 {
	if ptr-base >= n {
		return ptr - n
	}
	return limit - (n - (ptr - base))
}

// Shared header layout, one word each.
const (
	offMagic   = 0
	offBegin   = 4
	offSize    = 8
	offID      = 12
	offWrite   = 16
	offReaders = 20
	offRead    = 32

	InfoSize   = offRead + 4*MaxReaders
	MaxReaders = 4
	Magic      = 0x52494e47
)

type Ring struct {
	mem   *shm.Region
	info  uint32
	order binary.ByteOrder

	base, limit uint32
	id          uint32
	readers     int

	mu      sync.Mutex
	writer  bool
	claimed [MaxReaders]bool
}

// Init writes a new, empty ring header at info describing size bytes at
// begin with the given number of read cursors.
func Init(mem *shm.Region, info, begin, size, id uint32, readers int,
	order binary.ByteOrder) (*Ring, error) {
	if readers < 1 || readers > MaxReaders {
		return nil, fmt.Errorf("%w: %d readers", ErrBadInfo, readers)
	}
	if err := check(mem, info, begin, size); err != nil {
		return nil, err
	}
	if info < begin+size && begin < info+InfoSize {
		return nil, fmt.Errorf("%w: %#x overlaps data", ErrBadInfo, info)
	}
	r := &Ring{
		mem:     mem,
		info:    info,
		order:   order,
		base:    begin,
		limit:   begin + size,
		id:      id,
		readers: readers,
	}
	r.store(offMagic, 0)
	r.store(offBegin, begin)
	r.store(offSize, size)
	r.store(offID, id)
	r.store(offReaders, uint32(readers))
	for i := 0; i < MaxReaders; i++ {
		r.store(offRead+4*uint32(i), begin)
	}
	r.store(offWrite, begin)
	r.store(offMagic, Magic)
	return r, nil
}

// Attach to a ring header initialized by either side.
func Attach(mem *shm.Region, info uint32, order binary.ByteOrder) (*Ring, error) {
	if !mem.Contains(info, InfoSize) || info&3 != 0 {
		return nil, fmt.Errorf("%w: %#x outside %s", ErrBadInfo, info, mem)
	}
	r := &Ring{mem: mem, info: info, order: order}
	if magic := r.load(offMagic); magic != Magic {
		return nil, fmt.Errorf("%w: %#x: magic %#x", ErrBadInfo, info, magic)
	}
	begin, size := r.load(offBegin), r.load(offSize)
	if err := check(mem, info, begin, size); err != nil {
		return nil, err
	}
	r.base, r.limit = begin, begin+size
	r.id = r.load(offID)
	r.readers = int(r.load(offReaders))
	if r.readers < 1 || r.readers > MaxReaders {
		return nil, fmt.Errorf("%w: %d readers", ErrBadInfo, r.readers)
	}
	if _, _, err := r.pointers(); err != nil {
		return nil, err
	}
	return r, nil
}

func check(mem *shm.Region, info, begin, size uint32) error {
	switch {
	case info&3 != 0 || !mem.Contains(info, InfoSize):
		return fmt.Errorf("%w: header %#x outside %s", ErrBadInfo, info, mem)
	case size < 2:
		return fmt.Errorf("%w: size %d", ErrBadInfo, size)
	case uint64(begin)+uint64(size) >= 1<<32 || !mem.Contains(begin, size):
		return fmt.Errorf("%w: %#x[%d] outside %s", ErrBadInfo, begin,
			size, mem)
	}
	return nil
}

func (r *Ring) load(off uint32) uint32     { return r.mem.Load32(r.info+off, r.order) }
func (r *Ring) store(off uint32, v uint32) { r.mem.Store32(r.info+off, v, r.order) }

func (r *Ring) Base() uint32     { return r.base }
func (r *Ring) Limit() uint32    { return r.limit }
func (r *Ring) Capacity() uint32 { return r.limit - r.base }
func (r *Ring) ID() uint32       { return r.id }
func (r *Ring) Readers() int     { return r.readers }
func (r *Ring) Info() uint32     { return r.info }

func (r *Ring) valid(p uint32) bool { return p >= r.base && p < r.limit }

func (r *Ring) wp() (uint32, error) {
	wp := r.load(offWrite)
	if !r.valid(wp) {
		return wp, fmt.Errorf("%w: write %#x", ErrBadPointer, wp)
	}
	return wp, nil
}

func (r *Ring) rp(i int) (uint32, error) {
	rp := r.load(offRead + 4*uint32(i))
	if !r.valid(rp) {
		return rp, fmt.Errorf("%w: read[%d] %#x", ErrBadPointer, i, rp)
	}
	return rp, nil
}

// pointers returns the write pointer and the read pointer of the cursor
// furthest behind it.
func (r *Ring) pointers() (wp, slowest uint32, err error) {
	if wp, err = r.wp(); err != nil {
		return
	}
	used := uint32(0)
	slowest = wp
	for i := 0; i < r.readers; i++ {
		var rp uint32
		if rp, err = r.rp(i); err != nil {
			return
		}
		if u := Used(r.base, r.limit, rp, wp); u > used {
			used, slowest = u, rp
		}
	}
	return
}

func (r *Ring) copyIn(ptr uint32, p []byte) {
	n := uint32(len(p))
	if first := r.limit - ptr; n > first {
		copy(r.mem.Bytes(ptr, first), p[:first])
		copy(r.mem.Bytes(r.base, n-first), p[first:])
	} else if n > 0 {
		copy(r.mem.Bytes(ptr, n), p)
	}
}

func (r *Ring) copyOut(p []byte, ptr uint32) {
	n := uint32(len(p))
	if first := r.limit - ptr; n > first {
		copy(p[:first], r.mem.Bytes(ptr, first))
		copy(p[first:], r.mem.Bytes(r.base, n-first))
	} else if n > 0 {
		copy(p, r.mem.Bytes(ptr, n))
	}
}

// Writer claims ownership of the write pointer.
func (r *Ring) Writer() (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer {
		return nil, ErrOwned
	}
	r.writer = true
	return &Writer{r}, nil
}

// Reader claims ownership of read cursor i.
func (r *Ring) Reader(i int) (*Reader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= r.readers {
		return nil, fmt.Errorf("%w: no reader %d", ErrBadInfo, i)
	}
	if r.claimed[i] {
		return nil, ErrOwned
	}
	r.claimed[i] = true
	return &Reader{r: r, i: i}, nil
}

// State is a snapshot of the shared header.
type State struct {
	ID, Base, Size, Write uint32
	Read                  []uint32
}

func (r *Ring) State() State {
	s := State{
		ID:    r.id,
		Base:  r.base,
		Size:  r.limit - r.base,
		Write: r.load(offWrite),
		Read:  make([]uint32, r.readers),
	}
	for i := range s.Read {
		s.Read[i] = r.load(offRead + 4*uint32(i))
	}
	return s
}

func (s State) String() string {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, "id %d base %#x size %d wp %#x", s.ID, s.Base,
		s.Size, s.Write)
	limit := s.Base + s.Size
	for i, rp := range s.Read {
		if rp < s.Base || rp >= limit || s.Write < s.Base || s.Write >= limit {
			fmt.Fprintf(buf, " rp[%d] %#x (invalid)", i, rp)
			continue
		}
		fmt.Fprintf(buf, " rp[%d] %#x used %d free %d", i, rp,
			Used(s.Base, limit, rp, s.Write),
			Free(s.Base, limit, rp, s.Write))
	}
	return buf.String()
}
