// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package ring

import "fmt"

// Writer owns a ring's write pointer.
type Writer struct {
	r *Ring
}

func (w *Writer) Ring() *Ring { return w.r }

// Free is the space available to the writer, limited by the slowest read
// cursor. Corrupt pointers leave no space.
func (w *Writer) Free() uint32 {
	wp, rp, err := w.r.pointers()
	if err != nil {
		return 0
	}
	return Free(w.r.base, w.r.limit, rp, wp)
}

// Write all of p or nothing.
func (w *Writer) Write(p []byte) error {
	r := w.r
	wp, rp, err := r.pointers()
	if err != nil {
		return err
	}
	n := uint32(len(p))
	if free := Free(r.base, r.limit, rp, wp); uint64(len(p)) > uint64(free) {
		return fmt.Errorf("%w: %d > %d", ErrOverflow, len(p), free)
	}
	r.copyIn(wp, p)
	// Publish data before the pointer.
	r.store(offWrite, Advance(r.base, r.limit, wp, n))
	return nil
}

func (w *Writer) Pointer() uint32 { return w.r.load(offWrite) }

// Reader owns one read cursor of a ring.
type Reader struct {
	r *Ring
	i int
}

func (rd *Reader) Ring() *Ring { return rd.r }
func (rd *Reader) Cursor() int { return rd.i }

func (rd *Reader) pointers() (rp, wp uint32, err error) {
	if wp, err = rd.r.wp(); err != nil {
		return
	}
	rp, err = rd.r.rp(rd.i)
	return
}

// Used is the number of bytes available to this cursor. Corrupt pointers
// report none.
func (rd *Reader) Used() uint32 {
	rp, wp, err := rd.pointers()
	if err != nil {
		return 0
	}
	return Used(rd.r.base, rd.r.limit, rp, wp)
}

// Empty is true when the cursor has caught up with the writer.
func (rd *Reader) Empty() bool {
	return rd.r.load(offWrite) == rd.r.load(offRead+4*uint32(rd.i))
}

// Peek copies len(p) bytes without consuming them.
func (rd *Reader) Peek(p []byte) error {
	rp, _, err := rd.check(uint32(len(p)))
	if err != nil {
		return err
	}
	rd.r.copyOut(p, rp)
	return nil
}

// Read copies and consumes len(p) bytes.
func (rd *Reader) Read(p []byte) error {
	rp, _, err := rd.check(uint32(len(p)))
	if err != nil {
		return err
	}
	rd.r.copyOut(p, rp)
	rd.set(Advance(rd.r.base, rd.r.limit, rp, uint32(len(p))))
	return nil
}

// Skip consumes n bytes without copying them.
func (rd *Reader) Skip(n uint32) error {
	rp, _, err := rd.check(n)
	if err != nil {
		return err
	}
	rd.set(Advance(rd.r.base, rd.r.limit, rp, n))
	return nil
}

// MoveBack un-consumes n bytes, e.g. a header read before the full
// message size was known.
func (rd *Reader) MoveBack(n uint32) error {
	rp, wp, err := rd.pointers()
	if err != nil {
		return err
	}
	if free := Free(rd.r.base, rd.r.limit, rp, wp); n > free {
		return fmt.Errorf("%w: move back %d > %d", ErrOverflow, n, free)
	}
	rd.set(MoveBack(rd.r.base, rd.r.limit, rp, n))
	return nil
}

// Discard everything available, returning the number of bytes dropped.
// If the write pointer itself is corrupt, the cursor is reset to base.
func (rd *Reader) Discard() uint32 {
	rp, wp, err := rd.pointers()
	if err != nil {
		if wp, err = rd.r.wp(); err != nil {
			rd.set(rd.r.base)
			return 0
		}
		rd.set(wp)
		return 0
	}
	rd.set(wp)
	return Used(rd.r.base, rd.r.limit, rp, wp)
}

func (rd *Reader) Pointer() uint32 { return rd.r.load(offRead + 4*uint32(rd.i)) }

func (rd *Reader) check(n uint32) (rp, wp uint32, err error) {
	if rp, wp, err = rd.pointers(); err != nil {
		return
	}
	if used := Used(rd.r.base, rd.r.limit, rp, wp); n > used {
		err = fmt.Errorf("%w: %d > %d", ErrUnderflow, n, used)
	}
	return
}

func (rd *Reader) set(p uint32) { rd.r.store(offRead+4*uint32(rd.i), p) }
