// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wire

// Marshaler is implemented by typed request payloads.
type Marshaler interface {
	MarshalRPC(e *Encoder)
}

// Unmarshaler is implemented by typed reply payloads.
type Unmarshaler interface {
	UnmarshalRPC(d *Decoder) error
}

// Encoder appends big-endian words to a payload.
type Encoder struct {
	b []byte
}

func (e *Encoder) Uint32(v uint32) {
	e.b = be.AppendUint32(e.b, v)
}

func (e *Encoder) Int32(v int32) { e.Uint32(uint32(v)) }

func (e *Encoder) Bool(v bool) {
	if v {
		e.Uint32(1)
	} else {
		e.Uint32(0)
	}
}

// Bytes appends p zero padded to a word boundary.
func (e *Encoder) Bytes(p []byte) {
	e.b = append(e.b, p...)
	for len(e.b)%4 != 0 {
		e.b = append(e.b, 0)
	}
}

func (e *Encoder) Data() []byte { return e.b }

// Marshal runs m through a fresh Encoder.
func Marshal(m Marshaler) []byte {
	if m == nil {
		return nil
	}
	var e Encoder
	m.MarshalRPC(&e)
	return e.b
}

// Decoder consumes big-endian words from a payload. The first short read
// sticks; following reads return zero.
type Decoder struct {
	b   []byte
	err error
}

func NewDecoder(b []byte) *Decoder { return &Decoder{b: b} }

func (d *Decoder) Uint32() (v uint32) {
	if d.err != nil {
		return
	}
	if len(d.b) < 4 {
		d.err = ErrShort
		return
	}
	v = be.Uint32(d.b)
	d.b = d.b[4:]
	return
}

func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }

func (d *Decoder) Bool() bool { return d.Uint32() != 0 }

// Bytes returns the next n bytes and skips their word padding.
func (d *Decoder) Bytes(n int) (p []byte) {
	if d.err != nil {
		return
	}
	padded := (n + 3) &^ 3
	if n < 0 || len(d.b) < padded {
		d.err = ErrShort
		return
	}
	p = d.b[:n]
	d.b = d.b[padded:]
	return
}

func (d *Decoder) Len() int   { return len(d.b) }
func (d *Decoder) Err() error { return d.err }
