// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wire

import (
	"math"
	"testing"

	"github.com/platinasystems/rpmsg/internal/test"
)

func TestHeaderRoundTrip(t *testing.T) {
	assert := test.Assert{TB: t}
	for _, h := range []Header{
		{},
		{1, 2, 3, 4, 5, 6, 7, 8},
		{
			math.MaxUint32, math.MaxUint32, math.MaxUint32,
			math.MaxUint32, math.MaxUint32, math.MaxUint32,
			math.MaxUint32, math.MaxUint32,
		},
		{ReplyID, 0, 0x80000000, 0x40000001, 0, 0x40000001, 8, 0xdeadbeef},
	} {
		var b [HeaderSize]byte
		assert.Nil(h.Encode(b[:]))
		got, err := DecodeHeader(b[:])
		assert.Nil(err)
		if got != h {
			t.Fatalf("%+v != %+v", got, h)
		}
	}
}

func TestHeaderIsBigEndian(t *testing.T) {
	assert := test.Assert{TB: t}
	h := Header{Program: 0x01020304, Context: 0xa0b0c0d0}
	b := h.Append(nil)
	assert.Bytes(b[:4], []byte{1, 2, 3, 4})
	assert.Bytes(b[28:], []byte{0xa0, 0xb0, 0xc0, 0xd0})
}

func TestDecodeShort(t *testing.T) {
	assert := test.Assert{TB: t}
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	assert.Error(err, ErrShort)
	var h Header
	assert.Error(h.Encode(make([]byte, 4)), ErrShort)
}

func TestUnmarshal(t *testing.T) {
	assert := test.Assert{TB: t}
	m := &Message{
		Header:  Header{Program: 201, Procedure: 7, TaskID: 3},
		Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	b := m.Marshal()
	assert.True(len(b) == HeaderSize+8)
	got, err := Unmarshal(b)
	assert.Nil(err)
	assert.Uint32(got.ParameterSize, 8)
	assert.Bytes(got.Payload, m.Payload)

	// parameter size larger than the buffer
	_, err = Unmarshal(b[:len(b)-1])
	assert.Error(err, ErrShort)
}

func TestReply(t *testing.T) {
	assert := test.Assert{TB: t}
	req := Header{Program: 300, Version: 1, Procedure: 9, TaskID: 0x40000002,
		SysPID: 0x40000002, Context: 77}
	m := NewReply(&req, StatusOK, []byte{0, 0, 0, 42})
	assert.True(m.IsReply())
	assert.Uint32(m.Context, 77)
	assert.Uint32(m.ParameterSize, uint32(len(m.Payload)))
	r, err := DecodeReply(m.Payload)
	assert.Nil(err)
	assert.Uint32(r.Tag, req.TaskID)
	assert.True(r.OK())
	assert.Bytes(r.Data, []byte{0, 0, 0, 42})

	_, err = DecodeReply([]byte{1, 2, 3})
	assert.Error(err, ErrShort)
}

func TestSwapBlock(t *testing.T) {
	assert := test.Assert{TB: t}
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dst := make([]byte, len(src))
	n, err := SwapBlock(dst, src)
	assert.Nil(err)
	assert.True(n == 8)
	assert.Bytes(dst, []byte{4, 3, 2, 1, 8, 7, 6, 5})

	// in place
	_, err = SwapBlock(src, src)
	assert.Nil(err)
	assert.Bytes(src, dst)

	_, err = SwapBlock(dst, src[:6])
	assert.Error(err, ErrUnaligned)
	_, err = SwapBlock(dst[:4], src)
	assert.Error(err, ErrShort)
}

type window struct {
	x, y int32
	name []byte
	on   bool
}

func (w *window) MarshalRPC(e *Encoder) {
	e.Int32(w.x)
	e.Int32(w.y)
	e.Uint32(uint32(len(w.name)))
	e.Bytes(w.name)
	e.Bool(w.on)
}

func (w *window) UnmarshalRPC(d *Decoder) error {
	w.x = d.Int32()
	w.y = d.Int32()
	w.name = d.Bytes(int(d.Uint32()))
	w.on = d.Bool()
	return d.Err()
}

func TestCodec(t *testing.T) {
	assert := test.Assert{TB: t}
	in := &window{x: -1, y: 720, name: []byte("osd"), on: true}
	b := Marshal(in)
	assert.True(len(b)%4 == 0)
	var out window
	assert.Nil(out.UnmarshalRPC(NewDecoder(b)))
	assert.True(out.x == -1 && out.y == 720 && out.on)
	assert.Equal(string(out.name), "osd")

	d := NewDecoder(b[:6])
	d.Uint32()
	d.Uint32()
	assert.Error(d.Err(), ErrShort)
	assert.True(d.Uint32() == 0)
}
