// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"encoding/binary"
	"testing"

	"github.com/platinasystems/rpmsg/internal/test"
)

func TestWordOrder(t *testing.T) {
	assert := test.Assert{TB: t}
	r := New(0x1000, 64)
	r.Store32(0x1000, 0x01020304, binary.BigEndian)
	assert.Bytes(r.Bytes(0x1000, 4), []byte{1, 2, 3, 4})
	assert.Uint32(r.Load32(0x1000, binary.BigEndian), 0x01020304)
	assert.Uint32(r.Load32(0x1000, binary.LittleEndian), 0x04030201)

	r.Store32(0x1004, 0x01020304, binary.LittleEndian)
	assert.Bytes(r.Bytes(0x1004, 4), []byte{4, 3, 2, 1})
}

func TestCompareAndSwap(t *testing.T) {
	assert := test.Assert{TB: t}
	r := New(0, 8)
	assert.True(r.CompareAndSwap32(4, 0, 1, binary.BigEndian))
	assert.False(r.CompareAndSwap32(4, 0, 1, binary.BigEndian))
	assert.Uint32(r.Load32(4, binary.BigEndian), 1)
}

func TestBounds(t *testing.T) {
	assert := test.Assert{TB: t}
	r := New(0x100, 16)
	assert.True(r.Contains(0x100, 16))
	assert.False(r.Contains(0x100, 17))
	assert.False(r.Contains(0xfc, 4))
	assert.True(r.Size() == 16)

	defer func() {
		assert.True(recover() != nil)
	}()
	r.Bytes(0x10c, 8)
}
