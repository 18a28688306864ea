// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/platinasystems/rpmsg/internal/test"
)

func TestMap(t *testing.T) {
	assert := test.Assert{TB: t}
	page := os.Getpagesize()
	path := filepath.Join(t.TempDir(), "mem")
	assert.Nil(os.WriteFile(path, make([]byte, 2*page), 0600))

	offset := int64(page + 8)
	r, err := Map(path, offset, 0x9e000008, 64)
	assert.Nil(err)
	assert.Match(r.String(), "0x9e000008")
	r.Store32(0x9e000008, 0xdeadbeef, binary.BigEndian)
	r.Store32(0x9e000044, 1, binary.BigEndian)
	assert.Nil(r.Close())

	b, err := os.ReadFile(path)
	assert.Nil(err)
	assert.Bytes(b[offset:offset+4], []byte{0xde, 0xad, 0xbe, 0xef})
	assert.Bytes(b[offset+60:offset+64], []byte{0, 0, 0, 1})

	_, err = Map(path, offset+2, 0, 64)
	assert.Match(err.Error(), "unaligned")
	_, err = Map(path+".missing", 0, 0, 64)
	assert.Error(err, os.ErrNotExist)
}
