// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

//go:build linux

package uio

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinasystems/rpmsg/internal/test"
	"golang.org/x/sys/unix"
)

// socketpair stands in for the device: the test side writes interrupt
// counts and reads unmasks.
func socketpair(t *testing.T) (*Line, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })
	return &Line{Name: "uio-test", fd: fds[0]}, fds[1]
}

func word(v uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, v)
	return b
}

func TestRun(t *testing.T) {
	assert := test.Assert{TB: t}
	l, dev := socketpair(t)
	defer l.Close()
	var isrs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, func() { isrs.Add(1) }) }()

	unmasked := func() {
		b := make([]byte, 4)
		n, err := unix.Read(dev, b)
		assert.Nil(err)
		assert.True(n == 4)
		assert.Uint32(binary.NativeEndian.Uint32(b), 1)
	}
	unmasked()
	for i, count := range []uint32{1, 2, 5} {
		_, err := unix.Write(dev, word(count))
		assert.Nil(err)
		unmasked()
		want := int32(i + 1)
		assert.Eventually(time.Second, func() bool {
			return isrs.Load() == want
		})
	}
	cancel()
	assert.Nil(<-done)
	assert.True(l.Missed == 2)
}

func TestShortRead(t *testing.T) {
	assert := test.Assert{TB: t}
	l, dev := socketpair(t)
	defer l.Close()
	_, err := unix.Write(dev, []byte{1, 2})
	assert.Nil(err)
	_, err = l.Wait()
	assert.Match(err.Error(), "short read 2")
}

func TestOpen(t *testing.T) {
	assert := test.Assert{TB: t}
	_, err := Open(filepath.Join(t.TempDir(), "uio9"))
	assert.Error(err, os.ErrNotExist)
	_, _, err = MapInfo("/dev/uio-does-not-exist", 0)
	assert.Error(err, os.ErrNotExist)
}

func TestReadHex(t *testing.T) {
	assert := test.Assert{TB: t}
	path := filepath.Join(t.TempDir(), "size")
	assert.Nil(os.WriteFile(path, []byte("0x00010000\n"), 0644))
	v, err := readHex(path)
	assert.Nil(err)
	assert.True(v == 0x10000)
}
