// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

//go:build linux

// Package uio delivers a remote core's notify interrupt from a Linux
// userspace I/O device and maps the device's memory windows.
package uio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg/shm"
	"golang.org/x/sys/unix"
)

// pollPeriod bounds how long Run takes to notice its context is done.
const pollPeriod = 100 * time.Millisecond

// Line is the interrupt of a UIO device. Reads return the running count
// of interrupts; writing 1 unmasks it again.
type Line struct {
	Name string

	fd    int
	count uint32
	// Missed counts interrupts coalesced by the kernel before a read.
	Missed uint64
}

// Open a device such as /dev/uio0.
func Open(dev string) (*Line, error) {
	fd, err := unix.Open(dev, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dev, err)
	}
	return &Line{Name: filepath.Base(dev), fd: fd}, nil
}

func (l *Line) Close() error { return unix.Close(l.fd) }

func (l *Line) Unmask() error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 1)
	if _, err := unix.Write(l.fd, b[:]); err != nil {
		return fmt.Errorf("%s: unmask: %w", l.Name, err)
	}
	return nil
}

// Wait for the next interrupt and return the total count.
func (l *Line) Wait() (uint32, error) {
	var b [4]byte
	n, err := unix.Read(l.fd, b[:])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", l.Name, err)
	}
	if n != len(b) {
		return 0, fmt.Errorf("%s: short read %d", l.Name, n)
	}
	count := binary.NativeEndian.Uint32(b[:])
	if l.count != 0 && count-l.count > 1 {
		l.Missed += uint64(count - l.count - 1)
	}
	l.count = count
	return count, nil
}

// Run isr for each interrupt until ctx is done, unmasking before each
// wait.
//
//	go line.Run(ctx, func() { t.Interrupt(rpmsg.Video) })
func (l *Line) Run(ctx context.Context, isr func()) error {
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	for {
		if err := l.Unmask(); err != nil {
			return err
		}
		for {
			if err := ctx.Err(); err != nil {
				return nil
			}
			n, err := unix.Poll(fds, int(pollPeriod/time.Millisecond))
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: poll: %w", l.Name, err)
			}
			if n > 0 {
				break
			}
		}
		if _, err := l.Wait(); err != nil {
			return err
		}
		isr()
		if l.Missed > 0 {
			log.Printf("debug", "%s: %d missed", l.Name, l.Missed)
		}
	}
}

// Map the index-th memory window of a UIO device. The kernel exposes
// window i at page offset i of the device.
func Map(dev string, index int, phys uint32, size int) (*shm.Region, error) {
	offset := int64(index) * int64(os.Getpagesize())
	return shm.Map(dev, offset, phys, size)
}

// MapInfo reads the address and size of a window from sysfs.
func MapInfo(dev string, index int) (addr, size uint64, err error) {
	dir := fmt.Sprintf("/sys/class/uio/%s/maps/map%d", filepath.Base(dev),
		index)
	if addr, err = readHex(filepath.Join(dir, "addr")); err != nil {
		return
	}
	size, err = readHex(filepath.Join(dir, "size"))
	return
}

func readHex(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 0, 64)
}
