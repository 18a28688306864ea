// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const DevMem = "/dev/mem"

// Map size bytes of the file at offset, e.g. /dev/mem at the physical
// address of the shared area or a UIO map. The mapping has to start on a
// page so the region begins offset modulo page size into it.
func Map(path string, offset int64, phys uint32, size int) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer unix.Close(fd)

	pagesize := int64(unix.Getpagesize())
	start := offset &^ (pagesize - 1)
	skew := int(offset - start)
	data, err := unix.Mmap(fd, start, size+skew,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%s: mmap %#x[%d]: %w", path, start,
			size+skew, err)
	}
	if skew&3 != 0 {
		unix.Munmap(data)
		return nil, fmt.Errorf("%s: %#x: unaligned", path, offset)
	}
	return FromBytes(phys, data[skew:skew+size:skew+size], func() error {
		return unix.Munmap(data)
	}), nil
}
