// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package shm

import (
	"fmt"
	"os"

	"periph.io/x/host/v3/pmem"
)

// MapPhys maps size bytes of physical memory at phys through /dev/mem.
func MapPhys(phys uint32, size int) (*Region, error) {
	pagesize := uint64(os.Getpagesize())
	start := uint64(phys) &^ (pagesize - 1)
	skew := int(uint64(phys) - start)
	v, err := pmem.Map(start, size+skew)
	if err != nil {
		return nil, fmt.Errorf("pmem %#x[%d]: %w", start, size+skew, err)
	}
	b := []byte(v.Slice)
	return FromBytes(phys, b[skew:skew+size:skew+size], v.Close), nil
}
