// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package config

import "github.com/platinasystems/rpmsg/shm"

// mapRegion of /dev/mem without an offset is the physical memory at the
// region's address.
func mapRegion(r Region) (*shm.Region, error) {
	if r.Path == shm.DevMem && r.Offset == 0 {
		return shm.MapPhys(r.Phys, int(r.Size))
	}
	return shm.Map(r.Path, r.Offset, r.Phys, int(r.Size))
}
