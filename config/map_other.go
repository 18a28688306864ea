// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

//go:build !linux

package config

import (
	"fmt"

	"github.com/platinasystems/rpmsg/shm"
)

func mapRegion(r Region) (*shm.Region, error) {
	return nil, fmt.Errorf("%s: can't map on this platform", r.Path)
}
