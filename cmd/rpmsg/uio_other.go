// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

//go:build !linux

package rpmsg

import (
	"fmt"

	"github.com/platinasystems/rpmsg"
)

func listen(dev string, t *rpmsg.Transport) (func() error, error) {
	return nil, fmt.Errorf("%s: uio isn't available", dev)
}
