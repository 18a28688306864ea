// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"context"

	"github.com/platinasystems/log"
	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/uio"
)

// listen for the notify interrupt shared by all cores on a UIO device.
// Each core's interrupt handler checks its own bit.
func listen(dev string, t *rpmsg.Transport) (func() error, error) {
	line, err := uio.Open(dev)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := line.Run(ctx, func() {
			for _, c := range t.Cores() {
				t.Interrupt(c.ID)
			}
		})
		if err != nil {
			log.Print("err", err)
		}
	}()
	return func() error {
		cancel()
		<-done
		return line.Close()
	}, nil
}
