// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpmsg

import (
	"errors"
	"fmt"

	"github.com/platinasystems/rpmsg/ring"
)

var (
	ErrTimeout          = errors.New("rpmsg: timeout")
	ErrCoreDisabled     = errors.New("rpmsg: core disabled")
	ErrCoreDisconnected = errors.New("rpmsg: core disconnected")
	ErrNoEndpoint       = errors.New("rpmsg: no such endpoint")
	ErrNoChannel        = errors.New("rpmsg: no such channel")
	ErrNoCore           = errors.New("rpmsg: no such core")
	ErrNoMailbox        = errors.New("rpmsg: core has no mailbox")
	ErrIDsExhausted     = errors.New("rpmsg: endpoint ids exhausted")
	ErrClosed           = errors.New("rpmsg: transport closed")

	ErrOverflow  = ring.ErrOverflow
	ErrUnderflow = ring.ErrUnderflow
)

// CorruptionError describes a received message inconsistent with the ring
// contents. The drain worker logs, counts and drops these; callers never
// see them.
type CorruptionError struct {
	Channel string
	Need    uint32
	Have    uint32
	Err     error
}

func (e *CorruptionError) Error() string {
	s := fmt.Sprintf("%s: corrupt message: need %d, have %d",
		e.Channel, e.Need, e.Have)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
