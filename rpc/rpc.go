// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package rpc makes typed remote procedure calls through an endpoint or
// the scratch register path.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinasystems/rpmsg/wire"
)

var (
	ErrRemoteRejected = errors.New("rpc: remote rejected")
	ErrBadReply       = errors.New("rpc: bad reply")
)

// Caller sends a request and returns its reply message. It's implemented
// by *rpmsg.Endpoint and *Scratch. TaskID is the tag its replies carry.
type Caller interface {
	Call(ctx context.Context, program, procedure uint32,
		payload []byte) (*wire.Message, error)
	TaskID() uint32
}

// Validator is implemented by requests that can't always be marshaled.
type Validator interface {
	Validate() error
}

// RemoteError is a reply with a status other than wire.StatusOK.
type RemoteError struct {
	Program   uint32
	Procedure uint32
	Status    uint32
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %d.%d: remote status %#x", e.Program,
		e.Procedure, e.Status)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// Client calls the procedures of one remote program.
type Client struct {
	Caller  Caller
	Program uint32
}

// Invoke a procedure with a raw payload and return the reply data.
func (c *Client) Invoke(ctx context.Context, procedure uint32,
	payload []byte) ([]byte, error) {
	m, err := c.Caller.Call(ctx, c.Program, procedure, payload)
	if err != nil {
		return nil, err
	}
	if !m.IsReply() {
		return nil, fmt.Errorf("%w: %s", ErrBadReply, &m.Header)
	}
	r, err := wire.DecodeReply(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	if task := c.Caller.TaskID(); r.Tag != task {
		return nil, fmt.Errorf("%w: tag %#x, want %#x", ErrBadReply,
			r.Tag, task)
	}
	if !r.OK() {
		return nil, &RemoteError{
			Program:   c.Program,
			Procedure: procedure,
			Status:    r.Status,
		}
	}
	return r.Data, nil
}

// Call a procedure with a typed request and decode its typed reply.
//
//	format, err := rpc.Call[DisplayFormat](ctx, client, proc, req)
func Call[Resp any, PResp interface {
	*Resp
	wire.Unmarshaler
}](ctx context.Context, c *Client, procedure uint32,
	req wire.Marshaler) (*Resp, error) {
	if v, ok := req.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	data, err := c.Invoke(ctx, procedure, wire.Marshal(req))
	if err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err = PResp(resp).UnmarshalRPC(wire.NewDecoder(data)); err != nil {
		return nil, fmt.Errorf("%w: %d.%d: %v", ErrBadReply, c.Program,
			procedure, err)
	}
	return resp, nil
}

// Empty is a request or reply without data.
type Empty struct{}

func (*Empty) MarshalRPC(*wire.Encoder)         {}
func (*Empty) UnmarshalRPC(*wire.Decoder) error { return nil }
