// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpc

import (
	"context"
	"fmt"

	"github.com/platinasystems/rpmsg/wire"
)

// Remote programs.
const (
	AudioProgram uint32 = 201
	VideoProgram uint32 = 300
)

// Video procedures.
const (
	ConfigWindowProc uint32 = iota + 0x20
	QueryDisplayFormatProc
	SendEDIDProc
)

// Audio procedures.
const (
	CreateAgentProc uint32 = iota + 0x10
	DestroyAgentProc
	SetFormatProc
)

// Window places a plane on a display.
type Window struct {
	Plane         uint32
	X, Y          uint32
	Width, Height uint32
	Zorder        uint32
	Enable        bool
}

func (w *Window) MarshalRPC(e *wire.Encoder) {
	e.Uint32(w.Plane)
	e.Uint32(w.X)
	e.Uint32(w.Y)
	e.Uint32(w.Width)
	e.Uint32(w.Height)
	e.Uint32(w.Zorder)
	e.Bool(w.Enable)
}

func (w *Window) UnmarshalRPC(d *wire.Decoder) error {
	w.Plane = d.Uint32()
	w.X = d.Uint32()
	w.Y = d.Uint32()
	w.Width = d.Uint32()
	w.Height = d.Uint32()
	w.Zorder = d.Uint32()
	w.Enable = d.Bool()
	return d.Err()
}

func ConfigWindow(ctx context.Context, c *Client, w *Window) error {
	_, err := Call[Empty](ctx, c, ConfigWindowProc, w)
	return err
}

type Port uint32

func (p Port) MarshalRPC(e *wire.Encoder) { e.Uint32(uint32(p)) }

type DisplayFormat struct {
	Mode          uint32
	Width, Height uint32
	// MilliHz is the refresh rate in thousandths.
	MilliHz    uint32
	Interlaced bool
}

func (f *DisplayFormat) UnmarshalRPC(d *wire.Decoder) error {
	f.Mode = d.Uint32()
	f.Width = d.Uint32()
	f.Height = d.Uint32()
	f.MilliHz = d.Uint32()
	f.Interlaced = d.Bool()
	return d.Err()
}

func (f *DisplayFormat) MarshalRPC(e *wire.Encoder) {
	e.Uint32(f.Mode)
	e.Uint32(f.Width)
	e.Uint32(f.Height)
	e.Uint32(f.MilliHz)
	e.Bool(f.Interlaced)
}

func (f *DisplayFormat) String() string {
	scan := "p"
	if f.Interlaced {
		scan = "i"
	}
	return fmt.Sprintf("%dx%d%s@%d.%03d", f.Width, f.Height, scan,
		f.MilliHz/1000, f.MilliHz%1000)
}

func QueryDisplayFormat(ctx context.Context, c *Client,
	port Port) (*DisplayFormat, error) {
	return Call[DisplayFormat](ctx, c, QueryDisplayFormatProc, port)
}

// EDID is sent as big-endian words.
type EDID []byte

func (b EDID) Validate() error {
	if len(b)%4 != 0 {
		return fmt.Errorf("edid: %d bytes: %w", len(b), wire.ErrUnaligned)
	}
	return nil
}

// MarshalRPC panics if b fails Validate, which Call checks first.
func (b EDID) MarshalRPC(e *wire.Encoder) {
	swapped := make([]byte, len(b))
	if _, err := wire.SwapBlock(swapped, b); err != nil {
		panic(err)
	}
	e.Uint32(uint32(len(b)))
	e.Bytes(swapped)
}

func SendEDID(ctx context.Context, c *Client, edid EDID) error {
	_, err := Call[Empty](ctx, c, SendEDIDProc, edid)
	return err
}

type AgentType uint32

const (
	AudioOut AgentType = iota + 1
	AudioIn
	VideoDecoder
)

func (t AgentType) MarshalRPC(e *wire.Encoder) { e.Uint32(uint32(t)) }

// Agent is the remote's instance id of an agent.
type Agent uint32

func (a Agent) MarshalRPC(e *wire.Encoder) { e.Uint32(uint32(a)) }

func (a *Agent) UnmarshalRPC(d *wire.Decoder) error {
	*a = Agent(d.Uint32())
	return d.Err()
}

func CreateAgent(ctx context.Context, c *Client, t AgentType) (Agent, error) {
	a, err := Call[Agent](ctx, c, CreateAgentProc, t)
	if err != nil {
		return 0, err
	}
	return *a, nil
}

func DestroyAgent(ctx context.Context, c *Client, a Agent) error {
	_, err := Call[Empty](ctx, c, DestroyAgentProc, a)
	return err
}

type AudioFormat struct {
	Agent      Agent
	Pin        uint32
	SampleRate uint32
	Channels   uint32
	Bits       uint32
}

func (f *AudioFormat) MarshalRPC(e *wire.Encoder) {
	e.Uint32(uint32(f.Agent))
	e.Uint32(f.Pin)
	e.Uint32(f.SampleRate)
	e.Uint32(f.Channels)
	e.Uint32(f.Bits)
}

func (f *AudioFormat) UnmarshalRPC(d *wire.Decoder) error {
	f.Agent = Agent(d.Uint32())
	f.Pin = d.Uint32()
	f.SampleRate = d.Uint32()
	f.Channels = d.Uint32()
	f.Bits = d.Uint32()
	return d.Err()
}

func SetFormat(ctx context.Context, c *Client, f *AudioFormat) error {
	_, err := Call[Empty](ctx, c, SetFormatProc, f)
	return err
}
