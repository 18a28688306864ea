// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/internal/loopback"
	"github.com/platinasystems/rpmsg/internal/test"
	"github.com/platinasystems/rpmsg/wire"
)

type proc struct{ program, procedure uint32 }

// firmware serves the typed procedures the way the remote does.
type firmware struct {
	window Window
	format AudioFormat
	edid   []byte
	agents map[Agent]AgentType
	next   Agent
}

func (fw *firmware) serve(m *wire.Message) *wire.Message {
	d := wire.NewDecoder(m.Payload)
	status := uint32(wire.StatusOK)
	var e wire.Encoder
	switch (proc{m.Program, m.Procedure}) {
	case proc{VideoProgram, ConfigWindowProc}:
		if fw.window.UnmarshalRPC(d) != nil {
			status = wire.StatusFail
		}
	case proc{VideoProgram, QueryDisplayFormatProc}:
		if d.Uint32() != 1 {
			status = wire.StatusFail
			break
		}
		f := DisplayFormat{
			Mode:    16,
			Width:   1920,
			Height:  1080,
			MilliHz: 59940,
		}
		f.MarshalRPC(&e)
	case proc{VideoProgram, SendEDIDProc}:
		n := int(d.Uint32())
		b := d.Bytes(n)
		fw.edid = make([]byte, n)
		wire.SwapBlock(fw.edid, b)
	case proc{AudioProgram, CreateAgentProc}:
		t := AgentType(d.Uint32())
		fw.next++
		fw.agents[fw.next] = t
		e.Uint32(uint32(fw.next))
	case proc{AudioProgram, DestroyAgentProc}:
		a := Agent(d.Uint32())
		if _, found := fw.agents[a]; !found {
			status = 0x80000002
			break
		}
		delete(fw.agents, a)
	case proc{AudioProgram, SetFormatProc}:
		fw.format.UnmarshalRPC(d)
		if _, found := fw.agents[fw.format.Agent]; !found {
			status = wire.StatusFail
		}
	default:
		return loopback.Echo(m)
	}
	return wire.NewReply(&m.Header, status, e.Data())
}

func newSystem(t *testing.T) (*loopback.System, *firmware) {
	t.Helper()
	s, err := loopback.NewSystem(loopback.Options{
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	fw := &firmware{agents: make(map[Agent]AgentType)}
	for _, r := range s.Remotes {
		r.SetHandler(fw.serve)
	}
	for _, id := range []rpmsg.CoreID{rpmsg.Audio, rpmsg.Video} {
		if err = s.Kick(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	return s, fw
}

func client(t *testing.T, s *loopback.System, channel string,
	program uint32) *Client {
	t.Helper()
	e, err := s.RegisterEndpoint(channel, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Client{Caller: e, Program: program}
}

func TestInvoke(t *testing.T) {
	assert := test.Assert{TB: t}
	s, _ := newSystem(t)
	c := client(t, s, "video", VideoProgram)
	data, err := c.Invoke(context.Background(), 0x99, []byte("ping"))
	assert.Nil(err)
	assert.Equal(string(data), "ping")
}

func TestVideo(t *testing.T) {
	assert := test.Assert{TB: t}
	s, fw := newSystem(t)
	c := client(t, s, "video", VideoProgram)
	ctx := context.Background()

	w := &Window{Plane: 2, X: 10, Y: 20, Width: 640, Height: 480,
		Zorder: 1, Enable: true}
	assert.Nil(ConfigWindow(ctx, c, w))
	assert.True(fw.window == *w)

	f, err := QueryDisplayFormat(ctx, c, 1)
	assert.Nil(err)
	assert.Equal(f.String(), "1920x1080p@59.940")

	_, err = QueryDisplayFormat(ctx, c, 2)
	assert.Error(err, ErrRemoteRejected)
	var re *RemoteError
	assert.True(errors.As(err, &re))
	assert.Uint32(re.Status, wire.StatusFail)
	assert.Uint32(re.Procedure, QueryDisplayFormatProc)

	edid := make([]byte, 128)
	for i := range edid {
		edid[i] = byte(i)
	}
	assert.Nil(SendEDID(ctx, c, edid))
	assert.Bytes(fw.edid, edid)
	sent := len(s.Remotes[rpmsg.Video].Requests())
	assert.Error(SendEDID(ctx, c, edid[:127]), wire.ErrUnaligned)
	_, err = Call[Empty](ctx, c, SendEDIDProc, EDID(edid[:6]))
	assert.Error(err, wire.ErrUnaligned)
	assert.True(len(s.Remotes[rpmsg.Video].Requests()) == sent)
}

func TestAudioAgents(t *testing.T) {
	assert := test.Assert{TB: t}
	s, fw := newSystem(t)
	c := client(t, s, "audio", AudioProgram)
	ctx := context.Background()

	a, err := CreateAgent(ctx, c, AudioOut)
	assert.Nil(err)
	assert.True(fw.agents[a] == AudioOut)

	format := &AudioFormat{Agent: a, Pin: 3, SampleRate: 48000,
		Channels: 2, Bits: 16}
	assert.Nil(SetFormat(ctx, c, format))
	assert.True(fw.format == *format)

	assert.Nil(DestroyAgent(ctx, c, a))
	err = DestroyAgent(ctx, c, a)
	var re *RemoteError
	assert.True(errors.As(err, &re))
	assert.Uint32(re.Status, 0x80000002)
	assert.Error(SetFormat(ctx, c, format), ErrRemoteRejected)
}

func TestDisconnected(t *testing.T) {
	assert := test.Assert{TB: t}
	s, _ := newSystem(t)
	c := client(t, s, "audio", AudioProgram)
	s.Core(rpmsg.Audio).Disable()
	_, err := CreateAgent(context.Background(), c, AudioIn)
	assert.Error(err, rpmsg.ErrCoreDisabled)
}

func TestScratch(t *testing.T) {
	assert := test.Assert{TB: t}
	s, fw := newSystem(t)
	core := s.Core(rpmsg.Video)
	base, slot := loopback.ScratchArea(core.CoreConfig)
	sc, err := NewScratch(core, base, slot)
	assert.Nil(err)
	sc.Task = 7
	c := &Client{Caller: sc, Program: VideoProgram}
	ctx := context.Background()

	f, err := QueryDisplayFormat(ctx, c, 1)
	assert.Nil(err)
	assert.Uint32(f.Width, 1920)

	data, err := c.Invoke(ctx, 0x99, []byte("scratch!"))
	assert.Nil(err)
	assert.Equal(string(data), "scratch!")

	_, err = c.Invoke(ctx, 0x99, make([]byte, slot))
	assert.Error(err, rpmsg.ErrOverflow)

	remote := s.Remotes[rpmsg.Video]
	remote.SetMode(loopback.Hold)
	_, err = c.Invoke(ctx, 0x99, []byte("lost"))
	assert.Error(err, rpmsg.ErrTimeout)
	remote.SetMode(loopback.Serve)

	// a reply tagged for another task
	remote.SetHandler(func(m *wire.Message) *wire.Message {
		h := m.Header
		h.TaskID++
		return wire.NewReply(&h, wire.StatusOK, nil)
	})
	_, err = c.Invoke(ctx, 0x99, []byte("misrouted"))
	assert.Error(err, ErrBadReply)
	remote.SetHandler(fw.serve)

	data, err = c.Invoke(ctx, 0x99, []byte("again"))
	assert.Nil(err)
	assert.Equal(string(data), "again")
}

func TestScratchErrors(t *testing.T) {
	assert := test.Assert{TB: t}
	s, _ := newSystem(t)
	core := s.Core(rpmsg.Audio)
	base, _ := loopback.ScratchArea(core.CoreConfig)
	_, err := NewScratch(core, base+1, 64)
	assert.Error(err, wire.ErrUnaligned)
	_, err = NewScratch(core, base, 16)
	assert.True(err != nil)
	_, err = NewScratch(core, 0x1000, 64)
	assert.True(err != nil)
}
