// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/internal/loopback"
	"github.com/platinasystems/rpmsg/internal/test"
)

const video = `
region:
  phys: 0x9e000000
  size: 0x4000
timeout: 250ms
cores:
- name: video
  notify: 0x9e000000
  flag: 0x9e000008
  mailbox: 0x9e000010
  spinlock: 0x9e000004
  big_endian: true
- name: audio
  notify: 0x9e000020
  flag: 0x9e000028
  layout:
    int_enable: 0x10000
    sync: 0x20000
    to_remote: 0x40000
    from_remote: 0x80000
channels:
- name: video
  core: video
  tx_info: 0x9e000100
  rx_info: 0x9e000140
  tx_fifo: 0x9e001000
  rx_fifo: 0x9e002000
  tx_size: 4096
  rx_size: 4096
  keying:
    kind: pool
    count: 16
    fence: 5s
- name: audio
  core: audio
  tx_info: 0x9e000200
  rx_info: 0x9e000240
  tx_fifo: 0x9e003000
  rx_fifo: 0x9e003800
  tx_size: 2048
  rx_size: 2048
`

func TestParse(t *testing.T) {
	assert := test.Assert{TB: t}
	cfg, err := Parse([]byte(video))
	assert.Nil(err)
	assert.True(cfg.Timeout == 250*time.Millisecond)
	assert.Uint32(cfg.Region.Phys, 0x9e000000)
	assert.Uint32(cfg.Cores[0].Spinlock, 0x9e000004)
	assert.Uint32(cfg.Channels[0].Keying.Count, 16)
	assert.True(cfg.Channels[0].Keying.Fence == 5*time.Second)

	mem, err := cfg.Open()
	assert.Nil(err)
	tc, err := cfg.Transport(mem)
	assert.Nil(err)
	assert.True(tc.Cores[0].ID == rpmsg.Video)
	assert.True(tc.Cores[0].Lock != nil)
	assert.True(tc.Cores[1].Lock == nil)
	assert.Uint32(tc.Cores[1].Layout.ToRemote, 0x40000)
	assert.Equal(tc.Channels[0].Keying.String(),
		"pool 0x40000000[16] fence 5s")
	assert.Equal(tc.Channels[1].Keying.String(), "owner")

	tr, err := rpmsg.New(tc)
	assert.Nil(err)
	defer tr.Close()
	assert.True(tr.Channel("audio").Core().ID == rpmsg.Audio)
}

func TestInvalid(t *testing.T) {
	assert := test.Assert{TB: t}
	for _, x := range []struct{ old, new, why string }{
		{"size: 0x4000", "size: 0x4001", "region size"},
		{"name: video\n  notify", "name: dsp\n  notify", `core "dsp"`},
		{"name: audio\n  notify", "name: video\n  notify",
			"duplicate core"},
		{"notify: 0x9e000000", "notify: 0x9e000002", "notify"},
		{"flag: 0x9e000008", "flag: 0x9f000000", "flag"},
		{"mailbox: 0x9e000010", "mailbox: 0x9e003ffc", "mailbox"},
		{"sync: 0x20000", "sync: 0", "incomplete layout"},
		{"name: audio\n  core", "name: video\n  core",
			"duplicate channel"},
		{"core: audio", "core: hifi", `no core "hifi"`},
		{"tx_size: 2048", "tx_size: 2050", "ring size"},
		{"rx_fifo: 0x9e003800", "rx_fifo: 0x9e003c00", "rx_fifo"},
		{"kind: pool", "kind: random", "keying"},
	} {
		y := strings.Replace(video, x.old, x.new, 1)
		if y == video {
			t.Fatal(x.old, "not found")
		}
		_, err := Parse([]byte(y))
		assert.Error(err, ErrInvalid)
		assert.Match(err.Error(), x.why)
	}
	_, err := Parse([]byte(video + "bogus: 1\n"))
	assert.True(err != nil)
}

func TestLoad(t *testing.T) {
	assert := test.Assert{TB: t}
	path := filepath.Join(t.TempDir(), "rpmsg.yaml")
	assert.Nil(os.WriteFile(path, []byte(video), 0644))
	cfg, err := Load(path)
	assert.Nil(err)
	assert.True(len(cfg.Channels) == 2)
	_, err = Load(path + ".missing")
	assert.Error(err, os.ErrNotExist)
}

// A loopback layout written out and read back runs.
func TestLoopbackRoundTrip(t *testing.T) {
	assert := test.Assert{TB: t}
	tc := loopback.Layout(loopback.Options{
		HwSpinlock: true,
		Channels: []loopback.ChannelSpec{
			{Name: "audio", Core: rpmsg.Audio},
			{Name: "video", Core: rpmsg.Video,
				Keying: rpmsg.PoolAllocated{Count: 8}},
		},
		Timeout: 100 * time.Millisecond,
	})
	b, err := FromTransport(tc).Marshal()
	assert.Nil(err)
	cfg, err := Parse(b)
	assert.Nil(err)
	assert.Equal(cfg.Channels[1].Keying.Kind, "pool")

	back, err := cfg.Transport(tc.Mem)
	assert.Nil(err)
	s, err := loopback.Run(back)
	assert.Nil(err)
	defer s.Close()
	assert.Nil(s.Kick(context.Background(), rpmsg.Video))
	e, err := s.RegisterEndpoint("video", 1, nil)
	assert.Nil(err)
	assert.Uint32(e.ID, rpmsg.PoolBase)
	m, err := e.Call(context.Background(), 1, 1, []byte("yaml"))
	assert.Nil(err)
	assert.True(m.IsReply())
}
