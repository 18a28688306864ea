// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package config describes a shared region, its cores and channels in
// YAML, e.g.
//
//	region:
//	  path: /dev/mem
//	  phys: 0x9e000000
//	  size: 0x10000
//	timeout: 1s
//	cores:
//	- name: video
//	  notify: 0x9e000000
//	  flag: 0x9e000008
//	  mailbox: 0x9e000010
//	channels:
//	- name: video
//	  core: video
//	  tx_info: 0x9e000100
//	  rx_info: 0x9e000140
//	  tx_fifo: 0x9e001000
//	  rx_fifo: 0x9e002000
//	  tx_size: 4096
//	  rx_size: 4096
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/ring"
	"github.com/platinasystems/rpmsg/shm"
	"gopkg.in/yaml.v2"
)

// DefaultPath is where the rpmsg command looks for its config.
const DefaultPath = "/etc/goes/rpmsg.yaml"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Region        Region        `yaml:"region"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	AttachRings   bool          `yaml:"attach_rings,omitempty"`
	IgnoreContext bool          `yaml:"ignore_context,omitempty"`
	Cores         []Core        `yaml:"cores"`
	Channels      []Channel     `yaml:"channels"`
}

// Region is the shared memory. Without a Path it's allocated in process
// memory, for a loopback remote. A Path of /dev/mem without an Offset maps
// the physical memory at Phys; otherwise Offset is where Phys is in the
// file, e.g. a UIO map.
type Region struct {
	Path   string `yaml:"path,omitempty"`
	Offset int64  `yaml:"offset,omitempty"`
	Phys   uint32 `yaml:"phys"`
	Size   uint32 `yaml:"size"`
}

type Core struct {
	Name   string  `yaml:"name"`
	Notify uint32  `yaml:"notify"`
	Layout *Layout `yaml:"layout,omitempty"`
	Flag   uint32  `yaml:"flag"`
	// Mailbox and Spinlock are optional.
	Mailbox   uint32 `yaml:"mailbox,omitempty"`
	Spinlock  uint32 `yaml:"spinlock,omitempty"`
	BigEndian bool   `yaml:"big_endian,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty"`
}

// Layout overrides the default notify bits of a core.
type Layout struct {
	IntEnable  uint32 `yaml:"int_enable"`
	Sync       uint32 `yaml:"sync"`
	ToRemote   uint32 `yaml:"to_remote"`
	FromRemote uint32 `yaml:"from_remote"`
}

type Channel struct {
	Name      string  `yaml:"name"`
	Core      string  `yaml:"core"`
	TxInfo    uint32  `yaml:"tx_info"`
	RxInfo    uint32  `yaml:"rx_info"`
	TxFifo    uint32  `yaml:"tx_fifo"`
	RxFifo    uint32  `yaml:"rx_fifo"`
	TxSize    uint32  `yaml:"tx_size"`
	RxSize    uint32  `yaml:"rx_size"`
	BigEndian bool    `yaml:"big_endian,omitempty"`
	Keying    *Keying `yaml:"keying,omitempty"`
}

// Keying is "owner", the default, or "pool" with an optional id window
// and fence.
type Keying struct {
	Kind  string        `yaml:"kind"`
	Base  uint32        `yaml:"base,omitempty"`
	Count uint32        `yaml:"count,omitempty"`
	Fence time.Duration `yaml:"fence,omitempty"`
}

// Load and validate the named file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse and validate YAML. Unknown fields are errors.
func Parse(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Marshal() ([]byte, error) { return yaml.Marshal(cfg) }

func (cfg *Config) invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// inside reports whether n bytes at the word aligned addr are in the
// region.
func (cfg *Config) inside(addr, n uint32) bool {
	r := cfg.Region
	return addr&3 == 0 && addr >= r.Phys &&
		uint64(addr)+uint64(n) <= uint64(r.Phys)+uint64(r.Size)
}

func (cfg *Config) Validate() error {
	if cfg.Region.Size == 0 || cfg.Region.Size&3 != 0 {
		return cfg.invalid("region size %d", cfg.Region.Size)
	}
	if cfg.Timeout < 0 {
		return cfg.invalid("timeout %v", cfg.Timeout)
	}
	cores := make(map[string]bool)
	for _, c := range cfg.Cores {
		if _, err := rpmsg.ParseCoreID(c.Name); err != nil {
			return cfg.invalid("core %q", c.Name)
		}
		if cores[c.Name] {
			return cfg.invalid("duplicate core %s", c.Name)
		}
		cores[c.Name] = true
		for _, x := range []struct {
			name     string
			addr, n  uint32
			optional bool
		}{
			{"notify", c.Notify, 4, false},
			{"flag", c.Flag, 4, false},
			{"mailbox", c.Mailbox, 8, true},
			{"spinlock", c.Spinlock, 4, true},
		} {
			if x.optional && x.addr == 0 {
				continue
			}
			if !cfg.inside(x.addr, x.n) {
				return cfg.invalid("%s: %s %#x", c.Name, x.name, x.addr)
			}
		}
		if l := c.Layout; l != nil && (l.Sync == 0 || l.ToRemote == 0 ||
			l.FromRemote == 0) {
			return cfg.invalid("%s: incomplete layout", c.Name)
		}
	}
	channels := make(map[string]bool)
	for _, ch := range cfg.Channels {
		if ch.Name == "" {
			return cfg.invalid("unnamed channel")
		}
		if channels[ch.Name] {
			return cfg.invalid("duplicate channel %s", ch.Name)
		}
		channels[ch.Name] = true
		if !cores[ch.Core] {
			return cfg.invalid("%s: no core %q", ch.Name, ch.Core)
		}
		for _, size := range []uint32{ch.TxSize, ch.RxSize} {
			if size == 0 || size&3 != 0 {
				return cfg.invalid("%s: ring size %d", ch.Name, size)
			}
		}
		for _, x := range []struct {
			name    string
			addr, n uint32
		}{
			{"tx_info", ch.TxInfo, ring.InfoSize},
			{"rx_info", ch.RxInfo, ring.InfoSize},
			{"tx_fifo", ch.TxFifo, ch.TxSize},
			{"rx_fifo", ch.RxFifo, ch.RxSize},
		} {
			if !cfg.inside(x.addr, x.n) {
				return cfg.invalid("%s: %s %#x[%d]", ch.Name, x.name,
					x.addr, x.n)
			}
		}
		if k := ch.Keying; k != nil && k.Kind != "owner" && k.Kind != "pool" {
			return cfg.invalid("%s: keying %q", ch.Name, k.Kind)
		}
	}
	return nil
}

// Open the region; a mapped region is closed with mem.Close.
func (cfg *Config) Open() (*shm.Region, error) {
	r := cfg.Region
	if r.Path == "" {
		return shm.New(r.Phys, int(r.Size)), nil
	}
	return mapRegion(r)
}

// Transport translates cfg to a transport configuration over mem. The
// notify registers are words in mem.
func (cfg *Config) Transport(mem *shm.Region) (rpmsg.Config, error) {
	tc := rpmsg.Config{
		Mem:           mem,
		Timeout:       cfg.Timeout,
		AttachRings:   cfg.AttachRings,
		IgnoreContext: cfg.IgnoreContext,
	}
	for _, c := range cfg.Cores {
		id, err := rpmsg.ParseCoreID(c.Name)
		if err != nil {
			return tc, err
		}
		var order binary.ByteOrder = binary.LittleEndian
		if c.BigEndian {
			order = binary.BigEndian
		}
		cc := rpmsg.CoreConfig{
			ID:        id,
			Notify:    &rpmsg.MMIO{Mem: mem, Addr: c.Notify, Order: order},
			Flag:      c.Flag,
			Mailbox:   c.Mailbox,
			BigEndian: c.BigEndian,
			Disabled:  c.Disabled,
		}
		if l := c.Layout; l != nil {
			cc.Layout = rpmsg.NotifyLayout{
				IntEnable:  l.IntEnable,
				Sync:       l.Sync,
				ToRemote:   l.ToRemote,
				FromRemote: l.FromRemote,
			}
		}
		if c.Spinlock != 0 {
			cc.Lock = &rpmsg.HwSpinlock{
				Mem:   mem,
				Addr:  c.Spinlock,
				Order: order,
			}
		}
		tc.Cores = append(tc.Cores, cc)
	}
	for _, ch := range cfg.Channels {
		id, err := rpmsg.ParseCoreID(ch.Core)
		if err != nil {
			return tc, err
		}
		tc.Channels = append(tc.Channels, rpmsg.ChannelConfig{
			Name:      ch.Name,
			Core:      id,
			TxInfo:    ch.TxInfo,
			RxInfo:    ch.RxInfo,
			TxFifo:    ch.TxFifo,
			RxFifo:    ch.RxFifo,
			TxSize:    ch.TxSize,
			RxSize:    ch.RxSize,
			BigEndian: ch.BigEndian,
			Keying:    ch.Keying.keying(),
		})
	}
	return tc, nil
}

func (k *Keying) keying() rpmsg.Keying {
	if k == nil || k.Kind != "pool" {
		return rpmsg.ByOwnerIdentity{}
	}
	return rpmsg.PoolAllocated{
		Base:  k.Base,
		Count: k.Count,
		Fence: k.Fence,
	}
}

// FromTransport is the inverse of Transport for configurations whose
// notify registers are MMIO words, e.g. a loopback layout.
func FromTransport(tc rpmsg.Config) *Config {
	cfg := &Config{
		Timeout:       tc.Timeout,
		AttachRings:   tc.AttachRings,
		IgnoreContext: tc.IgnoreContext,
	}
	if tc.Mem != nil {
		cfg.Region.Phys = tc.Mem.Phys
		cfg.Region.Size = tc.Mem.Size()
	}
	for _, cc := range tc.Cores {
		c := Core{
			Name:      cc.ID.String(),
			Flag:      cc.Flag,
			Mailbox:   cc.Mailbox,
			BigEndian: cc.BigEndian,
			Disabled:  cc.Disabled,
		}
		if r, ok := cc.Notify.(*rpmsg.MMIO); ok {
			c.Notify = r.Addr
		}
		if cc.Lock != nil {
			c.Spinlock = cc.Lock.Addr
		}
		if l := cc.Layout; l != (rpmsg.NotifyLayout{}) &&
			l != rpmsg.DefaultLayout(cc.ID) {
			c.Layout = &Layout{
				IntEnable:  l.IntEnable,
				Sync:       l.Sync,
				ToRemote:   l.ToRemote,
				FromRemote: l.FromRemote,
			}
		}
		cfg.Cores = append(cfg.Cores, c)
	}
	for _, cc := range tc.Channels {
		ch := Channel{
			Name:      cc.Name,
			Core:      cc.Core.String(),
			TxInfo:    cc.TxInfo,
			RxInfo:    cc.RxInfo,
			TxFifo:    cc.TxFifo,
			RxFifo:    cc.RxFifo,
			TxSize:    cc.TxSize,
			RxSize:    cc.RxSize,
			BigEndian: cc.BigEndian,
		}
		if k, ok := cc.Keying.(rpmsg.PoolAllocated); ok {
			ch.Keying = &Keying{
				Kind:  "pool",
				Base:  k.Base,
				Count: k.Count,
				Fence: k.Fence,
			}
		}
		cfg.Channels = append(cfg.Channels, ch)
	}
	return cfg
}
