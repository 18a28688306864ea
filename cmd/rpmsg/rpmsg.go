// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package rpmsg is the rpmsg command: status, kick, dump and ping the
// remote cores of a configured shared region, or of a loopback
// simulation.
package rpmsg

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/rpmsg"
	"github.com/platinasystems/rpmsg/config"
	"github.com/platinasystems/rpmsg/internal/loopback"
	"github.com/platinasystems/rpmsg/statepub"
)

// PingProgram is sent by ping; firmware replies to any program it
// doesn't serve with a status, which is all ping needs.
const PingProgram = 0

type Command struct {
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

func (Command) String() string { return "rpmsg" }

func (Command) Usage() string {
	return `rpmsg [-c CONFIG] [-loopback] [-t TIMEOUT] [-uio DEVICE] [-publish]
	[-retry N] COMMAND [ARGS]...`
}

func (Command) Apropos() string {
	return "inter-core message transport diagnostics"
}

func (Command) Man() string {
	return `
DESCRIPTION
	Attach to the shared region described by CONFIG and run COMMAND.

COMMANDS
	status [-redis] [CORE]...
		print core states; with -redis, those published by the
		running transport
	kick CORE...|all
		run the boot handshake
	dump	kick all cores then print counters and ring headers
	ping CHANNEL [COUNT]
		time COUNT (default 1) calls on CHANNEL
	config	print the configuration in YAML

OPTIONS
	-c CONFIG	default: ` + config.DefaultPath + `
	-loopback	simulate the remote cores in process
	-t TIMEOUT	per call, e.g. 250ms
	-uio DEVICE	take notify interrupts from a UIO device
	-publish	publish core states to redis
	-retry N	kick with up to N attempts`
}

func (c Command) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

func (c Command) Main(args ...string) error {
	flag, args := flags.New(args, "-loopback", "-redis", "-publish")
	parm, args := parms.New(args, "-c", "-t", "-uio", "-retry")
	if len(args) == 0 {
		return fmt.Errorf("COMMAND: missing")
	}
	w := c.stdout()
	if args[0] == "status" && flag.ByName["-redis"] {
		return published(w, args[1:])
	}
	s, err := open(options{
		loopback: flag.ByName["-loopback"],
		publish:  flag.ByName["-publish"],
		path:     parm.ByName["-c"],
		timeout:  parm.ByName["-t"],
		uio:      parm.ByName["-uio"],
		retry:    parm.ByName["-retry"],
	})
	if err != nil {
		return err
	}
	defer s.close()
	switch args[0] {
	case "status":
		return s.status(w, args[1:])
	case "kick":
		return s.kick(w, args[1:])
	case "dump":
		return s.dump(w, args[1:])
	case "ping":
		return s.ping(w, args[1:])
	case "config":
		return s.config(w, args[1:])
	}
	return fmt.Errorf("%s: unknown", args[0])
}

type session struct {
	t       *rpmsg.Transport
	cfg     *config.Config
	retries int
	closers []func() error
}

type options struct {
	loopback, publish         bool
	path, timeout, uio, retry string
}

func open(o options) (*session, error) {
	s := new(session)
	var timeout time.Duration
	if v := o.timeout; len(v) > 0 {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("-t: %w", err)
		}
		timeout = d
	}
	if v := o.retry; len(v) > 0 {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("-retry: %q: invalid", v)
		}
		s.retries = n
	}
	var sink statepub.Sink
	if o.publish {
		pub, err := statepub.NewPublisher()
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pub.Close)
		sink = pub
	}
	if o.loopback {
		tc := loopback.Layout(loopback.Options{
			Timeout: timeout,
			Sink:    sink,
		})
		sys, err := loopback.Run(tc)
		if err != nil {
			s.close()
			return nil, err
		}
		s.t = sys.Transport
		s.cfg = config.FromTransport(tc)
		s.closers = append(s.closers, sys.Close)
		return s, nil
	}
	path := o.path
	if len(path) == 0 {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		s.close()
		return nil, err
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	mem, err := cfg.Open()
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, mem.Close)
	tc, err := cfg.Transport(mem)
	if err != nil {
		s.close()
		return nil, err
	}
	tc.Sink = sink
	if s.t, err = rpmsg.New(tc); err != nil {
		s.close()
		return nil, err
	}
	s.cfg = cfg
	s.closers = append(s.closers, s.t.Close)
	if dev := o.uio; len(dev) > 0 {
		stop, err := listen(dev, s.t)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, stop)
	}
	return s, nil
}

// close in reverse order of opening.
func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Print("err", err)
		}
	}
	s.closers = nil
}

// cores named by args, or all configured.
func (s *session) cores(args []string) ([]*rpmsg.Core, error) {
	if len(args) == 0 || len(args) == 1 && args[0] == "all" {
		return s.t.Cores(), nil
	}
	var cores []*rpmsg.Core
	for _, arg := range args {
		id, err := rpmsg.ParseCoreID(arg)
		if err != nil {
			return nil, err
		}
		c := s.t.Core(id)
		if c == nil {
			return nil, fmt.Errorf("%s: %w", arg, rpmsg.ErrNoCore)
		}
		cores = append(cores, c)
	}
	return cores, nil
}

func (s *session) status(w io.Writer, args []string) error {
	cores, err := s.cores(args)
	if err != nil {
		return err
	}
	for _, c := range cores {
		fmt.Fprintf(w, "%s: %s\n", c, c.State())
	}
	return nil
}

func (s *session) kickCore(ctx context.Context, c *rpmsg.Core) error {
	if c.State() == rpmsg.Connected {
		return nil
	}
	if s.retries > 0 {
		return c.Recover(ctx, s.retries)
	}
	return c.Kick(ctx)
}

func (s *session) kick(w io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("CORE: missing")
	}
	cores, err := s.cores(args)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, c := range cores {
		if err = s.kickCore(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", c, c.State())
	}
	return nil
}

func (s *session) dump(w io.Writer, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	ctx := context.Background()
	for _, c := range s.t.Cores() {
		if err := s.kickCore(ctx, c); err != nil {
			log.Print("err", err)
		}
	}
	if err := s.t.WriteSummary(w); err != nil {
		return err
	}
	for _, ch := range s.t.Channels() {
		fmt.Fprintln(w, ch.Diag())
	}
	return nil
}

func (s *session) ping(w io.Writer, args []string) error {
	count := 1
	switch len(args) {
	case 0:
		return fmt.Errorf("CHANNEL: missing")
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("%s: invalid COUNT", args[1])
		}
		count = n
	default:
		return fmt.Errorf("%v: unexpected", args[2:])
	}
	ch := s.t.Channel(args[0])
	if ch == nil {
		return fmt.Errorf("%s: %w", args[0], rpmsg.ErrNoChannel)
	}
	ctx := context.Background()
	if err := s.kickCore(ctx, ch.Core()); err != nil {
		return err
	}
	e, err := ch.Register(uint32(os.Getpid()), nil)
	if err != nil {
		return err
	}
	defer e.Unregister()
	for i := 0; i < count; i++ {
		payload := []byte(fmt.Sprint("ping ", i))
		start := time.Now()
		m, err := e.Call(ctx, PingProgram, uint32(i), payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d bytes from %s: seq=%d time=%v\n",
			m.Size(), ch, i, time.Since(start))
	}
	return nil
}

func (s *session) config(w io.Writer, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	b, err := s.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// published prints the core states in redis.
func published(w io.Writer, args []string) error {
	names := args
	if len(names) == 0 {
		for id := rpmsg.CoreID(0); id < rpmsg.NumCores; id++ {
			names = append(names, id.String())
		}
	}
	for _, name := range names {
		if _, err := rpmsg.ParseCoreID(name); err != nil {
			return err
		}
		state, err := statepub.Get("", name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if len(state) > 0 {
			fmt.Fprintf(w, "%s: %s\n", name, state)
		}
	}
	return nil
}
