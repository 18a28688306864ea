// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package statepub exports remote core states to redis.
package statepub

import (
	"sort"
	"sync"

	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
)

// Prefix of every published key.
const Prefix = "rpmsg"

// Sink receives core state transitions.
type Sink interface {
	Publish(core, state string) error
}

type discard struct{}

func (discard) Publish(string, string) error { return nil }

var Discard Sink = discard{}

// Key returns the field name of a core's state.
func Key(core string) string { return Prefix + "." + core + ".state" }

// Publisher prints "rpmsg.CORE.state: STATE" to the redis publisher.
type Publisher struct {
	pub *publisher.Publisher
}

func NewPublisher() (*Publisher, error) {
	if err := redis.IsReady(); err != nil {
		return nil, err
	}
	pub, err := publisher.New()
	if err != nil {
		return nil, err
	}
	return &Publisher{pub}, nil
}

func (p *Publisher) Publish(core, state string) error {
	p.pub.Print(Key(core), ": ", state)
	return nil
}

func (p *Publisher) Close() error {
	p.pub.Close()
	return nil
}

// HashSink sets the state fields of a redis hash directly.
type HashSink struct {
	Hash string
	hset func(key, field string, v interface{}) (int, error)
}

func NewHashSink(hash string) *HashSink {
	if hash == "" {
		hash = redis.DefaultHash
	}
	return &HashSink{Hash: hash, hset: redis.Hset}
}

func (h *HashSink) Publish(core, state string) error {
	_, err := h.hset(h.Hash, Key(core), state)
	return err
}

// Get a core's state from the given hash.
func Get(hash, core string) (string, error) {
	if hash == "" {
		hash = redis.DefaultHash
	}
	return redis.Hget(hash, Key(core))
}

// Memory keeps the last state of each core and the history of
// transitions.
type Memory struct {
	mu      sync.Mutex
	last    map[string]string
	history []string
}

func (m *Memory) Publish(core, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = make(map[string]string)
	}
	m.last[core] = state
	m.history = append(m.history, Key(core)+": "+state)
	return nil
}

// State of core, or "" if never published.
func (m *Memory) State(core string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[core]
}

func (m *Memory) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

func (m *Memory) Cores() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cores := make([]string, 0, len(m.last))
	for core := range m.last {
		cores = append(cores, core)
	}
	sort.Strings(cores)
	return cores
}

// Multi publishes to each sink, returning the first error.
type Multi []Sink

func (m Multi) Publish(core, state string) (err error) {
	for _, s := range m {
		if e := s.Publish(core, state); e != nil && err == nil {
			err = e
		}
	}
	return
}
