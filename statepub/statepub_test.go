// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package statepub

import (
	"errors"
	"strings"
	"testing"

	"github.com/platinasystems/rpmsg/internal/test"
)

func TestMemory(t *testing.T) {
	assert := test.Assert{TB: t}
	var m Memory
	assert.Equal(m.State("audio"), "")
	assert.Nil(m.Publish("audio", "uninitialized"))
	assert.Nil(m.Publish("video", "disabled"))
	assert.Nil(m.Publish("audio", "connected"))
	assert.Equal(m.State("audio"), "connected")
	assert.Equal(strings.Join(m.Cores(), ","), "audio,video")
	assert.Equal(strings.Join(m.History(), "\n"),
		"rpmsg.audio.state: uninitialized\n"+
			"rpmsg.video.state: disabled\n"+
			"rpmsg.audio.state: connected")
}

func TestHashSink(t *testing.T) {
	assert := test.Assert{TB: t}
	set := map[string]string{}
	h := &HashSink{
		Hash: "platina",
		hset: func(key, field string, v interface{}) (int, error) {
			set[key+":"+field] = v.(string)
			return 1, nil
		},
	}
	assert.Nil(h.Publish("hifi", "disconnected"))
	assert.Equal(set["platina:rpmsg.hifi.state"], "disconnected")
}

func TestMulti(t *testing.T) {
	assert := test.Assert{TB: t}
	var a, b Memory
	failed := errors.New("down")
	bad := &HashSink{
		hset: func(string, string, interface{}) (int, error) {
			return 0, failed
		},
	}
	err := Multi{&a, bad, &b}.Publish("ve3", "connected")
	assert.Error(err, failed)
	assert.Equal(a.State("ve3"), "connected")
	assert.Equal(b.State("ve3"), "connected")
	assert.Nil(Discard.Publish("ve3", "connected"))
}
