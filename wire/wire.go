// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package wire encodes the fixed RPC header exchanged with the remote
// firmware and the reply convention carried in its payload.
//
// Every header field is a big-endian 32-bit word regardless of the host or
// remote core byte order,
//
//	0  program
//	4  version
//	8  procedure
//	12 task id
//	16 sys tid
//	20 sys pid
//	24 parameter size
//	28 context
//
// followed by parameter size bytes of payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderSize = 32

// ReplyID in the Program field marks a reply; any other program is a
// request addressed to SysPID.
const ReplyID uint32 = 99

// Remote status codes carried in the second word of a reply.
const (
	StatusOK   uint32 = 0x10000000
	StatusFail uint32 = 0x10000001
)

var (
	ErrShort     = errors.New("wire: short buffer")
	ErrUnaligned = errors.New("wire: length isn't a multiple of 4")
)

var be = binary.BigEndian

type Header struct {
	Program       uint32
	Version       uint32
	Procedure     uint32
	TaskID        uint32
	SysTID        uint32
	SysPID        uint32
	ParameterSize uint32
	Context       uint32
}

func (h *Header) IsReply() bool { return h.Program == ReplyID }

// Encode the header into the first HeaderSize bytes of b.
func (h *Header) Encode(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShort
	}
	be.PutUint32(b[0:], h.Program)
	be.PutUint32(b[4:], h.Version)
	be.PutUint32(b[8:], h.Procedure)
	be.PutUint32(b[12:], h.TaskID)
	be.PutUint32(b[16:], h.SysTID)
	be.PutUint32(b[20:], h.SysPID)
	be.PutUint32(b[24:], h.ParameterSize)
	be.PutUint32(b[28:], h.Context)
	return nil
}

// Append the encoded header to b.
func (h *Header) Append(b []byte) []byte {
	var buf [HeaderSize]byte
	h.Encode(buf[:])
	return append(b, buf[:]...)
}

func DecodeHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		err = ErrShort
		return
	}
	h.Program = be.Uint32(b[0:])
	h.Version = be.Uint32(b[4:])
	h.Procedure = be.Uint32(b[8:])
	h.TaskID = be.Uint32(b[12:])
	h.SysTID = be.Uint32(b[16:])
	h.SysPID = be.Uint32(b[20:])
	h.ParameterSize = be.Uint32(b[24:])
	h.Context = be.Uint32(b[28:])
	return
}

func (h *Header) String() string {
	if h.IsReply() {
		return fmt.Sprintf("reply task %#x pid %#x size %d ctx %#x",
			h.TaskID, h.SysPID, h.ParameterSize, h.Context)
	}
	return fmt.Sprintf("prog %d.%d proc %d task %#x pid %#x size %d ctx %#x",
		h.Program, h.Version, h.Procedure, h.TaskID, h.SysPID,
		h.ParameterSize, h.Context)
}

// Message is a decoded header and its payload.
type Message struct {
	Header
	Payload []byte
}

func (m *Message) Size() int { return HeaderSize + len(m.Payload) }

// Marshal returns the wire form with ParameterSize set from the payload.
func (m *Message) Marshal() []byte {
	m.ParameterSize = uint32(len(m.Payload))
	b := make([]byte, 0, m.Size())
	b = m.Header.Append(b)
	return append(b, m.Payload...)
}

// Unmarshal a complete message. The payload aliases b.
func Unmarshal(b []byte) (*Message, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if uint64(h.ParameterSize) > uint64(len(b)-HeaderSize) {
		return nil, fmt.Errorf("%w: parameter size %d, have %d",
			ErrShort, h.ParameterSize, len(b)-HeaderSize)
	}
	return &Message{
		Header:  h,
		Payload: b[HeaderSize : HeaderSize+int(h.ParameterSize)],
	}, nil
}
