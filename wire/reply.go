// Copyright © 2020-2021 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package wire

const replyWords = 2

// Reply is the payload convention of a reply message: the tag of the
// request it answers, the remote status, then procedure data.
type Reply struct {
	Tag    uint32
	Status uint32
	Data   []byte
}

func (r *Reply) OK() bool { return r.Status == StatusOK }

func (r *Reply) Marshal() []byte {
	b := make([]byte, 4*replyWords, 4*replyWords+len(r.Data))
	be.PutUint32(b[0:], r.Tag)
	be.PutUint32(b[4:], r.Status)
	return append(b, r.Data...)
}

// DecodeReply parses a reply payload. Data aliases the payload.
func DecodeReply(payload []byte) (r Reply, err error) {
	if len(payload) < 4*replyWords {
		err = ErrShort
		return
	}
	r.Tag = be.Uint32(payload[0:])
	r.Status = be.Uint32(payload[4:])
	r.Data = payload[4*replyWords:]
	return
}

// NewReply answers the request header h. The reply echoes the request's
// task, thread, process and context so the sender may correlate it.
func NewReply(h *Header, status uint32, data []byte) *Message {
	r := Reply{
		Tag:    h.TaskID,
		Status: status,
		Data:   data,
	}
	m := &Message{
		Header: Header{
			Program:   ReplyID,
			Version:   h.Version,
			Procedure: h.Procedure,
			TaskID:    h.TaskID,
			SysTID:    h.SysTID,
			SysPID:    h.SysPID,
			Context:   h.Context,
		},
		Payload: r.Marshal(),
	}
	m.ParameterSize = uint32(len(m.Payload))
	return m
}
