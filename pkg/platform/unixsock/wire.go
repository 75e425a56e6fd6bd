// Copyright 2026 The ExpressOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package unixsock

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/arch"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/platform"
)

// Every packet starts with a header of four little-endian words: the packet
// op, two op-specific arguments and the number of payload words that follow.
const headerSize = 16

// maxPacket bounds a single packet.
const maxPacket = 64 << 10

// maxWords is the largest payload a packet can carry.
const maxWords = (maxPacket - headerSize) / 4

type op uint32

const (
	// opMessage delivers an event to the kernel: a=label, b=sender.
	opMessage op = 1 + iota

	// opReply resumes a thread: a=thread, b=replyKind.
	opReply

	// opCall is a synchronous request: a=sequence, b=label.
	opCall

	// opCallReply answers opCall: a=sequence.
	opCallReply

	// opSend is a one-way request: b=label.
	opSend
)

type replyKind uint32

const (
	replyGrant replyKind = 1 + iota
	replyResume
)

// Control labels are sent with opCall and opSend to the monitor itself
// rather than to the helper.
const (
	controlNewTask platform.Label = 0x100 + iota
	controlReleaseTask
	controlCreateThread
	controlStartThread
	controlDestroyThread
	controlSetThreadArea
	controlFlushRegions
	controlShareMemory
)

// packet is a decoded packet.
type packet struct {
	op    op
	a, b  uint32
	words []uint32
}

func (p *packet) marshal() ([]byte, error) {
	if len(p.words) > maxWords {
		return nil, fmt.Errorf("packet of %d words exceeds limit of %d", len(p.words), maxWords)
	}
	b := make([]byte, headerSize+4*len(p.words))
	hostarch.ByteOrder.PutUint32(b[0:], uint32(p.op))
	hostarch.ByteOrder.PutUint32(b[4:], p.a)
	hostarch.ByteOrder.PutUint32(b[8:], p.b)
	hostarch.ByteOrder.PutUint32(b[12:], uint32(len(p.words)))
	for i, w := range p.words {
		hostarch.ByteOrder.PutUint32(b[headerSize+4*i:], w)
	}
	return b, nil
}

func (p *packet) unmarshal(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("short packet: %d bytes", len(b))
	}
	n := hostarch.ByteOrder.Uint32(b[12:])
	if uint64(len(b)) != headerSize+4*uint64(n) {
		return fmt.Errorf("packet length %d does not match %d words", len(b), n)
	}
	p.op = op(hostarch.ByteOrder.Uint32(b[0:]))
	p.a = hostarch.ByteOrder.Uint32(b[4:])
	p.b = hostarch.ByteOrder.Uint32(b[8:])
	p.words = make([]uint32, n)
	for i := range p.words {
		p.words[i] = hostarch.ByteOrder.Uint32(b[headerSize+4*i:])
	}
	return nil
}

// registerWords flattens a register frame.
func registerWords(r *arch.Registers) []uint32 {
	var buf [arch.SizeOfRegisters]byte
	r.MarshalBytes(buf[:])
	w := make([]uint32, arch.SizeOfRegisters/4)
	for i := range w {
		w[i] = hostarch.ByteOrder.Uint32(buf[4*i:])
	}
	return w
}

// wordsRegisters is the inverse of registerWords.
func wordsRegisters(w []uint32, r *arch.Registers) error {
	if len(w) != arch.SizeOfRegisters/4 {
		return fmt.Errorf("register frame of %d words", len(w))
	}
	var buf [arch.SizeOfRegisters]byte
	for i, v := range w {
		hostarch.ByteOrder.PutUint32(buf[4*i:], v)
	}
	r.UnmarshalBytes(buf[:])
	return nil
}

// decodeMessage converts an opMessage packet into a platform.Message.
func decodeMessage(p *packet) (platform.Message, error) {
	m := platform.Message{
		Label: platform.Label(p.a),
		From:  platform.ThreadHandle(p.b),
	}
	switch m.Label {
	case platform.LabelPageFault:
		if len(p.words) != 3 {
			return m, fmt.Errorf("page fault with %d words", len(p.words))
		}
		m.FaultAddr = hostarch.Addr(p.words[0])
		m.FaultIP = hostarch.Addr(p.words[1])
		m.FaultType = hostarch.AccessTypeFromBits(p.words[2])
	case platform.LabelException:
		if err := wordsRegisters(p.words, &m.Regs); err != nil {
			return m, err
		}
	default:
		m.Words = p.words
	}
	return m, nil
}

// encodeMessage is the inverse of decodeMessage.
func encodeMessage(m *platform.Message) *packet {
	p := &packet{op: opMessage, a: uint32(m.Label), b: uint32(m.From)}
	switch m.Label {
	case platform.LabelPageFault:
		p.words = []uint32{uint32(m.FaultAddr), uint32(m.FaultIP), m.FaultType.Bits()}
	case platform.LabelException:
		p.words = registerWords(&m.Regs)
	default:
		p.words = m.Words
	}
	return p
}

// encodeReply converts a platform.Reply into an opReply packet.
func encodeReply(r *platform.Reply) (*packet, error) {
	p := &packet{op: opReply, a: uint32(r.To)}
	switch {
	case r.Grant != nil:
		p.b = uint32(replyGrant)
		p.words = []uint32{uint32(r.Grant.Addr), uint32(r.Grant.Frame), r.Grant.Perm.Bits()}
	case r.Regs != nil:
		p.b = uint32(replyResume)
		p.words = registerWords(r.Regs)
	default:
		return nil, fmt.Errorf("empty reply to %#x", r.To)
	}
	return p, nil
}
