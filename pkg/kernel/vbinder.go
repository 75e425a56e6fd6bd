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


package kernel

import (
	"fmt"

	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/pgalloc"
)

// vbinder commands.
const (
	VBinderRegisterChannel = 1
	VBinderAcquireChannel  = 2
	VBinderSend            = 3
	VBinderRecv            = 4
)

// VBinderQueueCapacity is the number of messages a thread can have queued.
const VBinderQueueCapacity = 64

// Capability is a labelled vbinder channel owned by the thread that
// registered it. Messages sent on it are queued to the owner.
type Capability struct {
	Owner      *Thread
	Label      int32
	Permission int32

	// ID is the capability's index in its owner's namespace.
	ID int32
}

// CapabilityManager holds every registered capability.
type CapabilityManager struct {
	// caps is ordered newest first.
	caps []*Capability
}

// NewCapabilityManager returns an empty manager.
func NewCapabilityManager() *CapabilityManager {
	return &CapabilityManager{}
}

// Create registers a capability owned by t.
func (m *CapabilityManager) Create(t *Thread, label, permission int32) *Capability {
	c := &Capability{Owner: t, Label: label, Permission: permission, ID: t.vbinder.newID()}
	m.caps = append([]*Capability{c}, m.caps...)
	return c
}

// Find returns the newest capability with the given label owned by thread
// tid, or nil.
func (m *CapabilityManager) Find(tid, label int32) *Capability {
	for _, c := range m.caps {
		if c.Label == label && c.Owner.Tid() == tid {
			return c
		}
	}
	return nil
}

// Len returns the number of registered capabilities.
func (m *CapabilityManager) Len() int {
	return len(m.caps)
}

// removeOwnedBy drops the capabilities owned by t.
func (m *CapabilityManager) removeOwnedBy(t *Thread) {
	kept := m.caps[:0]
	for _, c := range m.caps {
		if c.Owner != t {
			kept = append(kept, c)
		}
	}
	clear(m.caps[len(kept):])
	m.caps = kept
}

// VBinderMessage is a message queued to a thread. The payload lives in the
// completion pool until the message is delivered.
type VBinderMessage struct {
	From    *Thread
	Label   int32
	Payload *pgalloc.Buffer
	Length  uint32
}

// recycle frees the payload.
func (msg *VBinderMessage) recycle() {
	msg.Payload.Dispose()
}

// messageRing is a fixed-capacity FIFO of messages.
type messageRing struct {
	data  [VBinderQueueCapacity]*VBinderMessage
	first int
	len   int
}

func (r *messageRing) empty() bool {
	return r.len == 0
}

func (r *messageRing) enqueue(msg *VBinderMessage) {
	if r.len == len(r.data) {
		panic("vbinder message queue overflow")
	}
	r.data[(r.first+r.len)%len(r.data)] = msg
	r.len++
}

func (r *messageRing) dequeue() *VBinderMessage {
	msg := r.data[r.first]
	r.data[r.first] = nil
	r.first = (r.first + 1) % len(r.data)
	r.len--
	return msg
}

type capabilityRef struct {
	id int32
	ch *Capability
}

// vbinderState is a thread's vbinder endpoint: its capability namespace,
// its message queue and the receive it is blocked in, if any.
type vbinderState struct {
	owner   *Thread
	refs    []capabilityRef
	lastID  int32
	queue   messageRing
	waiting *VBinderCompletion
}

func (s *vbinderState) init(t *Thread) {
	s.owner = t
}

func (s *vbinderState) newID() int32 {
	s.lastID++
	return s.lastID
}

// mapIn adds ch to the namespace and returns its index. A thread's own
// capability keeps the index it was created with.
func (s *vbinderState) mapIn(ch *Capability) int32 {
	id := ch.ID
	if ch.Owner != s.owner {
		id = s.newID()
	}
	s.refs = append([]capabilityRef{{id: id, ch: ch}}, s.refs...)
	return id
}

func (s *vbinderState) find(id int32) *Capability {
	for _, r := range s.refs {
		if r.id == id {
			return r.ch
		}
	}
	return nil
}

// release drops queued messages and the owner's capabilities.
func (s *vbinderState) release() {
	if s.owner == nil {
		return
	}
	for !s.queue.empty() {
		s.queue.dequeue().recycle()
	}
	s.waiting = nil
	s.refs = nil
	s.owner.k.channels.removeOwnedBy(s.owner)
}

// VBinderPending returns the number of vbinder messages queued to t.
func (t *Thread) VBinderPending() int {
	return t.vbinder.queue.len
}

// VBinder executes a vbinder command.
func (t *Thread) VBinder(cmd int32, arg1, arg2, arg3 uint32) (int32, error) {
	switch cmd {
	case VBinderRegisterChannel:
		return t.vbinderRegister(int32(arg1), int32(arg2))
	case VBinderAcquireChannel:
		return t.vbinderAcquire(int32(arg1), int32(arg2))
	case VBinderSend:
		return t.vbinderSend(int32(arg1), hostarch.Addr(arg2), arg3)
	case VBinderRecv:
		return t.vbinderRecv(hostarch.Addr(arg1), hostarch.Addr(arg2), arg3)
	default:
		return 0, linuxerr.ENOSYS
	}
}

func (t *Thread) vbinderRegister(label, permission int32) (int32, error) {
	if !t.k.security.CanCreateVBinderChannel(t, label, permission) {
		return 0, linuxerr.EPERM
	}
	ch := t.k.channels.Create(t, label, permission)
	return t.vbinder.mapIn(ch), nil
}

func (t *Thread) vbinderAcquire(tid, label int32) (int32, error) {
	ch := t.k.channels.Find(tid, label)
	if ch == nil {
		return 0, linuxerr.EPERM
	}
	return t.vbinder.mapIn(ch), nil
}

func (t *Thread) vbinderSend(id int32, addr hostarch.Addr, size uint32) (int32, error) {
	if !t.p.as.VerifyRead(addr, size) {
		return 0, linuxerr.EFAULT
	}
	ch := t.vbinder.find(id)
	if ch == nil || ch.Owner.exited {
		return 0, linuxerr.EINVAL
	}
	buf, ok := t.k.helper.Window().AllocBuffer(max(size, 1))
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	if err := t.CopyInBytes(addr, buf.Bytes()[:size]); err != nil {
		buf.Dispose()
		return 0, err
	}
	msg := &VBinderMessage{From: t, Label: ch.Label, Payload: buf, Length: size}
	target := ch.Owner
	if c := target.vbinder.waiting; c != nil {
		target.vbinder.waiting = nil
		target.ReturnFromCompletion(target.deliverVBinder(c.LabelAddr, c.Addr, c.Size, msg))
	} else {
		target.vbinder.queue.enqueue(msg)
	}
	return int32(size), nil
}

func (t *Thread) vbinderRecv(labelAddr, addr hostarch.Addr, size uint32) (int32, error) {
	if !t.p.as.VerifyWrite(addr, size) || !t.p.as.VerifyWrite(labelAddr, 4) {
		return 0, linuxerr.EFAULT
	}
	if t.vbinder.queue.empty() {
		if t.vbinder.waiting != nil {
			panic(fmt.Sprintf("%v receiving twice", t))
		}
		t.vbinder.waiting = &VBinderCompletion{
			completionBase: newThreadCompletion(t, nil),
			LabelAddr:      labelAddr,
			Addr:           addr,
			Size:           size,
		}
		return 0, linuxerr.ErrPending
	}
	return t.deliverVBinder(labelAddr, addr, size, t.vbinder.queue.dequeue()), nil
}

// deliverVBinder writes msg to t's receive buffers and frees it. The payload
// is truncated to the buffer size.
func (t *Thread) deliverVBinder(labelAddr, addr hostarch.Addr, size uint32, msg *VBinderMessage) int32 {
	defer msg.recycle()
	n := min(msg.Length, size)
	if err := t.CopyOutUint32(labelAddr, uint32(msg.Label)); err != nil {
		return linuxerr.ToReturn(err)
	}
	if err := t.CopyOutBytes(addr, msg.Payload.Bytes()[:n]); err != nil {
		return linuxerr.ToReturn(err)
	}
	return int32(n)
}
