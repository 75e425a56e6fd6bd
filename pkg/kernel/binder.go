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
	"bytes"

	"github.com/ExpressOS/expressos/pkg/abi/linux"
	"github.com/ExpressOS/expressos/pkg/errors/linuxerr"
	"github.com/ExpressOS/expressos/pkg/fs"
	"github.com/ExpressOS/expressos/pkg/helper"
	"github.com/ExpressOS/expressos/pkg/hostarch"
	"github.com/ExpressOS/expressos/pkg/log"
)

const (
	// binderBufferPages is the size of the scratch buffer a write-read is
	// marshalled into.
	binderBufferPages = 2

	// binderPatchTableSize is the maximum number of data segments a single
	// write-read may carry.
	binderPatchTableSize = 16

	// systemEUID is the euid of the Android system server.
	systemEUID = 1000

	// opWindowFocusChanged is IWindow.windowFocusChanged.
	opWindowFocusChanged = 5

	windowFocusChangedSize = 0x3c

	// A flattened GraphicBuffer starts with its size, a count of one and
	// the tag 'RFBG'.
	graphicBufferFlatSize = 0x3c
	graphicBufferMagic    = 0x47424652
	screenBufferSize      = 0x54
)

// windowFocusChangedHeader is the parcel header of windowFocusChanged: the
// strict mode policy, then the interface token "android.view.IWindow" in
// UTF-16LE.
var windowFocusChangedHeader = []byte{
	0x00, 0x01, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00,
	'a', 0, 'n', 0, 'd', 0, 'r', 0, 'o', 0, 'i', 0, 'd', 0,
	'.', 0, 'v', 0, 'i', 0, 'e', 0, 'w', 0, '.', 0, 'I', 0,
	'W', 0, 'i', 0, 'n', 0, 'd', 0, 'o', 0, 'w', 0,
	0x00, 0x00, 0x00, 0x00,
}

// BinderIoctl implements ioctl(2) on the binder device.
func (t *Thread) BinderIoctl(cmd, arg uint32) (int32, error) {
	switch cmd {
	case linux.BINDER_WRITE_READ:
		return 0, t.binderWriteRead(hostarch.Addr(arg))
	case linux.BINDER_VERSION:
		if err := t.CopyOutUint32(hostarch.Addr(arg), linux.BinderCurrentProtocolVersion); err != nil {
			return 0, linuxerr.EINVAL
		}
		return 0, nil
	case linux.BINDER_SET_IDLE_TIMEOUT, linux.BINDER_SET_MAX_THREADS, linux.BINDER_SET_IDLE_PRIO,
		linux.BINDER_SET_CONTEXT_MGR, linux.BINDER_THREAD_EXIT:
		return 0, nil
	default:
		return 0, linuxerr.EINVAL
	}
}

func (t *Thread) copyInBWR(addr hostarch.Addr) (linux.BinderWriteRead, error) {
	var bwr linux.BinderWriteRead
	var b [linux.SizeOfBinderWriteRead]byte
	if err := t.CopyInBytes(addr, b[:]); err != nil {
		return bwr, err
	}
	bwr.UnmarshalBytes(b[:])
	return bwr, nil
}

func (t *Thread) copyOutBWR(addr hostarch.Addr, bwr *linux.BinderWriteRead) error {
	var b [linux.SizeOfBinderWriteRead]byte
	bwr.MarshalBytes(b[:])
	return t.CopyOutBytes(addr, b[:])
}

// binderWriteRead forwards a BINDER_WRITE_READ to the helper. On success t
// is suspended and linuxerr.ErrPending is returned.
func (t *Thread) binderWriteRead(addr hostarch.Addr) error {
	bwr, err := t.copyInBWR(addr)
	if err != nil {
		return err
	}
	if bwr.WriteSize == 0 && bwr.ReadSize == 0 {
		return t.copyOutBWR(addr, &bwr)
	}
	err = t.submitBinder(addr, &bwr)
	if err == nil || err == linuxerr.ErrPending {
		return err
	}
	bwr.ReadConsumed = 0
	if cerr := t.copyOutBWR(addr, &bwr); cerr != nil {
		return cerr
	}
	return err
}

func (t *Thread) submitBinder(addr hostarch.Addr, bwr *linux.BinderWriteRead) error {
	if bwr.WriteConsumed != 0 {
		// The helper always consumes whole write buffers.
		log.Warningf("%v: binder write_consumed is %d", t, bwr.WriteConsumed)
		return linuxerr.EINVAL
	}
	buf, ok := t.k.helper.Window().AllocBuffer(binderBufferPages * hostarch.PageSize)
	if !ok {
		return linuxerr.ENOMEM
	}
	m := binderMarshaler{t: t, buf: buf.Bytes()}
	if err := m.marshal(hostarch.Addr(bwr.WriteBuffer), bwr.WriteSize); err != nil {
		log.Debugf("%v: marshalling binder write buffer: %v", t, err)
		buf.Dispose()
		return linuxerr.EINVAL
	}
	c := &BinderCompletion{
		completionBase: newThreadCompletion(t, buf),
		BWR:            addr,
		Desc: helper.BinderWriteDesc{
			BufferSize:   m.writeCursor,
			WriteSize:    bwr.WriteSize,
			PatchEntries: m.patchEntries,
			PatchOffset:  m.patchTableOffset,
		},
	}
	if err := t.k.helper.BinderWriteReadAsync(t, t.p.HelperPID, c.handle, buf, c.Desc); err != nil {
		buf.Dispose()
		return linuxerr.EIO
	}
	return t.Suspend(c)
}

// resumeBinder completes a write-read. r holds the return value, the
// consumed counts, the size of the returned buffer and the number of data
// entries following the read data in it.
func (t *Thread) resumeBinder(c *BinderCompletion, r [5]int32) int32 {
	defer c.Dispose()
	if r[0] < 0 {
		return r[0]
	}
	bwr, err := t.copyInBWR(c.BWR)
	if err != nil {
		return linuxerr.ToReturn(err)
	}
	bwr.WriteConsumed = uint32(r[1])
	bwr.ReadConsumed = uint32(r[2])
	c.Desc.BufferSize = uint32(r[3])
	c.Desc.PatchEntries = uint32(r[4])

	ret := int32(0)
	if err := t.unmarshalBinder(c.buf.Bytes(), bwr.ReadConsumed, c.Desc.PatchEntries, hostarch.Addr(bwr.ReadBuffer)); err != nil {
		log.Debugf("%v: unmarshalling binder read buffer: %v", t, err)
		ret = linuxerr.ToReturn(err)
	}
	if err := t.copyOutBWR(c.BWR, &bwr); err != nil {
		return linuxerr.ToReturn(err)
	}
	return ret
}

// binderMarshaler copies a binder write buffer and the data segments its
// transactions point to into a scratch buffer the helper can read. Each
// relocated pointer is recorded in a patch table appended to the buffer so
// that the helper can rebase it.
type binderMarshaler struct {
	t   *Thread
	buf []byte

	readCursor  uint32
	writeCursor uint32

	patchTable       [binderPatchTableSize]uint32
	patchEntries     uint32
	patchTableOffset uint32
}

func (m *binderMarshaler) marshal(src hostarch.Addr, size uint32) error {
	if size > uint32(len(m.buf)) {
		return linuxerr.EINVAL
	}
	if err := m.t.CopyInBytes(src, m.buf[:size]); err != nil {
		return err
	}
	m.readCursor = 0
	m.writeCursor = size
	for m.readCursor < size {
		cmd, err := m.word()
		if err != nil {
			return err
		}
		switch cmd {
		case linux.BC_INCREFS, linux.BC_ACQUIRE, linux.BC_RELEASE, linux.BC_DECREFS:
			m.readCursor += 4
		case linux.BC_INCREFS_DONE, linux.BC_ACQUIRE_DONE,
			linux.BC_REQUEST_DEATH_NOTIFICATION, linux.BC_CLEAR_DEATH_NOTIFICATION:
			m.readCursor += 8
		case linux.BC_FREE_BUFFER:
			if err := m.rebaseFreeBuffer(); err != nil {
				return err
			}
		case linux.BC_TRANSACTION, linux.BC_REPLY:
			if err := m.marshalTransaction(); err != nil {
				return err
			}
		case linux.BC_REGISTER_LOOPER, linux.BC_ENTER_LOOPER, linux.BC_EXIT_LOOPER:
		default:
			log.Warningf("%v: unsupported binder command %#x", m.t, cmd)
			return linuxerr.EINVAL
		}
	}
	return m.appendPatchTable()
}

// word consumes the next command word.
func (m *binderMarshaler) word() (uint32, error) {
	if m.readCursor+4 > uint32(len(m.buf)) {
		return 0, linuxerr.ENOMEM
	}
	v := hostarch.ByteOrder.Uint32(m.buf[m.readCursor:])
	m.readCursor += 4
	return v, nil
}

// rebaseFreeBuffer translates the buffer a BC_FREE_BUFFER names from the
// process's binder window to the helper's.
func (m *binderMarshaler) rebaseFreeBuffer() error {
	if m.readCursor+4 > uint32(len(m.buf)) {
		return linuxerr.ENOMEM
	}
	p := m.t.p
	b := m.buf[m.readCursor:]
	addr := hostarch.ByteOrder.Uint32(b)
	hostarch.ByteOrder.PutUint32(b, addr-uint32(p.BinderVMStart)+uint32(p.ShadowBinderVMStart))
	m.readCursor += 4
	return nil
}

func (m *binderMarshaler) marshalTransaction() error {
	if m.readCursor+linux.SizeOfBinderTransactionData > uint32(len(m.buf)) {
		return linuxerr.ENOMEM
	}
	var tr linux.BinderTransactionData
	tr.UnmarshalBytes(m.buf[m.readCursor:])
	var err error
	if tr.DataBuffer, err = m.marshalSegment(tr.DataBuffer, tr.DataSize, linux.BinderDataBufferOffset); err != nil {
		return err
	}
	if tr.DataOffsets, err = m.marshalSegment(tr.DataOffsets, tr.OffsetsSize, linux.BinderDataOffsetsOffset); err != nil {
		return err
	}
	tr.MarshalBytes(m.buf[m.readCursor:])
	m.readCursor += linux.SizeOfBinderTransactionData
	return nil
}

// marshalSegment copies size bytes at addr to the end of the buffer and
// returns the buffer offset that replaces addr. off is where the pointer
// lives in the transaction being read.
func (m *binderMarshaler) marshalSegment(addr, size, off uint32) (uint32, error) {
	if size == 0 {
		return addr, nil
	}
	if size > uint32(len(m.buf))-m.writeCursor {
		return 0, linuxerr.ENOMEM
	}
	if err := m.t.CopyInBytes(hostarch.Addr(addr), m.buf[m.writeCursor:m.writeCursor+size]); err != nil {
		return 0, linuxerr.EFAULT
	}
	if m.patchEntries >= binderPatchTableSize {
		return 0, linuxerr.ENOMEM
	}
	m.patchTable[m.patchEntries] = m.readCursor + off
	m.patchEntries++
	ret := m.writeCursor
	m.writeCursor += size
	return ret, nil
}

// appendPatchTable writes the entry count followed by the entries.
func (m *binderMarshaler) appendPatchTable() error {
	m.patchTableOffset = m.writeCursor + 4
	if m.writeCursor+(m.patchEntries+1)*4 > uint32(len(m.buf)) {
		return linuxerr.ENOMEM
	}
	hostarch.ByteOrder.PutUint32(m.buf[m.writeCursor:], m.patchEntries)
	m.writeCursor += 4
	for _, e := range m.patchTable[:m.patchEntries] {
		hostarch.ByteOrder.PutUint32(m.buf[m.writeCursor:], e)
		m.writeCursor += 4
	}
	return nil
}

// unmarshalBinder delivers a completed read. buf starts with readConsumed
// bytes of read commands followed by entries data segments, each an offset
// into the binder window, a length and the bytes.
func (t *Thread) unmarshalBinder(buf []byte, readConsumed, entries uint32, readBuffer hostarch.Addr) error {
	if t.p.BinderVMStart == 0 {
		log.Warningf("%v: binder read before the binder window is mapped", t)
		return linuxerr.EFAULT
	}
	if readConsumed > uint32(len(buf)) {
		return linuxerr.ENOMEM
	}
	if err := t.unmarshalDataEntries(buf, readConsumed, entries); err != nil {
		return linuxerr.ENOMEM
	}
	b := buf[:readConsumed]
	if err := t.patchReadBuffer(b); err != nil {
		return linuxerr.EINVAL
	}
	if err := t.CopyOutBytes(readBuffer, b); err != nil {
		return linuxerr.ENOMEM
	}
	return nil
}

func (t *Thread) unmarshalDataEntries(buf []byte, cursor, entries uint32) error {
	end := uint32(len(buf))
	for i := uint32(0); i < entries && cursor < end; i++ {
		if cursor+8 > end {
			return linuxerr.ENOMEM
		}
		off := hostarch.ByteOrder.Uint32(buf[cursor:])
		n := hostarch.ByteOrder.Uint32(buf[cursor+4:])
		cursor += 8
		if n > end-cursor {
			return linuxerr.ENOMEM
		}
		if err := t.CopyOutBytes(t.p.BinderVMStart+hostarch.Addr(off), buf[cursor:cursor+n]); err != nil {
			return err
		}
		cursor += n
	}
	return nil
}

// patchReadBuffer rewrites the read commands in b for the process: buffer
// pointers are rebased onto its binder window and file descriptors are
// installed in its table.
func (t *Thread) patchReadBuffer(b []byte) error {
	cursor := uint32(0)
	for cursor < uint32(len(b)) {
		if cursor+4 > uint32(len(b)) {
			return linuxerr.ENOMEM
		}
		cmd := hostarch.ByteOrder.Uint32(b[cursor:])
		cursor += 4
		switch cmd {
		case linux.BR_INCREFS, linux.BR_ACQUIRE, linux.BR_RELEASE, linux.BR_DECREFS:
			cursor += 8
		case linux.BR_NOOP, linux.BR_TRANSACTION_COMPLETE, linux.BR_SPAWN_LOOPER:
		case linux.BR_TRANSACTION, linux.BR_REPLY:
			if cursor+linux.SizeOfBinderTransactionData > uint32(len(b)) {
				return linuxerr.ENOMEM
			}
			var tr linux.BinderTransactionData
			tr.UnmarshalBytes(b[cursor:])
			if err := t.patchReadTransaction(&tr); err != nil {
				return err
			}
			tr.MarshalBytes(b[cursor:])
			cursor += linux.SizeOfBinderTransactionData
		default:
			log.Warningf("%v: unsupported binder return %#x", t, cmd)
			return linuxerr.EINVAL
		}
	}
	return nil
}

func (t *Thread) patchReadTransaction(tr *linux.BinderTransactionData) error {
	base := uint32(t.p.BinderVMStart)
	if tr.DataSize != 0 {
		tr.DataBuffer += base
	}
	if tr.OffsetsSize != 0 {
		tr.DataOffsets += base
	}
	if t.gainingWindowFocus(tr) {
		t.k.security.OnActiveProcessChanged(t, t.p)
	}
	for p := tr.DataOffsets; p < tr.DataOffsets+tr.OffsetsSize; p += 4 {
		off, err := t.CopyInUint32(hostarch.Addr(p))
		if err != nil {
			return err
		}
		objAddr := hostarch.Addr(tr.DataBuffer + off)
		var ob [linux.SizeOfFlatBinderObject]byte
		if err := t.CopyInBytes(objAddr, ob[:]); err != nil {
			return err
		}
		var obj linux.FlatBinderObject
		obj.UnmarshalBytes(ob[:])
		switch obj.Type {
		case linux.BINDER_TYPE_FD:
			if err := t.installBinderFD(tr, objAddr, int32(obj.Handle)); err != nil {
				return err
			}
		case linux.BINDER_TYPE_HANDLE:
		default:
			log.Debugf("%v: ignoring binder object of type %#x", t, obj.Type)
		}
	}
	return nil
}

// installBinderFD wraps a descriptor passed over binder, which the helper
// holds as linuxFD, and points the object at the new descriptor.
func (t *Thread) installBinderFD(tr *linux.BinderTransactionData, objAddr hostarch.Addr, linuxFD int32) error {
	var inode *fs.Inode
	if t.isScreenSharingTransaction(tr) {
		inode = fs.NewScreenBufferInode(t.k, t.p.HelperPID, linuxFD)
	} else {
		inode = fs.NewBinderSharedInode(t.k, t.p.HelperPID, linuxFD)
	}
	fd := t.p.fds.AllocFD(fs.NewFile(inode, linux.O_RDWR, 0))
	return t.CopyOutUint32(objAddr+linux.FlatBinderHandleOffset, uint32(fd))
}

// isScreenSharingTransaction recognizes the system server handing a
// GraphicBuffer to the process.
func (t *Thread) isScreenSharingTransaction(tr *linux.BinderTransactionData) bool {
	if tr.SenderEUID != systemEUID || tr.DataSize != screenBufferSize || tr.OffsetsSize != 4 {
		return false
	}
	var b [12]byte
	if err := t.CopyInBytes(hostarch.Addr(tr.DataBuffer), b[:]); err != nil {
		return false
	}
	return hostarch.ByteOrder.Uint32(b[0:]) == graphicBufferFlatSize &&
		hostarch.ByteOrder.Uint32(b[4:]) == 1 &&
		hostarch.ByteOrder.Uint32(b[8:]) == graphicBufferMagic
}

// gainingWindowFocus recognizes the window manager telling the process its
// window got the focus.
func (t *Thread) gainingWindowFocus(tr *linux.BinderTransactionData) bool {
	if tr.Code != opWindowFocusChanged || tr.DataSize != windowFocusChangedSize {
		return false
	}
	b := make([]byte, len(windowFocusChangedHeader)+4)
	if err := t.CopyInBytes(hostarch.Addr(tr.DataBuffer), b); err != nil {
		return false
	}
	if !bytes.Equal(b[:len(windowFocusChangedHeader)], windowFocusChangedHeader) {
		return false
	}
	return hostarch.ByteOrder.Uint32(b[len(windowFocusChangedHeader):]) == 1
}
