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


package linux

import (
	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// Binder driver commands, from drivers/staging/android/binder.h.
const (
	BC_TRANSACTION                = 0x40286300
	BC_REPLY                      = 0x40286301
	BC_ACQUIRE_RESULT             = 0x40046302
	BC_FREE_BUFFER                = 0x40046303
	BC_INCREFS                    = 0x40046304
	BC_ACQUIRE                    = 0x40046305
	BC_RELEASE                    = 0x40046306
	BC_DECREFS                    = 0x40046307
	BC_INCREFS_DONE               = 0x40086308
	BC_ACQUIRE_DONE               = 0x40086309
	BC_ATTEMPT_ACQUIRE            = 0x4008630a
	BC_REGISTER_LOOPER            = 0x0000630b
	BC_ENTER_LOOPER               = 0x0000630c
	BC_EXIT_LOOPER                = 0x0000630d
	BC_REQUEST_DEATH_NOTIFICATION = 0x4008630e
	BC_CLEAR_DEATH_NOTIFICATION   = 0x4008630f
	BC_DEAD_BINDER_DONE           = 0x40046310
)

// Binder driver returns.
const (
	BR_ERROR                         = 0x80047200
	BR_OK                            = 0x00007201
	BR_TRANSACTION                   = 0x80287202
	BR_REPLY                         = 0x80287203
	BR_ACQUIRE_RESULT                = 0x80047204
	BR_DEAD_REPLY                    = 0x00007205
	BR_TRANSACTION_COMPLETE          = 0x00007206
	BR_INCREFS                       = 0x80087207
	BR_ACQUIRE                       = 0x80087208
	BR_RELEASE                       = 0x80087209
	BR_DECREFS                       = 0x8008720a
	BR_ATTEMPT_ACQUIRE               = 0x800c720b
	BR_NOOP                          = 0x0000720c
	BR_SPAWN_LOOPER                  = 0x0000720d
	BR_FINISHED                      = 0x0000720e
	BR_DEAD_BINDER                   = 0x8004720f
	BR_CLEAR_DEATH_NOTIFICATION_DONE = 0x80047210
	BR_FAILED_REPLY                  = 0x00007211
)

// Types of struct flat_binder_object.
const (
	BINDER_TYPE_FD     = 0x66642a85
	BINDER_TYPE_HANDLE = 0x73682a85
)

// BinderWriteRead is struct binder_write_read on i386.
type BinderWriteRead struct {
	WriteSize     uint32
	WriteConsumed uint32
	WriteBuffer   uint32
	ReadSize      uint32
	ReadConsumed  uint32
	ReadBuffer    uint32
}

func (b *BinderWriteRead) fields() [6]*uint32 {
	return [6]*uint32{&b.WriteSize, &b.WriteConsumed, &b.WriteBuffer, &b.ReadSize, &b.ReadConsumed, &b.ReadBuffer}
}

// MarshalBytes encodes b into dst.
func (b *BinderWriteRead) MarshalBytes(dst []byte) []byte {
	for _, f := range b.fields() {
		hostarch.ByteOrder.PutUint32(dst, *f)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes decodes b from src.
func (b *BinderWriteRead) UnmarshalBytes(src []byte) []byte {
	for _, f := range b.fields() {
		*f = hostarch.ByteOrder.Uint32(src)
		src = src[4:]
	}
	return src
}

// BinderTransactionData is struct binder_transaction_data on i386.
type BinderTransactionData struct {
	Target      uint32
	Cookie      uint32
	Code        uint32
	Flags       uint32
	SenderPID   uint32
	SenderEUID  uint32
	DataSize    uint32
	OffsetsSize uint32
	DataBuffer  uint32
	DataOffsets uint32
}

// SizeOfBinderTransactionData is the size of BinderTransactionData.
const SizeOfBinderTransactionData = 40

// Offsets of the two pointers of BinderTransactionData.
const (
	BinderDataBufferOffset  = 32
	BinderDataOffsetsOffset = 36
)

func (t *BinderTransactionData) fields() [10]*uint32 {
	return [10]*uint32{
		&t.Target, &t.Cookie, &t.Code, &t.Flags, &t.SenderPID, &t.SenderEUID,
		&t.DataSize, &t.OffsetsSize, &t.DataBuffer, &t.DataOffsets,
	}
}

// MarshalBytes encodes t into dst.
func (t *BinderTransactionData) MarshalBytes(dst []byte) []byte {
	for _, f := range t.fields() {
		hostarch.ByteOrder.PutUint32(dst, *f)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes decodes t from src.
func (t *BinderTransactionData) UnmarshalBytes(src []byte) []byte {
	for _, f := range t.fields() {
		*f = hostarch.ByteOrder.Uint32(src)
		src = src[4:]
	}
	return src
}

// FlatBinderObject is struct flat_binder_object on i386.
type FlatBinderObject struct {
	Type   uint32
	Flags  uint32
	Handle uint32
	Cookie uint32
}

// SizeOfFlatBinderObject is the size of FlatBinderObject.
const SizeOfFlatBinderObject = 16

// FlatBinderHandleOffset is the offset of the binder/handle union.
const FlatBinderHandleOffset = 8

// UnmarshalBytes decodes o from src.
func (o *FlatBinderObject) UnmarshalBytes(src []byte) []byte {
	o.Type = hostarch.ByteOrder.Uint32(src[0:])
	o.Flags = hostarch.ByteOrder.Uint32(src[4:])
	o.Handle = hostarch.ByteOrder.Uint32(src[8:])
	o.Cookie = hostarch.ByteOrder.Uint32(src[12:])
	return src[SizeOfFlatBinderObject:]
}
