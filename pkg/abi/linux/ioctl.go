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

// ioctl(2) requests understood by the kernel, from include/uapi/asm-generic/ioctls.h.
const (
	FIONREAD = 0x541B
)

// Binder ioctls, from drivers/staging/android/binder.h.
const (
	BINDER_WRITE_READ       = 0xc0186201
	BINDER_SET_IDLE_TIMEOUT = 0x40086203
	BINDER_SET_MAX_THREADS  = 0x40046205
	BINDER_SET_IDLE_PRIO    = 0x40046206
	BINDER_SET_CONTEXT_MGR  = 0x40046207
	BINDER_THREAD_EXIT      = 0x40046208
	BINDER_VERSION          = 0xc0046209

	// BinderCurrentProtocolVersion is reported by BINDER_VERSION.
	BinderCurrentProtocolVersion = 7
)

// SizeOfBinderWriteRead is the size of struct binder_write_read on i386.
const SizeOfBinderWriteRead = 24

// Ashmem ioctls, from drivers/staging/android/ashmem.h.
const (
	ASHMEM_SET_NAME         = 0x41007701
	ASHMEM_GET_NAME         = 0x81007702
	ASHMEM_SET_SIZE         = 0x40047703
	ASHMEM_GET_SIZE         = 0x7704
	ASHMEM_SET_PROT_MASK    = 0x40047705
	ASHMEM_GET_PROT_MASK    = 0x7706
	ASHMEM_PIN              = 0x40087707
	ASHMEM_UNPIN            = 0x40087708
	ASHMEM_GET_PIN_STATUS   = 0x7709
	ASHMEM_PURGE_ALL_CACHES = 0x770a

	// AshmemNameLen is the size of the name buffer of ASHMEM_SET_NAME.
	AshmemNameLen = 256

	// SizeOfAshmemPin is the size of struct ashmem_pin.
	SizeOfAshmemPin = 8
)
