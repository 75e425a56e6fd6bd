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
	"unicode/utf16"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

// AppInfo describes the Android application a process runs. It is handed to
// the helper so that the framework side can attach to the process.
type AppInfo struct {
	PackageName      string
	UID              int32
	Flags            int32
	SourceDir        string
	DataDir          string
	Enabled          bool
	TargetSdkVersion int32
	Intent           string
}

// parcel is a little-endian Android parcel writer.
type parcel struct {
	buf []byte
}

func (p *parcel) writeInt32(v int32) {
	p.buf = hostarch.ByteOrder.AppendUint32(p.buf, uint32(v))
}

// writeString16 writes a length-prefixed, NUL-terminated UTF-16 string
// padded to four bytes.
func (p *parcel) writeString16(s string) {
	u := utf16.Encode([]rune(s))
	p.writeInt32(int32(len(u)))
	for _, c := range u {
		p.buf = hostarch.ByteOrder.AppendUint16(p.buf, c)
	}
	p.buf = hostarch.ByteOrder.AppendUint16(p.buf, 0)
	for len(p.buf)%4 != 0 {
		p.buf = append(p.buf, 0)
	}
}

// Parcel returns the parcel encoding of the application info. The package
// name doubles as the process name and the task affinity, and the source
// dir as the public source dir.
func (a *AppInfo) Parcel() []byte {
	var p parcel
	p.writeString16(a.PackageName)
	p.writeString16(a.PackageName)
	p.writeString16(a.PackageName)
	p.writeInt32(a.UID)
	p.writeInt32(a.Flags)
	p.writeString16(a.SourceDir)
	p.writeString16(a.SourceDir)
	p.writeString16(a.DataDir)
	enabled := int32(0)
	if a.Enabled {
		enabled = 1
	}
	p.writeInt32(enabled)
	p.writeInt32(a.TargetSdkVersion)
	p.writeString16(a.Intent)
	return p.buf
}
