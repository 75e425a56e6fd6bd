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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppInfoParcel(t *testing.T) {
	info := AppInfo{
		PackageName:      "ab",
		UID:              10001,
		Flags:            4,
		SourceDir:        "/a",
		DataDir:          "/d",
		Enabled:          true,
		TargetSdkVersion: 10,
	}
	str := func(a, b byte) []byte {
		return []byte{2, 0, 0, 0, a, 0, b, 0, 0, 0, 0, 0}
	}
	want := bytes.Join([][]byte{
		str('a', 'b'), str('a', 'b'), str('a', 'b'),
		{0x11, 0x27, 0, 0},
		{4, 0, 0, 0},
		str('/', 'a'), str('/', 'a'),
		str('/', 'd'),
		{1, 0, 0, 0},
		{10, 0, 0, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}, nil)
	if diff := cmp.Diff(want, info.Parcel()); diff != "" {
		t.Errorf("parcel mismatch (-want +got):\n%s", diff)
	}
}

func TestParcelString16(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []byte
	}{
		{in: "", want: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{in: "x", want: []byte{1, 0, 0, 0, 'x', 0, 0, 0}},
		{in: "été", want: []byte{3, 0, 0, 0, 0xe9, 0, 't', 0, 0xe9, 0, 0, 0}},
	} {
		var p parcel
		p.writeString16(tc.in)
		if diff := cmp.Diff(tc.want, p.buf); diff != "" {
			t.Errorf("writeString16(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}
