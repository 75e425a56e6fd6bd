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

package memmap

import (
	"context"
	"testing"

	"github.com/ExpressOS/expressos/pkg/hostarch"
)

type idMappable uint64

func (m idMappable) ID() uint64                                          { return uint64(m) }
func (idMappable) ReadPage(context.Context, []byte, uint32) (int, error) { return 0, nil }
func (idMappable) AlienShadowBase() (hostarch.Addr, bool)                { return 0, false }
func (idMappable) IncRef()                                               {}
func (idMappable) DecRef(context.Context)                                {}

func TestSameBacking(t *testing.T) {
	for _, test := range []struct {
		name string
		a, b Mappable
		want bool
	}{
		{name: "both nil", want: true},
		{name: "one nil", a: idMappable(1), want: false},
		{name: "same id", a: idMappable(1), b: idMappable(1), want: true},
		{name: "different id", a: idMappable(1), b: idMappable(2), want: false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := SameBacking(test.a, test.b); got != test.want {
				t.Errorf("SameBacking(%v, %v): got %t, want %t", test.a, test.b, got, test.want)
			}
		})
	}
}
