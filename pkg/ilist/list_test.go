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


package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testEntry struct {
	Entry[*testEntry]
	value int
}

func values(l *List[*testEntry]) []int {
	var vs []int
	for e := l.Front(); e != nil; e = e.Next() {
		vs = append(vs, e.value)
	}
	return vs
}

func TestPushAndRemove(t *testing.T) {
	var l List[*testEntry]
	if !l.Empty() {
		t.Fatalf("zero list is not empty")
	}
	es := make([]*testEntry, 5)
	for i := range es {
		es[i] = &testEntry{value: i}
	}
	l.PushBack(es[1])
	l.PushBack(es[2])
	l.PushFront(es[0])
	l.InsertAfter(es[2], es[4])
	l.InsertBefore(es[4], es[3])
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, values(&l)); diff != "" {
		t.Errorf("after inserts (-want +got):\n%s", diff)
	}
	if got, want := l.Len(), 5; got != want {
		t.Errorf("Len: got %d, want %d", got, want)
	}

	for _, tc := range []struct {
		remove int
		want   []int
	}{
		{remove: 2, want: []int{0, 1, 3, 4}},
		{remove: 0, want: []int{1, 3, 4}},
		{remove: 4, want: []int{1, 3}},
		{remove: 1, want: []int{3}},
		{remove: 3, want: nil},
	} {
		l.Remove(es[tc.remove])
		if diff := cmp.Diff(tc.want, values(&l)); diff != "" {
			t.Errorf("after removing %d (-want +got):\n%s", tc.remove, diff)
		}
	}
	if !l.Empty() || l.Back() != nil {
		t.Errorf("list not empty after removing everything")
	}
}

func TestReset(t *testing.T) {
	var l List[*testEntry]
	l.PushBack(&testEntry{value: 1})
	l.Reset()
	if !l.Empty() {
		t.Errorf("Empty after Reset: got false, want true")
	}
}
