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

package eventchannel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// testEmitter is an emitter that can be used in tests. It records all events
// emitted, and whether it has been closed.
type testEmitter struct {
	// mu protects all fields below.
	mu sync.Mutex

	// events contains all emitted events.
	events []proto.Message

	// closed records whether Close() was called.
	closed bool
}

// Emit implements Emitter.Emit.
func (te *testEmitter) Emit(msg proto.Message) (bool, error) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.events = append(te.events, msg)
	return false, nil
}

// Close implements Emitter.Close.
func (te *testEmitter) Close() error {
	te.mu.Lock()
	defer te.mu.Unlock()
	if te.closed {
		return fmt.Errorf("closed called twice")
	}
	te.closed = true
	return nil
}

func named(name string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"name": structpb.NewStringValue(name)}}
}

func nameOf(msg proto.Message) string {
	return msg.(*structpb.Struct).GetFields()["name"].GetStringValue()
}

func TestMultiEmitter(t *testing.T) {
	me := &multiEmitter{}
	var emitters []*testEmitter
	for i := 0; i < 3; i++ {
		te := &testEmitter{}
		emitters = append(emitters, te)
		me.AddEmitter(te)
	}

	names := []string{"foo", "bar", "baz"}
	for _, name := range names {
		if _, err := me.Emit(named(name)); err != nil {
			t.Fatalf("me.Emit(%q) failed: %v", name, err)
		}
	}

	for _, te := range emitters {
		if got, want := len(te.events), len(names); got != want {
			t.Fatalf("emitter got %d events, want %d", got, want)
		}
		for i, name := range names {
			if got := nameOf(te.events[i]); got != name {
				t.Errorf("emitter got message with name %q, want %q", got, name)
			}
		}
	}

	if err := me.Close(); err != nil {
		t.Fatalf("me.Close() failed: %v", err)
	}
	for _, te := range emitters {
		if !te.closed {
			t.Errorf("te.closed got false, want true")
		}
	}
}

func TestRateLimitedEmitter(t *testing.T) {
	te := &testEmitter{}
	// No refill during the test: only the burst gets through.
	rle := RateLimitedEmitterFrom(te, 0, 10)
	for i := 0; i < 50; i++ {
		if _, err := rle.Emit(named("spam")); err != nil {
			t.Fatalf("rle.Emit failed: %v", err)
		}
	}
	if got, want := len(te.events), 10; got != want {
		t.Errorf("got %d events, want %d", got, want)
	}
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
	err    error
}

func (b *bufferCloser) Write(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.Buffer.Write(p)
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestWriterEmitterWireFormat(t *testing.T) {
	var w bufferCloser
	e := WriterEmitter(&w)
	if _, err := e.Emit(named("open")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	b := w.Bytes()
	n, k := binary.Uvarint(b)
	if k <= 0 {
		t.Fatalf("no length prefix in %x", b)
	}
	if got, want := int(n), len(b)-k; got != want {
		t.Fatalf("length prefix: got %d, want %d", got, want)
	}
	var a anypb.Any
	if err := proto.Unmarshal(b[k:], &a); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	var got structpb.Struct
	if err := a.UnmarshalTo(&got); err != nil {
		t.Fatalf("UnmarshalTo failed: %v", err)
	}
	if name := nameOf(&got); name != "open" {
		t.Errorf("decoded name: got %q, want %q", name, "open")
	}

	if err := e.Close(); err != nil || !w.closed {
		t.Errorf("Close: got %v, closed %t", err, w.closed)
	}
}

func TestWriterEmitterHangup(t *testing.T) {
	for _, tc := range []struct {
		err    error
		hangup bool
	}{
		{err: syscall.EPIPE, hangup: true},
		{err: syscall.EIO, hangup: false},
	} {
		e := WriterEmitter(&bufferCloser{err: tc.err})
		hangup, err := e.Emit(named("x"))
		if err == nil {
			t.Errorf("Emit with %v succeeded", tc.err)
		}
		if hangup != tc.hangup {
			t.Errorf("Emit with %v: got hangup %t, want %t", tc.err, hangup, tc.hangup)
		}
	}
}

func TestDebugEmitter(t *testing.T) {
	te := &testEmitter{}
	d := DebugEmitterFrom(te)
	if _, err := d.Emit(named("debug")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(te.events) != 1 {
		t.Fatalf("got %d events, want 1", len(te.events))
	}
	fields := te.events[0].(*structpb.Struct).GetFields()
	if got, want := fields["name"].GetStringValue(), "google.protobuf.Struct"; got != want {
		t.Errorf("name: got %q, want %q", got, want)
	}
	if fields["text"].GetStringValue() == "" {
		t.Errorf("text is empty")
	}
}
