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

package pgalloc

import (
	"context"
	"time"
)

// dropLogPeriod bounds how often best-effort failures are logged.
const dropLogPeriod = time.Second

// contextID is this package's type for context.Context.Value keys.
type contextID int

const (
	// CtxMemory is a Context.Value key for a *Memory.
	CtxMemory contextID = iota
)

// WithMemory returns a context carrying m.
func WithMemory(ctx context.Context, m *Memory) context.Context {
	return context.WithValue(ctx, CtxMemory, m)
}

// MemoryFromContext returns the Memory used by ctx, or nil if no such Memory
// exists.
func MemoryFromContext(ctx context.Context) *Memory {
	if v := ctx.Value(CtxMemory); v != nil {
		return v.(*Memory)
	}
	return nil
}
