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
	"context"
	"io"

	"github.com/ExpressOS/expressos/pkg/helper"
)

// consoleFlushThreshold is the amount of buffered output that forces a
// flush.
const consoleFlushThreshold = 4096

// Console buffers application output until it is flushed to a sink, or to
// the helper's console when there is no sink.
type Console struct {
	buf    bytes.Buffer
	sink   io.Writer
	helper *helper.Client

	// ctx is used by writes that trigger a flush.
	ctx func() context.Context
}

// Write implements io.Writer.Write.
func (c *Console) Write(p []byte) (int, error) {
	n, _ := c.buf.Write(p)
	if c.buf.Len() >= consoleFlushThreshold {
		if err := c.Flush(c.ctx()); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Buffered returns the number of bytes not yet flushed.
func (c *Console) Buffered() int {
	return c.buf.Len()
}

// Flush writes out everything buffered.
func (c *Console) Flush(ctx context.Context) error {
	defer c.buf.Reset()
	if c.sink != nil {
		_, err := c.sink.Write(c.buf.Bytes())
		return err
	}
	data := c.buf.Bytes()
	chunk := len(c.helper.SyncBuffer())
	for len(data) > 0 {
		n := min(len(data), chunk)
		if err := c.helper.ConsoleWrite(ctx, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
