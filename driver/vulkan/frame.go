// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vulkan

import (
	"context"
	"io"
	"sort"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/pkg/errors"
)

// BeginFrameCapture starts capturing a frame.
func (d *Driver) BeginFrameCapture(ctx context.Context) error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if err := d.tracker.BeginFrame(ctx); err != nil {
		return err
	}
	d.frame++
	c, err := d.write(chunk.CaptureBegin, &frameMarker{Frame: d.frame})
	if err != nil {
		d.tracker.AbortFrame(ctx, err)
		abortedFrames.Inc()
		return err
	}
	d.tracker.AddFrameChunk(c)
	log.I(ctx, "Capturing frame %d", d.frame)
	return nil
}

// EndFrameCapture finishes the frame capture and returns the capture. It
// holds the chunks of every resource the frame referenced and their parents,
// the chunks of every submitted command buffer, and the frame chunks in write
// order.
func (d *Driver) EndFrameCapture(ctx context.Context) (*chunk.Capture, error) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	f, err := d.tracker.EndFrame(ctx, func() (*chunk.Chunk, error) {
		return d.write(chunk.CaptureEnd, &frameMarker{Frame: d.frame})
	})
	if err != nil {
		return nil, err
	}

	seen := map[*resource.Record]bool{}
	records := []*resource.Record{}
	var visit func(r *resource.Record)
	visit = func(r *resource.Record) {
		if r == nil || seen[r] {
			return
		}
		seen[r] = true
		records = append(records, r)
		for _, p := range r.Parents() {
			visit(p)
		}
	}
	for _, i := range f.Referenced {
		visit(d.mgr.Record(i))
	}
	for _, r := range f.CmdBuffers {
		visit(r)
	}

	chunks := []*chunk.Chunk{}
	for _, r := range records {
		chunks = append(chunks, r.Chunks()...)
	}
	sort.Sort(chunk.BySeq(chunks))
	chunks = append(chunks, f.Chunks...)

	c := &chunk.Capture{Header: d.header, Chunks: chunks}
	d.last = c
	log.I(ctx, "Frame %d: %d records, %d chunks", d.frame, len(records), len(chunks))
	return c, nil
}

// LastCapture returns the last frame captured, or nil.
func (d *Driver) LastCapture() *chunk.Capture {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	return d.last
}

// WriteCapture writes the last frame captured to w.
func (d *Driver) WriteCapture(w io.Writer) error {
	c := d.LastCapture()
	if c == nil {
		return errors.New("No frame has been captured")
	}
	return c.Write(w)
}
