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

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/pkg/errors"
)

// Submit is one batch of a queue submission.
type Submit struct {
	WaitSemaphores   []*resource.Wrapped
	CommandBuffers   []*resource.Wrapped
	SignalSemaphores []*resource.Wrapped
}

func unwrapAll(ws []*resource.Wrapped) []resource.Handle {
	if len(ws) == 0 {
		return nil
	}
	out := make([]resource.Handle, len(ws))
	for i, w := range ws {
		out[i] = resource.Unwrap(w)
	}
	return out
}

// GetDeviceQueue returns the queue of the device. Asking for the same queue
// again returns the same wrapper. The first queue of the family given to
// Initialise runs the internal command buffers submitted so far.
func (d *Driver) GetDeviceQueue(ctx context.Context, family, index uint32) (*resource.Wrapped, error) {
	if d.device == nil {
		return nil, errors.New("Device not initialised")
	}
	d.queueMu.Lock()
	real := d.dispatch.GetDeviceQueue(ctx, d.device.Real, family, index)
	w, existed := d.mgr.Wrap(d.device.ID, real)
	if existed {
		d.queueMu.Unlock()
		return w, nil
	}
	r := d.mgr.AddRecord(w)
	r.AddParent(d.device.Record)
	d.instance.Record.AddPooledChild(r)
	c, err := d.write(chunk.GetDeviceQueue, &getDeviceQueue{
		Device: d.device.ID,
		Family: family,
		Index:  index,
		Queue:  w.ID,
	})
	if err != nil {
		d.queueMu.Unlock()
		return nil, err
	}
	r.AddChunk(c)

	var pending []*resource.Wrapped
	if family == d.family && d.queue == nil {
		d.queue = w
		pending, d.internal = d.internal, nil
	}
	d.queueMu.Unlock()

	if len(pending) > 0 {
		log.D(ctx, "Submitting %d internal command buffers to %v", len(pending), w.ID)
	}
	for _, cmd := range pending {
		if err := d.submitInternal(ctx, w, cmd); err != nil {
			return w, err
		}
	}
	return w, nil
}

// SubmitInternal runs a command buffer of the capture layer itself. It is
// never captured. If the device has no queue yet the submission waits for
// one.
func (d *Driver) SubmitInternal(ctx context.Context, cmd *resource.Wrapped) error {
	d.queueMu.Lock()
	q := d.queue
	if q == nil {
		d.internal = append(d.internal, cmd)
		d.queueMu.Unlock()
		return nil
	}
	d.queueMu.Unlock()
	return d.submitInternal(ctx, q, cmd)
}

func (d *Driver) submitInternal(ctx context.Context, q, cmd *resource.Wrapped) error {
	return d.dispatch.QueueSubmit(ctx, q.Real, []SubmitInfo{{CommandBuffers: []resource.Handle{cmd.Real}}}, resource.NullHandle)
}

// QueueSubmit submits command buffers to queue. Outside of a frame the
// resources they write become dirty. During a frame everything they use is
// referenced by the frame, changed coherent mappings are captured and one
// chunk is added per submit.
func (d *Driver) QueueSubmit(ctx context.Context, queue *resource.Wrapped, submits []Submit, fence *resource.Wrapped) error {
	real := make([]SubmitInfo, len(submits))
	for i, s := range submits {
		real[i] = SubmitInfo{
			WaitSemaphores:   unwrapAll(s.WaitSemaphores),
			CommandBuffers:   unwrapAll(s.CommandBuffers),
			SignalSemaphores: unwrapAll(s.SignalSemaphores),
		}
	}
	if err := d.dispatch.QueueSubmit(ctx, resource.Unwrap(queue), real, resource.Unwrap(fence)); err != nil {
		return err
	}

	baked := make([][]*resource.Record, len(submits))
	for i, s := range submits {
		baked[i] = make([]*resource.Record, len(s.CommandBuffers))
		for j, cmd := range s.CommandBuffers {
			b := d.bakedOf(cmd)
			if b == nil {
				err := log.Errf(ctx, errors.Wrapf(tracker.ErrMissingBakedCommands, "%v", resource.IDOf(cmd)),
					"Submitting to %v", resource.IDOf(queue))
				if d.tracker.State() == tracker.WritingCapframe {
					abortedFrames.Inc()
				}
				d.tracker.AbortFrame(ctx, err)
				return err
			}
			baked[i][j] = b
		}
	}

	for _, s := range baked {
		for _, b := range s {
			d.layouts.Apply(b.CmdInfo.ImageBarriers)
		}
	}

	return d.tracker.Decide(func(inFrame bool) error {
		referenced := map[id.ID]struct{}{}
		for i, s := range baked {
			for j, b := range s {
				d.trackSubmitted(b, submits[i].CommandBuffers[j], inFrame, referenced)
			}
		}
		if !inFrame {
			return nil
		}

		d.tracker.MarkFrameReferenced(resource.IDOf(queue), resource.Read)
		d.tracker.MarkFrameReferenced(resource.IDOf(fence), resource.Read)
		for _, s := range submits {
			for _, sem := range s.WaitSemaphores {
				d.tracker.MarkFrameReferenced(sem.ID, resource.Read)
			}
			for _, sem := range s.SignalSemaphores {
				d.tracker.MarkFrameReferenced(sem.ID, resource.Read)
			}
		}

		if d.cfg.Capture.FlushCoherentMaps {
			n, err := d.differ.Process(ctx, d.maps.Snapshot(), referenced, coherentFlusher{d}, d.tracker)
			if err != nil {
				return err
			}
			if n > 0 {
				log.D(ctx, "Captured %d changed coherent mappings", n)
			}
		}

		for i, s := range baked {
			qs := &queueSubmit{
				Queue:          resource.IDOf(queue),
				Cmds:           make([]id.ID, len(s)),
				WaitSemaphores: uint32(len(submits[i].WaitSemaphores)),
			}
			if i == len(baked)-1 {
				qs.Fence = resource.IDOf(fence)
			}
			for j, b := range s {
				qs.Cmds[j] = b.ID
			}
			c, err := d.write(chunk.QueueSubmit, qs)
			if err != nil {
				return err
			}
			d.tracker.AddFrameChunk(c)
		}
		capturedSubmissions.Inc()
		return nil
	})
}

// trackSubmitted does the bookkeeping of one submitted command buffer and of
// the secondaries it executes.
func (d *Driver) trackSubmitted(b *resource.Record, cmd *resource.Wrapped, inFrame bool, referenced map[id.ID]struct{}) {
	for _, r := range append([]*resource.Record{b}, b.CmdInfo.SubCmds...) {
		info := r.CmdInfo
		if !inFrame {
			for _, i := range info.Dirtied {
				d.tracker.MarkDirty(i)
			}
			continue
		}
		for _, i := range info.Dirtied {
			d.tracker.MarkPendingDirty(i)
		}
		for _, set := range info.BoundDescSets {
			for i, bind := range set.DescInfo.BindFrameRefs() {
				referenced[i] = struct{}{}
				d.tracker.MarkFrameReferenced(i, bind.Ref)
				if bind.Flags&resource.SparseRefBit != 0 {
					if sr := d.mgr.Record(i); sr != nil {
						d.tracker.MarkSparseMapReferenced(sr.Sparse)
					}
				}
			}
		}
		for _, sp := range info.Sparse {
			d.tracker.MarkSparseMapReferenced(sp)
		}
		info.AddResourceReferences(d.tracker)
		info.AddReferencedIDs(referenced)
		d.tracker.AddCmdBufferRecord(r)
	}
	if inFrame {
		d.tracker.MarkFrameReferenced(cmd.ID, resource.Read)
	}
	b.CmdInfo.ClearDirtied()
}

// QueueWaitIdle waits for queue to finish its work.
func (d *Driver) QueueWaitIdle(ctx context.Context, queue *resource.Wrapped) error {
	if err := d.dispatch.QueueWaitIdle(ctx, resource.Unwrap(queue)); err != nil {
		return err
	}
	return d.tracker.Decide(func(inFrame bool) error {
		if !inFrame {
			return nil
		}
		c, err := d.write(chunk.QueueWaitIdle, &queueWaitIdle{Queue: resource.IDOf(queue)})
		if err != nil {
			return err
		}
		d.tracker.AddFrameChunk(c)
		d.tracker.MarkFrameReferenced(resource.IDOf(queue), resource.Read)
		return nil
	})
}
