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
	"github.com/animaxdev/renderdoc/capture/coherent"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/pkg/errors"
)

// Range is a range of mapped memory to flush. Offset is from the start of the
// memory object. Size may be WholeSize.
type Range struct {
	Memory *resource.Wrapped
	Offset uint64
	Size   uint64
}

// MapMemory maps a range of mem. Coherent mappings are diffed and captured on
// submission, others are captured when the application flushes them.
func (d *Driver) MapMemory(ctx context.Context, mem *resource.Wrapped, offset, size uint64, isCoherent bool) ([]byte, error) {
	r, err := recordOf(mem)
	if err != nil {
		return nil, err
	}
	data, err := d.dispatch.MapMemory(ctx, d.device.Real, mem.Real, offset, size)
	if err != nil {
		return nil, err
	}
	st := &coherent.MapState{
		Mem:      mem.ID,
		Offset:   offset,
		Size:     uint64(len(data)),
		Coherent: isCoherent,
		Mapped:   data,
	}
	d.memMu.Lock()
	r.MemMap = st
	d.memMu.Unlock()
	if isCoherent {
		d.maps.Add(st)
	}
	return data, nil
}

func (d *Driver) mapping(mem *resource.Wrapped) (*coherent.MapState, error) {
	r, err := recordOf(mem)
	if err != nil {
		return nil, err
	}
	d.memMu.Lock()
	defer d.memMu.Unlock()
	if r.MemMap == nil || r.MemMap.Mapped == nil {
		return nil, errors.Errorf("%v is not mapped", mem.ID)
	}
	return r.MemMap, nil
}

// UnmapMemory unmaps mem. Changes to a coherent mapping made during a frame
// are captured first.
func (d *Driver) UnmapMemory(ctx context.Context, mem *resource.Wrapped) error {
	st, err := d.mapping(mem)
	if err != nil {
		return err
	}
	err = d.tracker.Decide(func(inFrame bool) error {
		if !inFrame {
			d.tracker.MarkDirty(mem.ID)
			return nil
		}
		if !st.Coherent || st.Flushed {
			return nil
		}
		start, end, found := 0, len(st.Mapped), true
		if st.RefData != nil {
			start, end, found = coherent.FindDiffRange(st.Mapped, st.RefData)
		}
		if !found {
			return nil
		}
		if end > len(st.Mapped) {
			end = len(st.Mapped)
		}
		return d.captureFlush(st, start, end)
	})
	if err != nil {
		return err
	}
	d.maps.Remove(mem.ID)
	d.memMu.Lock()
	st.Mapped = nil
	mem.Record.MemMap = nil
	d.memMu.Unlock()
	d.dispatch.UnmapMemory(ctx, d.device.Real, mem.Real)
	return nil
}

// captureFlush adds the contents of [start, end) of the mapping to the frame.
// It must be called from within a frame decision.
func (d *Driver) captureFlush(st *coherent.MapState, start, end int) error {
	c, err := d.write(chunk.FlushMappedMemory, &flushMappedMemory{
		Memory: st.Mem,
		Offset: st.Offset + uint64(start),
		Data:   st.Mapped[start:end],
	})
	if err != nil {
		return err
	}
	d.tracker.AddFrameChunk(c)
	d.tracker.MarkPendingDirty(st.Mem)
	d.tracker.MarkFrameReferenced(st.Mem, resource.Write)
	return nil
}

// FlushMappedMemoryRanges flushes ranges of mapped memory. During a frame the
// flushed contents are captured.
func (d *Driver) FlushMappedMemoryRanges(ctx context.Context, ranges []Range) error {
	type flush struct {
		st         *coherent.MapState
		start, end int
	}
	real := make([]MappedRange, len(ranges))
	flushes := make([]flush, len(ranges))
	for i, r := range ranges {
		st, err := d.mapping(r.Memory)
		if err != nil {
			return err
		}
		if r.Offset < st.Offset {
			return errors.Errorf("Flush of %v at %d is before the mapping at %d", r.Memory.ID, r.Offset, st.Offset)
		}
		start := r.Offset - st.Offset
		end := uint64(len(st.Mapped))
		if r.Size != WholeSize && start+r.Size < end {
			end = start + r.Size
		}
		if start > end {
			start = end
		}
		real[i] = MappedRange{Memory: r.Memory.Real, Offset: r.Offset, Size: r.Size}
		flushes[i] = flush{st, int(start), int(end)}
	}
	if err := d.dispatch.FlushMappedMemoryRanges(ctx, d.device.Real, real); err != nil {
		return err
	}
	return d.tracker.Decide(func(inFrame bool) error {
		for _, f := range flushes {
			f.st.Flushed = true
			if !inFrame {
				d.tracker.MarkDirty(f.st.Mem)
				continue
			}
			if err := d.captureFlush(f.st, f.start, f.end); err != nil {
				return err
			}
		}
		return nil
	})
}

// coherentFlusher flushes the changed ranges found by the differ.
type coherentFlusher struct{ d *Driver }

func (f coherentFlusher) FlushMappedRange(ctx context.Context, m *coherent.MapState, start, end int) error {
	w, err := f.d.mgr.Lookup(m.Mem)
	if err != nil {
		return err
	}
	r := MappedRange{Memory: w.Real, Offset: m.Offset + uint64(start), Size: uint64(end - start)}
	if err := f.d.dispatch.FlushMappedMemoryRanges(ctx, f.d.device.Real, []MappedRange{r}); err != nil {
		return err
	}
	c, err := f.d.write(chunk.FlushMappedMemory, &flushMappedMemory{
		Memory: m.Mem,
		Offset: r.Offset,
		Data:   m.Mapped[start:end],
	})
	if err != nil {
		return err
	}
	f.d.tracker.AddFrameChunk(c)
	coherentFlushes.Inc()
	return nil
}
