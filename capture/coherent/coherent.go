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

// Package coherent finds and flushes the bytes an application changed in
// coherent memory mappings, which are written without explicit flush calls.
package coherent

import (
	"context"
	"sync"

	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/log"
)

// MapState is the state of one persistent memory mapping.
type MapState struct {
	// Mem is the memory object mapped.
	Mem id.ID
	// Offset and Size describe the mapped range.
	Offset, Size uint64
	// Coherent is true if the mapping does not require explicit flushes.
	Coherent bool
	// Flushed is true once the application has flushed the mapping itself.
	Flushed bool
	// Mapped is the live mapped memory, nil once unmapped.
	Mapped []byte
	// RefData is the contents last captured. Allocated on first flush.
	RefData []byte
}

// FindDiffRange returns the smallest range [start, end) outside of which live
// and ref are identical. found is false if the buffers are identical. Bytes
// beyond the end of the shorter buffer count as changed.
func FindDiffRange(live, ref []byte) (start, end int, found bool) {
	n := len(live)
	if len(ref) < n {
		n = len(ref)
	}
	start = 0
	for start < n && live[start] == ref[start] {
		start++
	}
	if start == n && len(live) == len(ref) {
		return 0, 0, false
	}
	end = len(live)
	if len(ref) > end {
		end = len(ref)
	}
	if len(live) == len(ref) {
		for end > start && live[end-1] == ref[end-1] {
			end--
		}
	}
	return start, end, true
}

// List is the set of currently mapped coherent memory. It is safe for
// concurrent use.
type List struct {
	mu   sync.Mutex
	maps []*MapState
}

// Add registers a coherent mapping.
func (l *List) Add(m *MapState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maps = append(l.maps, m)
}

// Remove unregisters the mapping of the memory object mem.
func (l *List) Remove(mem id.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.maps {
		if m.Mem == mem {
			copy(l.maps[i:], l.maps[i+1:])
			l.maps[len(l.maps)-1] = nil
			l.maps = l.maps[:len(l.maps)-1]
			return
		}
	}
}

// Snapshot returns a copy of the registered mappings.
func (l *List) Snapshot() []*MapState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*MapState, len(l.maps))
	copy(out, l.maps)
	return out
}

// Flusher flushes a changed sub-range of a mapping through the driver.
// start and end are relative to the start of the mapping.
type Flusher interface {
	FlushMappedRange(ctx context.Context, m *MapState, start, end int) error
}

// Marker is told about every memory object that was flushed.
type Marker interface {
	MarkPendingDirty(id.ID)
}

// Differ flushes the changed parts of coherent mappings.
type Differ struct{}

// Process diffs every coherent, mapped and not explicitly flushed mapping in
// maps whose memory is in referenced. For each mapping that changed the
// covering range is flushed, the memory is marked pending-dirty and the
// snapshot is refreshed. It returns the number of mappings flushed.
func (Differ) Process(ctx context.Context, maps []*MapState, referenced map[id.ID]struct{}, f Flusher, m Marker) (int, error) {
	flushed := 0
	for _, state := range maps {
		if !state.Coherent || state.Mapped == nil || state.Flushed {
			continue
		}
		if _, ok := referenced[state.Mem]; !ok {
			continue
		}
		size := int(state.Size)
		if size > len(state.Mapped) {
			size = len(state.Mapped)
		}
		live := state.Mapped[:size]

		start, end, found := 0, size, true
		if state.RefData != nil {
			start, end, found = FindDiffRange(live, state.RefData)
		}
		if !found {
			continue
		}
		if end > size {
			end = size
		}

		log.D(ctx, "Flushing coherent map of %v [%d, %d)", state.Mem, start, end)
		if err := f.FlushMappedRange(ctx, state, start, end); err != nil {
			return flushed, err
		}
		m.MarkPendingDirty(state.Mem)
		if len(state.RefData) != size {
			state.RefData = make([]byte, size)
			copy(state.RefData, live)
		} else {
			copy(state.RefData[start:end], live[start:end])
		}
		flushed++
	}
	return flushed, nil
}
