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

package resource

import (
	"sync"
	"sync/atomic"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/coherent"
	"github.com/animaxdev/renderdoc/core/data/id"
	"golang.org/x/exp/slices"
)

// RefType classifies how a frame uses a resource.
type RefType int

const (
	// None is no use.
	None RefType = iota
	// Read means the resource is only read.
	Read
	// Write means the resource is written before any read, so its initial
	// contents are not needed.
	Write
	// ReadBeforeWrite means the resource is read and later written, so its
	// initial contents are needed and it ends up modified.
	ReadBeforeWrite
)

func (r RefType) String() string {
	switch r {
	case None:
		return "None"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadBeforeWrite:
		return "ReadBeforeWrite"
	default:
		return "Unknown"
	}
}

// Compose returns the classification of a resource already used as r and
// then used as next.
func (r RefType) Compose(next RefType) RefType {
	switch r {
	case None:
		return next
	case Read:
		if next == Write || next == ReadBeforeWrite {
			return ReadBeforeWrite
		}
		return Read
	default:
		return r
	}
}

// FrameMarker is implemented by the tracker that collects the resources used
// by the captured frame.
type FrameMarker interface {
	MarkFrameReferenced(id.ID, RefType)
}

// Record is the capture-side record of one resource.
type Record struct {
	// ID is the identity of the resource.
	ID id.ID

	// CmdInfo holds what a command buffer recording referenced.
	CmdInfo *CmdBufferInfo
	// Baked is the record of the last finished recording of a command
	// buffer.
	Baked *Record
	// DescInfo holds the bindings of a descriptor set.
	DescInfo *DescriptorSetData
	// MemMap is the current mapping of a memory object.
	MemMap *coherent.MapState
	// Sparse is the memory bound to a sparse resource.
	Sparse *SparseMapping

	refs int32

	chunksMu sync.Mutex
	chunks   []*chunk.Chunk
	parents  []*Record
	pooled   []*Record
}

func newRecord(i id.ID) *Record {
	return &Record{ID: i, refs: 1}
}

// AddRef adds a reference to the record and returns the new count.
func (r *Record) AddRef() int32 { return atomic.AddInt32(&r.refs, 1) }

// Release drops a reference to the record and returns the new count.
func (r *Record) Release() int32 { return atomic.AddInt32(&r.refs, -1) }

// RefCount returns the current reference count.
func (r *Record) RefCount() int32 { return atomic.LoadInt32(&r.refs) }

// AddChunk appends c to the chunks that recreate the resource.
func (r *Record) AddChunk(c *chunk.Chunk) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	r.chunks = append(r.chunks, c)
}

// Chunks returns a copy of the record's chunks.
func (r *Record) Chunks() []*chunk.Chunk {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	return append([]*chunk.Chunk(nil), r.chunks...)
}

// AddParent adds a record that must be serialised whenever r is.
func (r *Record) AddParent(p *Record) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	for _, e := range r.parents {
		if e == p {
			return
		}
	}
	r.parents = append(r.parents, p)
}

// Parents returns a copy of the record's parents.
func (r *Record) Parents() []*Record {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	return append([]*Record(nil), r.parents...)
}

// AddPooledChild adds a record whose lifetime ends with r.
func (r *Record) AddPooledChild(c *Record) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	r.pooled = append(r.pooled, c)
}

// PooledChildren returns a copy of the record's pooled children.
func (r *Record) PooledChildren() []*Record {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	return append([]*Record(nil), r.pooled...)
}

// ImageBarrier is an image layout transition recorded into a command buffer.
type ImageBarrier struct {
	Image       id.ID
	Subresource uint32
	OldLayout   uint32
	NewLayout   uint32
}

// CmdBufferInfo is what one recording of a command buffer referenced. It is
// built by the single thread recording the command buffer and read once the
// recording is baked.
type CmdBufferInfo struct {
	// Dirtied is the ordered list of resources written by the commands.
	Dirtied []id.ID
	// BoundDescSets is the ordered list of descriptor sets bound.
	BoundDescSets []*Record
	// Sparse is the list of sparse mappings used directly by the commands.
	Sparse []*SparseMapping
	// ImageBarriers is the ordered list of layout transitions.
	ImageBarriers []ImageBarrier
	// SubCmds is the list of baked secondary command buffers executed.
	SubCmds []*Record
	// FrameRefs is how the commands themselves used resources.
	FrameRefs map[id.ID]RefType

	dirtied map[id.ID]struct{}
}

// NewCmdBufferInfo returns an empty CmdBufferInfo.
func NewCmdBufferInfo() *CmdBufferInfo {
	return &CmdBufferInfo{
		FrameRefs: map[id.ID]RefType{},
		dirtied:   map[id.ID]struct{}{},
	}
}

// MarkDirtied adds i to the dirtied list once.
func (c *CmdBufferInfo) MarkDirtied(i id.ID) {
	if _, ok := c.dirtied[i]; ok {
		return
	}
	c.dirtied[i] = struct{}{}
	c.Dirtied = append(c.Dirtied, i)
}

// ClearDirtied empties the dirtied list.
func (c *CmdBufferInfo) ClearDirtied() {
	c.Dirtied = nil
	c.dirtied = map[id.ID]struct{}{}
}

// AddFrameRef records that the commands used i as ref.
func (c *CmdBufferInfo) AddFrameRef(i id.ID, ref RefType) {
	c.FrameRefs[i] = c.FrameRefs[i].Compose(ref)
}

// AddResourceReferences marks every resource the commands used.
func (c *CmdBufferInfo) AddResourceReferences(m FrameMarker) {
	for _, i := range c.sortedRefs() {
		m.MarkFrameReferenced(i, c.FrameRefs[i])
	}
}

// AddReferencedIDs adds every resource the commands used to set.
func (c *CmdBufferInfo) AddReferencedIDs(set map[id.ID]struct{}) {
	for i := range c.FrameRefs {
		set[i] = struct{}{}
	}
}

func (c *CmdBufferInfo) sortedRefs() []id.ID {
	out := make([]id.ID, 0, len(c.FrameRefs))
	for i := range c.FrameRefs {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// SparseRefBit is set in the flags of a descriptor binding whose resource is
// sparse.
const SparseRefBit uint32 = 1 << 31

// BindRef is how a descriptor set binding references a resource.
type BindRef struct {
	Flags uint32
	Ref   RefType
}

// DescriptorSetData holds the resources bound to a descriptor set. It is safe
// for concurrent use.
type DescriptorSetData struct {
	mu    sync.Mutex
	binds map[id.ID]BindRef
}

// NewDescriptorSetData returns an empty DescriptorSetData.
func NewDescriptorSetData() *DescriptorSetData {
	return &DescriptorSetData{binds: map[id.ID]BindRef{}}
}

// Bind records that the set references i.
func (d *DescriptorSetData) Bind(i id.ID, flags uint32, ref RefType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.binds[i]
	b.Flags |= flags
	b.Ref = b.Ref.Compose(ref)
	d.binds[i] = b
}

// Unbind removes i from the set.
func (d *DescriptorSetData) Unbind(i id.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.binds, i)
}

// BindFrameRefs returns a copy of the bindings of the set.
func (d *DescriptorSetData) BindFrameRefs() map[id.ID]BindRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[id.ID]BindRef, len(d.binds))
	for k, v := range d.binds {
		out[k] = v
	}
	return out
}

// SparseMapping is the memory bound to the pages of a sparse resource. It is
// safe for concurrent use.
type SparseMapping struct {
	mu    sync.Mutex
	pages map[uint64]id.ID
}

// NewSparseMapping returns an empty SparseMapping.
func NewSparseMapping() *SparseMapping {
	return &SparseMapping{pages: map[uint64]id.ID{}}
}

// Update binds mem at offset, or unbinds the page if mem is id.Null.
func (s *SparseMapping) Update(offset uint64, mem id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem == id.Null {
		delete(s.pages, offset)
		return
	}
	s.pages[offset] = mem
}

// Memories returns the distinct memory objects bound, in ID order.
func (s *SparseMapping) Memories() []id.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[id.ID]struct{}{}
	out := []id.ID{}
	for _, m := range s.pages {
		if _, ok := seen[m]; !ok {
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out
}
