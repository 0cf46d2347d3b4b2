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

// Package tracker owns the capture state of a session and tracks which
// resources the frame being captured touches.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/fault"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

const (
	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = fault.Const("Invalid capture state transition")
	// ErrMissingBakedCommands is returned when a submitted command buffer was
	// never baked.
	ErrMissingBakedCommands = fault.Const("Submitted command buffer has no baked commands")
)

// State is the capture state of a session.
type State int

const (
	// Idle is the state before capture or replay starts.
	Idle State = iota
	// Writing is background capture outside of a frame.
	Writing
	// WritingCapframe is capture of the frame being recorded.
	WritingCapframe
	// Reading is the loading of a capture.
	Reading
	// Executing is the replay of a loaded capture.
	Executing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Writing:
		return "Writing"
	case WritingCapframe:
		return "WritingCapframe"
	case Reading:
		return "Reading"
	case Executing:
		return "Executing"
	default:
		return "Unknown"
	}
}

// IsWriting returns true for the capture states.
func (s State) IsWriting() bool { return s == Writing || s == WritingCapframe }

// IsReplaying returns true for the replay states.
func (s State) IsReplaying() bool { return s == Reading || s == Executing }

func validTransition(from, to State) bool {
	switch {
	case from == to:
		return true
	case from == Idle:
		return to == Writing || to == Reading
	case from == Writing:
		return to == Idle || to == WritingCapframe
	case from == WritingCapframe:
		return to == Writing || to == Idle
	case from == Reading:
		return to == Executing || to == Idle
	case from == Executing:
		return to == Reading
	}
	return false
}

// Frame is what a closed frame capture collected.
type Frame struct {
	// Referenced is the sorted list of resources the frame used.
	Referenced []id.ID
	// RefTypes is how each referenced resource was used.
	RefTypes map[id.ID]resource.RefType
	// Chunks is the list of chunks recorded into the frame, in write order.
	Chunks []*chunk.Chunk
	// CmdBuffers is the list of baked command buffers submitted.
	CmdBuffers []*resource.Record
}

// Tracker owns the capture state and the frame bookkeeping of one session.
// It is safe for concurrent use.
type Tracker struct {
	mgr *resource.Manager

	// capMu guards state and is held across every decision that depends on
	// whether a frame is being captured.
	capMu sync.Mutex
	state State
	// published is state, readable while a decision holds capMu.
	published atomic.Int32

	refMu     sync.Mutex
	dirty     map[id.ID]struct{}
	pending   map[id.ID]struct{}
	frameRefs map[id.ID]resource.RefType

	frameMu     sync.Mutex
	frameChunks []*chunk.Chunk

	cmdMu      sync.Mutex
	cmdRecords []*resource.Record
}

// New returns a Tracker in the Idle state that releases frame records
// through mgr.
func New(mgr *resource.Manager) *Tracker {
	return &Tracker{
		mgr:       mgr,
		dirty:     map[id.ID]struct{}{},
		pending:   map[id.ID]struct{}{},
		frameRefs: map[id.ID]resource.RefType{},
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	return t.state
}

// Peek returns the state without waiting for a decision in progress. It is
// meant for callers already inside Decide.
func (t *Tracker) Peek() State { return State(t.published.Load()) }

// SetState changes the state. Frame capture must use BeginFrame, EndFrame
// and AbortFrame instead.
func (t *Tracker) SetState(ctx context.Context, s State) error {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	if s == WritingCapframe || t.state == WritingCapframe {
		if s != t.state {
			return errors.Wrapf(ErrInvalidTransition, "%v -> %v outside of frame capture", t.state, s)
		}
	}
	return t.setLocked(ctx, s)
}

func (t *Tracker) setLocked(ctx context.Context, s State) error {
	if !validTransition(t.state, s) {
		return errors.Wrapf(ErrInvalidTransition, "%v -> %v", t.state, s)
	}
	if t.state != s {
		log.D(ctx, "Capture state %v -> %v", t.state, s)
	}
	t.state = s
	t.published.Store(int32(s))
	return nil
}

// Decide calls f with whether a frame is being captured. The state cannot
// change until f returns, so everything f marks belongs to one side of a
// frame boundary. f must not call State, SetState or the frame helpers.
func (t *Tracker) Decide(f func(inFrame bool) error) error {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	return f(t.state == WritingCapframe)
}

// BeginFrame starts capturing a frame.
func (t *Tracker) BeginFrame(ctx context.Context) error {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	if t.state != Writing {
		return errors.Wrapf(ErrInvalidTransition, "Cannot begin a frame in %v", t.state)
	}
	t.resetFrame()
	return t.setLocked(ctx, WritingCapframe)
}

// EndFrame finishes the frame capture and returns what it collected.
// Resources dirtied during the frame become dirty. If end is not nil the chunk
// it returns is the last frame chunk; no other frame chunk can follow it. If
// end fails the frame stays open.
func (t *Tracker) EndFrame(ctx context.Context, end func() (*chunk.Chunk, error)) (*Frame, error) {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	if t.state != WritingCapframe {
		return nil, errors.Wrapf(ErrInvalidTransition, "Cannot end a frame in %v", t.state)
	}
	if end != nil {
		c, err := end()
		if err != nil {
			return nil, err
		}
		t.AddFrameChunk(c)
	}

	t.refMu.Lock()
	for i := range t.pending {
		t.dirty[i] = struct{}{}
	}
	t.pending = map[id.ID]struct{}{}
	f := &Frame{RefTypes: t.frameRefs}
	for i := range t.frameRefs {
		f.Referenced = append(f.Referenced, i)
	}
	t.frameRefs = map[id.ID]resource.RefType{}
	t.refMu.Unlock()
	slices.Sort(f.Referenced)

	t.frameMu.Lock()
	f.Chunks, t.frameChunks = t.frameChunks, nil
	t.frameMu.Unlock()

	t.cmdMu.Lock()
	f.CmdBuffers, t.cmdRecords = t.cmdRecords, nil
	t.cmdMu.Unlock()
	for _, r := range f.CmdBuffers {
		t.mgr.ReleaseRecord(r)
	}

	log.I(ctx, "Frame captured: %d resources, %d command buffers, %d chunks",
		len(f.Referenced), len(f.CmdBuffers), len(f.Chunks))
	return f, t.setLocked(ctx, Writing)
}

// AbortFrame drops everything collected for the frame being captured and
// returns to Idle.
func (t *Tracker) AbortFrame(ctx context.Context, cause error) {
	t.capMu.Lock()
	defer t.capMu.Unlock()
	if t.state != WritingCapframe {
		return
	}
	log.E(ctx, "Frame capture aborted: %v", cause)
	t.refMu.Lock()
	for i := range t.pending {
		t.dirty[i] = struct{}{}
	}
	t.refMu.Unlock()
	t.resetFrame()
	t.state = Idle
	t.published.Store(int32(Idle))
}

// resetFrame must be called with capMu held.
func (t *Tracker) resetFrame() {
	t.refMu.Lock()
	t.frameRefs = map[id.ID]resource.RefType{}
	t.pending = map[id.ID]struct{}{}
	t.refMu.Unlock()

	t.frameMu.Lock()
	t.frameChunks = nil
	t.frameMu.Unlock()

	t.cmdMu.Lock()
	records := t.cmdRecords
	t.cmdRecords = nil
	t.cmdMu.Unlock()
	for _, r := range records {
		t.mgr.ReleaseRecord(r)
	}
}

// MarkDirty marks the resource as modified outside of a frame.
func (t *Tracker) MarkDirty(i id.ID) {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	t.dirty[i] = struct{}{}
}

// MarkPendingDirty marks the resource as modified during the frame. It
// becomes dirty once the frame ends.
func (t *Tracker) MarkPendingDirty(i id.ID) {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	t.pending[i] = struct{}{}
}

// IsDirty returns true if the resource was modified outside of a frame.
func (t *Tracker) IsDirty(i id.ID) bool {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	_, ok := t.dirty[i]
	return ok
}

// IsPendingDirty returns true if the resource was modified during the frame.
func (t *Tracker) IsPendingDirty(i id.ID) bool {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	_, ok := t.pending[i]
	return ok
}

// MarkFrameReferenced records that the frame uses the resource as ref.
func (t *Tracker) MarkFrameReferenced(i id.ID, ref resource.RefType) {
	if i == id.Null {
		return
	}
	t.refMu.Lock()
	defer t.refMu.Unlock()
	t.frameRefs[i] = t.frameRefs[i].Compose(ref)
}

// RefType returns how the frame uses the resource so far.
func (t *Tracker) RefType(i id.ID) resource.RefType {
	t.refMu.Lock()
	defer t.refMu.Unlock()
	return t.frameRefs[i]
}

// FrameReferenced returns the sorted list of resources the frame uses.
func (t *Tracker) FrameReferenced() []id.ID {
	t.refMu.Lock()
	out := make([]id.ID, 0, len(t.frameRefs))
	for i := range t.frameRefs {
		out = append(out, i)
	}
	t.refMu.Unlock()
	slices.Sort(out)
	return out
}

// MarkSparseMapReferenced marks every memory object bound to s as read by
// the frame.
func (t *Tracker) MarkSparseMapReferenced(s *resource.SparseMapping) {
	if s == nil {
		return
	}
	for _, m := range s.Memories() {
		t.MarkFrameReferenced(m, resource.Read)
	}
}

// AddFrameChunk appends c to the chunks of the frame.
func (t *Tracker) AddFrameChunk(c *chunk.Chunk) {
	t.frameMu.Lock()
	defer t.frameMu.Unlock()
	t.frameChunks = append(t.frameChunks, c)
}

// FrameChunks returns a copy of the chunks of the frame so far.
func (t *Tracker) FrameChunks() []*chunk.Chunk {
	t.frameMu.Lock()
	defer t.frameMu.Unlock()
	return append([]*chunk.Chunk(nil), t.frameChunks...)
}

// AddCmdBufferRecord keeps r alive until the frame ends.
func (t *Tracker) AddCmdBufferRecord(r *resource.Record) {
	r.AddRef()
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()
	t.cmdRecords = append(t.cmdRecords, r)
}

// CmdBufferRecords returns a copy of the command buffers submitted in the
// frame so far.
func (t *Tracker) CmdBufferRecords() []*resource.Record {
	t.cmdMu.Lock()
	defer t.cmdMu.Unlock()
	return append([]*resource.Record(nil), t.cmdRecords...)
}
