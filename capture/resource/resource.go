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

// Package resource maps driver handles to the logical identifiers that keep a
// capture portable between driver sessions, and holds the per-resource
// records capture is built from.
package resource

import (
	"sync"

	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/fault"
	"github.com/pkg/errors"
)

// ErrUnknownResource is returned when an ID has no live mapping in the
// current session.
const ErrUnknownResource = fault.Const("Unknown resource")

// Handle is a real driver handle.
type Handle uint64

// NullHandle is the handle of no object.
const NullHandle Handle = 0

// Wrapped is the wrapper given out in place of a real driver handle.
type Wrapped struct {
	// Real is the handle the driver knows the object by.
	Real Handle
	// ID is the logical identity of the object in this session.
	ID id.ID
	// Parent is the ID of the owning object, or id.Null.
	Parent id.ID
	// Record is the capture record of the object, if it has one.
	Record *Record
}

// Unwrap returns the real handle of w, or NullHandle if w is nil.
func Unwrap(w *Wrapped) Handle {
	if w == nil {
		return NullHandle
	}
	return w.Real
}

// IDOf returns the ID of w, or id.Null if w is nil.
func IDOf(w *Wrapped) id.ID {
	if w == nil {
		return id.Null
	}
	return w.ID
}

// Manager owns the mapping between real handles, wrappers and IDs. It is
// safe for concurrent use.
type Manager struct {
	gen id.Generator

	mu       sync.RWMutex
	wrappers map[Handle]*Wrapped
	byID     map[id.ID]*Wrapped
	live     map[id.ID]*Wrapped
	records  map[id.ID]*Record
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		wrappers: map[Handle]*Wrapped{},
		byID:     map[id.ID]*Wrapped{},
		live:     map[id.ID]*Wrapped{},
		records:  map[id.ID]*Record{},
	}
}

// Wrap returns a wrapper with a new ID for real. If real is already wrapped
// the existing wrapper is returned unchanged and existed is true.
func (m *Manager) Wrap(parent id.ID, real Handle) (w *Wrapped, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wrappers[real]; ok {
		return w, true
	}
	w = &Wrapped{Real: real, ID: m.gen.New(), Parent: parent}
	m.wrappers[real] = w
	m.byID[w.ID] = w
	return w, false
}

// HasWrapper returns true if real has been wrapped.
func (m *Manager) HasWrapper(real Handle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.wrappers[real]
	return ok
}

// Wrapper returns the wrapper of real, or nil.
func (m *Manager) Wrapper(real Handle) *Wrapped {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wrappers[real]
}

// Lookup returns the wrapper with the given session ID.
func (m *Manager) Lookup(i id.ID) (*Wrapped, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.byID[i]; ok {
		return w, nil
	}
	return nil, errors.Wrapf(ErrUnknownResource, "%v", i)
}

// Resolve returns the real handle of w.
func (m *Manager) Resolve(w *Wrapped) Handle { return Unwrap(w) }

// AddLiveResource registers w as the live object for the capture ID orig.
// A later registration replaces an earlier one.
func (m *Manager) AddLiveResource(orig id.ID, w *Wrapped) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[orig] = w
	m.gen.Observe(orig)
}

// LiveHandle returns the live object registered for the capture ID orig.
func (m *Manager) LiveHandle(orig id.ID) (*Wrapped, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.live[orig]; ok {
		return w, nil
	}
	return nil, errors.Wrapf(ErrUnknownResource, "%v has no live resource", orig)
}

// LiveID returns the session ID of the live object registered for orig, or
// id.Null.
func (m *Manager) LiveID(orig id.ID) id.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return IDOf(m.live[orig])
}

// AddRecord creates the capture record of w.
func (m *Manager) AddRecord(w *Wrapped) *Record {
	r := newRecord(w.ID)
	w.Record = r
	m.mu.Lock()
	m.records[w.ID] = r
	m.mu.Unlock()
	return r
}

// NewRecord creates a record with a new ID that has no driver object, such as
// the baked commands of a command buffer.
func (m *Manager) NewRecord() *Record {
	r := newRecord(m.gen.New())
	m.mu.Lock()
	m.records[r.ID] = r
	m.mu.Unlock()
	return r
}

// Record returns the record with the given ID, or nil.
func (m *Manager) Record(i id.ID) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[i]
}

// ReleaseRecord drops a reference to r. Once the last reference is gone the
// record, its wrapper and its pooled children are forgotten.
func (m *Manager) ReleaseRecord(r *Record) {
	if r == nil || r.Release() > 0 {
		return
	}
	m.mu.Lock()
	delete(m.records, r.ID)
	if w, ok := m.byID[r.ID]; ok && w.Record == r {
		m.forget(w)
	}
	m.mu.Unlock()
	for _, c := range r.PooledChildren() {
		m.ReleaseRecord(c)
	}
}

// Release forgets the wrapper w and releases its record.
func (m *Manager) Release(w *Wrapped) {
	m.mu.Lock()
	m.forget(w)
	m.mu.Unlock()
	m.ReleaseRecord(w.Record)
}

func (m *Manager) forget(w *Wrapped) {
	if m.wrappers[w.Real] == w {
		delete(m.wrappers, w.Real)
	}
	delete(m.byID, w.ID)
}
