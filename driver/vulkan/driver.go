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

// Package vulkan intercepts the queue, command buffer and memory entry
// points of a Vulkan style driver. While capturing it records every call
// into chunks and tracks which resources a frame uses. While replaying it
// rebuilds the frame timeline from the chunks and executes it up to a
// target event.
package vulkan

import (
	"context"
	"sync"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/coherent"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/capture/tracker"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/pkg/errors"
)

// Driver is the interception layer of one capture or replay session. It is
// safe for concurrent use while capturing. Replay is single threaded.
type Driver struct {
	cfg      config.Config
	dispatch Dispatch
	mgr      *resource.Manager
	tracker  *tracker.Tracker
	layouts  *tracker.LayoutMap
	maps     coherent.List
	differ   coherent.Differ
	header   chunk.Header

	instance *resource.Wrapped
	device   *resource.Wrapped
	family   uint32

	queueMu  sync.Mutex
	queue    *resource.Wrapped
	internal []*resource.Wrapped

	// cmdMu guards the Baked field of command buffer records and the
	// command buffers being recorded.
	cmdMu     sync.Mutex
	recording map[id.ID]*resource.Record

	// memMu guards the MemMap field of memory records.
	memMu sync.Mutex

	frameMu sync.Mutex
	frame   uint64
	last    *chunk.Capture

	replay *replayState
}

// New returns a Driver calling through to dispatch.
func New(dispatch Dispatch, cfg config.Config) *Driver {
	mgr := resource.NewManager()
	return &Driver{
		cfg:       cfg,
		dispatch:  dispatch,
		mgr:       mgr,
		tracker:   tracker.New(mgr),
		layouts:   tracker.NewLayoutMap(),
		header:    chunk.NewHeader(cfg.Capture.Driver),
		recording: map[id.ID]*resource.Record{},
	}
}

// State returns the capture state of the session.
func (d *Driver) State() tracker.State { return d.tracker.State() }

// Tracker returns the reference tracker of the session.
func (d *Driver) Tracker() *tracker.Tracker { return d.tracker }

// Resources returns the resource manager of the session.
func (d *Driver) Resources() *resource.Manager { return d.mgr }

// Layouts returns the image layouts of the submitted command buffers.
func (d *Driver) Layouts() *tracker.LayoutMap { return d.layouts }

// Device returns the wrapped device, or nil before Initialise or Load.
func (d *Driver) Device() *resource.Wrapped { return d.device }

// Initialise creates the instance and the device and starts capturing.
// Queues of queueFamily are used for internal submissions.
func (d *Driver) Initialise(ctx context.Context, queueFamily uint32) error {
	if d.device != nil {
		return errors.New("Device already initialised")
	}
	inst, err := d.dispatch.CreateInstance(ctx)
	if err != nil {
		return err
	}
	dev, err := d.dispatch.CreateDevice(ctx, inst, queueFamily)
	if err != nil {
		return err
	}
	d.instance, _ = d.mgr.Wrap(id.Null, inst)
	ir := d.mgr.AddRecord(d.instance)
	d.device, _ = d.mgr.Wrap(d.instance.ID, dev)
	dr := d.mgr.AddRecord(d.device)
	dr.AddParent(ir)
	d.family = queueFamily

	c, err := d.write(chunk.DeviceInit, &deviceInit{
		Instance:    d.instance.ID,
		Device:      d.device.ID,
		QueueFamily: queueFamily,
	})
	if err != nil {
		return err
	}
	dr.AddChunk(c)
	log.I(ctx, "Capturing %v on queue family %d", d.header.Session, queueFamily)
	return d.tracker.SetState(ctx, tracker.Writing)
}

// CreateResource creates a device resource and its capture record.
func (d *Driver) CreateResource(ctx context.Context, kind Kind, size uint64) (*resource.Wrapped, error) {
	if d.device == nil {
		return nil, errors.New("Device not initialised")
	}
	real, err := d.dispatch.CreateResource(ctx, d.device.Real, kind, size)
	if err != nil {
		return nil, err
	}
	w, _ := d.mgr.Wrap(d.device.ID, real)
	r := d.mgr.AddRecord(w)
	r.AddParent(d.device.Record)
	switch kind {
	case KindDescriptorSet:
		r.DescInfo = resource.NewDescriptorSetData()
	case KindSparseImage:
		r.Sparse = resource.NewSparseMapping()
	}
	c, err := d.write(chunk.CreateResource, &createResource{
		Device: d.device.ID,
		ID:     w.ID,
		Kind:   kind,
		Size:   size,
	})
	if err != nil {
		return nil, err
	}
	r.AddChunk(c)
	return w, nil
}

func recordOf(w *resource.Wrapped) (*resource.Record, error) {
	if w == nil || w.Record == nil {
		return nil, errors.Wrapf(resource.ErrUnknownResource, "%v has no record", resource.IDOf(w))
	}
	return w.Record, nil
}

// BindDescriptor binds res into the descriptor set, to be used as ref by
// any command buffer the set is bound to.
func (d *Driver) BindDescriptor(set, res *resource.Wrapped, ref resource.RefType) error {
	sr, err := recordOf(set)
	if err != nil {
		return err
	}
	if sr.DescInfo == nil {
		return errors.Errorf("%v is not a descriptor set", set.ID)
	}
	rr, err := recordOf(res)
	if err != nil {
		return err
	}
	flags := uint32(0)
	if rr.Sparse != nil {
		flags |= resource.SparseRefBit
	}
	sr.DescInfo.Bind(res.ID, flags, ref)
	return nil
}

// UnbindDescriptor removes res from the descriptor set.
func (d *Driver) UnbindDescriptor(set, res *resource.Wrapped) error {
	sr, err := recordOf(set)
	if err != nil {
		return err
	}
	if sr.DescInfo == nil {
		return errors.Errorf("%v is not a descriptor set", set.ID)
	}
	sr.DescInfo.Unbind(res.ID)
	return nil
}

// BindSparseMemory binds mem to the page of the sparse resource at offset.
// A nil mem unbinds the page.
func (d *Driver) BindSparseMemory(res *resource.Wrapped, offset uint64, mem *resource.Wrapped) error {
	r, err := recordOf(res)
	if err != nil {
		return err
	}
	if r.Sparse == nil {
		return errors.Errorf("%v is not sparse", res.ID)
	}
	r.Sparse.Update(offset, resource.IDOf(mem))
	return nil
}
