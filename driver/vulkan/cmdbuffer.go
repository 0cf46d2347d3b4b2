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
	"github.com/pkg/errors"
)

// Use is a resource used by a command.
type Use struct {
	Resource *resource.Wrapped
	Ref      resource.RefType
}

// Command is one command recorded into a command buffer.
type Command struct {
	Name string
	// Draw is true if the command is a drawcall or dispatch.
	Draw bool
	Uses []Use
}

// BeginCommandBuffer starts recording cmd. The commands go into a new baked
// record that replaces the current one at EndCommandBuffer.
func (d *Driver) BeginCommandBuffer(ctx context.Context, cmd *resource.Wrapped) error {
	cr, err := recordOf(cmd)
	if err != nil {
		return err
	}
	if err := d.dispatch.BeginCommandBuffer(ctx, cmd.Real); err != nil {
		return err
	}
	baked := d.mgr.NewRecord()
	baked.CmdInfo = resource.NewCmdBufferInfo()
	baked.AddParent(cr)
	c, err := d.write(chunk.BeginCommandBuffer, &beginCommandBuffer{Cmd: cmd.ID, Baked: baked.ID})
	if err != nil {
		d.mgr.ReleaseRecord(baked)
		return err
	}
	baked.AddChunk(c)

	d.cmdMu.Lock()
	old := d.recording[cmd.ID]
	d.recording[cmd.ID] = baked
	d.cmdMu.Unlock()
	d.mgr.ReleaseRecord(old)
	return nil
}

func (d *Driver) recordingOf(cmd *resource.Wrapped) (*resource.Record, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	if r, ok := d.recording[resource.IDOf(cmd)]; ok {
		return r, nil
	}
	return nil, errors.Errorf("%v is not being recorded", resource.IDOf(cmd))
}

// bakedOf returns the commands last recorded into cmd, or nil.
func (d *Driver) bakedOf(cmd *resource.Wrapped) *resource.Record {
	if cmd == nil || cmd.Record == nil {
		return nil
	}
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	return cmd.Record.Baked
}

// RecordCommand records c into cmd.
func (d *Driver) RecordCommand(ctx context.Context, cmd *resource.Wrapped, c Command) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	info := baked.CmdInfo
	ids := make([]id.ID, len(c.Uses))
	handles := make([]resource.Handle, len(c.Uses))
	for i, u := range c.Uses {
		ids[i], handles[i] = resource.IDOf(u.Resource), resource.Unwrap(u.Resource)
		info.AddFrameRef(ids[i], u.Ref)
		if u.Ref == resource.Write || u.Ref == resource.ReadBeforeWrite {
			info.MarkDirtied(ids[i])
		}
		if u.Resource != nil && u.Resource.Record != nil && u.Resource.Record.Sparse != nil {
			info.Sparse = append(info.Sparse, u.Resource.Record.Sparse)
		}
	}
	ch, err := d.write(chunk.RecordCommand, &recordCommand{Baked: baked.ID, Name: c.Name, Draw: c.Draw, Uses: ids})
	if err != nil {
		return err
	}
	baked.AddChunk(ch)
	d.dispatch.CmdRecord(ctx, cmd.Real, c.Name, handles)
	return nil
}

// BindDescriptorSet binds set to cmd. Every resource bound into the set is
// referenced by the frame when cmd is submitted.
func (d *Driver) BindDescriptorSet(ctx context.Context, cmd, set *resource.Wrapped) error {
	sr, err := recordOf(set)
	if err != nil {
		return err
	}
	if sr.DescInfo == nil {
		return errors.Errorf("%v is not a descriptor set", set.ID)
	}
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	baked.CmdInfo.BoundDescSets = append(baked.CmdInfo.BoundDescSets, sr)
	return d.RecordCommand(ctx, cmd, Command{
		Name: "vkCmdBindDescriptorSets",
		Uses: []Use{{Resource: set, Ref: resource.Read}},
	})
}

// PipelineBarrier records image layout transitions into cmd. The layouts
// change when cmd is submitted.
func (d *Driver) PipelineBarrier(ctx context.Context, cmd *resource.Wrapped, barriers []resource.ImageBarrier) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	info := baked.CmdInfo
	images := make([]resource.Handle, 0, len(barriers))
	for _, b := range barriers {
		info.AddFrameRef(b.Image, resource.Read)
		if w, err := d.mgr.Lookup(b.Image); err == nil {
			images = append(images, w.Real)
		}
	}
	info.ImageBarriers = append(info.ImageBarriers, barriers...)
	c, err := d.write(chunk.PipelineBarrier, &pipelineBarrier{Baked: baked.ID, Barriers: barriers})
	if err != nil {
		return err
	}
	baked.AddChunk(c)
	d.dispatch.CmdRecord(ctx, cmd.Real, chunk.PipelineBarrier.String(), images)
	return nil
}

// MarkerBegin opens a named region of commands in cmd.
func (d *Driver) MarkerBegin(ctx context.Context, cmd *resource.Wrapped, name string) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	c, err := d.write(chunk.MarkerBegin, &markerBegin{Baked: baked.ID, Name: name})
	if err != nil {
		return err
	}
	baked.AddChunk(c)
	d.dispatch.CmdRecord(ctx, cmd.Real, chunk.MarkerBegin.String(), nil)
	return nil
}

// MarkerEnd closes the innermost region opened by MarkerBegin.
func (d *Driver) MarkerEnd(ctx context.Context, cmd *resource.Wrapped) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	c, err := d.write(chunk.MarkerEnd, &bakedOnly{Baked: baked.ID})
	if err != nil {
		return err
	}
	baked.AddChunk(c)
	d.dispatch.CmdRecord(ctx, cmd.Real, chunk.MarkerEnd.String(), nil)
	return nil
}

// ExecuteCommands records the execution of secondary command buffers into
// cmd. Each secondary must have been recorded.
func (d *Driver) ExecuteCommands(ctx context.Context, cmd *resource.Wrapped, secondaries []*resource.Wrapped) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	ids := make([]id.ID, len(secondaries))
	handles := make([]resource.Handle, len(secondaries))
	subs := make([]*resource.Record, len(secondaries))
	for i, s := range secondaries {
		sub := d.bakedOf(s)
		if sub == nil {
			return errors.Wrapf(tracker.ErrMissingBakedCommands, "%v", resource.IDOf(s))
		}
		subs[i], ids[i], handles[i] = sub, sub.ID, s.Real
	}
	baked.CmdInfo.SubCmds = append(baked.CmdInfo.SubCmds, subs...)
	c, err := d.write(chunk.RecordCommand, &recordCommand{Baked: baked.ID, Name: "vkCmdExecuteCommands", Uses: ids})
	if err != nil {
		return err
	}
	baked.AddChunk(c)
	d.dispatch.CmdRecord(ctx, cmd.Real, "vkCmdExecuteCommands", handles)
	return nil
}

// EndCommandBuffer finishes recording cmd. Its baked commands are replaced by
// the ones just recorded.
func (d *Driver) EndCommandBuffer(ctx context.Context, cmd *resource.Wrapped) error {
	baked, err := d.recordingOf(cmd)
	if err != nil {
		return err
	}
	if err := d.dispatch.EndCommandBuffer(ctx, cmd.Real); err != nil {
		return err
	}
	c, err := d.write(chunk.EndCommandBuffer, &bakedOnly{Baked: baked.ID})
	if err != nil {
		return err
	}
	baked.AddChunk(c)

	d.cmdMu.Lock()
	delete(d.recording, cmd.ID)
	old := cmd.Record.Baked
	cmd.Record.Baked = baked
	d.cmdMu.Unlock()
	d.mgr.ReleaseRecord(old)
	return nil
}
