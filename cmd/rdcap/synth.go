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

package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/app"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/driver/vulkan"
	"github.com/pkg/errors"
)

type synthVerb struct {
	CommonFlags
	Draws int `help:"the number of draws in each command buffer"`
}

func init() {
	verb := &synthVerb{Draws: 2}
	app.AddVerb(&app.Verb{
		Name:       "synth",
		ShortHelp:  "Capture a synthetic frame from the null device",
		ShortUsage: "<output>",
		Action:     verb,
	})
}

func (verb *synthVerb) Run(ctx context.Context, flags flag.FlagSet) error {
	if flags.NArg() != 1 {
		app.Usage(ctx, "Exactly one output file expected, got %d", flags.NArg())
		return nil
	}
	ctx, cfg, err := verb.load(ctx)
	if err != nil {
		return err
	}
	out, err := os.Create(flags.Arg(0))
	if err != nil {
		return log.Err(ctx, err, "Creating capture")
	}
	defer out.Close()
	if err := synthesize(ctx, cfg, verb.Draws, out); err != nil {
		return err
	}
	log.I(ctx, "Wrote %s", flags.Arg(0))
	return nil
}

// synthesize captures one frame with a coherent upload, a marker region and
// a secondary command buffer, and writes it to w.
func synthesize(ctx context.Context, cfg config.Config, draws int, w io.Writer) error {
	d := vulkan.New(&vulkan.NullDispatch{}, cfg)
	if err := d.Initialise(ctx, 0); err != nil {
		return err
	}
	queue, err := d.GetDeviceQueue(ctx, 0, 0)
	if err != nil {
		return err
	}
	create := func(kind vulkan.Kind, size uint64) *resource.Wrapped {
		if err != nil {
			return nil
		}
		var r *resource.Wrapped
		r, err = d.CreateResource(ctx, kind, size)
		return r
	}
	mem := create(vulkan.KindMemory, 256)
	buf := create(vulkan.KindBuffer, 256)
	img := create(vulkan.KindImage, 0)
	set := create(vulkan.KindDescriptorSet, 0)
	primary := create(vulkan.KindCommandBuffer, 0)
	secondary := create(vulkan.KindCommandBuffer, 0)
	fence := create(vulkan.KindFence, 0)
	if err != nil {
		return err
	}
	if err := d.BindDescriptor(set, buf, resource.Read); err != nil {
		return err
	}
	data, err := d.MapMemory(ctx, mem, 0, vulkan.WholeSize, true)
	if err != nil {
		return err
	}

	upload := vulkan.Command{Name: "vkCmdCopyBuffer", Uses: []vulkan.Use{
		{Resource: mem, Ref: resource.Read},
		{Resource: buf, Ref: resource.Write},
	}}
	draw := vulkan.Command{Name: "vkCmdDraw", Draw: true, Uses: []vulkan.Use{{Resource: img, Ref: resource.Write}}}
	steps := []func() error{
		func() error { return d.BeginCommandBuffer(ctx, secondary) },
		func() error { return d.RecordCommand(ctx, secondary, draw) },
		func() error { return d.EndCommandBuffer(ctx, secondary) },
		func() error { return d.BeginCommandBuffer(ctx, primary) },
		func() error { return d.RecordCommand(ctx, primary, upload) },
		func() error { return d.MarkerBegin(ctx, primary, "Scene") },
		func() error { return d.BindDescriptorSet(ctx, primary, set) },
	}
	for i := 0; i < draws; i++ {
		steps = append(steps, func() error { return d.RecordCommand(ctx, primary, draw) })
	}
	steps = append(steps,
		func() error { return d.MarkerEnd(ctx, primary) },
		func() error {
			return d.PipelineBarrier(ctx, primary, []resource.ImageBarrier{{Image: img.ID, NewLayout: 2}})
		},
		func() error { return d.ExecuteCommands(ctx, primary, []*resource.Wrapped{secondary}) },
		func() error { return d.EndCommandBuffer(ctx, primary) },
		func() error { return d.BeginFrameCapture(ctx) },
		func() error {
			copy(data, "synthetic upload")
			return d.QueueSubmit(ctx, queue, []vulkan.Submit{{CommandBuffers: []*resource.Wrapped{primary}}}, fence)
		},
		func() error { return d.QueueWaitIdle(ctx, queue) },
	)
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	if _, err := d.EndFrameCapture(ctx); err != nil {
		return err
	}
	if err := d.UnmapMemory(ctx, mem); err != nil {
		return err
	}
	return errors.Wrap(d.WriteCapture(w), "Writing capture")
}
