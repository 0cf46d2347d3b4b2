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
	"bufio"
	"context"
	"os"
	"sync"

	"github.com/animaxdev/renderdoc/capture/chunk"
	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/app"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/driver/vulkan"
)

// CommonFlags are accepted by every verb.
type CommonFlags struct {
	Config string `help:"path to a TOML configuration file"`
}

// load returns the configuration named by the flags. A configuration file
// replaces the log filter and handler of ctx.
func (f CommonFlags) load(ctx context.Context) (context.Context, config.Config, error) {
	if f.Config == "" {
		return ctx, config.Default(), nil
	}
	cfg, err := config.Load(f.Config)
	if err != nil {
		return ctx, config.Config{}, err
	}
	ctx = log.PutHandler(ctx, cfg.Log.Handler(os.Stderr, app.Name))
	ctx = cfg.Log.Apply(ctx)
	return ctx, cfg, nil
}

func readCapture(ctx context.Context, path string) (*chunk.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, log.Err(ctx, err, "Opening capture")
	}
	defer f.Close()
	c, err := chunk.ReadStream(ctx, bufio.NewReader(f))
	if err != nil {
		return nil, log.Errf(ctx, err, "Reading %s", path)
	}
	return c, nil
}

// countingDispatch is a null device that counts what replay sends to it.
type countingDispatch struct {
	vulkan.NullDispatch
	mu      sync.Mutex
	submits int
	cmds    int
	waits   int
}

func (c *countingDispatch) QueueSubmit(ctx context.Context, queue resource.Handle, submits []vulkan.SubmitInfo, fence resource.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	for _, s := range submits {
		c.cmds += len(s.CommandBuffers)
	}
	return nil
}

func (c *countingDispatch) QueueWaitIdle(ctx context.Context, queue resource.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	return nil
}

func loadDriver(ctx context.Context, cfg config.Config, path string) (*vulkan.Driver, *countingDispatch, error) {
	c, err := readCapture(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	dispatch := &countingDispatch{}
	d := vulkan.New(dispatch, cfg)
	if err := d.Load(ctx, c); err != nil {
		return nil, nil, err
	}
	return d, dispatch, nil
}
