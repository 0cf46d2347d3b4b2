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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animaxdev/renderdoc/config"
	"github.com/animaxdev/renderdoc/core/assert"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/replay/partial"
)

func writeSynth(t *testing.T) string {
	ctx := log.Testing(t)
	cfg := config.Default()
	cfg.Capture.DebugChunks = true
	buf := &bytes.Buffer{}
	assert.For(ctx, "synthesize").ThatError(synthesize(ctx, cfg, 3, buf)).Succeeded()
	path := filepath.Join(t.TempDir(), "frame.rdc")
	assert.For(ctx, "write").ThatError(os.WriteFile(path, buf.Bytes(), 0o644)).Succeeded()
	return path
}

func TestDump(t *testing.T) {
	ctx := log.Testing(t)
	c, err := readCapture(ctx, writeSynth(t))
	assert.For(ctx, "read").ThatError(err).Succeeded()
	out := &bytes.Buffer{}
	assert.For(ctx, "dump").ThatError(dumpCapture(out, c, true)).Succeeded()
	for _, want := range []string{"Driver:  vulkan", "vkQueueSubmit", "vkFlushMappedMemoryRanges", "CaptureEnd", "    "} {
		assert.For(ctx, "dump has %q", want).ThatBoolean(strings.Contains(out.String(), want)).Equals(true)
	}
}

func TestEventsAndReplay(t *testing.T) {
	ctx := log.Testing(t)
	path := writeSynth(t)
	d, counts, err := loadDriver(ctx, config.Default(), path)
	assert.For(ctx, "load").ThatError(err).Succeeded()

	tree := &bytes.Buffer{}
	printTree(tree, d.Root(), 0)
	for _, want := range []string{"Scene", "  ", "vkQueuePresentKHR()"} {
		assert.For(ctx, "tree has %q", want).ThatBoolean(strings.Contains(tree.String(), want)).Equals(true)
	}
	flat := &bytes.Buffer{}
	printEvents(flat, d.Events())
	assert.For(ctx, "flat lines").ThatInteger(strings.Count(flat.String(), "\n")).Equals(len(d.Events()))

	assert.For(ctx, "prepare").ThatError(d.PreparePartial(ctx, partial.NoTarget)).Succeeded()
	assert.For(ctx, "replay").ThatError(d.Replay(ctx, partial.NoTarget)).Succeeded()
	assert.For(ctx, "submits").ThatInteger(counts.submits).Equals(1)
	assert.For(ctx, "cmds").ThatInteger(counts.cmds).Equals(1)
	assert.For(ctx, "waits").ThatInteger(counts.waits).Equals(1)
}

func TestMissingCapture(t *testing.T) {
	ctx := log.Testing(t)
	_, err := readCapture(ctx, filepath.Join(t.TempDir(), "none.rdc"))
	assert.For(ctx, "missing").ThatError(err).Failed()

	bad := filepath.Join(t.TempDir(), "bad.rdc")
	assert.For(ctx, "write").ThatError(os.WriteFile(bad, []byte("not a capture"), 0o644)).Succeeded()
	_, err = readCapture(ctx, bad)
	assert.For(ctx, "bad magic").ThatError(err).Failed()
}

func TestCommonFlagsLoad(t *testing.T) {
	ctx := log.Testing(t)
	path := filepath.Join(t.TempDir(), "rdcap.toml")
	assert.For(ctx, "write").ThatError(os.WriteFile(path, []byte("[replay]\nlog_partial_decisions = true\n"), 0o644)).Succeeded()
	_, cfg, err := CommonFlags{Config: path}.load(ctx)
	assert.For(ctx, "load").ThatError(err).Succeeded()
	assert.For(ctx, "replay").ThatBoolean(cfg.Replay.LogPartialDecisions).Equals(true)

	_, cfg, err = CommonFlags{}.load(ctx)
	assert.For(ctx, "default").ThatError(err).Succeeded()
	assert.For(ctx, "default config").That(cfg).Equals(config.Default())
}

func TestReplayTarget(t *testing.T) {
	ctx := log.Testing(t)
	for _, test := range []struct {
		at   int64
		last uint32
		ok   bool
	}{
		{-1, partial.NoTarget, true},
		{0, 0, true},
		{12, 12, true},
		{4294967295, partial.NoTarget, true},
		{4294967296 + 12, 0, false},
	} {
		last, err := (&replayVerb{At: test.at}).target()
		if !test.ok {
			assert.For(ctx, "at %d", test.at).ThatError(err).Failed()
			continue
		}
		assert.For(ctx, "at %d", test.at).ThatError(err).Succeeded()
		assert.For(ctx, "at %d last", test.at).That(last).Equals(test.last)
	}
}
