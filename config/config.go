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

// Package config loads the settings of capture and replay sessions from a
// TOML file.
package config

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/core/log/charm"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config is the whole configuration file.
type Config struct {
	Capture Capture `toml:"capture"`
	Replay  Replay  `toml:"replay"`
	Log     Log     `toml:"log"`
}

// Capture holds the settings of live capture.
type Capture struct {
	// Driver is the name written into capture headers.
	Driver string `toml:"driver"`
	// DebugChunks adds a human readable field list to every chunk.
	DebugChunks bool `toml:"debug_chunks"`
	// FlushCoherentMaps diffs and captures coherent memory on submission.
	FlushCoherentMaps bool `toml:"flush_coherent_maps"`
}

// Replay holds the settings of replay.
type Replay struct {
	// LogPartialDecisions logs each partial replay decision at info level.
	LogPartialDecisions bool `toml:"log_partial_decisions"`
}

// Log holds the logging settings.
type Log struct {
	// Severity is the minimum severity shown.
	Severity string `toml:"severity"`
	// Style is the name of the message style, or "charm" for the terminal
	// logger.
	Style string `toml:"style"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Capture: Capture{Driver: "vulkan", FlushCoherentMaps: true},
		Log:     Log{Severity: log.Info.String(), Style: log.Normal.Name},
	}
}

// Parse decodes data over the defaults. Unknown keys are errors.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "Parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "Reading config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "In %s", path)
	}
	return cfg, nil
}

// Validate checks the values that cannot be checked by decoding.
func (c Config) Validate() error {
	if _, ok := log.ParseSeverity(c.Log.Severity); !ok {
		return errors.Errorf("Unknown log severity %q", c.Log.Severity)
	}
	if _, ok := log.FindStyle(c.Log.Style); !ok && c.Log.Style != charm.StyleName {
		return errors.Errorf("Unknown log style %q", c.Log.Style)
	}
	return nil
}

// Encode returns the configuration as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Apply returns ctx with the log filter of the configuration installed.
func (l Log) Apply(ctx context.Context) context.Context {
	if s, ok := log.ParseSeverity(l.Severity); ok {
		ctx = log.PutFilter(ctx, log.SeverityFilter(s))
	}
	return ctx
}

// MessageStyle returns the log style of the configuration.
// The terminal logger reports as the normal style.
func (l Log) MessageStyle() log.Style {
	s, ok := log.FindStyle(l.Style)
	if !ok {
		return log.Normal
	}
	return s
}

// Handler returns the log handler for the style writing to w.
func (l Log) Handler(w io.Writer, process string) log.Handler {
	h, ok := charm.StyleHandler(l.Style, w, process)
	if !ok {
		return l.MessageStyle().Handler(log.StreamWriter(w))
	}
	return h
}
