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

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/animaxdev/renderdoc/core/log"
	"github.com/animaxdev/renderdoc/core/log/charm"
	"github.com/pkg/errors"
)

const logChanBufferSize = 100

// LogFlags controls where and how the application logs.
type LogFlags struct {
	Level string `help:"the severity to enable logs at"`
	Style string `help:"the log style: charm, raw, brief, normal or detailed"`
	File  string `help:"write logs to this file instead of stderr"`
}

func logDefaults() LogFlags {
	return LogFlags{
		Level: log.Info.String(),
		Style: charm.StyleName,
	}
}

// handler builds the primary log handler. Messages are delivered on a
// separate goroutine, and a fatal message flushes the handler and exits.
func (f *LogFlags) handler() (log.Handler, error) {
	var out io.Writer = os.Stderr
	closeOut := func() {}
	if f.File != "" {
		file, err := os.Create(f.File)
		if err != nil {
			return nil, errors.Wrap(err, "Creating log file")
		}
		out, closeOut = file, func() { file.Close() }
	}
	to, ok := charm.StyleHandler(f.Style, out, Name)
	if !ok {
		closeOut()
		return nil, fmt.Errorf("Unknown log style %q", f.Style)
	}
	return wrapHandler(log.Channel(to, logChanBufferSize), closeOut), nil
}

func wrapHandler(to log.Handler, closeOut func()) log.Handler {
	once := sync.Once{}
	closer := func() {
		once.Do(func() {
			to.Close()
			closeOut()
		})
	}
	return log.NewHandler(func(m *log.Message) {
		to.Handle(m)
		if m.StopProcess {
			closer()
			panic(FatalExit)
		}
	}, closer)
}

func prepareContext(ctx context.Context, flags *LogFlags, h log.Handler) (context.Context, error) {
	level, ok := log.ParseSeverity(flags.Level)
	if !ok {
		return nil, fmt.Errorf("Unknown log level %q", flags.Level)
	}
	ctx = log.PutProcess(ctx, Name)
	ctx = log.PutFilter(ctx, log.SeverityFilter(level))
	ctx = log.PutHandler(ctx, h)
	return ctx, nil
}
