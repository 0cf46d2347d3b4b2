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

package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/animaxdev/renderdoc/core/context/keys"
)

// Writer is a function that writes out a formatted log message.
type Writer func(text string, severity Severity)

// Std returns a Writer that writes to stdout if the message severity is less
// than an error, otherwise it writes to stderr.
func Std() Writer {
	var mutex sync.Mutex
	return func(text string, severity Severity) {
		mutex.Lock()
		defer mutex.Unlock()
		out := os.Stdout
		if severity >= Error {
			out = os.Stderr
		}
		fmt.Fprintln(out, text)
	}
}

// Stdout returns a Writer that writes to stdout for all severities.
func Stdout() Writer { return StreamWriter(os.Stdout) }

// StreamWriter returns a Writer that writes each message as a line to w.
func StreamWriter(w io.Writer) Writer {
	var mutex sync.Mutex
	return func(text string, severity Severity) {
		mutex.Lock()
		defer mutex.Unlock()
		fmt.Fprintln(w, text)
	}
}

// Buffer returns a Writer that writes to the returned buffer.
func Buffer() (Writer, *bytes.Buffer) {
	mutex := sync.Mutex{}
	buf := &bytes.Buffer{}
	return func(text string, severity Severity) {
		mutex.Lock()
		defer mutex.Unlock()
		buf.WriteString(text)
		buf.WriteRune('\n')
	}, buf
}

// Channel returns a Handler that forwards all messages to h on a separate
// goroutine, buffering up to size messages. Closing the handler flushes the
// buffer before closing h.
func Channel(h Handler, size int) Handler {
	c := make(chan *Message, size)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range c {
			h.Handle(m)
		}
	}()
	var once sync.Once
	return NewHandler(
		func(m *Message) { c <- m },
		func() {
			once.Do(func() {
				close(c)
				<-done
				h.Close()
			})
		})
}

// Background returns a context that has the same logging state as ctx but is
// detached from its cancellation.
func Background(ctx context.Context) context.Context {
	return keys.Clone(context.Background(), ctx)
}
