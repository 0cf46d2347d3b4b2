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

// Package id provides the logical resource identifier shared by every part of
// capture and replay.
package id

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// ID is a session-stable logical identifier for a driver object.
type ID uint64

// Null is the ID of no resource.
const Null ID = 0

const prefix = "ResID_"

// IsValid returns true if the id is not the default value.
func (id ID) IsValid() bool {
	return id != Null
}

func (id ID) String() string {
	return prefix + strconv.FormatUint(uint64(id), 10)
}

// Parse parses s as an ID, either in the form produced by String or as a bare
// decimal number.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, prefix), 10, 64)
	if err != nil {
		return Null, fmt.Errorf("Invalid ID %q: %v", s, err)
	}
	return ID(v), nil
}

// MarshalJSON encodes the ID as a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a JSON string as an ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Generator hands out unique IDs. The zero value is ready to use and never
// returns Null.
type Generator struct {
	last uint64
}

// New returns the next unused ID.
func (g *Generator) New() ID {
	return ID(atomic.AddUint64(&g.last, 1))
}

// Observe makes sure that id is never returned by New, so that IDs loaded
// from a capture cannot collide with freshly generated ones.
func (g *Generator) Observe(id ID) {
	for {
		last := atomic.LoadUint64(&g.last)
		if uint64(id) <= last || atomic.CompareAndSwapUint64(&g.last, last, uint64(id)) {
			return
		}
	}
}

var global Generator

// New returns a new ID from the process wide generator.
func New() ID { return global.New() }
