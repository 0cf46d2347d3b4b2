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

package tracker

import (
	"sync"

	"github.com/animaxdev/renderdoc/capture/resource"
	"github.com/animaxdev/renderdoc/core/data/id"
)

type subresource struct {
	image id.ID
	sub   uint32
}

// LayoutMap tracks the current layout of every image subresource. It is safe
// for concurrent use.
type LayoutMap struct {
	mu      sync.Mutex
	layouts map[subresource]uint32
}

// NewLayoutMap returns an empty LayoutMap.
func NewLayoutMap() *LayoutMap {
	return &LayoutMap{layouts: map[subresource]uint32{}}
}

// Apply performs the transitions in order.
func (l *LayoutMap) Apply(barriers []resource.ImageBarrier) {
	if len(barriers) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range barriers {
		l.layouts[subresource{b.Image, b.Subresource}] = b.NewLayout
	}
}

// Layout returns the current layout of the subresource.
func (l *LayoutMap) Layout(image id.ID, sub uint32) (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	layout, ok := l.layouts[subresource{image, sub}]
	return layout, ok
}
