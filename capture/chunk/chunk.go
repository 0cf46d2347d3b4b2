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

// Package chunk encodes and decodes the typed records that make up a capture.
//
// A chunk describes one intercepted call. Its fields are written and read by
// the same sequence of Serializer calls, so a single function can both
// serialise and deserialise a call:
//
//	s := chunk.Acquire()
//	defer chunk.Release(s)
//	scope := s.Begin(chunk.QueueWaitIdle)
//	defer scope.Close()
//	s.ResourceID("queue", &queue)
//	c, err := scope.Finish()
package chunk

import "fmt"

// Tag identifies the kind of call a chunk records.
type Tag uint32

const (
	// DeviceInit records the creation of the instance and device.
	DeviceInit Tag = iota + 1
	// CreateResource records the creation of a device resource.
	CreateResource
	// GetDeviceQueue records the acquisition of a device queue.
	GetDeviceQueue
	// BeginCommandBuffer starts the recording of a command buffer.
	BeginCommandBuffer
	// RecordCommand records a single command into a command buffer.
	RecordCommand
	// PipelineBarrier records image layout transitions in a command buffer.
	PipelineBarrier
	// MarkerBegin opens a debug marker region in a command buffer.
	MarkerBegin
	// MarkerEnd closes a debug marker region in a command buffer.
	MarkerEnd
	// EndCommandBuffer finishes the recording of a command buffer.
	EndCommandBuffer
	// FlushMappedMemory carries the contents of a flushed memory range.
	FlushMappedMemory
	// QueueSubmit records a submission of baked command buffers to a queue.
	QueueSubmit
	// QueueWaitIdle records a wait for a queue to drain.
	QueueWaitIdle
	// CaptureBegin marks the start of the captured frame.
	CaptureBegin
	// CaptureEnd marks the end of the captured frame.
	CaptureEnd

	lastTag = CaptureEnd
)

var tagNames = [...]string{
	DeviceInit:         "DeviceInit",
	CreateResource:     "CreateResource",
	GetDeviceQueue:     "vkGetDeviceQueue",
	BeginCommandBuffer: "vkBeginCommandBuffer",
	RecordCommand:      "RecordCommand",
	PipelineBarrier:    "vkCmdPipelineBarrier",
	MarkerBegin:        "vkCmdDebugMarkerBegin",
	MarkerEnd:          "vkCmdDebugMarkerEnd",
	EndCommandBuffer:   "vkEndCommandBuffer",
	FlushMappedMemory:  "vkFlushMappedMemoryRanges",
	QueueSubmit:        "vkQueueSubmit",
	QueueWaitIdle:      "vkQueueWaitIdle",
	CaptureBegin:       "CaptureBegin",
	CaptureEnd:         "CaptureEnd",
}

// Valid returns true if t is one of the known tags.
func (t Tag) Valid() bool { return t >= DeviceInit && t <= lastTag }

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tag(%d)", uint32(t))
	}
	return tagNames[t]
}

// Chunk is a finished, immutable record of one call.
type Chunk struct {
	// Tag is the kind of call recorded.
	Tag Tag
	// Seq orders chunks by the time they were finished. Chunks held by
	// different records are merged back into write order by Seq.
	Seq uint64
	// Debug is the optional human readable list of fields.
	Debug string

	data []byte
}

// Data returns the encoded fields of the chunk. The returned slice must not be
// modified.
func (c *Chunk) Data() []byte { return c.data }

func (c *Chunk) String() string {
	return fmt.Sprintf("%v #%d (%d bytes)", c.Tag, c.Seq, len(c.data))
}

// BySeq sorts chunks into write order.
type BySeq []*Chunk

func (l BySeq) Len() int           { return len(l) }
func (l BySeq) Less(i, j int) bool { return l[i].Seq < l[j].Seq }
func (l BySeq) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
