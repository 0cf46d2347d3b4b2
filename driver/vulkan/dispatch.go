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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/animaxdev/renderdoc/capture/resource"
)

// Result is a driver result code. Negative values are errors.
type Result int32

// Result codes returned by the driver.
const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorMemoryMapFailed      Result = -5
)

var resultNames = map[Result]string{
	Success:                   "VK_SUCCESS",
	NotReady:                  "VK_NOT_READY",
	Timeout:                   "VK_TIMEOUT",
	ErrorOutOfHostMemory:      "VK_ERROR_OUT_OF_HOST_MEMORY",
	ErrorOutOfDeviceMemory:    "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	ErrorInitializationFailed: "VK_ERROR_INITIALIZATION_FAILED",
	ErrorDeviceLost:           "VK_ERROR_DEVICE_LOST",
	ErrorMemoryMapFailed:      "VK_ERROR_MEMORY_MAP_FAILED",
}

func (r Result) String() string {
	if n, ok := resultNames[r]; ok {
		return n
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

// Error implements error. Success is never returned as an error.
func (r Result) Error() string { return r.String() }

// Kind is the type of a device resource.
type Kind uint32

// Kinds of device resources.
const (
	KindBuffer Kind = iota + 1
	KindImage
	KindSparseImage
	KindMemory
	KindFence
	KindSemaphore
	KindDescriptorSet
	KindCommandBuffer
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindImage:
		return "Image"
	case KindSparseImage:
		return "SparseImage"
	case KindMemory:
		return "Memory"
	case KindFence:
		return "Fence"
	case KindSemaphore:
		return "Semaphore"
	case KindDescriptorSet:
		return "DescriptorSet"
	case KindCommandBuffer:
		return "CommandBuffer"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// WholeSize flushes from the offset to the end of the mapping.
const WholeSize = ^uint64(0)

// SubmitInfo is one batch of a queue submission, in real handles.
type SubmitInfo struct {
	WaitSemaphores   []resource.Handle
	CommandBuffers   []resource.Handle
	SignalSemaphores []resource.Handle
}

// MappedRange is a range of mapped memory, in real handles.
type MappedRange struct {
	Memory resource.Handle
	Offset uint64
	Size   uint64
}

// Dispatch is the table of real driver entry points. Errors returned by
// it are passed back to the application unchanged.
type Dispatch interface {
	CreateInstance(ctx context.Context) (resource.Handle, error)
	CreateDevice(ctx context.Context, instance resource.Handle, queueFamily uint32) (resource.Handle, error)
	CreateResource(ctx context.Context, device resource.Handle, kind Kind, size uint64) (resource.Handle, error)
	GetDeviceQueue(ctx context.Context, device resource.Handle, family, index uint32) resource.Handle
	MapMemory(ctx context.Context, device, memory resource.Handle, offset, size uint64) ([]byte, error)
	UnmapMemory(ctx context.Context, device, memory resource.Handle)
	WriteMemory(ctx context.Context, memory resource.Handle, offset uint64, data []byte) error
	FlushMappedMemoryRanges(ctx context.Context, device resource.Handle, ranges []MappedRange) error
	BeginCommandBuffer(ctx context.Context, cmd resource.Handle) error
	CmdRecord(ctx context.Context, cmd resource.Handle, name string, uses []resource.Handle)
	EndCommandBuffer(ctx context.Context, cmd resource.Handle) error
	QueueSubmit(ctx context.Context, queue resource.Handle, submits []SubmitInfo, fence resource.Handle) error
	QueueWaitIdle(ctx context.Context, queue resource.Handle) error
}

// NullDispatch is a Dispatch that hands out new handles and keeps memory in
// host buffers. It executes nothing.
type NullDispatch struct {
	last uint64

	mu     sync.Mutex
	memory map[resource.Handle][]byte
	queues map[[3]uint64]resource.Handle
}

var _ Dispatch = &NullDispatch{}

func (n *NullDispatch) next() resource.Handle {
	return resource.Handle(atomic.AddUint64(&n.last, 1))
}

func (n *NullDispatch) CreateInstance(ctx context.Context) (resource.Handle, error) {
	return n.next(), nil
}

func (n *NullDispatch) CreateDevice(ctx context.Context, instance resource.Handle, queueFamily uint32) (resource.Handle, error) {
	return n.next(), nil
}

func (n *NullDispatch) CreateResource(ctx context.Context, device resource.Handle, kind Kind, size uint64) (resource.Handle, error) {
	h := n.next()
	if kind == KindMemory {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.memory == nil {
			n.memory = map[resource.Handle][]byte{}
		}
		n.memory[h] = make([]byte, size)
	}
	return h, nil
}

// GetDeviceQueue returns the same handle for the same queue.
func (n *NullDispatch) GetDeviceQueue(ctx context.Context, device resource.Handle, family, index uint32) resource.Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.queues == nil {
		n.queues = map[[3]uint64]resource.Handle{}
	}
	key := [3]uint64{uint64(device), uint64(family), uint64(index)}
	if q, ok := n.queues[key]; ok {
		return q
	}
	q := n.next()
	n.queues[key] = q
	return q
}

func (n *NullDispatch) MapMemory(ctx context.Context, device, memory resource.Handle, offset, size uint64) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.memory[memory]
	if !ok || offset > uint64(len(data)) {
		return nil, ErrorMemoryMapFailed
	}
	if size == WholeSize || offset+size > uint64(len(data)) {
		size = uint64(len(data)) - offset
	}
	return data[offset : offset+size], nil
}

func (n *NullDispatch) UnmapMemory(ctx context.Context, device, memory resource.Handle) {}

func (n *NullDispatch) WriteMemory(ctx context.Context, memory resource.Handle, offset uint64, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	mem, ok := n.memory[memory]
	if !ok || offset+uint64(len(data)) > uint64(len(mem)) {
		return ErrorMemoryMapFailed
	}
	copy(mem[offset:], data)
	return nil
}

// Memory returns the host buffer backing memory, or nil.
func (n *NullDispatch) Memory(memory resource.Handle) []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.memory[memory]
}

func (n *NullDispatch) FlushMappedMemoryRanges(ctx context.Context, device resource.Handle, ranges []MappedRange) error {
	return nil
}

func (n *NullDispatch) BeginCommandBuffer(ctx context.Context, cmd resource.Handle) error { return nil }

func (n *NullDispatch) CmdRecord(ctx context.Context, cmd resource.Handle, name string, uses []resource.Handle) {
}

func (n *NullDispatch) EndCommandBuffer(ctx context.Context, cmd resource.Handle) error { return nil }

func (n *NullDispatch) QueueSubmit(ctx context.Context, queue resource.Handle, submits []SubmitInfo, fence resource.Handle) error {
	return nil
}

func (n *NullDispatch) QueueWaitIdle(ctx context.Context, queue resource.Handle) error { return nil }
