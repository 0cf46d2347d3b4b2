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

package chunk

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/animaxdev/renderdoc/core/data/id"
	"github.com/animaxdev/renderdoc/core/fault"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

const (
	// ErrMalformedChunk is returned when the fields read do not match the
	// fields that were written.
	ErrMalformedChunk = fault.Const("Malformed chunk")

	initialBufferSize = 256
)

type kind uint64

const (
	kindBool kind = iota + 1
	kindUint32
	kindUint64
	kindInt64
	kindString
	kindBytes
	kindResourceID
	kindCount
)

var kindNames = [...]string{
	kindBool:       "bool",
	kindUint32:     "uint32",
	kindUint64:     "uint64",
	kindInt64:      "int64",
	kindString:     "string",
	kindBytes:      "bytes",
	kindResourceID: "resource id",
	kindCount:      "count",
}

func (k kind) String() string {
	if k < kindBool || k > kindCount {
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
	return kindNames[k]
}

var lastSeq uint64

// Serializer writes or reads the fields of one chunk at a time.
// A Serializer is not safe for concurrent use.
type Serializer struct {
	reading bool
	debug   bool
	buf     *proto.Buffer
	src     *Chunk
	dbg     strings.Builder
	err     error
	scope   *Scope
}

// NewWriter returns a Serializer that encodes new chunks.
func NewWriter() *Serializer {
	return &Serializer{buf: proto.NewBuffer(make([]byte, 0, initialBufferSize))}
}

// NewReader returns a Serializer that decodes the fields of c.
func NewReader(c *Chunk) *Serializer {
	return &Serializer{reading: true, src: c, buf: proto.NewBuffer(nil)}
}

// Reading returns true if the Serializer decodes fields.
func (s *Serializer) Reading() bool { return s.reading }

// Writing returns true if the Serializer encodes fields.
func (s *Serializer) Writing() bool { return !s.reading }

// SetDebug enables the accumulation of the debug string for written chunks.
func (s *Serializer) SetDebug(enabled bool) { s.debug = enabled }

// Err returns the first error encountered in the current chunk.
func (s *Serializer) Err() error { return s.err }

// Scope is an open chunk. Either Finish or Close must be called on every
// path, Close is safe to call after Finish.
type Scope struct {
	s    *Serializer
	tag  Tag
	done bool
}

// Begin opens a chunk with the given tag. When reading, the tag must match
// the tag of the chunk being read.
func (s *Serializer) Begin(tag Tag) *Scope {
	if s.scope != nil {
		s.scope.Close()
	}
	s.err = nil
	s.dbg.Reset()
	if s.reading {
		s.buf.SetBuf(s.src.data)
		if s.src.Tag != tag {
			s.fail(errors.Wrapf(ErrMalformedChunk, "expected %v chunk, got %v", tag, s.src.Tag))
		}
	} else {
		s.buf.Reset()
	}
	s.scope = &Scope{s: s, tag: tag}
	return s.scope
}

// Finish completes the chunk. When writing, the returned chunk is a new
// immutable chunk holding every field written. When reading, the chunk being
// read is returned once every field has been consumed.
func (c *Scope) Finish() (*Chunk, error) {
	if c.done {
		return nil, errors.Errorf("%v chunk already finished", c.tag)
	}
	s := c.s
	c.done = true
	s.scope = nil
	if s.err != nil {
		return nil, s.err
	}
	if s.reading {
		if n := len(s.buf.Unread()); n > 0 {
			return nil, errors.Wrapf(ErrMalformedChunk, "%v chunk has %d unread bytes", c.tag, n)
		}
		return s.src, nil
	}
	data := make([]byte, len(s.buf.Bytes()))
	copy(data, s.buf.Bytes())
	s.buf.Reset()
	out := &Chunk{
		Tag:  c.tag,
		Seq:  atomic.AddUint64(&lastSeq, 1),
		data: data,
	}
	if s.debug {
		out.Debug = s.dbg.String()
		s.dbg.Reset()
	}
	return out, nil
}

// Close discards the chunk if it has not been finished.
func (c *Scope) Close() {
	if c.done {
		return
	}
	c.done = true
	s := c.s
	if s.scope == c {
		s.scope = nil
	}
	if !s.reading {
		s.buf.Reset()
	}
	s.dbg.Reset()
}

func (s *Serializer) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (s *Serializer) ok(name string) bool {
	if s.scope == nil {
		s.fail(errors.Errorf("field %q outside of a chunk", name))
	}
	return s.err == nil
}

func (s *Serializer) note(name string, value interface{}) {
	if s.debug && !s.reading {
		fmt.Fprintf(&s.dbg, "%s: %v\n", name, value)
	}
}

func (s *Serializer) expect(name string, k kind) bool {
	if !s.reading {
		s.check(s.buf.EncodeVarint(uint64(k)))
		return s.err == nil
	}
	got, err := s.buf.DecodeVarint()
	if err != nil {
		s.fail(errors.Wrapf(ErrMalformedChunk, "field %q: %v", name, err))
		return false
	}
	if kind(got) != k {
		s.fail(errors.Wrapf(ErrMalformedChunk, "field %q: expected %v, got %v", name, k, kind(got)))
		return false
	}
	return true
}

func (s *Serializer) check(err error) {
	if err != nil {
		s.fail(err)
	}
}

func (s *Serializer) decodeErr(name string, err error) {
	if err != nil {
		s.fail(errors.Wrapf(ErrMalformedChunk, "field %q: %v", name, err))
	}
}

func (s *Serializer) varint(name string, k kind, v *uint64) {
	if !s.ok(name) || !s.expect(name, k) {
		return
	}
	if s.reading {
		got, err := s.buf.DecodeVarint()
		s.decodeErr(name, err)
		*v = got
		return
	}
	s.check(s.buf.EncodeVarint(*v))
}

// Bool serialises a boolean field.
func (s *Serializer) Bool(name string, v *bool) {
	u := uint64(0)
	if *v {
		u = 1
	}
	s.varint(name, kindBool, &u)
	if s.reading && s.err == nil {
		*v = u != 0
	}
	s.note(name, *v)
}

// Uint32 serialises a 32 bit unsigned field.
func (s *Serializer) Uint32(name string, v *uint32) {
	u := uint64(*v)
	s.varint(name, kindUint32, &u)
	if s.reading && s.err == nil {
		if u > 0xffffffff {
			s.fail(errors.Wrapf(ErrMalformedChunk, "field %q: %d overflows uint32", name, u))
			return
		}
		*v = uint32(u)
	}
	s.note(name, *v)
}

// Uint64 serialises a 64 bit unsigned field.
func (s *Serializer) Uint64(name string, v *uint64) {
	s.varint(name, kindUint64, v)
	s.note(name, *v)
}

// Int64 serialises a 64 bit signed field.
func (s *Serializer) Int64(name string, v *int64) {
	if !s.ok(name) || !s.expect(name, kindInt64) {
		return
	}
	if s.reading {
		got, err := s.buf.DecodeZigzag64()
		s.decodeErr(name, err)
		*v = int64(got)
	} else {
		s.check(s.buf.EncodeZigzag64(uint64(*v)))
	}
	s.note(name, *v)
}

// String serialises a string field.
func (s *Serializer) String(name string, v *string) {
	if !s.ok(name) || !s.expect(name, kindString) {
		return
	}
	if s.reading {
		got, err := s.buf.DecodeStringBytes()
		s.decodeErr(name, err)
		*v = got
	} else {
		s.check(s.buf.EncodeStringBytes(*v))
	}
	s.note(name, *v)
}

// Bytes serialises a byte slice field. When reading, the slice is a copy
// owned by the caller.
func (s *Serializer) Bytes(name string, v *[]byte) {
	if !s.ok(name) || !s.expect(name, kindBytes) {
		return
	}
	if s.reading {
		got, err := s.buf.DecodeRawBytes(true)
		s.decodeErr(name, err)
		*v = got
	} else {
		s.check(s.buf.EncodeRawBytes(*v))
	}
	s.note(name, fmt.Sprintf("<%d bytes>", len(*v)))
}

// ResourceID serialises a logical resource identifier field.
func (s *Serializer) ResourceID(name string, v *id.ID) {
	u := uint64(*v)
	s.varint(name, kindResourceID, &u)
	if s.reading && s.err == nil {
		*v = id.ID(u)
	}
	s.note(name, *v)
}

// Count serialises the length of an array that follows.
func (s *Serializer) Count(name string, n *uint32) {
	u := uint64(*n)
	s.varint(name, kindCount, &u)
	if !s.reading || s.err != nil {
		return
	}
	// Every field takes at least two bytes.
	if u > uint64(len(s.buf.Unread())/2) {
		s.fail(errors.Wrapf(ErrMalformedChunk, "field %q: count %d exceeds chunk size", name, u))
		return
	}
	*n = uint32(u)
}

// ResourceIDs serialises an array of resource identifiers, preceded by its
// count.
func (s *Serializer) ResourceIDs(name string, v *[]id.ID) {
	n := uint32(len(*v))
	s.Count(name, &n)
	if s.err != nil {
		return
	}
	if s.reading {
		*v = make([]id.ID, n)
	}
	for i := range *v {
		s.ResourceID(name, &(*v)[i])
	}
}

// Uint32s serialises an array of 32 bit unsigned values, preceded by its
// count.
func (s *Serializer) Uint32s(name string, v *[]uint32) {
	n := uint32(len(*v))
	s.Count(name, &n)
	if s.err != nil {
		return
	}
	if s.reading {
		*v = make([]uint32, n)
	}
	for i := range *v {
		s.Uint32(name, &(*v)[i])
	}
}

var writers = sync.Pool{New: func() interface{} { return NewWriter() }}

// Acquire returns a cached writing Serializer. It must be returned with
// Release once the chunk has been finished.
func Acquire() *Serializer {
	s := writers.Get().(*Serializer)
	s.debug = false
	return s
}

// Release returns a Serializer obtained from Acquire to the cache.
func Release(s *Serializer) {
	if s.scope != nil {
		s.scope.Close()
	}
	s.err = nil
	writers.Put(s)
}
