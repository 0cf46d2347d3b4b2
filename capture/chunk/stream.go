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
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/animaxdev/renderdoc/core/fault"
	"github.com/animaxdev/renderdoc/core/log"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// ErrIncorrectMagic is the error returned when the stream header is not
	// matched.
	ErrIncorrectMagic = fault.Const("Incorrect capture magic header")

	// Version is the version of the stream format written by this package.
	Version = 1

	maxVarintSize = 10
	maxRecordSize = 1 << 30
)

// magic is the 16 byte stream signature.
var magic = []byte("RDCapture\r\n1.0\n\x00")

// ErrUnsupportedVersion is the error returned when the header version is one
// this package cannot handle.
type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("Unsupported capture version: %v", e.Version)
}

// Header describes a capture stream.
type Header struct {
	Version uint32
	Session uuid.UUID
	Created time.Time
	Driver  string
}

// NewHeader returns a header for a new capture session of the named driver.
func NewHeader(driver string) Header {
	return Header{
		Version: Version,
		Session: uuid.New(),
		Created: time.Now(),
		Driver:  driver,
	}
}

// Capture is a decoded capture stream.
type Capture struct {
	Header Header
	Chunks []*Chunk
}

// Write encodes the capture to w.
func (c *Capture) Write(w io.Writer) error {
	sw, err := NewStreamWriter(w, c.Header)
	if err != nil {
		return err
	}
	for _, chunk := range c.Chunks {
		if err := sw.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// StreamWriter writes chunks to an output stream.
type StreamWriter struct {
	to      io.Writer
	buf     *proto.Buffer
	sizebuf *proto.Buffer
}

// NewStreamWriter writes the stream magic and header to w and returns a
// writer for the chunks that follow.
func NewStreamWriter(w io.Writer, h Header) (*StreamWriter, error) {
	s := &StreamWriter{
		to:      w,
		buf:     proto.NewBuffer(make([]byte, 0, initialBufferSize)),
		sizebuf: proto.NewBuffer(make([]byte, 0, maxVarintSize)),
	}
	if _, err := w.Write(magic); err != nil {
		return nil, err
	}
	if err := s.writeHeader(h); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StreamWriter) writeHeader(h Header) error {
	created, err := ptypes.TimestampProto(h.Created)
	if err != nil {
		return errors.Wrap(err, "Encoding capture time")
	}
	ts, err := proto.Marshal(created)
	if err != nil {
		return err
	}
	if err := s.buf.EncodeVarint(uint64(h.Version)); err != nil {
		return err
	}
	if err := s.buf.EncodeRawBytes(h.Session[:]); err != nil {
		return err
	}
	if err := s.buf.EncodeRawBytes(ts); err != nil {
		return err
	}
	if err := s.buf.EncodeStringBytes(h.Driver); err != nil {
		return err
	}
	return s.flush()
}

// Write appends c to the stream.
func (s *StreamWriter) Write(c *Chunk) error {
	if err := s.buf.EncodeVarint(uint64(c.Tag)); err != nil {
		return err
	}
	if err := s.buf.EncodeVarint(c.Seq); err != nil {
		return err
	}
	if err := s.buf.EncodeStringBytes(c.Debug); err != nil {
		return err
	}
	if err := s.buf.EncodeRawBytes(c.data); err != nil {
		return err
	}
	return s.flush()
}

func (s *StreamWriter) flush() error {
	size := len(s.buf.Bytes())
	if err := s.sizebuf.EncodeVarint(uint64(size)); err != nil {
		return err
	}
	_, err := s.to.Write(s.sizebuf.Bytes())
	s.sizebuf.Reset()
	if err != nil {
		return err
	}
	_, err = s.to.Write(s.buf.Bytes())
	s.buf.Reset()
	return err
}

// ReadStream decodes a whole capture stream from r, returning the chunks in
// the order they were written.
func ReadStream(ctx context.Context, r io.Reader) (*Capture, error) {
	sr := &streamReader{from: bufio.NewReader(r), pb: proto.NewBuffer(nil)}
	if err := sr.readMagic(); err != nil {
		return nil, err
	}
	out := &Capture{}
	if err := sr.readHeader(&out.Header); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := sr.readChunk()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "Reading chunk %d", len(out.Chunks))
		}
		out.Chunks = append(out.Chunks, c)
	}
	log.D(ctx, "Read %d chunks from %v capture %v", len(out.Chunks), out.Header.Driver, out.Header.Session)
	return out, nil
}

type streamReader struct {
	from *bufio.Reader
	pb   *proto.Buffer
}

func (r *streamReader) readMagic() error {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(r.from, got); err != nil {
		return ErrIncorrectMagic
	}
	if string(got) != string(magic) {
		return ErrIncorrectMagic
	}
	return nil
}

// next reads the next size prefixed record into the proto buffer.
// It returns io.EOF if the stream ends cleanly between records.
func (r *streamReader) next() error {
	peek, err := r.from.Peek(maxVarintSize)
	if len(peek) == 0 {
		if err == nil || err == io.EOF {
			return io.EOF
		}
		return err
	}
	size, n := proto.DecodeVarint(peek)
	if n == 0 || size > maxRecordSize {
		return errors.Wrap(ErrMalformedChunk, "Bad record size")
	}
	if _, err := r.from.Discard(n); err != nil {
		return err
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.from, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	r.pb.SetBuf(data)
	return nil
}

func (r *streamReader) readHeader(h *Header) error {
	if err := r.next(); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.Wrap(err, "Reading capture header")
	}
	version, err := r.pb.DecodeVarint()
	if err != nil {
		return err
	}
	if version != Version {
		return ErrUnsupportedVersion{Version: uint32(version)}
	}
	h.Version = uint32(version)
	session, err := r.pb.DecodeRawBytes(false)
	if err != nil {
		return err
	}
	if h.Session, err = uuid.FromBytes(session); err != nil {
		return errors.Wrap(err, "Decoding capture session")
	}
	ts, err := r.pb.DecodeRawBytes(false)
	if err != nil {
		return err
	}
	created := &timestamp.Timestamp{}
	if err := proto.Unmarshal(ts, created); err != nil {
		return errors.Wrap(err, "Decoding capture time")
	}
	if h.Created, err = ptypes.Timestamp(created); err != nil {
		return err
	}
	h.Driver, err = r.pb.DecodeStringBytes()
	return err
}

func (r *streamReader) readChunk() (*Chunk, error) {
	if err := r.next(); err != nil {
		return nil, err
	}
	tag, err := r.pb.DecodeVarint()
	if err != nil {
		return nil, err
	}
	if tag > uint64(lastTag) || !Tag(tag).Valid() {
		return nil, errors.Wrapf(ErrMalformedChunk, "Unknown chunk tag %d", tag)
	}
	seq, err := r.pb.DecodeVarint()
	if err != nil {
		return nil, err
	}
	debug, err := r.pb.DecodeStringBytes()
	if err != nil {
		return nil, err
	}
	data, err := r.pb.DecodeRawBytes(true)
	if err != nil {
		return nil, err
	}
	return &Chunk{Tag: Tag(tag), Seq: seq, Debug: debug, data: data}, nil
}
