// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package segment implements the on-disk column
// segment container: named per-column byte streams
// with block compression, restartable positions,
// and a checksummed footer enumerating streams,
// encodings and the row index.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/SnellerInc/strata/compr"
)

// StreamKind identifies one of the byte channels
// a column is striped into.
type StreamKind uint8

const (
	StreamPresent StreamKind = iota + 1
	StreamData
	StreamLength
	StreamSecondary
	StreamDictionaryData
	StreamRowIndex
)

var kindNames = [...]string{
	StreamPresent:        "PRESENT",
	StreamData:           "DATA",
	StreamLength:         "LENGTH",
	StreamSecondary:      "SECONDARY",
	StreamDictionaryData: "DICTIONARY_DATA",
	StreamRowIndex:       "ROW_INDEX",
}

func (k StreamKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// StreamName keys a stream within a segment.
type StreamName struct {
	Column uint32
	Kind   StreamKind
}

func (n StreamName) String() string {
	return fmt.Sprintf("%s(%d)", n.Kind, n.Column)
}

var (
	// ErrStreamEOF is returned by stream reads and
	// seeks past the end of a stream. Seeks accept
	// it on non-present data streams when a granule
	// is wholly NULL.
	ErrStreamEOF = errors.New("column stream EOF")

	// ErrShortRead is returned when a stream ends
	// in the middle of a value.
	ErrShortRead = errors.New("short read on column stream")

	// ErrStreamNotFound is returned when a segment
	// does not carry a requested stream.
	ErrStreamNotFound = errors.New("column stream not found")
)

// block header layout: a little-endian uint32 with
// the stored length in bits 0..23 and a raw-block
// flag in bit 24; compressed blocks are followed
// by a uvarint of the decompressed length.
const (
	blockLenMask = 1<<24 - 1
	blockRawBit  = 1 << 24

	// DefaultBlockSize is the uncompressed block
	// granularity of OutStream.
	DefaultBlockSize = 16 * 1024
)

// OutStream accumulates one column stream,
// compressing it block-by-block. A block that does
// not shrink under compression is stored raw.
type OutStream struct {
	comp      compr.Compressor
	blockSize int
	buf       []byte // pending uncompressed bytes
	out       []byte // encoded blocks
	written   uint64 // total uncompressed bytes accepted
	scratch   []byte
}

// NewOutStream returns an OutStream compressing
// with comp (nil means store everything raw) in
// blocks of blockSize uncompressed bytes.
func NewOutStream(comp compr.Compressor, blockSize int) *OutStream {
	if blockSize <= 0 || blockSize > blockLenMask {
		blockSize = DefaultBlockSize
	}
	return &OutStream{comp: comp, blockSize: blockSize}
}

// Position returns the current uncompressed write
// offset. It is the value recorded into row index
// entries for raw streams.
func (o *OutStream) Position() uint64 { return o.written }

func (o *OutStream) Write(p []byte) (int, error) {
	total := len(p)
	o.written += uint64(total)
	for len(p) > 0 {
		n := o.blockSize - len(o.buf)
		if n > len(p) {
			n = len(p)
		}
		o.buf = append(o.buf, p[:n]...)
		p = p[n:]
		if len(o.buf) == o.blockSize {
			o.flushBlock()
		}
	}
	return total, nil
}

func (o *OutStream) WriteByte(b byte) error {
	o.written++
	o.buf = append(o.buf, b)
	if len(o.buf) == o.blockSize {
		o.flushBlock()
	}
	return nil
}

func (o *OutStream) flushBlock() {
	if len(o.buf) == 0 {
		return
	}
	if o.comp != nil {
		o.scratch = o.comp.Compress(o.buf, o.scratch[:0])
		if len(o.scratch) < len(o.buf) {
			o.out = binary.LittleEndian.AppendUint32(o.out, uint32(len(o.scratch)))
			o.out = binary.AppendUvarint(o.out, uint64(len(o.buf)))
			o.out = append(o.out, o.scratch...)
			o.buf = o.buf[:0]
			return
		}
	}
	o.out = binary.LittleEndian.AppendUint32(o.out, uint32(len(o.buf))|blockRawBit)
	o.out = append(o.out, o.buf...)
	o.buf = o.buf[:0]
}

// Bytes flushes the pending block and returns the
// encoded stream payload.
func (o *OutStream) Bytes() []byte {
	o.flushBlock()
	return o.out
}

// InStream is a decoded column stream. The payload
// is decompressed once at open so that seeks are a
// single offset assignment.
type InStream struct {
	data []byte
	pos  uint64
}

// NewInStream decodes the blocks of enc using dec
// and returns a readable stream.
func NewInStream(enc []byte, dec compr.Decompressor) (*InStream, error) {
	var data []byte
	for len(enc) > 0 {
		if len(enc) < 4 {
			return nil, fmt.Errorf("segment: truncated block header: %w", ErrShortRead)
		}
		hdr := binary.LittleEndian.Uint32(enc)
		enc = enc[4:]
		stored := int(hdr & blockLenMask)
		if hdr&blockRawBit != 0 {
			if stored > len(enc) {
				return nil, fmt.Errorf("segment: truncated raw block: %w", ErrShortRead)
			}
			data = append(data, enc[:stored]...)
			enc = enc[stored:]
			continue
		}
		rawLen, n := binary.Uvarint(enc)
		if n <= 0 {
			return nil, fmt.Errorf("segment: bad block length: %w", ErrShortRead)
		}
		enc = enc[n:]
		if stored > len(enc) {
			return nil, fmt.Errorf("segment: truncated compressed block: %w", ErrShortRead)
		}
		if dec == nil {
			return nil, fmt.Errorf("segment: compressed block but no decompressor configured")
		}
		dst := make([]byte, rawLen)
		if err := dec.Decompress(enc[:stored], dst); err != nil {
			return nil, fmt.Errorf("segment: decompress block: %w", err)
		}
		data = append(data, dst...)
		enc = enc[stored:]
	}
	return &InStream{data: data}, nil
}

// Len returns the total uncompressed stream length.
func (s *InStream) Len() uint64 { return uint64(len(s.data)) }

// Offset returns the current read offset.
func (s *InStream) Offset() uint64 { return s.pos }

// ReadByte returns the next byte, or ErrStreamEOF
// at the end of the stream.
func (s *InStream) ReadByte() (byte, error) {
	if s.pos >= uint64(len(s.data)) {
		return 0, ErrStreamEOF
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

// ReadFull fills p entirely or returns an error:
// ErrStreamEOF when no bytes remain, ErrShortRead
// when the stream ends mid-buffer.
func (s *InStream) ReadFull(p []byte) error {
	rem := uint64(len(s.data)) - s.pos
	if rem == 0 && len(p) > 0 {
		return ErrStreamEOF
	}
	if rem < uint64(len(p)) {
		return ErrShortRead
	}
	copy(p, s.data[s.pos:])
	s.pos += uint64(len(p))
	return nil
}

// Skip advances the read offset by n bytes.
func (s *InStream) Skip(n uint64) error {
	if s.pos+n > uint64(len(s.data)) {
		s.pos = uint64(len(s.data))
		return ErrStreamEOF
	}
	s.pos += n
	return nil
}

// Seek positions the stream at the absolute
// uncompressed offset off. Seeking to the very end
// of the stream returns ErrStreamEOF; callers
// seeking a wholly-NULL granule rely on that.
func (s *InStream) Seek(off uint64) error {
	if off >= uint64(len(s.data)) {
		s.pos = uint64(len(s.data))
		return ErrStreamEOF
	}
	s.pos = off
	return nil
}
