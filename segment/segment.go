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

package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/SnellerInc/strata/compr"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// segment tail layout:
//
//	[stream payloads][footer][blake2b-256 of footer][uint32 footer length][magic]
var magic = []byte{'S', 'T', 'S', 'G'}

const tailLen = blake2b.Size256 + 4 + 4

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// Writer assembles a segment from finished stream
// payloads and footer metadata.
type Writer struct {
	f       Footer
	payload []byte
}

// NewWriter returns a Writer for a segment whose
// stream payloads are block-compressed with the
// named algorithm ("" for none) and indexed every
// indexStride rows.
func NewWriter(compression string, indexStride uint32) *Writer {
	return &Writer{f: Footer{
		Compression: compression,
		IndexStride: indexStride,
		Encodings:   make(map[uint32]Encoding),
		Index:       make(map[uint32][][]uint64),
	}}
}

// Footer exposes the footer under construction.
func (w *Writer) Footer() *Footer { return &w.f }

// AddStream appends one encoded stream payload.
func (w *Writer) AddStream(col uint32, kind StreamKind, payload []byte) {
	w.f.Streams = append(w.f.Streams, StreamMeta{
		Name:   StreamName{Column: col, Kind: kind},
		Offset: uint64(len(w.payload)),
		Length: uint64(len(payload)),
	})
	w.payload = append(w.payload, payload...)
}

// Finish serializes the footer and returns the
// complete segment image.
func (w *Writer) Finish() ([]byte, error) {
	buf := w.payload
	footer := w.f.append(nil)
	sum := blake2b.Sum256(footer)
	buf = append(buf, footer...)
	buf = append(buf, sum[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(footer)))
	buf = append(buf, magic...)
	return buf, nil
}

// Reader provides access to the streams and row
// index of an opened segment.
type Reader struct {
	f   Footer
	buf []byte
	dec compr.Decompressor
}

// Open validates the magic and footer checksum of
// a segment image and decodes its footer.
func Open(buf []byte) (*Reader, error) {
	if len(buf) < tailLen || !bytes.Equal(buf[len(buf)-4:], magic) {
		return nil, fmt.Errorf("segment: bad magic")
	}
	flen := binary.LittleEndian.Uint32(buf[len(buf)-8:])
	fstart := len(buf) - 8 - blake2b.Size256 - int(flen)
	if fstart < 0 {
		return nil, fmt.Errorf("segment: bad footer length %d", flen)
	}
	footer := buf[fstart : fstart+int(flen)]
	sum := blake2b.Sum256(footer)
	if !bytes.Equal(sum[:], buf[fstart+int(flen):fstart+int(flen)+blake2b.Size256]) {
		return nil, fmt.Errorf("segment: footer checksum mismatch")
	}
	f, err := decodeFooter(footer)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: f, buf: buf[:fstart]}
	if f.Compression != "" {
		r.dec = compr.Decompression(f.Compression)
		if r.dec == nil {
			return nil, fmt.Errorf("segment: unknown compression %q", f.Compression)
		}
	}
	return r, nil
}

// Footer returns the decoded footer.
func (r *Reader) Footer() *Footer { return &r.f }

// Rows returns the row count of the segment.
func (r *Reader) Rows() uint64 { return r.f.Rows }

// Granules returns the number of row index entries.
func (r *Reader) Granules() int {
	if r.f.IndexStride == 0 {
		return 1
	}
	n := (r.f.Rows + uint64(r.f.IndexStride) - 1) / uint64(r.f.IndexStride)
	if n == 0 {
		n = 1
	}
	return int(n)
}

// HasStream returns whether the segment carries
// the named stream.
func (r *Reader) HasStream(col uint32, kind StreamKind) bool {
	_, ok := r.meta(col, kind)
	return ok
}

// HasColumn returns whether the segment carries
// any stream of the column.
func (r *Reader) HasColumn(col uint32) bool {
	for i := range r.f.Streams {
		if r.f.Streams[i].Name.Column == col {
			return true
		}
	}
	return false
}

func (r *Reader) meta(col uint32, kind StreamKind) (*StreamMeta, bool) {
	for i := range r.f.Streams {
		if r.f.Streams[i].Name.Column == col && r.f.Streams[i].Name.Kind == kind {
			return &r.f.Streams[i], true
		}
	}
	return nil, false
}

// Stream opens the named stream, decompressing its
// blocks. It returns ErrStreamNotFound when the
// segment does not carry it.
func (r *Reader) Stream(col uint32, kind StreamKind) (*InStream, error) {
	m, ok := r.meta(col, kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, StreamName{col, kind})
	}
	if m.Offset+m.Length > uint64(len(r.buf)) {
		return nil, fmt.Errorf("segment: stream %s out of bounds", m.Name)
	}
	return NewInStream(r.buf[m.Offset:m.Offset+m.Length], r.dec)
}

// Streams opens every stream of the given column.
func (r *Reader) Streams(col uint32) (map[StreamName]*InStream, error) {
	out := make(map[StreamName]*InStream)
	for i := range r.f.Streams {
		m := &r.f.Streams[i]
		if m.Name.Column != col {
			continue
		}
		in, err := r.Stream(col, m.Name.Kind)
		if err != nil {
			return nil, err
		}
		out[m.Name] = in
	}
	return out, nil
}

// Encoding returns the encoding descriptor of a
// column; columns without one are direct.
func (r *Reader) Encoding(col uint32) Encoding {
	if e, ok := r.f.Encodings[col]; ok {
		return e
	}
	return Encoding{Kind: EncodingDirect}
}

// Positions returns a PositionProvider for the
// given column at the given granule, or nil when
// the segment carries no index entry for it.
func (r *Reader) Positions(col uint32, granule int) *PositionProvider {
	entries := r.f.Index[col]
	if granule < 0 || granule >= len(entries) {
		return nil
	}
	return NewPositionProvider(entries[granule])
}
