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
	"encoding/binary"
	"fmt"

	"github.com/SnellerInc/strata/value"
)

// EncodingKind is the value encoding of one column
// within a segment.
type EncodingKind uint8

const (
	EncodingDirect EncodingKind = iota + 1
	EncodingDictionary
)

// Encoding is a column's encoding descriptor.
type Encoding struct {
	Kind           EncodingKind
	DictionarySize uint32
}

// StreamMeta locates one stream inside the segment
// payload.
type StreamMeta struct {
	Name   StreamName
	Offset uint64
	Length uint64
}

// GranuleKeys holds the first and last key-column
// values of one granule, in key order. The scan
// layer uses them to prune granules and to place
// split points between distinct keys.
type GranuleKeys struct {
	First []value.Value
	Last  []value.Value
}

// Footer enumerates the streams, encodings and row
// index of a segment.
type Footer struct {
	// Rows is the number of rows in the segment.
	Rows uint64
	// IndexStride is the granule size in rows.
	IndexStride uint32
	// Compression names the block compression of
	// all stream payloads ("" means none).
	Compression string
	// KeyColumns lists the unique ids of the sort
	// key columns, most-significant first.
	KeyColumns []uint32
	// Streams locates every stream payload.
	Streams []StreamMeta
	// Encodings maps column unique ids to their
	// encoding descriptors.
	Encodings map[uint32]Encoding
	// Index holds, per column unique id, one
	// position entry per granule.
	Index map[uint32][][]uint64
	// KeyIndex holds one GranuleKeys per granule.
	KeyIndex []GranuleKeys
}

func (f *Footer) append(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, f.Rows)
	dst = binary.AppendUvarint(dst, uint64(f.IndexStride))
	dst = binary.AppendUvarint(dst, uint64(len(f.Compression)))
	dst = append(dst, f.Compression...)
	dst = binary.AppendUvarint(dst, uint64(len(f.KeyColumns)))
	for _, c := range f.KeyColumns {
		dst = binary.AppendUvarint(dst, uint64(c))
	}
	dst = binary.AppendUvarint(dst, uint64(len(f.Streams)))
	for i := range f.Streams {
		s := &f.Streams[i]
		dst = binary.AppendUvarint(dst, uint64(s.Name.Column))
		dst = append(dst, byte(s.Name.Kind))
		dst = binary.AppendUvarint(dst, s.Offset)
		dst = binary.AppendUvarint(dst, s.Length)
	}
	dst = binary.AppendUvarint(dst, uint64(len(f.Encodings)))
	for _, col := range sortedKeys(f.Encodings) {
		e := f.Encodings[col]
		dst = binary.AppendUvarint(dst, uint64(col))
		dst = append(dst, byte(e.Kind))
		dst = binary.AppendUvarint(dst, uint64(e.DictionarySize))
	}
	dst = binary.AppendUvarint(dst, uint64(len(f.Index)))
	for _, col := range sortedKeys(f.Index) {
		entries := f.Index[col]
		dst = binary.AppendUvarint(dst, uint64(col))
		dst = binary.AppendUvarint(dst, uint64(len(entries)))
		for _, e := range entries {
			dst = binary.AppendUvarint(dst, uint64(len(e)))
			for _, v := range e {
				dst = binary.AppendUvarint(dst, v)
			}
		}
	}
	dst = binary.AppendUvarint(dst, uint64(len(f.KeyIndex)))
	for i := range f.KeyIndex {
		dst = appendTuple(dst, f.KeyIndex[i].First)
		dst = appendTuple(dst, f.KeyIndex[i].Last)
	}
	return dst
}

func appendTuple(dst []byte, tup []value.Value) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(tup)))
	for i := range tup {
		dst = tup[i].AppendBinary(dst)
	}
	return dst
}

type footerReader struct {
	buf []byte
	err error
}

func (r *footerReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = fmt.Errorf("segment: truncated footer")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *footerReader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = fmt.Errorf("segment: truncated footer")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *footerReader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(len(r.buf)) < n {
		r.err = fmt.Errorf("segment: truncated footer")
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *footerReader) tuple() []value.Value {
	n := r.uvarint()
	if r.err != nil || n == 0 {
		return nil
	}
	tup := make([]value.Value, 0, n)
	for i := uint64(0); i < n; i++ {
		v, rest, err := value.DecodeBinary(r.buf)
		if err != nil {
			r.err = err
			return nil
		}
		r.buf = rest
		tup = append(tup, v)
	}
	return tup
}

func decodeFooter(buf []byte) (Footer, error) {
	r := footerReader{buf: buf}
	var f Footer
	f.Rows = r.uvarint()
	f.IndexStride = uint32(r.uvarint())
	f.Compression = string(r.bytes(r.uvarint()))
	nkeys := r.uvarint()
	for i := uint64(0); i < nkeys && r.err == nil; i++ {
		f.KeyColumns = append(f.KeyColumns, uint32(r.uvarint()))
	}
	nstreams := r.uvarint()
	for i := uint64(0); i < nstreams && r.err == nil; i++ {
		var s StreamMeta
		s.Name.Column = uint32(r.uvarint())
		s.Name.Kind = StreamKind(r.byte())
		s.Offset = r.uvarint()
		s.Length = r.uvarint()
		f.Streams = append(f.Streams, s)
	}
	nenc := r.uvarint()
	f.Encodings = make(map[uint32]Encoding, nenc)
	for i := uint64(0); i < nenc && r.err == nil; i++ {
		col := uint32(r.uvarint())
		f.Encodings[col] = Encoding{
			Kind:           EncodingKind(r.byte()),
			DictionarySize: uint32(r.uvarint()),
		}
	}
	nidx := r.uvarint()
	f.Index = make(map[uint32][][]uint64, nidx)
	for i := uint64(0); i < nidx && r.err == nil; i++ {
		col := uint32(r.uvarint())
		ngran := r.uvarint()
		entries := make([][]uint64, 0, ngran)
		for g := uint64(0); g < ngran && r.err == nil; g++ {
			nv := r.uvarint()
			vals := make([]uint64, 0, nv)
			for k := uint64(0); k < nv; k++ {
				vals = append(vals, r.uvarint())
			}
			entries = append(entries, vals)
		}
		f.Index[col] = entries
	}
	nkeyidx := r.uvarint()
	for i := uint64(0); i < nkeyidx && r.err == nil; i++ {
		f.KeyIndex = append(f.KeyIndex, GranuleKeys{
			First: r.tuple(),
			Last:  r.tuple(),
		})
	}
	return f, r.err
}
