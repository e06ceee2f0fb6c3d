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

package column

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/SnellerInc/strata/compr"
	"github.com/SnellerInc/strata/rle"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

func compressor(name string) compr.Compressor {
	if name == "" {
		return nil
	}
	return compr.Compression(name)
}

// WriterOptions configures segment production.
type WriterOptions struct {
	// Compression names the stream block
	// compression ("zstd", "s2", "" for none).
	Compression string
	// IndexStride is the granule size in rows.
	IndexStride uint32
	// BlockSize is the uncompressed block size of
	// each stream.
	BlockSize int
	// DictionaryThreshold selects dictionary
	// encoding for a string column when its
	// distinct/total value ratio falls below it.
	// Zero disables dictionaries.
	DictionaryThreshold float64
}

// DefaultIndexStride is the granule size used when
// WriterOptions leaves it zero.
const DefaultIndexStride = 1024

// Writer encodes rows into a segment image: one
// set of streams per schema field, a row index
// entry per granule, and first/last key values per
// granule for the scan layer.
type Writer struct {
	schema   *Schema
	keySlots []int
	keyIDs   []uint32
	opts     WriterOptions
	cols     []colWriter
	rows     uint64
	entries  map[uint32][]*segment.PositionEntry
	keyIndex []segment.GranuleKeys
}

// NewWriter returns a Writer for the schema with
// the given key columns (field unique ids, most
// significant first).
func NewWriter(schema *Schema, keyColumns []uint32, opts WriterOptions) (*Writer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if opts.IndexStride == 0 {
		opts.IndexStride = DefaultIndexStride
	}
	w := &Writer{
		schema:  schema,
		keyIDs:  keyColumns,
		opts:    opts,
		entries: make(map[uint32][]*segment.PositionEntry),
	}
	for _, id := range keyColumns {
		_, slot, ok := schema.ByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: key column %d not in schema", ErrSchema, id)
		}
		w.keySlots = append(w.keySlots, slot)
	}
	for i := range schema.Fields {
		cw, err := w.newColWriter(&schema.Fields[i])
		if err != nil {
			return nil, err
		}
		w.cols = append(w.cols, cw)
	}
	return w, nil
}

func (w *Writer) stream() *segment.OutStream {
	var comp = compressor(w.opts.Compression)
	return segment.NewOutStream(comp, w.opts.BlockSize)
}

// WriteRow appends one row. Rows must arrive in
// key order; the writer does not sort.
func (w *Writer) WriteRow(row Row) error {
	if len(row) != len(w.cols) {
		return fmt.Errorf("%w: row has %d slots, schema has %d", ErrSchema, len(row), len(w.cols))
	}
	if w.rows%uint64(w.opts.IndexStride) == 0 {
		for i, cw := range w.cols {
			e := &segment.PositionEntry{}
			cw.record(e)
			id := w.schema.Fields[i].ID
			w.entries[id] = append(w.entries[id], e)
		}
		w.keyIndex = append(w.keyIndex, segment.GranuleKeys{First: w.keyOf(row)})
	}
	w.keyIndex[len(w.keyIndex)-1].Last = w.keyOf(row)
	for i, cw := range w.cols {
		if err := cw.write(row[i]); err != nil {
			return fmt.Errorf("column %q: %w", w.schema.Fields[i].Name, err)
		}
	}
	w.rows++
	return nil
}

func (w *Writer) keyOf(row Row) []value.Value {
	key := make([]value.Value, len(w.keySlots))
	for i, slot := range w.keySlots {
		key[i] = row[slot]
	}
	return key
}

// Finish encodes all buffered streams and returns
// the complete segment image.
func (w *Writer) Finish() ([]byte, error) {
	sw := segment.NewWriter(w.opts.Compression, w.opts.IndexStride)
	for i, cw := range w.cols {
		id := w.schema.Fields[i].ID
		if err := cw.finish(sw, w.entries[id]); err != nil {
			return nil, fmt.Errorf("column %q: %w", w.schema.Fields[i].Name, err)
		}
	}
	f := sw.Footer()
	f.Rows = w.rows
	f.KeyColumns = append([]uint32(nil), w.keyIDs...)
	f.KeyIndex = w.keyIndex
	for id, entries := range w.entries {
		vals := make([][]uint64, len(entries))
		for g, e := range entries {
			vals[g] = e.Values()
		}
		f.Index[id] = vals
	}
	return sw.Finish()
}

// colWriter encodes one column. record captures
// restart positions of the live encoders at a
// granule boundary; encoders whose output is
// deferred to finish (string data) append their
// positions to the same entries there, preserving
// reader declaration order.
type colWriter interface {
	record(e *segment.PositionEntry)
	write(v value.Value) error
	finish(sw *segment.Writer, entries []*segment.PositionEntry) error
}

func (w *Writer) newColWriter(f *Field) (colWriter, error) {
	b := colBase{field: f}
	if f.Nullable {
		b.presentOut = w.stream()
		b.present = rle.NewBitFieldWriter(b.presentOut)
	}
	switch f.Type {
	case value.Tiny, value.UTiny:
		out := w.stream()
		return &tinyColWriter{colBase: b, out: out, bw: rle.NewByteWriter(out)}, nil
	case value.Small, value.Int, value.BigInt, value.Date, value.DateTime:
		out := w.stream()
		return &intColWriter{colBase: b, out: out, iw: rle.NewIntWriter(out, true),
			raw: func(v value.Value) int64 { return v.Int64() }}, nil
	case value.USmall, value.UInt, value.UBigInt:
		out := w.stream()
		return &intColWriter{colBase: b, out: out, iw: rle.NewIntWriter(out, false),
			raw: func(v value.Value) int64 { return int64(v.Uint64()) }}, nil
	case value.DiscreteDouble:
		out := w.stream()
		return &intColWriter{colBase: b, out: out, iw: rle.NewIntWriter(out, true),
			raw: func(v value.Value) int64 { return int64(v.Float64()) }}, nil
	case value.Float:
		return &floatColWriter{colBase: b, out: w.stream(), width: 4}, nil
	case value.Double:
		return &floatColWriter{colBase: b, out: w.stream(), width: 8}, nil
	case value.Decimal:
		iout, fout := w.stream(), w.stream()
		return &pairColWriter{colBase: b, aOut: iout, bOut: fout,
			a: rle.NewIntWriter(iout, true), bw: rle.NewIntWriter(fout, true),
			raw: func(v value.Value) (int64, int64) {
				i, fr := v.DecimalParts()
				return i, int64(fr)
			}}, nil
	case value.LargeInt:
		hout, lout := w.stream(), w.stream()
		return &pairColWriter{colBase: b, aOut: hout, bOut: lout,
			a: rle.NewIntWriter(hout, true), bw: rle.NewIntWriter(lout, true),
			raw: func(v value.Value) (int64, int64) {
				hi, lo := v.Int128()
				return hi, int64(lo)
			}}, nil
	case value.Char, value.Varchar, value.HLL:
		return &stringColWriter{colBase: b, w: w}, nil
	case value.Struct, value.List, value.Map:
		return nil, fmt.Errorf("%w: column %q is %s", ErrUnsupportedType, f.Name, f.Type)
	}
	return nil, fmt.Errorf("%w: column %q has type %s", ErrUnsupportedType, f.Name, f.Type)
}

type colBase struct {
	field      *Field
	presentOut *segment.OutStream
	present    *rle.BitFieldWriter
}

func (b *colBase) record(e *segment.PositionEntry) {
	if b.present != nil {
		b.present.RecordPosition(e)
	}
}

// notePresent records the presence bit and reports
// whether the value itself must be encoded.
func (b *colBase) notePresent(v value.Value) (bool, error) {
	if b.present == nil {
		if v.IsNull() {
			return false, fmt.Errorf("%w: NULL in non-nullable column %q", ErrSchema, b.field.Name)
		}
		return true, nil
	}
	if err := b.present.Write(!v.IsNull()); err != nil {
		return false, err
	}
	return !v.IsNull(), nil
}

func (b *colBase) finishPresent(sw *segment.Writer) error {
	if b.present == nil {
		return nil
	}
	if err := b.present.Flush(); err != nil {
		return err
	}
	sw.AddStream(b.field.ID, segment.StreamPresent, b.presentOut.Bytes())
	return nil
}

type tinyColWriter struct {
	colBase
	out *segment.OutStream
	bw  *rle.ByteWriter
}

func (c *tinyColWriter) record(e *segment.PositionEntry) {
	c.colBase.record(e)
	c.bw.RecordPosition(e)
}

func (c *tinyColWriter) write(v value.Value) error {
	ok, err := c.notePresent(v)
	if err != nil || !ok {
		return err
	}
	return c.bw.Write(byte(v.Uint64()))
}

func (c *tinyColWriter) finish(sw *segment.Writer, _ []*segment.PositionEntry) error {
	if err := c.finishPresent(sw); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, c.out.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{Kind: segment.EncodingDirect}
	return nil
}

type intColWriter struct {
	colBase
	out *segment.OutStream
	iw  *rle.IntWriter
	raw func(v value.Value) int64
}

func (c *intColWriter) record(e *segment.PositionEntry) {
	c.colBase.record(e)
	c.iw.RecordPosition(e)
}

func (c *intColWriter) write(v value.Value) error {
	ok, err := c.notePresent(v)
	if err != nil || !ok {
		return err
	}
	return c.iw.Write(c.raw(v))
}

func (c *intColWriter) finish(sw *segment.Writer, _ []*segment.PositionEntry) error {
	if err := c.finishPresent(sw); err != nil {
		return err
	}
	if err := c.iw.Flush(); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, c.out.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{Kind: segment.EncodingDirect}
	return nil
}

type floatColWriter struct {
	colBase
	out   *segment.OutStream
	width int
}

func (c *floatColWriter) record(e *segment.PositionEntry) {
	c.colBase.record(e)
	e.Push(c.out.Position())
}

func (c *floatColWriter) write(v value.Value) error {
	ok, err := c.notePresent(v)
	if err != nil || !ok {
		return err
	}
	var buf [8]byte
	if c.width == 4 {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(float32(v.Float64())))
	} else {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(v.Float64()))
	}
	_, err = c.out.Write(buf[:c.width])
	return err
}

func (c *floatColWriter) finish(sw *segment.Writer, _ []*segment.PositionEntry) error {
	if err := c.finishPresent(sw); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, c.out.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{Kind: segment.EncodingDirect}
	return nil
}

// pairColWriter encodes the two-stream composite
// types: DECIMAL (int part + fraction) and
// LARGEINT (high + low halves).
type pairColWriter struct {
	colBase
	aOut, bOut *segment.OutStream
	a, bw      *rle.IntWriter
	raw        func(v value.Value) (int64, int64)
}

func (c *pairColWriter) record(e *segment.PositionEntry) {
	c.colBase.record(e)
	c.a.RecordPosition(e)
	c.bw.RecordPosition(e)
}

func (c *pairColWriter) write(v value.Value) error {
	ok, err := c.notePresent(v)
	if err != nil || !ok {
		return err
	}
	av, bv := c.raw(v)
	if err := c.a.Write(av); err != nil {
		return err
	}
	return c.bw.Write(bv)
}

func (c *pairColWriter) finish(sw *segment.Writer, _ []*segment.PositionEntry) error {
	if err := c.finishPresent(sw); err != nil {
		return err
	}
	if err := c.a.Flush(); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, c.aOut.Bytes())
	sw.AddStream(c.field.ID, segment.StreamSecondary, c.bOut.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{Kind: segment.EncodingDirect}
	return nil
}

// stringColWriter buffers all values so that the
// direct-versus-dictionary decision can be made
// once the distinct ratio is known. Its data
// positions are appended to the granule entries at
// finish, after the live present positions.
type stringColWriter struct {
	colBase
	w          *Writer
	vals       [][]byte // nil means NULL
	boundaries []int    // row offset of each granule entry
}

func (c *stringColWriter) record(e *segment.PositionEntry) {
	c.colBase.record(e)
	c.boundaries = append(c.boundaries, len(c.vals))
}

func (c *stringColWriter) write(v value.Value) error {
	ok, err := c.notePresent(v)
	if err != nil {
		return err
	}
	if !ok {
		c.vals = append(c.vals, nil)
		return nil
	}
	buf := v.Payload()
	if max := c.field.MaxLength; max > 0 && uint32(len(buf)) > max {
		return fmt.Errorf("%w: string of %d bytes exceeds max length %d", ErrBufferOverflow, len(buf), max)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	if buf == nil {
		cp = []byte{}
	}
	c.vals = append(c.vals, cp)
	return nil
}

func (c *stringColWriter) finish(sw *segment.Writer, entries []*segment.PositionEntry) error {
	if err := c.finishPresent(sw); err != nil {
		return err
	}
	distinct := make(map[string]int)
	total := 0
	for _, v := range c.vals {
		if v == nil {
			continue
		}
		total++
		if _, ok := distinct[string(v)]; !ok {
			distinct[string(v)] = len(distinct)
		}
	}
	thr := c.w.opts.DictionaryThreshold
	if thr > 0 && total > 0 && float64(len(distinct))/float64(total) < thr {
		return c.finishDict(sw, entries, distinct)
	}
	return c.finishDirect(sw, entries)
}

func (c *stringColWriter) finishDirect(sw *segment.Writer, entries []*segment.PositionEntry) error {
	dataOut := c.w.stream()
	lenOut := c.w.stream()
	lw := rle.NewIntWriter(lenOut, false)
	next := 0
	for row, v := range c.vals {
		for next < len(c.boundaries) && c.boundaries[next] == row {
			entries[next].Push(dataOut.Position())
			lw.RecordPosition(entries[next])
			next++
		}
		if v == nil {
			continue
		}
		if err := lw.Write(int64(len(v))); err != nil {
			return err
		}
		if _, err := dataOut.Write(v); err != nil {
			return err
		}
	}
	for next < len(c.boundaries) {
		entries[next].Push(dataOut.Position())
		lw.RecordPosition(entries[next])
		next++
	}
	if err := lw.Flush(); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, dataOut.Bytes())
	sw.AddStream(c.field.ID, segment.StreamLength, lenOut.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{Kind: segment.EncodingDirect}
	return nil
}

func (c *stringColWriter) finishDict(sw *segment.Writer, entries []*segment.PositionEntry, codes map[string]int) error {
	// dictionary entries in first-seen order
	dict := make([]string, len(codes))
	for s, code := range codes {
		dict[code] = s
	}
	dictOut := c.w.stream()
	lenOut := c.w.stream()
	lw := rle.NewIntWriter(lenOut, false)
	for _, s := range dict {
		if err := lw.Write(int64(len(s))); err != nil {
			return err
		}
		if _, err := dictOut.Write([]byte(s)); err != nil {
			return err
		}
	}
	if err := lw.Flush(); err != nil {
		return err
	}
	codeOut := c.w.stream()
	cw := rle.NewIntWriter(codeOut, false)
	next := 0
	for row, v := range c.vals {
		for next < len(c.boundaries) && c.boundaries[next] == row {
			cw.RecordPosition(entries[next])
			next++
		}
		if v == nil {
			continue
		}
		if err := cw.Write(int64(codes[string(v)])); err != nil {
			return err
		}
	}
	for next < len(c.boundaries) {
		cw.RecordPosition(entries[next])
		next++
	}
	if err := cw.Flush(); err != nil {
		return err
	}
	sw.AddStream(c.field.ID, segment.StreamData, codeOut.Bytes())
	sw.AddStream(c.field.ID, segment.StreamLength, lenOut.Bytes())
	sw.AddStream(c.field.ID, segment.StreamDictionaryData, dictOut.Bytes())
	sw.Footer().Encodings[c.field.ID] = segment.Encoding{
		Kind:           segment.EncodingDictionary,
		DictionarySize: uint32(len(codes)),
	}
	return nil
}
