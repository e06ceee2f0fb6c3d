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
	"errors"
	"fmt"

	"github.com/SnellerInc/strata/rle"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

// Reader decodes one column of a segment row by
// row.
//
// Next advances by one logical row; Attach writes
// the decoded value (or NULL) into the reader's
// slot of the output row. Skip advances by whole
// logical rows, translating them into physical
// value skips through the present stream. Seek
// repositions at a granule boundary; it consumes
// exactly the offsets its streams recorded at
// write time from the provider (three for a
// present stream, two for each run-length stream,
// one for a raw DATA stream), which may be nil only for
// synthesized (default/NULL) readers.
type Reader interface {
	Init(streams map[segment.StreamName]*segment.InStream) error
	Seek(pp *segment.PositionProvider) error
	Skip(rows uint64) error
	Next() error
	Attach(row Row)
}

// base carries the present-stream handling shared
// by all decoding readers: if the column has a
// PRESENT stream, Next first advances it, and a
// zero bit means the row is NULL and no DATA value
// is consumed.
type base struct {
	slot    int
	id      uint32
	typ     value.Type
	present *rle.BitFieldReader
	isNull  bool
}

func (b *base) initPresent(streams map[segment.StreamName]*segment.InStream) {
	if in, ok := streams[segment.StreamName{Column: b.id, Kind: segment.StreamPresent}]; ok {
		b.present = rle.NewBitFieldReader(in)
	}
}

func (b *base) seekPresent(pp *segment.PositionProvider) error {
	if b.present == nil {
		return nil
	}
	return b.present.Seek(pp)
}

func (b *base) nextPresent() error {
	if b.present == nil {
		b.isNull = false
		return nil
	}
	bit, err := b.present.Next()
	if err != nil {
		return err
	}
	b.isNull = !bit
	return nil
}

// physical returns how many physical values back a
// logical skip of rows, consuming the present bits.
func (b *base) physical(rows uint64) (uint64, error) {
	if b.present == nil {
		return rows, nil
	}
	return b.present.CountSet(rows)
}

// acceptEOF filters the data-stream seek result:
// when the column has a PRESENT stream, a granule
// may be wholly NULL and its data streams have no
// bytes to seek to; that EOF must not fail the
// seek.
func (b *base) acceptEOF(err error) error {
	if err != nil && b.present != nil && errors.Is(err, segment.ErrStreamEOF) {
		return nil
	}
	return err
}

func dataStream(streams map[segment.StreamName]*segment.InStream, id uint32, kind segment.StreamKind) (*segment.InStream, error) {
	in, ok := streams[segment.StreamName{Column: id, Kind: kind}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", segment.ErrStreamNotFound, segment.StreamName{Column: id, Kind: kind})
	}
	return in, nil
}

// NewReader builds the decoder for field f at the
// given slot against an opened segment. Columns
// absent from the segment synthesize their default
// value or NULL; a non-nullable absent column
// without a default is a hard schema error.
// Sub-columns are built recursively and advance in
// lockstep with their parent.
func NewReader(slot int, f *Field, schema *Schema, seg *segment.Reader) (Reader, error) {
	r, err := newScalarReader(slot, f, seg)
	if err != nil {
		return nil, err
	}
	if len(f.SubColumns) == 0 {
		return r, nil
	}
	comp := &composite{Reader: r}
	for _, sub := range f.SubColumns {
		sf, sslot, ok := schema.ByID(sub)
		if !ok {
			return nil, fmt.Errorf("%w: sub-column %d of %q not in schema", ErrSchema, sub, f.Name)
		}
		sr, err := NewReader(sslot, sf, schema, seg)
		if err != nil {
			return nil, fmt.Errorf("sub-column %q: %w", sf.Name, err)
		}
		comp.subs = append(comp.subs, sr)
	}
	return comp, nil
}

func newScalarReader(slot int, f *Field, seg *segment.Reader) (Reader, error) {
	if !seg.HasColumn(f.ID) {
		switch {
		case f.HasDefault && f.Default == "NULL" && f.Nullable:
			return &nullReader{slot: slot, typ: f.Type}, nil
		case f.HasDefault:
			v, err := value.Parse(f.Type, f.Default)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q default: %v", ErrSchema, f.Name, err)
			}
			return &defaultReader{slot: slot, val: v}, nil
		case f.Nullable:
			return &nullReader{slot: slot, typ: f.Type}, nil
		default:
			return nil, fmt.Errorf("%w: non-nullable column %q absent from segment and has no default", ErrSchema, f.Name)
		}
	}
	b := base{slot: slot, id: f.ID, typ: f.Type}
	enc := seg.Encoding(f.ID)
	switch f.Type {
	case value.Tiny, value.UTiny:
		return &tinyReader{base: b}, nil
	case value.Small, value.Int, value.BigInt:
		return &intReader{base: b, signed: true, mk: mkSigned(f.Type)}, nil
	case value.USmall, value.UInt, value.UBigInt:
		return &intReader{base: b, signed: false, mk: mkUnsigned(f.Type)}, nil
	case value.Date, value.DateTime:
		return &intReader{base: b, signed: true, mk: mkSigned(f.Type)}, nil
	case value.DiscreteDouble:
		return &intReader{base: b, signed: true, mk: func(raw int64) value.Value {
			return value.Float64(value.DiscreteDouble, float64(raw))
		}}, nil
	case value.Float:
		return &floatReader{base: b, width: 4}, nil
	case value.Double:
		return &floatReader{base: b, width: 8}, nil
	case value.Decimal:
		return &decimalReader{base: b}, nil
	case value.LargeInt:
		return &largeIntReader{base: b}, nil
	case value.Char, value.Varchar, value.HLL:
		switch enc.Kind {
		case segment.EncodingDictionary:
			return &stringDictReader{base: b, maxLength: f.MaxLength, pad: f.Type == value.Char, size: enc.DictionarySize}, nil
		case segment.EncodingDirect:
			return &stringDirectReader{base: b, maxLength: f.MaxLength, pad: f.Type == value.Char}, nil
		default:
			return nil, fmt.Errorf("%w: column %q has unknown encoding %d", ErrSchema, f.Name, enc.Kind)
		}
	case value.Struct, value.List, value.Map:
		return nil, fmt.Errorf("%w: column %q is %s", ErrUnsupportedType, f.Name, f.Type)
	}
	return nil, fmt.Errorf("%w: column %q has type %s", ErrUnsupportedType, f.Name, f.Type)
}

func mkSigned(t value.Type) func(int64) value.Value {
	return func(raw int64) value.Value { return value.Int64(t, raw) }
}

func mkUnsigned(t value.Type) func(int64) value.Value {
	return func(raw int64) value.Value { return value.Uint64(t, uint64(raw)) }
}

// composite cascades every operation from a parent
// reader to its sub-readers, keeping their streams
// aligned row for row.
type composite struct {
	Reader
	subs []Reader
}

func (c *composite) Init(streams map[segment.StreamName]*segment.InStream) error {
	if err := c.Reader.Init(streams); err != nil {
		return err
	}
	for _, s := range c.subs {
		if err := s.Init(streams); err != nil {
			return err
		}
	}
	return nil
}

func (c *composite) Seek(pp *segment.PositionProvider) error {
	if err := c.Reader.Seek(pp); err != nil {
		return err
	}
	for _, s := range c.subs {
		if err := s.Seek(pp); err != nil {
			return err
		}
	}
	return nil
}

func (c *composite) Skip(rows uint64) error {
	if err := c.Reader.Skip(rows); err != nil {
		return err
	}
	for _, s := range c.subs {
		if err := s.Skip(rows); err != nil {
			return err
		}
	}
	return nil
}

func (c *composite) Next() error {
	if err := c.Reader.Next(); err != nil {
		return err
	}
	for _, s := range c.subs {
		if err := s.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (c *composite) Attach(row Row) {
	c.Reader.Attach(row)
	for _, s := range c.subs {
		s.Attach(row)
	}
}
