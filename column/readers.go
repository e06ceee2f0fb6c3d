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
	"errors"
	"fmt"
	"math"

	"github.com/SnellerInc/strata/rle"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

// tinyReader decodes TINYINT columns from a
// byte-RLE DATA stream.
type tinyReader struct {
	base
	data *rle.ByteReader
	val  byte
}

func (r *tinyReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	r.data = rle.NewByteReader(in)
	return nil
}

func (r *tinyReader) Seek(pp *segment.PositionProvider) error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	return r.acceptEOF(r.data.Seek(pp))
}

func (r *tinyReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	return r.data.Skip(phys)
}

func (r *tinyReader) Next() error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	v, err := r.data.Next()
	if err != nil {
		return err
	}
	r.val = v
	return nil
}

func (r *tinyReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(r.typ)
	} else if r.typ == value.UTiny {
		row[r.slot] = value.Uint64(r.typ, uint64(r.val))
	} else {
		row[r.slot] = value.Int64(r.typ, int64(int8(r.val)))
	}
}

// intReader decodes the integer-backed column
// types (SMALLINT through BIGINT, DATE, DATETIME,
// DISCRETE_DOUBLE) from a run-length integer DATA
// stream.
type intReader struct {
	base
	signed bool
	mk     func(raw int64) value.Value
	data   *rle.IntReader
	val    int64
}

func (r *intReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	r.data = rle.NewIntReader(in, r.signed)
	return nil
}

func (r *intReader) Seek(pp *segment.PositionProvider) error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	return r.acceptEOF(r.data.Seek(pp))
}

func (r *intReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	return r.data.Skip(phys)
}

func (r *intReader) Next() error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	v, err := r.data.Next()
	if err != nil {
		return err
	}
	r.val = v
	return nil
}

func (r *intReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(r.typ)
	} else {
		row[r.slot] = r.mk(r.val)
	}
}

// floatReader decodes FLOAT and DOUBLE columns
// from raw little-endian IEEE-754 words.
type floatReader struct {
	base
	width int
	data  *segment.InStream
	buf   [8]byte
	val   float64
}

func (r *floatReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	r.data = in
	return nil
}

func (r *floatReader) Seek(pp *segment.PositionProvider) error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	return r.acceptEOF(r.data.Seek(pp.Next()))
}

func (r *floatReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	return r.data.Skip(phys * uint64(r.width))
}

func (r *floatReader) Next() error {
	if r.data == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	if err := r.data.ReadFull(r.buf[:r.width]); err != nil {
		return err
	}
	if r.width == 4 {
		r.val = float64(math.Float32frombits(binary.LittleEndian.Uint32(r.buf[:4])))
	} else {
		r.val = math.Float64frombits(binary.LittleEndian.Uint64(r.buf[:8]))
	}
	return nil
}

func (r *floatReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(r.typ)
	} else {
		row[r.slot] = value.Float64(r.typ, r.val)
	}
}

// decimalReader decodes DECIMAL columns from two
// signed integer streams: DATA holds the integer
// part, SECONDARY the scaled fraction.
type decimalReader struct {
	base
	intR  *rle.IntReader
	fracR *rle.IntReader
	ival  int64
	fval  int64
}

func (r *decimalReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	sec, err := dataStream(streams, r.id, segment.StreamSecondary)
	if err != nil {
		return err
	}
	r.intR = rle.NewIntReader(in, true)
	r.fracR = rle.NewIntReader(sec, true)
	return nil
}

func (r *decimalReader) Seek(pp *segment.PositionProvider) error {
	if r.intR == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	if err := r.acceptEOF(r.intR.Seek(pp)); err != nil {
		return err
	}
	return r.acceptEOF(r.fracR.Seek(pp))
}

func (r *decimalReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	if err := r.intR.Skip(phys); err != nil {
		return err
	}
	return r.fracR.Skip(phys)
}

func (r *decimalReader) Next() error {
	if r.intR == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	var err error
	if r.ival, err = r.intR.Next(); err != nil {
		return err
	}
	if r.fval, err = r.fracR.Next(); err != nil {
		return err
	}
	return nil
}

func (r *decimalReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(value.Decimal)
	} else {
		row[r.slot] = value.NewDecimal(r.ival, int32(r.fval))
	}
}

// largeIntReader decodes LARGEINT columns: the
// high 64 bits from DATA, the low 64 bits from
// SECONDARY.
type largeIntReader struct {
	base
	hiR *rle.IntReader
	loR *rle.IntReader
	hi  int64
	lo  uint64
}

func (r *largeIntReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	sec, err := dataStream(streams, r.id, segment.StreamSecondary)
	if err != nil {
		return err
	}
	r.hiR = rle.NewIntReader(in, true)
	r.loR = rle.NewIntReader(sec, true)
	return nil
}

func (r *largeIntReader) Seek(pp *segment.PositionProvider) error {
	if r.hiR == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	if err := r.acceptEOF(r.hiR.Seek(pp)); err != nil {
		return err
	}
	return r.acceptEOF(r.loR.Seek(pp))
}

func (r *largeIntReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	if err := r.hiR.Skip(phys); err != nil {
		return err
	}
	return r.loR.Skip(phys)
}

func (r *largeIntReader) Next() error {
	if r.hiR == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	hi, err := r.hiR.Next()
	if err != nil {
		return err
	}
	lo, err := r.loR.Next()
	if err != nil {
		return err
	}
	r.hi, r.lo = hi, uint64(lo)
	return nil
}

func (r *largeIntReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(value.LargeInt)
	} else {
		row[r.slot] = value.NewLargeInt(r.hi, r.lo)
	}
}

// stringDirectReader decodes direct-encoded
// string-like columns: an unsigned LENGTH stream
// followed by raw DATA bytes.
type stringDirectReader struct {
	base
	maxLength uint32
	pad       bool
	lengths   *rle.IntReader
	data      *segment.InStream
	val       []byte
}

func (r *stringDirectReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	in, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	lens, err := dataStream(streams, r.id, segment.StreamLength)
	if err != nil {
		return err
	}
	r.data = in
	r.lengths = rle.NewIntReader(lens, false)
	return nil
}

func (r *stringDirectReader) Seek(pp *segment.PositionProvider) error {
	if r.lengths == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	// all strings in a granule may be empty, so an
	// EOF on the data stream alone is not an error
	if err := r.data.Seek(pp.Next()); err != nil && !errors.Is(err, segment.ErrStreamEOF) {
		return err
	}
	return r.acceptEOF(r.lengths.Seek(pp))
}

func (r *stringDirectReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	var total uint64
	for i := uint64(0); i < phys; i++ {
		n, err := r.lengths.Next()
		if err != nil {
			return err
		}
		total += uint64(n)
	}
	return r.data.Skip(total)
}

func (r *stringDirectReader) Next() error {
	if r.lengths == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	n, err := r.lengths.Next()
	if err != nil {
		return err
	}
	if r.maxLength > 0 && uint64(n) > uint64(r.maxLength) {
		return fmt.Errorf("%w: string of %d bytes exceeds max length %d", ErrBufferOverflow, n, r.maxLength)
	}
	buf := make([]byte, n)
	if n > 0 {
		if err := r.data.ReadFull(buf); err != nil {
			return err
		}
	}
	r.val = buf
	return nil
}

func (r *stringDirectReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(r.typ)
	} else {
		row[r.slot] = value.Bytes(r.typ, padded(r.val, r.pad, r.maxLength))
	}
}

// padded zero-pads CHAR payloads to the declared
// column length.
func padded(buf []byte, pad bool, length uint32) []byte {
	if !pad || uint32(len(buf)) >= length {
		return buf
	}
	out := make([]byte, length)
	copy(out, buf)
	return out
}

// stringDictReader decodes dictionary-encoded
// string-like columns. The dictionary is
// materialized once at Init from the LENGTH and
// DICTIONARY_DATA streams so that Next is a table
// lookup on the integer codes in DATA.
type stringDictReader struct {
	base
	maxLength uint32
	pad       bool
	size      uint32
	dict      [][]byte
	codes     *rle.IntReader
	val       []byte
}

func (r *stringDictReader) Init(streams map[segment.StreamName]*segment.InStream) error {
	r.initPresent(streams)
	dictData, err := dataStream(streams, r.id, segment.StreamDictionaryData)
	if err != nil {
		return err
	}
	lens, err := dataStream(streams, r.id, segment.StreamLength)
	if err != nil {
		return err
	}
	lr := rle.NewIntReader(lens, false)
	r.dict = make([][]byte, 0, r.size)
	for i := uint32(0); i < r.size; i++ {
		n, err := lr.Next()
		if err != nil {
			return fmt.Errorf("dictionary entry %d: %w", i, err)
		}
		buf := make([]byte, n)
		if err := dictData.ReadFull(buf); err != nil && n > 0 {
			return fmt.Errorf("dictionary entry %d: %w", i, err)
		}
		r.dict = append(r.dict, buf)
	}
	data, err := dataStream(streams, r.id, segment.StreamData)
	if err != nil {
		return err
	}
	r.codes = rle.NewIntReader(data, false)
	return nil
}

func (r *stringDictReader) Seek(pp *segment.PositionProvider) error {
	if r.codes == nil {
		return ErrNotInited
	}
	if err := r.seekPresent(pp); err != nil {
		return err
	}
	return r.acceptEOF(r.codes.Seek(pp))
}

func (r *stringDictReader) Skip(rows uint64) error {
	phys, err := r.physical(rows)
	if err != nil {
		return err
	}
	return r.codes.Skip(phys)
}

func (r *stringDictReader) Next() error {
	if r.codes == nil {
		return ErrNotInited
	}
	if err := r.nextPresent(); err != nil {
		return err
	}
	if r.isNull {
		return nil
	}
	code, err := r.codes.Next()
	if err != nil {
		return err
	}
	if code < 0 || code >= int64(len(r.dict)) {
		return fmt.Errorf("%w: dictionary code %d out of range (size %d)", ErrBufferOverflow, code, len(r.dict))
	}
	r.val = r.dict[code]
	return nil
}

func (r *stringDictReader) Attach(row Row) {
	if r.isNull {
		row[r.slot] = value.Null(r.typ)
	} else {
		row[r.slot] = value.Bytes(r.typ, padded(r.val, r.pad, r.maxLength))
	}
}

// defaultReader synthesizes the declared default
// value for a column absent from the segment.
type defaultReader struct {
	slot int
	val  value.Value
}

func (r *defaultReader) Init(map[segment.StreamName]*segment.InStream) error { return nil }
func (r *defaultReader) Seek(*segment.PositionProvider) error                { return nil }
func (r *defaultReader) Skip(uint64) error                                   { return nil }
func (r *defaultReader) Next() error                                         { return nil }
func (r *defaultReader) Attach(row Row)                                      { row[r.slot] = r.val }

// nullReader synthesizes NULL for a nullable
// column absent from the segment.
type nullReader struct {
	slot int
	typ  value.Type
}

func (r *nullReader) Init(map[segment.StreamName]*segment.InStream) error { return nil }
func (r *nullReader) Seek(*segment.PositionProvider) error                { return nil }
func (r *nullReader) Skip(uint64) error                                   { return nil }
func (r *nullReader) Next() error                                         { return nil }
func (r *nullReader) Attach(row Row)                                      { row[r.slot] = value.Null(r.typ) }
