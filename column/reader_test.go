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
	"testing"

	"github.com/SnellerInc/strata/rle"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

func buildSegment(t *testing.T, schema *Schema, keyCols []uint32, rows []Row, opts WriterOptions) *segment.Reader {
	t.Helper()
	w, err := NewWriter(schema, keyCols, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		if err := w.WriteRow(row); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
	}
	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	seg, err := segment.Open(buf)
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func openReaders(t *testing.T, seg *segment.Reader, schema *Schema) []Reader {
	t.Helper()
	streams := make(map[segment.StreamName]*segment.InStream)
	for i := range schema.Fields {
		id := schema.Fields[i].ID
		if !seg.HasColumn(id) {
			continue
		}
		m, err := seg.Streams(id)
		if err != nil {
			t.Fatal(err)
		}
		for name, in := range m {
			streams[name] = in
		}
	}
	var readers []Reader
	for i := range schema.Fields {
		r, err := NewReader(i, &schema.Fields[i], schema, seg)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Init(streams); err != nil {
			t.Fatal(err)
		}
		readers = append(readers, r)
	}
	return readers
}

func readRows(t *testing.T, readers []Reader, schema *Schema, n int) []Row {
	t.Helper()
	out := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row := make(Row, len(schema.Fields))
		for _, r := range readers {
			if err := r.Next(); err != nil {
				t.Fatalf("row %d: %v", i, err)
			}
			r.Attach(row)
		}
		out = append(out, row)
	}
	return out
}

func intRow(vals ...int64) Row {
	row := make(Row, len(vals))
	for i, v := range vals {
		row[i] = value.Int64(value.BigInt, v)
	}
	return row
}

// TestDictionaryString follows the seeded
// scenario: a dictionary of three entries and five
// coded rows.
func TestDictionaryString(t *testing.T) {
	schema := &Schema{Fields: []Field{
		{Name: "s", ID: 1, Type: value.Varchar, MaxLength: 16},
	}}
	words := []string{"alpha", "beta", "beta", "gamma", "alpha"}
	rows := make([]Row, len(words))
	for i, w := range words {
		rows[i] = Row{value.String(value.Varchar, w)}
	}
	seg := buildSegment(t, schema, nil, rows, WriterOptions{DictionaryThreshold: 0.9})
	if enc := seg.Encoding(1); enc.Kind != segment.EncodingDictionary || enc.DictionarySize != 3 {
		t.Fatalf("expected 3-entry dictionary, got %+v", enc)
	}
	readers := openReaders(t, seg, schema)
	got := readRows(t, readers, schema, len(words))
	for i, w := range words {
		if string(got[i][0].Payload()) != w {
			t.Fatalf("row %d: got %q want %q", i, got[i][0].Payload(), w)
		}
	}
}

// TestDictionaryInvalidCode injects a code past
// the dictionary size and expects BufferOverflow.
func TestDictionaryInvalidCode(t *testing.T) {
	dict := []string{"alpha", "beta", "gamma"}
	lenOut := segment.NewOutStream(nil, 0)
	lw := rle.NewIntWriter(lenOut, false)
	dictOut := segment.NewOutStream(nil, 0)
	for _, s := range dict {
		if err := lw.Write(int64(len(s))); err != nil {
			t.Fatal(err)
		}
		dictOut.Write([]byte(s))
	}
	if err := lw.Flush(); err != nil {
		t.Fatal(err)
	}
	codeOut := segment.NewOutStream(nil, 0)
	cw := rle.NewIntWriter(codeOut, false)
	for _, code := range []int64{0, 1, 1, 2, 0, 3} {
		if err := cw.Write(code); err != nil {
			t.Fatal(err)
		}
	}
	if err := cw.Flush(); err != nil {
		t.Fatal(err)
	}
	sw := segment.NewWriter("", 1024)
	sw.AddStream(1, segment.StreamLength, lenOut.Bytes())
	sw.AddStream(1, segment.StreamDictionaryData, dictOut.Bytes())
	sw.AddStream(1, segment.StreamData, codeOut.Bytes())
	sw.Footer().Rows = 6
	sw.Footer().Encodings[1] = segment.Encoding{Kind: segment.EncodingDictionary, DictionarySize: 3}
	buf, err := sw.Finish()
	if err != nil {
		t.Fatal(err)
	}
	seg, err := segment.Open(buf)
	if err != nil {
		t.Fatal(err)
	}
	schema := &Schema{Fields: []Field{{Name: "s", ID: 1, Type: value.Varchar}}}
	readers := openReaders(t, seg, schema)
	row := make(Row, 1)
	for i := 0; i < 5; i++ {
		if err := readers[0].Next(); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		readers[0].Attach(row)
	}
	if err := readers[0].Next(); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected ErrBufferOverflow, got %v", err)
	}
}

// TestNullableColumn follows the seeded scenario:
// PRESENT [1,0,1,1,0,1] over DATA [10,20,30,40].
func TestNullableColumn(t *testing.T) {
	schema := &Schema{Fields: []Field{
		{Name: "v", ID: 1, Type: value.Int, Nullable: true},
	}}
	vals := []any{int64(10), nil, int64(20), int64(30), nil, int64(40)}
	rows := make([]Row, len(vals))
	for i, v := range vals {
		if v == nil {
			rows[i] = Row{value.Null(value.Int)}
		} else {
			rows[i] = Row{value.Int64(value.Int, v.(int64))}
		}
	}
	seg := buildSegment(t, schema, nil, rows, WriterOptions{})

	readers := openReaders(t, seg, schema)
	got := readRows(t, readers, schema, len(vals))
	for i, v := range vals {
		if v == nil {
			if !got[i][0].IsNull() {
				t.Fatalf("row %d: expected NULL", i)
			}
		} else if got[i][0].IsNull() || got[i][0].Int64() != v.(int64) {
			t.Fatalf("row %d: got %s want %d", i, got[i][0], v)
		}
	}

	// skip(4) then next twice: NULL, then 40
	readers = openReaders(t, seg, schema)
	if err := readers[0].Skip(4); err != nil {
		t.Fatal(err)
	}
	row := make(Row, 1)
	if err := readers[0].Next(); err != nil {
		t.Fatal(err)
	}
	readers[0].Attach(row)
	if !row[0].IsNull() {
		t.Fatalf("after skip(4): expected NULL, got %s", row[0])
	}
	if err := readers[0].Next(); err != nil {
		t.Fatal(err)
	}
	readers[0].Attach(row)
	if row[0].IsNull() || row[0].Int64() != 40 {
		t.Fatalf("after skip(4): expected 40, got %s", row[0])
	}
}

// TestSkipEqualsReadAndDrop exercises the
// skip/read equivalence across a null pattern.
func TestSkipEqualsReadAndDrop(t *testing.T) {
	schema := &Schema{Fields: []Field{
		{Name: "v", ID: 1, Type: value.BigInt, Nullable: true},
	}}
	const n = 600
	rows := make([]Row, n)
	for i := range rows {
		if i%7 == 3 || i%11 == 5 {
			rows[i] = Row{value.Null(value.BigInt)}
		} else {
			rows[i] = Row{value.Int64(value.BigInt, int64(i * 3))}
		}
	}
	seg := buildSegment(t, schema, nil, rows, WriterOptions{IndexStride: 128})
	want := readRows(t, openReaders(t, seg, schema), schema, n)
	for skip := 0; skip < n; skip += 17 {
		readers := openReaders(t, seg, schema)
		if err := readers[0].Skip(uint64(skip)); err != nil {
			t.Fatalf("skip(%d): %v", skip, err)
		}
		row := make(Row, 1)
		if err := readers[0].Next(); err != nil {
			t.Fatalf("skip(%d): %v", skip, err)
		}
		readers[0].Attach(row)
		if value.Compare(row[0], want[skip][0]) != 0 || row[0].IsNull() != want[skip][0].IsNull() {
			t.Fatalf("skip(%d): got %s want %s", skip, row[0], want[skip][0])
		}
	}
}

// TestSeekRestartability reads from every granule
// boundary and compares against the sequential
// scan.
func TestSeekRestartability(t *testing.T) {
	schema := &Schema{Fields: []Field{
		{Name: "k", ID: 1, Type: value.BigInt},
		{Name: "s", ID: 2, Type: value.Varchar, Nullable: true, MaxLength: 32},
		{Name: "d", ID: 3, Type: value.Decimal, Nullable: true},
	}}
	const n = 1000
	const stride = 256
	rows := make([]Row, n)
	for i := range rows {
		row := Row{
			value.Int64(value.BigInt, int64(i)),
			value.String(value.Varchar, "str-"+string(rune('a'+i%26))),
			value.NewDecimal(int64(i), int32(i%1000)*1_000_000),
		}
		if i%5 == 1 {
			row[1] = value.Null(value.Varchar)
		}
		if i%9 == 2 {
			row[2] = value.Null(value.Decimal)
		}
		rows[i] = row
	}
	seg := buildSegment(t, schema, []uint32{1}, rows, WriterOptions{IndexStride: stride})
	want := readRows(t, openReaders(t, seg, schema), schema, n)

	for g := 0; g < seg.Granules(); g++ {
		readers := openReaders(t, seg, schema)
		for i, r := range readers {
			pp := seg.Positions(schema.Fields[i].ID, g)
			if pp == nil {
				t.Fatalf("granule %d: no positions for column %d", g, schema.Fields[i].ID)
			}
			if err := r.Seek(pp); err != nil {
				t.Fatalf("granule %d column %q: %v", g, schema.Fields[i].Name, err)
			}
		}
		got := readRows(t, readers, schema, n-g*stride)
		for i := range got {
			ref := want[g*stride+i]
			for c := range ref {
				if value.Compare(got[i][c], ref[c]) != 0 || got[i][c].IsNull() != ref[c].IsNull() {
					t.Fatalf("granule %d row %d col %d: got %s want %s",
						g, i, c, got[i][c], ref[c])
				}
			}
		}
	}
}

// TestAbsentColumns checks default-value and NULL
// synthesis for columns the segment does not
// carry, and the hard error for a non-nullable
// column without a default.
func TestAbsentColumns(t *testing.T) {
	wschema := &Schema{Fields: []Field{
		{Name: "k", ID: 1, Type: value.BigInt},
	}}
	rows := []Row{intRow(1), intRow(2)}
	seg := buildSegment(t, wschema, nil, rows, WriterOptions{})

	rschema := &Schema{Fields: []Field{
		{Name: "k", ID: 1, Type: value.BigInt},
		{Name: "def", ID: 2, Type: value.Int, HasDefault: true, Default: "17"},
		{Name: "nul", ID: 3, Type: value.Varchar, Nullable: true},
	}}
	readers := openReaders(t, seg, rschema)
	got := readRows(t, readers, rschema, 2)
	for i := range got {
		if got[i][1].Int64() != 17 {
			t.Fatalf("row %d: default: got %s", i, got[i][1])
		}
		if !got[i][2].IsNull() {
			t.Fatalf("row %d: expected NULL for absent nullable column", i)
		}
	}

	bad := &Schema{Fields: []Field{
		{Name: "k", ID: 1, Type: value.BigInt},
		{Name: "strict", ID: 4, Type: value.Int},
	}}
	if _, err := NewReader(1, &bad.Fields[1], bad, seg); !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

// TestTypedColumns round-trips one column of each
// remaining decoder shape.
func TestTypedColumns(t *testing.T) {
	schema := &Schema{Fields: []Field{
		{Name: "t", ID: 1, Type: value.Tiny},
		{Name: "u", ID: 2, Type: value.UBigInt},
		{Name: "f", ID: 3, Type: value.Float},
		{Name: "dd", ID: 4, Type: value.Double, Nullable: true},
		{Name: "li", ID: 5, Type: value.LargeInt},
		{Name: "dt", ID: 6, Type: value.DateTime},
		{Name: "c", ID: 7, Type: value.Char, MaxLength: 4},
		{Name: "sd", ID: 8, Type: value.DiscreteDouble},
	}}
	rows := []Row{
		{
			value.Int64(value.Tiny, -8),
			value.Uint64(value.UBigInt, ^uint64(0)),
			value.Float64(value.Float, 1.5),
			value.Null(value.Double),
			value.NewLargeInt(-1, 42),
			value.Int64(value.DateTime, 1_600_000_000),
			value.String(value.Char, "ab"),
			value.Float64(value.DiscreteDouble, 128),
		},
		{
			value.Int64(value.Tiny, 100),
			value.Uint64(value.UBigInt, 7),
			value.Float64(value.Float, -2.25),
			value.Float64(value.Double, 3.75),
			value.NewLargeInt(5, 6),
			value.Int64(value.DateTime, 1_600_000_001),
			value.String(value.Char, "wxyz"),
			value.Float64(value.DiscreteDouble, -3),
		},
	}
	seg := buildSegment(t, schema, nil, rows, WriterOptions{})
	got := readRows(t, openReaders(t, seg, schema), schema, len(rows))
	if got[0][0].Int64() != -8 || got[1][0].Int64() != 100 {
		t.Fatalf("tiny: %s %s", got[0][0], got[1][0])
	}
	if got[0][1].Uint64() != ^uint64(0) || got[1][1].Uint64() != 7 {
		t.Fatalf("ubigint: %s %s", got[0][1], got[1][1])
	}
	if got[0][2].Float64() != 1.5 || got[1][2].Float64() != -2.25 {
		t.Fatalf("float: %s %s", got[0][2], got[1][2])
	}
	if !got[0][3].IsNull() || got[1][3].Float64() != 3.75 {
		t.Fatalf("double: %s %s", got[0][3], got[1][3])
	}
	if hi, lo := got[0][4].Int128(); hi != -1 || lo != 42 {
		t.Fatalf("largeint: %d %d", hi, lo)
	}
	if got[0][5].Int64() != 1_600_000_000 {
		t.Fatalf("datetime: %s", got[0][5])
	}
	if string(got[0][6].Payload()) != "ab\x00\x00" || string(got[1][6].Payload()) != "wxyz" {
		t.Fatalf("char padding: %q %q", got[0][6].Payload(), got[1][6].Payload())
	}
	if got[0][7].Float64() != 128 || got[1][7].Float64() != -3 {
		t.Fatalf("discrete double: %s %s", got[0][7], got[1][7])
	}
}
