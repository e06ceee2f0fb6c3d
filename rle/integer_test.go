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

package rle

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/SnellerInc/strata/segment"
)

func encodeInts(t *testing.T, vals []int64, signed bool) []byte {
	t.Helper()
	out := segment.NewOutStream(nil, 0)
	w := NewIntWriter(out, signed)
	for _, v := range vals {
		if err := w.Write(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return out.Bytes()
}

func decodeInts(t *testing.T, enc []byte, signed bool) []int64 {
	t.Helper()
	in, err := segment.NewInStream(enc, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewIntReader(in, signed)
	var out []int64
	for {
		v, err := r.Next()
		if errors.Is(err, ErrDataEOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, v)
	}
}

func runInts(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func seqInts(lo, hi int64) []int64 {
	out := make([]int64, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out = append(out, v)
	}
	return out
}

func TestIntRoundTrip(t *testing.T) {
	boundary := []int64{0, 1, -1, math.MinInt64, math.MaxInt64, int64(math.MaxUint32), 127, -128}
	cases := map[string][]int64{
		"empty":     {},
		"single":    {12345},
		"boundary":  boundary,
		"ascending": seqInts(0, 128),
		"negative":  seqInts(-300, -250),
		"outliers":  {1, 2, 3, 5, 2, 9, 1 << 40, 4, 6, 2, 8, 7, 3, 9, 1, 5, 4, 6},
		"mixed": append(append(runInts(7, 3), 1, 2, 3, 4, 50, 50), seqInts(0, 128)...),
	}
	for _, n := range []int{1, 2, 3, 127, 128, 129, 130} {
		cases[fmt.Sprintf("run%d", n)] = runInts(42, n)
	}
	for name, vals := range cases {
		vals := vals
		t.Run(name, func(t *testing.T) {
			for _, signed := range []bool{true, false} {
				got := decodeInts(t, encodeInts(t, vals, signed), signed)
				if len(got) == 0 && len(vals) == 0 {
					continue
				}
				if !reflect.DeepEqual(got, vals) {
					t.Errorf("signed=%v: got %v want %v", signed, got, vals)
				}
			}
		})
	}
}

func TestIntUnsignedBoundary(t *testing.T) {
	vals := []int64{0, 1, int64(math.MaxInt64), -1 /* MaxUint64 bit pattern */, 255, 256}
	got := decodeInts(t, encodeInts(t, vals, false), false)
	if !reflect.DeepEqual(got, vals) {
		t.Fatalf("got %v want %v", got, vals)
	}
	if uint64(got[3]) != math.MaxUint64 {
		t.Fatalf("expected MaxUint64 bit pattern, got %d", uint64(got[3]))
	}
}

// TestIntScanScenario follows the seeded scenario:
// leading repeats, a short ascending run, a pair,
// then a long ascending tail.
func TestIntScanScenario(t *testing.T) {
	vals := append(append(runInts(7, 3), 1, 2, 3, 4, 50, 50), seqInts(0, 128)...)

	out := segment.NewOutStream(nil, 0)
	w := NewIntWriter(out, true)
	var after7s segment.PositionEntry
	for i, v := range vals {
		if i == 3 {
			w.RecordPosition(&after7s)
		}
		if err := w.Write(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	enc := out.Bytes()

	if got := decodeInts(t, enc, true); !reflect.DeepEqual(got, vals) {
		t.Fatalf("decode mismatch: got %v", got)
	}

	fresh := func() *IntReader {
		in, err := segment.NewInStream(enc, nil)
		if err != nil {
			t.Fatal(err)
		}
		return NewIntReader(in, true)
	}

	r := fresh()
	if err := r.Skip(3); err != nil {
		t.Fatal(err)
	}
	if v, err := r.Next(); err != nil || v != 1 {
		t.Fatalf("skip(3); next() = %d, %v; want 1", v, err)
	}

	r = fresh()
	if err := r.Skip(8); err != nil {
		t.Fatal(err)
	}
	if v, err := r.Next(); err != nil || v != 50 {
		t.Fatalf("skip(8); next() = %d, %v; want the second 50", v, err)
	}

	r = fresh()
	if err := r.Seek(segment.NewPositionProvider(after7s.Values())); err != nil {
		t.Fatal(err)
	}
	if v, err := r.Next(); err != nil || v != 1 {
		t.Fatalf("seek(after 7s); next() = %d, %v; want 1", v, err)
	}
}

func TestIntSkipEqualsReadAndDrop(t *testing.T) {
	vals := append(append(seqInts(-5, 40), runInts(1000, 60)...), 3, 1, 4, 1, 5, 9, 2, 6)
	enc := encodeInts(t, vals, true)
	for skip := 0; skip < len(vals); skip++ {
		in, err := segment.NewInStream(enc, nil)
		if err != nil {
			t.Fatal(err)
		}
		r := NewIntReader(in, true)
		if err := r.Skip(uint64(skip)); err != nil {
			t.Fatalf("skip(%d): %v", skip, err)
		}
		v, err := r.Next()
		if err != nil {
			t.Fatalf("skip(%d): next: %v", skip, err)
		}
		if v != vals[skip] {
			t.Fatalf("skip(%d): got %d want %d", skip, v, vals[skip])
		}
	}
}

func TestIntSeekRestartability(t *testing.T) {
	var vals []int64
	vals = append(vals, runInts(9, 500)...)
	vals = append(vals, seqInts(0, 700)...)
	vals = append(vals, 5, -5, 1<<33, 7, 7, 7, 7)

	out := segment.NewOutStream(nil, 0)
	w := NewIntWriter(out, true)
	const stride = 128
	var entries []*segment.PositionEntry
	for i, v := range vals {
		if i%stride == 0 {
			e := &segment.PositionEntry{}
			w.RecordPosition(e)
			entries = append(entries, e)
		}
		if err := w.Write(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	enc := out.Bytes()
	for gi, e := range entries {
		in, err := segment.NewInStream(enc, nil)
		if err != nil {
			t.Fatal(err)
		}
		r := NewIntReader(in, true)
		if err := r.Seek(segment.NewPositionProvider(e.Values())); err != nil {
			t.Fatalf("seek granule %d: %v", gi, err)
		}
		for i := gi * stride; i < len(vals); i++ {
			v, err := r.Next()
			if err != nil {
				t.Fatalf("granule %d row %d: %v", gi, i, err)
			}
			if v != vals[i] {
				t.Fatalf("granule %d row %d: got %d want %d", gi, i, v, vals[i])
			}
		}
	}
}
