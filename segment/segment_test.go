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
	"errors"
	"reflect"
	"testing"

	"github.com/SnellerInc/strata/compr"
	"github.com/SnellerInc/strata/value"
)

func TestStreamRoundTrip(t *testing.T) {
	payload := make([]byte, 100_000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	for _, algo := range []string{"", "zstd", "s2"} {
		algo := algo
		t.Run("algo="+algo, func(t *testing.T) {
			var comp compr.Compressor
			var dec compr.Decompressor
			if algo != "" {
				comp = compr.Compression(algo)
				dec = compr.Decompression(algo)
			}
			out := NewOutStream(comp, 4096)
			if _, err := out.Write(payload); err != nil {
				t.Fatal(err)
			}
			in, err := NewInStream(out.Bytes(), dec)
			if err != nil {
				t.Fatal(err)
			}
			if in.Len() != uint64(len(payload)) {
				t.Fatalf("len: got %d want %d", in.Len(), len(payload))
			}
			got := make([]byte, len(payload))
			if err := in.ReadFull(got); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatal("payload mismatch")
			}
			if _, err := in.ReadByte(); !errors.Is(err, ErrStreamEOF) {
				t.Fatalf("expected stream EOF, got %v", err)
			}
		})
	}
}

func TestStreamSeek(t *testing.T) {
	out := NewOutStream(nil, 16)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	out.Write(payload)
	in, err := NewInStream(out.Bytes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Seek(4); err != nil {
		t.Fatal(err)
	}
	b, _ := in.ReadByte()
	if b != 'q' {
		t.Fatalf("got %q want 'q'", b)
	}
	if err := in.Seek(uint64(len(payload))); !errors.Is(err, ErrStreamEOF) {
		t.Fatalf("seek to end: expected stream EOF, got %v", err)
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	w := NewWriter("zstd", 1024)
	w.AddStream(1, StreamData, []byte{1, 2, 3})
	w.AddStream(1, StreamPresent, []byte{4, 5})
	w.AddStream(2, StreamData, []byte{6})
	f := w.Footer()
	f.Rows = 77
	f.KeyColumns = []uint32{1}
	f.Encodings[2] = Encoding{Kind: EncodingDictionary, DictionarySize: 3}
	f.Index[1] = [][]uint64{{0, 0, 0}, {10, 2, 1}}
	f.KeyIndex = []GranuleKeys{
		{First: []value.Value{value.Int64(value.BigInt, 1)}, Last: []value.Value{value.Int64(value.BigInt, 9)}},
		{First: []value.Value{value.Int64(value.BigInt, 10)}, Last: []value.Value{value.Int64(value.BigInt, 20)}},
	}
	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}

	r, err := Open(buf)
	if err != nil {
		t.Fatal(err)
	}
	if r.Rows() != 77 {
		t.Fatalf("rows: got %d", r.Rows())
	}
	if !reflect.DeepEqual(r.Footer().KeyColumns, []uint32{1}) {
		t.Fatalf("key columns: %v", r.Footer().KeyColumns)
	}
	if e := r.Encoding(2); e.Kind != EncodingDictionary || e.DictionarySize != 3 {
		t.Fatalf("encoding: %+v", e)
	}
	if e := r.Encoding(1); e.Kind != EncodingDirect {
		t.Fatalf("default encoding: %+v", e)
	}
	pp := r.Positions(1, 1)
	if pp == nil {
		t.Fatal("missing position entry")
	}
	if got := []uint64{pp.Next(), pp.Next(), pp.Next()}; !reflect.DeepEqual(got, []uint64{10, 2, 1}) {
		t.Fatalf("positions: %v", got)
	}
	gk := r.Footer().KeyIndex
	if len(gk) != 2 || gk[1].First[0].Int64() != 10 || gk[1].Last[0].Int64() != 20 {
		t.Fatalf("key index: %+v", gk)
	}
	if !r.HasStream(1, StreamPresent) || r.HasStream(2, StreamPresent) {
		t.Fatal("stream presence mismatch")
	}
	if _, err := r.Stream(3, StreamData); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestSegmentChecksum(t *testing.T) {
	w := NewWriter("", 8)
	w.AddStream(1, StreamData, []byte{1, 2, 3, 4})
	w.Footer().Rows = 4
	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	// flip one byte of the stored footer checksum
	buf[len(buf)-12] ^= 0xff
	if _, err := Open(buf); err == nil {
		t.Fatal("expected checksum failure")
	}
}
