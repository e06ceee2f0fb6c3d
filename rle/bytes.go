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

// Package rle implements the run-length codecs
// column streams are built from: a byte codec, a
// present-bit codec layered on it, and an integer
// codec with short-repeat, direct, patched-base
// and delta runs.
package rle

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/strata/segment"
)

// ErrDataEOF is returned by Next at the natural
// end of an encoded stream. It is fatal only when
// a caller expected more values.
var ErrDataEOF = errors.New("data EOF")

// Byte codec framing: a control byte c in [0,127]
// means c+3 repetitions of the byte that follows;
// a negative control -n (two's complement) means n
// literal bytes follow.
const (
	minRepeat  = 3
	maxLiteral = 128
	maxRepeat  = 127 + minRepeat
)

// ByteWriter encodes a stream of bytes.
type ByteWriter struct {
	out      *segment.OutStream
	literals [maxLiteral]byte
	n        int
	repeat   bool
	tailRun  int
}

// NewByteWriter returns a ByteWriter emitting
// encoded runs into out.
func NewByteWriter(out *segment.OutStream) *ByteWriter {
	return &ByteWriter{out: out}
}

func (w *ByteWriter) writeValues() error {
	if w.n == 0 {
		return nil
	}
	if w.repeat {
		if err := w.out.WriteByte(byte(w.n - minRepeat)); err != nil {
			return err
		}
		if err := w.out.WriteByte(w.literals[0]); err != nil {
			return err
		}
	} else {
		if err := w.out.WriteByte(byte(-int8(w.n))); err != nil {
			return err
		}
		if _, err := w.out.Write(w.literals[:w.n]); err != nil {
			return err
		}
	}
	w.repeat = false
	w.n = 0
	w.tailRun = 0
	return nil
}

// Write appends one byte to the stream.
func (w *ByteWriter) Write(b byte) error {
	if w.n == 0 {
		w.literals[0] = b
		w.n = 1
		w.tailRun = 1
		return nil
	}
	if w.repeat {
		if b == w.literals[0] {
			w.n++
			if w.n == maxRepeat {
				return w.writeValues()
			}
			return nil
		}
		if err := w.writeValues(); err != nil {
			return err
		}
		w.literals[0] = b
		w.n = 1
		w.tailRun = 1
		return nil
	}
	if b == w.literals[w.n-1] {
		w.tailRun++
	} else {
		w.tailRun = 1
	}
	if w.tailRun == minRepeat {
		if w.n+1 == minRepeat {
			w.repeat = true
			w.n++
			return nil
		}
		w.n -= minRepeat - 1
		if err := w.writeValues(); err != nil {
			return err
		}
		w.literals[0] = b
		w.repeat = true
		w.n = minRepeat
		return nil
	}
	w.literals[w.n] = b
	w.n++
	if w.n == maxLiteral {
		return w.writeValues()
	}
	return nil
}

// Flush emits any buffered run.
func (w *ByteWriter) Flush() error {
	return w.writeValues()
}

// RecordPosition pushes the restart point of the
// writer: the stream offset and the count of
// buffered values not yet encoded.
func (w *ByteWriter) RecordPosition(e *segment.PositionEntry) {
	e.Push(w.out.Position())
	e.Push(uint64(w.n))
}

// ByteReader decodes a stream produced by
// ByteWriter.
type ByteReader struct {
	in       *segment.InStream
	literals [maxLiteral]byte
	n        int // values in the current run
	used     int // values consumed from it
	repeat   bool
	val      byte
}

// NewByteReader returns a ByteReader over in.
func NewByteReader(in *segment.InStream) *ByteReader {
	return &ByteReader{in: in}
}

func (r *ByteReader) readValues() error {
	control, err := r.in.ReadByte()
	if err != nil {
		if errors.Is(err, segment.ErrStreamEOF) {
			return ErrDataEOF
		}
		return err
	}
	r.used = 0
	if int8(control) >= 0 {
		r.repeat = true
		r.n = int(control) + minRepeat
		v, err := r.in.ReadByte()
		if err != nil {
			return fmt.Errorf("rle: truncated repeat run: %w", segment.ErrShortRead)
		}
		r.val = v
		return nil
	}
	r.repeat = false
	r.n = -int(int8(control))
	if err := r.in.ReadFull(r.literals[:r.n]); err != nil {
		return fmt.Errorf("rle: truncated literal run: %w", segment.ErrShortRead)
	}
	return nil
}

// Next returns the next byte of the stream, or
// ErrDataEOF at its end.
func (r *ByteReader) Next() (byte, error) {
	if r.used == r.n {
		if err := r.readValues(); err != nil {
			return 0, err
		}
	}
	r.used++
	if r.repeat {
		return r.val, nil
	}
	return r.literals[r.used-1], nil
}

// Skip advances past n values.
func (r *ByteReader) Skip(n uint64) error {
	for n > 0 {
		if r.used == r.n {
			if err := r.readValues(); err != nil {
				return err
			}
		}
		k := uint64(r.n - r.used)
		if k > n {
			k = n
		}
		r.used += int(k)
		n -= k
	}
	return nil
}

// Seek repositions the reader at a restart point
// recorded by ByteWriter. It consumes two offsets:
// the stream offset and the intra-run index.
func (r *ByteReader) Seek(pp *segment.PositionProvider) error {
	off := pp.Next()
	skip := pp.Next()
	r.n, r.used, r.repeat = 0, 0, false
	if err := r.in.Seek(off); err != nil {
		return err
	}
	return r.Skip(skip)
}
