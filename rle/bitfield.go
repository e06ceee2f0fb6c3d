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
	"math/bits"

	"github.com/SnellerInc/strata/segment"
)

// BitFieldWriter packs one bit per row, MSB first,
// into the byte codec. Present streams store 1 for
// "value present" and 0 for NULL.
type BitFieldWriter struct {
	bw   *ByteWriter
	cur  byte
	used int // bits used in cur
}

// NewBitFieldWriter returns a BitFieldWriter
// emitting packed bytes into out.
func NewBitFieldWriter(out *segment.OutStream) *BitFieldWriter {
	return &BitFieldWriter{bw: NewByteWriter(out)}
}

// Write appends one bit.
func (w *BitFieldWriter) Write(bit bool) error {
	if bit {
		w.cur |= 0x80 >> w.used
	}
	w.used++
	if w.used == 8 {
		if err := w.bw.Write(w.cur); err != nil {
			return err
		}
		w.cur, w.used = 0, 0
	}
	return nil
}

// Flush pads the trailing partial byte with zeros
// and flushes the byte codec.
func (w *BitFieldWriter) Flush() error {
	if w.used > 0 {
		if err := w.bw.Write(w.cur); err != nil {
			return err
		}
		w.cur, w.used = 0, 0
	}
	return w.bw.Flush()
}

// RecordPosition pushes the byte codec's restart
// point followed by the bit offset within the
// pending byte.
func (w *BitFieldWriter) RecordPosition(e *segment.PositionEntry) {
	w.bw.RecordPosition(e)
	e.Push(uint64(w.used))
}

// BitFieldReader decodes a stream produced by
// BitFieldWriter.
type BitFieldReader struct {
	br     *ByteReader
	cur    byte
	used   int // bits consumed from cur
	loaded bool
}

// NewBitFieldReader returns a BitFieldReader over in.
func NewBitFieldReader(in *segment.InStream) *BitFieldReader {
	return &BitFieldReader{br: NewByteReader(in)}
}

// Next returns the next bit.
func (r *BitFieldReader) Next() (bool, error) {
	if !r.loaded || r.used == 8 {
		b, err := r.br.Next()
		if err != nil {
			return false, err
		}
		r.cur, r.used, r.loaded = b, 0, true
	}
	bit := r.cur&(0x80>>r.used) != 0
	r.used++
	return bit, nil
}

// Skip advances past n bits.
func (r *BitFieldReader) Skip(n uint64) error {
	if r.loaded {
		rem := uint64(8 - r.used)
		if n <= rem {
			r.used += int(n)
			return nil
		}
		n -= rem
		r.used = 8
	}
	if k := n / 8; k > 0 {
		if err := r.br.Skip(k); err != nil {
			return err
		}
		n -= k * 8
		r.loaded = false
	}
	for ; n > 0; n-- {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}

// CountSet consumes n bits and returns how many of
// them were set. Column readers use it to turn a
// logical row skip into a physical value skip.
func (r *BitFieldReader) CountSet(n uint64) (uint64, error) {
	var set uint64
	for n > 0 {
		if !r.loaded || r.used == 8 {
			b, err := r.br.Next()
			if err != nil {
				return set, err
			}
			r.cur, r.used, r.loaded = b, 0, true
		}
		if n >= 8 && r.used == 0 {
			set += uint64(bits.OnesCount8(r.cur))
			r.used = 8
			n -= 8
			continue
		}
		if r.cur&(0x80>>r.used) != 0 {
			set++
		}
		r.used++
		n--
	}
	return set, nil
}

// Seek repositions the reader at a restart point.
// It consumes three offsets: two for the byte
// codec and the bit index within the byte.
func (r *BitFieldReader) Seek(pp *segment.PositionProvider) error {
	err := r.br.Seek(pp)
	bit := pp.Next()
	if err != nil {
		return err
	}
	r.loaded = false
	r.used = 0
	if bit > 0 {
		b, err := r.br.Next()
		if err != nil {
			return err
		}
		r.cur, r.used, r.loaded = b, int(bit), true
	}
	return nil
}
