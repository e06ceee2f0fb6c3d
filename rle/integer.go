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
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/SnellerInc/strata/segment"
)

// Integer runs. Each run starts with a header byte
// whose top two bits select the mode:
//
//	0 short-repeat: (W-1)<<3 | count-3 in the low
//	  bits, then W big-endian bytes of the value;
//	  3..10 copies of a value of up to 8 bytes.
//	1 direct: width-1 in the low 6 bits, then a
//	  count-1 byte, then count values bit-packed
//	  MSB-first at that width.
//	2 patched-base: width-1 in the low 6 bits,
//	  then count-1, the base as a varint, the
//	  packed offsets from the base, a patch-count
//	  byte and (index, high-bits) patch pairs for
//	  offsets too wide for the packed width.
//	3 delta: a count-1 byte, the first value as a
//	  varint, and a zigzag varint stride; covers
//	  arithmetic runs and equal runs longer than a
//	  short repeat.
//
// Signed streams zigzag-encode values (and bases);
// unsigned streams store raw bits. Patch offsets
// are always unsigned differences from the base.
const (
	tagShortRepeat = 0
	tagDirect      = 1
	tagPatched     = 2
	tagDelta       = 3

	maxShortRepeat = 10
	maxRunLength   = 256
	maxPendingInts = 512
)

func zigzag(v int64) uint64   { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func bitWidth(u uint64) int {
	if u == 0 {
		return 1
	}
	return bits.Len64(u)
}

// IntWriter encodes 64-bit values. Unsigned
// streams pass values bit-cast to int64.
type IntWriter struct {
	out     *segment.OutStream
	signed  bool
	pending []uint64 // raw bit patterns
	scratch [2 * binary.MaxVarintLen64]byte
}

// NewIntWriter returns an IntWriter emitting runs
// into out. signed selects zigzag wrapping.
func NewIntWriter(out *segment.OutStream, signed bool) *IntWriter {
	return &IntWriter{out: out, signed: signed, pending: make([]uint64, 0, maxPendingInts)}
}

// Write appends one value.
func (w *IntWriter) Write(v int64) error {
	w.pending = append(w.pending, uint64(v))
	if len(w.pending) == maxPendingInts {
		return w.encodePending()
	}
	return nil
}

// Flush encodes all buffered values.
func (w *IntWriter) Flush() error {
	return w.encodePending()
}

// RecordPosition pushes the restart point of the
// writer: the stream offset and the count of
// buffered values not yet encoded.
func (w *IntWriter) RecordPosition(e *segment.PositionEntry) {
	e.Push(w.out.Position())
	e.Push(uint64(len(w.pending)))
}

func (w *IntWriter) enc(raw uint64) uint64 {
	if w.signed {
		return zigzag(int64(raw))
	}
	return raw
}

func (w *IntWriter) putUvarint(u uint64) error {
	n := binary.PutUvarint(w.scratch[:], u)
	_, err := w.out.Write(w.scratch[:n])
	return err
}

func (w *IntWriter) encodePending() error {
	p := w.pending
	for i := 0; i < len(p); {
		// equal run?
		j := i + 1
		for j < len(p) && p[j] == p[i] {
			j++
		}
		if run := j - i; run >= minRepeat {
			if run <= maxShortRepeat {
				if err := w.emitShortRepeat(p[i], run); err != nil {
					return err
				}
				i = j
				continue
			}
			for run > 0 {
				n := run
				if n > maxRunLength {
					n = maxRunLength
				}
				if err := w.emitDelta(p[i], 0, n); err != nil {
					return err
				}
				run -= n
				i += n
			}
			continue
		}
		// arithmetic run?
		if i+3 < len(p) {
			d := p[i+1] - p[i]
			k := i + 1
			for k+1 < len(p) && p[k+1]-p[k] == d && k+1-i < maxRunLength {
				k++
			}
			if n := k + 1 - i; n >= 4 && d != 0 {
				if err := w.emitDelta(p[i], int64(d), n); err != nil {
					return err
				}
				i += n
				continue
			}
		}
		// literal segment: up to the start of the
		// next equal run, capped at one run length
		end := i + 1
		tail := 1
		for end < len(p) && end-i < maxRunLength {
			if p[end] == p[end-1] {
				tail++
			} else {
				tail = 1
			}
			if tail == minRepeat {
				end -= minRepeat - 1
				break
			}
			end++
		}
		if end > len(p) {
			end = len(p)
		}
		if err := w.emitLiterals(p[i:end]); err != nil {
			return err
		}
		i = end
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *IntWriter) emitShortRepeat(raw uint64, count int) error {
	e := w.enc(raw)
	width := (bitWidth(e) + 7) / 8
	if err := w.out.WriteByte(byte(tagShortRepeat<<6 | (width-1)<<3 | (count - minRepeat))); err != nil {
		return err
	}
	for i := width - 1; i >= 0; i-- {
		if err := w.out.WriteByte(byte(e >> (8 * i))); err != nil {
			return err
		}
	}
	return nil
}

func (w *IntWriter) emitDelta(first uint64, stride int64, count int) error {
	if err := w.out.WriteByte(byte(tagDelta << 6)); err != nil {
		return err
	}
	if err := w.out.WriteByte(byte(count - 1)); err != nil {
		return err
	}
	if err := w.putUvarint(w.enc(first)); err != nil {
		return err
	}
	return w.putUvarint(zigzag(stride))
}

func (w *IntWriter) emitLiterals(vals []uint64) error {
	enc := make([]uint64, len(vals))
	direct := 1
	for i, v := range vals {
		enc[i] = w.enc(v)
		if bw := bitWidth(enc[i]); bw > direct {
			direct = bw
		}
	}
	// patched-base candidate: pack offsets from the
	// minimum at the width covering ~90% of values
	// and patch the outliers
	base := vals[0]
	for _, v := range vals {
		if w.less(v, base) {
			base = v
		}
	}
	diffs := make([]uint64, len(vals))
	var hist [65]int
	maxw := 1
	for i, v := range vals {
		diffs[i] = v - base
		bw := bitWidth(diffs[i])
		hist[bw]++
		if bw > maxw {
			maxw = bw
		}
	}
	pw, covered := 1, 0
	need := len(vals) - len(vals)/10
	for bw := 1; bw <= 64; bw++ {
		covered += hist[bw]
		if covered >= need {
			pw = bw
			break
		}
	}
	patches := 0
	for _, d := range diffs {
		if bitWidth(d) > pw {
			patches++
		}
	}
	patchedCost := len(vals)*pw + patches*80 + 80
	directCost := len(vals) * direct
	if pw < maxw && patches > 0 && patches <= maxRunLength/8 && patchedCost < directCost {
		return w.emitPatched(base, diffs, pw, patches)
	}
	return w.emitDirect(enc, direct)
}

// less orders raw values per the stream signedness.
func (w *IntWriter) less(a, b uint64) bool {
	if w.signed {
		return int64(a) < int64(b)
	}
	return a < b
}

func (w *IntWriter) emitDirect(enc []uint64, width int) error {
	if err := w.out.WriteByte(byte(tagDirect<<6 | (width - 1))); err != nil {
		return err
	}
	if err := w.out.WriteByte(byte(len(enc) - 1)); err != nil {
		return err
	}
	packed := packBits(enc, width)
	_, err := w.out.Write(packed)
	return err
}

func (w *IntWriter) emitPatched(base uint64, diffs []uint64, width, patches int) error {
	if err := w.out.WriteByte(byte(tagPatched<<6 | (width - 1))); err != nil {
		return err
	}
	if err := w.out.WriteByte(byte(len(diffs) - 1)); err != nil {
		return err
	}
	if err := w.putUvarint(w.enc(base)); err != nil {
		return err
	}
	mask := uint64(1)<<width - 1
	low := make([]uint64, len(diffs))
	for i, d := range diffs {
		low[i] = d & mask
	}
	if _, err := w.out.Write(packBits(low, width)); err != nil {
		return err
	}
	if err := w.out.WriteByte(byte(patches)); err != nil {
		return err
	}
	for i, d := range diffs {
		if d > mask {
			if err := w.out.WriteByte(byte(i)); err != nil {
				return err
			}
			if err := w.putUvarint(d >> width); err != nil {
				return err
			}
		}
	}
	return nil
}

func packBits(vals []uint64, width int) []byte {
	out := make([]byte, (len(vals)*width+7)/8)
	bitpos := 0
	for _, v := range vals {
		for rem := width; rem > 0; {
			avail := 8 - bitpos%8
			n := rem
			if n > avail {
				n = avail
			}
			chunk := byte(v>>(rem-n)) & (1<<n - 1)
			out[bitpos/8] |= chunk << (avail - n)
			bitpos += n
			rem -= n
		}
	}
	return out
}

func unpackBit(packed []byte, idx, width int) uint64 {
	var v uint64
	bitpos := idx * width
	for rem := width; rem > 0; {
		avail := 8 - bitpos%8
		n := rem
		if n > avail {
			n = avail
		}
		chunk := (packed[bitpos/8] >> (avail - n)) & (1<<n - 1)
		v = v<<n | uint64(chunk)
		bitpos += n
		rem -= n
	}
	return v
}

type intPatch struct {
	idx  int
	high uint64
}

// IntReader decodes a stream produced by
// IntWriter. Unsigned streams return values
// bit-cast to int64.
type IntReader struct {
	in     *segment.InStream
	signed bool

	tag    int
	rem    int    // values remaining in the run
	val    uint64 // current value (short-repeat / delta)
	stride int64

	packed  []uint64 // unpacked values of direct / patched runs
	vidx    int
	base    uint64
	patches []intPatch
	pidx    int
	width   int
	raw     []byte
}

// NewIntReader returns an IntReader over in.
func NewIntReader(in *segment.InStream, signed bool) *IntReader {
	return &IntReader{in: in, signed: signed}
}

func (r *IntReader) dec(u uint64) uint64 {
	if r.signed {
		return uint64(unzigzag(u))
	}
	return u
}

func (r *IntReader) readUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.in)
	if err != nil {
		return 0, fmt.Errorf("rle: truncated varint: %w", segment.ErrShortRead)
	}
	return v, nil
}

func (r *IntReader) loadRun() error {
	hdr, err := r.in.ReadByte()
	if err != nil {
		if errors.Is(err, segment.ErrStreamEOF) {
			return ErrDataEOF
		}
		return err
	}
	r.tag = int(hdr >> 6)
	switch r.tag {
	case tagShortRepeat:
		width := int(hdr>>3)&7 + 1
		r.rem = int(hdr&7) + minRepeat
		var e uint64
		for i := 0; i < width; i++ {
			b, err := r.in.ReadByte()
			if err != nil {
				return fmt.Errorf("rle: truncated short repeat: %w", segment.ErrShortRead)
			}
			e = e<<8 | uint64(b)
		}
		r.val = r.dec(e)
		r.stride = 0
	case tagDelta:
		cnt, err := r.in.ReadByte()
		if err != nil {
			return fmt.Errorf("rle: truncated delta run: %w", segment.ErrShortRead)
		}
		r.rem = int(cnt) + 1
		first, err := r.readUvarint()
		if err != nil {
			return err
		}
		stride, err := r.readUvarint()
		if err != nil {
			return err
		}
		r.val = r.dec(first)
		r.stride = unzigzag(stride)
	case tagDirect, tagPatched:
		r.width = int(hdr&0x3f) + 1
		cnt, err := r.in.ReadByte()
		if err != nil {
			return fmt.Errorf("rle: truncated run header: %w", segment.ErrShortRead)
		}
		r.rem = int(cnt) + 1
		if r.tag == tagPatched {
			base, err := r.readUvarint()
			if err != nil {
				return err
			}
			r.base = r.dec(base)
		}
		nbytes := (r.rem*r.width + 7) / 8
		if cap(r.raw) < nbytes {
			r.raw = make([]byte, nbytes)
		}
		r.raw = r.raw[:nbytes]
		if err := r.in.ReadFull(r.raw); err != nil {
			return fmt.Errorf("rle: truncated packed run: %w", segment.ErrShortRead)
		}
		if cap(r.packed) < r.rem {
			r.packed = make([]uint64, r.rem)
		}
		r.packed = r.packed[:r.rem]
		for i := range r.packed {
			r.packed[i] = unpackBit(r.raw, i, r.width)
		}
		r.vidx = 0
		r.patches = r.patches[:0]
		r.pidx = 0
		if r.tag == tagPatched {
			np, err := r.in.ReadByte()
			if err != nil {
				return fmt.Errorf("rle: truncated patch list: %w", segment.ErrShortRead)
			}
			for i := 0; i < int(np); i++ {
				idx, err := r.in.ReadByte()
				if err != nil {
					return fmt.Errorf("rle: truncated patch list: %w", segment.ErrShortRead)
				}
				high, err := r.readUvarint()
				if err != nil {
					return err
				}
				r.patches = append(r.patches, intPatch{idx: int(idx), high: high})
			}
		}
	}
	return nil
}

// Next returns the next value, or ErrDataEOF at
// the end of the stream.
func (r *IntReader) Next() (int64, error) {
	if r.rem == 0 {
		if err := r.loadRun(); err != nil {
			return 0, err
		}
	}
	r.rem--
	switch r.tag {
	case tagShortRepeat, tagDelta:
		v := r.val
		r.val += uint64(r.stride)
		return int64(v), nil
	case tagDirect:
		v := r.dec(r.packed[r.vidx])
		r.vidx++
		return int64(v), nil
	default: // tagPatched
		d := r.packed[r.vidx]
		for r.pidx < len(r.patches) && r.patches[r.pidx].idx < r.vidx {
			r.pidx++
		}
		if r.pidx < len(r.patches) && r.patches[r.pidx].idx == r.vidx {
			d |= r.patches[r.pidx].high << r.width
			r.pidx++
		}
		r.vidx++
		return int64(r.base + d), nil
	}
}

// Skip advances past n values without decoding
// them where the run representation permits.
func (r *IntReader) Skip(n uint64) error {
	for n > 0 {
		if r.rem == 0 {
			if err := r.loadRun(); err != nil {
				return err
			}
		}
		k := uint64(r.rem)
		if k > n {
			k = n
		}
		switch r.tag {
		case tagShortRepeat, tagDelta:
			r.val += uint64(r.stride) * k
		default:
			r.vidx += int(k)
		}
		r.rem -= int(k)
		n -= k
	}
	return nil
}

// Seek repositions the reader at a restart point
// recorded by IntWriter. It consumes two offsets:
// the run-start stream offset and the within-run
// skip count.
func (r *IntReader) Seek(pp *segment.PositionProvider) error {
	off := pp.Next()
	skip := pp.Next()
	r.rem = 0
	if err := r.in.Seek(off); err != nil {
		return err
	}
	return r.Skip(skip)
}
