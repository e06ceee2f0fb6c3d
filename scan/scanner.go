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

package scan

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/strata/column"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

// ScannerState is the lifecycle state of a
// Scanner.
type ScannerState uint8

const (
	StateIdle ScannerState = iota
	StateOpen
	StateRunning
	StateDrained
	StateClosed
)

// ErrCancelled is returned when the scan is
// aborted before completion.
var ErrCancelled = errors.New("scan cancelled")

// compiledFilter is a pushdown filter bound to a
// tuple slot, evaluated by the storage layer as
// rows are decoded.
type compiledFilter struct {
	slot int
	op   Op
	vals []value.Value
}

func compileFilters(filters []Filter, schema *column.Schema) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		_, slot, ok := schema.ByName(f.Column)
		if !ok {
			return nil, fmt.Errorf("scan: filter references unknown column %q", f.Column)
		}
		out = append(out, compiledFilter{slot: slot, op: f.Op, vals: f.Operands})
	}
	return out, nil
}

func (f *compiledFilter) eval(row column.Row) bool {
	v := row[f.slot]
	if f.op == OpIsNull {
		return v.IsNull()
	}
	if v.IsNull() {
		return false
	}
	switch f.op {
	case OpIn:
		for i := range f.vals {
			if value.Compare(v, f.vals[i]) == 0 {
				return true
			}
		}
		return false
	case OpEQ:
		return value.Compare(v, f.vals[0]) == 0
	case OpNE:
		return value.Compare(v, f.vals[0]) != 0
	case OpLT:
		return value.Compare(v, f.vals[0]) < 0
	case OpLE:
		return value.Compare(v, f.vals[0]) <= 0
	case OpGT:
		return value.Compare(v, f.vals[0]) > 0
	case OpGE:
		return value.Compare(v, f.vals[0]) >= 0
	}
	return false
}

// Scanner decodes the rows of one sub-scan-range.
// It owns its column readers and the batches it
// has not yet handed off. Within one scanner, rows
// come out in segment key order.
type Scanner struct {
	id       int
	sub      *SubRange
	schema   *column.Schema
	keySlots []int
	filters  []compiledFilter
	residual []Conjunct
	batchCap int
	tracker  *MemTracker

	state   ScannerState
	readers []column.Reader
	subCols map[uint32]bool
	ivIdx   int
	pos     int64 // next undecoded absolute row
	key     []value.Value
}

func newScanner(id int, sub *SubRange, plan *Plan, norm *Normalized, batchCap int, tracker *MemTracker) *Scanner {
	s := &Scanner{
		id:       id,
		sub:      sub,
		schema:   plan.Schema,
		batchCap: batchCap,
		tracker:  tracker,
		subCols:  make(map[uint32]bool),
	}
	for _, id := range plan.KeyColumns {
		if _, slot, ok := plan.Schema.ByID(id); ok {
			s.keySlots = append(s.keySlots, slot)
		}
	}
	s.residual = append(s.residual, norm.VecResidual...)
	s.residual = append(s.residual, norm.RowResidual...)
	for i := range plan.Schema.Fields {
		for _, sub := range plan.Schema.Fields[i].SubColumns {
			s.subCols[sub] = true
		}
	}
	return s
}

// Open resolves the scanner's column readers
// against the segment streams and positions the
// scanner at the first surviving row.
func (s *Scanner) Open(filters []Filter) error {
	if s.state != StateIdle {
		return fmt.Errorf("scanner %d: open in state %d", s.id, s.state)
	}
	cf, err := compileFilters(filters, s.schema)
	if err != nil {
		return err
	}
	s.filters = cf
	streams := make(map[segment.StreamName]*segment.InStream)
	for i := range s.schema.Fields {
		f := &s.schema.Fields[i]
		if !s.sub.Seg.HasColumn(f.ID) {
			continue
		}
		m, err := s.sub.Seg.Streams(f.ID)
		if err != nil {
			return fmt.Errorf("scanner %d: %w", s.id, err)
		}
		for name, in := range m {
			streams[name] = in
		}
	}
	for i := range s.schema.Fields {
		f := &s.schema.Fields[i]
		if s.subCols[f.ID] {
			// decoded through its parent reader
			continue
		}
		r, err := column.NewReader(i, f, s.schema, s.sub.Seg)
		if err != nil {
			return fmt.Errorf("scanner %d: %w", s.id, err)
		}
		if err := r.Init(streams); err != nil {
			return fmt.Errorf("scanner %d: init column %q: %w", s.id, f.Name, err)
		}
		s.readers = append(s.readers, r)
	}
	s.state = StateOpen
	return nil
}

// provider assembles the position entry of one
// top-level reader at a granule: the reader's own
// column followed by its sub-columns, in
// declaration order.
func (s *Scanner) provider(f *column.Field, granule int) *segment.PositionProvider {
	idx := s.sub.Seg.Footer().Index
	vals := append([]uint64(nil), idx[f.ID][granule]...)
	for _, sub := range f.SubColumns {
		vals = append(vals, idx[sub][granule]...)
	}
	return segment.NewPositionProvider(vals)
}

// advanceTo repositions every reader at absolute
// row r, seeking through the row index when the
// target granule lies ahead and skipping within
// the granule.
func (s *Scanner) advanceTo(r int64) error {
	if r == s.pos {
		return nil
	}
	if r < s.pos {
		return fmt.Errorf("scanner %d: cannot rewind from row %d to %d", s.id, s.pos, r)
	}
	f := s.sub.Seg.Footer()
	stride := int64(f.IndexStride)
	ri := 0
	if stride > 0 && len(f.Index) > 0 && (r/stride)*stride > s.pos {
		g := int(r / stride)
		for i := range s.schema.Fields {
			fd := &s.schema.Fields[i]
			if s.subCols[fd.ID] {
				continue
			}
			rd := s.readers[ri]
			ri++
			if !s.sub.Seg.HasColumn(fd.ID) {
				if err := rd.Seek(nil); err != nil {
					return err
				}
				continue
			}
			if err := rd.Seek(s.provider(fd, g)); err != nil {
				return fmt.Errorf("scanner %d: seek column %q: %w", s.id, fd.Name, err)
			}
		}
		s.pos = int64(g) * stride
	}
	if rem := r - s.pos; rem > 0 {
		for _, rd := range s.readers {
			if err := rd.Skip(uint64(rem)); err != nil {
				return err
			}
		}
		s.pos = r
	}
	return nil
}

// decodeRow advances every reader one row and
// materializes the tuple.
func (s *Scanner) decodeRow() (column.Row, error) {
	row := make(column.Row, len(s.schema.Fields))
	for _, rd := range s.readers {
		if err := rd.Next(); err != nil {
			return nil, err
		}
		rd.Attach(row)
	}
	s.pos++
	return row, nil
}

// inKeyBounds classifies the row's key against the
// sub-range bounds: -1 before the range, 0 inside,
// +1 past its end.
func (s *Scanner) inKeyBounds(row column.Row) int {
	if len(s.keySlots) == 0 {
		return 0
	}
	s.key = s.key[:0]
	for _, slot := range s.keySlots {
		s.key = append(s.key, row[slot])
	}
	if len(s.sub.Start) > 0 {
		c := cmpTuple(s.key, false, s.sub.Start, false)
		if c < 0 || (c == 0 && !s.sub.StartClosed) {
			return -1
		}
	}
	if len(s.sub.End) > 0 {
		c := cmpTuple(s.key, false, s.sub.End, true)
		if c > 0 || (c == 0 && !s.sub.EndClosed) {
			return 1
		}
	}
	return 0
}

func (s *Scanner) accept(row column.Row) (bool, error) {
	for i := range s.filters {
		if !s.filters[i].eval(row) {
			return false, nil
		}
	}
	for _, c := range s.residual {
		ok, err := c.Eval(row)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// NextBatch produces the next batch of rows
// satisfying pushdown and residual predicates, or
// nil at the end of the sub-range. A codec error
// drains the scanner; it produces no further
// batches.
func (s *Scanner) NextBatch() (*RowBatch, error) {
	switch s.state {
	case StateOpen:
		s.state = StateRunning
	case StateRunning:
	case StateDrained:
		return nil, nil
	default:
		return nil, fmt.Errorf("scanner %d: next-batch in state %d", s.id, s.state)
	}
	batch := newRowBatch(s.batchCap, s.tracker)
	for !batch.Full() {
		if s.ivIdx >= len(s.sub.Rows) {
			s.state = StateDrained
			break
		}
		iv := s.sub.Rows[s.ivIdx]
		if s.pos >= iv.End {
			s.ivIdx++
			continue
		}
		if s.pos < iv.Start {
			if err := s.advanceTo(iv.Start); err != nil {
				s.state = StateDrained
				batch.Release()
				return nil, err
			}
		}
		row, err := s.decodeRow()
		if err != nil {
			s.state = StateDrained
			batch.Release()
			return nil, err
		}
		switch s.inKeyBounds(row) {
		case -1:
			continue
		case 1:
			// keys are sorted; nothing further matches
			s.state = StateDrained
		default:
			ok, err := s.accept(row)
			if err != nil {
				s.state = StateDrained
				batch.Release()
				return nil, err
			}
			if ok {
				batch.Add(row)
			}
		}
		if s.state == StateDrained {
			break
		}
	}
	if batch.Len() == 0 {
		batch.Release()
		return nil, nil
	}
	return batch, nil
}

// Close releases the scanner's readers. It is safe
// to call in any state.
func (s *Scanner) Close() {
	s.readers = nil
	s.state = StateClosed
}
