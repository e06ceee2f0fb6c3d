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
	"fmt"

	"github.com/SnellerInc/strata/value"
)

// SlotDesc describes one tuple slot the conjuncts
// refer to.
type SlotDesc struct {
	Slot   int
	Column string
	ID     uint32
	Typ    value.Type
	// KeyOrder is the position of the column in
	// the table key, or -1 for non-key columns.
	KeyOrder int
}

// Normalized is the output of predicate
// normalization: one value range per referenced
// column, the IS NULL conditions, the pushdown
// filter list, and the residual conjuncts split by
// evaluation strategy.
type Normalized struct {
	// Ranges per column unique id, in first-
	// reference order.
	Ranges  map[uint32]*ColumnRange
	ordered []uint32

	NullConds []Filter

	// Pushdown is the wire filter list handed to
	// the storage layer.
	Pushdown []Filter

	// VecResidual and RowResidual are the
	// conjuncts the scanner re-checks per row,
	// split by whether they may run vectorized.
	VecResidual []Conjunct
	RowResidual []Conjunct
}

// Empty returns whether some range became
// unsatisfiable, making the whole scan empty.
func (n *Normalized) Empty() bool {
	for _, r := range n.Ranges {
		if r.Empty() {
			return true
		}
	}
	return false
}

// Range returns the range of the given column id,
// or nil.
func (n *Normalized) Range(id uint32) *ColumnRange { return n.Ranges[id] }

// Normalize turns a flat conjunction over tuple
// slots into per-column value ranges. It is a pure
// function of its inputs: running it twice over
// the same conjunction yields identical ranges.
func Normalize(conjuncts []Conjunct, slots []SlotDesc) (*Normalized, error) {
	byslot := make(map[int]*SlotDesc, len(slots))
	for i := range slots {
		byslot[slots[i].Slot] = &slots[i]
	}
	n := &Normalized{Ranges: make(map[uint32]*ColumnRange)}
	rangeOf := func(d *SlotDesc) *ColumnRange {
		r, ok := n.Ranges[d.ID]
		if !ok {
			r = NewColumnRange(d.Column, d.ID, d.Typ)
			n.Ranges[d.ID] = r
			n.ordered = append(n.ordered, d.ID)
		}
		return r
	}
	residual := func(c Conjunct) {
		if c.Vectorized() {
			n.VecResidual = append(n.VecResidual, c)
		} else {
			n.RowResidual = append(n.RowResidual, c)
		}
	}
	for _, c := range conjuncts {
		switch p := c.(type) {
		case *InPred:
			d, ok := byslot[p.Slot]
			if !ok {
				return nil, fmt.Errorf("scan: predicate %s references unknown slot", c)
			}
			vs, allOut := coerceSet(p.Lits, d.Typ)
			if vs == nil && !allOut {
				residual(c)
				continue
			}
			r := rangeOf(d)
			r.AddSet(vs)
		case *BinaryPred:
			d, ok := byslot[p.Slot]
			if !ok {
				return nil, fmt.Errorf("scan: predicate %s references unknown slot", c)
			}
			lit, rel, ok := coerce(p.Lit, d.Typ)
			if !ok {
				residual(c)
				continue
			}
			r := rangeOf(d)
			applyBinary(r, p.Op, lit, rel)
		case *IsNullPred:
			d, ok := byslot[p.Slot]
			if !ok {
				return nil, fmt.Errorf("scan: predicate %s references unknown slot", c)
			}
			n.NullConds = append(n.NullConds, Filter{Column: d.Column, Op: OpIsNull})
		default:
			residual(c)
		}
	}
	for _, id := range n.ordered {
		n.Pushdown = append(n.Pushdown, n.Ranges[id].ToFilters()...)
	}
	n.Pushdown = append(n.Pushdown, n.NullConds...)
	return n, nil
}

// applyBinary applies `col <op> lit` where rel
// classifies the literal against the column's
// domain: -1 below it, 0 inside, +1 above.
// Narrowing a literal outside the domain truncates
// the range, never the literal: `tiny < 300` is
// always true, `tiny > 300` rejects everything.
func applyBinary(r *ColumnRange, op Op, lit value.Value, rel int) {
	if rel == 0 {
		switch op {
		case OpEQ:
			r.AddFixed(lit)
		case OpNE:
			r.AddNotEqual(lit)
		default:
			r.AddBound(op, lit)
		}
		return
	}
	switch op {
	case OpEQ:
		r.markEmpty()
	case OpNE:
		// never equal; no-op
	case OpLT, OpLE:
		if rel < 0 { // lit below domain: nothing is smaller
			r.markEmpty()
		}
	case OpGT, OpGE:
		if rel > 0 { // lit above domain: nothing is larger
			r.markEmpty()
		}
	}
}

// coerce converts a literal to the slot type,
// widening freely. The returned rel classifies an
// integer literal against the slot domain; ok is
// false when the literal's family cannot be
// compared to the slot at all (the predicate stays
// residual).
func coerce(lit value.Value, typ value.Type) (value.Value, int, bool) {
	if lit.IsNull() {
		return lit, 0, false
	}
	switch {
	case typ.Integer():
		return coerceInt(lit, typ)
	case typ == value.Float || typ == value.Double || typ == value.DiscreteDouble:
		switch {
		case lit.T == value.Float || lit.T == value.Double || lit.T == value.DiscreteDouble:
			return value.Float64(typ, lit.Float64()), 0, true
		case lit.T.Integer():
			if lit.T.Unsigned() {
				return value.Float64(typ, float64(lit.Uint64())), 0, true
			}
			return value.Float64(typ, float64(lit.Int64())), 0, true
		}
		return lit, 0, false
	case typ == value.Decimal:
		if lit.T == value.Decimal {
			return lit, 0, true
		}
		if lit.T.Integer() && !lit.T.Unsigned() {
			return value.NewDecimal(lit.Int64(), 0), 0, true
		}
		return lit, 0, false
	case typ == value.LargeInt:
		if lit.T == value.LargeInt {
			return lit, 0, true
		}
		if lit.T.Integer() {
			if lit.T.Unsigned() {
				return value.NewLargeInt(0, lit.Uint64()), 0, true
			}
			v := lit.Int64()
			hi := int64(0)
			if v < 0 {
				hi = -1
			}
			return value.NewLargeInt(hi, uint64(v)), 0, true
		}
		return lit, 0, false
	case typ == value.Date || typ == value.DateTime:
		if lit.T == typ {
			return lit, 0, true
		}
		return lit, 0, false
	case typ.Stringlike():
		if lit.T.Stringlike() {
			return value.Bytes(typ, lit.Payload()), 0, true
		}
		return lit, 0, false
	}
	return lit, 0, false
}

func coerceInt(lit value.Value, typ value.Type) (value.Value, int, bool) {
	if !lit.T.Integer() {
		return lit, 0, false
	}
	min, max := typ.Domain()
	if lit.T.Unsigned() {
		u := lit.Uint64()
		if u > max {
			return lit, 1, true
		}
		if typ.Unsigned() {
			return value.Uint64(typ, u), 0, true
		}
		return value.Int64(typ, int64(u)), 0, true
	}
	i := lit.Int64()
	if i < min {
		return lit, -1, true
	}
	if i > 0 && uint64(i) > max {
		return lit, 1, true
	}
	if typ.Unsigned() {
		if i < 0 {
			return lit, -1, true
		}
		return value.Uint64(typ, uint64(i)), 0, true
	}
	return value.Int64(typ, i), 0, true
}

// coerceSet coerces an IN list, dropping literals
// outside the slot domain. The second result is
// true when the list was non-empty but every
// literal fell outside the domain.
func coerceSet(lits []value.Value, typ value.Type) ([]value.Value, bool) {
	out := make([]value.Value, 0, len(lits))
	outOfDomain := 0
	for _, l := range lits {
		v, rel, ok := coerce(l, typ)
		if !ok {
			return nil, false
		}
		if rel != 0 {
			outOfDomain++
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 && outOfDomain > 0 {
		return out, true
	}
	return out, false
}
