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
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/strata/value"
)

// ColumnRange is the set of values one column may
// take under the conjunction seen so far: either a
// finite set of fixed values (from = and IN), or
// an interval with independently open or closed
// bounds, optionally minus an exclusion list (from
// !=). A range that can no longer match anything
// is empty, and makes the enclosing scan trivially
// empty.
type ColumnRange struct {
	Column string
	ID     uint32
	Typ    value.Type

	empty bool
	fixed []value.Value // sorted; non-empty means fixed/IN range

	lo, hi             value.Value
	hasLo, hasHi       bool
	loClosed, hiClosed bool

	ne []value.Value // excluded points, pushdown only
}

// NewColumnRange returns the full range over a
// column.
func NewColumnRange(col string, id uint32, typ value.Type) *ColumnRange {
	return &ColumnRange{Column: col, ID: id, Typ: typ}
}

// Empty returns whether no value can satisfy the
// range.
func (r *ColumnRange) Empty() bool {
	if r.empty {
		return true
	}
	if r.hasLo && r.hasHi {
		c := value.Compare(r.lo, r.hi)
		if c > 0 || (c == 0 && !(r.loClosed && r.hiClosed)) {
			return true
		}
	}
	return false
}

// Full returns whether the range rejects nothing.
func (r *ColumnRange) Full() bool {
	return !r.empty && r.fixed == nil && !r.hasLo && !r.hasHi && len(r.ne) == 0
}

// IsFixed returns whether the range is a finite
// set of values.
func (r *ColumnRange) IsFixed() bool {
	return !r.Empty() && len(r.fixed) > 0
}

// FixedValues returns the sorted fixed value set.
func (r *ColumnRange) FixedValues() []value.Value { return r.fixed }

// Bounds returns the interval bounds; ok values
// report whether the bound exists.
func (r *ColumnRange) Bounds() (lo, hi value.Value, hasLo, hasHi, loClosed, hiClosed bool) {
	return r.lo, r.hi, r.hasLo, r.hasHi, r.loClosed, r.hiClosed
}

// contains reports whether v satisfies the
// interval bounds and exclusions.
func (r *ColumnRange) contains(v value.Value) bool {
	if r.hasLo {
		c := value.Compare(v, r.lo)
		if c < 0 || (c == 0 && !r.loClosed) {
			return false
		}
	}
	if r.hasHi {
		c := value.Compare(v, r.hi)
		if c > 0 || (c == 0 && !r.hiClosed) {
			return false
		}
	}
	for i := range r.ne {
		if value.Compare(v, r.ne[i]) == 0 {
			return false
		}
	}
	return true
}

// AddFixed intersects the range with the single
// value v.
func (r *ColumnRange) AddFixed(v value.Value) {
	r.AddSet([]value.Value{v})
}

// AddSet intersects the range with a finite value
// set.
func (r *ColumnRange) AddSet(vs []value.Value) {
	if r.Empty() {
		r.markEmpty()
		return
	}
	keep := make([]value.Value, 0, len(vs))
	for _, v := range vs {
		if !r.contains(v) {
			continue
		}
		if r.fixed != nil && !containsValue(r.fixed, v) {
			continue
		}
		if !containsValue(keep, v) {
			keep = append(keep, v)
		}
	}
	slices.SortFunc(keep, func(a, b value.Value) bool {
		return value.Compare(a, b) < 0
	})
	r.fixed = keep
	r.hasLo, r.hasHi = false, false
	r.ne = nil
	if len(keep) == 0 {
		r.markEmpty()
	}
}

// AddBound tightens the interval with
// `column <op> v` for op in <, <=, >, >=.
func (r *ColumnRange) AddBound(op Op, v value.Value) {
	if r.Empty() {
		r.markEmpty()
		return
	}
	if r.fixed != nil {
		keep := r.fixed[:0]
		for _, f := range r.fixed {
			c := value.Compare(f, v)
			ok := false
			switch op {
			case OpLT:
				ok = c < 0
			case OpLE:
				ok = c <= 0
			case OpGT:
				ok = c > 0
			case OpGE:
				ok = c >= 0
			}
			if ok {
				keep = append(keep, f)
			}
		}
		r.fixed = keep
		if len(keep) == 0 {
			r.markEmpty()
		}
		return
	}
	switch op {
	case OpLT, OpLE:
		closed := op == OpLE
		if !r.hasHi || value.Compare(v, r.hi) < 0 ||
			(value.Compare(v, r.hi) == 0 && !closed) {
			r.hi, r.hasHi, r.hiClosed = v, true, closed
		}
	case OpGT, OpGE:
		closed := op == OpGE
		if !r.hasLo || value.Compare(v, r.lo) > 0 ||
			(value.Compare(v, r.lo) == 0 && !closed) {
			r.lo, r.hasLo, r.loClosed = v, true, closed
		}
	}
	if r.Empty() {
		r.markEmpty()
	}
}

// AddNotEqual excludes the single value v. The
// exclusion never extends scan keys; it only
// surfaces as a pushdown filter.
func (r *ColumnRange) AddNotEqual(v value.Value) {
	if r.Empty() {
		r.markEmpty()
		return
	}
	if r.fixed != nil {
		keep := r.fixed[:0]
		for _, f := range r.fixed {
			if value.Compare(f, v) != 0 {
				keep = append(keep, f)
			}
		}
		r.fixed = keep
		if len(keep) == 0 {
			r.markEmpty()
		}
		return
	}
	if !containsValue(r.ne, v) {
		r.ne = append(r.ne, v)
	}
}

// Intersect merges other into r under conjunction.
// Both ranges must describe the same column.
func (r *ColumnRange) Intersect(other *ColumnRange) {
	if other.Empty() {
		r.markEmpty()
		return
	}
	if other.fixed != nil {
		r.AddSet(other.fixed)
		return
	}
	if other.hasLo {
		op := OpGT
		if other.loClosed {
			op = OpGE
		}
		r.AddBound(op, other.lo)
	}
	if other.hasHi {
		op := OpLT
		if other.hiClosed {
			op = OpLE
		}
		r.AddBound(op, other.hi)
	}
	for i := range other.ne {
		r.AddNotEqual(other.ne[i])
	}
}

func (r *ColumnRange) markEmpty() {
	r.empty = true
	r.fixed = nil
	r.hasLo, r.hasHi = false, false
	r.ne = nil
}

// ToFilters renders the range as wire-level
// pushdown filters.
func (r *ColumnRange) ToFilters() []Filter {
	if r.Empty() || r.Full() {
		return nil
	}
	if len(r.fixed) == 1 {
		return []Filter{{Column: r.Column, Op: OpEQ, Operands: r.fixed[:1]}}
	}
	if len(r.fixed) > 1 {
		return []Filter{{Column: r.Column, Op: OpIn, Operands: r.fixed}}
	}
	var out []Filter
	if r.hasLo {
		op := OpGT
		if r.loClosed {
			op = OpGE
		}
		out = append(out, Filter{Column: r.Column, Op: op, Operands: []value.Value{r.lo}})
	}
	if r.hasHi {
		op := OpLT
		if r.hiClosed {
			op = OpLE
		}
		out = append(out, Filter{Column: r.Column, Op: op, Operands: []value.Value{r.hi}})
	}
	for i := range r.ne {
		out = append(out, Filter{Column: r.Column, Op: OpNE, Operands: r.ne[i : i+1]})
	}
	return out
}

func containsValue(vs []value.Value, v value.Value) bool {
	for i := range vs {
		if value.Compare(vs[i], v) == 0 {
			return true
		}
	}
	return false
}
