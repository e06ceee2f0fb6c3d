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

// Package scan implements the scan node of the
// query backend: predicate normalization into
// column value ranges, scan-key composition and
// range pruning, per-sub-range scanners, and the
// orchestrator that streams row batches to the
// caller in free order or through a
// sort-preserving merge.
package scan

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/strata/column"
	"github.com/SnellerInc/strata/value"
)

// Op is a pushdown comparison operator.
type Op uint8

const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpIn
	OpIsNull
)

var opNames = [...]string{
	OpEQ: "=", OpNE: "!=", OpLT: "<", OpLE: "<=",
	OpGT: ">", OpGE: ">=", OpIn: "IN", OpIsNull: "IS NULL",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "?"
}

// Filter is the wire-level pushdown predicate
// applied by the storage layer before rows reach
// the residual conjuncts.
type Filter struct {
	Column   string
	Op       Op
	Operands []value.Value
}

func (f Filter) String() string {
	if f.Op == OpIsNull {
		return f.Column + " IS NULL"
	}
	ops := make([]string, len(f.Operands))
	for i := range f.Operands {
		ops[i] = f.Operands[i].String()
	}
	if f.Op == OpIn {
		return fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(ops, ","))
	}
	return fmt.Sprintf("%s %s %s", f.Column, f.Op, strings.Join(ops, ","))
}

// Conjunct is one predicate of the plan's flat
// conjunction. The expression runtime proper is an
// external collaborator; the normalizer recognizes
// the concrete predicate shapes below and leaves
// everything else residual.
type Conjunct interface {
	// Eval evaluates the predicate against a
	// decoded row. NULL operands make comparisons
	// false.
	Eval(row column.Row) (bool, error)
	// Vectorized hints whether the residual
	// evaluator may run this predicate over a
	// whole batch at a time.
	Vectorized() bool
	String() string
}

// BinaryPred is `slot <op> literal` with op one of
// =, !=, <, <=, >, >=.
type BinaryPred struct {
	Slot int
	Op   Op
	Lit  value.Value
}

func (p *BinaryPred) Eval(row column.Row) (bool, error) {
	v := row[p.Slot]
	if v.IsNull() || p.Lit.IsNull() {
		return false, nil
	}
	c := value.Compare(v, p.Lit)
	switch p.Op {
	case OpEQ:
		return c == 0, nil
	case OpNE:
		return c != 0, nil
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	case OpGE:
		return c >= 0, nil
	}
	return false, fmt.Errorf("binary predicate with operator %s", p.Op)
}

func (p *BinaryPred) Vectorized() bool { return true }

func (p *BinaryPred) String() string {
	return fmt.Sprintf("$%d %s %s", p.Slot, p.Op, p.Lit)
}

// InPred is `slot IN (literals...)`.
type InPred struct {
	Slot int
	Lits []value.Value
}

func (p *InPred) Eval(row column.Row) (bool, error) {
	v := row[p.Slot]
	if v.IsNull() {
		return false, nil
	}
	for i := range p.Lits {
		if value.Compare(v, p.Lits[i]) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func (p *InPred) Vectorized() bool { return true }

func (p *InPred) String() string {
	ops := make([]string, len(p.Lits))
	for i := range p.Lits {
		ops[i] = p.Lits[i].String()
	}
	return fmt.Sprintf("$%d IN (%s)", p.Slot, strings.Join(ops, ","))
}

// IsNullPred is `slot IS NULL`.
type IsNullPred struct {
	Slot int
}

func (p *IsNullPred) Eval(row column.Row) (bool, error) {
	return row[p.Slot].IsNull(), nil
}

func (p *IsNullPred) Vectorized() bool { return true }

func (p *IsNullPred) String() string { return fmt.Sprintf("$%d IS NULL", p.Slot) }

// OpaquePred wraps a predicate the normalizer
// cannot see into (LIKE, arithmetic, UDFs). It
// always stays residual.
type OpaquePred struct {
	Name string
	Fn   func(row column.Row) (bool, error)
	Vec  bool
}

func (p *OpaquePred) Eval(row column.Row) (bool, error) { return p.Fn(row) }
func (p *OpaquePred) Vectorized() bool                  { return p.Vec }
func (p *OpaquePred) String() string                    { return p.Name }
