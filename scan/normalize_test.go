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
	"reflect"
	"strings"
	"testing"

	"github.com/SnellerInc/strata/column"
	"github.com/SnellerInc/strata/value"
)

func pushdownSlots() []SlotDesc {
	return []SlotDesc{
		{Slot: 0, Column: "a", ID: 1, Typ: value.BigInt, KeyOrder: 0},
		{Slot: 1, Column: "b", ID: 2, Typ: value.BigInt, KeyOrder: 1},
		{Slot: 2, Column: "c", ID: 3, Typ: value.BigInt, KeyOrder: 2},
		{Slot: 3, Column: "d", ID: 4, Typ: value.Varchar, KeyOrder: 3},
	}
}

// pushdownConjunction is the seeded scenario:
// a = 5 AND b IN (1,2) AND c > 7 AND d LIKE 'x%'.
func pushdownConjunction() []Conjunct {
	return []Conjunct{
		&BinaryPred{Slot: 0, Op: OpEQ, Lit: bi(5)},
		&InPred{Slot: 1, Lits: []value.Value{bi(1), bi(2)}},
		&BinaryPred{Slot: 2, Op: OpGT, Lit: bi(7)},
		&OpaquePred{Name: "d LIKE 'x%'", Vec: false, Fn: func(row column.Row) (bool, error) {
			return strings.HasPrefix(string(row[3].Payload()), "x"), nil
		}},
	}
}

func TestNormalizePushdown(t *testing.T) {
	norm, err := Normalize(pushdownConjunction(), pushdownSlots())
	if err != nil {
		t.Fatal(err)
	}
	a := norm.Range(1)
	if a == nil || !a.IsFixed() || len(a.FixedValues()) != 1 || a.FixedValues()[0].Int64() != 5 {
		t.Fatalf("range a: %+v", a)
	}
	b := norm.Range(2)
	if b == nil || len(b.FixedValues()) != 2 {
		t.Fatalf("range b: %+v", b)
	}
	c := norm.Range(3)
	if c == nil || c.IsFixed() {
		t.Fatalf("range c: %+v", c)
	}
	lo, _, hasLo, hasHi, loClosed, _ := c.Bounds()
	if !hasLo || hasHi || loClosed || lo.Int64() != 7 {
		t.Fatalf("range c bounds: %v closed=%v", lo, loClosed)
	}
	if norm.Range(4) != nil {
		t.Fatal("LIKE must not produce a range")
	}
	if len(norm.RowResidual) != 1 || len(norm.VecResidual) != 0 {
		t.Fatalf("residual split: %d vec, %d row", len(norm.VecResidual), len(norm.RowResidual))
	}

	keys := BuildKeys(norm, []uint32{1, 2, 3, 4}, 0)
	if keys.Len() != 3 {
		t.Fatalf("scan key length: %d", keys.Len())
	}
	if keys.Count() != 2 { // b IN (1,2) forks the key
		t.Fatalf("scan key count: %d", keys.Count())
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	slots := pushdownSlots()
	n1, err := Normalize(pushdownConjunction(), slots)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := Normalize(pushdownConjunction(), slots)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(n1.Pushdown, n2.Pushdown) {
		t.Fatalf("pushdown differs:\n%v\n%v", n1.Pushdown, n2.Pushdown)
	}
	for id, r := range n1.Ranges {
		r2 := n2.Ranges[id]
		if r2 == nil || !reflect.DeepEqual(r.ToFilters(), r2.ToFilters()) {
			t.Fatalf("range %d differs", id)
		}
	}
}

func TestNormalizeIsNull(t *testing.T) {
	slots := []SlotDesc{{Slot: 0, Column: "n", ID: 9, Typ: value.Int, KeyOrder: -1}}
	norm, err := Normalize([]Conjunct{&IsNullPred{Slot: 0}}, slots)
	if err != nil {
		t.Fatal(err)
	}
	if len(norm.NullConds) != 1 || norm.NullConds[0].Op != OpIsNull {
		t.Fatalf("null conds: %v", norm.NullConds)
	}
	if len(norm.Pushdown) != 1 {
		t.Fatalf("pushdown: %v", norm.Pushdown)
	}
}

// TestNormalizeDomainTruncation checks that a
// literal outside the slot's domain truncates the
// range, not the literal.
func TestNormalizeDomainTruncation(t *testing.T) {
	slots := []SlotDesc{{Slot: 0, Column: "t", ID: 1, Typ: value.Tiny, KeyOrder: 0}}
	lit300 := value.Int64(value.BigInt, 300)

	norm, err := Normalize([]Conjunct{&BinaryPred{Slot: 0, Op: OpLT, Lit: lit300}}, slots)
	if err != nil {
		t.Fatal(err)
	}
	if r := norm.Range(1); !r.Full() {
		t.Fatalf("t < 300 should be a full range, got %+v", r)
	}

	norm, err = Normalize([]Conjunct{&BinaryPred{Slot: 0, Op: OpGT, Lit: lit300}}, slots)
	if err != nil {
		t.Fatal(err)
	}
	if !norm.Empty() {
		t.Fatal("t > 300 should be empty")
	}

	norm, err = Normalize([]Conjunct{&BinaryPred{Slot: 0, Op: OpEQ, Lit: lit300}}, slots)
	if err != nil {
		t.Fatal(err)
	}
	if !norm.Empty() {
		t.Fatal("t = 300 should be empty")
	}

	// IN list keeps only in-domain members
	norm, err = Normalize([]Conjunct{&InPred{Slot: 0, Lits: []value.Value{
		value.Int64(value.BigInt, 5), lit300,
	}}}, slots)
	if err != nil {
		t.Fatal(err)
	}
	if r := norm.Range(1); len(r.FixedValues()) != 1 || r.FixedValues()[0].Int64() != 5 {
		t.Fatalf("IN truncation: %v", r.FixedValues())
	}
}

func TestNormalizeTypeMismatchStaysResidual(t *testing.T) {
	slots := []SlotDesc{{Slot: 0, Column: "s", ID: 1, Typ: value.Varchar, KeyOrder: 0}}
	conj := []Conjunct{&BinaryPred{Slot: 0, Op: OpEQ, Lit: bi(5)}}
	norm, err := Normalize(conj, slots)
	if err != nil {
		t.Fatal(err)
	}
	if norm.Range(1) != nil {
		t.Fatal("mismatched literal must not produce a range")
	}
	if len(norm.VecResidual) != 1 {
		t.Fatalf("expected residual, got %d", len(norm.VecResidual))
	}
}
