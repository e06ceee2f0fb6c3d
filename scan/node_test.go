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
	"testing"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/strata/column"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

type memSource map[int64][]byte

func (m memSource) Open(p ScanRangeParams) (*segment.Reader, error) {
	buf, ok := m[p.TabletID]
	if !ok {
		return nil, fmt.Errorf("no tablet %d", p.TabletID)
	}
	return segment.Open(buf)
}

func singleColSchema() *column.Schema {
	return &column.Schema{Fields: []column.Field{
		{Name: "v", ID: 1, Type: value.BigInt},
	}}
}

func buildTablet(t *testing.T, schema *column.Schema, keyCols []uint32, rows []column.Row, stride uint32) []byte {
	t.Helper()
	w, err := column.NewWriter(schema, keyCols, column.WriterOptions{IndexStride: stride})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func intTablet(t *testing.T, vals []int64) []byte {
	rows := make([]column.Row, len(vals))
	for i, v := range vals {
		rows[i] = column.Row{bi(v)}
	}
	return buildTablet(t, singleColSchema(), []uint32{1}, rows, 1024)
}

func drain(t *testing.T, n *Node) []column.Row {
	t.Helper()
	var out []column.Row
	for {
		b, eos, err := n.GetNext()
		if err != nil {
			t.Fatal(err)
		}
		if b != nil {
			out = append(out, b.Rows()...)
			b.Release()
		}
		if eos {
			return out
		}
	}
}

func firstCol(rows []column.Row) []int64 {
	out := make([]int64, len(rows))
	for i := range rows {
		out[i] = rows[i][0].Int64()
	}
	return out
}

// TestSortPreservingMerge follows the seeded
// scenario: three scanners producing [1,4,7],
// [2,5,8] and [3,6,9] merge into [1..9].
func TestSortPreservingMerge(t *testing.T) {
	src := memSource{
		1: intTablet(t, []int64{1, 4, 7}),
		2: intTablet(t, []int64{2, 5, 8}),
		3: intTablet(t, []int64{3, 6, 9}),
	}
	ranges := []ScanRangeParams{
		{TabletID: 1}, {TabletID: 2}, {TabletID: 3},
	}
	plan := &Plan{
		Schema:        singleColSchema(),
		KeyColumns:    []uint32{1},
		SortColumn:    "v",
		IsResultOrder: true,
	}
	n := NewNode(plan, src, Config{Parallelism: 3, BatchCapacity: 2})
	if err := n.SetScanRanges(ranges); err != nil {
		t.Fatal(err)
	}
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	got := firstCol(drain(t, n))
	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !slices.Equal(got, want) {
		t.Fatalf("merge output: %v", got)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if n.Tracker().Used() != 0 {
		t.Fatalf("leaked %d tracked bytes", n.Tracker().Used())
	}
}

// TestFreeOrder runs the same input without the
// merge and checks multiset equality.
func TestFreeOrder(t *testing.T) {
	src := memSource{
		1: intTablet(t, []int64{1, 4, 7}),
		2: intTablet(t, []int64{2, 5, 8}),
		3: intTablet(t, []int64{3, 6, 9}),
	}
	plan := &Plan{Schema: singleColSchema(), KeyColumns: []uint32{1}}
	n := NewNode(plan, src, Config{Parallelism: 2, BatchCapacity: 2})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}, {TabletID: 2}, {TabletID: 3}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	got := firstCol(drain(t, n))
	slices.Sort(got)
	if !slices.Equal(got, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Fatalf("free-order multiset: %v", got)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if fin, total := n.Progress(); fin != total {
		t.Fatalf("progress: %d/%d", fin, total)
	}
}

func soundnessSchema() *column.Schema {
	return &column.Schema{Fields: []column.Field{
		{Name: "k", ID: 1, Type: value.BigInt},
		{Name: "v", ID: 2, Type: value.BigInt},
		{Name: "n", ID: 3, Type: value.Int, Nullable: true},
	}}
}

func soundnessRows(n int) []column.Row {
	rows := make([]column.Row, n)
	for k := 0; k < n; k++ {
		nv := value.Int64(value.Int, int64(k%5))
		if k%10 == 7 {
			nv = value.Null(value.Int)
		}
		rows[k] = column.Row{bi(int64(k)), bi(int64(k * 2)), nv}
	}
	return rows
}

// TestPruningSoundness compares a pushdown scan
// with residuals against the naive full scan: no
// surviving row violates a predicate, none is
// duplicated, none is omitted.
func TestPruningSoundness(t *testing.T) {
	const total = 100
	schema := soundnessSchema()
	rows := soundnessRows(total)
	src := memSource{1: buildTablet(t, schema, []uint32{1}, rows, 16)}
	conj := []Conjunct{
		&BinaryPred{Slot: 0, Op: OpGE, Lit: bi(10)},
		&BinaryPred{Slot: 0, Op: OpLT, Lit: bi(50)},
		&OpaquePred{Name: "k%3=0", Vec: true, Fn: func(row column.Row) (bool, error) {
			return row[0].Int64()%3 == 0, nil
		}},
	}
	plan := &Plan{Schema: schema, KeyColumns: []uint32{1}, Conjuncts: conj}
	n := NewNode(plan, src, Config{Parallelism: 4, BatchCapacity: 8})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	got := firstCol(drain(t, n))
	slices.Sort(got)
	var want []int64
	for k := int64(10); k < 50; k++ {
		if k%3 == 0 {
			want = append(want, k)
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("soundness: got %v want %v", got, want)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestIsNullPushdown(t *testing.T) {
	const total = 60
	schema := soundnessSchema()
	src := memSource{1: buildTablet(t, schema, []uint32{1}, soundnessRows(total), 16)}
	plan := &Plan{
		Schema:     schema,
		KeyColumns: []uint32{1},
		Conjuncts:  []Conjunct{&IsNullPred{Slot: 2}},
	}
	n := NewNode(plan, src, Config{Parallelism: 2, BatchCapacity: 8})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	got := firstCol(drain(t, n))
	slices.Sort(got)
	var want []int64
	for k := int64(0); k < total; k++ {
		if k%10 == 7 {
			want = append(want, k)
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("IS NULL rows: got %v want %v", got, want)
	}
	n.Close()
}

// TestTabletPruning checks that tablets whose key
// bounds cannot match are never opened.
func TestTabletPruning(t *testing.T) {
	schema := singleColSchema()
	src := memSource{1: intTablet(t, []int64{3, 4, 5, 6})}
	// tablet 2 is not in the source: opening it
	// would fail, so pruning must skip it
	ranges := []ScanRangeParams{
		{TabletID: 1, StartKey: key(3), EndKey: key(6)},
		{TabletID: 2, StartKey: key(10), EndKey: key(20)},
	}
	plan := &Plan{
		Schema:     schema,
		KeyColumns: []uint32{1},
		Conjuncts:  []Conjunct{&BinaryPred{Slot: 0, Op: OpEQ, Lit: bi(5)}},
	}
	n := NewNode(plan, src, Config{Parallelism: 2, BatchCapacity: 8})
	n.SetScanRanges(ranges)
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	got := firstCol(drain(t, n))
	if !slices.Equal(got, []int64{5}) {
		t.Fatalf("got %v want [5]", got)
	}
	n.Close()
}

func TestEmptyConjunction(t *testing.T) {
	src := memSource{1: intTablet(t, []int64{1, 2, 3})}
	plan := &Plan{
		Schema:     singleColSchema(),
		KeyColumns: []uint32{1},
		Conjuncts: []Conjunct{
			&BinaryPred{Slot: 0, Op: OpEQ, Lit: bi(5)},
			&BinaryPred{Slot: 0, Op: OpEQ, Lit: bi(6)},
		},
	}
	n := NewNode(plan, src, Config{})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	if got := drain(t, n); len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
	n.Close()
}

// TestErrorPropagation checks fail-fast delivery
// of the first error and that Close stays safe.
func TestErrorPropagation(t *testing.T) {
	boom := errors.New("boom")
	schema := singleColSchema()
	vals := make([]int64, 500)
	for i := range vals {
		vals[i] = int64(i)
	}
	src := memSource{1: intTablet(t, vals)}
	plan := &Plan{
		Schema:     schema,
		KeyColumns: []uint32{1},
		Conjuncts: []Conjunct{&OpaquePred{Name: "explode", Fn: func(row column.Row) (bool, error) {
			if row[0].Int64() == 42 {
				return false, boom
			}
			return true, nil
		}}},
	}
	n := NewNode(plan, src, Config{Parallelism: 1, BatchCapacity: 16})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	var got error
	for {
		b, eos, err := n.GetNext()
		if err != nil {
			got = err
			break
		}
		if b != nil {
			b.Release()
		}
		if eos {
			break
		}
	}
	if !errors.Is(got, boom) {
		t.Fatalf("expected boom, got %v", got)
	}
	if err := n.Close(); !errors.Is(err, boom) {
		t.Fatalf("close: %v", err)
	}
	// no further batches after failure
	if b, _, err := n.GetNext(); b != nil || err == nil {
		t.Fatalf("expected error after failure, got batch=%v err=%v", b, err)
	}
}

func TestCancel(t *testing.T) {
	vals := make([]int64, 10_000)
	for i := range vals {
		vals[i] = int64(i)
	}
	src := memSource{1: intTablet(t, vals)}
	plan := &Plan{Schema: singleColSchema(), KeyColumns: []uint32{1}}
	n := NewNode(plan, src, Config{Parallelism: 1, BatchCapacity: 8, MaxMaterializedRowBatches: 2})
	n.SetScanRanges([]ScanRangeParams{{TabletID: 1}})
	if err := n.Open(); err != nil {
		t.Fatal(err)
	}
	n.Cancel()
	if _, _, err := n.GetNext(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if err := n.Close(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("close after cancel: %v", err)
	}
}
