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
	"sync/atomic"

	"github.com/SnellerInc/strata/column"
)

// MemTracker accounts the bytes held by row
// batches crossing the scan node. Every batch
// enqueued is tracked; consumption or abort
// releases it.
type MemTracker struct {
	used atomic.Int64
}

// Track accounts n additional bytes.
func (t *MemTracker) Track(n int64) {
	if t != nil {
		t.used.Add(n)
	}
}

// Release returns n bytes.
func (t *MemTracker) Release(n int64) {
	if t != nil {
		t.used.Add(-n)
	}
}

// Used returns the bytes currently accounted.
func (t *MemTracker) Used() int64 {
	if t == nil {
		return 0
	}
	return t.used.Load()
}

// RowBatch is a bounded bundle of decoded rows.
// The producing scanner owns it until it is
// enqueued; ownership then transfers to whoever
// dequeues it, who must Release it.
type RowBatch struct {
	rows    []column.Row
	cap     int
	bytes   int64
	tracker *MemTracker
}

func newRowBatch(capacity int, tracker *MemTracker) *RowBatch {
	return &RowBatch{
		rows:    make([]column.Row, 0, capacity),
		cap:     capacity,
		tracker: tracker,
	}
}

// Add appends a row; the batch takes ownership.
func (b *RowBatch) Add(row column.Row) {
	b.rows = append(b.rows, row)
	sz := rowBytes(row)
	b.bytes += sz
	b.tracker.Track(sz)
}

// Full returns whether the batch reached its
// capacity.
func (b *RowBatch) Full() bool { return len(b.rows) >= b.cap }

// Len returns the number of rows.
func (b *RowBatch) Len() int { return len(b.rows) }

// Row returns the i-th row.
func (b *RowBatch) Row(i int) column.Row { return b.rows[i] }

// Rows returns the underlying rows.
func (b *RowBatch) Rows() []column.Row { return b.rows }

// Release returns the batch's memory accounting.
// It is idempotent.
func (b *RowBatch) Release() {
	if b == nil || b.bytes == 0 {
		return
	}
	b.tracker.Release(b.bytes)
	b.bytes = 0
}

func rowBytes(row column.Row) int64 {
	n := int64(len(row)) * 24
	for i := range row {
		n += int64(len(row[i].Payload()))
	}
	return n
}
