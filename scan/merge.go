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
	"github.com/SnellerInc/strata/heap"
	"github.com/SnellerInc/strata/value"
)

// Sort-preserving merge mode. Every scanner feeds
// a bounded per-scanner batch list; the merge
// thread holds the head tuple of each scanner in a
// min-heap keyed by the sort column and breaks
// ties by scanner id, so the output is
// deterministic. The last batch consumed from each
// scanner stays in a backup slot while output
// batches may still reference its rows.

type mergeEntry struct {
	sid   int
	batch *RowBatch
	idx   int
}

func (n *Node) mergeLess(a, b mergeEntry) bool {
	va := a.batch.Row(a.idx)[n.sortSlot]
	vb := b.batch.Row(b.idx)[n.sortSlot]
	if c := value.Compare(va, vb); c != 0 {
		return c < 0
	}
	return a.sid < b.sid
}

// startMerge launches every scanner plus the merge
// thread. Merge mode needs the head of each
// scanner simultaneously, so all scanners run; the
// per-scanner list bound throttles them instead of
// the admission cap.
func (n *Node) startMerge() {
	k := len(n.scanners)
	n.lists = make([][]*RowBatch, k)
	n.finished = make([]bool, k)
	n.backup = make([]*RowBatch, k)
	n.listCap = n.cfg.MaxMaterializedRowBatches / k
	if n.listCap < 1 {
		n.listCap = 1
	}
	for _, s := range n.scanners {
		n.wg.Add(1)
		go n.mergeScannerThread(s)
	}
	n.wg.Add(1)
	go n.mergeThread()
}

// mergeScannerThread drives one scanner, parking
// its batches on the scanner's list.
func (n *Node) mergeScannerThread(s *Scanner) {
	defer n.wg.Done()
	err := s.Open(n.norm.Pushdown)
	for err == nil && !n.done.Load() {
		var b *RowBatch
		b, err = s.NextBatch()
		if err != nil || b == nil {
			break
		}
		n.scanMu.Lock()
		for len(n.lists[s.id]) >= n.listCap && !n.done.Load() {
			n.scanEvent.Wait()
		}
		if n.done.Load() {
			n.scanMu.Unlock()
			b.Release()
			break
		}
		n.lists[s.id] = append(n.lists[s.id], b)
		n.scanEvent.Broadcast()
		n.scanMu.Unlock()
	}
	if err != nil {
		n.fail(err)
	}
	s.Close()
	n.complete.Add(1)
	n.scanMu.Lock()
	n.finished[s.id] = true
	n.scanEvent.Broadcast()
	n.scanMu.Unlock()
}

// nextHead blocks for the next batch of scanner
// sid. prev is the batch whose rows the merge just
// finished walking; it replaces the backup slot so
// its tuples stay reachable while referenced
// downstream.
func (n *Node) nextHead(sid int, prev *RowBatch) (*RowBatch, bool) {
	n.scanMu.Lock()
	for len(n.lists[sid]) == 0 && !n.finished[sid] && !n.done.Load() {
		n.scanEvent.Wait()
	}
	var b *RowBatch
	if len(n.lists[sid]) > 0 {
		b = n.lists[sid][0]
		n.lists[sid] = n.lists[sid][1:]
		n.scanEvent.Broadcast()
	}
	if prev != nil {
		if old := n.backup[sid]; old != nil {
			old.Release()
		}
		n.backup[sid] = prev
	}
	n.scanMu.Unlock()
	return b, b != nil
}

// mergeThread runs the k-way merge into the
// materialized queue.
func (n *Node) mergeThread() {
	defer n.wg.Done()
	var h []mergeEntry
	for _, s := range n.scanners {
		if b, ok := n.nextHead(s.id, nil); ok {
			h = append(h, mergeEntry{sid: s.id, batch: b})
		}
	}
	heap.Order(h, n.mergeLess)
	out := newRowBatch(n.cfg.BatchCapacity, n.tracker)
	flush := func() bool {
		if out.Len() == 0 {
			return true
		}
		if !n.enqueue(out) {
			out.Release()
			return false
		}
		out = newRowBatch(n.cfg.BatchCapacity, n.tracker)
		return true
	}
	for len(h) > 0 && !n.done.Load() {
		top := h[0]
		out.Add(top.batch.Row(top.idx))
		if out.Full() && !flush() {
			break
		}
		if top.idx+1 < top.batch.Len() {
			h[0].idx++
			heap.Fix(h, 0, n.mergeLess)
			continue
		}
		if b, ok := n.nextHead(top.sid, top.batch); ok {
			h[0] = mergeEntry{sid: top.sid, batch: b}
			heap.Fix(h, 0, n.mergeLess)
		} else {
			heap.Pop(&h, n.mergeLess)
		}
	}
	if !n.done.Load() {
		flush()
	} else {
		out.Release()
	}
	n.rowMu.Lock()
	n.transferDone = true
	n.batchAdded.Broadcast()
	n.rowMu.Unlock()
}
