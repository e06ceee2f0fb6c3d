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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Node is the scan node orchestrator. It owns the
// scanners and the materialized batch queue; row
// batches transfer to the caller through GetNext.
//
// Two operating modes, selected at Open and
// mutually exclusive: free-order (default), where
// any scanner's batches reach the caller as they
// materialize, and sort-preserving merge, where a
// k-way merge on the sort column feeds the queue.
type Node struct {
	// ID identifies the node in logs and in
	// replica selection.
	ID uuid.UUID

	// Logf, when set, receives progress and error
	// lines.
	Logf func(format string, args ...any)

	cfg    Config
	plan   *Plan
	src    SegmentSource
	ranges []ScanRangeParams

	tracker *MemTracker
	norm    *Normalized
	keys    *Keys

	scanners []*Scanner
	pending  []*Scanner

	// rowMu guards the materialized queue and its
	// condition variables. It is never held
	// together with scanMu.
	rowMu         sync.Mutex
	batchAdded    *sync.Cond
	batchConsumed *sync.Cond
	queue         []*RowBatch
	transferDone  bool

	// scanMu guards per-scanner batch lists, the
	// running count, and merge bookkeeping.
	scanMu    sync.Mutex
	scanEvent *sync.Cond
	running   int
	lists     [][]*RowBatch
	listCap   int
	finished  []bool
	backup    []*RowBatch

	statusMu sync.Mutex
	status   error

	done   atomic.Bool
	wg     sync.WaitGroup
	opened bool
	closed bool

	merge    bool
	sortSlot int

	total    atomic.Int64
	complete atomic.Int64
}

// NewNode returns a scan node for the plan reading
// segments through src.
func NewNode(plan *Plan, src SegmentSource, cfg Config) *Node {
	n := &Node{
		ID:      uuid.New(),
		cfg:     cfg.withDefaults(),
		plan:    plan,
		src:     src,
		tracker: &MemTracker{},
	}
	n.batchAdded = sync.NewCond(&n.rowMu)
	n.batchConsumed = sync.NewCond(&n.rowMu)
	n.scanEvent = sync.NewCond(&n.scanMu)
	return n
}

// Tracker returns the node's memory tracker.
func (n *Node) Tracker() *MemTracker { return n.tracker }

// SetScanRanges hands the node its tablet scan
// ranges. It must be called before Open.
func (n *Node) SetScanRanges(ranges []ScanRangeParams) error {
	if n.opened {
		return fmt.Errorf("scan: SetScanRanges after Open")
	}
	n.ranges = ranges
	return nil
}

func (n *Node) logf(format string, args ...any) {
	if n.Logf != nil {
		n.Logf(format, args...)
	}
}

// Open normalizes the conjuncts, prunes and splits
// the scan ranges, builds the scanners, and starts
// the transfer machinery.
func (n *Node) Open() error {
	if n.opened {
		return fmt.Errorf("scan: node opened twice")
	}
	if n.plan == nil || n.plan.Schema == nil {
		return fmt.Errorf("scan: nil plan")
	}
	slots := make([]SlotDesc, 0, len(n.plan.Schema.Fields))
	for i := range n.plan.Schema.Fields {
		f := &n.plan.Schema.Fields[i]
		keyOrder := -1
		for k, id := range n.plan.KeyColumns {
			if id == f.ID {
				keyOrder = k
			}
		}
		slots = append(slots, SlotDesc{
			Slot: i, Column: f.Name, ID: f.ID, Typ: f.Type, KeyOrder: keyOrder,
		})
	}
	norm, err := Normalize(n.plan.Conjuncts, slots)
	if err != nil {
		return err
	}
	n.norm = norm
	n.opened = true
	if norm.Empty() {
		n.logf("scan %s: conjunction unsatisfiable, empty scan", n.ID)
		n.transferDone = true
		return nil
	}
	n.keys = BuildKeys(norm, n.plan.KeyColumns, n.cfg.MaxScanKeyCount)
	if n.plan.IsResultOrder && n.plan.SortColumn != "" {
		f, slot, ok := n.plan.Schema.ByName(n.plan.SortColumn)
		if !ok {
			return fmt.Errorf("scan: sort column %q not in schema", n.plan.SortColumn)
		}
		if len(n.plan.KeyColumns) == 0 || f.ID != n.plan.KeyColumns[0] {
			return fmt.Errorf("scan: sort column %q is not the leading key column", n.plan.SortColumn)
		}
		n.merge = true
		n.sortSlot = slot
	}
	subs, err := n.buildSubRanges()
	if err != nil {
		return err
	}
	for i, sub := range subs {
		n.scanners = append(n.scanners, newScanner(i, sub, n.plan, n.norm, n.cfg.BatchCapacity, n.tracker))
	}
	n.total.Store(int64(len(n.scanners)))
	n.logf("scan %s: %d scan ranges -> %d scanners (merge=%v)", n.ID, len(n.ranges), len(n.scanners), n.merge)
	if len(n.scanners) == 0 {
		n.transferDone = true
		return nil
	}
	if n.merge {
		n.startMerge()
		return nil
	}
	n.pending = append(n.pending, n.scanners...)
	n.wg.Add(1)
	go n.transferThread()
	return nil
}

// buildSubRanges prunes the tablet ranges against
// the composed scan keys, intersects bounds, opens
// segments, prunes granules, and splits survivors
// for parallelism.
func (n *Node) buildSubRanges() ([]*SubRange, error) {
	var subs []*SubRange
	for _, p := range n.ranges {
		if !n.keys.Overlaps(p.StartKey, p.EndKey) {
			n.logf("scan %s: tablet %d pruned by scan key", n.ID, p.TabletID)
			continue
		}
		pickReplica(&p, n.ID)
		seg, err := n.src.Open(p)
		if err != nil {
			return nil, fmt.Errorf("scan: open tablet %d: %w", p.TabletID, err)
		}
		for i := 0; i < n.keys.Count(); i++ {
			ks, ke, kc, ec := n.keys.bounds(i)
			if !overlaps(ks, kc, ke, ec, p.StartKey, p.EndKey) {
				continue
			}
			s, e, sc2, ec2 := intersectBounds(p, ks, ke, kc, ec)
			sr := &SubRange{
				Params: p, Seg: seg,
				Start: s, End: e, StartClosed: sc2, EndClosed: ec2,
			}
			sr.selectRows()
			if sr.Rows.Empty() {
				continue
			}
			subs = append(subs, sr)
		}
	}
	// spread the configured parallelism over the
	// surviving sub-ranges
	if len(subs) > 0 && len(subs) < n.cfg.Parallelism {
		per := (n.cfg.Parallelism + len(subs) - 1) / len(subs)
		var split []*SubRange
		for _, sr := range subs {
			split = append(split, sr.split(per)...)
		}
		subs = split
	}
	return subs, nil
}

// transferThread admits pending scanners while
// keeping at most Parallelism active, replacing
// each finished scanner until all are drained.
func (n *Node) transferThread() {
	defer n.wg.Done()
	n.scanMu.Lock()
	for !n.done.Load() {
		for n.running < n.cfg.Parallelism && len(n.pending) > 0 {
			s := n.pending[0]
			n.pending = n.pending[1:]
			n.running++
			n.wg.Add(1)
			go n.scannerThread(s)
		}
		if n.running == 0 && len(n.pending) == 0 {
			break
		}
		n.scanEvent.Wait()
	}
	n.scanMu.Unlock()
	n.rowMu.Lock()
	n.transferDone = true
	n.batchAdded.Broadcast()
	n.rowMu.Unlock()
}

// scannerThread drives one scanner in free-order
// mode, blocking on the materialized queue when it
// is full.
func (n *Node) scannerThread(s *Scanner) {
	defer n.wg.Done()
	err := s.Open(n.norm.Pushdown)
	for err == nil && !n.done.Load() {
		var b *RowBatch
		b, err = s.NextBatch()
		if err != nil || b == nil {
			break
		}
		if !n.enqueue(b) {
			b.Release()
			break
		}
	}
	if err != nil {
		n.fail(err)
	}
	s.Close()
	n.complete.Add(1)
	n.scanMu.Lock()
	n.running--
	n.scanEvent.Broadcast()
	n.scanMu.Unlock()
}

// enqueue blocks until the materialized queue has
// room, then adds b. It returns false when the
// scan was cancelled instead.
func (n *Node) enqueue(b *RowBatch) bool {
	n.rowMu.Lock()
	defer n.rowMu.Unlock()
	for len(n.queue) >= n.cfg.MaxMaterializedRowBatches && !n.done.Load() {
		n.batchConsumed.Wait()
	}
	if n.done.Load() {
		return false
	}
	n.queue = append(n.queue, b)
	n.batchAdded.Signal()
	return true
}

// GetNext returns the next materialized batch.
// eos reports the clean end of the scan; after a
// failure it returns the first captured error and
// no further batches.
func (n *Node) GetNext() (batch *RowBatch, eos bool, err error) {
	n.rowMu.Lock()
	for len(n.queue) == 0 && !n.transferDone && !n.done.Load() {
		n.batchAdded.Wait()
	}
	if err := n.Status(); err != nil {
		for _, b := range n.queue {
			b.Release()
		}
		n.queue = nil
		n.rowMu.Unlock()
		return nil, false, err
	}
	if len(n.queue) > 0 {
		b := n.queue[0]
		n.queue = n.queue[1:]
		n.batchConsumed.Signal()
		n.rowMu.Unlock()
		return b, false, nil
	}
	cancelled := n.done.Load() && !n.transferDone
	n.rowMu.Unlock()
	if cancelled {
		return nil, false, ErrCancelled
	}
	return nil, true, nil
}

// fail records the first error and cancels the
// scan; later errors are dropped.
func (n *Node) fail(err error) {
	n.statusMu.Lock()
	if n.status == nil {
		n.status = err
		n.logf("scan %s: failed: %v", n.ID, err)
	}
	n.statusMu.Unlock()
	n.done.Store(true)
	n.broadcast()
}

// Status returns the first captured error, if any.
func (n *Node) Status() error {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	return n.status
}

func (n *Node) broadcast() {
	n.rowMu.Lock()
	n.batchAdded.Broadcast()
	n.batchConsumed.Broadcast()
	n.rowMu.Unlock()
	n.scanMu.Lock()
	n.scanEvent.Broadcast()
	n.scanMu.Unlock()
}

// Cancel aborts the scan. Threads exit at their
// next suspension point; callers use it to enforce
// deadlines. A cancelled scan never reports its
// partial results as a clean EOS.
func (n *Node) Cancel() {
	n.statusMu.Lock()
	if n.status == nil {
		n.status = ErrCancelled
	}
	n.statusMu.Unlock()
	n.done.Store(true)
	n.broadcast()
}

// Progress returns finished and total scanner
// counts.
func (n *Node) Progress() (finished, total int64) {
	return n.complete.Load(), n.total.Load()
}

// Close cancels the scan if still running, joins
// every thread, and releases all in-flight
// batches. It is safe to call after any error;
// later calls only return the captured status.
func (n *Node) Close() error {
	if n.closed {
		return n.Status()
	}
	n.closed = true
	n.done.Store(true)
	n.broadcast()
	n.wg.Wait()
	n.rowMu.Lock()
	for _, b := range n.queue {
		b.Release()
	}
	n.queue = nil
	n.rowMu.Unlock()
	n.scanMu.Lock()
	for i := range n.lists {
		for _, b := range n.lists[i] {
			b.Release()
		}
		n.lists[i] = nil
	}
	for i := range n.backup {
		if n.backup[i] != nil {
			n.backup[i].Release()
			n.backup[i] = nil
		}
	}
	n.scanMu.Unlock()
	for _, s := range n.scanners {
		s.Close()
	}
	return n.Status()
}
