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
	"github.com/dchest/siphash"
	"github.com/google/uuid"

	"github.com/SnellerInc/strata/ints"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

// SubRange is the intersection of one tablet scan
// range with one composed scan-key range, plus the
// row intervals of the segment that survive
// granule pruning. One scanner is built per
// SubRange.
type SubRange struct {
	Params ScanRangeParams
	Seg    *segment.Reader

	// Start and End bound the keys of the rows
	// this sub-range may emit.
	Start, End             []value.Value
	StartClosed, EndClosed bool

	// Rows are the surviving row intervals.
	Rows ints.Intervals
}

// intersectBounds narrows a tablet's inclusive key
// bounds with one composed key range.
func intersectBounds(p ScanRangeParams, start, end []value.Value, startClosed, endClosed bool) (s, e []value.Value, sc, ec bool) {
	s, sc = start, startClosed
	if c := cmpTuple(p.StartKey, false, s, false); c > 0 {
		s, sc = p.StartKey, true
	}
	e, ec = end, endClosed
	if c := cmpTuple(p.EndKey, true, e, true); c < 0 {
		e, ec = p.EndKey, true
	}
	return s, e, sc, ec
}

// selectRows prunes the segment's granules against
// the sub-range key bounds using the per-granule
// first/last keys, and records the surviving row
// intervals. Granule pruning is conservative; the
// scanner still checks each decoded row against
// the bounds.
func (sr *SubRange) selectRows() {
	f := sr.Seg.Footer()
	rows := int64(f.Rows)
	stride := int64(f.IndexStride)
	if stride <= 0 || len(f.KeyIndex) == 0 {
		sr.Rows = ints.Intervals{{Start: 0, End: rows}}
		return
	}
	var keep ints.Intervals
	for g := range f.KeyIndex {
		gk := &f.KeyIndex[g]
		if !granuleOverlaps(gk, sr.Start, sr.StartClosed, sr.End, sr.EndClosed) {
			continue
		}
		lo := int64(g) * stride
		hi := lo + stride
		if hi > rows {
			hi = rows
		}
		keep = append(keep, ints.Interval{Start: lo, End: hi})
	}
	keep.Compress()
	sr.Rows = keep
}

func granuleOverlaps(gk *segment.GranuleKeys, start []value.Value, startClosed bool, end []value.Value, endClosed bool) bool {
	if len(start) > 0 {
		c := cmpTuple(gk.Last, true, start, false)
		if c < 0 || (c == 0 && !startClosed) {
			return false
		}
	}
	if len(end) > 0 {
		c := cmpTuple(gk.First, false, end, true)
		if c > 0 || (c == 0 && !endClosed) {
			return false
		}
	}
	return true
}

// split cuts the sub-range's row intervals into at
// most n pieces of roughly equal row count. Cuts
// land only on granule boundaries where the key
// actually changes, so a run of identical keys
// always stays with the lower-indexed piece.
func (sr *SubRange) split(n int) []*SubRange {
	total := sr.Rows.Len()
	if n <= 1 || total == 0 {
		return []*SubRange{sr}
	}
	f := sr.Seg.Footer()
	stride := int64(f.IndexStride)
	if stride <= 0 {
		return []*SubRange{sr}
	}
	target := (total + int64(n) - 1) / int64(n)
	var out []*SubRange
	var cur ints.Intervals
	var acc int64
	emit := func() {
		if len(cur) == 0 {
			return
		}
		dup := *sr
		dup.Rows = cur
		out = append(out, &dup)
		cur = nil
		acc = 0
	}
	for _, iv := range sr.Rows {
		for row := iv.Start; row < iv.End; {
			next := (row/stride + 1) * stride
			if next > iv.End {
				next = iv.End
			}
			cur = append(cur, ints.Interval{Start: row, End: next})
			acc += next - row
			row = next
			if acc >= target && len(out) < n-1 && sr.cleanBoundary(row) {
				emit()
			}
		}
		// interval gaps are always clean boundaries
		if acc >= target && len(out) < n-1 {
			emit()
		}
	}
	emit()
	for i := range out {
		out[i].Rows.Compress()
	}
	return out
}

// cleanBoundary reports whether a cut before row
// separates two distinct keys. A cut inside a
// duplicate run would let two scanners emit the
// same key, breaking the merge tie-break.
func (sr *SubRange) cleanBoundary(row int64) bool {
	f := sr.Seg.Footer()
	stride := int64(f.IndexStride)
	if row%stride != 0 {
		return false
	}
	g := int(row / stride)
	if g == 0 || g >= len(f.KeyIndex) {
		return true
	}
	if len(f.KeyIndex) == 0 {
		return true
	}
	return !tupleEqual(f.KeyIndex[g-1].Last, f.KeyIndex[g].First)
}

// pickReplica orders the hosts of a scan range so
// the replica chosen by consistent hashing comes
// first. Hashing the tablet identity with the scan
// node's id keeps the choice stable for the query
// while spreading load across replicas.
func pickReplica(p *ScanRangeParams, nodeID uuid.UUID) {
	if len(p.Hosts) < 2 {
		return
	}
	k0 := uint64(p.TabletID)
	k1 := uint64(p.Version)
	best, bestHash := 0, uint64(0)
	for i, h := range p.Hosts {
		hash := siphash.Hash(k0, k1, append(nodeID[:], h...))
		if i == 0 || hash > bestHash {
			best, bestHash = i, hash
		}
	}
	p.Hosts[0], p.Hosts[best] = p.Hosts[best], p.Hosts[0]
}
