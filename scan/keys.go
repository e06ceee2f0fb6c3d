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
	"github.com/SnellerInc/strata/value"
)

// cmpTuple compares two key tuples. A missing
// suffix ranks below any concrete value when the
// tuple is a start bound (-inf) and above it when
// the tuple is an end bound (+inf).
func cmpTuple(a []value.Value, aEnd bool, b []value.Value, bEnd bool) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := value.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) == len(b):
		return 0
	case len(a) < len(b):
		if aEnd {
			return 1
		}
		return -1
	default:
		if bEnd {
			return -1
		}
		return 1
	}
}

func tupleEqual(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if value.Compare(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

// Keys is the composed scan key: parallel lists of
// start and end key prefixes. Fixed ranges extend
// every prefix by cross product; the first
// interval range contributes its bounds and stops
// further extension, leaving the suffix to
// residual evaluation.
type Keys struct {
	starts, ends [][]value.Value
	beginClosed  bool
	endClosed    bool
}

// DefaultMaxScanKeys caps the fixed-value cross
// product; ranges beyond the cap stay residual.
const DefaultMaxScanKeys = 1024

// BuildKeys composes the scan key from normalized
// ranges following the table key order.
func BuildKeys(norm *Normalized, keyColumns []uint32, maxKeys int) *Keys {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxScanKeys
	}
	k := &Keys{
		starts:      [][]value.Value{nil},
		ends:        [][]value.Value{nil},
		beginClosed: true,
		endClosed:   true,
	}
	for _, id := range keyColumns {
		r := norm.Range(id)
		if r == nil || r.Empty() || r.Full() {
			break
		}
		if r.IsFixed() {
			vs := r.FixedValues()
			if len(k.starts)*len(vs) > maxKeys {
				break
			}
			nstarts := make([][]value.Value, 0, len(k.starts)*len(vs))
			nends := make([][]value.Value, 0, len(k.ends)*len(vs))
			for i := range k.starts {
				for _, v := range vs {
					nstarts = append(nstarts, appendKey(k.starts[i], v))
					nends = append(nends, appendKey(k.ends[i], v))
				}
			}
			k.starts, k.ends = nstarts, nends
			continue
		}
		lo, hi, hasLo, hasHi, loClosed, hiClosed := r.Bounds()
		if hasLo {
			for i := range k.starts {
				k.starts[i] = appendKey(k.starts[i], lo)
			}
			k.beginClosed = loClosed
		}
		if hasHi {
			for i := range k.ends {
				k.ends[i] = appendKey(k.ends[i], hi)
			}
			k.endClosed = hiClosed
		}
		break
	}
	return k
}

func appendKey(prefix []value.Value, v value.Value) []value.Value {
	out := make([]value.Value, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = v
	return out
}

// Len returns the length of the longest composed
// key prefix.
func (k *Keys) Len() int {
	n := 0
	for i := range k.starts {
		if len(k.starts[i]) > n {
			n = len(k.starts[i])
		}
	}
	for i := range k.ends {
		if len(k.ends[i]) > n {
			n = len(k.ends[i])
		}
	}
	return n
}

// Count returns the number of composed key ranges.
func (k *Keys) Count() int { return len(k.starts) }

// Trivial returns whether the scan key constrains
// nothing.
func (k *Keys) Trivial() bool {
	return len(k.starts) == 1 && len(k.starts[0]) == 0 && len(k.ends[0]) == 0
}

// Overlaps returns whether any composed key range
// intersects the inclusive tablet range
// [start, end].
func (k *Keys) Overlaps(start, end []value.Value) bool {
	if k.Trivial() {
		return true
	}
	for i := range k.starts {
		if overlaps(k.starts[i], k.beginClosed, k.ends[i], k.endClosed, start, end) {
			return true
		}
	}
	return false
}

// overlaps intersects the key range [s, e) / [s, e]
// per the closed flags with the inclusive range
// [start, end].
func overlaps(s []value.Value, sClosed bool, e []value.Value, eClosed bool, start, end []value.Value) bool {
	// key start beyond tablet end?
	if c := cmpTuple(s, false, end, true); c > 0 || (c == 0 && !sClosed) {
		return false
	}
	// tablet start beyond key end?
	if c := cmpTuple(start, false, e, true); c > 0 || (c == 0 && !eClosed) {
		return false
	}
	return true
}

// bounds of one composed key range, for sub-range
// intersection.
func (k *Keys) bounds(i int) (start, end []value.Value, startClosed, endClosed bool) {
	return k.starts[i], k.ends[i], k.beginClosed, k.endClosed
}
