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

// Package ints provides half-open row intervals
// used by the scan layer to track which parts of a
// segment survive pruning.
package ints

import "golang.org/x/exp/slices"

// Interval is the half-open row range [Start, End).
type Interval struct {
	Start, End int64
}

// Intervals is a series of half-open intervals.
type Intervals []Interval

// Empty returns whether in covers no rows.
func (in Interval) Empty() bool { return in.Start >= in.End }

// Len returns the number of rows covered by in.
func (in Interval) Len() int64 {
	if in.Empty() {
		return 0
	}
	return in.End - in.Start
}

// Contains returns whether row r lies inside in.
func (in Interval) Contains(r int64) bool {
	return r >= in.Start && r < in.End
}

// Intersect returns the overlap of in and x; the
// result is empty when they are disjoint.
func (in Interval) Intersect(x Interval) Interval {
	out := in
	if x.Start > out.Start {
		out.Start = x.Start
	}
	if x.End < out.End {
		out.End = x.End
	}
	if out.Empty() {
		return Interval{}
	}
	return out
}

// Empty returns whether every interval in the
// series is empty.
func (in Intervals) Empty() bool {
	for i := range in {
		if !in[i].Empty() {
			return false
		}
	}
	return true
}

// Len returns the total number of rows covered.
func (in Intervals) Len() int64 {
	var n int64
	for i := range in {
		n += in[i].Len()
	}
	return n
}

// Compress sorts the series and merges adjacent
// and overlapping intervals, dropping empty ones.
func (in *Intervals) Compress() {
	out := (*in)[:0]
	slices.SortFunc(*in, func(a, b Interval) bool {
		if a.Start == b.Start {
			return a.End < b.End
		}
		return a.Start < b.Start
	})
	for _, iv := range *in {
		if iv.Empty() {
			continue
		}
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	*in = out
}

// Intersect returns the overlap of in and x,
// compressed.
func (in Intervals) Intersect(x Intervals) Intervals {
	var out Intervals
	for i := range in {
		for j := range x {
			if isect := in[i].Intersect(x[j]); !isect.Empty() {
				out = append(out, isect)
			}
		}
	}
	out.Compress()
	return out
}
