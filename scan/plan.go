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
	"github.com/SnellerInc/strata/column"
	"github.com/SnellerInc/strata/segment"
	"github.com/SnellerInc/strata/value"
)

// Plan is the scan node's input from the planner.
// Thrift deserialization happens upstream; this is
// the already-decoded form.
type Plan struct {
	// TupleID identifies the output tuple layout.
	TupleID int
	// Schema lists the output tuple's fields; the
	// slot of a field is its index.
	Schema *column.Schema
	// KeyColumns is the table key order, most
	// significant first (field unique ids).
	KeyColumns []uint32
	// Conjuncts is the flat conjunction over the
	// tuple's slots.
	Conjuncts []Conjunct
	// SortColumn, when IsResultOrder is set, names
	// the column the caller wants results ordered
	// by; it must be the table's first key column.
	SortColumn string
	// IsResultOrder selects the sort-preserving
	// merge instead of free-order delivery.
	IsResultOrder bool
}

// ScanRangeParams addresses one tablet I/O unit.
type ScanRangeParams struct {
	TabletID int64
	Version  int64
	// StartKey and EndKey bound the tablet's key
	// space, inclusive; empty tuples are
	// unbounded.
	StartKey []value.Value
	EndKey   []value.Value
	// Hosts lists the replicas carrying the
	// tablet. The node reorders it so the chosen
	// replica comes first before handing the
	// params to the SegmentSource.
	Hosts []string
}

// SegmentSource resolves a scan range to its
// segment image. It abstracts the storage engine;
// tests back it with in-memory segments.
type SegmentSource interface {
	Open(params ScanRangeParams) (*segment.Reader, error)
}
