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

// Package value defines the logical column types of
// the scan core and a tagged value representation
// shared by the column decoders, the predicate
// ranges, and the scan keys.
package value

import "math"

// Type is the logical type of a column.
type Type uint8

const (
	None Type = iota
	Bool
	Tiny
	UTiny
	Small
	USmall
	Int
	UInt
	BigInt
	UBigInt
	LargeInt
	Float
	Double
	DiscreteDouble
	Date
	DateTime
	Decimal
	Char
	Varchar
	HLL
	Struct
	List
	Map
)

var typeNames = [...]string{
	None:           "NONE",
	Bool:           "BOOLEAN",
	Tiny:           "TINYINT",
	UTiny:          "UNSIGNED_TINYINT",
	Small:          "SMALLINT",
	USmall:         "UNSIGNED_SMALLINT",
	Int:            "INT",
	UInt:           "UNSIGNED_INT",
	BigInt:         "BIGINT",
	UBigInt:        "UNSIGNED_BIGINT",
	LargeInt:       "LARGEINT",
	Float:          "FLOAT",
	Double:         "DOUBLE",
	DiscreteDouble: "DISCRETE_DOUBLE",
	Date:           "DATE",
	DateTime:       "DATETIME",
	Decimal:        "DECIMAL",
	Char:           "CHAR",
	Varchar:        "VARCHAR",
	HLL:            "HLL",
	Struct:         "STRUCT",
	List:           "LIST",
	Map:            "MAP",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// Integer returns whether t is one of the
// fixed-width integer types (LARGEINT excluded).
func (t Type) Integer() bool {
	switch t {
	case Tiny, UTiny, Small, USmall, Int, UInt, BigInt, UBigInt:
		return true
	}
	return false
}

// Unsigned returns whether t is an unsigned
// integer type.
func (t Type) Unsigned() bool {
	switch t {
	case UTiny, USmall, UInt, UBigInt:
		return true
	}
	return false
}

// Stringlike returns whether values of t carry a
// variable-length byte payload.
func (t Type) Stringlike() bool {
	switch t {
	case Char, Varchar, HLL:
		return true
	}
	return false
}

// Supported returns whether the scan core can
// decode columns of this type. STRUCT, LIST and
// MAP columns exist in schemas but cannot be
// scanned.
func (t Type) Supported() bool {
	switch t {
	case Struct, List, Map, None:
		return false
	}
	return true
}

// Domain returns the inclusive [min, max] domain
// of an integer type. min is meaningful as a
// signed value, max as an unsigned one.
func (t Type) Domain() (min int64, max uint64) {
	switch t {
	case Tiny:
		return math.MinInt8, math.MaxInt8
	case UTiny:
		return 0, math.MaxUint8
	case Small:
		return math.MinInt16, math.MaxInt16
	case USmall:
		return 0, math.MaxUint16
	case Int:
		return math.MinInt32, math.MaxInt32
	case UInt:
		return 0, math.MaxUint32
	case BigInt:
		return math.MinInt64, math.MaxInt64
	case UBigInt:
		return 0, math.MaxUint64
	}
	return 0, 0
}
