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

package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a single typed column value. The zero
// Value has type None.
//
// Decimal values keep nine fractional digits
// (the int part in the primary word, the scaled
// fraction in the secondary one); LARGEINT values
// keep the high 64 bits in the primary word and
// the low 64 bits in the secondary one.
type Value struct {
	T    Type
	null bool
	bits uint64 // primary word (bit-cast per type)
	aux  uint64 // secondary word (largeint lo, decimal frac)
	str  []byte // CHAR/VARCHAR/HLL payload
}

// FracDigits is the number of decimal fraction
// digits kept by DECIMAL values.
const FracDigits = 9

// fracUnit is 10^FracDigits.
const fracUnit = 1_000_000_000

// Null returns the NULL value of type t.
func Null(t Type) Value { return Value{T: t, null: true} }

// Int64 returns a signed integer, DATE or DATETIME
// value of type t.
func Int64(t Type, v int64) Value { return Value{T: t, bits: uint64(v)} }

// Uint64 returns an unsigned integer value of type t.
func Uint64(t Type, v uint64) Value { return Value{T: t, bits: v} }

// Float64 returns a FLOAT, DOUBLE or DISCRETE_DOUBLE
// value of type t.
func Float64(t Type, v float64) Value { return Value{T: t, bits: math.Float64bits(v)} }

// NewDecimal returns a DECIMAL value from an
// integer part and a fraction scaled to
// FracDigits digits. The fraction carries the
// same sign as the value.
func NewDecimal(intPart int64, frac int32) Value {
	return Value{T: Decimal, bits: uint64(intPart), aux: uint64(int64(frac))}
}

// NewLargeInt returns a LARGEINT (128-bit) value
// from its high and low halves.
func NewLargeInt(hi int64, lo uint64) Value {
	return Value{T: LargeInt, bits: uint64(hi), aux: lo}
}

// Bytes returns a string-like value of type t
// holding buf. The buffer is not copied.
func Bytes(t Type, buf []byte) Value { return Value{T: t, str: buf} }

// String returns a string-like value of type t.
func String(t Type, s string) Value { return Value{T: t, str: []byte(s)} }

// IsNull returns whether v is NULL.
func (v Value) IsNull() bool { return v.null }

// Int64 returns the primary word as a signed integer.
func (v Value) Int64() int64 { return int64(v.bits) }

// Uint64 returns the primary word as an unsigned integer.
func (v Value) Uint64() uint64 { return v.bits }

// Float64 returns the value as a float64.
func (v Value) Float64() float64 { return math.Float64frombits(v.bits) }

// DecimalParts returns the integer part and the
// scaled fraction of a DECIMAL value.
func (v Value) DecimalParts() (intPart int64, frac int32) {
	return int64(v.bits), int32(int64(v.aux))
}

// Int128 returns the high and low halves of a
// LARGEINT value.
func (v Value) Int128() (hi int64, lo uint64) { return int64(v.bits), v.aux }

// Payload returns the byte payload of a
// string-like value.
func (v Value) Payload() []byte { return v.str }

// Time converts a DATE or DATETIME value into a
// UTC time.Time.
func (v Value) Time() time.Time {
	if v.T == Date {
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(int64(v.bits)))
	}
	return time.Unix(int64(v.bits), 0).UTC()
}

// FromTime returns a DATE or DATETIME value of
// type t for the instant tm.
func FromTime(t Type, tm time.Time) Value {
	tm = tm.UTC()
	if t == Date {
		days := tm.Unix() / 86400
		if tm.Unix() < 0 && tm.Unix()%86400 != 0 {
			days--
		}
		return Int64(Date, days)
	}
	return Int64(DateTime, tm.Unix())
}

// Compare compares v against u, which must have a
// type in the same family. It returns -1, 0 or +1.
// NULL orders before every non-NULL value.
func Compare(v, u Value) int {
	if v.null || u.null {
		switch {
		case v.null && u.null:
			return 0
		case v.null:
			return -1
		default:
			return 1
		}
	}
	switch {
	case v.T.Unsigned():
		return cmpOrdered(v.bits, u.bits)
	case v.T.Integer() || v.T == Date || v.T == DateTime || v.T == Bool:
		return cmpOrdered(int64(v.bits), int64(u.bits))
	case v.T == Float || v.T == Double || v.T == DiscreteDouble:
		return cmpOrdered(v.Float64(), u.Float64())
	case v.T == Decimal:
		if c := cmpOrdered(int64(v.bits), int64(u.bits)); c != 0 {
			return c
		}
		return cmpOrdered(int64(v.aux), int64(u.aux))
	case v.T == LargeInt:
		if c := cmpOrdered(int64(v.bits), int64(u.bits)); c != 0 {
			return c
		}
		return cmpOrdered(v.aux, u.aux)
	case v.T.Stringlike():
		return bytes.Compare(v.str, u.str)
	}
	return 0
}

func cmpOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether v and u compare equal.
func Equal(v, u Value) bool { return Compare(v, u) == 0 }

// String renders the value the way pushdown filter
// operands are rendered on the wire.
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch {
	case v.T.Unsigned():
		return strconv.FormatUint(v.bits, 10)
	case v.T.Integer() || v.T == Bool:
		return strconv.FormatInt(int64(v.bits), 10)
	case v.T == Float || v.T == Double || v.T == DiscreteDouble:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case v.T == Decimal:
		i, f := v.DecimalParts()
		neg := ""
		if i < 0 || f < 0 {
			neg, i = "-", -i
			f = -f
		}
		if i < 0 { // was MinInt64; fall back to raw parts
			return fmt.Sprintf("%d.%09d", v.Int64(), f)
		}
		return fmt.Sprintf("%s%d.%09d", neg, i, f)
	case v.T == LargeInt:
		hi, lo := v.Int128()
		if hi == 0 {
			return strconv.FormatUint(lo, 10)
		}
		if hi == -1 && lo > math.MaxInt64 {
			return strconv.FormatInt(int64(lo), 10)
		}
		return fmt.Sprintf("0x%x%016x", hi, lo)
	case v.T == Date:
		return v.Time().Format("2006-01-02")
	case v.T == DateTime:
		return v.Time().Format("2006-01-02 15:04:05")
	case v.T.Stringlike():
		return string(v.str)
	}
	return "<none>"
}

// Parse parses the textual representation of a
// value of type t. It is used for schema default
// values and pushdown filter operands.
func Parse(t Type, s string) (Value, error) {
	switch {
	case t.Unsigned():
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s %q: %w", t, s, err)
		}
		if _, max := t.Domain(); u > max {
			return Value{}, fmt.Errorf("parse %s %q: out of range", t, s)
		}
		return Uint64(t, u), nil
	case t.Integer() || t == Bool:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s %q: %w", t, s, err)
		}
		if min, max := t.Domain(); t != Bool && (i < min || (i > 0 && uint64(i) > max)) {
			return Value{}, fmt.Errorf("parse %s %q: out of range", t, s)
		}
		return Int64(t, i), nil
	case t == Float || t == Double || t == DiscreteDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s %q: %w", t, s, err)
		}
		return Float64(t, f), nil
	case t == Decimal:
		return parseDecimal(s)
	case t == Date:
		tm, err := time.Parse("2006-01-02", s)
		if err != nil {
			return Value{}, fmt.Errorf("parse DATE %q: %w", s, err)
		}
		return FromTime(Date, tm), nil
	case t == DateTime:
		tm, err := time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return Value{}, fmt.Errorf("parse DATETIME %q: %w", s, err)
		}
		return FromTime(DateTime, tm), nil
	case t.Stringlike():
		return String(t, s), nil
	}
	return Value{}, fmt.Errorf("parse: unsupported type %s", t)
}

func parseDecimal(s string) (Value, error) {
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")
	intStr, fracStr, _ := strings.Cut(body, ".")
	if intStr == "" {
		intStr = "0"
	}
	i, err := strconv.ParseInt(intStr, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parse DECIMAL %q: %w", s, err)
	}
	var frac int64
	if fracStr != "" {
		if len(fracStr) > FracDigits {
			fracStr = fracStr[:FracDigits]
		}
		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse DECIMAL %q: %w", s, err)
		}
		for n := len(fracStr); n < FracDigits; n++ {
			frac *= 10
		}
	}
	if neg {
		i, frac = -i, -frac
	}
	return NewDecimal(i, int32(frac)), nil
}

// AppendBinary appends a compact binary rendering
// of v to dst. The encoding is self-delimiting
// given the type, so it can be decoded back with
// DecodeBinary. It is used by the segment footer
// for key index entries.
func (v Value) AppendBinary(dst []byte) []byte {
	dst = append(dst, byte(v.T))
	if v.null {
		return append(dst, 1)
	}
	dst = append(dst, 0)
	switch {
	case v.T.Stringlike():
		dst = binary.AppendUvarint(dst, uint64(len(v.str)))
		dst = append(dst, v.str...)
	case v.T == Decimal || v.T == LargeInt:
		dst = binary.LittleEndian.AppendUint64(dst, v.bits)
		dst = binary.LittleEndian.AppendUint64(dst, v.aux)
	default:
		dst = binary.LittleEndian.AppendUint64(dst, v.bits)
	}
	return dst
}

// DecodeBinary decodes a value previously encoded
// with AppendBinary and returns the remaining bytes.
func DecodeBinary(src []byte) (Value, []byte, error) {
	if len(src) < 2 {
		return Value{}, nil, fmt.Errorf("value: truncated encoding")
	}
	v := Value{T: Type(src[0]), null: src[1] == 1}
	src = src[2:]
	if v.null {
		return v, src, nil
	}
	switch {
	case v.T.Stringlike():
		n, sz := binary.Uvarint(src)
		if sz <= 0 || uint64(len(src)-sz) < n {
			return Value{}, nil, fmt.Errorf("value: truncated string payload")
		}
		v.str = append([]byte(nil), src[sz:sz+int(n)]...)
		return v, src[sz+int(n):], nil
	case v.T == Decimal || v.T == LargeInt:
		if len(src) < 16 {
			return Value{}, nil, fmt.Errorf("value: truncated 128-bit payload")
		}
		v.bits = binary.LittleEndian.Uint64(src)
		v.aux = binary.LittleEndian.Uint64(src[8:])
		return v, src[16:], nil
	default:
		if len(src) < 8 {
			return Value{}, nil, fmt.Errorf("value: truncated payload")
		}
		v.bits = binary.LittleEndian.Uint64(src)
		return v, src[8:], nil
	}
}
