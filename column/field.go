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

// Package column implements the per-type column
// decoders that turn segment streams back into
// typed values, and the matching write path used
// to produce segments.
package column

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/strata/value"
)

var (
	// ErrBufferOverflow is returned when decoded
	// data exceeds its declared bounds: a
	// dictionary code out of range or a string
	// longer than the column's max length.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrSchema is returned at open when a segment
	// cannot satisfy the schema, e.g. a
	// non-nullable column that is absent from the
	// segment and has no default value.
	ErrSchema = errors.New("schema error")

	// ErrUnsupportedType is returned for STRUCT,
	// LIST and MAP columns.
	ErrUnsupportedType = errors.New("unsupported column type")

	// ErrNotInited is returned when a reader is
	// used before Init.
	ErrNotInited = errors.New("reader not initialized")
)

// Field describes one column of a table schema.
type Field struct {
	Name     string
	ID       uint32 // column unique id
	Type     value.Type
	Nullable bool
	// MaxLength bounds CHAR/VARCHAR payloads;
	// zero means unbounded.
	MaxLength uint32
	// HasDefault indicates Default carries the
	// textual default value; the literal "NULL"
	// on a nullable column means a NULL default.
	HasDefault bool
	Default    string
	// SubColumns lists the unique ids of dependent
	// columns decoded alongside this one.
	SubColumns []uint32
}

// Schema is an ordered list of fields. The slot of
// a field is its index.
type Schema struct {
	Fields []Field
}

// ByID returns the field with the given unique id
// and its slot.
func (s *Schema) ByID(id uint32) (*Field, int, bool) {
	for i := range s.Fields {
		if s.Fields[i].ID == id {
			return &s.Fields[i], i, true
		}
	}
	return nil, -1, false
}

// ByName returns the field with the given name and
// its slot.
func (s *Schema) ByName(name string) (*Field, int, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], i, true
		}
	}
	return nil, -1, false
}

// Validate checks that every field has a distinct
// id and a supported or explicitly unsupported
// type tag.
func (s *Schema) Validate() error {
	seen := make(map[uint32]struct{}, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if _, ok := seen[f.ID]; ok {
			return fmt.Errorf("%w: duplicate column id %d", ErrSchema, f.ID)
		}
		seen[f.ID] = struct{}{}
		if f.Type == value.None {
			return fmt.Errorf("%w: column %q has no type", ErrSchema, f.Name)
		}
	}
	return nil
}

// Row is one output tuple; each slot holds the
// decoded value of the schema field at the same
// index.
type Row []value.Value
