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

package ints

import (
	"reflect"
	"testing"
)

func TestCompress(t *testing.T) {
	in := Intervals{{8, 12}, {0, 4}, {3, 6}, {12, 12}, {20, 30}}
	in.Compress()
	want := Intervals{{0, 6}, {8, 12}, {20, 30}}
	if !reflect.DeepEqual(in, want) {
		t.Fatalf("got %v want %v", in, want)
	}
	if in.Len() != 20 {
		t.Fatalf("len: %d", in.Len())
	}
}

func TestIntersect(t *testing.T) {
	a := Intervals{{0, 10}, {20, 30}}
	b := Intervals{{5, 25}}
	got := a.Intersect(b)
	want := Intervals{{5, 10}, {20, 25}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if !a.Intersect(Intervals{{50, 60}}).Empty() {
		t.Fatal("expected empty intersection")
	}
}
