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

package heap

import (
	"math/rand"
	"slices"
	"testing"
)

func TestHeap(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	var x []int
	for i := 0; i < 1000; i++ {
		Push(&x, rand.Int(), less)
	}
	sorted := make([]int, 0, len(x))
	for len(x) > 0 {
		sorted = append(sorted, Pop(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatal("not sorted")
	}
}

func TestHeapFix(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	x := []int{9, 3, 7, 1, 8, 2, 6}
	Order(x, less)
	x[0] = 100
	Fix(x, 0, less)
	var sorted []int
	for len(x) > 0 {
		sorted = append(sorted, Pop(&x, less))
	}
	if !slices.IsSorted(sorted) {
		t.Fatalf("not sorted after Fix: %v", sorted)
	}
}
