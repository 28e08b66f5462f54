// Copyright (c) 2024 The Lens Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package handle implements an index-stable slot allocator.
//
// A Table hands out small integer handles that stay valid until they are
// removed, while the values themselves live in a dense array so they can be
// handed to the kernel in one piece. Removing a slot moves the last live slot
// into the hole, so add and remove are O(1) (plus O(log n) for the free list)
// and positions are unstable. Handles are the only stable identity.
package handle

import (
	"container/heap"

	"github.com/panjf2000/lens/internal/toolkit"
	errorx "github.com/panjf2000/lens/pkg/errors"
)

// DefaultReserve is the initial capacity used when none is given.
const DefaultReserve = 8

// Table maps stable handles to positions in a dense slot array.
//
// For every pos < Len(): Idx(pos) >= 0 and Pos(Idx(pos)) == pos.
// Capacity only grows, by doubling.
type Table[T any] struct {
	slots    []T
	idxToPos []int
	posToIdx []int
	used     int
	next     int // lowest handle never issued
	free     freeList
}

// New creates a table able to hold reserve values before growing, reserve is
// rounded up to a power of two.
func New[T any](reserve int) *Table[T] {
	if reserve <= 0 {
		reserve = DefaultReserve
	}
	t := &Table[T]{}
	t.grow(toolkit.CeilToPowerOfTwo(reserve))
	return t
}

// Len returns the number of handles in use, which is also the length of the dense prefix.
func (t *Table[T]) Len() int {
	return t.used
}

// Cap returns the current capacity.
func (t *Table[T]) Cap() int {
	return len(t.slots)
}

// Add stores v in a fresh slot and binds it to the lowest free handle.
func (t *Table[T]) Add(v T) int {
	if t.used == len(t.slots) {
		t.grow(len(t.slots) << 1)
	}

	var idx int
	if t.free.Len() > 0 {
		idx = heap.Pop(&t.free).(int)
	} else {
		idx = t.next
		t.next++
	}

	pos := t.used
	t.slots[pos] = v
	t.idxToPos[idx] = pos
	t.posToIdx[pos] = idx
	t.used++
	return idx
}

// Remove releases idx, the last live slot takes over its position.
func (t *Table[T]) Remove(idx int) error {
	pos := t.Pos(idx)
	if pos < 0 {
		return errorx.ErrHandleRemoved
	}

	last := t.used - 1
	if pos != last {
		moved := t.posToIdx[last]
		t.slots[pos] = t.slots[last]
		t.posToIdx[pos] = moved
		t.idxToPos[moved] = pos
	}

	var zero T
	t.slots[last] = zero
	t.posToIdx[last] = -1
	t.idxToPos[idx] = -1
	t.used--
	heap.Push(&t.free, idx)
	return nil
}

// Get returns the value bound to idx.
func (t *Table[T]) Get(idx int) (v T, ok bool) {
	if pos := t.Pos(idx); pos >= 0 {
		return t.slots[pos], true
	}
	return
}

// Set replaces the value bound to idx in place.
func (t *Table[T]) Set(idx int, v T) error {
	pos := t.Pos(idx)
	if pos < 0 {
		return errorx.ErrInvalidHandle
	}
	t.slots[pos] = v
	return nil
}

// Ptr returns a pointer to the value bound to idx or nil, the pointer is
// invalidated by the next Add or Remove.
func (t *Table[T]) Ptr(idx int) *T {
	if pos := t.Pos(idx); pos >= 0 {
		return &t.slots[pos]
	}
	return nil
}

// Pos returns the current position of idx, -1 if idx is not in use.
func (t *Table[T]) Pos(idx int) int {
	if idx < 0 || idx >= len(t.idxToPos) {
		return -1
	}
	return t.idxToPos[idx]
}

// Idx returns the handle living at pos, -1 if the slot is free.
func (t *Table[T]) Idx(pos int) int {
	if pos < 0 || pos >= len(t.posToIdx) {
		return -1
	}
	return t.posToIdx[pos]
}

// At returns a pointer to the value at pos, nil past the live prefix.
func (t *Table[T]) At(pos int) *T {
	if pos < 0 || pos >= t.used {
		return nil
	}
	return &t.slots[pos]
}

// Slots returns the live prefix of the dense array. Values may be modified in
// place; the slice is invalidated by the next Add or Remove.
func (t *Table[T]) Slots() []T {
	return t.slots[:t.used]
}

// Range calls fn for every live slot in position order until fn returns false.
func (t *Table[T]) Range(fn func(idx int, v *T) bool) {
	for pos := 0; pos < t.used; pos++ {
		if !fn(t.posToIdx[pos], &t.slots[pos]) {
			return
		}
	}
}

func (t *Table[T]) grow(n int) {
	slots := make([]T, n)
	copy(slots, t.slots)
	t.slots = slots
	t.idxToPos = growIndex(t.idxToPos, n)
	t.posToIdx = growIndex(t.posToIdx, n)
}

func growIndex(s []int, n int) []int {
	ns := make([]int, n)
	copy(ns, s)
	for i := len(s); i < n; i++ {
		ns[i] = -1
	}
	return ns
}

// freeList is a min-heap of released handles.
type freeList []int

func (h freeList) Len() int           { return len(h) }
func (h freeList) Less(i, j int) bool { return h[i] < h[j] }
func (h freeList) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *freeList) Push(x interface{}) {
	*h = append(*h, x.(int))
}

func (h *freeList) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
