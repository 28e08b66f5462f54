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

package handle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorx "github.com/panjf2000/lens/pkg/errors"
)

func checkInvariants(t *testing.T, tbl *Table[string]) {
	t.Helper()
	require.LessOrEqual(t, tbl.Len(), tbl.Cap())
	for pos := 0; pos < tbl.Cap(); pos++ {
		idx := tbl.Idx(pos)
		if pos < tbl.Len() {
			require.GreaterOrEqualf(t, idx, 0, "live slot %d has no handle", pos)
			require.Equalf(t, pos, tbl.Pos(idx), "handle %d does not point back to %d", idx, pos)
		} else {
			require.Equalf(t, -1, idx, "free slot %d still bound", pos)
		}
	}
	live := 0
	for idx := 0; idx < tbl.Cap(); idx++ {
		if pos := tbl.Pos(idx); pos >= 0 {
			live++
			require.Less(t, pos, tbl.Len())
			require.Equal(t, idx, tbl.Idx(pos))
		}
	}
	require.Equal(t, tbl.Len(), live)
}

func TestTableReserve(t *testing.T) {
	assert.Equal(t, DefaultReserve, New[int](0).Cap())
	assert.Equal(t, 2, New[int](1).Cap())
	assert.Equal(t, 16, New[int](9).Cap())
}

func TestTableAddRemove(t *testing.T) {
	tbl := New[string](4)
	a := tbl.Add("a")
	b := tbl.Add("b")
	c := tbl.Add("c")
	assert.Equal(t, []int{0, 1, 2}, []int{a, b, c})
	checkInvariants(t, tbl)

	// Removing the first slot moves the last one into its position.
	require.NoError(t, tbl.Remove(a))
	assert.Equal(t, 0, tbl.Pos(c))
	assert.Equal(t, 1, tbl.Pos(b))
	assert.Equal(t, []string{"c", "b"}, tbl.Slots())
	checkInvariants(t, tbl)

	v, ok := tbl.Get(c)
	assert.True(t, ok)
	assert.Equal(t, "c", v)
	_, ok = tbl.Get(a)
	assert.False(t, ok)

	// The lowest freed handle is reused first.
	d := tbl.Add("d")
	assert.Equal(t, a, d)
	assert.Equal(t, 2, tbl.Pos(d))
	checkInvariants(t, tbl)
}

func TestTableRemoveErrors(t *testing.T) {
	tbl := New[string](2)
	idx := tbl.Add("x")
	require.NoError(t, tbl.Remove(idx))
	assert.ErrorIs(t, tbl.Remove(idx), errorx.ErrHandleRemoved)
	assert.ErrorIs(t, tbl.Remove(7), errorx.ErrHandleRemoved)
	assert.ErrorIs(t, tbl.Remove(-1), errorx.ErrHandleRemoved)
	assert.ErrorIs(t, tbl.Set(idx, "y"), errorx.ErrInvalidHandle)
	assert.Nil(t, tbl.Ptr(idx))
	assert.Nil(t, tbl.At(0))
}

func TestTableGrowPreservesAssociations(t *testing.T) {
	tbl := New[string](2)
	handles := make(map[int]string)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		handles[tbl.Add(s)] = s
	}
	assert.Equal(t, 8, tbl.Cap())
	for idx, s := range handles {
		v, ok := tbl.Get(idx)
		require.True(t, ok)
		assert.Equal(t, s, v)
	}
	for pos := tbl.Len(); pos < tbl.Cap(); pos++ {
		assert.Equal(t, -1, tbl.Idx(pos))
		assert.Equal(t, -1, tbl.Pos(pos))
	}
	checkInvariants(t, tbl)
}

func TestTableSetAndPtr(t *testing.T) {
	tbl := New[string](2)
	idx := tbl.Add("old")
	require.NoError(t, tbl.Set(idx, "new"))
	p := tbl.Ptr(idx)
	require.NotNil(t, p)
	assert.Equal(t, "new", *p)
	*p = "newer"
	assert.Equal(t, "newer", *tbl.At(0))

	var seen []int
	tbl.Add("other")
	tbl.Range(func(idx int, v *string) bool {
		seen = append(seen, idx)
		return true
	})
	assert.Equal(t, []int{0, 1}, seen)
}

func TestTableRandomChurn(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	tbl := New[string](2)
	live := make(map[int]string)
	maxCap := tbl.Cap()
	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rnd.Intn(3) > 0 {
			s := string(rune('a' + i%26))
			idx := tbl.Add(s)
			_, dup := live[idx]
			require.Falsef(t, dup, "handle %d issued twice", idx)
			live[idx] = s
		} else {
			for idx := range live {
				require.NoError(t, tbl.Remove(idx))
				delete(live, idx)
				break
			}
		}
		require.GreaterOrEqual(t, tbl.Cap(), maxCap, "capacity shrank")
		maxCap = tbl.Cap()
		if i%50 == 0 {
			checkInvariants(t, tbl)
		}
	}
	checkInvariants(t, tbl)
	for idx, s := range live {
		v, ok := tbl.Get(idx)
		require.True(t, ok)
		assert.Equal(t, s, v)
	}
}
