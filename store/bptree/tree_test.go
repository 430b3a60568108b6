// Copyright 2025 the chunkstore authors
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

package bptree

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var src = rand.New(rand.NewSource(0))

func TestTree(t *testing.T) {
	t.Run("ascending keys", func(t *testing.T) {
		testTree(t, 2, ascendingInts(512))
	})
	t.Run("random keys small degree", func(t *testing.T) {
		testTree(t, 2, randomInts((src.Int63()%10_000)+100))
	})
	t.Run("random keys large degree", func(t *testing.T) {
		testTree(t, 100, randomInts(10_000))
	})
	t.Run("random byte keys", func(t *testing.T) {
		testTree(t, 4, randomVals((src.Int63()%10_000)+100))
	})
	t.Run("custom compare function", func(t *testing.T) {
		compare := func(left, right []byte) int {
			l := int64(binary.LittleEndian.Uint64(left))
			r := int64(binary.LittleEndian.Uint64(right))
			switch {
			case l < r:
				return -1
			case l > r:
				return 1
			default:
				return 0
			}
		}
		tr := NewTree(3, compare)
		vals := randomInts(1000)
		for _, v := range vals {
			tr.Put(v, v)
		}
		for _, v := range vals {
			act, ok := tr.Get(v)
			assert.True(t, ok)
			assert.Equal(t, v, act)
		}
	})
}

func testTree(t *testing.T, degree int, vals [][]byte) {
	vals = dedupe(vals)
	src.Shuffle(len(vals), func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})
	tree := NewTree(degree, nil)
	for _, v := range vals {
		tree.Put(v, v)
	}

	t.Run("count", func(t *testing.T) {
		assert.Equal(t, len(vals), tree.Count())
	})
	t.Run("gets", func(t *testing.T) {
		testTreeGets(t, tree, vals...)
	})
	t.Run("updates", func(t *testing.T) {
		testTreeUpdates(t, tree, vals...)
	})
	t.Run("iter", func(t *testing.T) {
		testTreeIter(t, tree, vals...)
	})
	t.Run("deletes", func(t *testing.T) {
		testTreeDeletes(t, tree, vals...)
	})
}

func testTreeGets(t *testing.T, tree *Tree, vals ...[]byte) {
	src.Shuffle(len(vals), func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})
	for _, exp := range vals {
		act, ok := tree.Get(exp)
		assert.True(t, ok)
		assert.Equal(t, exp, act)
	}

	// absent key
	act, ok := tree.Get([]byte("key not in the tree"))
	assert.False(t, ok)
	assert.Nil(t, act)
	assert.False(t, tree.Has([]byte("key not in the tree")))
}

func testTreeUpdates(t *testing.T, tree *Tree, vals ...[]byte) {
	v2 := []byte("789")
	for _, v := range vals {
		tree.Put(v, v2)
	}
	assert.Equal(t, len(vals), tree.Count())

	for _, exp := range vals {
		act, ok := tree.Get(exp)
		assert.True(t, ok)
		assert.Equal(t, v2, act)
	}

	// restore original values
	for _, v := range vals {
		tree.Put(v, v)
	}
}

func testTreeIter(t *testing.T, tree *Tree, vals ...[]byte) {
	sorted := make([][]byte, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	idx := 0
	iter := tree.IterAtStart()
	key, val := iter.Current()
	for key != nil {
		require.Less(t, idx, len(sorted))
		assert.Equal(t, sorted[idx], key)
		assert.Equal(t, sorted[idx], val)
		idx++
		iter.Advance()
		key, val = iter.Current()
	}
	assert.Equal(t, len(sorted), idx)
}

func testTreeDeletes(t *testing.T, tree *Tree, vals ...[]byte) {
	src.Shuffle(len(vals), func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})

	// delete the first half, verify the rest survives
	half := len(vals) / 2
	for _, v := range vals[:half] {
		assert.True(t, tree.Delete(v))
	}
	assert.Equal(t, len(vals)-half, tree.Count())

	for _, v := range vals[:half] {
		assert.False(t, tree.Has(v))
		assert.False(t, tree.Delete(v)) // double delete is a no-op
	}
	for _, v := range vals[half:] {
		act, ok := tree.Get(v)
		assert.True(t, ok)
		assert.Equal(t, v, act)
	}

	// delete everything
	for _, v := range vals[half:] {
		assert.True(t, tree.Delete(v))
	}
	assert.Equal(t, 0, tree.Count())
	k, _ := tree.IterAtStart().Current()
	assert.Nil(t, k)

	// tree remains usable after total deletion
	for _, v := range vals {
		tree.Put(v, v)
	}
	assert.Equal(t, len(vals), tree.Count())
}

func TestTreeSmall(t *testing.T) {
	tree := NewTree(2, nil)
	for i := byte(1); i < 6; i++ {
		tree.Put([]byte{i}, []byte{i})
	}
	for i := byte(1); i < 6; i++ {
		v, ok := tree.Get([]byte{i})
		assert.True(t, ok)
		assert.Equal(t, []byte{i}, v)
	}
}

func TestTreeRepeatedOverwrites(t *testing.T) {
	tree := NewTree(2, nil)
	for i := byte(1); i < 100; i++ {
		tree.Put([]byte{i}, []byte{1})
	}
	for i := byte(1); i < 100; i++ {
		for j := byte(1); j < 100; j++ {
			tree.Put([]byte{i}, []byte{j})
		}
	}
	assert.Equal(t, 99, tree.Count())
	for i := byte(1); i < 100; i++ {
		v, ok := tree.Get([]byte{i})
		require.True(t, ok)
		assert.Equal(t, []byte{99}, v)
	}
}

func TestTreeDegreePanics(t *testing.T) {
	assert.Panics(t, func() { NewTree(1, nil) })
	assert.Panics(t, func() { NewTree(2, nil).Put(nil, nil) })
}

func dedupe(vals [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(vals))
	out := vals[:0]
	for _, v := range vals {
		if _, ok := seen[string(v)]; !ok {
			seen[string(v)] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func randomVals(cnt int64) (vals [][]byte) {
	vals = make([][]byte, cnt)
	for i := range vals {
		bb := make([]byte, (src.Int63()%91)+10)
		src.Read(bb)
		vals[i] = bb
	}
	return
}

func randomInts(cnt int64) (vals [][]byte) {
	vals = make([][]byte, cnt)
	for i := range vals {
		vals[i] = make([]byte, 8)
		v := uint64(src.Int63())
		binary.LittleEndian.PutUint64(vals[i], v)
	}
	return
}

func ascendingInts(cnt int64) (vals [][]byte) {
	vals = make([][]byte, cnt)
	for i := range vals {
		vals[i] = make([]byte, 8)
		binary.BigEndian.PutUint64(vals[i], uint64(i))
	}
	return
}
