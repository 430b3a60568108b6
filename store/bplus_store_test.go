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

package store

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
)

func randChunk(src *rand.Rand, n int) chunks.Chunk {
	data := make([]byte, n)
	src.Read(data)
	return chunks.NewChunk(data)
}

func TestBPlusStoreRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := rand.New(rand.NewSource(11))

	s, err := NewBPlusStore(ctx, dir, WithMaxSegmentSize(8*1024))
	require.NoError(t, err)

	expect := make(map[hash.Hash][]byte)
	var deleted hash.Hash
	for i := 0; i < 64; i++ {
		c := randChunk(src, 256+src.Intn(1024))
		require.NoError(t, s.Insert(ctx, c))
		expect[c.Hash()] = c.Data()
		deleted = c.Hash()
	}
	require.NoError(t, s.Delete(ctx, deleted))
	delete(expect, deleted)
	require.NoError(t, s.Close())

	s, err = NewBPlusStore(ctx, dir, WithMaxSegmentSize(8*1024))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, len(expect), s.Count())
	for key, data := range expect {
		act, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, act.Data())
	}

	// the tombstone survives the reopen
	_, err = s.Get(ctx, deleted)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBPlusStoreOverwriteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := hash.Of([]byte("k"))

	s, err := NewBPlusStore(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, chunks.NewChunkWithHash(key, []byte("old"))))
	require.NoError(t, s.Insert(ctx, chunks.NewChunkWithHash(key, []byte("new"))))
	require.NoError(t, s.Close())

	s, err = NewBPlusStore(ctx, dir)
	require.NoError(t, err)
	defer s.Close()

	act, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), act.Data())
	assert.Equal(t, 1, s.Count())
}

func TestBPlusStoreCompact(t *testing.T) {
	ctx := context.Background()
	src := rand.New(rand.NewSource(13))

	s, err := NewBPlusStore(ctx, t.TempDir(), WithMaxSegmentSize(4*1024))
	require.NoError(t, err)
	defer s.Close()

	live := make(map[hash.Hash][]byte)
	var keys []hash.Hash
	for i := 0; i < 64; i++ {
		c := randChunk(src, 512)
		require.NoError(t, s.Insert(ctx, c))
		live[c.Hash()] = c.Data()
		keys = append(keys, c.Hash())
	}
	for _, key := range keys[:32] {
		require.NoError(t, s.Delete(ctx, key))
		delete(live, key)
	}

	before, err := s.DiskSize()
	require.NoError(t, err)

	require.NoError(t, s.Compact(ctx))

	after, err := s.DiskSize()
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.Equal(t, len(live), s.Count())

	for key, data := range live {
		act, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, act.Data())
	}

	// the store keeps working after a compaction
	extra := chunks.NewChunk([]byte("post-compact"))
	require.NoError(t, s.Insert(ctx, extra))
	act, err := s.Get(ctx, extra.Hash())
	require.NoError(t, err)
	assert.Equal(t, extra.Data(), act.Data())
}

func TestBPlusStoreStats(t *testing.T) {
	ctx := context.Background()

	s, err := NewBPlusStore(ctx, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	c := chunks.NewChunk([]byte("some chunk data"))
	require.NoError(t, s.Insert(ctx, c))
	_, err = s.Get(ctx, c.Hash())
	require.NoError(t, err)
	_, err = s.Get(ctx, hash.Of([]byte("miss")))
	require.ErrorIs(t, err, ErrKeyNotFound)

	inserts, gets, hits, deletes, written, read := s.Stats().Snapshot()
	assert.Equal(t, uint64(1), inserts)
	assert.Equal(t, uint64(2), gets)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(0), deletes)
	assert.Equal(t, uint64(c.Size()), written)
	assert.Equal(t, uint64(c.Size()), read)

	summary := s.StatsSummary()
	assert.Contains(t, summary, "inserts: 1")
	assert.Contains(t, summary, "gets:    2, 1 hits")
	assert.True(t, strings.Contains(summary, "latency"))
}

func TestStatsClampsLatencyOutliers(t *testing.T) {
	s := NewStats()

	// far beyond the histogram's upper bound
	s.recordInsert(3000*time.Second, 1)
	s.recordGet(3000*time.Second, 1, true)

	assert.Equal(t, int64(1), s.insertLatency.TotalCount())
	assert.Equal(t, int64(1), s.getLatency.TotalCount())
	assert.GreaterOrEqual(t, s.insertLatency.Max(), s.insertLatency.HighestTrackableValue())
}

func TestBPlusStoreSmallDegree(t *testing.T) {
	ctx := context.Background()
	src := rand.New(rand.NewSource(17))

	// degree 2 forces frequent splits and merges
	s, err := NewBPlusStore(ctx, t.TempDir(), WithDegree(2))
	require.NoError(t, err)
	defer s.Close()

	expect := make(map[hash.Hash][]byte)
	for i := 0; i < 256; i++ {
		c := randChunk(src, 64)
		require.NoError(t, s.Insert(ctx, c))
		expect[c.Hash()] = c.Data()
	}
	for key, data := range expect {
		act, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, act.Data())
	}
}
