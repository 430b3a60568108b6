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

package cdcfs

import (
	"bytes"
	"context"
	"io"
	iofs "io/fs"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamenkremen/chunkstore/store"
)

var testRand = rand.New(rand.NewSource(3))

func randData(n int) []byte {
	b := make([]byte, n)
	testRand.Read(b)
	return b
}

func writeAll(t *testing.T, fs *FileSystem, fh *FileHandle, data []byte) WriteMeasurements {
	ctx := context.Background()
	// write in megabyte blocks
	for off := 0; off < len(data); off += writeSpanSize {
		end := off + writeSpanSize
		if end > len(data) {
			end = len(data)
		}
		n, err := fs.Write(ctx, fh, data[off:end])
		require.NoError(t, err)
		require.Equal(t, end-off, n)
	}
	m, err := fs.Close(ctx, fh)
	require.NoError(t, err)
	return m
}

func TestWriteRead(t *testing.T) {
	for _, tc := range []struct {
		name    string
		chunker Chunker
	}{
		{name: "fixed", chunker: NewFixedChunker()},
		{name: "buz", chunker: NewBuzChunker()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			fs := NewFileSystem(store.NewMemoryStore())
			data := randData(3*writeSpanSize + 50)

			fh, err := fs.Create("file", tc.chunker)
			require.NoError(t, err)
			writeAll(t, fs, fh, data)

			fh, err = fs.OpenReadonly("file")
			require.NoError(t, err)
			act, err := fs.ReadAll(ctx, fh)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, act))
		})
	}
}

func TestCloseCommitsOversizedBlocks(t *testing.T) {
	// A block size larger than the write span means no boundary ever
	// falls inside a single span; the final flush must still commit
	// everything.
	ctx := context.Background()
	for _, n := range []int{2 * writeSpanSize, 3*writeSpanSize + 50} {
		fs := NewFileSystem(store.NewMemoryStore())
		data := randData(n)

		fh, err := fs.Create("file", NewFixedChunkerWithSize(2*writeSpanSize))
		require.NoError(t, err)
		writeAll(t, fs, fh, data)

		fh, err = fs.OpenReadonly("file")
		require.NoError(t, err)
		act, err := fs.ReadAll(ctx, fh)
		require.NoError(t, err)
		require.True(t, bytes.Equal(data, act))

		refs, err := fs.Layout("file")
		require.NoError(t, err)
		assert.Equal(t, (n+2*writeSpanSize-1)/(2*writeSpanSize), len(refs))
	}
}

func TestReadSpans(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())
	data := randData(2*writeSpanSize + 123)

	fh, err := fs.Create("file", NewBuzChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)

	fh, err = fs.OpenReadonly("file")
	require.NoError(t, err)

	var act []byte
	for {
		span, err := fs.Read(ctx, fh)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(span), writeSpanSize)
		act = append(act, span...)
	}
	assert.True(t, bytes.Equal(data, act))
}

func TestReadonlyHandleRejectsWrites(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())

	fh, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, randData(1000))

	ro, err := fs.OpenReadonly("file")
	require.NoError(t, err)

	_, err = fs.Write(ctx, ro, []byte("nope"))
	assert.ErrorIs(t, err, iofs.ErrPermission)

	// a readonly close reports no write activity
	m, err := fs.Close(ctx, ro)
	require.NoError(t, err)
	assert.Equal(t, WriteMeasurements{}, m)
}

func TestWriteMeasurements(t *testing.T) {
	fs := NewFileSystem(store.NewMemoryStore())

	fh, err := fs.Create("file", NewBuzChunker())
	require.NoError(t, err)
	m := writeAll(t, fs, fh, randData(8*writeSpanSize))

	assert.Positive(t, m.ChunkingTime)
	assert.Positive(t, m.HashingTime)
}

func TestDedupRatio(t *testing.T) {
	fs := NewFileSystem(store.NewMemoryStore())
	data := randData(writeSpanSize)

	assert.Zero(t, fs.DedupRatio())

	fh, err := fs.Create("one", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)
	assert.InDelta(t, 1.0, fs.DedupRatio(), 0.001)

	// identical content stores nothing new
	fh, err = fs.Create("two", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)
	assert.InDelta(t, 2.0, fs.DedupRatio(), 0.001)
}

func TestDedupAcrossIdenticalFilesWithBuzChunker(t *testing.T) {
	fs := NewFileSystem(store.NewMemoryStore())
	data := randData(2 * writeSpanSize)

	fh, err := fs.Create("one", NewBuzChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)

	fh, err = fs.Create("two", NewBuzChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)

	// boundaries are content-defined, so the second copy dedups fully
	assert.InDelta(t, 2.0, fs.DedupRatio(), 0.001)
}

func TestWriteFromStream(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())
	data := randData(2*writeSpanSize + 7)

	fh, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)
	n, err := fs.WriteFrom(ctx, fh, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	_, err = fs.Close(ctx, fh)
	require.NoError(t, err)

	fh, err = fs.OpenReadonly("file")
	require.NoError(t, err)
	act, err := fs.ReadAll(ctx, fh)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, act))
}

func TestOpenAppends(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())
	first := randData(writeSpanSize)
	second := randData(500)

	fh, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, first)

	fh, err = fs.Open("file", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, second)

	fh, err = fs.OpenReadonly("file")
	require.NoError(t, err)
	act, err := fs.ReadAll(ctx, fh)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(append(append([]byte{}, first...), second...), act))
}

func TestReaderSeesDataCommittedAfterOpen(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())
	data := randData(1000)

	w, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)

	// open the reader before the writer commits
	r, err := fs.OpenReadonly("file")
	require.NoError(t, err)

	act, readErr := fs.Read(ctx, r)
	assert.ErrorIs(t, readErr, io.EOF)
	assert.Empty(t, act)

	writeAll(t, fs, w, data)

	act, err = fs.ReadAll(ctx, r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, act))
}

func TestOpenAbsentFile(t *testing.T) {
	fs := NewFileSystem(store.NewMemoryStore())

	_, err := fs.Open("missing", NewFixedChunker())
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = fs.OpenReadonly("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestClosedHandle(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore())

	fh, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, randData(10))

	_, err = fs.Write(ctx, fh, []byte("late"))
	assert.ErrorIs(t, err, ErrClosedHandle)
	_, err = fs.Read(ctx, fh)
	assert.ErrorIs(t, err, ErrClosedHandle)
	_, err = fs.Close(ctx, fh)
	assert.ErrorIs(t, err, ErrClosedHandle)
}

func TestList(t *testing.T) {
	fs := NewFileSystem(store.NewMemoryStore())

	for _, name := range []string{"b", "a"} {
		fh, err := fs.Create(name, NewFixedChunker())
		require.NoError(t, err)
		writeAll(t, fs, fh, randData(100))
	}

	infos := fs.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
	assert.Equal(t, int64(100), infos[0].Size)
}

func TestLayoutRestore(t *testing.T) {
	ctx := context.Background()
	ks := store.NewMemoryStore()
	data := randData(writeSpanSize + 42)

	fs := NewFileSystem(ks)
	fh, err := fs.Create("file", NewBuzChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)

	layout, err := fs.Layout("file")
	require.NoError(t, err)
	require.NotEmpty(t, layout)

	_, err = fs.Layout("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)

	// a fresh namespace over the same store sees the file again
	fs2 := NewFileSystem(ks)
	fs2.Restore("file", layout)

	fh, err = fs2.OpenReadonly("file")
	require.NoError(t, err)
	act, err := fs2.ReadAll(ctx, fh)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, act))

	infos := fs2.List()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(len(data)), infos[0].Size)
}

func TestXXHasherAddressing(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(store.NewMemoryStore(), WithHasher(XXHasher{}))
	data := randData(writeSpanSize)

	fh, err := fs.Create("file", NewFixedChunker())
	require.NoError(t, err)
	writeAll(t, fs, fh, data)

	fh, err = fs.OpenReadonly("file")
	require.NoError(t, err)
	act, err := fs.ReadAll(ctx, fh)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, act))
}
