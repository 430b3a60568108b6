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

// Package store provides keyed chunk storage. The primary implementation,
// BPlusStore, pairs an in-memory B+ tree index with an on-disk segment
// log; MemoryStore and BoltStore cover ephemeral and external-KV use.
package store

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
)

// ErrKeyNotFound is returned by Get and Delete for absent keys.
var ErrKeyNotFound = errors.New("store: key not found")

// KeyStore maps addresses to chunks. Implementations are safe for
// concurrent use unless documented otherwise.
type KeyStore interface {
	// Insert stores |c| under its address, replacing any prior value.
	Insert(ctx context.Context, c chunks.Chunk) error

	// Get returns the chunk stored under |key|, or ErrKeyNotFound.
	Get(ctx context.Context, key hash.Hash) (chunks.Chunk, error)

	// Has reports whether |key| is present.
	Has(ctx context.Context, key hash.Hash) (bool, error)

	// Delete removes |key|, returning ErrKeyNotFound if absent.
	Delete(ctx context.Context, key hash.Hash) error

	io.Closer
}

// InsertChunkIfAbsent stores |c| only if its address is not already
// present, reporting whether a write happened. Content-addressed callers
// use this to skip rewriting duplicate chunks.
func InsertChunkIfAbsent(ctx context.Context, ks KeyStore, c chunks.Chunk) (bool, error) {
	ok, err := ks.Has(ctx, c.Hash())
	if err != nil || ok {
		return false, err
	}
	if err = ks.Insert(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}
