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
//
// This file incorporates work covered by the following copyright and
// permission notice:
//
// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
)

// MemoryStore keeps chunks in a map. Data is lost on Close; intended for
// tests and ephemeral workloads.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[hash.Hash]chunks.Chunk
}

var _ KeyStore = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[hash.Hash]chunks.Chunk)}
}

func (s *MemoryStore) Insert(_ context.Context, c chunks.Chunk) error {
	cpy := make([]byte, c.Size())
	copy(cpy, c.Data())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[c.Hash()] = chunks.NewChunkWithHash(c.Hash(), cpy)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key hash.Hash) (chunks.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[key]
	if !ok {
		return chunks.EmptyChunk, errors.Wrapf(ErrKeyNotFound, "%s", key)
	}
	cpy := make([]byte, c.Size())
	copy(cpy, c.Data())
	return chunks.NewChunkWithHash(key, cpy), nil
}

func (s *MemoryStore) Has(_ context.Context, key hash.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key hash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.Wrapf(ErrKeyNotFound, "%s", key)
	}
	delete(s.data, key)
	return nil
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Close() error {
	return nil
}
