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

// Package chunks defines the unit of storage: an immutable byte payload
// addressed by the hash of its contents.
package chunks

import (
	"github.com/kamenkremen/chunkstore/hash"
)

// Chunk is a binary blob paired with its content address. Chunks are
// immutable once created.
type Chunk struct {
	h    hash.Hash
	data []byte
}

// EmptyChunk is the zero-length chunk. Its address is the hash of no bytes,
// not the empty hash.
var EmptyChunk = NewChunk([]byte{})

func (c Chunk) Hash() hash.Hash {
	return c.h
}

func (c Chunk) Data() []byte {
	return c.data
}

func (c Chunk) Size() int {
	return len(c.data)
}

func (c Chunk) IsEmpty() bool {
	return len(c.data) == 0
}

// NewChunk creates a new Chunk backed by data. This means that the returned
// Chunk must not be modified after this call.
func NewChunk(data []byte) Chunk {
	return Chunk{hash.Of(data), data}
}

// NewChunkWithHash creates a new Chunk with a precomputed address. The
// address is trusted, not verified; callers that received the pair from an
// untrusted source should use NewChunk instead.
func NewChunkWithHash(h hash.Hash, data []byte) Chunk {
	return Chunk{h, data}
}
