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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/kamenkremen/chunkstore/hash"
)

// A Hasher derives the storage address of a chunk from its content.
type Hasher interface {
	Hash(p []byte) hash.Hash
}

// Sha512Hasher addresses chunks with hash.Of (truncated SHA-512).
type Sha512Hasher struct{}

func (Sha512Hasher) Hash(p []byte) hash.Hash {
	return hash.Of(p)
}

// XXHasher addresses chunks with xxhash64, zero-padded to address width.
// Much faster than Sha512Hasher, but not collision resistant; only use it
// where an adversarial collision is not a concern.
type XXHasher struct{}

func (XXHasher) Hash(p []byte) (h hash.Hash) {
	binary.BigEndian.PutUint64(h[:8], xxhash.Sum64(p))
	return
}
