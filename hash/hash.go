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

// Package hash implements the content address used throughout chunkstore.
//
// An address is the first 20 bytes of the SHA-512 digest of a chunk's
// payload. SHA-512 is an arbitrary choice among the hashes that are
// unbroken and cheap on 64-bit hardware; 20 bytes keeps indexes small
// while leaving collisions out of practical reach.
package hash

import (
	"bytes"
	"crypto/sha512"
	"fmt"
)

const (
	// ByteLen is the number of bytes in a Hash.
	ByteLen = 20

	// StringLen is the number of characters in the base32 encoding of a Hash.
	StringLen = 32 // 20 * 8 / 5
)

var emptyHash = Hash{}

// Hash is the content address of a chunk of data.
type Hash [ByteLen]byte

// IsEmpty determines whether the Hash has no value.
func (h Hash) IsEmpty() bool {
	return h == emptyHash
}

// String returns the base32-encoded version of the Hash.
func (h Hash) String() string {
	return encode(h[:])
}

// Of computes the address of |data|.
func Of(data []byte) Hash {
	r := sha512.Sum512(data)
	h := Hash{}
	copy(h[:], r[:ByteLen])
	return h
}

// New creates a new Hash backed by data, which must be ByteLen long.
func New(data []byte) Hash {
	if len(data) != ByteLen {
		panic(fmt.Sprintf("hash.New: expected %d bytes, got %d", ByteLen, len(data)))
	}
	h := Hash{}
	copy(h[:], data)
	return h
}

// MaybeParse parses a string representing a hash as a base32-encoded byte
// array and returns the hash and ok == true if the string was valid.
func MaybeParse(s string) (Hash, bool) {
	if len(s) != StringLen {
		return emptyHash, false
	}
	data, err := decode(s)
	if err != nil {
		return emptyHash, false
	}
	return New(data), true
}

// Parse parses a string representing a hash as a base32-encoded byte array.
// If the string is not well formed then this panics.
func Parse(s string) Hash {
	r, ok := MaybeParse(s)
	if !ok {
		panic(fmt.Sprintf("could not parse hash: %s", s))
	}
	return r
}

// Less compares two hashes returning whether this Hash is less than other.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// Compare compares two hashes byte-wise, returning -1, 0 or +1.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}
