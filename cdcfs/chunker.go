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

package cdcfs

import (
	"github.com/kch42/buzhash"
)

const (
	// DefaultFixedBlockSize is the block size of NewFixedChunker().
	DefaultFixedBlockSize = 4 * 1024

	chunkPattern = uint32(1<<12 - 1) // avg chunk size of 4k

	// The window size to use for computing the rolling hash. A larger
	// window gives better boundary distribution on input with lower
	// entropy; a prime length helps with repeating input.
	chunkWindow = uint32(67)

	minChunkSize = 1 << 10
	maxChunkSize = 1 << 16
)

// A Chunker partitions a byte stream into chunks.
type Chunker interface {
	// Boundaries returns the lengths of the complete chunks at the front
	// of |p|, in order. A tail that has not reached a boundary is left
	// out; the caller holds it back until more data arrives. When |final|
	// is true the tail is emitted as the last chunk instead.
	Boundaries(p []byte, final bool) []int
}

// FixedChunker cuts the stream into constant-size blocks.
type FixedChunker struct {
	size int
}

func NewFixedChunker() *FixedChunker {
	return &FixedChunker{size: DefaultFixedBlockSize}
}

func NewFixedChunkerWithSize(size int) *FixedChunker {
	if size <= 0 {
		panic("chunk size must be positive")
	}
	return &FixedChunker{size: size}
}

func (c *FixedChunker) Boundaries(p []byte, final bool) []int {
	spans := make([]int, 0, len(p)/c.size+1)
	for len(p) >= c.size {
		spans = append(spans, c.size)
		p = p[c.size:]
	}
	if final && len(p) > 0 {
		spans = append(spans, len(p))
	}
	return spans
}

// BuzChunker finds content-defined boundaries with a rolling buzhash:
// a chunk ends where the hash of the trailing window matches the target
// pattern. Identical runs of data produce identical chunks regardless of
// their position in the stream, which is what makes dedup effective
// against insertions and shifts.
type BuzChunker struct{}

func NewBuzChunker() *BuzChunker {
	return &BuzChunker{}
}

func (c *BuzChunker) Boundaries(p []byte, final bool) []int {
	var spans []int

	start := 0
	for start < len(p) {
		bz := buzhash.NewBuzHash(chunkWindow)
		end := start
		boundary := -1
		for end < len(p) {
			bz.HashByte(p[end])
			end++
			if end-start < minChunkSize {
				continue
			}
			if end-start >= maxChunkSize || bz.Sum32()&chunkPattern == chunkPattern {
				boundary = end
				break
			}
		}
		if boundary < 0 {
			if final && start < len(p) {
				spans = append(spans, len(p)-start)
			}
			break
		}
		spans = append(spans, boundary-start)
		start = boundary
	}
	return spans
}
