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
// Copyright 2019 Dolthub, Inc.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
)

// Stats tracks operation counts, byte volumes and latency distributions
// for a KeyStore. All methods are safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	inserts, gets, hits, deletes uint64
	bytesWritten, bytesRead      uint64

	insertLatency *hdrhistogram.Histogram
	getLatency    *hdrhistogram.Histogram
}

func NewStats() *Stats {
	return &Stats{
		// microsecond latencies between 1us and 1000s
		insertLatency: hdrhistogram.New(1, time.Second.Microseconds()*1000, 3),
		getLatency:    hdrhistogram.New(1, time.Second.Microseconds()*1000, 3),
	}
}

func (s *Stats) recordInsert(d time.Duration, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.bytesWritten += uint64(n)
	recordLatency(s.insertLatency, d)
}

func (s *Stats) recordGet(d time.Duration, n int, hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if hit {
		s.hits++
		s.bytesRead += uint64(n)
	}
	recordLatency(s.getLatency, d)
}

// recordLatency clamps to the histogram's upper bound so an outlier is
// counted there instead of dropped.
func recordLatency(h *hdrhistogram.Histogram, d time.Duration) {
	v := d.Microseconds()
	if max := h.HighestTrackableValue(); v > max {
		v = max
	}
	_ = h.RecordValue(v)
}

func (s *Stats) recordDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() (inserts, gets, hits, deletes, bytesWritten, bytesRead uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts, s.gets, s.hits, s.deletes, s.bytesWritten, s.bytesRead
}

// Summary renders a human-readable report.
func (s *Stats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "inserts: %d (%s written)\n",
		s.inserts, humanize.Bytes(s.bytesWritten))
	fmt.Fprintf(&sb, "gets:    %d, %d hits (%s read)\n",
		s.gets, s.hits, humanize.Bytes(s.bytesRead))
	fmt.Fprintf(&sb, "deletes: %d\n", s.deletes)
	fmt.Fprintf(&sb, "insert latency: p50 %s, p99 %s\n",
		usec(s.insertLatency.ValueAtQuantile(50)), usec(s.insertLatency.ValueAtQuantile(99)))
	fmt.Fprintf(&sb, "get latency:    p50 %s, p99 %s",
		usec(s.getLatency.ValueAtQuantile(50)), usec(s.getLatency.ValueAtQuantile(99)))
	return sb.String()
}

func usec(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
