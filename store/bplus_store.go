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
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
	"github.com/kamenkremen/chunkstore/store/bptree"
	"github.com/kamenkremen/chunkstore/store/seglog"
)

// DefaultDegree is the branching factor of the index tree.
const DefaultDegree = 64

// BPlusStore persists chunks in a segment log and indexes them with an
// in-memory B+ tree mapping addresses to log positions. Reopening a
// directory rebuilds the index by scanning the log.
type BPlusStore struct {
	mu    sync.Mutex
	idx   *bptree.Tree
	log   *seglog.Log
	stats *Stats
	lg    *logrus.Entry
}

var _ KeyStore = &BPlusStore{}

type bplusConfig struct {
	degree     int
	maxSegSize int64
	lg         *logrus.Entry
}

// BPlusOption configures a BPlusStore.
type BPlusOption func(*bplusConfig)

// WithDegree sets the index tree branching factor.
func WithDegree(degree int) BPlusOption {
	return func(c *bplusConfig) { c.degree = degree }
}

// WithMaxSegmentSize sets the log segment roll threshold.
func WithMaxSegmentSize(sz int64) BPlusOption {
	return func(c *bplusConfig) { c.maxSegSize = sz }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(lg *logrus.Entry) BPlusOption {
	return func(c *bplusConfig) { c.lg = lg }
}

func discardLogger() *logrus.Entry {
	lgr := logrus.New()
	lgr.SetOutput(io.Discard)
	return logrus.NewEntry(lgr)
}

// NewBPlusStore opens the store in |dir|, creating it if needed, and
// rebuilds the index from the segment log.
func NewBPlusStore(ctx context.Context, dir string, opts ...BPlusOption) (*BPlusStore, error) {
	cfg := bplusConfig{
		degree:     DefaultDegree,
		maxSegSize: seglog.DefaultMaxSegmentSize,
		lg:         discardLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.Wrap(err, "store: create dir")
	}

	l, err := seglog.Open(dir,
		seglog.WithMaxSegmentSize(cfg.maxSegSize),
		seglog.WithLogger(cfg.lg))
	if err != nil {
		return nil, err
	}

	idx := bptree.NewTree(cfg.degree, nil)
	err = l.Scan(ctx, func(r seglog.ScanRecord) error {
		if r.Tombstone {
			idx.Delete(r.Address[:])
			return nil
		}
		idx.Put(r.Address[:], seglog.EncodeRef(r.Ref))
		return nil
	})
	if err != nil {
		l.Close()
		return nil, err
	}

	cfg.lg.WithFields(logrus.Fields{
		"dir":    dir,
		"chunks": idx.Count(),
	}).Debug("opened chunk store")

	return &BPlusStore{
		idx:   idx,
		log:   l,
		stats: NewStats(),
		lg:    cfg.lg,
	}, nil
}

func (s *BPlusStore) Insert(ctx context.Context, c chunks.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t0 := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Hash()
	ref, err := s.log.Append(key, c.Data())
	if err != nil {
		return err
	}
	s.idx.Put(key[:], seglog.EncodeRef(ref))
	s.stats.recordInsert(time.Since(t0), c.Size())
	return nil
}

func (s *BPlusStore) Get(ctx context.Context, key hash.Hash) (chunks.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return chunks.EmptyChunk, err
	}
	t0 := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	enc, ok := s.idx.Get(key[:])
	if !ok {
		s.stats.recordGet(time.Since(t0), 0, false)
		return chunks.EmptyChunk, errors.Wrapf(ErrKeyNotFound, "%s", key)
	}
	ref, err := seglog.DecodeRef(enc)
	if err != nil {
		return chunks.EmptyChunk, err
	}

	addr, data, err := s.log.Read(ref)
	if err != nil {
		return chunks.EmptyChunk, err
	}
	if addr != key {
		return chunks.EmptyChunk, errors.Errorf("store: index out of sync (expected %s, read %s)", key, addr)
	}
	s.stats.recordGet(time.Since(t0), len(data), true)
	return chunks.NewChunkWithHash(key, data), nil
}

func (s *BPlusStore) Has(ctx context.Context, key hash.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Has(key[:]), nil
}

// Delete writes a tombstone record and drops the index entry. The chunk's
// bytes remain in the log until the next Compact.
func (s *BPlusStore) Delete(ctx context.Context, key hash.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.idx.Has(key[:]) {
		return errors.Wrapf(ErrKeyNotFound, "%s", key)
	}
	if _, err := s.log.AppendTombstone(key); err != nil {
		return err
	}
	s.idx.Delete(key[:])
	s.stats.recordDelete()
	return nil
}

// Count returns the number of live chunks.
func (s *BPlusStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Count()
}

// DiskSize returns the total size of the segment log on disk, including
// dead records not yet compacted away.
func (s *BPlusStore) DiskSize() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.DiskSize()
}

// Compact rewrites the segment log to contain only live chunks and
// reindexes them.
func (s *BPlusStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		keys hash.HashSlice
		refs []seglog.Ref
	)
	for it := s.idx.IterAtStart(); ; it.Advance() {
		key, enc := it.Current()
		if key == nil {
			break
		}
		ref, err := seglog.DecodeRef(enc)
		if err != nil {
			return err
		}
		keys = append(keys, hash.New(key))
		refs = append(refs, ref)
	}

	newRefs, err := s.log.Compact(ctx, refs, keys.HashSet())
	if err != nil {
		return err
	}
	for i, key := range keys {
		s.idx.Put(key[:], seglog.EncodeRef(newRefs[i]))
	}

	s.lg.WithField("chunks", len(keys)).Debug("compacted chunk store")
	return nil
}

// Sync flushes buffered log writes to disk.
func (s *BPlusStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Sync()
}

func (s *BPlusStore) Stats() *Stats {
	return s.stats
}

func (s *BPlusStore) StatsSummary() string {
	return s.stats.Summary()
}

func (s *BPlusStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}
