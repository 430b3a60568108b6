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

// Package cdcfs is a deduplicating file layer over a KeyStore. File data
// is split into chunks by a pluggable Chunker, addressed by content hash,
// and stored once; a file is an ordered list of chunk references. Equal
// spans of data across files (or within one) share storage.
package cdcfs

import (
	"context"
	"io"
	iofs "io/fs"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
	"github.com/kamenkremen/chunkstore/store"
)

// writeSpanSize is the unit in which buffered writes are chunked and
// flushed to the store.
const writeSpanSize = 1 << 20

// readConcurrency bounds parallel chunk fetches in ReadAll.
const readConcurrency = 8

var (
	// ErrFileNotFound is returned by Open for names never created.
	ErrFileNotFound = errors.New("cdcfs: file not found")

	// ErrClosedHandle is returned for operations on a closed handle.
	ErrClosedHandle = errors.New("cdcfs: handle is closed")
)

// WriteMeasurements reports where the time went while writing through a
// handle. Returned by Close; zero for readonly handles.
type WriteMeasurements struct {
	ChunkingTime time.Duration
	HashingTime  time.Duration
}

type chunkRef struct {
	addr   hash.Hash
	length int
}

type file struct {
	name  string
	spans []chunkRef
	size  int64
}

// FileHandle is a cursor over one file. Handles are not safe for
// concurrent use; FileSystem itself is.
type FileHandle struct {
	f        *file
	chunker  Chunker
	readonly bool
	closed   bool

	buf          []byte
	pending      []chunkRef
	pendingBytes int64

	readSpan int

	m WriteMeasurements
}

// FileInfo describes a committed file.
type FileInfo struct {
	Name string
	Size int64
}

// FileSystem names files and maps their contents onto a KeyStore.
// Layouts live in memory; chunk data lives in the store.
type FileSystem struct {
	mu     sync.Mutex
	store  store.KeyStore
	hasher Hasher
	files  map[string]*file

	written uint64 // bytes accepted through handles
	stored  uint64 // bytes newly written to the store

	lg *logrus.Entry
}

// FSOption configures a FileSystem.
type FSOption func(*FileSystem)

// WithHasher overrides the default Sha512Hasher.
func WithHasher(h Hasher) FSOption {
	return func(fs *FileSystem) { fs.hasher = h }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(lg *logrus.Entry) FSOption {
	return func(fs *FileSystem) { fs.lg = lg }
}

func NewFileSystem(ks store.KeyStore, opts ...FSOption) *FileSystem {
	lgr := logrus.New()
	lgr.SetOutput(io.Discard)

	fs := &FileSystem{
		store:  ks,
		hasher: Sha512Hasher{},
		files:  make(map[string]*file),
		lg:     logrus.NewEntry(lgr),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Create makes (or truncates) the named file and returns a write handle.
func (fs *FileSystem) Create(name string, c Chunker) (*FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f := &file{name: name}
	fs.files[name] = f
	fs.lg.WithField("name", name).Debug("created file")
	return &FileHandle{f: f, chunker: c}, nil
}

// Open returns a read-write handle on an existing file. Writes append;
// the read cursor starts at the beginning.
func (fs *FileSystem) Open(name string, c Chunker) (*FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "%s", name)
	}
	return &FileHandle{f: f, chunker: c}, nil
}

// OpenReadonly returns a read-only handle on an existing file.
func (fs *FileSystem) OpenReadonly(name string) (*FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "%s", name)
	}
	return &FileHandle{f: f, readonly: true}, nil
}

// Write buffers |p| on the handle, flushing complete spans through the
// chunker into the store.
func (fs *FileSystem) Write(ctx context.Context, fh *FileHandle, p []byte) (int, error) {
	if fh.closed {
		return 0, ErrClosedHandle
	}
	if fh.readonly {
		return 0, errors.Wrapf(iofs.ErrPermission, "%s opened readonly", fh.f.name)
	}

	fh.buf = append(fh.buf, p...)
	fs.mu.Lock()
	fs.written += uint64(len(p))
	fs.mu.Unlock()

	if err := fs.flush(ctx, fh, false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteFrom streams |r| into the handle span by span until EOF, returning
// the number of bytes consumed.
func (fs *FileSystem) WriteFrom(ctx context.Context, fh *FileHandle, r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, writeSpanSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := fs.Write(ctx, fh, buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, errors.Wrap(err, "cdcfs: stream write")
		}
	}
}

// flush drains complete write spans from the handle's buffer. With
// |final| the remainder is chunked too, regardless of length.
func (fs *FileSystem) flush(ctx context.Context, fh *FileHandle, final bool) error {
	for len(fh.buf) > 0 {
		spanLen := len(fh.buf)
		if spanLen > writeSpanSize {
			spanLen = writeSpanSize
		}
		last := final && spanLen == len(fh.buf)
		if !last && spanLen < writeSpanSize {
			return nil // wait for a full span
		}
		span := fh.buf[:spanLen]

		t0 := time.Now()
		lens := fh.chunker.Boundaries(span, last)
		if final && !last && len(lens) == 0 {
			// No boundary inside the window. Hand the chunker the
			// whole remainder so the last flush leaves nothing behind.
			span = fh.buf
			last = true
			lens = fh.chunker.Boundaries(span, true)
		}
		fh.m.ChunkingTime += time.Since(t0)

		consumed := 0
		for _, n := range lens {
			data := span[consumed : consumed+n]

			t1 := time.Now()
			key := fs.hasher.Hash(data)
			fh.m.HashingTime += time.Since(t1)

			wrote, err := store.InsertChunkIfAbsent(ctx, fs.store, chunks.NewChunkWithHash(key, data))
			if err != nil {
				return err
			}
			if wrote {
				fs.mu.Lock()
				fs.stored += uint64(n)
				fs.mu.Unlock()
			}
			fh.pending = append(fh.pending, chunkRef{addr: key, length: n})
			fh.pendingBytes += int64(n)
			consumed += n
		}
		if consumed == 0 {
			return nil // no boundary yet, keep buffering
		}
		fh.buf = fh.buf[:copy(fh.buf, fh.buf[consumed:])]
	}
	return nil
}

// Close flushes the handle and commits its pending chunks to the file
// layout, returning the accumulated write measurements. A readonly close
// returns the zero value.
func (fs *FileSystem) Close(ctx context.Context, fh *FileHandle) (WriteMeasurements, error) {
	if fh.closed {
		return WriteMeasurements{}, ErrClosedHandle
	}
	fh.closed = true
	if fh.readonly {
		return WriteMeasurements{}, nil
	}

	if err := fs.flush(ctx, fh, true); err != nil {
		return WriteMeasurements{}, err
	}

	fs.mu.Lock()
	fh.f.spans = append(fh.f.spans, fh.pending...)
	fh.f.size += fh.pendingBytes
	fs.mu.Unlock()

	fs.lg.WithFields(logrus.Fields{
		"name":   fh.f.name,
		"chunks": len(fh.pending),
		"bytes":  fh.pendingBytes,
	}).Debug("closed file handle")
	return fh.m, nil
}

// Read returns the next span of committed data, up to 1 MiB, advancing
// the handle's cursor. Returns io.EOF after the last span.
func (fs *FileSystem) Read(ctx context.Context, fh *FileHandle) ([]byte, error) {
	if fh.closed {
		return nil, ErrClosedHandle
	}

	fs.mu.Lock()
	spans := fh.f.spans
	fs.mu.Unlock()

	if fh.readSpan >= len(spans) {
		return nil, io.EOF
	}

	var out []byte
	for fh.readSpan < len(spans) {
		sp := spans[fh.readSpan]
		if len(out) > 0 && len(out)+sp.length > writeSpanSize {
			break
		}
		c, err := fs.store.Get(ctx, sp.addr)
		if err != nil {
			return nil, err
		}
		out = append(out, c.Data()...)
		fh.readSpan++
	}
	return out, nil
}

// ReadAll returns the file's full committed contents, fetching chunks
// from the store in parallel.
func (fs *FileSystem) ReadAll(ctx context.Context, fh *FileHandle) ([]byte, error) {
	if fh.closed {
		return nil, ErrClosedHandle
	}

	fs.mu.Lock()
	spans := make([]chunkRef, len(fh.f.spans))
	copy(spans, fh.f.spans)
	fs.mu.Unlock()

	offsets := make([]int64, len(spans))
	var total int64
	for i, sp := range spans {
		offsets[i] = total
		total += int64(sp.length)
	}
	out := make([]byte, total)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(readConcurrency)
	for i, sp := range spans {
		i, sp := i, sp
		eg.Go(func() error {
			c, err := fs.store.Get(ctx, sp.addr)
			if err != nil {
				return err
			}
			if c.Size() != sp.length {
				return errors.Errorf("cdcfs: chunk %s is %d bytes, layout says %d",
					sp.addr, c.Size(), sp.length)
			}
			copy(out[offsets[i]:], c.Data())
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ChunkRef names one chunk of a file's layout.
type ChunkRef struct {
	Addr   hash.Hash
	Length int
}

// Layout returns the committed chunk list of the named file. Callers can
// persist it and later rebuild the namespace with Restore.
func (fs *FileSystem) Layout(name string) ([]ChunkRef, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "%s", name)
	}
	refs := make([]ChunkRef, len(f.spans))
	for i, sp := range f.spans {
		refs[i] = ChunkRef{Addr: sp.addr, Length: sp.length}
	}
	return refs, nil
}

// Restore registers a file from a previously saved layout without
// touching the store. The chunks are assumed present.
func (fs *FileSystem) Restore(name string, refs []ChunkRef) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f := &file{name: name}
	for _, r := range refs {
		f.spans = append(f.spans, chunkRef{addr: r.Addr, length: r.Length})
		f.size += int64(r.Length)
	}
	fs.files[name] = f
}

// List returns the committed files sorted by name.
func (fs *FileSystem) List() []FileInfo {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	infos := make([]FileInfo, 0, len(fs.files))
	for _, f := range fs.files {
		infos = append(infos, FileInfo{Name: f.name, Size: f.size})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// DedupRatio is the ratio of bytes accepted through handles to bytes
// actually stored. 1.0 means no dedup; higher is better. Zero until
// something is stored.
func (fs *FileSystem) DedupRatio() float64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.stored == 0 {
		return 0
	}
	return float64(fs.written) / float64(fs.stored)
}
