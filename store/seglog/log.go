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
// Copyright 2022 Dolthub, Inc.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package seglog stores chunk records in a directory of append-only
// segment files. Segments are named by their decimal sequence number;
// writes go to the highest-numbered segment and roll to a fresh one past a
// size threshold. Each record is framed, addressed, snappy-compressed and
// crc-guarded, so the full logical state can be recovered by scanning the
// segments in order, tolerating a torn record at the tail of the last one.
package seglog

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kamenkremen/chunkstore/hash"
)

// DefaultMaxSegmentSize is the segment roll threshold.
const DefaultMaxSegmentSize = 2 << 20

// RefSize is the encoded size of a Ref.
const RefSize = 16

// ErrStaleRef is returned when a Ref points outside the current segments,
// e.g. after a compaction invalidated it.
var ErrStaleRef = errors.New("seglog: stale ref")

// Ref locates a record within the log.
type Ref struct {
	Segment uint32
	Offset  int64
	Length  uint32
}

// Encode writes the Ref into |buf|, which must hold RefSize bytes.
func (r Ref) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:], r.Segment)
	binary.BigEndian.PutUint64(buf[4:], uint64(r.Offset))
	binary.BigEndian.PutUint32(buf[12:], r.Length)
}

// EncodeRef returns the Ref serialized into a fresh buffer.
func EncodeRef(r Ref) []byte {
	buf := make([]byte, RefSize)
	r.Encode(buf)
	return buf
}

// DecodeRef parses a Ref previously written by Encode.
func DecodeRef(buf []byte) (Ref, error) {
	if len(buf) != RefSize {
		return Ref{}, errors.Errorf("seglog: bad ref encoding (%d bytes)", len(buf))
	}
	return Ref{
		Segment: binary.BigEndian.Uint32(buf[0:]),
		Offset:  int64(binary.BigEndian.Uint64(buf[4:])),
		Length:  binary.BigEndian.Uint32(buf[12:]),
	}, nil
}

// ScanRecord describes one record encountered during recovery.
type ScanRecord struct {
	Ref       Ref
	Address   hash.Hash
	Tombstone bool
}

// Log is a directory of segment files. It is not safe for concurrent use;
// callers serialize access.
type Log struct {
	dir        string
	maxSegSize int64

	currentID uint32
	current   *segmentWriter
	sealed    map[uint32]*os.File

	lg *logrus.Entry
}

// Option configures a Log.
type Option func(*Log)

// WithMaxSegmentSize overrides DefaultMaxSegmentSize.
func WithMaxSegmentSize(sz int64) Option {
	return func(l *Log) { l.maxSegSize = sz }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(lg *logrus.Entry) Option {
	return func(l *Log) { l.lg = lg }
}

func discardLogger() *logrus.Entry {
	lgr := logrus.New()
	lgr.SetOutput(io.Discard)
	return logrus.NewEntry(lgr)
}

// Open opens the log in |dir|, creating segment "0" for an empty
// directory. Callers that need the log's contents (or that intend to
// append after a crash) must run Scan before the first Append.
func Open(dir string, opts ...Option) (*Log, error) {
	l := &Log{
		dir:        dir,
		maxSegSize: DefaultMaxSegmentSize,
		sealed:     make(map[uint32]*os.File),
		lg:         discardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	ids, err := l.segmentIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		l.currentID = 0
	} else {
		l.currentID = ids[len(ids)-1]
	}

	f, err := os.OpenFile(l.segmentPath(l.currentID), os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "seglog: open segment")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	l.current = newSegmentWriter(f, info.Size())
	return l, nil
}

// Scan replays every record in segment order, invoking |cb| for each. A
// torn or corrupt record in the last segment marks the end of the log: the
// tail past it is truncated and appends resume there. Corruption in any
// earlier segment is an error.
func (l *Log) Scan(ctx context.Context, cb func(ScanRecord) error) error {
	ids, err := l.segmentIDs()
	if err != nil {
		return err
	}

	var records int
	for _, id := range ids {
		if err = ctx.Err(); err != nil {
			return err
		}

		f, err := os.Open(l.segmentPath(id))
		if err != nil {
			return errors.Wrap(err, "seglog: scan")
		}

		off, serr := scanSegment(f, func(off int64, length uint32, rec record) error {
			records++
			return cb(ScanRecord{
				Ref:       Ref{Segment: id, Offset: off, Length: length},
				Address:   rec.address,
				Tombstone: rec.kind == tombstoneKind,
			})
		})
		f.Close()

		last := id == l.currentID
		if serr != nil && !(last && errors.Is(serr, ErrCorruptRecord)) {
			// callback errors and corruption in sealed segments
			// propagate; only a corrupt tail record in the last
			// segment is treated as a torn write
			return errors.Wrapf(serr, "seglog: segment %d", id)
		}
		if last {
			// resume appending after the last valid record
			if err = l.current.file.Truncate(off); err != nil {
				return err
			}
			l.current.off = off
			l.current.buf = l.current.buf[:0]
			if serr != nil {
				l.lg.WithFields(logrus.Fields{
					"segment": id,
					"offset":  off,
				}).Warn("discarded torn segment tail")
			}
		}
	}

	l.lg.WithFields(logrus.Fields{
		"segments": len(ids),
		"records":  records,
	}).Debug("scanned segment log")
	return nil
}

// Append writes a chunk record and returns its Ref. The record is readable
// immediately but only durable after Sync.
func (l *Log) Append(h hash.Hash, data []byte) (Ref, error) {
	return l.append(encodeChunkRecord(h, data))
}

// AppendTombstone writes a deletion marker for |h|.
func (l *Log) AppendTombstone(h hash.Hash) (Ref, error) {
	return l.append(encodeTombstoneRecord(h))
}

func (l *Log) append(rec []byte) (Ref, error) {
	if len(rec) > recMaxSz {
		return Ref{}, errors.Errorf("seglog: record too large (%d bytes)", len(rec))
	}
	if l.current.Offset() >= l.maxSegSize {
		if err := l.roll(); err != nil {
			return Ref{}, err
		}
	}

	ref := Ref{
		Segment: l.currentID,
		Offset:  l.current.Offset(),
		Length:  uint32(len(rec)),
	}
	if _, err := l.current.Write(rec); err != nil {
		return Ref{}, errors.Wrap(err, "seglog: append")
	}
	return ref, nil
}

// roll seals the current segment and starts the next one. The sealed file
// handle is kept for reads.
func (l *Log) roll() error {
	if err := l.current.Sync(); err != nil {
		return err
	}
	l.sealed[l.currentID] = l.current.file

	next := l.currentID + 1
	f, err := os.OpenFile(l.segmentPath(next), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return errors.Wrap(err, "seglog: roll segment")
	}

	l.lg.WithField("segment", next).Debug("rolled to new segment")
	l.currentID = next
	l.current = newSegmentWriter(f, 0)
	return nil
}

// Read returns the address and decompressed data of the record at |ref|.
// Tombstone records return nil data.
func (l *Log) Read(ref Ref) (hash.Hash, []byte, error) {
	buf := make([]byte, ref.Length)

	var err error
	if ref.Segment == l.currentID {
		_, err = l.current.ReadAt(buf, ref.Offset)
	} else {
		var f *os.File
		if f, err = l.sealedFile(ref.Segment); err != nil {
			return hash.Hash{}, nil, err
		}
		_, err = f.ReadAt(buf, ref.Offset)
	}
	if err != nil {
		return hash.Hash{}, nil, errors.Wrap(err, "seglog: read")
	}

	rec, err := readRecord(buf)
	if err != nil {
		return hash.Hash{}, nil, err
	}
	if rec.kind == tombstoneKind {
		return rec.address, nil, nil
	}
	data, err := rec.decompress()
	if err != nil {
		return hash.Hash{}, nil, err
	}
	return rec.address, data, nil
}

// Compact rewrites the records at |refs| into a fresh set of segments and
// removes the old files, dropping everything not referenced (dead chunks
// and all tombstones). |live| is the set of addresses the caller still
// indexes; a ref that resolves to an address outside it is stale. Returns
// the new Ref for each input, in order. All previously issued Refs are
// invalid afterward.
func (l *Log) Compact(ctx context.Context, refs []Ref, live hash.HashSet) ([]Ref, error) {
	type pending struct {
		h    hash.Hash
		data []byte
	}

	// Read everything up front; the rewrite below replaces the files.
	recs := make([]pending, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, data, err := l.Read(ref)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, errors.Wrapf(ErrStaleRef, "compacting tombstone at segment %d offset %d", ref.Segment, ref.Offset)
		}
		if !live.Has(h) {
			return nil, errors.Wrapf(ErrStaleRef, "record %s at segment %d offset %d is not live", h, ref.Segment, ref.Offset)
		}
		recs[i] = pending{h: h, data: data}
	}

	oldIDs, err := l.segmentIDs()
	if err != nil {
		return nil, err
	}

	// Write replacement segments under temporary names, then swap.
	var (
		tmpNames []string
		out      = make([]Ref, len(recs))
		w        *segmentWriter
		seg      uint32
	)
	openTmp := func() error {
		name := filepath.Join(l.dir, uuid.New().String()+".tmp")
		f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return err
		}
		tmpNames = append(tmpNames, name)
		w = newSegmentWriter(f, 0)
		return nil
	}
	if err = openTmp(); err != nil {
		return nil, err
	}
	for i, p := range recs {
		if w.Offset() >= l.maxSegSize {
			if err = w.Sync(); err != nil {
				return nil, err
			}
			w.file.Close()
			seg++
			if err = openTmp(); err != nil {
				return nil, err
			}
		}
		rec := encodeChunkRecord(p.h, p.data)
		out[i] = Ref{Segment: seg, Offset: w.Offset(), Length: uint32(len(rec))}
		if _, err = w.Write(rec); err != nil {
			return nil, err
		}
	}
	if err = w.Sync(); err != nil {
		return nil, err
	}
	w.file.Close()

	// Drop old segments and move the replacements into place.
	if err = l.current.Close(); err != nil {
		return nil, err
	}
	for _, f := range l.sealed {
		f.Close()
	}
	l.sealed = make(map[uint32]*os.File)
	for _, id := range oldIDs {
		if err = os.Remove(l.segmentPath(id)); err != nil {
			return nil, err
		}
	}
	for i, tmp := range tmpNames {
		if err = os.Rename(tmp, l.segmentPath(uint32(i))); err != nil {
			return nil, err
		}
	}

	l.currentID = uint32(len(tmpNames) - 1)
	f, err := os.OpenFile(l.segmentPath(l.currentID), os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	l.current = newSegmentWriter(f, info.Size())

	l.lg.WithFields(logrus.Fields{
		"records":  len(recs),
		"segments": len(tmpNames),
	}).Debug("compacted segment log")
	return out, nil
}

// Sync flushes buffered writes and fsyncs the active segment.
func (l *Log) Sync() error {
	return l.current.Sync()
}

// SegmentCount returns the number of live segment files.
func (l *Log) SegmentCount() (int, error) {
	ids, err := l.segmentIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DiskSize returns the total size in bytes of all segment files.
func (l *Log) DiskSize() (int64, error) {
	ids, err := l.segmentIDs()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		info, err := os.Stat(l.segmentPath(id))
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	// include unflushed bytes
	total += int64(len(l.current.buf))
	return total, nil
}

// Close flushes and closes all segment files. The Log may not be used
// afterward.
func (l *Log) Close() error {
	for _, f := range l.sealed {
		f.Close()
	}
	l.sealed = nil
	return l.current.Close()
}

func (l *Log) segmentPath(id uint32) string {
	return filepath.Join(l.dir, strconv.FormatUint(uint64(id), 10))
}

func (l *Log) sealedFile(id uint32) (*os.File, error) {
	if f, ok := l.sealed[id]; ok {
		return f, nil
	}
	f, err := os.Open(l.segmentPath(id))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrStaleRef, "segment %d", id)
	} else if err != nil {
		return nil, err
	}
	l.sealed[id] = f
	return f, nil
}

// segmentIDs lists existing segments in ascending order.
func (l *Log) segmentIDs() ([]uint32, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrap(err, "seglog: read dir")
	}
	ids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue // not a segment file
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// scanSegment reads records from |r| until EOF or the first invalid
// record, returning the offset just past the last valid one.
func scanSegment(r io.Reader, cb func(off int64, length uint32, rec record) error) (off int64, err error) {
	var buf []byte
	rdr := bufio.NewReaderSize(r, recMaxSz)
	for {
		// peek to read the next record size
		if buf, err = rdr.Peek(recLenSz); err != nil {
			break
		}

		l := readUint32(buf)
		if l < recMinSz || l > recMaxSz {
			err = errors.Wrapf(ErrCorruptRecord, "implausible record length %d", l)
			break
		}
		if buf, err = rdr.Peek(int(l)); err != nil {
			break
		}

		var rec record
		if rec, err = readRecord(buf); err != nil {
			break
		}
		if err = cb(off, l, rec); err != nil {
			return off, err
		}

		// advance the reader past the record
		if _, err = rdr.Discard(int(l)); err != nil {
			break
		}
		off += int64(l)
	}
	if err == io.EOF {
		err = nil
	}
	return
}
