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

package seglog

import (
	"io"
	"os"
)

const segmentBufferSize = 64 * 1024

// segmentWriter appends to the active segment file through a write buffer.
// Reads at offsets past the flushed portion are served from the buffer, so
// a record is readable as soon as Write returns.
type segmentWriter struct {
	buf  []byte
	file *os.File
	off  int64
}

var _ io.ReaderAt = &segmentWriter{}
var _ io.WriteCloser = &segmentWriter{}

func newSegmentWriter(file *os.File, offset int64) *segmentWriter {
	return &segmentWriter{
		buf:  make([]byte, 0, segmentBufferSize),
		file: file,
		off:  offset,
	}
}

// Offset returns the offset at which the next Write will land.
func (w *segmentWriter) Offset() int64 {
	return w.off + int64(len(w.buf))
}

func (w *segmentWriter) ReadAt(p []byte, off int64) (n int, err error) {
	var bp []byte
	if off < w.off {
		// fill some or all of |p| from the file
		fread := int(w.off - off)
		if len(p) > fread {
			// straddled read
			bp = p[fread:]
			p = p[:fread]
		}
		if n, err = w.file.ReadAt(p, off); err != nil {
			return 0, err
		}
		off = 0
	} else {
		// fill all of |p| from the buffer
		bp = p
		off -= w.off
	}
	n += copy(bp, w.buf[off:])
	return
}

func (w *segmentWriter) Write(p []byte) (n int, err error) {
	if len(p) > cap(w.buf) {
		// too large to buffer, write through
		if err = w.Flush(); err != nil {
			return 0, err
		}
		n, err = w.file.WriteAt(p, w.off)
		w.off += int64(n)
		return
	}
	if len(p) > cap(w.buf)-len(w.buf) {
		if err = w.Flush(); err != nil {
			return 0, err
		}
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *segmentWriter) Flush() (err error) {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err = w.file.WriteAt(w.buf, w.off); err != nil {
		return err
	}
	w.off += int64(len(w.buf))
	w.buf = w.buf[:0]
	return
}

func (w *segmentWriter) Sync() (err error) {
	if err = w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *segmentWriter) Close() (err error) {
	if err = w.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}
