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
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/hash"
)

// Segment record format (big-endian):
//
//	length   u32   total record length, including this field
//	kind     u8    chunkKind or tombstoneKind
//	address  20B   content address of the payload
//	payload  ...   snappy-compressed chunk data (empty for tombstones)
//	checksum u32   crc32c over all preceding bytes
type recordKind uint8

const (
	unknownKind   recordKind = 0
	tombstoneKind recordKind = 1
	chunkKind     recordKind = 2

	recLenSz   = 4
	recKindSz  = 1
	addrSz     = hash.ByteLen
	checksumSz = 4
	recMinSz   = recLenSz + recKindSz + addrSz + checksumSz

	// recMaxSz bounds a single record. Chunkers cap chunks well below
	// this; anything larger in a segment file is treated as corruption.
	recMaxSz = 16 << 20

	tombstoneRecordSz = recMinSz
)

var (
	ErrCorruptRecord = errors.New("seglog: corrupt record")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

func crc(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}

type record struct {
	kind    recordKind
	address hash.Hash
	payload []byte // compressed
}

// encodeChunkRecord serializes |data| addressed by |h| into a fresh buffer.
func encodeChunkRecord(h hash.Hash, data []byte) []byte {
	comp := snappy.Encode(nil, data)
	buf := make([]byte, recMinSz+len(comp))
	n := writeRecordHeader(buf, chunkKind, h, uint32(len(buf)))
	n += uint32(copy(buf[n:], comp))
	writeUint32(buf[n:], crc(buf[:n]))
	return buf
}

func encodeTombstoneRecord(h hash.Hash) []byte {
	buf := make([]byte, tombstoneRecordSz)
	n := writeRecordHeader(buf, tombstoneKind, h, tombstoneRecordSz)
	writeUint32(buf[n:], crc(buf[:n]))
	return buf
}

func writeRecordHeader(buf []byte, kind recordKind, h hash.Hash, length uint32) (n uint32) {
	writeUint32(buf[:recLenSz], length)
	n += recLenSz
	buf[n] = byte(kind)
	n += recKindSz
	copy(buf[n:], h[:])
	n += addrSz
	return
}

// readRecord parses a full record buffer, verifying the checksum. The
// returned payload is still compressed and aliases |buf|.
func readRecord(buf []byte) (rec record, err error) {
	if len(buf) < recMinSz {
		return record{}, errors.Wrapf(ErrCorruptRecord, "short record (%d bytes)", len(buf))
	}
	o := len(buf) - checksumSz
	if crc(buf[:o]) != readUint32(buf[o:]) {
		return record{}, errors.Wrap(ErrCorruptRecord, "checksum mismatch")
	}

	buf = buf[recLenSz:]
	rec.kind = recordKind(buf[0])
	buf = buf[recKindSz:]
	copy(rec.address[:], buf)
	buf = buf[addrSz:]
	rec.payload = buf[: len(buf)-checksumSz : len(buf)-checksumSz]

	switch rec.kind {
	case chunkKind, tombstoneKind:
		return rec, nil
	default:
		return record{}, errors.Wrapf(ErrCorruptRecord, "unknown record kind (%d)", rec.kind)
	}
}

// decompress returns the chunk data carried by a chunk record.
func (rec record) decompress() ([]byte, error) {
	data, err := snappy.Decode(nil, rec.payload)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptRecord, err.Error())
	}
	return data, nil
}

func readUint32(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func writeUint32(buf []byte, u uint32) {
	binary.BigEndian.PutUint32(buf, u)
}
