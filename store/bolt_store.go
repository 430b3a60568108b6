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

package store

import (
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
)

var chunksBucket = []byte("chunks")

// BoltStore keeps chunks in a single-file boltdb database. Useful when the
// dataset must live in one file or be read by other bolt tooling.
type BoltStore struct {
	db *bolt.DB
}

var _ KeyStore = &BoltStore{}

// NewBoltStore opens or creates the database at |path|.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0666, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "store: open bolt db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chunksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Insert(ctx context.Context, c chunks.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := c.Hash()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chunksBucket).Put(key[:], c.Data())
	})
}

func (s *BoltStore) Get(ctx context.Context, key hash.Hash) (chunks.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return chunks.EmptyChunk, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chunksBucket).Get(key[:])
		if v == nil {
			return errors.Wrapf(ErrKeyNotFound, "%s", key)
		}
		// v is only valid inside the transaction
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return chunks.EmptyChunk, err
	}
	return chunks.NewChunkWithHash(key, data), nil
}

func (s *BoltStore) Has(ctx context.Context, key hash.Hash) (ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return false, err
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(chunksBucket).Get(key[:]) != nil
		return nil
	})
	return ok, err
}

func (s *BoltStore) Delete(ctx context.Context, key hash.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chunksBucket)
		if b.Get(key[:]) == nil {
			return errors.Wrapf(ErrKeyNotFound, "%s", key)
		}
		return b.Delete(key[:])
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
