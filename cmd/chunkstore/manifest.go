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

package main

import (
	"bytes"
	"context"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/cdcfs"
	"github.com/kamenkremen/chunkstore/chunks"
	"github.com/kamenkremen/chunkstore/hash"
	"github.com/kamenkremen/chunkstore/store"
)

// The file namespace lives in the store itself, as a TOML manifest under
// a reserved key, so it survives between CLI invocations.
var manifestKey = hash.Of([]byte("chunkstore.manifest.v1"))

type manifest struct {
	Files []manifestFile `toml:"files"`
}

type manifestFile struct {
	Name   string          `toml:"name"`
	Chunks []manifestChunk `toml:"chunks"`
}

type manifestChunk struct {
	Addr   string `toml:"addr"`
	Length int    `toml:"length"`
}

// restoreManifest loads the manifest from |ks| and registers every file
// with |fs|. A store without a manifest yields an empty namespace.
func restoreManifest(ctx context.Context, ks store.KeyStore, fs *cdcfs.FileSystem) error {
	c, err := ks.Get(ctx, manifestKey)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	var m manifest
	if err = toml.Unmarshal(c.Data(), &m); err != nil {
		return errors.Wrap(err, "decoding manifest")
	}
	for _, f := range m.Files {
		refs := make([]cdcfs.ChunkRef, len(f.Chunks))
		for i, c := range f.Chunks {
			addr, ok := hash.MaybeParse(c.Addr)
			if !ok {
				return errors.Errorf("manifest: bad chunk address %q", c.Addr)
			}
			refs[i] = cdcfs.ChunkRef{Addr: addr, Length: c.Length}
		}
		fs.Restore(f.Name, refs)
	}
	return nil
}

// saveManifest serializes the namespace of |fs| back into |ks|.
func saveManifest(ctx context.Context, ks store.KeyStore, fs *cdcfs.FileSystem) error {
	var m manifest
	for _, info := range fs.List() {
		layout, err := fs.Layout(info.Name)
		if err != nil {
			return err
		}
		mf := manifestFile{Name: info.Name}
		for _, ref := range layout {
			mf.Chunks = append(mf.Chunks, manifestChunk{
				Addr:   ref.Addr.String(),
				Length: ref.Length,
			})
		}
		m.Files = append(m.Files, mf)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	return ks.Insert(ctx, chunks.NewChunkWithHash(manifestKey, buf.Bytes()))
}
