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
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/kamenkremen/chunkstore/cdcfs"
	"github.com/kamenkremen/chunkstore/store"
	"github.com/kamenkremen/chunkstore/store/seglog"
)

// config mirrors chunkstore.toml. Flags override any field.
type config struct {
	Dir         string `toml:"dir"`
	Degree      int    `toml:"degree"`
	SegmentSize int64  `toml:"segment_size"`
	Chunker     string `toml:"chunker"` // fixed | buz
	Hasher      string `toml:"hasher"`  // sha512 | xxhash
}

func defaultConfig() config {
	return config{
		Dir:         "chunkstore-data",
		Degree:      store.DefaultDegree,
		SegmentSize: seglog.DefaultMaxSegmentSize,
		Chunker:     "buz",
		Hasher:      "sha512",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "reading %s", path)
	}
	return cfg, nil
}

func (cfg config) chunker() (cdcfs.Chunker, error) {
	switch cfg.Chunker {
	case "fixed":
		return cdcfs.NewFixedChunker(), nil
	case "buz":
		return cdcfs.NewBuzChunker(), nil
	default:
		return nil, errors.Errorf("unknown chunker %q (want fixed or buz)", cfg.Chunker)
	}
}

func (cfg config) hasher() (cdcfs.Hasher, error) {
	switch cfg.Hasher {
	case "sha512":
		return cdcfs.Sha512Hasher{}, nil
	case "xxhash":
		return cdcfs.XXHasher{}, nil
	default:
		return nil, errors.Errorf("unknown hasher %q (want sha512 or xxhash)", cfg.Hasher)
	}
}
