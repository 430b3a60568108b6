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

// Command chunkstore stores files as deduplicated content-addressed
// chunks in a local directory.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/attic-labs/kingpin"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kamenkremen/chunkstore/cdcfs"
	"github.com/kamenkremen/chunkstore/store"
)

func main() {
	// allow short (-h) help
	kingpin.EnableFileExpansion = false
	kingpin.CommandLine.HelpFlag.Short('h')
	app := kingpin.New("chunkstore", "Deduplicating content-addressed file storage.")

	// global flags
	configPath := app.Flag("config", "path to a chunkstore.toml").String()
	dirFlag := app.Flag("dir", "store directory (overrides config)").String()
	chunkerFlag := app.Flag("chunker", "chunker to use: fixed or buz (overrides config)").String()
	hasherFlag := app.Flag("hasher", "hasher to use: sha512 or xxhash (overrides config)").String()
	verbose := app.Flag("verbose", "show debug logging").Short('v').Bool()

	put := app.Command("put", "Store a file.")
	putPath := put.Arg("path", "file to store").Required().String()
	putName := put.Flag("name", "name to store under, default is the base name").String()

	get := app.Command("get", "Materialize a stored file.")
	getName := get.Arg("name", "stored file name").Required().String()
	getOut := get.Flag("out", "output path, default is the stored name").String()

	ls := app.Command("ls", "List stored files.")

	stats := app.Command("stats", "Show store statistics.")

	bench := app.Command("bench", "Run a synthetic write/read benchmark against a throwaway store.")
	benchSize := bench.Flag("size", "bytes of synthetic data").Default("67108864").Int64()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	lgr := logrus.New()
	if *verbose {
		lgr.SetLevel(logrus.DebugLevel)
	}
	lg := logrus.NewEntry(lgr)

	cfg, err := loadConfig(*configPath)
	app.FatalIfError(err, "config")
	if *dirFlag != "" {
		cfg.Dir = *dirFlag
	}
	if *chunkerFlag != "" {
		cfg.Chunker = *chunkerFlag
	}
	if *hasherFlag != "" {
		cfg.Hasher = *hasherFlag
	}

	ctx := context.Background()
	switch cmd {
	case put.FullCommand():
		app.FatalIfError(runPut(ctx, cfg, lg, *putPath, *putName), "put")
	case get.FullCommand():
		app.FatalIfError(runGet(ctx, cfg, lg, *getName, *getOut), "get")
	case ls.FullCommand():
		app.FatalIfError(runLs(ctx, cfg, lg), "ls")
	case stats.FullCommand():
		app.FatalIfError(runStats(ctx, cfg, lg), "stats")
	case bench.FullCommand():
		app.FatalIfError(runBench(ctx, cfg, lg, *benchSize), "bench")
	}
}

// openStore opens the configured store and a filesystem over it with the
// namespace restored from the manifest.
func openStore(ctx context.Context, cfg config, lg *logrus.Entry) (*store.BPlusStore, *cdcfs.FileSystem, error) {
	hasher, err := cfg.hasher()
	if err != nil {
		return nil, nil, err
	}
	ks, err := store.NewBPlusStore(ctx, cfg.Dir,
		store.WithDegree(cfg.Degree),
		store.WithMaxSegmentSize(cfg.SegmentSize),
		store.WithLogger(lg))
	if err != nil {
		return nil, nil, err
	}
	fs := cdcfs.NewFileSystem(ks, cdcfs.WithHasher(hasher), cdcfs.WithLogger(lg))
	if err = restoreManifest(ctx, ks, fs); err != nil {
		ks.Close()
		return nil, nil, err
	}
	return ks, fs, nil
}

func runPut(ctx context.Context, cfg config, lg *logrus.Entry, path, name string) error {
	chunker, err := cfg.chunker()
	if err != nil {
		return err
	}
	ks, fs, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer ks.Close()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if name == "" {
		name = filepath.Base(path)
	}
	fh, err := fs.Create(name, chunker)
	if err != nil {
		return err
	}

	t0 := time.Now()
	n, err := fs.WriteFrom(ctx, fh, f)
	if err != nil {
		return err
	}
	m, err := fs.Close(ctx, fh)
	if err != nil {
		return err
	}
	if err = saveManifest(ctx, ks, fs); err != nil {
		return err
	}
	if err = ks.Sync(); err != nil {
		return err
	}
	elapsed := time.Since(t0)

	fmt.Printf("stored %s as %q in %s (%s/s)\n",
		humanize.Bytes(uint64(n)), name, elapsed.Round(time.Millisecond), rate(n, elapsed))
	fmt.Printf("chunking %s, hashing %s, dedup ratio %.2f\n",
		m.ChunkingTime.Round(time.Microsecond), m.HashingTime.Round(time.Microsecond), fs.DedupRatio())
	return nil
}

func runGet(ctx context.Context, cfg config, lg *logrus.Entry, name, out string) error {
	ks, fs, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer ks.Close()

	fh, err := fs.OpenReadonly(name)
	if err != nil {
		return err
	}
	if out == "" {
		out = filepath.Base(name)
	}
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()

	t0 := time.Now()
	var n int64
	for {
		span, err := fs.Read(ctx, fh)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		w, err := dst.Write(span)
		if err != nil {
			return err
		}
		n += int64(w)
	}
	elapsed := time.Since(t0)

	fmt.Printf("wrote %s to %s in %s (%s/s)\n",
		humanize.Bytes(uint64(n)), out, elapsed.Round(time.Millisecond), rate(n, elapsed))
	return nil
}

func runLs(ctx context.Context, cfg config, lg *logrus.Entry) error {
	ks, fs, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer ks.Close()

	for _, info := range fs.List() {
		fmt.Printf("%10s  %s\n", humanize.Bytes(uint64(info.Size)), info.Name)
	}
	return nil
}

func runStats(ctx context.Context, cfg config, lg *logrus.Entry) error {
	ks, fs, err := openStore(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer ks.Close()

	size, err := ks.DiskSize()
	if err != nil {
		return err
	}
	fmt.Printf("files:  %d\n", len(fs.List()))
	fmt.Printf("chunks: %d\n", ks.Count())
	fmt.Printf("disk:   %s\n", humanize.Bytes(uint64(size)))
	return nil
}

func runBench(ctx context.Context, cfg config, lg *logrus.Entry, size int64) error {
	if size <= 0 {
		return errors.Errorf("--size must be positive, got %d", size)
	}
	chunker, err := cfg.chunker()
	if err != nil {
		return err
	}
	hasher, err := cfg.hasher()
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "chunkstore-bench-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	ks, err := store.NewBPlusStore(ctx, dir,
		store.WithDegree(cfg.Degree),
		store.WithMaxSegmentSize(cfg.SegmentSize),
		store.WithLogger(lg))
	if err != nil {
		return err
	}
	defer ks.Close()
	fs := cdcfs.NewFileSystem(ks, cdcfs.WithHasher(hasher), cdcfs.WithLogger(lg))

	data := make([]byte, size)
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(data)

	fh, err := fs.Create("bench", chunker)
	if err != nil {
		return err
	}
	t0 := time.Now()
	if _, err = fs.Write(ctx, fh, data); err != nil {
		return err
	}
	m, err := fs.Close(ctx, fh)
	if err != nil {
		return err
	}
	if err = ks.Sync(); err != nil {
		return err
	}
	writeTime := time.Since(t0)

	fh, err = fs.OpenReadonly("bench")
	if err != nil {
		return err
	}
	t0 = time.Now()
	if _, err = fs.ReadAll(ctx, fh); err != nil {
		return err
	}
	readTime := time.Since(t0)

	fmt.Printf("write: %s in %s (%s/s), chunking %s, hashing %s\n",
		humanize.Bytes(uint64(size)), writeTime.Round(time.Millisecond), rate(size, writeTime),
		m.ChunkingTime.Round(time.Microsecond), m.HashingTime.Round(time.Microsecond))
	fmt.Printf("read:  %s in %s (%s/s)\n",
		humanize.Bytes(uint64(size)), readTime.Round(time.Millisecond), rate(size, readTime))
	fmt.Println()
	fmt.Println(ks.StatsSummary())
	return nil
}

func rate(n int64, d time.Duration) string {
	if d <= 0 {
		return humanize.Bytes(uint64(n))
	}
	return humanize.Bytes(uint64(float64(n) / d.Seconds()))
}
