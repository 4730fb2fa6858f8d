// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/arcspan/sfcorpus/internal/ui"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/config"
)

// statusResult is the status command's JSON output shape.
type statusResult struct {
	OutputDir    string      `json:"output_dir"`
	CorpusExists bool        `json:"corpus_exists"`
	ChunkCount   int         `json:"chunk_count"`
	CacheDir     string      `json:"cache_dir"`
	CacheStats   cache.Stats `json:"cache_stats"`
	Error        string      `json:"error,omitempty"`
}

// runStatus executes the 'status' CLI command: it reports whether the
// last run produced a corpus, how many chunks it contains, and the cache
// hit/miss counters of the Cache Store this command opens. Those counters
// are held in memory only, so they do not carry over from an earlier run.
//
// Global flags from main:
//   - --json: output as JSON
//   - --quiet: no effect; the report is always printed
//
// Examples:
//
//	sfcorpus status
//	sfcorpus status --json
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sfcorpus status [options]

Description:
  Show whether the last run produced a corpus, how many chunks it
  contains, and the cache's hit/miss counters (kept in memory per
  process, so they do not include earlier runs).

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err, globals.JSON)
	}

	result := statusResult{
		OutputDir: cfg.OutputDir,
		CacheDir:  cfg.Cache.Dir,
	}

	jsonlPath := filepath.Join(cfg.OutputDir, "corpus.jsonl")
	if count, err := countLines(jsonlPath); err == nil {
		result.CorpusExists = true
		result.ChunkCount = count
	} else if !os.IsNotExist(err) {
		result.Error = err.Error()
	}

	if cacheStore, err := cache.New(cfg.Cache.Dir, cfg.CacheTTL()); err == nil {
		result.CacheStats = cacheStore.Stats()
		cacheStore.Close()
	} else if result.Error == "" {
		result.Error = err.Error()
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	fmt.Printf("Output directory: %s\n", result.OutputDir)
	if result.CorpusExists {
		fmt.Printf("Corpus:           %s (%d chunks)\n", ui.Success("present"), result.ChunkCount)
	} else {
		fmt.Printf("Corpus:           %s\n", ui.Dim("not yet emitted"))
	}
	fmt.Printf("Cache directory:  %s\n", result.CacheDir)
	fmt.Printf("Cache stats:      %d hits, %d misses, %d writes, %d bytes saved\n",
		result.CacheStats.Hits, result.CacheStats.Misses, result.CacheStats.Writes, result.CacheStats.BytesSaved)
	if result.Error != "" {
		fmt.Println(ui.Warn("Warning: %s", result.Error))
	}
}

// countLines returns the number of lines in path (a last line without a
// trailing newline counts too), i.e. the chunk count of a JSONL corpus file.
func countLines(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is derived from the resolved output_dir config
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
