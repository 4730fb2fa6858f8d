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

// Package upload implements the Incremental Uploader of :
// diffing the Emitter's desired chunk set against the vector index's
// current state by content_hash, then deleting-before-upserting only what
// changed.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/retry"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// chunkErr records the first upsert failure encountered within a batch's
// worker pool, so concurrent upserts can report one representative error.
// A failure is any non-nil Go error OR a non-OK Class (the Bridge
// convention allows a non-OK classification with a nil error), so "is
// there a failure" is tracked by an explicit flag rather than err != nil.
type chunkErr struct {
	mu    sync.Mutex
	set_  bool
	class bridge.Class
	err   error
}

func (c *chunkErr) set(class bridge.Class, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set_ {
		c.set_ = true
		c.class = class
		c.err = err
	}
}

// DefaultEmbedBatchSize is the default number of chunks embedded per batch.
const DefaultEmbedBatchSize = 96

// DefaultUpsertWorkers is the default upsert worker pool size.
const DefaultUpsertWorkers = 8

// IndexEntry is one chunk as currently known to the vector index, as
// returned by its listing API.
type IndexEntry struct {
	ChunkID     string
	Ref         schema.ObjectRef
	ContentHash string
}

// Embedder computes one vector per text, in the same order, for one
// embedding batch.
type Embedder func(ctx context.Context, texts []string) ([][]float32, bridge.Class, error)

// Upserter submits one chunk and its embedding vector to the index.
type Upserter func(ctx context.Context, chunk schema.Chunk, vector []float32) (bridge.Class, error)

// Deleter removes every chunk whose id has the given prefix from the index.
type Deleter func(ctx context.Context, idPrefix string) (bridge.Class, error)

// Config controls batch and concurrency sizing.
type Config struct {
	EmbedBatchSize int // E, default 96
	UpsertWorkers  int // default 8
}

// DefaultConfig returns the default batch and concurrency sizing.
func DefaultConfig() Config {
	return Config{EmbedBatchSize: DefaultEmbedBatchSize, UpsertWorkers: DefaultUpsertWorkers}
}

// Uploader diffs and applies an incremental update to the vector index.
type Uploader struct {
	retry  *retry.Engine
	cfg    Config
	logger *slog.Logger
}

// New creates an Uploader. cfg's zero fields fall back to DefaultConfig.
func New(retryEngine *retry.Engine, cfg Config, logger *slog.Logger) *Uploader {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.UpsertWorkers <= 0 {
		cfg.UpsertWorkers = DefaultUpsertWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{retry: retryEngine, cfg: cfg, logger: logger}
}

// ChunkFailure records one ref whose delete or upsert batch could not be
// completed even after the Retry Engine exhausted its attempts.
type ChunkFailure struct {
	Ref schema.ObjectRef
	Err error
}

// Report summarizes one Upload call: new/changed/deleted/unchanged
// counts plus explicit counts for partial success: ChunksUpserted counts
// chunks, ChunksDeleted counts deleted per-ref ID prefixes.
type Report struct {
	New, Changed, Deleted, Unchanged int
	ChunksUpserted, ChunksDeleted    int
	Failures                        []ChunkFailure
}

func idPrefix(ref schema.ObjectRef) string {
	return fmt.Sprintf("salesforce_object_%s", ref)
}

// classify implements step 1-2 of algorithm.
func classify(newChunks []schema.Chunk, current []IndexEntry) (newHash, curHash map[schema.ObjectRef]string, byRef map[schema.ObjectRef][]schema.Chunk) {
	newHash = make(map[schema.ObjectRef]string)
	byRef = make(map[schema.ObjectRef][]schema.Chunk)
	for _, c := range newChunks {
		ref := schema.ObjectRef(c.Metadata.ObjectName)
		newHash[ref] = c.Metadata.ContentHash
		byRef[ref] = append(byRef[ref], c)
	}
	curHash = make(map[schema.ObjectRef]string)
	for _, e := range current {
		curHash[e.Ref] = e.ContentHash
	}
	return newHash, curHash, byRef
}

// Upload diffs newChunks against current by content hash, deletes
// anything changed or gone, then upserts anything new or changed.
// onFailedRef, if non-nil, is called for each ref whose delete or upsert
// batch was ultimately not applied, so the caller can re-mark it `error` in the
// Progress Store.
func (u *Uploader) Upload(ctx context.Context, newChunks []schema.Chunk, current []IndexEntry, embed Embedder, upsert Upserter, del Deleter, onFailedRef func(ref schema.ObjectRef)) (Report, error) {
	newHash, curHash, byRef := classify(newChunks, current)

	var newRefs, changedRefs, deletedRefs, unchangedRefs []schema.ObjectRef
	for ref, h := range newHash {
		if prev, ok := curHash[ref]; !ok {
			newRefs = append(newRefs, ref)
		} else if prev != h {
			changedRefs = append(changedRefs, ref)
		} else {
			unchangedRefs = append(unchangedRefs, ref)
		}
	}
	for ref := range curHash {
		if _, ok := newHash[ref]; !ok {
			deletedRefs = append(deletedRefs, ref)
		}
	}
	sort.Slice(newRefs, func(i, j int) bool { return newRefs[i] < newRefs[j] })
	sort.Slice(changedRefs, func(i, j int) bool { return changedRefs[i] < changedRefs[j] })
	sort.Slice(deletedRefs, func(i, j int) bool { return deletedRefs[i] < deletedRefs[j] })

	report := Report{New: len(newRefs), Changed: len(changedRefs), Deleted: len(deletedRefs), Unchanged: len(unchangedRefs)}

	// Deletes precede upserts (changed and deleted refs both need their old
	// chunks removed; changed refs get fresh ones upserted right after). A
	// changed ref whose delete failed is dropped from the upsert set below:
	// upserting its new chunks anyway would leave the stale chunks the
	// failed delete couldn't remove alongside them under the same id prefix.
	deleteFailed := make(map[schema.ObjectRef]bool)
	for _, ref := range append(append([]schema.ObjectRef{}, changedRefs...), deletedRefs...) {
		_, err := u.retry.Do(ctx, func(ctx context.Context) (retry.Classified, error) {
			class, err := del(ctx, idPrefix(ref))
			return retry.Classified{Class: class}, err
		})
		if err != nil {
			u.logger.Error("upload.delete.exhausted", "ref", string(ref), "err", err)
			report.Failures = append(report.Failures, ChunkFailure{Ref: ref, Err: err})
			deleteFailed[ref] = true
			if onFailedRef != nil {
				onFailedRef(ref)
			}
			continue
		}
		report.ChunksDeleted++
	}

	var upsertRefs []schema.ObjectRef
	for _, ref := range append(append([]schema.ObjectRef{}, newRefs...), changedRefs...) {
		if deleteFailed[ref] {
			continue
		}
		upsertRefs = append(upsertRefs, ref)
	}
	sort.Slice(upsertRefs, func(i, j int) bool { return upsertRefs[i] < upsertRefs[j] })

	var toUpsert []schema.Chunk
	for _, ref := range upsertRefs {
		chunks := append([]schema.Chunk(nil), byRef[ref]...)
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].Metadata.PartIndex < chunks[j].Metadata.PartIndex })
		toUpsert = append(toUpsert, chunks...)
	}

	failedRefs := make(map[schema.ObjectRef]bool)
	for _, batch := range chunkBatches(toUpsert, u.cfg.EmbedBatchSize) {
		_, err := u.retry.Do(ctx, func(ctx context.Context) (retry.Classified, error) {
			class, err := u.runBatch(ctx, batch, embed, upsert)
			return retry.Classified{Class: class}, err
		})
		if err != nil {
			u.logger.Error("upload.batch.exhausted", "size", len(batch), "err", err)
			for _, c := range batch {
				ref := schema.ObjectRef(c.Metadata.ObjectName)
				if !failedRefs[ref] {
					failedRefs[ref] = true
					report.Failures = append(report.Failures, ChunkFailure{Ref: ref, Err: err})
					if onFailedRef != nil {
						onFailedRef(ref)
					}
				}
			}
			continue
		}
		report.ChunksUpserted += len(batch)
	}

	return report, nil
}

// runBatch embeds and upserts one batch as a single retryable unit: the
// Retry Engine retries the whole batch (re-embed, re-upsert) rather than
// tracking which individual upserts within it already landed, per
// "a failed batch is retried" wording.
func (u *Uploader) runBatch(ctx context.Context, batch []schema.Chunk, embed Embedder, upsert Upserter) (bridge.Class, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, class, err := embed(ctx, texts)
	if err != nil {
		return class, fmt.Errorf("upload: embed: %w", err)
	}
	if len(vectors) != len(batch) {
		return bridge.ClassTransport, fmt.Errorf("upload: embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.UpsertWorkers)

	var worstMu chunkErr
	for i, c := range batch {
		i, c := i, c
		g.Go(func() error {
			class, err := upsert(gctx, c, vectors[i])
			if err != nil || class != bridge.ClassOK {
				worstMu.set(class, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if worstMu.set_ {
		err := worstMu.err
		if err == nil {
			err = fmt.Errorf("upload: upsert reported class=%s with no error", worstMu.class)
		}
		return worstMu.class, err
	}
	return bridge.ClassOK, nil
}

func chunkBatches(chunks []schema.Chunk, size int) [][]schema.Chunk {
	if size <= 0 {
		size = DefaultEmbedBatchSize
	}
	var batches [][]schema.Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	return batches
}
