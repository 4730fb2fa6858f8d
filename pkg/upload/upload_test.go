// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/retry"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

func newUploader(t *testing.T) *Uploader {
	t.Helper()
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = 0
	cfg.QuotaFloor = 0
	return New(retry.New(cfg, nil, nil), Config{EmbedBatchSize: 2, UpsertWorkers: 2}, nil)
}

func chunkFor(ref schema.ObjectRef, hash string) schema.Chunk {
	return schema.Chunk{
		ID:   "salesforce_object_" + string(ref),
		Text: "body",
		Metadata: schema.ChunkMetadata{
			ObjectName:  string(ref),
			ContentHash: hash,
			TotalParts:  1,
			PartIndex:   1,
		},
	}
}

func okEmbed(ctx context.Context, texts []string) ([][]float32, bridge.Class, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 2, 3}
	}
	return vecs, bridge.ClassOK, nil
}

func TestUpload_ClassifiesNewChangedDeletedUnchanged(t *testing.T) {
	u := newUploader(t)

	newChunks := []schema.Chunk{
		chunkFor("Account", "h1"),  // unchanged
		chunkFor("Contact", "h2x"), // changed (was h2)
		chunkFor("Lead", "h3"),     // new
	}
	current := []IndexEntry{
		{ChunkID: "salesforce_object_Account", Ref: "Account", ContentHash: "h1"},
		{ChunkID: "salesforce_object_Contact", Ref: "Contact", ContentHash: "h2"},
		{ChunkID: "salesforce_object_Opportunity", Ref: "Opportunity", ContentHash: "h4"}, // deleted
	}

	var deletedPrefixes []string
	var upsertedIDs []string

	del := func(ctx context.Context, prefix string) (bridge.Class, error) {
		deletedPrefixes = append(deletedPrefixes, prefix)
		return bridge.ClassOK, nil
	}
	ups := func(ctx context.Context, c schema.Chunk, vector []float32) (bridge.Class, error) {
		upsertedIDs = append(upsertedIDs, c.ID)
		return bridge.ClassOK, nil
	}

	report, err := u.Upload(context.Background(), newChunks, current, okEmbed, ups, del, nil)
	require.NoError(t, err)

	require.Equal(t, 1, report.New)
	require.Equal(t, 1, report.Changed)
	require.Equal(t, 1, report.Deleted)
	require.Equal(t, 1, report.Unchanged)
	require.Empty(t, report.Failures)

	require.ElementsMatch(t, []string{"salesforce_object_Contact", "salesforce_object_Opportunity"}, deletedPrefixes)
	require.ElementsMatch(t, []string{"salesforce_object_Lead", "salesforce_object_Contact"}, upsertedIDs)
	require.Equal(t, 2, report.ChunksUpserted)
	require.Equal(t, 2, report.ChunksDeleted)
}

func TestUpload_UnchangedRefsAreNoOp(t *testing.T) {
	u := newUploader(t)
	newChunks := []schema.Chunk{chunkFor("Account", "h1")}
	current := []IndexEntry{{ChunkID: "salesforce_object_Account", Ref: "Account", ContentHash: "h1"}}

	called := false
	del := func(ctx context.Context, prefix string) (bridge.Class, error) { called = true; return bridge.ClassOK, nil }
	ups := func(ctx context.Context, c schema.Chunk, vector []float32) (bridge.Class, error) { called = true; return bridge.ClassOK, nil }

	report, err := u.Upload(context.Background(), newChunks, current, okEmbed, ups, del, nil)
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, 1, report.Unchanged)
}

func TestUpload_ExhaustedBatchReportsFailureAndCallsHook(t *testing.T) {
	u := newUploader(t)
	newChunks := []schema.Chunk{chunkFor("Lead", "h1")}

	failingEmbed := func(ctx context.Context, texts []string) ([][]float32, bridge.Class, error) {
		return nil, bridge.ClassTransport, assertErr("embedder down")
	}
	ups := func(ctx context.Context, c schema.Chunk, vector []float32) (bridge.Class, error) {
		return bridge.ClassOK, nil
	}

	var failedRef schema.ObjectRef
	report, err := u.Upload(context.Background(), newChunks, nil, failingEmbed, ups, func(ctx context.Context, prefix string) (bridge.Class, error) {
		return bridge.ClassOK, nil
	}, func(ref schema.ObjectRef) { failedRef = ref })

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	require.Equal(t, schema.ObjectRef("Lead"), failedRef)
	require.Equal(t, 0, report.ChunksUpserted)
}

func TestUpload_DeletesPrecedeUpserts(t *testing.T) {
	u := newUploader(t)
	newChunks := []schema.Chunk{chunkFor("Account", "h2")}
	current := []IndexEntry{{ChunkID: "salesforce_object_Account", Ref: "Account", ContentHash: "h1"}}

	var order []string
	del := func(ctx context.Context, prefix string) (bridge.Class, error) {
		order = append(order, "delete:"+prefix)
		return bridge.ClassOK, nil
	}
	ups := func(ctx context.Context, c schema.Chunk, vector []float32) (bridge.Class, error) {
		order = append(order, "upsert:"+c.ID)
		return bridge.ClassOK, nil
	}

	_, err := u.Upload(context.Background(), newChunks, current, okEmbed, ups, del, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"delete:salesforce_object_Account", "upsert:salesforce_object_Account"}, order)
}

func TestUpload_FailedDeleteSkipsUpsertForThatRef(t *testing.T) {
	u := newUploader(t)
	newChunks := []schema.Chunk{chunkFor("Account", "h2")}
	current := []IndexEntry{{ChunkID: "salesforce_object_Account", Ref: "Account", ContentHash: "h1"}}

	del := func(ctx context.Context, prefix string) (bridge.Class, error) {
		return bridge.ClassTransport, assertErr("delete down")
	}
	upserted := false
	ups := func(ctx context.Context, c schema.Chunk, vector []float32) (bridge.Class, error) {
		upserted = true
		return bridge.ClassOK, nil
	}

	var failedRef schema.ObjectRef
	report, err := u.Upload(context.Background(), newChunks, current, okEmbed, ups, del, func(ref schema.ObjectRef) { failedRef = ref })
	require.NoError(t, err)
	require.False(t, upserted, "changed ref's chunks must not be upserted when its delete failed")
	require.Equal(t, schema.ObjectRef("Account"), failedRef)
	require.Len(t, report.Failures, 1)
	require.Equal(t, 0, report.ChunksUpserted)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
