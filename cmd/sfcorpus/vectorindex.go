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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/schema"
	"github.com/arcspan/sfcorpus/pkg/upload"
)

// vectorIndex wraps the two external HTTP services the Incremental
// Uploader drives: the embedding endpoint and the vector index itself.
// Neither example pack carries a dedicated HTTP client library for this
// kind of one-off REST surface, so this is built directly on net/http
// (see DESIGN.md's justification entry for this file).
type vectorIndex struct {
	client         *http.Client
	embedEndpoint  string
	embedAPIKey    string
	embedModel     string
	indexEndpoint  string
	indexAPIKey    string
	namespace      string
}

func newVectorIndex(embedEndpoint, embedAPIKey, embedModel, indexEndpoint, indexAPIKey, namespace string) *vectorIndex {
	return &vectorIndex{
		client:        &http.Client{Timeout: 60 * time.Second},
		embedEndpoint: embedEndpoint,
		embedAPIKey:   embedAPIKey,
		embedModel:    embedModel,
		indexEndpoint: indexEndpoint,
		indexAPIKey:   indexAPIKey,
		namespace:     namespace,
	}
}

// classifyStatus maps an HTTP response's status code to a bridge.Class
// using the same conservative rule the CLI Bridge applies to subprocess
// exits: 2xx is ok, 429 and 5xx quota/transport are retryable, 4xx other
// than 429 is a syntactic error that retrying will not fix.
func classifyStatus(status int) bridge.Class {
	switch {
	case status >= 200 && status < 300:
		return bridge.ClassOK
	case status == 429:
		return bridge.ClassQuota
	case status >= 500:
		return bridge.ClassTransport
	case status >= 400:
		return bridge.ClassSyntactic
	default:
		return bridge.ClassTransport
	}
}

func (v *vectorIndex) doJSON(ctx context.Context, method, url, apiKey string, body interface{}, out interface{}) (bridge.Class, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return bridge.ClassTransport, fmt.Errorf("vector index: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return bridge.ClassTransport, fmt.Errorf("vector index: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return bridge.ClassTimeout, fmt.Errorf("vector index: %s %s: %w", method, url, err)
		}
		return bridge.ClassTransport, fmt.Errorf("vector index: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	class := classifyStatus(resp.StatusCode)
	if class != bridge.ClassOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return class, fmt.Errorf("vector index: %s %s: status %d: %s", method, url, resp.StatusCode, string(drained))
	}
	if out == nil {
		return bridge.ClassOK, nil
	}
	if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
		return bridge.ClassTransport, fmt.Errorf("vector index: %s %s: decode response: %w", method, url, derr)
	}
	return bridge.ClassOK, nil
}

// embedRequest/embedResponse model a generic batch embedding API: a list
// of input strings and model name in, a list of equal-length float vectors
// out, in the same order as the inputs.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed implements upload.Embedder.
func (v *vectorIndex) Embed(ctx context.Context, texts []string) ([][]float32, bridge.Class, error) {
	var resp embedResponse
	class, err := v.doJSON(ctx, http.MethodPost, v.embedEndpoint+"/embeddings", v.embedAPIKey,
		embedRequest{Model: v.embedModel, Input: texts}, &resp)
	if err != nil {
		return nil, class, err
	}
	return resp.Vectors, bridge.ClassOK, nil
}

// upsertRequest is the per-chunk payload the vector index's upsert
// endpoint accepts.
type upsertRequest struct {
	ID       string                `json:"id"`
	Vector   []float32             `json:"vector"`
	Text     string                `json:"text"`
	Metadata schema.ChunkMetadata  `json:"metadata"`
}

// Upsert implements upload.Upserter, prefixing the chunk ID with the
// configured corpus namespace so multiple tenants' corpora can coexist in
// one index.
func (v *vectorIndex) Upsert(ctx context.Context, chunk schema.Chunk, vector []float32) (bridge.Class, error) {
	id := v.namespacedID(chunk.ID)
	class, err := v.doJSON(ctx, http.MethodPost, v.indexEndpoint+"/vectors/upsert", v.indexAPIKey,
		upsertRequest{ID: id, Vector: vector, Text: chunk.Text, Metadata: chunk.Metadata}, nil)
	return class, err
}

// deleteRequest asks the index to remove every vector whose ID starts
// with Prefix, matching the Incremental Uploader's "delete all of a
// changed object's prior chunks" step.
type deleteRequest struct {
	Prefix string `json:"id_prefix"`
}

// Delete implements upload.Deleter.
func (v *vectorIndex) Delete(ctx context.Context, idPrefix string) (bridge.Class, error) {
	class, err := v.doJSON(ctx, http.MethodPost, v.indexEndpoint+"/vectors/delete", v.indexAPIKey,
		deleteRequest{Prefix: v.namespacedID(idPrefix)}, nil)
	return class, err
}

// listEntry/listResponse model the index's current-state listing, used to
// compute the diff that drives Upload.
type listEntry struct {
	ID          string `json:"id"`
	ContentHash string `json:"content_hash"`
}

type listResponse struct {
	Entries []listEntry `json:"entries"`
}

// List returns the index's current entries for this namespace as
// []upload.IndexEntry, deriving each entry's object ref from its chunk ID
// (stripping the namespace prefix and the trailing "_part_N" suffix the
// Emitter assigns).
func (v *vectorIndex) List(ctx context.Context) ([]upload.IndexEntry, bridge.Class, error) {
	var resp listResponse
	class, err := v.doJSON(ctx, http.MethodGet, v.indexEndpoint+"/vectors/list?namespace="+v.namespace, v.indexAPIKey, nil, &resp)
	if err != nil {
		return nil, class, err
	}
	out := make([]upload.IndexEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, upload.IndexEntry{
			ChunkID:     e.ID,
			Ref:         refFromChunkID(v.stripNamespace(e.ID)),
			ContentHash: e.ContentHash,
		})
	}
	return out, bridge.ClassOK, nil
}

func (v *vectorIndex) namespacedID(id string) string {
	if v.namespace == "" {
		return id
	}
	return v.namespace + "_" + id
}

func (v *vectorIndex) stripNamespace(id string) string {
	if v.namespace == "" {
		return id
	}
	prefix := v.namespace + "_"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}

// refFromChunkID recovers the object ref a chunk ID was minted for, e.g.
// "salesforce_object_Account_part_2" -> "Account", "salesforce_object_Account" ->
// "Account" for a single-chunk object (pkg/emit's BuildChunks omits the
// "_part_N" suffix entirely when there's only one chunk). Only a trailing
// "_part_" followed by an all-digit remainder is stripped, since the ref
// itself is an arbitrary tenant object name and may legitimately contain
// the substring "_part_" anywhere that isn't this suffix.
func refFromChunkID(chunkID string) schema.ObjectRef {
	const prefix = "salesforce_object_"
	rest := chunkID
	if len(rest) > len(prefix) && rest[:len(prefix)] == prefix {
		rest = rest[len(prefix):]
	}
	if idx := partSuffixIndex(rest); idx >= 0 {
		rest = rest[:idx]
	}
	return schema.ObjectRef(rest)
}

// partSuffixIndex returns the index of the last "_part_<digits>" suffix in
// s, or -1 if s doesn't end in one.
func partSuffixIndex(s string) int {
	const marker = "_part_"
	for i := len(s) - len(marker); i >= 0; i-- {
		if s[i:i+len(marker)] != marker {
			continue
		}
		digits := s[i+len(marker):]
		if digits == "" {
			continue
		}
		allDigits := true
		for _, r := range digits {
			if r < '0' || r > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return i
		}
	}
	return -1
}
