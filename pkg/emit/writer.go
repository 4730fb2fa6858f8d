// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package emit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

// WriteJSONL writes chunks, one JSON object per line, to path. This is one
// of the Emitter's I/O operations beyond the pure BuildCorpus step.
func WriteJSONL(path string, chunks []schema.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("emit: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("emit: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("emit: encode chunk %s: %w", c.ID, err)
		}
	}
	return f.Sync()
}

// WriteMarkdownDocs writes one per-object markdown file under dir, named
// after the object ref.
func WriteMarkdownDocs(dir string, records []schema.ObjectRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("emit: mkdir: %w", err)
	}
	for _, record := range records {
		path := filepath.Join(dir, string(record.Ref)+".md")
		doc := "# " + record.Label + "\n\n" + renderDocument(record)
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("emit: write %s: %w", path, err)
		}
	}
	return nil
}

// WriteSchemaSnapshot writes the full working-set snapshot as schema.json,
// sorted by ref for deterministic diffs across runs.
func WriteSchemaSnapshot(path string, records []schema.ObjectRecord) error {
	sorted := append([]schema.ObjectRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ref < sorted[j].Ref })

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("emit: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("emit: marshal schema snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
