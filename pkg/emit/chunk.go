// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

// DefaultTokenCap is T from : the default chunk size, sized
// to stay comfortably within common embedding-model input caps.
const DefaultTokenCap = 512

// approxTokens estimates token count the way embedders are commonly
// budgeted against in the absence of a model-specific tokenizer: one
// whitespace-delimited word is treated as roughly one token.
func approxTokens(s string) int {
	return len(strings.Fields(s))
}

// sectionPrefix marks section boundaries in renderDocument's output.
const sectionPrefix = "## "

// splitSections breaks doc back into its "## " delimited sections,
// preserving each section's heading line.
func splitSections(doc string) []string {
	lines := strings.Split(doc, "\n")
	var sections []string
	var current strings.Builder
	started := false

	for _, line := range lines {
		if strings.HasPrefix(line, sectionPrefix) {
			if started {
				sections = append(sections, current.String())
				current.Reset()
			}
			started = true
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if started {
		sections = append(sections, current.String())
	}
	return sections
}

// splitParagraphs breaks text at blank-line paragraph boundaries.
func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences is the last-resort boundary: a naive split after
// ./!/? followed by whitespace. Good enough for the corpus' generated
// prose (markdown bullet lines, table rows) without a full sentence
// tokenizer dependency.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') && (i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			sentences = append(sentences, cur.String())
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		sentences = append(sentences, cur.String())
	}
	return sentences
}

// fragmentsOf reduces text to a list of fragments each at or under cap
// tokens, splitting progressively coarser-to-finer: the whole text if it
// already fits, else its paragraphs, else (per paragraph) its sentences.
// A single sentence that still exceeds cap is kept whole as a last resort;
// cap bounds fragments, not a hard wire-format limit.
func fragmentsOf(text string, cap int) []string {
	if approxTokens(text) <= cap {
		return []string{text}
	}

	var out []string
	for _, para := range splitParagraphs(text) {
		if approxTokens(para) <= cap {
			out = append(out, para)
			continue
		}
		out = append(out, splitSentences(para)...)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// packFragments greedily accumulates fragments, in order, into chunks that
// stay at or under cap tokens, only crossing a boundary when the next
// fragment would overflow the current chunk.
func packFragments(fragments []string, cap int) []string {
	var chunks []string
	var cur strings.Builder
	curTokens := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			curTokens = 0
		}
	}

	for _, frag := range fragments {
		fragTokens := approxTokens(frag)
		if curTokens > 0 && curTokens+fragTokens > cap {
			flush()
		}
		cur.WriteString(frag)
		if !strings.HasSuffix(frag, "\n") {
			cur.WriteString("\n")
		}
		curTokens += fragTokens
	}
	flush()
	return chunks
}

// chunkText applies the full boundary-preference cascade
// (section, then paragraph, then sentence) to doc, returning ordered text
// chunks each targeting at or under cap tokens.
func chunkText(doc string, cap int) []string {
	if cap <= 0 {
		cap = DefaultTokenCap
	}

	var fragments []string
	sections := splitSections(doc)
	if len(sections) == 0 {
		sections = []string{doc}
	}
	for _, section := range sections {
		fragments = append(fragments, fragmentsOf(section, cap)...)
	}
	return packFragments(fragments, cap)
}

// BuildChunks renders record's document and splits it into Chunks with the
// id scheme from : a bare "salesforce_object_{ref}" id for a
// single-chunk object, "_part_{n}" (1-indexed) ids otherwise, each
// metadata carrying total_parts/part_index/sibling_ids. BuildChunks is
// pure: it performs no I/O.
func BuildChunks(record schema.ObjectRecord, tokenCap int) []schema.Chunk {
	doc := renderDocument(record)
	texts := chunkText(doc, tokenCap)
	if len(texts) == 0 {
		texts = []string{""}
	}

	ids := make([]string, len(texts))
	if len(texts) == 1 {
		ids[0] = fmt.Sprintf("salesforce_object_%s", record.Ref)
	} else {
		for i := range texts {
			ids[i] = fmt.Sprintf("salesforce_object_%s_part_%d", record.Ref, i+1)
		}
	}

	chunks := make([]schema.Chunk, len(texts))
	for i, text := range texts {
		siblings := make([]string, 0, len(ids)-1)
		for j, id := range ids {
			if j != i {
				siblings = append(siblings, id)
			}
		}
		chunks[i] = schema.Chunk{
			ID:   ids[i],
			Text: text,
			Metadata: schema.ChunkMetadata{
				ObjectName:  string(record.Ref),
				Type:        "salesforce_object",
				ContentHash: record.ContentHash,
				TotalParts:  len(texts),
				PartIndex:   i + 1,
				SiblingIDs:  siblings,
			},
		}
	}
	return chunks
}

// BuildCorpus builds Chunks for every record and orders the result by
// (ref, part_index) BuildCorpus is pure.
func BuildCorpus(records []schema.ObjectRecord, tokenCap int) []schema.Chunk {
	var all []schema.Chunk
	for _, record := range records {
		all = append(all, BuildChunks(record, tokenCap)...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Metadata.ObjectName != all[j].Metadata.ObjectName {
			return all[i].Metadata.ObjectName < all[j].Metadata.ObjectName
		}
		return all[i].Metadata.PartIndex < all[j].Metadata.PartIndex
	})
	return all
}
