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

// Package progress implements the Progress & Resume Store of :
// file-backed, per-object per-phase state, written atomically after every
// transition through a single serialized writer, with lock-free reads.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

type refPhase struct {
	Ref   schema.ObjectRef
	Phase string
}

type markRequest struct {
	ref     schema.ObjectRef
	phase   string
	state   schema.ProgressState
	errMsg  string
	now     int64
	done    chan error
}

// Store is the Progress & Resume Store. All mutation goes through a single
// writer goroutine fed by a channel, so concurrent Mark calls from many
// workers are serialized without callers needing their own locking; reads
// (Get, Pending) take a lock-free snapshot of the current state.
type Store struct {
	path     string
	writes   chan markRequest
	done     chan struct{}
	snapshot atomic.Pointer[map[refPhase]schema.ProgressRecord]
}

// New opens (or creates) the progress file at path and starts the writer
// goroutine. An existing file seeds the in-memory state for resumption.
func New(path string) (*Store, error) {
	records, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("progress: load %s: %w", path, err)
	}

	s := &Store{
		path:   path,
		writes: make(chan markRequest, 64),
		done:   make(chan struct{}),
	}
	s.snapshot.Store(&records)

	go s.run()
	return s, nil
}

func load(path string) (map[refPhase]schema.ProgressRecord, error) {
	records := make(map[refPhase]schema.ProgressRecord)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return records, nil
	}

	var list []schema.ProgressRecord
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("corrupt progress file: %w", err)
	}
	for _, rec := range list {
		records[refPhase{Ref: rec.Ref, Phase: rec.Phase}] = rec
	}
	return records, nil
}

func (s *Store) run() {
	defer close(s.done)
	for req := range s.writes {
		current := *s.snapshot.Load()
		next := make(map[refPhase]schema.ProgressRecord, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[refPhase{Ref: req.ref, Phase: req.phase}] = schema.ProgressRecord{
			Ref:           req.ref,
			Phase:         req.phase,
			State:         req.state,
			LastAttemptAt: req.now,
			Error:         req.errMsg,
		}

		err := persist(s.path, next)
		if err == nil {
			s.snapshot.Store(&next)
		}
		req.done <- err
	}
}

func persist(path string, records map[refPhase]schema.ProgressRecord) error {
	list := make([]schema.ProgressRecord, 0, len(records))
	for _, rec := range records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Ref != list[j].Ref {
			return list[i].Ref < list[j].Ref
		}
		return list[i].Phase < list[j].Phase
	})

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Mark records a state transition for ref's phase, persisting atomically
// before returning. now is a caller-supplied Unix timestamp (the store
// never calls time.Now itself, keeping it deterministic for tests).
func (s *Store) Mark(ref schema.ObjectRef, phase string, state schema.ProgressState, errMsg string, now int64) error {
	req := markRequest{ref: ref, phase: phase, state: state, errMsg: errMsg, now: now, done: make(chan error, 1)}
	s.writes <- req
	return <-req.done
}

// Get returns the current record for ref's phase, if one exists.
func (s *Store) Get(ref schema.ObjectRef, phase string) (schema.ProgressRecord, bool) {
	records := *s.snapshot.Load()
	rec, ok := records[refPhase{Ref: ref, Phase: phase}]
	return rec, ok
}

// Pending returns every ref whose phase record is missing, pending, or
// error (i.e. still outstanding work for phase), in deterministic order.
// A ref with no record at all for phase is implicitly pending: the
// Orchestrator seeds phase as it discovers refs, not the other way round.
func (s *Store) Pending(phase string, universe []schema.ObjectRef) []schema.ObjectRef {
	records := *s.snapshot.Load()
	var pending []schema.ObjectRef
	for _, ref := range universe {
		rec, ok := records[refPhase{Ref: ref, Phase: phase}]
		if !ok || rec.State == schema.StatePending || rec.State == schema.StateError {
			pending = append(pending, ref)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })
	return pending
}

// Done reports whether pending(phase) is empty against universe.
func (s *Store) Done(phase string, universe []schema.ObjectRef) bool {
	return len(s.Pending(phase, universe)) == 0
}

// Close stops the writer goroutine. Since every Mark already persists
// synchronously before returning, there is nothing left to flush; Close
// just releases the writer goroutine. Callers must not call Mark
// concurrently with Close.
func (s *Store) Close() {
	close(s.writes)
	<-s.done
}
