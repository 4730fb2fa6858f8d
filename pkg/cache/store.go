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

// Package cache is the directory-backed, content-addressed Cache Store.
// Writes are atomic (temp file, fsync, rename); entries are
// served whole or not at all, never partially.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold is the payload size at or above which writes are
// compressed.
const compressionThreshold = 4 * 1024

// schemaVersion is bumped to invalidate all existing cache entries when the
// on-disk entry format changes.
const schemaVersion = 1

// entryFile is the on-disk envelope for one CacheEntry.
type entryFile struct {
	DataType      string `json:"data_type"`
	CreatedAt     int64  `json:"created_at"`
	SchemaVersion int    `json:"schema_version"`
	Compressed    bool   `json:"compressed"`
	Payload       []byte `json:"payload"`
}

// Stats are monotonic counters, reset only by an unfiltered Clear.
type Stats struct {
	Hits       int64
	Misses     int64
	Writes     int64
	BytesSaved int64
}

// Store is the disk-backed cache. One Store instance per cache directory.
type Store struct {
	dir string
	ttl time.Duration

	keyMu    sync.Mutex
	keyLocks map[string]*keyLock

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	hits, misses, writes, bytesSaved int64
}

// New creates a Store rooted at dir, creating it if necessary. ttl is the
// default entry lifetime; zero means entries never expire by age (schema
// version mismatch still evicts them).
func New(dir string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{
		dir:      dir,
		ttl:      ttl,
		keyLocks: make(map[string]*keyLock),
		encoder:  enc,
		decoder:  dec,
	}, nil
}

// Close releases the compressor/decompressor resources.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Key derives the stable content-addressed key for (dataType, objectRef,
// params, schemaVersion). The same quadruple always yields the same key.
func Key(dataType, objectRef string, params map[string]string, schemaVer int) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d|%s|%s|", schemaVer, dataType, objectRef)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) path(key string) string {
	// Two-level fan-out keeps any one directory from growing unbounded.
	return filepath.Join(s.dir, key[:2], key+".json")
}

// keyLock is a per-cache-key mutex with a reference count so the Store's
// keyLocks map doesn't grow without bound across the process lifetime:
// once the last Get/Put holding a reference to a key releases it, the
// entry is removed rather than retained forever.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lockFor(key string) *keyLock {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	kl, ok := s.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		s.keyLocks[key] = kl
	}
	kl.refs++
	return kl
}

// unlockFor releases kl and, if no other caller still holds a reference to
// key, drops it from the Store's keyLocks map.
func (s *Store) unlockFor(key string, kl *keyLock) {
	kl.mu.Unlock()
	s.keyMu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(s.keyLocks, key)
	}
	s.keyMu.Unlock()
}

// Get returns the cached payload for key, or ok=false on a miss (absent,
// expired, or schema_version mismatch). A second concurrent caller for the
// same key blocks on the first writer, then reads the resulting file.
func (s *Store) Get(key string) (payload []byte, ok bool, err error) {
	kl := s.lockFor(key)
	kl.mu.Lock()
	defer s.unlockFor(key, kl)

	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			atomic.AddInt64(&s.misses, 1)
			return nil, false, nil
		}
		return nil, false, err
	}

	var ef entryFile
	if err := json.Unmarshal(b, &ef); err != nil {
		// A corrupt entry is treated as a miss, never served partially.
		atomic.AddInt64(&s.misses, 1)
		return nil, false, nil
	}

	if ef.SchemaVersion != schemaVersion {
		atomic.AddInt64(&s.misses, 1)
		return nil, false, nil
	}
	if s.ttl > 0 && time.Since(time.Unix(ef.CreatedAt, 0)) >= s.ttl {
		atomic.AddInt64(&s.misses, 1)
		return nil, false, nil
	}

	payload = ef.Payload
	if ef.Compressed {
		decompressed, derr := s.decoder.DecodeAll(ef.Payload, nil)
		if derr != nil {
			atomic.AddInt64(&s.misses, 1)
			return nil, false, nil
		}
		payload = decompressed
	}

	atomic.AddInt64(&s.hits, 1)
	return payload, true, nil
}

// Put writes payload under key atomically: write-to-temp, fsync, rename.
// Payloads >= 4 KiB are transparently compressed; Get decompresses
// transparently. dataType is stored in the entry's envelope (alongside,
// never recoverable from key itself since Key is a one-way hash) so Clear
// can selectively evict by data type.
func (s *Store) Put(key, dataType string, payload []byte) error {
	kl := s.lockFor(key)
	kl.mu.Lock()
	defer s.unlockFor(key, kl)

	ef := entryFile{
		DataType:      dataType,
		CreatedAt:     time.Now().Unix(),
		SchemaVersion: schemaVersion,
	}

	if len(payload) >= compressionThreshold {
		compressed := s.encoder.EncodeAll(payload, nil)
		ef.Compressed = true
		ef.Payload = compressed
		atomic.AddInt64(&s.bytesSaved, int64(len(payload)-len(compressed)))
	} else {
		ef.Payload = payload
	}

	b, err := json.Marshal(ef)
	if err != nil {
		return err
	}

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return err
	}

	atomic.AddInt64(&s.writes, 1)
	return nil
}

// Clear removes entries, optionally restricted by dataType and/or
// olderThan. dataType, if non-empty, only evicts entries whose envelope
// (recorded at Put time, since Key's sha256 hash can't be reversed back
// into its dataType component) matches exactly; an empty dataType clears
// every data type. olderThan, if non-zero, additionally restricts eviction
// to entries older than that duration. A dataType filter requires reading
// each entry's envelope to check, so a type-scoped Clear costs one decode
// per candidate file rather than a cheap directory-prefix removal. An
// unfiltered Clear (empty dataType, zero olderThan) also resets the Stats
// counters once every entry is removed.
func (s *Store) Clear(dataType string, olderThan time.Duration) error {
	werr := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		if olderThan > 0 {
			info, ierr := d.Info()
			if ierr == nil && time.Since(info.ModTime()) < olderThan {
				return nil
			}
		}
		if dataType != "" {
			b, rerr := os.ReadFile(path)
			if rerr != nil {
				if os.IsNotExist(rerr) {
					return nil
				}
				return rerr
			}
			var ef entryFile
			if jerr := json.Unmarshal(b, &ef); jerr != nil || ef.DataType != dataType {
				return nil
			}
		}
		return os.Remove(path)
	})
	if werr == nil && dataType == "" && olderThan == 0 {
		atomic.StoreInt64(&s.hits, 0)
		atomic.StoreInt64(&s.misses, 0)
		atomic.StoreInt64(&s.writes, 0)
		atomic.StoreInt64(&s.bytesSaved, 0)
	}
	return werr
}

// Stats returns a snapshot of the monotonic counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:       atomic.LoadInt64(&s.hits),
		Misses:     atomic.LoadInt64(&s.misses),
		Writes:     atomic.LoadInt64(&s.writes),
		BytesSaved: atomic.LoadInt64(&s.bytesSaved),
	}
}
