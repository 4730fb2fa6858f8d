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

// Package enumerate lists all first-class schema objects in the tenant
//, applying a noise filter and a namespace exclusion list,
// in deterministic lexicographic order.
package enumerate

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// Lister calls the CLI Bridge (through Retry Engine and Rate Limiter) to
// list every object ref the tenant exposes, unfiltered.
type Lister func(ctx context.Context) ([]schema.ObjectRef, bridge.Class, error)

// Config controls the noise and namespace filters.
type Config struct {
	// NoiseGlobs are glob patterns (matched against the full ref) for
	// objects to exclude, e.g. "*__History", "*__Share", "*__Feed".
	NoiseGlobs []string
	// ExcludedNamespaces are managed-package namespace prefixes
	// ("ns__Object__c") to exclude wholesale.
	ExcludedNamespaces []string
}

// Enumerator produces the working set for a run.
type Enumerator struct {
	cfg Config
}

// New creates an Enumerator.
func New(cfg Config) *Enumerator {
	return &Enumerator{cfg: cfg}
}

// Enumerate lists objects via list, applies the configured filters, and
// returns the working set in deterministic lexicographic order.
func (e *Enumerator) Enumerate(ctx context.Context, list Lister) ([]schema.ObjectRef, error) {
	refs, class, err := list(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	if class != bridge.ClassOK {
		return nil, fmt.Errorf("enumerate: list call classified %s", class)
	}

	filtered := make([]schema.ObjectRef, 0, len(refs))
	for _, ref := range refs {
		if e.isNoise(ref) || e.isExcludedNamespace(ref) {
			continue
		}
		filtered = append(filtered, ref)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })
	return filtered, nil
}

func (e *Enumerator) isNoise(ref schema.ObjectRef) bool {
	for _, pattern := range e.cfg.NoiseGlobs {
		if ok, _ := filepath.Match(pattern, string(ref)); ok {
			return true
		}
	}
	return false
}

func (e *Enumerator) isExcludedNamespace(ref schema.ObjectRef) bool {
	for _, ns := range e.cfg.ExcludedNamespaces {
		if strings.HasPrefix(string(ref), ns+"__") {
			return true
		}
	}
	return false
}
