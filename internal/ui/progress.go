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

package ui

import (
	"os"

	"github.com/schollz/progressbar/v3"
)

// ProgressConfig controls whether and how progress bars render, derived
// once from the global CLI flags (--quiet, --json both suppress bars;
// --json additionally forces --quiet upstream in main).
type ProgressConfig struct {
	Enabled bool
}

// NewProgressConfig builds a ProgressConfig from the quiet flag. json
// output always implies quiet (enforced by the caller before this runs),
// so this alone is sufficient.
func NewProgressConfig(quiet bool) ProgressConfig {
	return ProgressConfig{Enabled: !quiet}
}

// NewBar creates a progress bar for one phase with the given total unit
// count and description. Returns nil when progress is disabled, so callers
// can unconditionally call methods on the result via the nil-safe helpers
// below.
func NewBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100_000_000), // 100ms
	)
}

// Set64 is a nil-safe wrapper around bar.Set64.
func Set64(bar *progressbar.ProgressBar, n int64) {
	if bar != nil {
		_ = bar.Set64(n)
	}
}

// Finish is a nil-safe wrapper around bar.Finish.
func Finish(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}

// PhaseDescription returns a human-readable label for a pipeline phase,
// used as a progress bar's description.
func PhaseDescription(phase string) string {
	switch phase {
	case "enumerate":
		return "Enumerating objects"
	case "describe":
		return "Describing objects"
	case "stats":
		return "Gathering statistics"
	case "automation":
		return "Scanning automation"
	case "security":
		return "Auditing field security"
	case "org-security":
		return "Auditing org security"
	case "emit":
		return "Emitting corpus"
	case "upload":
		return "Uploading to vector index"
	default:
		return phase
	}
}
