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

// Package orchestrator sequences the pipeline's phases in dependency
// order, detects the quota wall, and produces the final run report.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcspan/sfcorpus/pkg/cache"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitPartial = 2
	ExitFatal   = 1
)

// MaxErrorSamples bounds how many per-ref error messages a PhaseRunner
// collects into PhaseOutcome.ErrorSamples for the final report.
const MaxErrorSamples = 5

// PhaseOutcome is what one phase's runner reports back to the
// Orchestrator: how many refs it processed, how many it left errored, how
// many it skipped because the Cache Store or Progress Store already had
// them, plus whether the quota wall tripped mid-phase.
type PhaseOutcome struct {
	Processed     int
	Errored       int
	CachedSkipped int      // refs served from cache or already marked done by a prior run
	ErrorSamples  []string // up to MaxErrorSamples representative error messages
	Halted        bool     // true if the quota wall tripped and the phase stopped early
}

// PhaseRunner executes one phase. Implementations are expected to consult
// the shared QuotaWall themselves (via RecordQuotaError/RecordSuccess as
// the Retry Engine's QuotaObserver) and to check Tripped() between units
// of work so they can stop early and return Halted: true.
type PhaseRunner func(ctx context.Context) (PhaseOutcome, error)

// Report is the end-of-run summary: per-phase counts, cache stats, and
// (on a partial run) which phase halted so the caller can suggest a
// resume command.
type Report struct {
	RunID       string
	Counts      map[Phase]PhaseOutcome
	CacheStats  cache.Stats
	Elapsed     time.Duration
	ExitCode    int
	HaltedPhase Phase // zero value if the run completed without a quota wall halt
}

// Orchestrator runs a selected, dependency-ordered set of phases.
type Orchestrator struct {
	wall   *QuotaWall
	logger *slog.Logger
}

// New creates an Orchestrator. wall may be nil if quota-wall detection is
// not wanted (e.g. a dry run against a mock bridge).
func New(wall *QuotaWall, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{wall: wall, logger: logger}
}

// Run executes phases in the order given (ParsePhases already resolved
// dependency order) by invoking runners[phase] for each. A phase halted
// by the quota wall stops the whole run immediately with ExitPartial;
// downstream phases are skipped since their inputs are incomplete. Any
// other phase error is fatal (ExitFatal): treats per-ref
// failures as phase-internal (reported via PhaseOutcome.Errored, not a
// returned error), so a PhaseRunner returning an error here signals a
// configuration or connectivity problem, not ordinary ref-level failure.
func (o *Orchestrator) Run(ctx context.Context, runID string, phases []Phase, runners map[Phase]PhaseRunner, cacheStats func() cache.Stats) Report {
	if runID == "" {
		runID = uuid.NewString()
	}
	start := time.Now()

	report := Report{RunID: runID, Counts: make(map[Phase]PhaseOutcome, len(phases)), ExitCode: ExitSuccess}

	for _, phase := range phases {
		runner, ok := runners[phase]
		if !ok {
			o.logger.Warn("orchestrator.phase.no_runner", "phase", string(phase))
			continue
		}

		o.logger.Info("orchestrator.phase.start", "run_id", runID, "phase", string(phase))
		outcome, err := runner(ctx)
		report.Counts[phase] = outcome

		if err != nil {
			o.logger.Error("orchestrator.phase.fatal", "run_id", runID, "phase", string(phase), "err", err)
			report.ExitCode = ExitFatal
			break
		}

		if outcome.Halted || (o.wall != nil && o.wall.Tripped()) {
			o.logger.Warn("orchestrator.quota_wall.halt", "run_id", runID, "phase", string(phase))
			report.ExitCode = ExitPartial
			report.HaltedPhase = phase
			break
		}

		o.logger.Info("orchestrator.phase.done", "run_id", runID, "phase", string(phase),
			"processed", outcome.Processed, "errored", outcome.Errored)
	}

	if report.ExitCode == ExitSuccess {
		for _, outcome := range report.Counts {
			if outcome.Errored > 0 {
				report.ExitCode = ExitPartial
				break
			}
		}
	}

	if cacheStats != nil {
		report.CacheStats = cacheStats()
	}
	report.Elapsed = time.Since(start)
	return report
}
