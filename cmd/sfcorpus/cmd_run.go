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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/arcspan/sfcorpus/internal/ui"
	"github.com/arcspan/sfcorpus/pkg/config"
	"github.com/arcspan/sfcorpus/pkg/metrics"
	"github.com/arcspan/sfcorpus/pkg/orchestrator"
)

// reportView is the JSON/human shape runRun prints once the Orchestrator
// returns, mirroring end-of-run summary.
type reportView struct {
	RunID       string                               `json:"run_id"`
	ExitCode    int                                   `json:"exit_code"`
	Elapsed     string                                `json:"elapsed"`
	HaltedPhase string                                `json:"halted_phase,omitempty"`
	Phases      map[string]orchestrator.PhaseOutcome  `json:"phases"`
	CacheHits   int64                                 `json:"cache_hits"`
	CacheMisses int64                                 `json:"cache_misses"`
}

// runRun executes the 'run' CLI command: the full (or phase-selected)
// extraction/ingestion pipeline. It returns the process exit code rather
// than calling os.Exit itself so defers in main still run.
//
// Global flags from main:
//   - --json: print the final report as JSON instead of human-readable text
//   - --quiet: suppress progress bars
//
// Examples:
//
//	sfcorpus run                          Run the full pipeline
//	sfcorpus run --phases describe,stats  Run only the named phases
//	sfcorpus run --dry-run                Emit the corpus without uploading
//	sfcorpus run --metrics-addr :9090     Expose Prometheus metrics while running
func runRun(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fv := config.BindFlags(fs)
	metricsAddr := fs.String("metrics-addr", "", "expose Prometheus metrics at this address while running (e.g. :9090)")
	debug := fs.Bool("debug", false, "enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sfcorpus run [options]

Description:
  Enumerate the tenant's schema, enrich every object with usage,
  automation, and security metadata, detect what changed, emit a
  chunked JSONL document corpus, and incrementally upsert it into the
  configured vector index.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  sfcorpus run
  sfcorpus run --phases describe,stats
  sfcorpus run --dry-run
  sfcorpus run --resume=false --clear-cache
  sfcorpus run --metrics-addr :9090

`)
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err, globals.JSON)
	}
	config.ApplyFlags(cfg, fv)
	if err := cfg.Validate(); err != nil {
		fatal(err, globals.JSON)
	}

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	} else if globals.Verbose >= 1 {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	report, err := executeRun(ctx, cfg, logger, metricsReg, globals.Quiet)
	if err != nil {
		fatal(err, globals.JSON)
	}

	printReport(report, globals)
	return report.ExitCode
}

func printReport(report orchestrator.Report, globals GlobalFlags) {
	view := reportView{
		RunID:       report.RunID,
		ExitCode:    report.ExitCode,
		Elapsed:     report.Elapsed.Round(time.Millisecond).String(),
		HaltedPhase: string(report.HaltedPhase),
		Phases:      make(map[string]orchestrator.PhaseOutcome, len(report.Counts)),
		CacheHits:   report.CacheStats.Hits,
		CacheMisses: report.CacheStats.Misses,
	}
	for phase, outcome := range report.Counts {
		view.Phases[string(phase)] = outcome
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(view)
		return
	}

	fmt.Printf("Run %s finished in %s\n", ui.Dim(view.RunID), view.Elapsed)
	for _, phase := range sortedPhaseNames(view.Phases) {
		outcome := view.Phases[phase]
		status := ui.Success("ok")
		if outcome.Errored > 0 {
			status = ui.Warn(fmt.Sprintf("%d errored", outcome.Errored))
		}
		fmt.Printf("  %-14s processed=%-6d cache_skipped=%-6d %s\n", phase, outcome.Processed, outcome.CachedSkipped, status)
		for _, sample := range outcome.ErrorSamples {
			fmt.Printf("      - %s\n", sample)
		}
	}
	fmt.Printf("Cache: %d hits, %d misses\n", view.CacheHits, view.CacheMisses)
	if view.HaltedPhase != "" {
		fmt.Println(ui.Error("Halted at phase %s: quota wall tripped", view.HaltedPhase))
	}
	switch report.ExitCode {
	case orchestrator.ExitSuccess:
		fmt.Println(ui.Success("Run completed successfully."))
	case orchestrator.ExitPartial:
		fmt.Println(ui.Warn("Run completed with partial results."))
		if resume := resumeCommand(report); resume != "" {
			fmt.Println(ui.Dim("Resume with: %s", resume))
		}
	default:
		fmt.Println(ui.Error("Run failed."))
	}
}

// sortedPhaseNames returns phases' keys in a deterministic order so repeated
// runs produce stable report output (Go map iteration is randomized).
func sortedPhaseNames(phases map[string]orchestrator.PhaseOutcome) []string {
	names := make([]string, 0, len(phases))
	for name := range phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resumeCommand suggests the `--phases` selector that picks up exactly
// where a quota-walled run left off: the halted phase and everything
// downstream of it. Returns "" if the run didn't halt on the quota wall.
func resumeCommand(report orchestrator.Report) string {
	if report.HaltedPhase == "" {
		return ""
	}
	phases := orchestrator.PhasesFromHalt(report.HaltedPhase)
	return fmt.Sprintf("sfcorpus run --resume --phases %s", strings.Join(phases, ","))
}
