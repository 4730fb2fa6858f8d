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
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arcspan/sfcorpus/internal/ui"
	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/config"
	"github.com/arcspan/sfcorpus/pkg/describe"
	"github.com/arcspan/sfcorpus/pkg/emit"
	"github.com/arcspan/sfcorpus/pkg/enrich"
	"github.com/arcspan/sfcorpus/pkg/enumerate"
	"github.com/arcspan/sfcorpus/pkg/metrics"
	"github.com/arcspan/sfcorpus/pkg/orchestrator"
	"github.com/arcspan/sfcorpus/pkg/progress"
	"github.com/arcspan/sfcorpus/pkg/ratelimit"
	"github.com/arcspan/sfcorpus/pkg/retry"
	"github.com/arcspan/sfcorpus/pkg/schema"
	"github.com/arcspan/sfcorpus/pkg/upload"
)

// runtime bundles every long-lived component one pipeline run shares across
// phases: the remote-call chokepoint, the disk-backed caches, and the
// in-memory working set they all read and mutate.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Registry
	progress   *progress.Store
	cacheStore *cache.Store

	tenant *tenantCLI
	index  *vectorIndex
	retry  *retry.Engine

	wall *orchestrator.QuotaWall
	prog ui.ProgressConfig

	refs          []schema.ObjectRef
	records       *enrich.Records
	emittedChunks []schema.Chunk
}

// newRuntime wires every package into one run, grounded on cfg. quiet
// controls progress bar rendering.
func newRuntime(cfg *config.Config, logger *slog.Logger, reg *metrics.Registry, quiet bool) (*runtime, error) {
	progressPath := filepath.Join(cfg.OutputDir, ".sfcorpus-progress.json")
	progStore, err := progress.New(progressPath)
	if err != nil {
		return nil, fmt.Errorf("run: open progress store: %w", err)
	}

	cacheStore, err := cache.New(cfg.Cache.Dir, cfg.CacheTTL())
	if err != nil {
		progStore.Close()
		return nil, fmt.Errorf("run: open cache store: %w", err)
	}
	if cfg.ClearCache {
		if err := cacheStore.Clear("", 0); err != nil {
			logger.Warn("run.cache.clear_failed", "err", err)
		}
	}

	wall := orchestrator.NewQuotaWall(orchestrator.DefaultQuotaThreshold, orchestrator.DefaultQuotaCooldown, logger)

	limiter := ratelimit.New(logger,
		ratelimit.WithBurst(cfg.RateLimit.Burst),
		ratelimit.WithInitialRate(cfg.RateLimit.RatePerMin),
	)

	retryEngine := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   retry.DefaultConfig().BaseDelay,
		QuotaFloor:  retry.DefaultConfig().QuotaFloor,
		JitterFrac:  retry.DefaultConfig().JitterFrac,
		QuotaJitter: retry.DefaultConfig().QuotaJitter,
	}, logger, func() {
		wall.RecordQuotaError()
		if reg != nil {
			reg.RetryAttempts.WithLabelValues(string(bridge.ClassQuota)).Inc()
		}
	})

	br := bridge.New(logger)
	tenant := newTenantCLI("sf", cfg.Tenant.Alias, br, limiter, retryEngine, wall)

	var idx *vectorIndex
	if !cfg.DryRun {
		idx = newVectorIndex(
			cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.Model,
			cfg.Index.Endpoint, cfg.Index.APIKey, cfg.CorpusNamespace,
		)
	}

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		metrics:    reg,
		progress:   progStore,
		cacheStore: cacheStore,
		tenant:     tenant,
		index:      idx,
		retry:      retryEngine,
		wall:       wall,
		prog:       ui.NewProgressConfig(quiet),
	}, nil
}

func (rt *runtime) close() {
	rt.progress.Close()
	rt.cacheStore.Close()
}

// pendingRefs returns the subset of rt.refs still outstanding for phase per
// the Progress Store. With --resume=false every ref is treated as
// outstanding, so a full run always reprocesses from scratch, though
// markDone/markError still record fresh progress for the next resumed run.
func (rt *runtime) pendingRefs(phase orchestrator.Phase) []schema.ObjectRef {
	if !rt.cfg.Resume {
		return rt.refs
	}
	return rt.progress.Pending(string(phase), rt.refs)
}

// pendingPrincipals mirrors pendingRefs for OrgSecurityEnricher's principal
// names, which aren't ObjectRefs but share the Progress Store's
// string-keyed Mark/Pending API.
func (rt *runtime) pendingPrincipals(phase orchestrator.Phase, principals []string) []string {
	if !rt.cfg.Resume {
		return principals
	}
	refs := make([]schema.ObjectRef, len(principals))
	for i, p := range principals {
		refs[i] = schema.ObjectRef(p)
	}
	pending := rt.progress.Pending(string(phase), refs)
	out := make([]string, len(pending))
	for i, r := range pending {
		out[i] = string(r)
	}
	return out
}

// applyOutcome marks every ref in refs done or error in the Progress Store,
// per outcome: a ref in outcome.Failed is marked error, a ref in
// outcome.Skipped (Halt tripped before its work ran) is left untouched so
// it stays pending, and everything else is marked done.
func (rt *runtime) applyOutcome(phase orchestrator.Phase, refs []schema.ObjectRef, outcome enrich.EnrichOutcome) {
	skipped := make(map[schema.ObjectRef]bool, len(outcome.Skipped))
	for _, ref := range outcome.Skipped {
		skipped[ref] = true
	}
	failed := make(map[schema.ObjectRef]bool, len(outcome.Failed))
	for _, f := range outcome.Failed {
		failed[f.Ref] = true
		rt.markError(phase, f.Ref, f.Err)
	}
	for _, ref := range refs {
		if skipped[ref] || failed[ref] {
			continue
		}
		rt.markDone(phase, ref)
	}
}

// mergeOutcomes unions several EnrichOutcomes (e.g. from the two enrichers
// sharing the "security" phase) into one, deduplicating by ref and
// preferring the first recorded error per ref.
func mergeOutcomes(outcomes ...enrich.EnrichOutcome) enrich.EnrichOutcome {
	failed := make(map[schema.ObjectRef]error)
	skipped := make(map[schema.ObjectRef]bool)
	var order []schema.ObjectRef
	for _, o := range outcomes {
		for _, f := range o.Failed {
			if _, ok := failed[f.Ref]; !ok {
				failed[f.Ref] = f.Err
				order = append(order, f.Ref)
			}
		}
		for _, ref := range o.Skipped {
			skipped[ref] = true
		}
	}

	var merged enrich.EnrichOutcome
	for _, ref := range order {
		merged.Failed = append(merged.Failed, enrich.RefFailure{Ref: ref, Err: failed[ref]})
	}
	sort.Slice(merged.Failed, func(i, j int) bool { return merged.Failed[i].Ref < merged.Failed[j].Ref })
	for ref := range skipped {
		merged.Skipped = append(merged.Skipped, ref)
	}
	sort.Slice(merged.Skipped, func(i, j int) bool { return merged.Skipped[i] < merged.Skipped[j] })
	return merged
}

// errorSamples bounds failed down to orchestrator.MaxErrorSamples
// human-readable "ref: err" strings for the final report.
func errorSamples(failed []enrich.RefFailure) []string {
	n := len(failed)
	if n > orchestrator.MaxErrorSamples {
		n = orchestrator.MaxErrorSamples
	}
	samples := make([]string, 0, n)
	for _, f := range failed[:n] {
		samples = append(samples, fmt.Sprintf("%s: %v", f.Ref, f.Err))
	}
	return samples
}

// phaseEnumerate implements orchestrator.PhaseRunner for "enumerate".
func (rt *runtime) phaseEnumerate(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	enumerator := enumerate.New(enumerate.Config{
		NoiseGlobs:         []string{"*__History", "*__Share", "*__Feed", "*__ChangeEvent"},
		ExcludedNamespaces: nil,
	})
	refs, err := enumerator.Enumerate(ctx, rt.tenant.List)
	rt.observePhase(orchestrator.PhaseEnumerate, start, err)
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}
	rt.refs = refs
	return orchestrator.PhaseOutcome{Processed: len(refs)}, nil
}

// phaseDescribe implements orchestrator.PhaseRunner for "describe". Every
// ref in the working set is passed through, not just the Progress Store's
// pending subset: the Describer's own Cache Store is the resume mechanism
// here (a prior run's cached payload is a free hit), so the in-memory
// working set always ends up complete regardless of --resume.
func (rt *runtime) phaseDescribe(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()

	describer := describe.New(rt.cacheStore, rt.cfg.Cache.SchemaVersion, rt.cfg.Concurrency.DescribeWorkers, rt.logger)
	describer.Halt = rt.wall.Tripped
	bar := ui.NewBar(rt.prog, int64(len(rt.refs)), ui.PhaseDescription(string(orchestrator.PhaseDescribe)))
	defer ui.Finish(bar)

	results, failures, skipped := describer.Describe(ctx, rt.refs, rt.tenant.Fetch, parseDescribe)

	records := make(map[schema.ObjectRef]*schema.ObjectRecord, len(results))
	for ref, rec := range results {
		rec := rec
		records[ref] = &rec
		rt.markDone(orchestrator.PhaseDescribe, ref)
		ui.Set64(bar, int64(len(records)))
	}
	var failureSamples []enrich.RefFailure
	for _, f := range failures {
		rt.markError(orchestrator.PhaseDescribe, f.Ref, f.Err)
		failureSamples = append(failureSamples, enrich.RefFailure{Ref: f.Ref, Err: f.Err})
	}
	rt.records = enrich.NewRecords(records)

	rt.observePhase(orchestrator.PhaseDescribe, start, nil)
	return orchestrator.PhaseOutcome{
		Processed:    len(results),
		Errored:      len(failures),
		ErrorSamples: errorSamples(failureSamples),
		Halted:       len(skipped) > 0,
	}, nil
}

// phaseStats implements orchestrator.PhaseRunner for "stats".
func (rt *runtime) phaseStats(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	pending := rt.pendingRefs(orchestrator.PhaseStats)
	cachedSkipped := len(rt.refs) - len(pending)
	subset := rt.records.Subset(pending)

	coalescer := coalesce.New(rt.cacheStore, rt.cfg.Cache.SchemaVersion, rt.logger)
	coalescer.BatchSize = rt.cfg.Batch.CoalesceSize

	statsEnricher := enrich.NewStatsEnricher(coalescer, rt.cfg.Concurrency.EnrichWorkers, rt.cfg.Batch.SampleSize, rt.logger)
	statsEnricher.Halt = rt.wall.Tripped
	outcome, err := statsEnricher.Enrich(ctx, subset, rt.tenant.countFetcher, rt.tenant.freshnessFetcher, rt.tenant.sampleFetcher, rt.tenant.picklistFetcher)
	rt.observePhase(orchestrator.PhaseStats, start, err)
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}
	rt.applyOutcome(orchestrator.PhaseStats, pending, outcome)

	return orchestrator.PhaseOutcome{
		Processed:     len(pending) - len(outcome.Failed) - len(outcome.Skipped),
		Errored:       len(outcome.Failed),
		CachedSkipped: cachedSkipped,
		ErrorSamples:  errorSamples(outcome.Failed),
		Halted:        rt.wall.Tripped(),
	}, nil
}

// phaseAutomation implements orchestrator.PhaseRunner for "automation".
func (rt *runtime) phaseAutomation(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	pending := rt.pendingRefs(orchestrator.PhaseAutomation)
	cachedSkipped := len(rt.refs) - len(pending)
	subset := rt.records.Subset(pending)

	coalescer := coalesce.New(rt.cacheStore, rt.cfg.Cache.SchemaVersion, rt.logger)
	coalescer.BatchSize = rt.cfg.Batch.CoalesceSize

	automationEnricher := enrich.NewAutomationEnricher(coalescer)
	automationEnricher.Halt = rt.wall.Tripped
	outcome, err := automationEnricher.Enrich(ctx, subset, enrich.AutomationFetchers{
		Flows:           rt.tenant.automationFetcher("flows"),
		Triggers:        rt.tenant.automationFetcher("triggers"),
		ValidationRules: rt.tenant.automationFetcher("validation_rules"),
		WorkflowRules:   rt.tenant.automationFetcher("workflow_rules"),
	})
	rt.observePhase(orchestrator.PhaseAutomation, start, err)
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}
	rt.applyOutcome(orchestrator.PhaseAutomation, pending, outcome)

	return orchestrator.PhaseOutcome{
		Processed:     len(pending) - len(outcome.Failed) - len(outcome.Skipped),
		Errored:       len(outcome.Failed),
		CachedSkipped: cachedSkipped,
		ErrorSamples:  errorSamples(outcome.Failed),
		Halted:        rt.wall.Tripped(),
	}, nil
}

// phaseSecurity implements orchestrator.PhaseRunner for "security"
// (FieldSecurityEnricher and HistoryEnricher, bundled under one
// field-level security phase).
func (rt *runtime) phaseSecurity(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	pending := rt.pendingRefs(orchestrator.PhaseSecurity)
	cachedSkipped := len(rt.refs) - len(pending)
	subset := rt.records.Subset(pending)

	coalescer := coalesce.New(rt.cacheStore, rt.cfg.Cache.SchemaVersion, rt.logger)
	coalescer.BatchSize = rt.cfg.Batch.CoalesceSize

	fieldSecurity := enrich.NewFieldSecurityEnricher(coalescer)
	fieldSecurity.Halt = rt.wall.Tripped
	fsOutcome, err := fieldSecurity.Enrich(ctx, subset, rt.tenant.fieldPermissionsFetcher())
	if err != nil {
		rt.observePhase(orchestrator.PhaseSecurity, start, err)
		return orchestrator.PhaseOutcome{}, err
	}

	history := enrich.NewHistoryEnricher(coalescer)
	history.Halt = rt.wall.Tripped
	histOutcome, err := history.Enrich(ctx, subset, rt.tenant.fieldHistoryFetcher())
	rt.observePhase(orchestrator.PhaseSecurity, start, err)
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}

	merged := mergeOutcomes(fsOutcome, histOutcome)
	rt.applyOutcome(orchestrator.PhaseSecurity, pending, merged)

	return orchestrator.PhaseOutcome{
		Processed:     len(pending) - len(merged.Failed) - len(merged.Skipped),
		Errored:       len(merged.Failed),
		CachedSkipped: cachedSkipped,
		ErrorSamples:  errorSamples(merged.Failed),
		Halted:        rt.wall.Tripped(),
	}, nil
}

// phaseOrgSecurity implements orchestrator.PhaseRunner for "org-security".
// Resumability here is per-principal rather than per-ref: the Progress
// Store is keyed on schema.ObjectRef, which is a plain string, so each
// principal's name doubles as its own ref for Mark/Pending purposes.
func (rt *runtime) phaseOrgSecurity(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	orgSecurity := enrich.NewOrgSecurityEnricher(rt.cacheStore, rt.cfg.Cache.SchemaVersion, rt.cfg.Concurrency.EnrichWorkers, rt.logger)
	orgSecurity.Halt = rt.wall.Tripped

	pendingFilter := func(principals []string) []string {
		return rt.pendingPrincipals(orchestrator.PhaseOrgSecurity, principals)
	}

	_, failures, processed, err := orgSecurity.Enrich(ctx, rt.records, rt.tenant.principals, rt.tenant.grantsFor, pendingFilter)
	rt.observePhase(orchestrator.PhaseOrgSecurity, start, err)
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}

	var failureSamples []enrich.RefFailure
	for _, f := range failures {
		rt.markError(orchestrator.PhaseOrgSecurity, schema.ObjectRef(f.Principal), f.Err)
		rt.logger.Warn("run.org_security.principal_failed", "principal", f.Principal, "err", f.Err)
		failureSamples = append(failureSamples, enrich.RefFailure{Ref: schema.ObjectRef(f.Principal), Err: f.Err})
	}
	for _, principal := range processed {
		rt.markDone(orchestrator.PhaseOrgSecurity, schema.ObjectRef(principal))
	}

	return orchestrator.PhaseOutcome{
		Processed:    len(processed),
		Errored:      len(failures),
		ErrorSamples: errorSamples(failureSamples),
		Halted:       rt.wall.Tripped(),
	}, nil
}

// phaseEmit implements orchestrator.PhaseRunner for "emit".
func (rt *runtime) phaseEmit(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()

	records := make([]schema.ObjectRecord, 0, len(rt.refs))
	for _, ref := range rt.refs {
		var rec schema.ObjectRecord
		rt.records.With(ref, func(r *schema.ObjectRecord) { rec = *r })
		hashed, err := rec.WithHash()
		if err != nil {
			rt.markError(orchestrator.PhaseEmit, ref, err)
			continue
		}
		records = append(records, hashed)
		rt.markDone(orchestrator.PhaseEmit, ref)
	}

	chunks := emit.BuildCorpus(records, emit.DefaultTokenCap)
	rt.emittedChunks = chunks

	jsonlPath := filepath.Join(rt.cfg.OutputDir, "corpus.jsonl")
	if err := emit.WriteJSONL(jsonlPath, chunks); err != nil {
		rt.observePhase(orchestrator.PhaseEmit, start, err)
		return orchestrator.PhaseOutcome{}, fmt.Errorf("run: write jsonl corpus: %w", err)
	}
	docsDir := filepath.Join(rt.cfg.OutputDir, "docs")
	if err := emit.WriteMarkdownDocs(docsDir, records); err != nil {
		rt.observePhase(orchestrator.PhaseEmit, start, err)
		return orchestrator.PhaseOutcome{}, fmt.Errorf("run: write markdown docs: %w", err)
	}
	schemaPath := filepath.Join(rt.cfg.OutputDir, "schema.json")
	if err := emit.WriteSchemaSnapshot(schemaPath, records); err != nil {
		rt.observePhase(orchestrator.PhaseEmit, start, err)
		return orchestrator.PhaseOutcome{}, fmt.Errorf("run: write schema snapshot: %w", err)
	}

	rt.observePhase(orchestrator.PhaseEmit, start, nil)
	return orchestrator.PhaseOutcome{Processed: len(records)}, nil
}

// phaseUpload implements orchestrator.PhaseRunner for "upload". A dry run
// short-circuits before ever touching the index or embedding endpoint.
func (rt *runtime) phaseUpload(ctx context.Context) (orchestrator.PhaseOutcome, error) {
	start := time.Now()
	if rt.cfg.DryRun || rt.index == nil {
		rt.logger.Info("run.upload.dry_run_skip")
		return orchestrator.PhaseOutcome{}, nil
	}

	var current []upload.IndexEntry
	if rt.cfg.Incremental {
		listed, class, err := rt.index.List(ctx)
		if err != nil || class != bridge.ClassOK {
			rt.observePhase(orchestrator.PhaseUpload, start, err)
			return orchestrator.PhaseOutcome{}, fmt.Errorf("run: list current index entries: %w", err)
		}
		current = listed
	}

	uploader := upload.New(rt.retry, upload.Config{
		EmbedBatchSize: rt.cfg.Batch.EmbedSize,
		UpsertWorkers:  rt.cfg.Concurrency.UpsertWorkers,
	}, rt.logger)

	bar := ui.NewBar(rt.prog, int64(len(rt.emittedChunks)), ui.PhaseDescription(string(orchestrator.PhaseUpload)))
	defer ui.Finish(bar)

	report, err := uploader.Upload(ctx, rt.emittedChunks, current, rt.index.Embed, rt.index.Upsert, rt.index.Delete, func(ref schema.ObjectRef) {
		rt.markError(orchestrator.PhaseUpload, ref, fmt.Errorf("upload failed"))
	})
	ui.Set64(bar, int64(len(rt.emittedChunks)))

	rt.observePhase(orchestrator.PhaseUpload, start, err)
	if rt.metrics != nil {
		rt.metrics.ChunksUpserted.Add(float64(report.ChunksUpserted))
		rt.metrics.ChunksDeleted.Add(float64(report.ChunksDeleted))
		if len(report.Failures) == 0 {
			rt.metrics.UploadBatchesSucceeded.Inc()
		} else {
			rt.metrics.UploadBatchesFailed.Add(float64(len(report.Failures)))
		}
	}
	if err != nil {
		return orchestrator.PhaseOutcome{}, err
	}
	rt.logger.Info("run.upload.report",
		"new", report.New, "changed", report.Changed, "deleted", report.Deleted, "unchanged", report.Unchanged,
		"chunks_upserted", report.ChunksUpserted, "chunks_deleted", report.ChunksDeleted, "failures", len(report.Failures))
	return orchestrator.PhaseOutcome{Processed: report.New + report.Changed + report.Unchanged, Errored: len(report.Failures)}, nil
}

// runners builds the full phase -> PhaseRunner map the Orchestrator dispatches through.
func (rt *runtime) runners() map[orchestrator.Phase]orchestrator.PhaseRunner {
	return map[orchestrator.Phase]orchestrator.PhaseRunner{
		orchestrator.PhaseEnumerate:   rt.phaseEnumerate,
		orchestrator.PhaseDescribe:    rt.phaseDescribe,
		orchestrator.PhaseStats:       rt.phaseStats,
		orchestrator.PhaseAutomation:  rt.phaseAutomation,
		orchestrator.PhaseSecurity:    rt.phaseSecurity,
		orchestrator.PhaseOrgSecurity: rt.phaseOrgSecurity,
		orchestrator.PhaseEmit:        rt.phaseEmit,
		orchestrator.PhaseUpload:      rt.phaseUpload,
	}
}

func (rt *runtime) markDone(phase orchestrator.Phase, ref schema.ObjectRef) {
	if err := rt.progress.Mark(ref, string(phase), schema.StateDone, "", time.Now().Unix()); err != nil {
		rt.logger.Warn("run.progress.mark_failed", "ref", string(ref), "phase", string(phase), "err", err)
	}
}

func (rt *runtime) markError(phase orchestrator.Phase, ref schema.ObjectRef, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := rt.progress.Mark(ref, string(phase), schema.StateError, msg, time.Now().Unix()); err != nil {
		rt.logger.Warn("run.progress.mark_failed", "ref", string(ref), "phase", string(phase), "err", err)
	}
}

func (rt *runtime) observePhase(phase orchestrator.Phase, start time.Time, err error) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		rt.metrics.PhaseErrored.WithLabelValues(string(phase)).Inc()
	}
}

// executeRun builds a runtime, resolves the requested phase selector, runs
// the Orchestrator, and returns its Report.
func executeRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *metrics.Registry, quiet bool) (orchestrator.Report, error) {
	phases, err := orchestrator.ParsePhases(cfg.Phases)
	if err != nil {
		return orchestrator.Report{}, err
	}

	rt, err := newRuntime(cfg, logger, reg, quiet)
	if err != nil {
		return orchestrator.Report{}, err
	}
	defer rt.close()

	orc := orchestrator.New(rt.wall, logger)
	report := orc.Run(ctx, uuid.NewString(), phases, rt.runners(), func() cache.Stats { return rt.cacheStore.Stats() })
	return report, nil
}
