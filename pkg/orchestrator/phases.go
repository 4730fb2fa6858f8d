// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import "fmt"

// Phase is one stage of a pipeline run, drawn from a fixed set of names.
type Phase string

const (
	PhaseEnumerate    Phase = "enumerate"
	PhaseDescribe     Phase = "describe"
	PhaseStats        Phase = "stats"
	PhaseAutomation   Phase = "automation"
	PhaseSecurity     Phase = "security"     // FieldSecurityEnricher + HistoryEnricher
	PhaseOrgSecurity  Phase = "org-security" // OrgSecurityEnricher
	PhaseEmit         Phase = "emit"
	PhaseUpload       Phase = "upload"
)

// allPhases is the full dependency-ordered pipeline. enumerate and
// describe are always prerequisites of anything downstream; the four
// enrichment phases are mutually independent and may run concurrently;
// emit depends on every selected enrichment phase having completed;
// upload depends on emit.
var allPhases = []Phase{
	PhaseEnumerate,
	PhaseDescribe,
	PhaseStats,
	PhaseAutomation,
	PhaseSecurity,
	PhaseOrgSecurity,
	PhaseEmit,
	PhaseUpload,
}

var enrichmentPhases = map[Phase]bool{
	PhaseStats:       true,
	PhaseAutomation:  true,
	PhaseSecurity:    true,
	PhaseOrgSecurity: true,
}

// ParsePhases validates selector against the known phase set and returns
// the requested phases in dependency order, with their
// prerequisites (enumerate, describe) added implicitly if any downstream
// phase was selected, and emit added implicitly if upload was selected.
func ParsePhases(selector []string) ([]Phase, error) {
	if len(selector) == 0 {
		return append([]Phase(nil), allPhases...), nil
	}

	requested := make(map[Phase]bool, len(selector))
	for _, s := range selector {
		p := Phase(s)
		if !isKnownPhase(p) {
			return nil, fmt.Errorf("orchestrator: unknown phase %q", s)
		}
		requested[p] = true
	}

	if requested[PhaseDescribe] || requested[PhaseEmit] || requested[PhaseUpload] ||
		requested[PhaseStats] || requested[PhaseAutomation] || requested[PhaseSecurity] || requested[PhaseOrgSecurity] {
		requested[PhaseEnumerate] = true
	}
	if requested[PhaseStats] || requested[PhaseAutomation] || requested[PhaseSecurity] || requested[PhaseOrgSecurity] ||
		requested[PhaseEmit] || requested[PhaseUpload] {
		requested[PhaseDescribe] = true
	}
	if requested[PhaseUpload] {
		requested[PhaseEmit] = true
	}

	ordered := make([]Phase, 0, len(requested))
	for _, p := range allPhases {
		if requested[p] {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// PhasesFromHalt returns halted and every phase downstream of it, in
// dependency order, as phase-name strings suitable for a `--phases` flag —
// the set a resumed run needs to re-select to pick up where a quota wall
// left off.
func PhasesFromHalt(halted Phase) []string {
	var out []string
	seen := false
	for _, p := range allPhases {
		if p == halted {
			seen = true
		}
		if seen {
			out = append(out, string(p))
		}
	}
	return out
}

func isKnownPhase(p Phase) bool {
	for _, known := range allPhases {
		if p == known {
			return true
		}
	}
	return false
}
