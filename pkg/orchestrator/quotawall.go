// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

var errQuota = errors.New("quota error observed")

// DefaultQuotaThreshold is the number of consecutive quota_error
// classifications that trips the wall.
const DefaultQuotaThreshold = 5

// DefaultQuotaCooldown is how long the wall stays open before allowing a
// single probe request through again.
const DefaultQuotaCooldown = 5 * time.Minute

// QuotaWall detects the "hard quota wall" of : a threshold of
// consecutive quota_error classifications that should halt the current
// phase cleanly rather than keep retrying into a wasted budget.
type QuotaWall struct {
	cb *gobreaker.CircuitBreaker
}

// NewQuotaWall creates a QuotaWall that trips after threshold consecutive
// quota errors (falls back to DefaultQuotaThreshold if <= 0) and stays
// open for cooldown before allowing a probe through.
func NewQuotaWall(threshold uint32, cooldown time.Duration, logger *slog.Logger) *QuotaWall {
	if threshold == 0 {
		threshold = DefaultQuotaThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultQuotaCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:    "quota-wall",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("orchestrator.quota_wall.state_change", "from", from.String(), "to", to.String())
		},
	}
	return &QuotaWall{cb: gobreaker.NewCircuitBreaker(settings)}
}

// RecordQuotaError feeds one quota_error occurrence through the breaker.
func (q *QuotaWall) RecordQuotaError() {
	_, _ = q.cb.Execute(func() (interface{}, error) { return nil, errQuota })
}

// RecordSuccess feeds one non-quota outcome through the breaker, resetting
// its consecutive-failure streak.
func (q *QuotaWall) RecordSuccess() {
	_, _ = q.cb.Execute(func() (interface{}, error) { return nil, nil })
}

// Tripped reports whether the wall is currently open: the caller should
// stop dispatching new work for the current phase, let in-flight tasks
// finish, and flush Progress + Cache.
func (q *QuotaWall) Tripped() bool {
	return q.cb.State() == gobreaker.StateOpen
}
