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

// Package ratelimit implements the sole gate for outbound remote calls: a
// global token bucket with adaptive rate adjustment based on a rolling
// success/failure window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default token bucket sizing.
const (
	DefaultBurst      = 20
	DefaultRatePerMin = 200.0
	MinRatePerMin     = 50.0
	MaxRatePerMin     = 300.0

	adjustInterval = 60 * time.Second
)

// window accumulates outcomes for the current adjustment period.
type window struct {
	successes int64
	failures  int64
	quota     int64
}

// Limiter is the global token bucket. Every outbound remote call must
// acquire exactly one token through Acquire; no component bypasses it.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ratePerMin float64
	burst   int
	logger  *slog.Logger

	win window

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithBurst overrides the bucket capacity (default 20).
func WithBurst(burst int) Option {
	return func(l *Limiter) { l.burst = burst }
}

// WithInitialRate overrides the starting steady-state rate in tokens/minute
// (default 200, clamped to [50,300]).
func WithInitialRate(perMin float64) Option {
	return func(l *Limiter) { l.ratePerMin = clamp(perMin) }
}

// New creates a Limiter and starts its adjustment loop. Call Stop to
// release the background goroutine.
func New(logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		ratePerMin: DefaultRatePerMin,
		burst:      DefaultBurst,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.limiter = rate.NewLimiter(perMinToPerSec(l.ratePerMin), l.burst)
	go l.adjustLoop()
	return l
}

// Acquire blocks until a token is available or ctx is done. If ctx is
// cancelled, or its deadline would pass before a token can be acquired,
// the underlying rate.Limiter.Wait error is returned; in the deadline case
// that can happen immediately, before the deadline itself elapses.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Outcome is recorded by callers after each remote call completes, so the
// adjustment loop can compute the rolling success ratio.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeQuotaError
)

// Report records the outcome of one remote call for the adaptive
// adjustment window.
func (l *Limiter) Report(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch o {
	case OutcomeSuccess:
		l.win.successes++
	case OutcomeQuotaError:
		l.win.quota++
		l.win.failures++
	default:
		l.win.failures++
	}
}

// CurrentRate returns the current steady-state rate in tokens/minute.
func (l *Limiter) CurrentRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ratePerMin
}

// Stop terminates the adjustment loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) adjustLoop() {
	ticker := time.NewTicker(adjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.adjust()
		}
	}
}

// adjust applies the adaptive rate policy atomically: >95% success and no quota
// errors scales up by 1.2x; quota errors seen or success <80% scales down
// by 0.5x. Both are clamped to [MinRatePerMin, MaxRatePerMin].
func (l *Limiter) adjust() {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.win.successes + l.win.failures
	if total == 0 {
		return
	}
	successRatio := float64(l.win.successes) / float64(total)

	newRate := l.ratePerMin
	switch {
	case l.win.quota > 0 || successRatio < 0.80:
		newRate = clamp(l.ratePerMin * 0.5)
	case successRatio > 0.95 && l.win.quota == 0:
		newRate = clamp(l.ratePerMin * 1.2)
	}

	if newRate != l.ratePerMin {
		l.logger.Info("ratelimit.adjust",
			"old_rate_per_min", l.ratePerMin,
			"new_rate_per_min", newRate,
			"success_ratio", successRatio,
			"quota_errors", l.win.quota,
		)
		l.ratePerMin = newRate
		l.limiter.SetLimit(perMinToPerSec(newRate))
	}

	l.win = window{}
}

func clamp(perMin float64) float64 {
	if perMin < MinRatePerMin {
		return MinRatePerMin
	}
	if perMin > MaxRatePerMin {
		return MaxRatePerMin
	}
	return perMin
}

func perMinToPerSec(perMin float64) rate.Limit {
	return rate.Limit(perMin / 60.0)
}
