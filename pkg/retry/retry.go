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

// Package retry wraps any classified operation with exponential backoff and
// jitter, per the configured policy Quota detection is never inferred
// from a panic or deep exception bubbling: callers pass back the same
// Class the CLI Bridge produced at the boundary.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/arcspan/sfcorpus/pkg/bridge"
)

// Config controls backoff behavior. The zero value is not usable; use
// DefaultConfig.
type Config struct {
	MaxAttempts   int           // default 5
	BaseDelay     time.Duration // base_ms for transport/timeout backoff
	QuotaFloor    time.Duration // floor raised for quota errors (default 30s)
	JitterFrac    float64       // +/- fraction applied to each delay (default 0.25)
	QuotaJitter   float64       // widened jitter fraction for quota errors
}

// DefaultConfig mirrors defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		QuotaFloor:  30 * time.Second,
		JitterFrac:  0.25,
		QuotaJitter: 0.5,
	}
}

// Classified is whatever an operation wrapped by Do returns, paired with
// its classification. Operations that raise a transport-shaped problem from
// a context other than the CLI Bridge (e.g. an HTTP client) can still
// satisfy this by constructing bridge.Result manually.
type Classified struct {
	Class  bridge.Class
	Result any
}

// Op is a retryable unit of work. It must never block indefinitely; ctx
// carries the caller's deadline.
type Op func(ctx context.Context) (Classified, error)

// QuotaObserver is notified once per quota_error classification, so the
// Rate Limiter can be told to down-shift without any exception-based
// coupling between packages.
type QuotaObserver func()

// Engine executes Op with the configured retry policy.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	onQuota QuotaObserver
}

// New creates an Engine. logger defaults to slog.Default(); onQuota may be
// nil.
func New(cfg Config, logger *slog.Logger, onQuota QuotaObserver) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg, logger: logger, onQuota: onQuota}
}

// FailureKind classifies why Do ultimately gave up, for the caller to
// translate into a ProgressRecord error.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureSyntactic FailureKind = "syntactic_error"
	FailureExhausted FailureKind = "exhausted"
)

// Error is returned by Do when the operation could not be completed.
type Error struct {
	Kind       FailureKind
	LastClass  bridge.Class
	Attempts   int
	Underlying error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %s after %d attempt(s), last class=%s: %v", e.Kind, e.Attempts, e.LastClass, e.Underlying)
}

func (e *Error) Unwrap() error { return e.Underlying }

// Do executes op, retrying transport/quota/timeout classifications up to
// MaxAttempts with exponential backoff and jitter. syntactic_error is
// never retried and is surfaced immediately.
func (e *Engine) Do(ctx context.Context, op Op) (Classified, error) {
	var last Classified
	var lastErr error
	attempts := 0

	for attempts < e.cfg.MaxAttempts {
		attempts++
		res, err := op(ctx)
		last, lastErr = res, err

		if err == nil && res.Class == bridge.ClassOK {
			return res, nil
		}

		if res.Class == bridge.ClassSyntactic {
			return res, &Error{Kind: FailureSyntactic, LastClass: res.Class, Attempts: attempts, Underlying: err}
		}

		if res.Class == bridge.ClassQuota && e.onQuota != nil {
			e.onQuota()
		}

		if attempts >= e.cfg.MaxAttempts {
			break
		}

		delay := e.backoffFor(res.Class, attempts)
		e.logger.Warn("retry.backoff",
			"class", string(res.Class),
			"attempt", attempts,
			"delay_ms", delay.Milliseconds(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, &Error{Kind: FailureExhausted, LastClass: res.Class, Attempts: attempts, Underlying: ctx.Err()}
		case <-timer.C:
		}
	}

	return last, &Error{Kind: FailureExhausted, LastClass: last.Class, Attempts: attempts, Underlying: lastErr}
}

// backoffFor computes base_ms * 2^attempt plus jitter, honoring the quota
// floor and widened jitter for quota_error, and a larger multiplier for
// timeout than for plain transport errors. The exponential growth itself
// is delegated to backoff.ExponentialBackOff rather than hand-rolled.
func (e *Engine) backoffFor(class bridge.Class, attempt int) time.Duration {
	base := e.cfg.BaseDelay
	jitterFrac := e.cfg.JitterFrac

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0 // jitter applied separately, per spec's own +/-fraction
	policy.MaxElapsedTime = 0      // no cap: the attempt-count loop in Do bounds total retries

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = policy.NextBackOff()
	}

	switch class {
	case bridge.ClassQuota:
		jitterFrac = e.cfg.QuotaJitter
		if delay < e.cfg.QuotaFloor {
			delay = e.cfg.QuotaFloor
		}
	case bridge.ClassTimeout:
		delay *= 2
	}

	return withJitter(delay, jitterFrac)
}

func withJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
