// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package retry provides the bounded retry policy used around provider
// backups and channel deliveries.
//
// A Policy runs a function until it succeeds, returns a permanent error,
// exhausts its attempts, or its context is canceled. The error returned on
// failure is always the last error produced by the function (never a retry
// wrapper), so callers can record it verbatim as an execution message.
//
//	p := retry.Policy{Attempts: 3, Delay: 2 * time.Second, Backoff: true}
//	err := p.Do(ctx, func(ctx context.Context) error {
//	    return provider.Backup(ctx, conn, db, path)
//	})
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"
)

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that a Policy stops retrying immediately.
// Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Unwrap strips the permanent marker and returns the original error.
func Unwrap(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

// Policy is a bounded retry policy.
type Policy struct {
	// Attempts is the total number of calls (retry bound + 1). Values < 1 mean 1.
	Attempts int

	// Delay is the wait before the second call.
	Delay time.Duration

	// MaxDelay caps the delay when Backoff is enabled. Zero means no cap.
	MaxDelay time.Duration

	// Backoff doubles the delay after every failed call.
	Backoff bool

	// Clock drives the waits. Defaults to the wall clock.
	Clock clock.Clock

	// OnRetry is called after every failed call that will be retried.
	OnRetry func(err error, attempt int)
}

// FromRetries builds a policy that retries a failing call up to retries times.
func FromRetries(retries int, delay time.Duration) Policy {
	if retries < 0 {
		retries = 0
	}
	return Policy{Attempts: retries + 1, Delay: delay}
}

// Do runs fn under the policy and returns nil or the last error fn produced.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	args := jujuretry.CallArgs{
		Func: func() error {
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			return IsPermanent(err) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			if p.OnRetry != nil && attempt < attempts {
				p.OnRetry(err, attempt)
			}
		},
		Attempts: attempts,
		Delay:    delay,
		MaxDelay: p.MaxDelay,
		Clock:    clk,
		Stop:     ctx.Done(),
	}
	if p.Backoff {
		args.BackoffFunc = jujuretry.DoubleDelay
	}

	err := jujuretry.Call(args)
	if err == nil {
		return nil
	}
	if jujuretry.IsAttemptsExceeded(err) || jujuretry.IsDurationExceeded(err) || jujuretry.IsRetryStopped(err) {
		if last := jujuretry.LastError(err); last != nil {
			err = last
		}
	}
	return Unwrap(err)
}
