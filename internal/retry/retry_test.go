// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPolicy_Do(t *testing.T) {
	t.Run("succeeds first time", func(t *testing.T) {
		calls := 0
		err := Policy{Attempts: 3, Delay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Policy{Attempts: 3, Delay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhaustion returns last error verbatim", func(t *testing.T) {
		calls := 0
		err := FromRetries(2, time.Millisecond).Do(context.Background(), func(context.Context) error {
			calls++
			return fmt.Errorf("dump failed on attempt %d", calls)
		})
		if calls != 3 {
			t.Errorf("expected 3 calls for retry bound 2, got %d", calls)
		}
		if err == nil || err.Error() != "dump failed on attempt 3" {
			t.Errorf("expected last error, got %v", err)
		}
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("unsupported database type")
		err := Policy{Attempts: 5, Delay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
			calls++
			return Permanent(sentinel)
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel, got %v", err)
		}
		if IsPermanent(err) {
			t.Error("returned error should not carry the permanent marker")
		}
	})

	t.Run("canceled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Policy{Attempts: 100, Delay: 5 * time.Millisecond}.Do(ctx, func(context.Context) error {
			calls++
			if calls == 2 {
				cancel()
			}
			return errors.New("still failing")
		})
		if err == nil {
			t.Fatal("expected an error")
		}
		if calls > 3 {
			t.Errorf("expected retries to stop after cancel, got %d calls", calls)
		}
	})

	t.Run("already canceled context never calls", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := Policy{Attempts: 3, Delay: time.Millisecond}.Do(ctx, func(context.Context) error {
			called = true
			return nil
		})
		if called {
			t.Error("function should not be called with a canceled context")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		_ = Policy{}.Do(context.Background(), func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("OnRetry sees every retried failure", func(t *testing.T) {
		var seen []int
		p := Policy{
			Attempts: 3,
			Delay:    time.Millisecond,
			Backoff:  true,
			OnRetry:  func(_ error, attempt int) { seen = append(seen, attempt) },
		}
		_ = p.Do(context.Background(), func(context.Context) error { return errors.New("nope") })
		if len(seen) != 2 {
			t.Errorf("expected 2 retry notifications, got %v", seen)
		}
	})
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	base := errors.New("bad config")
	p := Permanent(base)
	if !IsPermanent(p) {
		t.Error("expected permanent")
	}
	if !IsPermanent(fmt.Errorf("wrapped: %w", p)) {
		t.Error("wrapping should preserve the marker")
	}
	if Permanent(p) != p {
		t.Error("double wrapping should be a no-op")
	}
	if Unwrap(p) != base {
		t.Error("Unwrap should return the original error")
	}
	if IsPermanent(base) {
		t.Error("plain errors are not permanent")
	}
}
