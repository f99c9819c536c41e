// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
	"github.com/tomtom215/backupbots/internal/retry"
)

// GuardConfig tunes circuit breakers and rate limits.
type GuardConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens a destination's breaker. Defaults to 5.
	FailureThreshold uint32

	// OpenTimeout is how long a breaker stays open before probing. Defaults to 2m.
	OpenTimeout time.Duration

	// RatePerSecond limits deliveries per channel type. Zero disables limiting.
	RatePerSecond float64
}

// Guard protects destinations with one circuit breaker per delivery
// configuration and an optional rate limiter per delivery type.
//
// Permanent errors count as successes for the breaker: a broken
// configuration says nothing about the destination's health.
type Guard struct {
	cfg    GuardConfig
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*DeliveryResult]
	limiters map[models.DeliveryType]*rate.Limiter
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig, logger zerolog.Logger) *Guard {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 2 * time.Minute
	}
	return &Guard{
		cfg:      cfg,
		logger:   logger.With().Str("component", "delivery_guard").Logger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*DeliveryResult]),
		limiters: make(map[models.DeliveryType]*rate.Limiter),
	}
}

// Do waits for the type's rate limiter and runs fn through the breaker for
// configID. A rejected call returns gobreaker.ErrOpenState or
// gobreaker.ErrTooManyRequests, which are transient.
func (g *Guard) Do(ctx context.Context, t models.DeliveryType, configID string, fn func() (*DeliveryResult, error)) (*DeliveryResult, error) {
	if lim := g.limiter(t); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cb := g.breaker(t, configID)
	result, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn().
			Str("delivery_type", string(t)).
			Str("configuration_id", configID).
			Err(err).
			Msg("Delivery rejected by circuit breaker")
	}
	return result, err
}

// State returns the breaker state for configID, closed when none exists yet.
func (g *Guard) State(t models.DeliveryType, configID string) gobreaker.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[breakerName(t, configID)]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func breakerName(t models.DeliveryType, configID string) string {
	return "delivery:" + string(t) + ":" + configID
}

func (g *Guard) limiter(t models.DeliveryType) *rate.Limiter {
	if g.cfg.RatePerSecond <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[t]
	if !ok {
		burst := int(g.cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), burst)
		g.limiters[t] = lim
	}
	return lim
}

func (g *Guard) breaker(t models.DeliveryType, configID string) *gobreaker.CircuitBreaker[*DeliveryResult] {
	name := breakerName(t, configID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[name]; ok {
		return cb
	}

	threshold := g.cfg.FailureThreshold
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*DeliveryResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // counts reset only on state change
		Timeout:     g.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || retry.IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			g.logger.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("Circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})
	g.breakers[name] = cb
	return cb
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
