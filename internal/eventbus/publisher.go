// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/notify"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus publisher is closed")

// Config configures the status event publisher.
type Config struct {
	URL         string
	StreamName  string
	TopicPrefix string
}

// Envelope is the payload of every message on the bus.
type Envelope struct {
	Type  string      `json:"type"`
	Group string      `json:"group"`
	Data  interface{} `json:"data"`
}

// Publisher forwards notifier messages to NATS JetStream through Watermill.
// It implements notify.Sink.
type Publisher struct {
	publisher message.Publisher
	nc        *natsgo.Conn
	prefix    string
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ notify.Sink = (*Publisher)(nil)

// Open connects to NATS, ensures the status stream exists and returns a
// publisher for it.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Publisher, error) {
	logger = logger.With().Str("component", "eventbus").Logger()
	wmLogger := NewLoggerAdapter(logger)

	natsOpts := []natsgo.Option{
		natsgo.Name("backupbots"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	nc, err := natsgo.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	if _, err := EnsureStream(ctx, nc, StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.TopicPrefix + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, err
	}

	// The stream connection is kept for Close; Watermill manages its own.
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	p := NewPublisher(pub, cfg.TopicPrefix, logger)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing Watermill publisher.
func NewPublisher(pub message.Publisher, topicPrefix string, logger zerolog.Logger) *Publisher {
	p := &Publisher{
		publisher: pub,
		prefix:    topicPrefix,
		logger:    logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "eventbus",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("event bus circuit breaker changed state")
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return p
}

// Name implements notify.Sink.
func (p *Publisher) Name() string { return "eventbus" }

// Topic returns the topic for a subscriber group: the prefix followed by
// the group kind, e.g. backupbots.status.job.
func (p *Publisher) Topic(group string) string {
	kind, _, found := strings.Cut(group, ":")
	if !found || kind == "" {
		kind = "other"
	}
	return p.prefix + "." + kind
}

// Publish implements notify.Sink.
func (p *Publisher) Publish(group string, msg notify.Message) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(Envelope{Type: msg.Type, Group: group, Data: msg.Data})
	if err != nil {
		metrics.EventBusPublished.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("encode event: %w", err)
	}

	wm := message.NewMessage(uuid.NewString(), payload)
	wm.Metadata.Set(natsgo.MsgIdHdr, wm.UUID)
	wm.Metadata.Set("group", group)
	wm.Metadata.Set("type", msg.Type)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(p.Topic(group), wm)
	})
	if err != nil {
		metrics.EventBusPublished.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("publish %s: %w", group, err)
	}
	metrics.EventBusPublished.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

// Healthy reports an error when the publisher is closed, its NATS connection
// is down or its circuit breaker is open.
func (p *Publisher) Healthy(_ context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if p.nc != nil && !p.nc.IsConnected() {
		return fmt.Errorf("NATS connection %s", strings.ToLower(p.nc.Status().String()))
	}
	if p.breaker.State() == gobreaker.StateOpen {
		return errors.New("event bus circuit breaker is open")
	}
	return nil
}

// Close shuts down the publisher and its NATS connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.publisher.Close()
	if p.nc != nil {
		p.nc.Close()
	}
	return err
}
