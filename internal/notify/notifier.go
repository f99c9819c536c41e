// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

// Package notify fans status changes out to live subscribers.
//
// Pipeline stages call Notifier.Publish after every successful transition.
// Publish never blocks: events land in a bounded queue and, when the queue
// is full, the oldest waiting event is evicted. A single dispatch goroutine
// drains the queue and hands each event to every registered Sink under three
// subscriber groups:
//
//	job:<entity id>
//	database:<database id>
//	dashboard:<resource group id>
//
// Sink errors are logged at debug level and otherwise ignored; a slow or
// broken subscriber never holds up the pipeline.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/models"
)

// Message types delivered to sinks.
const (
	MessageTypeStatus    = "status_changed"
	MessageTypeDashboard = "dashboard_metrics"
)

// Group prefixes.
const (
	GroupPrefixJob       = "job:"
	GroupPrefixDatabase  = "database:"
	GroupPrefixDashboard = "dashboard:"
)

// DefaultQueueSize is used when Config.QueueSize is not positive.
const DefaultQueueSize = 1024

// JobGroup is the group of a backup or delivery record.
func JobGroup(id string) string { return GroupPrefixJob + id }

// DatabaseGroup is the group of a registered database.
func DatabaseGroup(id string) string { return GroupPrefixDatabase + id }

// DashboardGroup is the group of a resource group's dashboard.
func DashboardGroup(id string) string { return GroupPrefixDashboard + id }

// Message is the payload handed to sinks.
type Message struct {
	Type  string      `json:"type"`
	Group string      `json:"group"`
	Data  interface{} `json:"data"`
}

// Sink receives messages for subscriber groups.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Publish delivers msg to the subscribers of group. It must not block
	// for long.
	Publish(group string, msg Message) error
}

// Publisher is what pipeline stages depend on.
type Publisher interface {
	Publish(event models.StatusEvent)
}

// Config configures a Notifier.
type Config struct {
	QueueSize int
}

// Notifier queues status events and dispatches them to sinks.
type Notifier struct {
	logger zerolog.Logger

	mu    sync.Mutex
	queue []models.StatusEvent // ring buffer
	head  int
	size  int

	signal chan struct{}

	sinksMu sync.RWMutex
	sinks   []Sink

	lifecycleMu sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

var _ Publisher = (*Notifier)(nil)

// New creates a notifier.
func New(cfg Config, logger zerolog.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Notifier{
		logger: logger.With().Str("component", "notifier").Logger(),
		queue:  make([]models.StatusEvent, cfg.QueueSize),
		signal: make(chan struct{}, 1),
	}
}

// AddSink registers a sink. Sinks added while running receive subsequent events.
func (n *Notifier) AddSink(s Sink) {
	n.sinksMu.Lock()
	defer n.sinksMu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Publish enqueues event without blocking, evicting the oldest queued event
// when the queue is full.
func (n *Notifier) Publish(event models.StatusEvent) {
	n.mu.Lock()
	if n.size == len(n.queue) {
		n.head = (n.head + 1) % len(n.queue)
		n.size--
		metrics.NotifyDropped.Inc()
	}
	n.queue[(n.head+n.size)%len(n.queue)] = event
	n.size++
	depth := n.size
	n.mu.Unlock()

	metrics.NotifyPublished.Inc()
	metrics.NotifyQueueDepth.Set(float64(depth))

	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued events.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

// drain removes and returns every queued event, oldest first.
func (n *Notifier) drain() []models.StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.size == 0 {
		return nil
	}
	out := make([]models.StatusEvent, n.size)
	for i := range out {
		idx := (n.head + i) % len(n.queue)
		out[i] = n.queue[idx]
		n.queue[idx] = models.StatusEvent{}
	}
	n.head = 0
	n.size = 0
	metrics.NotifyQueueDepth.Set(0)
	return out
}

// Start launches the dispatch goroutine.
func (n *Notifier) Start(ctx context.Context) error {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()
	if n.running {
		return fmt.Errorf("notifier already running")
	}
	n.running = true
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})

	go n.run(ctx, n.stopCh, n.doneCh)
	return nil
}

// Stop stops dispatching after delivering what is already queued.
func (n *Notifier) Stop() error {
	n.lifecycleMu.Lock()
	if !n.running {
		n.lifecycleMu.Unlock()
		return nil
	}
	stopCh, doneCh := n.stopCh, n.doneCh
	n.running = false
	n.lifecycleMu.Unlock()

	close(stopCh)
	<-doneCh
	return nil
}

// IsRunning reports whether the dispatch goroutine is started.
func (n *Notifier) IsRunning() bool {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()
	return n.running
}

func (n *Notifier) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-n.signal:
			n.dispatchAll(n.drain())
		case <-stopCh:
			n.dispatchAll(n.drain())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) dispatchAll(events []models.StatusEvent) {
	for i := range events {
		n.Dispatch(&events[i])
	}
}

// Dispatch fans one event out to every sink synchronously.
func (n *Notifier) Dispatch(event *models.StatusEvent) {
	for _, group := range GroupsFor(event) {
		n.Broadcast(group, Message{Type: MessageTypeStatus, Group: group, Data: event})
	}
}

// Broadcast hands msg to every sink for group.
func (n *Notifier) Broadcast(group string, msg Message) {
	n.sinksMu.RLock()
	sinks := n.sinks
	n.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(group, msg); err != nil {
			n.logger.Debug().
				Err(err).
				Str("sink", s.Name()).
				Str("group", group).
				Msg("Sink publish failed")
		}
	}
}

// GroupsFor returns the subscriber groups of event. Empty ids are skipped.
func GroupsFor(event *models.StatusEvent) []string {
	groups := make([]string, 0, 3)
	if event.EntityID != "" {
		groups = append(groups, JobGroup(event.EntityID))
	}
	if event.DatabaseID != "" {
		groups = append(groups, DatabaseGroup(event.DatabaseID))
	}
	if event.ResourceGroupID != "" {
		groups = append(groups, DashboardGroup(event.ResourceGroupID))
	}
	return groups
}
