// Backupbots - Database Backup Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/backupbots

package websocket

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/backupbots/internal/logging"
	"github.com/tomtom215/backupbots/internal/metrics"
	"github.com/tomtom215/backupbots/internal/notify"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeError        = "error"
)

// maxSubscriptions bounds the groups one client may follow.
const maxSubscriptions = 64

// ErrBroadcastFull is returned by Publish when the hub cannot keep up.
var ErrBroadcastFull = errors.New("websocket broadcast channel full")

// Message represents a WebSocket message
type Message struct {
	Type  string      `json:"type"`
	Group string      `json:"group,omitempty"`
	Data  interface{} `json:"data"`
}

// GroupRequest is the data of subscribe and unsubscribe messages.
type GroupRequest struct {
	Group string `json:"group"`
}

type subscription struct {
	client *Client
	group  string
	add    bool
}

// Hub maintains the set of active clients and routes group messages to the
// clients subscribed to that group.
type Hub struct {
	clients    map[*Client]map[string]bool
	broadcast  chan Message
	subscribe  chan subscription
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// done is closed once RunWithContext returns; sends on the channels
	// above must select on it.
	done     chan struct{}
	stopOnce sync.Once
}

var _ notify.Sink = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		subscribe:  make(chan subscription, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]map[string]bool),
		done:       make(chan struct{}),
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Join registers client. It returns false when the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters client. It returns at once when the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// requestSubscription queues a subscription change unless the hub has stopped.
func (h *Hub) requestSubscription(sub subscription) {
	select {
	case h.subscribe <- sub:
	case <-h.done:
	}
}

// Name implements notify.Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements notify.Sink. It never blocks.
func (h *Hub) Publish(group string, msg notify.Message) error {
	select {
	case h.broadcast <- Message{Type: msg.Type, Group: group, Data: msg.Data}:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// RunWithContext runs the hub until ctx is canceled, then closes every
// client and returns ctx.Err().
//
// Shutdown is checked first, then client lifecycle and subscription
// changes, then broadcasts, so a client's state is current before any
// message is routed to it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		case sub := <-h.subscribe:
			h.applySubscription(sub)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case sub := <-h.subscribe:
			h.applySubscription(sub)
		case message := <-h.broadcast:
			h.broadcastToGroup(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = make(map[string]bool)
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("websocket client disconnected")
}

func (h *Hub) applySubscription(sub subscription) {
	h.mu.Lock()
	groups, ok := h.clients[sub.client]
	if !ok {
		h.mu.Unlock()
		return
	}

	reply := Message{Type: MessageTypeSubscribed, Group: sub.group, Data: GroupRequest{Group: sub.group}}
	switch {
	case !sub.add:
		delete(groups, sub.group)
		reply.Type = MessageTypeUnsubscribed
	case groups[sub.group]:
		// already subscribed
	case len(groups) >= maxSubscriptions:
		reply = Message{Type: MessageTypeError, Group: sub.group, Data: "subscription limit reached"}
	default:
		groups[sub.group] = true
	}
	h.mu.Unlock()

	select {
	case sub.client.send <- reply:
	default:
	}
}

// logGracefulShutdown closes all clients and logs the shutdown. ctx.Err()
// is not logged as an error: cancellation is the expected path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sortedClients returns clients in id order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToGroup sends a message to every client subscribed to its group,
// in client id order. Clients whose send buffer is full are dropped.
func (h *Hub) broadcastToGroup(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClients() {
		if !h.clients[client][message.Group] {
			continue
		}
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("dropping slow websocket client")
	}
	if len(toRemove) > 0 {
		metrics.WSConnections.Set(float64(len(h.clients)))
	}
}

// closeAllClients closes every client in id order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscriptions returns the groups client follows, sorted.
func (h *Hub) Subscriptions(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	groups := make([]string, 0, len(h.clients[client]))
	for g := range h.clients[client] {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// ValidGroup reports whether group names a job, database or dashboard.
func ValidGroup(group string) bool {
	for _, prefix := range []string{notify.GroupPrefixJob, notify.GroupPrefixDatabase, notify.GroupPrefixDashboard} {
		if id, ok := strings.CutPrefix(group, prefix); ok {
			return id != "" && len(id) <= 128 && !strings.ContainsAny(id, " \t\r\n")
		}
	}
	return false
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
