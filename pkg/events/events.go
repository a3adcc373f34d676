package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	// EventServerStatus announces a status transition
	EventServerStatus EventType = "server_status"

	// EventServerUpdate announces a membership change: a server was
	// created, updated, or deleted
	EventServerUpdate EventType = "server_update"
)

// Event is one notification fanned out to subscribers
type Event struct {
	ID        string
	Type      EventType
	ServerID  string
	Timestamp time.Time

	// Status fields, set for EventServerStatus
	Status      types.Status
	StartedAt   *time.Time
	UpdateStage types.UpdateStage

	// Action is set for EventServerUpdate
	Action types.UpdateAction
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls further behind starts losing events rather than stalling
// the hub.
const subscriberBuffer = 50

type subscriber struct {
	ch      chan *Event
	all     bool
	servers map[string]struct{}
}

func (s *subscriber) wants(e *Event) bool {
	// Membership changes reach everyone so server lists stay fresh;
	// status events respect the subscription scope
	if e.Type == EventServerUpdate {
		return true
	}
	if s.all {
		return true
	}
	_, ok := s.servers[e.ServerID]
	return ok
}

// Hub distributes server events to push subscribers. A single
// distribution goroutine drains a central queue, so each subscriber
// observes events in publish order.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	eventCh chan *Event
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewHub creates a hub; call Start before publishing
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("events"),
	}
}

// Start begins the distribution loop
func (h *Hub) Start() {
	go h.run()
}

// Stop halts distribution and closes every subscriber channel
func (h *Hub) Stop() {
	close(h.stopCh)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Subscribe registers a new subscriber with no scope. Until the scope
// is widened it only receives membership events.
func (h *Hub) Subscribe() (string, <-chan *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	sub := &subscriber{
		ch:      make(chan *Event, subscriberBuffer),
		servers: make(map[string]struct{}),
	}
	h.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// SetServerScope adds or removes one server from a subscriber's scope
func (h *Hub) SetServerScope(id, serverID string, subscribed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	if subscribed {
		sub.servers[serverID] = struct{}{}
	} else {
		delete(sub.servers, serverID)
	}
}

// SetAll switches a subscriber between all-servers and explicit scope
func (h *Hub) SetAll(id string, all bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		sub.all = all
	}
}

// PublishStatus queues a status transition event
func (h *Hub) PublishStatus(serverID string, status types.Status, startedAt *time.Time, stage types.UpdateStage) {
	h.publish(&Event{
		ID:          uuid.NewString(),
		Type:        EventServerStatus,
		ServerID:    serverID,
		Timestamp:   time.Now().UTC(),
		Status:      status,
		StartedAt:   startedAt,
		UpdateStage: stage,
	})
}

// PublishMembership queues a created/updated/deleted event
func (h *Hub) PublishMembership(serverID string, action types.UpdateAction) {
	h.publish(&Event{
		ID:        uuid.NewString(),
		Type:      EventServerUpdate,
		ServerID:  serverID,
		Timestamp: time.Now().UTC(),
		Action:    action,
	})
}

func (h *Hub) publish(event *Event) {
	select {
	case h.eventCh <- event:
	case <-h.stopCh:
	}
}

func (h *Hub) run() {
	for {
		select {
		case event := <-h.eventCh:
			h.broadcast(event)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) broadcast(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full; drop for this subscriber only
			h.logger.Debug().
				Str("subscriber_id", id).
				Str("event_type", string(event.Type)).
				Msg("Subscriber too slow, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
