// Package events records what happened to vaults. Events are kept in a
// bounded ring buffer for the /events endpoint and fanned out to subscribers
// such as the metrics collector.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/xvault/internal/logging"
)

// EventType classifies a vault event.
type EventType string

const (
	EventVaultCreated     EventType = "vault.created"
	EventVaultFinalized   EventType = "vault.finalized"
	EventConfigChanged    EventType = "vault.config_changed"
	EventReserveDeposited EventType = "vault.reserve_deposited"

	EventMinted   EventType = "vault.minted"
	EventRedeemed EventType = "vault.redeemed"
	EventSwapped  EventType = "vault.swapped"

	EventMintRequested EventType = "request.opened"
	EventMintApproved  EventType = "request.approved"
	EventMintRevoked   EventType = "request.revoked"

	EventOperationFailed EventType = "vault.operation_failed"
	EventStateRestored   EventType = "registry.restored"
)

// Event is a single vault occurrence. Amounts are decimal strings.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	VaultID uint64   `json:"vault_id"`
	Actor   string   `json:"actor,omitempty"`
	Items   []string `json:"items,omitempty"`

	Amount  string `json:"amount,omitempty"`
	Fee     string `json:"fee,omitempty"`
	Bounty  string `json:"bounty,omitempty"`
	Reserve string `json:"reserve,omitempty"`

	Operation string            `json:"operation,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are logged.
type Handler func(Event)

// Filter decides whether a handler sees an event.
type Filter func(Event) bool

// Publisher is what the vault engine needs from an event log.
type Publisher interface {
	LogWithContext(ctx context.Context, event Event)
}

// RingBuffer is a thread-safe bounded event log.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Publisher = (*RingBuffer)(nil)

// NewRingBuffer creates a buffer holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{events: make([]Event, size), size: size}
}

// Log stores event and notifies subscribers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Handlers run outside the lock so they may read the buffer.
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext copies the trace id from ctx before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if event.TraceID == "" {
		event.TraceID = logging.GetTraceID(ctx)
	}
	rb.Log(event)
}

// Subscribe registers handler for every event and returns an unsubscribe func.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers handler for events accepted by filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

// RecentByVault returns up to n events for one vault, newest first.
func (rb *RingBuffer) RecentByVault(vaultID uint64, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.VaultID == vaultID })
}

// RecentByType returns up to n events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == eventType })
}

func (rb *RingBuffer) collect(n int, match Filter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if match == nil || match(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops all buffered events. Subscribers stay registered.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}
