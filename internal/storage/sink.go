package storage

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/logging"
)

// EventSink archives events in the background so that slow storage never
// holds up a vault operation. Events arriving while the queue is full are
// dropped and counted.
type EventSink struct {
	store   EventStore
	log     *logging.Logger
	queue   chan events.Event
	timeout time.Duration

	mu      sync.Mutex
	dropped int64
	closed  bool
	done    chan struct{}
}

// NewEventSink starts a sink with a queue of the given size.
func NewEventSink(store EventStore, log *logging.Logger, size int) *EventSink {
	if size <= 0 {
		size = 256
	}
	s := &EventSink{
		store:   store,
		log:     log,
		queue:   make(chan events.Event, size),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Handle enqueues e. It is an events.Handler.
func (s *EventSink) Handle(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped++
	}
}

// Dropped returns how many events were discarded on a full queue.
func (s *EventSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end.
func (s *EventSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EventSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.store.RecordEvent(ctx, e); err != nil {
			s.log.WithError(err).WithField("event_type", string(e.Type)).Warn("archive event failed")
		}
		cancel()
	}
}
