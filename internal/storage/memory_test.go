package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/logging"
)

var epoch = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

func checkpointAt(id string, minutes int) *Checkpoint {
	return &Checkpoint{
		ID:       id,
		Version:  1,
		TakenAt:  epoch.Add(time.Duration(minutes) * time.Minute),
		Registry: []byte(`{"version":1}`),
		Ledgers:  []byte(`{}`),
	}
}

func TestMemory_Checkpoints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.LatestCheckpoint(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestCheckpoint() on empty store error = %v, want ErrNotFound", err)
	}

	for i, id := range []string{"b", "a", "c"} {
		minutes := []int{2, 1, 3}[i]
		if err := m.SaveCheckpoint(ctx, checkpointAt(id, minutes)); err != nil {
			t.Fatalf("SaveCheckpoint(%s): %v", id, err)
		}
	}

	latest, err := m.LatestCheckpoint(ctx)
	if err != nil {
		t.Fatalf("LatestCheckpoint() error = %v", err)
	}
	if latest.ID != "c" {
		t.Errorf("latest = %q, want c", latest.ID)
	}
	latest.Registry[0] = 'X'
	again, _ := m.LatestCheckpoint(ctx)
	if again.Registry[0] != '{' {
		t.Error("LatestCheckpoint() returned shared payload")
	}

	list, _ := m.ListCheckpoints(ctx, 2)
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("ListCheckpoints(2) = %+v", list)
	}

	removed, err := m.PruneCheckpoints(ctx, 1)
	if err != nil || removed != 2 {
		t.Fatalf("PruneCheckpoints(1) = %d, %v; want 2", removed, err)
	}
	if list, _ := m.ListCheckpoints(ctx, 0); len(list) != 1 || list[0].ID != "c" {
		t.Errorf("after prune = %+v", list)
	}
	if removed, _ := m.PruneCheckpoints(ctx, 5); removed != 0 {
		t.Errorf("PruneCheckpoints(5) removed %d", removed)
	}
}

func TestMemory_VaultEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		_ = m.RecordEvent(ctx, events.Event{ID: string(rune('a' + i)), VaultID: uint64(i % 2)})
	}

	got, _ := m.VaultEvents(ctx, 0, 2)
	if len(got) != 2 || got[0].ID != "e" || got[1].ID != "c" {
		t.Errorf("VaultEvents(0, 2) = %+v", got)
	}
	if got, _ := m.VaultEvents(ctx, 1, 0); len(got) != 2 {
		t.Errorf("VaultEvents(1, 0) len = %d, want 2", len(got))
	}
}

type failingStore struct {
	*Memory
	fail bool
}

func (f *failingStore) RecordEvent(ctx context.Context, e events.Event) error {
	if f.fail {
		return errors.New("write failed")
	}
	return f.Memory.RecordEvent(ctx, e)
}

func TestEventSink(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sink := NewEventSink(m, logging.Discard(), 16)

	for i := 0; i < 3; i++ {
		sink.Handle(events.Event{ID: string(rune('a' + i)), VaultID: 7})
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, _ := m.VaultEvents(ctx, 7, 0)
	if len(got) != 3 {
		t.Fatalf("archived %d events, want 3", len(got))
	}

	sink.Handle(events.Event{VaultID: 7})
	if err := sink.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if got, _ := m.VaultEvents(ctx, 7, 0); len(got) != 3 {
		t.Error("events accepted after Close")
	}
}

func TestEventSink_StoreErrorsAreLogged(t *testing.T) {
	store := &failingStore{Memory: NewMemory(), fail: true}
	sink := NewEventSink(store, logging.Discard(), 4)
	sink.Handle(events.Event{VaultID: 1})
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got, _ := store.VaultEvents(context.Background(), 1, 0); len(got) != 0 {
		t.Error("failed write should not be archived")
	}
}

func TestEventSink_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{Memory: NewMemory(), block: block}
	sink := NewEventSink(store, logging.Discard(), 1)

	for i := 0; i < 10; i++ {
		sink.Handle(events.Event{VaultID: 1})
	}
	if sink.Dropped() == 0 {
		t.Error("expected dropped events with a blocked store and a queue of one")
	}
	close(block)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

type blockingStore struct {
	*Memory
	block chan struct{}
}

func (b *blockingStore) RecordEvent(ctx context.Context, e events.Event) error {
	<-b.block
	return b.Memory.RecordEvent(ctx, e)
}
