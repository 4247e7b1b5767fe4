package mintreq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/R3E-Network/xvault/internal/errors"
)

func fixedQueue() *Queue {
	q := New(3)
	q.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	return q
}

// ===== Status =====

func TestStatus_JSON(t *testing.T) {
	for _, s := range []Status{StatusNone, StatusPending, StatusApproved, StatusRevoked} {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal %s: %v", s, err)
		}
		var back Status
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != s {
			t.Errorf("round trip %s -> %s", s, back)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusPending, true},
		{StatusRevoked, StatusPending, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRevoked, true},
		{StatusApproved, StatusPending, true},
		{StatusPending, StatusPending, false},
		{StatusRevoked, StatusApproved, false},
		{StatusApproved, StatusRevoked, false},
		{StatusNone, StatusApproved, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// ===== Queue =====

func TestOpen_DuplicatePending(t *testing.T) {
	q := fixedQueue()
	if err := q.CheckOpen([]string{"1"}); err != nil {
		t.Fatalf("CheckOpen: %v", err)
	}
	q.Open("alice", []string{"1"})

	err := q.CheckOpen([]string{"1"})
	if !errors.HasCode(err, errors.CodeAlreadyRequested) {
		t.Fatalf("expected ALREADY_REQUESTED, got %v", err)
	}
}

func TestRevoke_OnlyRequester(t *testing.T) {
	q := fixedQueue()
	q.Open("alice", []string{"1"})

	if err := q.CheckRevoke("bob", []string{"1"}); !errors.HasCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for bob, got %v", err)
	}
	if err := q.CheckRevoke("alice", []string{"2"}); !errors.HasCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for unknown item, got %v", err)
	}
	if err := q.CheckRevoke("alice", []string{"1"}); err != nil {
		t.Fatalf("CheckRevoke: %v", err)
	}
	q.Revoke([]string{"1"})
	if q.StatusOf("1") != StatusRevoked {
		t.Fatalf("status = %s, want revoked", q.StatusOf("1"))
	}
	if err := q.CheckRevoke("alice", []string{"1"}); err == nil {
		t.Fatal("revoking twice should fail")
	}
}

func TestApprove(t *testing.T) {
	q := fixedQueue()
	q.Open("alice", []string{"1", "2"})

	pending, err := q.CheckApprove([]string{"1"})
	if err != nil {
		t.Fatalf("CheckApprove: %v", err)
	}
	if len(pending) != 1 || pending[0].Requester != "alice" {
		t.Fatalf("pending = %+v", pending)
	}
	q.Approve([]string{"1"})

	pending, err = q.CheckApprove([]string{"1"})
	if err != nil || len(pending) != 0 {
		t.Fatalf("second approval should be a no-op, got %v, %v", pending, err)
	}

	if _, err := q.CheckApprove([]string{"9"}); !errors.HasCode(err, errors.CodeNotPending) {
		t.Fatalf("expected NOT_PENDING for never requested, got %v", err)
	}

	q.Revoke([]string{"2"})
	if _, err := q.CheckApprove([]string{"2"}); !errors.HasCode(err, errors.CodeNotPending) {
		t.Fatalf("expected NOT_PENDING after revoke, got %v", err)
	}
}

func TestReopenAfterRevoke(t *testing.T) {
	q := fixedQueue()
	q.Open("alice", []string{"1"})
	q.Revoke([]string{"1"})
	if err := q.CheckOpen([]string{"1"}); err != nil {
		t.Fatalf("reopen after revoke: %v", err)
	}
	q.Open("bob", []string{"1"})
	r, _ := q.Get("1")
	if r.Requester != "bob" || r.Status != StatusPending {
		t.Fatalf("request = %+v", r)
	}
}

func TestUndo(t *testing.T) {
	q := fixedQueue()
	undo := q.Open("alice", []string{"1", "2"})
	undo()
	if q.Len() != 0 {
		t.Fatalf("len = %d after undo", q.Len())
	}

	q.Open("alice", []string{"1"})
	undo = q.Approve([]string{"1"})
	undo()
	if q.StatusOf("1") != StatusPending {
		t.Fatalf("status = %s after undo, want pending", q.StatusOf("1"))
	}
}

func TestPending_Ordered(t *testing.T) {
	q := fixedQueue()
	q.Open("alice", []string{"z", "a"})
	q.Open("bob", []string{"m"})

	got := q.Pending()
	want := []string{"z", "a", "m"}
	if len(got) != len(want) {
		t.Fatalf("pending = %+v", got)
	}
	for i, id := range want {
		if got[i].ItemID != id {
			t.Errorf("pending[%d] = %s, want %s", i, got[i].ItemID, id)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	q := fixedQueue()
	q.Open("alice", []string{"1", "2"})
	q.Approve([]string{"1"})

	data, err := json.Marshal(q.State())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := FromState(3, s)
	if restored.StatusOf("1") != StatusApproved || restored.StatusOf("2") != StatusPending {
		t.Fatalf("restored statuses: %s %s", restored.StatusOf("1"), restored.StatusOf("2"))
	}
	restored.Open("bob", []string{"3"})
	r, _ := restored.Get("3")
	if r.Seq != 3 {
		t.Fatalf("seq = %d, want 3", r.Seq)
	}
}
