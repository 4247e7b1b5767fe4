// Package mintreq tracks the curator approval workflow for items a vault
// would not otherwise accept.
//
// A Queue belongs to one vault and is not safe for concurrent use; the owning
// vault serialises access. Mutating methods return an undo func so the caller
// can roll back when a later external transfer fails.
package mintreq

import (
	"sort"
	"time"

	"github.com/R3E-Network/xvault/internal/errors"
)

// Request is the latest request recorded for an item.
type Request struct {
	VaultID   uint64    `json:"vault_id"`
	ItemID    string    `json:"item_id"`
	Requester string    `json:"requester"`
	Status    Status    `json:"status"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queue holds the requests of one vault keyed by item id.
type Queue struct {
	vaultID  uint64
	seq      uint64
	requests map[string]*Request
	now      func() time.Time
}

// New returns an empty queue for vaultID.
func New(vaultID uint64) *Queue {
	return &Queue{
		vaultID:  vaultID,
		requests: make(map[string]*Request),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Get returns a copy of the request for itemID.
func (q *Queue) Get(itemID string) (Request, bool) {
	r, ok := q.requests[itemID]
	if !ok {
		return Request{}, false
	}
	return *r, true
}

// StatusOf returns the status of the latest request for itemID.
func (q *Queue) StatusOf(itemID string) Status {
	if r, ok := q.requests[itemID]; ok {
		return r.Status
	}
	return StatusNone
}

// CheckOpen validates that a new request may be opened for each id.
func (q *Queue) CheckOpen(ids []string) error {
	for _, id := range ids {
		if !CanTransition(q.StatusOf(id), StatusPending) {
			return errors.AlreadyRequested(q.vaultID, id)
		}
	}
	return nil
}

// Open records Pending requests for ids. Call CheckOpen first.
func (q *Queue) Open(requester string, ids []string) (undo func()) {
	now := q.now().UTC()
	prev := q.capture(ids)
	seq := q.seq
	for _, id := range ids {
		q.seq++
		q.requests[id] = &Request{
			VaultID:   q.vaultID,
			ItemID:    id,
			Requester: requester,
			Status:    StatusPending,
			Seq:       q.seq,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return q.restorer(prev, seq)
}

// CheckRevoke validates that requester holds a Pending request for each id.
func (q *Queue) CheckRevoke(requester string, ids []string) error {
	for _, id := range ids {
		r, ok := q.requests[id]
		if !ok || r.Status != StatusPending || r.Requester != requester {
			return errors.Unauthorized("only the requester can revoke a pending mint request").
				WithDetails("vault_id", q.vaultID).
				WithDetails("item_id", id)
		}
	}
	return nil
}

// Revoke moves ids to Revoked. Call CheckRevoke first.
func (q *Queue) Revoke(ids []string) (undo func()) {
	return q.transition(ids, StatusRevoked)
}

// CheckApprove splits ids into those to approve and those already approved.
// Any id that was never requested or was revoked fails with NotPending.
func (q *Queue) CheckApprove(ids []string) (pending []Request, err error) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		switch q.StatusOf(id) {
		case StatusApproved:
			continue
		case StatusPending:
			pending = append(pending, *q.requests[id])
		default:
			return nil, errors.NotPending(q.vaultID, id)
		}
	}
	return pending, nil
}

// Approve moves ids to Approved. Call CheckApprove first.
func (q *Queue) Approve(ids []string) (undo func()) {
	return q.transition(ids, StatusApproved)
}

// Pending lists Pending requests in the order they were opened.
func (q *Queue) Pending() []Request {
	out := make([]Request, 0)
	for _, r := range q.requests {
		if r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Len returns the number of Pending requests.
func (q *Queue) Len() int {
	n := 0
	for _, r := range q.requests {
		if r.Status == StatusPending {
			n++
		}
	}
	return n
}

func (q *Queue) transition(ids []string, to Status) func() {
	now := q.now().UTC()
	prev := q.capture(ids)
	for _, id := range ids {
		r, ok := q.requests[id]
		if !ok || !CanTransition(r.Status, to) {
			continue
		}
		updated := *r
		updated.Status = to
		updated.UpdatedAt = now
		q.requests[id] = &updated
	}
	return q.restorer(prev, q.seq)
}

func (q *Queue) capture(ids []string) map[string]*Request {
	prev := make(map[string]*Request, len(ids))
	for _, id := range ids {
		if _, done := prev[id]; done {
			continue
		}
		prev[id] = q.requests[id]
	}
	return prev
}

func (q *Queue) restorer(prev map[string]*Request, seq uint64) func() {
	return func() {
		for id, r := range prev {
			if r == nil {
				delete(q.requests, id)
			} else {
				q.requests[id] = r
			}
		}
		q.seq = seq
	}
}

// State is the serialisable form of a Queue.
type State struct {
	Seq      uint64    `json:"seq"`
	Requests []Request `json:"requests"`
}

// State exports every request, ordered by sequence.
func (q *Queue) State() State {
	s := State{Seq: q.seq, Requests: make([]Request, 0, len(q.requests))}
	for _, r := range q.requests {
		s.Requests = append(s.Requests, *r)
	}
	sort.Slice(s.Requests, func(i, j int) bool { return s.Requests[i].Seq < s.Requests[j].Seq })
	return s
}

// FromState rebuilds a queue for vaultID.
func FromState(vaultID uint64, s State) *Queue {
	q := New(vaultID)
	q.seq = s.Seq
	for i := range s.Requests {
		r := s.Requests[i]
		r.VaultID = vaultID
		q.requests[r.ItemID] = &r
		if r.Seq > q.seq {
			q.seq = r.Seq
		}
	}
	return q
}
