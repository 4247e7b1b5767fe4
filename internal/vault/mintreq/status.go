package mintreq

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a mint request.
type Status int32

const (
	// StatusNone means no request has been recorded for the item.
	StatusNone Status = iota

	// StatusPending means the item is escrowed and awaits a curator.
	StatusPending

	// StatusApproved means the item was whitelisted and minted.
	StatusApproved

	// StatusRevoked means the requester withdrew the item.
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStatus(str)
	return nil
}

// ParseStatus converts a string to Status. Unknown strings map to StatusNone.
func ParseStatus(s string) Status {
	switch s {
	case "pending":
		return StatusPending
	case "approved":
		return StatusApproved
	case "revoked":
		return StatusRevoked
	default:
		return StatusNone
	}
}

// IsTerminal reports whether no further transition is possible for this
// request. A new request may still be opened for the same item, for example
// after a revoke or once a redeem flip made an approved item ineligible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRevoked
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusPending:
		return from != StatusPending
	case StatusApproved, StatusRevoked:
		return from == StatusPending
	default:
		return false
	}
}
