// Package eligibility decides which collateral item ids a vault accepts.
package eligibility

import "sort"

// Rules holds one vault's eligibility configuration.
//
// With Negate false the set is an allow-list and an empty set allows all.
// With Negate true the set is a deny-list. Per-item overrides, written by
// curator approval and redeem flips, take precedence over both.
type Rules struct {
	negate    bool
	flip      bool
	set       map[string]struct{}
	overrides map[string]bool
}

// New returns allow-all rules.
func New() *Rules {
	return &Rules{
		set:       make(map[string]struct{}),
		overrides: make(map[string]bool),
	}
}

// IsEligible reports whether itemID may be minted.
func (r *Rules) IsEligible(itemID string) bool {
	if v, ok := r.overrides[itemID]; ok {
		return v
	}
	_, listed := r.set[itemID]
	if r.negate {
		return !listed
	}
	return listed || len(r.set) == 0
}

// SetEligible adds (eligible) or removes ids from the set. Overrides for the
// ids are cleared so the set decides again.
func (r *Rules) SetEligible(ids []string, eligible bool) {
	for _, id := range ids {
		if eligible {
			r.set[id] = struct{}{}
		} else {
			delete(r.set, id)
		}
		delete(r.overrides, id)
	}
}

// SetNegate changes how the set is interpreted. The set and overrides are
// left untouched.
func (r *Rules) SetNegate(negate bool) {
	r.negate = negate
}

// Negate returns the current interpretation flag.
func (r *Rules) Negate() bool {
	return r.negate
}

// SetFlipOnRedeem enables the redeem cooldown.
func (r *Rules) SetFlipOnRedeem(flip bool) {
	r.flip = flip
}

// FlipOnRedeem reports whether redeems toggle item eligibility.
func (r *Rules) FlipOnRedeem() bool {
	return r.flip
}

// Approve whitelists id regardless of the set and negate flag.
func (r *Rules) Approve(id string) {
	r.overrides[id] = true
}

// Override returns the per-item override for id, if any.
func (r *Rules) Override(id string) (value bool, ok bool) {
	value, ok = r.overrides[id]
	return value, ok
}

// Redeemed applies the redeem flip to id, if enabled. It returns the previous
// override state so callers can undo the change.
func (r *Rules) Redeemed(id string) (prev bool, hadPrev bool) {
	prev, hadPrev = r.overrides[id]
	if r.flip {
		r.overrides[id] = !r.IsEligible(id)
	}
	return prev, hadPrev
}

// RestoreOverride puts back an override captured by Redeemed.
func (r *Rules) RestoreOverride(id string, prev, hadPrev bool) {
	if hadPrev {
		r.overrides[id] = prev
		return
	}
	delete(r.overrides, id)
}

// Clone returns an independent copy.
func (r *Rules) Clone() *Rules {
	c := New()
	c.negate = r.negate
	c.flip = r.flip
	for id := range r.set {
		c.set[id] = struct{}{}
	}
	for id, v := range r.overrides {
		c.overrides[id] = v
	}
	return c
}

// State is the serialisable form of Rules.
type State struct {
	Negate       bool            `json:"negate"`
	FlipOnRedeem bool            `json:"flip_on_redeem"`
	Set          []string        `json:"set"`
	Overrides    map[string]bool `json:"overrides,omitempty"`
}

// State exports the rules with the set sorted for stable output.
func (r *Rules) State() State {
	s := State{
		Negate:       r.negate,
		FlipOnRedeem: r.flip,
		Set:          make([]string, 0, len(r.set)),
	}
	for id := range r.set {
		s.Set = append(s.Set, id)
	}
	sort.Strings(s.Set)
	if len(r.overrides) > 0 {
		s.Overrides = make(map[string]bool, len(r.overrides))
		for id, v := range r.overrides {
			s.Overrides[id] = v
		}
	}
	return s
}

// FromState rebuilds rules from an exported state.
func FromState(s State) *Rules {
	r := New()
	r.negate = s.Negate
	r.flip = s.FlipOnRedeem
	for _, id := range s.Set {
		r.set[id] = struct{}{}
	}
	for id, v := range s.Overrides {
		r.overrides[id] = v
	}
	return r
}
