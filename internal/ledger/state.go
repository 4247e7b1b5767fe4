package ledger

import (
	"fmt"
	"math/big"
	"sort"
)

// State is a serialisable copy of a Directory.
type State struct {
	Collections map[string]map[string]string   `json:"collections"`
	Tokens      map[string]map[string]*big.Int `json:"tokens"`
}

// Owners returns a copy of the item to owner map.
func (c *Collection) Owners() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.owners))
	for id, owner := range c.owners {
		out[id] = owner
	}
	return out
}

// Balances returns a copy of every non-zero balance.
func (t *Token) Balances() map[string]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*big.Int, len(t.balances))
	for holder, b := range t.balances {
		if b.Sign() != 0 {
			out[holder] = new(big.Int).Set(b)
		}
	}
	return out
}

// LoadBalances replaces the balances of a token that has no supply yet. The
// supply becomes the sum of the loaded balances.
func (t *Token) LoadBalances(balances map[string]*big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.supply.Sign() != 0 {
		return fmt.Errorf("ledger: %s already has supply", t.name)
	}
	loaded := make(map[string]*big.Int, len(balances))
	supply := new(big.Int)
	for holder, b := range balances {
		if b == nil || b.Sign() < 0 {
			return fmt.Errorf("ledger: %s: invalid balance for %s", t.name, holder)
		}
		loaded[holder] = new(big.Int).Set(b)
		supply.Add(supply, b)
	}
	t.balances = loaded
	t.supply = supply
	return nil
}

// Refs lists the registered collection and token refs in sorted order.
func (d *Directory) Refs() (collections, tokens []string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for ref := range d.collections {
		collections = append(collections, ref)
	}
	for ref := range d.tokens {
		tokens = append(tokens, ref)
	}
	sort.Strings(collections)
	sort.Strings(tokens)
	return collections, tokens
}

// State copies every module in the directory.
func (d *Directory) State() State {
	d.mu.RLock()
	collections := make(map[string]*Collection, len(d.collections))
	for ref, c := range d.collections {
		collections[ref] = c
	}
	tokens := make(map[string]*Token, len(d.tokens))
	for ref, t := range d.tokens {
		tokens[ref] = t
	}
	d.mu.RUnlock()

	s := State{
		Collections: make(map[string]map[string]string, len(collections)),
		Tokens:      make(map[string]map[string]*big.Int, len(tokens)),
	}
	for ref, c := range collections {
		s.Collections[ref] = c.Owners()
	}
	for ref, t := range tokens {
		s.Tokens[ref] = t.Balances()
	}
	return s
}

// LoadState fills an empty directory from s.
func (d *Directory) LoadState(s State) error {
	collections := make(map[string]*Collection, len(s.Collections))
	for ref, owners := range s.Collections {
		c := NewCollection(ref)
		for id, owner := range owners {
			c.owners[id] = owner
		}
		collections[ref] = c
	}
	tokens := make(map[string]*Token, len(s.Tokens))
	for ref, balances := range s.Tokens {
		t := NewToken(ref)
		if err := t.LoadBalances(balances); err != nil {
			return err
		}
		tokens[ref] = t
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.collections) > 0 || len(d.tokens) > 0 {
		return fmt.Errorf("ledger: directory is not empty")
	}
	d.collections = collections
	d.tokens = tokens
	return nil
}
