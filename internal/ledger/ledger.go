// Package ledger provides in-memory asset, claim token and native currency
// modules. The daemon uses them as its backing ledgers and tests use them to
// observe every transfer a vault makes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/xvault/internal/vault"
)

var (
	// ErrNotOwner is returned when a transfer names the wrong owner.
	ErrNotOwner = errors.New("ledger: not the owner")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrUnknownItem is returned for items that were never minted.
	ErrUnknownItem = errors.New("ledger: unknown item")
	// ErrUnknownRef is returned by Directory for unregistered refs.
	ErrUnknownRef = errors.New("ledger: unknown module ref")
)

// Op describes a mutation about to be applied to a ledger.
type Op struct {
	Module string
	Kind   string
	From   string
	To     string
	ItemID string
	Amount *big.Int
}

// Hook runs after a mutation is validated and before it is applied. A
// non-nil error aborts the mutation.
type Hook func(ctx context.Context, op Op) error

type hooked struct {
	hookMu sync.RWMutex
	hook   Hook
}

// SetHook installs h. Pass nil to remove it.
func (h *hooked) SetHook(fn Hook) {
	h.hookMu.Lock()
	h.hook = fn
	h.hookMu.Unlock()
}

func (h *hooked) run(ctx context.Context, op Op) error {
	h.hookMu.RLock()
	fn := h.hook
	h.hookMu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, op)
}

// =============================================================================
// Collection
// =============================================================================

// Collection is an in-memory non-fungible asset module.
type Collection struct {
	hooked
	name   string
	mu     sync.RWMutex
	owners map[string]string
}

var _ vault.Collection = (*Collection)(nil)

// NewCollection creates an empty collection.
func NewCollection(name string) *Collection {
	return &Collection{name: name, owners: make(map[string]string)}
}

// Name returns the collection ref.
func (c *Collection) Name() string {
	return c.name
}

// Issue creates itemID owned by to.
func (c *Collection) Issue(to, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.owners[itemID]; exists {
		return fmt.Errorf("ledger: item %s already exists in %s", itemID, c.name)
	}
	c.owners[itemID] = to
	return nil
}

// OwnerOf returns the current owner of itemID.
func (c *Collection) OwnerOf(_ context.Context, itemID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.owners[itemID]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownItem, c.name, itemID)
	}
	return owner, nil
}

// TransferFrom moves itemID from one owner to another.
func (c *Collection) TransferFrom(ctx context.Context, from, to, itemID string) error {
	c.mu.RLock()
	owner, ok := c.owners[itemID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownItem, c.name, itemID)
	}
	if owner != from {
		return fmt.Errorf("%w: %s/%s is held by %s, not %s", ErrNotOwner, c.name, itemID, owner, from)
	}

	// The hook may call back into the vault engine, so it runs without the lock.
	if err := c.run(ctx, Op{Module: c.name, Kind: "transfer", From: from, To: to, ItemID: itemID}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[itemID] != from {
		return fmt.Errorf("%w: %s/%s changed owner during transfer", ErrNotOwner, c.name, itemID)
	}
	c.owners[itemID] = to
	return nil
}

// ItemsOf lists the items held by owner.
func (c *Collection) ItemsOf(owner string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, o := range c.owners {
		if o == owner {
			out = append(out, id)
		}
	}
	return out
}

// =============================================================================
// Token
// =============================================================================

// Token is an in-memory fungible balance ledger. It serves as a fungible
// asset, as a claim token and as the native currency bank.
type Token struct {
	hooked
	name     string
	mu       sync.RWMutex
	balances map[string]*big.Int
	supply   *big.Int
}

var (
	_ vault.Token      = (*Token)(nil)
	_ vault.ClaimToken = (*Token)(nil)
	_ vault.Bank       = (*Token)(nil)
)

// NewToken creates a token with zero supply.
func NewToken(name string) *Token {
	return &Token{name: name, balances: make(map[string]*big.Int), supply: new(big.Int)}
}

// NewBank creates the native currency ledger.
func NewBank() *Token {
	return NewToken("native")
}

// Name returns the token ref.
func (t *Token) Name() string {
	return t.name
}

// BalanceOf returns a copy of holder's balance.
func (t *Token) BalanceOf(_ context.Context, holder string) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.balance(holder)), nil
}

// TotalSupply returns a copy of the outstanding supply.
func (t *Token) TotalSupply(_ context.Context) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply), nil
}

// Mint credits amount to holder and grows the supply.
func (t *Token) Mint(ctx context.Context, to string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := t.run(ctx, Op{Module: t.name, Kind: "mint", To: to, Amount: amount}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
	t.supply.Add(t.supply, amount)
	return nil
}

// Burn debits amount from holder and shrinks the supply.
func (t *Token) Burn(ctx context.Context, from string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := t.checkFunds(from, amount); err != nil {
		return err
	}
	if err := t.run(ctx, Op{Module: t.name, Kind: "burn", From: from, Amount: amount}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.supply.Sub(t.supply, amount)
	return nil
}

// Transfer moves amount between holders.
func (t *Token) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := t.checkFunds(from, amount); err != nil {
		return err
	}
	if err := t.run(ctx, Op{Module: t.name, Kind: "transfer", From: from, To: to, Amount: amount}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (t *Token) checkFunds(holder string, amount *big.Int) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.balance(holder).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, holder, t.balance(holder), t.name, amount)
	}
	return nil
}

func (t *Token) balance(holder string) *big.Int {
	if b, ok := t.balances[holder]; ok {
		return b
	}
	return new(big.Int)
}

func (t *Token) credit(holder string, amount *big.Int) {
	b, ok := t.balances[holder]
	if !ok {
		b = new(big.Int)
		t.balances[holder] = b
	}
	b.Add(b, amount)
}

func (t *Token) debit(holder string, amount *big.Int) error {
	b := t.balance(holder)
	if b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, holder, b, t.name, amount)
	}
	t.balances[holder] = new(big.Int).Sub(b, amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: amount must be non-negative")
	}
	return nil
}

// =============================================================================
// Directory
// =============================================================================

// Directory maps refs to in-memory modules.
type Directory struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	tokens      map[string]*Token
}

var _ vault.Modules = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		collections: make(map[string]*Collection),
		tokens:      make(map[string]*Token),
	}
}

// AddCollection registers c under its name and returns it.
func (d *Directory) AddCollection(c *Collection) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.collections[c.Name()] = c
	return c
}

// AddToken registers t under its name and returns it.
func (d *Directory) AddToken(t *Token) *Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[t.Name()] = t
	return t
}

// Ensure registers a collection or token for ref if none exists yet.
func (d *Directory) Ensure(ref string, fungible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fungible {
		if _, ok := d.tokens[ref]; !ok {
			d.tokens[ref] = NewToken(ref)
		}
		return
	}
	if _, ok := d.collections[ref]; !ok {
		d.collections[ref] = NewCollection(ref)
	}
}

// LookupCollection returns the concrete collection for ref.
func (d *Directory) LookupCollection(ref string) (*Collection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[ref]
	return c, ok
}

// LookupToken returns the concrete token for ref.
func (d *Directory) LookupToken(ref string) (*Token, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tokens[ref]
	return t, ok
}

// Collection implements vault.Modules.
func (d *Directory) Collection(ref string) (vault.Collection, error) {
	if c, ok := d.LookupCollection(ref); ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: collection %q", ErrUnknownRef, ref)
}

// Token implements vault.Modules.
func (d *Directory) Token(ref string) (vault.Token, error) {
	if t, ok := d.LookupToken(ref); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: token %q", ErrUnknownRef, ref)
}

// ClaimToken implements vault.Modules.
func (d *Directory) ClaimToken(ref string) (vault.ClaimToken, error) {
	if t, ok := d.LookupToken(ref); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: claim token %q", ErrUnknownRef, ref)
}
