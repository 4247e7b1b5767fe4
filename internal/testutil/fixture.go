// Package testutil builds registries backed by in-memory ledgers for tests.
package testutil

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/ledger"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/vault"
)

// Well-known accounts.
const (
	Owner = "owner"
	Misc  = "misc"
	Alice = "alice"
	Bob   = "bob"
)

// Epoch is the fixed time reported by fixture clocks.
var Epoch = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

// Fixture is a registry wired to fresh ledgers.
type Fixture struct {
	Ctx       context.Context
	Registry  *vault.Registry
	Directory *ledger.Directory
	Bank      *ledger.Token
	Events    *events.RingBuffer
}

// New creates a fixture whose accounts each hold 1000 units of native currency.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		Ctx:       context.Background(),
		Directory: ledger.NewDirectory(),
		Bank:      ledger.NewBank(),
		Events:    events.NewRingBuffer(256),
	}
	f.Registry = f.NewRegistry(t)
	for _, account := range []string{Owner, Misc, Alice, Bob} {
		f.Fund(t, account, Units(1000))
	}
	return f
}

// NewRegistry builds another registry over the fixture's ledgers, as a
// freshly deployed implementation would see them.
func (f *Fixture) NewRegistry(t testing.TB) *vault.Registry {
	t.Helper()
	r, err := vault.NewRegistry(vault.Options{
		Owner:   Owner,
		Modules: f.Directory,
		Bank:    f.Bank,
		Logger:  logging.Discard(),
		Events:  f.Events,
		Clock:   func() time.Time { return Epoch },
	})
	require.NoError(t, err)
	return r
}

// Fund mints native currency to account.
func (f *Fixture) Fund(t testing.TB, account string, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.Bank.Mint(f.Ctx, account, amount))
}

// NonFungibleVault registers a collection and claim token and creates a vault
// managed by manager.
func (f *Fixture) NonFungibleVault(t testing.TB, manager, ticker string) (uint64, *ledger.Collection, *ledger.Token) {
	t.Helper()
	collection := f.Directory.AddCollection(ledger.NewCollection(ticker + "-items"))
	claim := f.Directory.AddToken(ledger.NewToken(ticker))
	id, err := f.Registry.CreateVault(f.Ctx, vault.Call{Caller: manager}, claim.Name(), collection.Name(), false)
	require.NoError(t, err)
	return id, collection, claim
}

// FungibleVault registers an asset token and claim token and creates a
// fungible vault managed by manager.
func (f *Fixture) FungibleVault(t testing.TB, manager, ticker string) (uint64, *ledger.Token, *ledger.Token) {
	t.Helper()
	asset := f.Directory.AddToken(ledger.NewToken(ticker + "-asset"))
	claim := f.Directory.AddToken(ledger.NewToken(ticker))
	id, err := f.Registry.CreateVault(f.Ctx, vault.Call{Caller: manager}, claim.Name(), asset.Name(), true)
	require.NoError(t, err)
	return id, asset, claim
}

// Issue creates items in collection owned by owner.
func Issue(t testing.TB, collection *ledger.Collection, owner string, itemIDs ...string) {
	t.Helper()
	for _, id := range itemIDs {
		require.NoError(t, collection.Issue(owner, id))
	}
}

// Balance returns account's balance on token.
func (f *Fixture) Balance(t testing.TB, token *ledger.Token, account string) *big.Int {
	t.Helper()
	b, err := token.BalanceOf(f.Ctx, account)
	require.NoError(t, err)
	return b
}

// Supply returns token's total supply.
func (f *Fixture) Supply(t testing.TB, token *ledger.Token) *big.Int {
	t.Helper()
	s, err := token.TotalSupply(f.Ctx)
	require.NoError(t, err)
	return s
}

// Units returns n * 10^18.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), vault.UnitScale)
}

// Amount is shorthand for big.NewInt.
func Amount(n int64) *big.Int {
	return big.NewInt(n)
}

// IDs returns the decimal item ids from..to inclusive.
func IDs(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, big.NewInt(int64(i)).String())
	}
	return out
}
