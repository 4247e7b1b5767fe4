package vault

import (
	"context"
	"math/big"
)

// Collection is a non-fungible asset module.
type Collection interface {
	OwnerOf(ctx context.Context, itemID string) (string, error)
	TransferFrom(ctx context.Context, from, to, itemID string) error
}

// Token is a fungible asset module.
type Token interface {
	BalanceOf(ctx context.Context, holder string) (*big.Int, error)
	Transfer(ctx context.Context, from, to string, amount *big.Int) error
}

// ClaimToken is the divisible token issued against vault holdings.
type ClaimToken interface {
	Mint(ctx context.Context, to string, amount *big.Int) error
	Burn(ctx context.Context, from string, amount *big.Int) error
	BalanceOf(ctx context.Context, holder string) (*big.Int, error)
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// Bank moves native currency between accounts.
type Bank interface {
	BalanceOf(ctx context.Context, holder string) (*big.Int, error)
	Transfer(ctx context.Context, from, to string, amount *big.Int) error
}

// Modules resolves the refs stored on a vault to live modules.
type Modules interface {
	Collection(ref string) (Collection, error)
	Token(ref string) (Token, error)
	ClaimToken(ref string) (ClaimToken, error)
}
