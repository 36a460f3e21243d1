package asset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnknownAsset = errors.New("unknown asset")
)

// Token is the transfer capability of an external asset contract
// The exchange never sees balances held outside itself, it only moves value through these calls
type Token interface {
	// TransferFrom moves amount from `from` to `to` using spender's allowance
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	// Transfer moves amount held by `from` to `to`
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Decimaler is implemented by tokens that expose ERC-20 decimals()
type Decimaler interface {
	Decimals() uint8
}

// Asset is a registry entry
type Asset struct {
	Ticker  Ticker
	Address common.Address // zero for the base currency
	Token   Token
	Base    bool
}

// Decimals returns the token's display precision, 18 when unknown
func (a Asset) Decimals() uint8 {
	if d, ok := a.Token.(Decimaler); ok {
		return d.Decimals()
	}
	return 18
}

// Registry maps tickers to transfer capabilities
// The base currency is always listed; every other asset is added by the owner
type Registry struct {
	mu     sync.RWMutex
	owner  common.Address
	base   Asset
	assets map[Ticker]Asset
}

// NewRegistry creates a registry owned by owner, with base backed by the native value capability
func NewRegistry(owner common.Address, base Ticker, native Token) *Registry {
	return &Registry{
		owner:  owner,
		base:   Asset{Ticker: base, Token: native, Base: true},
		assets: make(map[Ticker]Asset),
	}
}

// Owner returns the identity allowed to list assets
func (r *Registry) Owner() common.Address { return r.owner }

// Base returns the base currency ticker
func (r *Registry) Base() Ticker { return r.base.Ticker }

// IsBase reports whether t is the base currency
func (r *Registry) IsBase(t Ticker) bool { return t == r.base.Ticker }

// ListAsset registers (or overwrites) the capability for ticker
// Only the owner may call it
func (r *Registry) ListAsset(caller common.Address, ticker Ticker, addr common.Address, token Token) error {
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the registry owner", ErrUnauthorized, caller.Hex())
	}
	return r.Restore(ticker, addr, token)
}

// Restore registers an asset without the owner check (used when rebuilding from storage)
func (r *Registry) Restore(ticker Ticker, addr common.Address, token Token) error {
	if _, err := ParseTicker(string(ticker)); err != nil {
		return err
	}
	if r.IsBase(ticker) {
		return fmt.Errorf("%w: %s is the base currency", ErrUnknownAsset, ticker)
	}
	if token == nil {
		return fmt.Errorf("%w: nil token for %s", ErrUnknownAsset, ticker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[ticker] = Asset{Ticker: ticker, Address: addr, Token: token}
	return nil
}

// IsListed reports whether ticker can be deposited, withdrawn or traded against
func (r *Registry) IsListed(ticker Ticker) bool {
	if r.IsBase(ticker) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[ticker]
	return ok
}

// Get returns the registry entry for ticker
func (r *Registry) Get(ticker Ticker) (Asset, error) {
	if r.IsBase(ticker) {
		return r.base, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[ticker]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, ticker)
	}
	return a, nil
}

// Token returns the transfer capability for ticker
func (r *Registry) Token(ticker Ticker) (Token, error) {
	a, err := r.Get(ticker)
	if err != nil {
		return nil, err
	}
	return a.Token, nil
}

// Assets lists the base currency first, then listed tokens by ticker
func (r *Registry) Assets() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Asset, 0, len(r.assets)+1)
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })

	return append([]Asset{r.base}, out...)
}
