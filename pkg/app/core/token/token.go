package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

var (
	ErrInsufficientFunds     = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Token is an in-memory ERC-20 used on devnet and in tests
type Token struct {
	mu         sync.Mutex
	name       string
	decimals   uint8
	balances   map[common.Address]uint256.Int
	allowances map[[2]common.Address]uint256.Int // (owner, spender)

	// noAllowance turns TransferFrom into a plain transfer (see NewNative)
	noAllowance bool
	// OnTransfer runs after every successful transfer, outside the lock
	OnTransfer func(from, to common.Address, amount *uint256.Int)
}

var _ asset.Token = (*Token)(nil)

// New creates a token with no supply
func New(name string, decimals uint8) *Token {
	return &Token{
		name:       name,
		decimals:   decimals,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[[2]common.Address]uint256.Int),
	}
}

// NewNative creates the base-currency value capability
// Attaching value to a call is its own authorization, so TransferFrom needs no allowance
func NewNative() *Token {
	t := New("Ether", 18)
	t.noAllowance = true
	return t
}

func (t *Token) Name() string    { return t.name }
func (t *Token) Decimals() uint8 { return t.decimals }

// Mint creates amount out of thin air for to
func (t *Token) Mint(to common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[to]
	bal.Add(&bal, amount)
	t.balances[to] = bal
}

// BalanceOf returns the holder's balance
func (t *Token) BalanceOf(holder common.Address) uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder]
}

// Approve sets spender's allowance over owner's balance
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[[2]common.Address{owner, spender}] = *amount
}

// Allowance returns the remaining allowance
func (t *Token) Allowance(owner, spender common.Address) uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[[2]common.Address{owner, spender}]
}

// TransferFrom moves amount from `from` to `to`, spending spender's allowance
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	if !t.noAllowance {
		key := [2]common.Address{from, spender}
		allowed := t.allowances[key]
		if allowed.Lt(amount) {
			t.mu.Unlock()
			return fmt.Errorf("%w: %s allowed %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), amount.Dec())
		}
		if err := t.moveLocked(from, to, amount); err != nil {
			t.mu.Unlock()
			return err
		}
		allowed.Sub(&allowed, amount)
		t.allowances[key] = allowed
	} else if err := t.moveLocked(from, to, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.notify(from, to, amount)
	return nil
}

// Transfer moves amount held by `from` to `to`
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	err := t.moveLocked(from, to, amount)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.notify(from, to, amount)
	return nil
}

func (t *Token) moveLocked(from, to common.Address, amount *uint256.Int) error {
	src := t.balances[from]
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src.Dec(), amount.Dec())
	}
	src.Sub(&src, amount)
	t.balances[from] = src

	dst := t.balances[to]
	dst.Add(&dst, amount)
	t.balances[to] = dst
	return nil
}

func (t *Token) notify(from, to common.Address, amount *uint256.Int) {
	if t.OnTransfer != nil {
		t.OnTransfer(from, to, amount)
	}
}
