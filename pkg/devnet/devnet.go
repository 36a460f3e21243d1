package devnet

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/token"
)

var ErrUnknownToken = errors.New("devnet: unknown token")

// TokenConfig names one devnet token
type TokenConfig struct {
	Ticker   asset.Ticker
	Decimals uint8
}

// Lister is the part of the engine used to list tokens
type Lister interface {
	AddToken(caller common.Address, ticker asset.Ticker, addr common.Address, t asset.Token) error
	Registry() *asset.Registry
}

// Tokens holds the in-memory tokens a devnet node trades
// Wallet balances live only in memory; ledger balances are persisted by the engine.
type Tokens struct {
	exchange common.Address
	base     asset.Ticker
	native   *token.Token

	mu     sync.RWMutex
	tokens map[asset.Ticker]*token.Token
}

// Address derives the deterministic contract address of a devnet ticker
func Address(ticker asset.Ticker) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("hyperspot-devnet:" + ticker.String())))
}

// New creates the tokens; exchange is the custody address deposits are approved to
func New(exchange common.Address, base asset.Ticker, native *token.Token, list []TokenConfig) *Tokens {
	d := &Tokens{
		exchange: exchange,
		base:     base,
		native:   native,
		tokens:   make(map[asset.Ticker]*token.Token, len(list)),
	}
	for _, s := range list {
		d.tokens[s.Ticker] = token.New(s.Ticker.String(), s.Decimals)
	}
	return d
}

func (d *Tokens) Native() *token.Token { return d.native }

// Tickers returns the devnet tickers in sorted order
func (d *Tokens) Tickers() []asset.Ticker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]asset.Ticker, 0, len(d.tokens))
	for t := range d.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve maps a listed ticker back to its token; it satisfies dex.TokenResolver
// Unknown tickers with the derived address get a fresh 18-decimal token.
func (d *Tokens) Resolve(ticker asset.Ticker, addr common.Address) (asset.Token, error) {
	if addr != Address(ticker) {
		return nil, fmt.Errorf("%w: %s is not the devnet address of %s", ErrUnknownToken, addr.Hex(), ticker)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tokens[ticker]
	if !ok {
		t = token.New(ticker.String(), 18)
		d.tokens[ticker] = t
	}
	return t, nil
}

// ListAll lists every devnet token the engine does not list yet and returns the new tickers
func (d *Tokens) ListAll(e Lister) ([]asset.Ticker, error) {
	var listed []asset.Ticker
	owner := e.Registry().Owner()
	for _, ticker := range d.Tickers() {
		if e.Registry().IsListed(ticker) {
			continue
		}
		t, err := d.Resolve(ticker, Address(ticker))
		if err != nil {
			return listed, err
		}
		if err := e.AddToken(owner, ticker, Address(ticker), t); err != nil {
			return listed, fmt.Errorf("list %s: %w", ticker, err)
		}
		listed = append(listed, ticker)
	}
	return listed, nil
}

// Fund mints amount to addr's wallet
// ERC-20 mints also raise the exchange's allowance so a deposit can follow directly.
func (d *Tokens) Fund(addr common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	if ticker == d.base {
		d.native.Mint(addr, amount)
		return nil
	}
	d.mu.RLock()
	t, ok := d.tokens[ticker]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, ticker)
	}

	t.Mint(addr, amount)
	allowance := t.Allowance(addr, d.exchange)
	next, overflow := new(uint256.Int).AddOverflow(&allowance, amount)
	if overflow {
		next.SetAllOne()
	}
	t.Approve(addr, d.exchange, next)
	return nil
}

// Wallet returns addr's on-token balance outside the exchange
func (d *Tokens) Wallet(addr common.Address, ticker asset.Ticker) (uint256.Int, error) {
	if ticker == d.base {
		return d.native.BalanceOf(addr), nil
	}
	d.mu.RLock()
	t, ok := d.tokens[ticker]
	d.mu.RUnlock()
	if !ok {
		return uint256.Int{}, fmt.Errorf("%w: %s", ErrUnknownToken, ticker)
	}
	return t.BalanceOf(addr), nil
}
