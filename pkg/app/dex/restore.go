package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// TokenResolver turns a persisted token address back into a transfer capability
type TokenResolver func(ticker asset.Ticker, addr common.Address) (asset.Token, error)

// Restore rebuilds balances, books, listings and counters from the attached store
// Call it once, before serving any request.
func (e *Engine) Restore(resolve TokenResolver) error {
	if e.store == nil {
		return errors.New("restore: no store attached")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	owner, ok, err := e.store.LoadOwner()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if ok && owner != e.registry.Owner() {
		return fmt.Errorf("restore: %w: store owned by %s, registry by %s",
			ErrUnauthorized, owner.Hex(), e.registry.Owner().Hex())
	}
	if !ok {
		b := e.store.NewBatch()
		b.SetOwner(e.registry.Owner())
		err := b.Commit()
		b.Close()
		if err != nil {
			return fmt.Errorf("restore: record owner: %w", err)
		}
	}

	tokens, err := e.store.LoadTokens()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for ticker, addr := range tokens {
		token, err := resolve(ticker, addr)
		if err != nil {
			return fmt.Errorf("restore: resolve %s at %s: %w", ticker, addr.Hex(), err)
		}
		if err := e.registry.Restore(ticker, addr, token); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	balances, err := e.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, en := range balances {
		e.ledger.Set(en.Account, en.Ticker, en.Amount)
	}

	orders, err := e.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, o := range orders {
		if err := e.books.Get(o.Ticker).Insert(o); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	if e.nextOrderID, err = e.store.LoadNextOrderID(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if e.nextTradeID, err = e.store.LoadNextTradeID(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	for _, t := range e.books.Tickers() {
		e.recordDepth(t)
	}
	e.logger.Infow("state_restored",
		"tokens", len(tokens),
		"balances", len(balances),
		"orders", len(orders),
		"next_order_id", e.nextOrderID,
	)
	return nil
}
