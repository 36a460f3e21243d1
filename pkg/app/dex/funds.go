package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// DepositEth credits caller with value of the base currency
// The value is pulled from the caller through the native capability.
func (e *Engine) DepositEth(ctx context.Context, caller common.Address, value *uint256.Int) error {
	done, err := e.enter("deposit_eth")
	if err != nil {
		return err
	}
	defer done()

	if err := e.deposit(ctx, caller, e.registry.Base(), value); err != nil {
		return e.reject("deposit_eth", err)
	}
	return nil
}

// Deposit pulls amount of a listed token from caller and credits the ledger
// The caller must have approved the exchange address beforehand.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int, ticker asset.Ticker) error {
	done, err := e.enter("deposit")
	if err != nil {
		return err
	}
	defer done()

	if e.registry.IsBase(ticker) {
		return e.reject("deposit", fmt.Errorf("%w: deposit %s with DepositEth", ErrUnknownAsset, ticker))
	}
	if err := e.deposit(ctx, caller, ticker, amount); err != nil {
		return e.reject("deposit", err)
	}
	return nil
}

func (e *Engine) deposit(ctx context.Context, caller common.Address, ticker asset.Ticker, amount *uint256.Int) error {
	token, err := e.registry.Token(ticker)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	// The credit must not overflow once the tokens are ours
	e.mu.RLock()
	bal := e.ledger.Balance(caller, ticker)
	e.mu.RUnlock()
	if _, overflow := new(uint256.Int).AddOverflow(&bal, amount); overflow {
		return fmt.Errorf("%w: deposit %s %s", ErrOverflow, amount.Dec(), ticker)
	}

	if err := token.TransferFrom(ctx, e.cfg.Address, caller, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("%w: pull %s %s from %s: %w", ErrTransferFailed, amount.Dec(), ticker, caller.Hex(), err)
	}

	e.mu.Lock()
	cs := e.begin()
	err = cs.tx.Credit(caller, ticker, amount)
	if err == nil {
		err = e.apply(cs)
	}
	e.mu.Unlock()

	if err != nil {
		if rerr := token.Transfer(ctx, e.cfg.Address, caller, amount); rerr != nil {
			e.logger.Errorw("deposit_refund_failed", "account", caller.Hex(), "ticker", ticker, "amount", amount.Dec(), "err", rerr)
		}
		return err
	}

	e.metrics.Transfer("deposit", string(ticker))
	e.logger.Infow("deposit", "account", caller.Hex(), "ticker", ticker, "amount", amount.Dec())
	return nil
}

// Withdraw debits caller's balance and pays it out through the asset's capability
// ticker may be the base currency or any listed token.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int, ticker asset.Ticker) error {
	done, err := e.enter("withdraw")
	if err != nil {
		return err
	}
	defer done()

	if err := e.withdraw(ctx, caller, amount, ticker); err != nil {
		return e.reject("withdraw", err)
	}
	return nil
}

func (e *Engine) withdraw(ctx context.Context, caller common.Address, amount *uint256.Int, ticker asset.Ticker) error {
	token, err := e.registry.Token(ticker)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	// Debit is committed before the external call
	e.mu.Lock()
	cs := e.begin()
	err = cs.tx.Debit(caller, ticker, amount)
	if err == nil {
		err = e.apply(cs)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	terr := token.Transfer(ctx, e.cfg.Address, caller, amount)
	if terr == nil {
		e.metrics.Transfer("withdraw", string(ticker))
		e.logger.Infow("withdraw", "account", caller.Hex(), "ticker", ticker, "amount", amount.Dec())
		return nil
	}

	// Payout failed; restore the balance
	e.mu.Lock()
	cs = e.begin()
	err = cs.tx.Credit(caller, ticker, amount)
	if err == nil {
		err = e.apply(cs)
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Errorw("withdraw_revert_failed", "account", caller.Hex(), "ticker", ticker, "amount", amount.Dec(), "err", err)
	}
	return fmt.Errorf("%w: pay %s %s to %s: %w", ErrTransferFailed, amount.Dec(), ticker, caller.Hex(), terr)
}

// AddToken lists ticker with its transfer capability; caller must be the registry owner
// Listing an existing ticker replaces its capability.
func (e *Engine) AddToken(caller common.Address, ticker asset.Ticker, tokenAddr common.Address, token asset.Token) error {
	done, err := e.enter("add_token")
	if err != nil {
		return err
	}
	defer done()

	if caller != e.registry.Owner() {
		return e.reject("add_token", fmt.Errorf("%w: %s is not the registry owner", ErrUnauthorized, caller.Hex()))
	}
	if _, err := asset.ParseTicker(string(ticker)); err != nil {
		return e.reject("add_token", err)
	}
	if e.registry.IsBase(ticker) {
		return e.reject("add_token", fmt.Errorf("%w: %s is the base currency", ErrUnknownAsset, ticker))
	}
	if token == nil {
		return e.reject("add_token", fmt.Errorf("%w: no transfer capability for %s", ErrUnknownAsset, ticker))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.begin()
	cs.listing = &listing{ticker: ticker, addr: tokenAddr}
	if err := e.apply(cs); err != nil {
		return e.reject("add_token", err)
	}
	if err := e.registry.ListAsset(caller, ticker, tokenAddr, token); err != nil {
		return e.reject("add_token", err)
	}

	e.logger.Infow("token_listed", "ticker", ticker, "token", tokenAddr.Hex())
	return nil
}
