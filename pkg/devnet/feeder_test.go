package devnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperspot/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperspot/pkg/app/dex"
	"github.com/uhyunpark/hyperspot/pkg/crypto"
)

// engineSubmit verifies and executes actions directly against e
func engineSubmit(e *dex.Engine, v *transaction.Verifier) SubmitFunc {
	return func(ctx context.Context, tx *transaction.SignedAction) error {
		a, err := v.Verify(tx)
		if err != nil {
			return err
		}
		switch a.Kind {
		case crypto.KindDeposit:
			if e.Registry().IsBase(a.Ticker) {
				return e.DepositEth(ctx, a.Owner, a.Amount)
			}
			return e.Deposit(ctx, a.Owner, a.Amount, a.Ticker)
		case crypto.KindLimitOrder:
			_, err := e.CreateLimitOrder(ctx, a.Owner, orderbook.Side(a.Side), a.Ticker, a.Amount.Uint64(), a.Price)
			return err
		case crypto.KindMarketOrder:
			_, err := e.CreateMarketOrder(ctx, a.Owner, orderbook.Side(a.Side), a.Ticker, a.Amount.Uint64())
			return err
		}
		return nil
	}
}

func newFeeder(t *testing.T, cfg FeederConfig) (*Feeder, *dex.Engine) {
	t.Helper()
	d, e := setup(t)
	_, err := d.ListAll(e)
	require.NoError(t, err)
	domain := crypto.DefaultDomain()
	f, err := NewFeeder(cfg, d, domain, engineSubmit(e, transaction.NewVerifier(domain)), nil)
	require.NoError(t, err)
	return f, e
}

func TestFeederConfigValidation(t *testing.T) {
	d, _ := setup(t)
	cfg := DefaultFeederConfig()
	cfg.Spread = cfg.MidPrice
	_, err := NewFeeder(cfg, d, crypto.DefaultDomain(), nil, nil)
	assert.Error(t, err)

	cfg = DefaultFeederConfig()
	cfg.NumAccounts = 0
	_, err = NewFeeder(cfg, d, crypto.DefaultDomain(), nil, nil)
	assert.Error(t, err)
}

func TestFeederBootstrapAndTrade(t *testing.T) {
	cfg := DefaultFeederConfig()
	cfg.NumAccounts = 4
	cfg.Seed = 42
	f, e := newFeeder(t, cfg)
	ctx := context.Background()

	require.NoError(t, f.Bootstrap(ctx))
	for _, s := range f.Signers() {
		bal := e.Balance(s.Address(), "LINK")
		assert.False(t, bal.IsZero())
		bal = e.Balance(s.Address(), "ETH")
		assert.False(t, bal.IsZero())
	}

	for i := 0; i < 200; i++ {
		tx, err := f.Next()
		require.NoError(t, err)
		if tx.Type == transaction.TypeLimitOrder {
			assert.NotEmpty(t, tx.Action.Price)
		}
		require.NoError(t, f.submit(ctx, tx))
	}
	assert.Greater(t, e.NextOrderID(), uint64(200))

	// limit orders never cross, so every resting bid is below every resting ask
	for _, ticker := range []asset.Ticker{"LINK", "USDC"} {
		bids := e.GetOrderBook(ticker, orderbook.Buy)
		asks := e.GetOrderBook(ticker, orderbook.Sell)
		if len(bids) > 0 && len(asks) > 0 {
			assert.LessOrEqual(t, bids[0].Price, asks[0].Price)
		}
	}
}

func TestFeederRunStopsOnCancel(t *testing.T) {
	cfg := DefaultFeederConfig()
	cfg.NumAccounts = 2
	cfg.BatchSize = 2
	cfg.Interval = 5 * time.Millisecond
	f, e := newFeeder(t, cfg)
	require.NoError(t, f.Bootstrap(context.Background()))
	before := e.NextOrderID()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Run(ctx))
	assert.Greater(t, e.NextOrderID(), before)
}
