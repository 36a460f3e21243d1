package dex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperspot/pkg/app/core/token"
	"github.com/uhyunpark/hyperspot/pkg/events"
	"github.com/uhyunpark/hyperspot/pkg/storage"
	"github.com/uhyunpark/hyperspot/pkg/util"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice    = common.HexToAddress("0xA11CE00000000000000000000000000000000000")
	bob      = common.HexToAddress("0xB0B0000000000000000000000000000000000000")
	carol    = common.HexToAddress("0xCA40100000000000000000000000000000000000")
	linkAddr = common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA")
)

const (
	eth  asset.Ticker = "ETH"
	link asset.Ticker = "LINK"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	e    *Engine
	eth  *token.Token
	link *token.Token
}

// testingT is satisfied by *testing.T and *rapid.T
type testingT interface {
	require.TestingT
	Helper()
}

func newFixture(t testingT, cfg Config, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{eth: token.NewNative(), link: token.New("Chainlink", 18)}
	reg := asset.NewRegistry(owner, eth, f.eth)
	f.e = New(cfg, reg, opts...)
	require.NoError(t, f.e.AddToken(owner, link, linkAddr, f.link))
	return f
}

// fund mints to who and deposits everything into the exchange
func (f *fixture) fund(t testingT, who common.Address, ethAmt, linkAmt uint64) {
	t.Helper()
	ctx := context.Background()
	if ethAmt > 0 {
		f.eth.Mint(who, u(ethAmt))
		require.NoError(t, f.e.DepositEth(ctx, who, u(ethAmt)))
	}
	if linkAmt > 0 {
		f.link.Mint(who, u(linkAmt))
		f.link.Approve(who, f.e.Config().Address, u(linkAmt))
		require.NoError(t, f.e.Deposit(ctx, who, u(linkAmt), link))
	}
}

func (f *fixture) bal(who common.Address, ticker asset.Ticker) uint64 {
	b := f.e.Balance(who, ticker)
	return b.Uint64()
}

func (f *fixture) limit(t testingT, who common.Address, side orderbook.Side, amount, price uint64) orderbook.Order {
	t.Helper()
	o, err := f.e.CreateLimitOrder(context.Background(), who, side, link, amount, price)
	require.NoError(t, err)
	return o
}

func bookPrices(orders []orderbook.Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.Price
	}
	return out
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.fund(t, alice, 1000, 50)

	assert.Equal(t, uint64(1000), f.bal(alice, eth))
	assert.Equal(t, uint64(50), f.bal(alice, link))
	held := f.link.BalanceOf(f.e.Config().Address)
	assert.Equal(t, uint64(50), held.Uint64())

	require.NoError(t, f.e.Withdraw(ctx, alice, u(20), link))
	require.NoError(t, f.e.Withdraw(ctx, alice, u(400), eth))

	assert.Equal(t, uint64(600), f.bal(alice, eth))
	assert.Equal(t, uint64(30), f.bal(alice, link))
	wallet := f.link.BalanceOf(alice)
	assert.Equal(t, uint64(20), wallet.Uint64())
}

func TestWithdrawOverBalance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 100, 10)

	for _, ticker := range []asset.Ticker{eth, link} {
		err := f.e.Withdraw(context.Background(), alice, u(101), ticker)
		require.ErrorIs(t, err, ErrInsufficientBalance)
	}
	assert.Equal(t, uint64(100), f.bal(alice, eth))
	assert.Equal(t, uint64(10), f.bal(alice, link))
}

func TestDepositErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	t.Run("unknown ticker", func(t *testing.T) {
		err := f.e.Deposit(ctx, alice, u(1), "DOGE")
		assert.ErrorIs(t, err, ErrUnknownAsset)
	})

	t.Run("base ticker via token deposit", func(t *testing.T) {
		err := f.e.Deposit(ctx, alice, u(1), eth)
		assert.ErrorIs(t, err, ErrUnknownAsset)
	})

	t.Run("no allowance", func(t *testing.T) {
		f.link.Mint(alice, u(10))
		err := f.e.Deposit(ctx, alice, u(10), link)
		require.ErrorIs(t, err, ErrTransferFailed)
		assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
		assert.Zero(t, f.bal(alice, link))
	})

	t.Run("overflow", func(t *testing.T) {
		top := new(uint256.Int).SetAllOne()
		f.link.Mint(bob, top)
		f.link.Approve(bob, f.e.Config().Address, top)
		require.NoError(t, f.e.Deposit(ctx, bob, top, link))

		err := f.e.Deposit(ctx, bob, u(1), link)
		require.ErrorIs(t, err, ErrOverflow)
		b := f.e.Balance(bob, link)
		assert.True(t, b.Eq(top))
	})
}

// pausable fails payouts on demand
type pausable struct {
	asset.Token
	paused bool
}

func (p *pausable) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if p.paused {
		return errors.New("paused")
	}
	return p.Token.Transfer(ctx, from, to, amount)
}

func TestWithdrawTransferFailedRestoresBalance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	usdc := token.New("USD Coin", 6)
	p := &pausable{Token: usdc}
	require.NoError(t, f.e.AddToken(owner, "USDC", common.HexToAddress("0xA0b8"), p))

	usdc.Mint(alice, u(100))
	usdc.Approve(alice, f.e.Config().Address, u(100))
	require.NoError(t, f.e.Deposit(ctx, alice, u(100), "USDC"))

	p.paused = true
	err := f.e.Withdraw(ctx, alice, u(40), "USDC")
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, "transfer_failed", Reason(err))
	assert.Equal(t, uint64(100), f.bal(alice, "USDC"))

	p.paused = false
	require.NoError(t, f.e.Withdraw(ctx, alice, u(40), "USDC"))
	assert.Equal(t, uint64(60), f.bal(alice, "USDC"))
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.fund(t, alice, 100, 0)

	var reentered error
	f.link.OnTransfer = func(from, to common.Address, amount *uint256.Int) {
		reentered = f.e.Withdraw(ctx, alice, u(100), eth)
	}
	f.link.Mint(alice, u(5))
	f.link.Approve(alice, f.e.Config().Address, u(5))
	require.NoError(t, f.e.Deposit(ctx, alice, u(5), link))

	require.ErrorIs(t, reentered, ErrCallInProgress)
	assert.Equal(t, uint64(100), f.bal(alice, eth))
	assert.Equal(t, uint64(5), f.bal(alice, link))
}

func TestAddToken(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	err := f.e.AddToken(alice, "UNI", common.HexToAddress("0x1f98"), token.New("Uniswap", 18))
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, f.e.Registry().IsListed("UNI"))

	err = f.e.AddToken(owner, eth, common.Address{}, token.New("fake", 18))
	require.ErrorIs(t, err, ErrUnknownAsset)

	err = f.e.AddToken(owner, "", common.Address{}, token.New("blank", 18))
	require.ErrorIs(t, err, ErrUnknownAsset)

	err = f.e.AddToken(owner, "LINK\x00", common.HexToAddress("0x1f98"), token.New("shadow", 18))
	require.ErrorIs(t, err, ErrUnknownAsset)
	assert.False(t, f.e.Registry().IsListed("LINK\x00"))

	require.NoError(t, f.e.AddToken(owner, "UNI", common.HexToAddress("0x1f98"), token.New("Uniswap", 18)))
	assert.True(t, f.e.Registry().IsListed("UNI"))
}

func TestLimitOrderBookOrdering(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 1_000_000, 1_000)

	for _, p := range []uint64{300, 500, 400, 500} {
		f.limit(t, alice, orderbook.Buy, 1, p)
		f.limit(t, alice, orderbook.Sell, 1, p+1000)
	}

	bids := f.e.GetOrderBook(link, orderbook.Buy)
	assert.Equal(t, []uint64{500, 500, 400, 300}, bookPrices(bids))
	assert.Less(t, bids[0].ID, bids[1].ID)

	asks := f.e.GetOrderBook(link, orderbook.Sell)
	assert.Equal(t, []uint64{1300, 1400, 1500, 1500}, bookPrices(asks))
	assert.Less(t, asks[2].ID, asks[3].ID)
}

func TestLimitOrderReservation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 1000, 5)
	ctx := context.Background()

	_, err := f.e.CreateLimitOrder(ctx, alice, orderbook.Buy, link, 4, 251)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.e.CreateLimitOrder(ctx, alice, orderbook.Sell, link, 6, 1)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Empty(t, f.e.GetOrderBook(link, orderbook.Buy))
	assert.Empty(t, f.e.GetOrderBook(link, orderbook.Sell))
	assert.Equal(t, uint64(1000), f.bal(alice, eth))
	assert.Equal(t, uint64(5), f.bal(alice, link))
	assert.Equal(t, uint64(1), f.e.NextOrderID())

	o := f.limit(t, alice, orderbook.Buy, 4, 250)
	assert.Equal(t, uint64(1), o.ID)
	// reservation is a check, not a hold
	assert.Equal(t, uint64(1000), f.bal(alice, eth))
}

func TestLimitOrderRejects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 1000, 5)
	ctx := context.Background()

	tests := []struct {
		name    string
		side    orderbook.Side
		ticker  asset.Ticker
		amount  uint64
		price   uint64
		wantErr error
	}{
		{"unlisted ticker", orderbook.Buy, "DOGE", 1, 1, ErrUnknownAsset},
		{"base ticker", orderbook.Buy, eth, 1, 1, ErrUnknownAsset},
		{"zero amount", orderbook.Buy, link, 0, 1, ErrInvalidOrder},
		{"zero price", orderbook.Sell, link, 1, 0, ErrInvalidOrder},
		{"bad side", orderbook.Side(7), link, 1, 1, ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.e.CreateLimitOrder(ctx, alice, tt.side, tt.ticker, tt.amount, tt.price)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, uint64(1), f.e.NextOrderID())
}

func TestInsertOnlyDoesNotCross(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 10)

	f.limit(t, bob, orderbook.Sell, 5, 300)
	f.limit(t, alice, orderbook.Buy, 5, 400)

	assert.Len(t, f.e.GetOrderBook(link, orderbook.Buy), 1)
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Sell), 1)
	assert.Equal(t, uint64(10_000), f.bal(alice, eth))
}

// sweepFixture rests SELL 5@300, 5@400, 5@500 from bob
func sweepFixture(t *testing.T, opts ...Option) *fixture {
	f := newFixture(t, DefaultConfig(), opts...)
	f.fund(t, alice, 100_000, 0)
	f.fund(t, bob, 0, 15)
	for _, p := range []uint64{300, 400, 500} {
		f.limit(t, bob, orderbook.Sell, 5, p)
	}
	return f
}

func TestMarketBuySweep(t *testing.T) {
	var published []orderbook.Trade
	sink := events.SinkFunc(func(_ context.Context, tr orderbook.Trade) error {
		published = append(published, tr)
		return nil
	})
	f := sweepFixture(t, WithSink(sink))
	ctx := context.Background()

	res, err := f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Filled)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(300), res.Trades[0].Price)
	assert.Equal(t, uint64(400), res.Trades[1].Price)
	assert.Equal(t, alice, res.Trades[0].Buyer())
	assert.Equal(t, bob, res.Trades[0].Seller())
	assert.Equal(t, res.Trades, published)

	asks := f.e.GetOrderBook(link, orderbook.Sell)
	require.Len(t, asks, 1)
	assert.Equal(t, uint64(500), asks[0].Price)
	assert.Zero(t, asks[0].Filled)

	cost := uint64(5*300 + 5*400)
	assert.Equal(t, uint64(100_000)-cost, f.bal(alice, eth))
	assert.Equal(t, uint64(10), f.bal(alice, link))
	assert.Equal(t, cost, f.bal(bob, eth))
	assert.Equal(t, uint64(5), f.bal(bob, link))
}

func TestTimestampsFromClock(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	f := sweepFixture(t, WithClock(util.FixedClock{T: at}))

	asks := f.e.GetOrderBook(link, orderbook.Sell)
	require.NotEmpty(t, asks)
	assert.Equal(t, at.UnixMilli(), asks[0].CreatedAt)

	res, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 5)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, at.UnixMilli(), res.Trades[0].Timestamp)
}

func TestMarketBuyUnderFill(t *testing.T) {
	f := sweepFixture(t)
	ctx := context.Background()

	_, err := f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 5)
	require.NoError(t, err)

	res, err := f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.Requested)
	assert.Equal(t, uint64(10), res.Filled)
	assert.Equal(t, uint64(15), f.bal(alice, link))
	assert.Empty(t, f.e.GetOrderBook(link, orderbook.Sell))
}

func TestMarketOrderEmptyBook(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 100, 10)
	before := f.e.StateRoot()

	res, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 3)
	require.NoError(t, err)
	assert.Zero(t, res.Filled)
	assert.Empty(t, res.Trades)
	assert.Equal(t, uint64(1), res.OrderID)
	assert.Equal(t, uint64(2), f.e.NextOrderID())
	assert.NotEqual(t, before, f.e.StateRoot())
	assert.Equal(t, uint64(100), f.bal(alice, eth))
	assert.Equal(t, uint64(10), f.bal(alice, link))
}

func TestPartialFillStaysInBook(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 5)
	o := f.limit(t, bob, orderbook.Sell, 5, 300)

	_, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 2)
	require.NoError(t, err)

	asks := f.e.GetOrderBook(link, orderbook.Sell)
	require.Len(t, asks, 1)
	assert.Equal(t, o.ID, asks[0].ID)
	assert.Equal(t, uint64(2), asks[0].Filled)
	assert.Equal(t, uint64(5), asks[0].Amount)

	got, ok := f.e.Order(link, o.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.Remaining())
}

func TestMarketSell(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 8)
	f.limit(t, alice, orderbook.Buy, 3, 200)
	f.limit(t, alice, orderbook.Buy, 3, 250)

	_, err := f.e.CreateMarketOrder(ctx, bob, orderbook.Sell, link, 9)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	res, err := f.e.CreateMarketOrder(ctx, bob, orderbook.Sell, link, 4)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(250), res.Trades[0].Price)
	assert.Equal(t, uint64(200), res.Trades[1].Price)
	assert.Equal(t, uint64(3*250+1*200), f.bal(bob, eth))
	assert.Equal(t, uint64(4), f.bal(bob, link))
	assert.Equal(t, uint64(4), f.bal(alice, link))
}

func TestMarketBuyRunsOutOfFundsRevertsWhole(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 5*300+100, 0)
	f.fund(t, bob, 0, 10)
	f.limit(t, bob, orderbook.Sell, 5, 300)
	f.limit(t, bob, orderbook.Sell, 5, 400)
	root := f.e.StateRoot()

	_, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 10)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, root, f.e.StateRoot())
	assert.Equal(t, uint64(1600), f.bal(alice, eth))
	assert.Zero(t, f.bal(alice, link))
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Sell), 2)
}

func TestMakerShortfallRevertsWhole(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 5)
	f.limit(t, bob, orderbook.Sell, 5, 300)
	require.NoError(t, f.e.Withdraw(ctx, bob, u(5), link))

	_, err := f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 5)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(10_000), f.bal(alice, eth))
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Sell), 1)
}

func TestCrossLimitOrders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrossLimitOrders = true
	f := newFixture(t, cfg)
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 10)

	f.limit(t, bob, orderbook.Sell, 5, 300)
	f.limit(t, bob, orderbook.Sell, 5, 500)

	o := f.limit(t, alice, orderbook.Buy, 8, 350)
	assert.Equal(t, uint64(5), o.Filled)
	assert.False(t, o.IsFilled())

	bids := f.e.GetOrderBook(link, orderbook.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, uint64(350), bids[0].Price)
	assert.Equal(t, uint64(3), bids[0].Remaining())
	asks := f.e.GetOrderBook(link, orderbook.Sell)
	assert.Equal(t, []uint64{500}, bookPrices(asks))

	// maker price, not the limit
	assert.Equal(t, uint64(10_000-5*300), f.bal(alice, eth))

	full := f.limit(t, alice, orderbook.Buy, 5, 500)
	assert.True(t, full.IsFilled())
	assert.Empty(t, f.e.GetOrderBook(link, orderbook.Sell))
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Buy), 1)
}

func TestMaxFillsPerOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFillsPerOrder = 2
	f := newFixture(t, cfg)
	f.fund(t, alice, 100_000, 0)
	f.fund(t, bob, 0, 15)
	for _, p := range []uint64{300, 400, 500} {
		f.limit(t, bob, orderbook.Sell, 5, p)
	}

	res, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), res.Filled)
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Sell), 1)
}

func TestFillCapCancelsCrossingRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CrossLimitOrders = true
	cfg.MaxFillsPerOrder = 1
	f := newFixture(t, cfg)
	f.fund(t, alice, 10_000, 0)
	f.fund(t, bob, 0, 10)
	f.limit(t, bob, orderbook.Sell, 5, 100)
	f.limit(t, bob, orderbook.Sell, 5, 100)

	o := f.limit(t, alice, orderbook.Buy, 10, 200)
	assert.Equal(t, uint64(5), o.Filled)
	assert.Empty(t, f.e.GetOrderBook(link, orderbook.Buy), "crossing remainder must not rest")
	asks := f.e.GetOrderBook(link, orderbook.Sell)
	assert.Equal(t, []uint64{100}, bookPrices(asks))
	assert.Equal(t, uint64(10_000-5*100), f.bal(alice, eth))

	// a remainder that no longer crosses still rests
	f.fund(t, carol, 0, 5)
	f.limit(t, carol, orderbook.Sell, 5, 300)
	f.limit(t, alice, orderbook.Buy, 10, 200)
	bids := f.e.GetOrderBook(link, orderbook.Buy)
	require.Len(t, bids, 1)
	assert.Equal(t, uint64(200), bids[0].Price)
	assert.Equal(t, uint64(5), bids[0].Remaining())
	assert.Equal(t, []uint64{300}, bookPrices(f.e.GetOrderBook(link, orderbook.Sell)))
}

func TestSlowSinkDoesNotHoldCallGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sink := events.SinkFunc(func(context.Context, orderbook.Trade) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})
	f := sweepFixture(t, WithSink(sink))

	type result struct {
		res MarketResult
		err error
	}
	out := make(chan result, 1)
	go func() {
		res, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 5)
		out <- result{res, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never called")
	}

	o, err := f.e.CreateLimitOrder(context.Background(), alice, orderbook.Buy, link, 1, 100)
	require.NoError(t, err, "other calls proceed while a sink is blocked")
	assert.Equal(t, uint64(100), o.Price)
	assert.Len(t, f.e.GetOrderBook(link, orderbook.Sell), 2, "market order committed before publish")

	close(release)
	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, uint64(5), r.res.Filled)
}

func TestSinkFailureDoesNotFailCommittedCall(t *testing.T) {
	sink := events.SinkFunc(func(ctx context.Context, _ orderbook.Trade) error {
		return ctx.Err()
	})
	f := sweepFixture(t, WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Filled)
	assert.Equal(t, uint64(5), f.bal(alice, link))
}

func TestSelfTrade(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fund(t, alice, 1000, 5)
	f.limit(t, alice, orderbook.Sell, 5, 100)

	res, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Filled)
	assert.Equal(t, uint64(1000), f.bal(alice, eth))
	assert.Equal(t, uint64(5), f.bal(alice, link))
}

func TestConservation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.fund(t, alice, 50_000, 20)
	f.fund(t, bob, 30_000, 40)
	f.fund(t, carol, 20_000, 0)

	f.limit(t, bob, orderbook.Sell, 10, 310)
	f.limit(t, alice, orderbook.Sell, 7, 305)
	f.limit(t, carol, orderbook.Buy, 4, 290)
	_, err := f.e.CreateMarketOrder(ctx, carol, orderbook.Buy, link, 12)
	require.NoError(t, err)
	_, err = f.e.CreateMarketOrder(ctx, bob, orderbook.Sell, link, 3)
	require.NoError(t, err)

	totalEth := f.e.Total(eth)
	totalLink := f.e.Total(link)
	assert.Equal(t, uint64(100_000), totalEth.Uint64())
	assert.Equal(t, uint64(60), totalLink.Uint64())
	held := f.link.BalanceOf(f.e.Config().Address)
	assert.Equal(t, uint64(60), held.Uint64())
}

func TestRecentTradesInMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentTrades = 2
	f := newFixture(t, cfg)
	f.fund(t, alice, 100_000, 0)
	f.fund(t, bob, 0, 15)
	for _, p := range []uint64{300, 400, 500} {
		f.limit(t, bob, orderbook.Sell, 5, p)
	}
	_, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 15)
	require.NoError(t, err)

	trades, err := f.e.RecentTrades(link, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(500), trades[0].Price)
	assert.Equal(t, uint64(400), trades[1].Price)
}

func TestStateRootDeterministic(t *testing.T) {
	run := func() *fixture {
		f := sweepFixture(t)
		_, err := f.e.CreateMarketOrder(context.Background(), alice, orderbook.Buy, link, 7)
		require.NoError(t, err)
		return f
	}
	a, b := run(), run()
	assert.Equal(t, a.e.StateRoot(), b.e.StateRoot())

	b.fund(t, carol, 1, 0)
	assert.NotEqual(t, a.e.StateRoot(), b.e.StateRoot())
}

func TestRestore(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	f := sweepFixture(t, WithStore(store))
	ctx := context.Background()
	_, err = f.e.CreateMarketOrder(ctx, alice, orderbook.Buy, link, 7)
	require.NoError(t, err)
	want := f.e.StateRoot()

	reg := asset.NewRegistry(owner, eth, f.eth)
	restored := New(DefaultConfig(), reg, WithStore(store))
	err = restored.Restore(func(ticker asset.Ticker, addr common.Address) (asset.Token, error) {
		require.Equal(t, link, ticker)
		require.Equal(t, linkAddr, addr)
		return f.link, nil
	})
	require.NoError(t, err)

	assert.Equal(t, want, restored.StateRoot())
	assert.True(t, restored.Registry().IsListed(link))
	assert.Equal(t, f.e.NextOrderID(), restored.NextOrderID())

	asks := restored.GetOrderBook(link, orderbook.Sell)
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(2), asks[0].Filled)

	trades, err := restored.RecentTrades(link, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(400), trades[0].Price)

	o, err := restored.CreateLimitOrder(ctx, carol, orderbook.Sell, link, 1, 900)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Zero(t, o.ID)
	o, err = restored.CreateLimitOrder(ctx, alice, orderbook.Sell, link, 1, 900)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), o.ID)
}

func TestRestoreOwnerMismatch(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	first := New(DefaultConfig(), asset.NewRegistry(owner, eth, token.NewNative()), WithStore(store))
	require.NoError(t, first.Restore(nil))

	second := New(DefaultConfig(), asset.NewRegistry(alice, eth, token.NewNative()), WithStore(store))
	err = second.Restore(nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}
