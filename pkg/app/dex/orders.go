package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// MarketResult describes an executed market order
type MarketResult struct {
	OrderID   uint64            `json:"orderId"`
	Requested uint64            `json:"requested"`
	Filled    uint64            `json:"filled"`
	Trades    []orderbook.Trade `json:"trades"`
}

// notional is qty*price in base currency; two uint64 factors always fit in 256 bits
func notional(qty, price uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(qty), uint256.NewInt(price))
}

func (e *Engine) validateTradable(side orderbook.Side, ticker asset.Ticker) error {
	if !side.Valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, side)
	}
	if e.registry.IsBase(ticker) {
		return fmt.Errorf("%w: %s is the base currency and cannot be traded against itself", ErrUnknownAsset, ticker)
	}
	if !e.registry.IsListed(ticker) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, ticker)
	}
	return nil
}

// CreateLimitOrder validates the reservation and places a resting order
//
// BUY needs amount*price of base currency, SELL needs amount of ticker; the
// balance is checked, not locked. With Config.CrossLimitOrders the order first
// matches crossing resting orders at their prices and only the remainder rests.
// A remainder that still crosses when Config.MaxFillsPerOrder stops matching is
// cancelled instead of resting, so the book never crosses.
func (e *Engine) CreateLimitOrder(ctx context.Context, caller common.Address, side orderbook.Side, ticker asset.Ticker, amount, price uint64) (orderbook.Order, error) {
	order, trades, err := e.placeLimitOrder(caller, side, ticker, amount, price)
	if err != nil {
		return orderbook.Order{}, err
	}
	e.publish(ctx, trades)
	return order, nil
}

func (e *Engine) placeLimitOrder(caller common.Address, side orderbook.Side, ticker asset.Ticker, amount, price uint64) (orderbook.Order, []orderbook.Trade, error) {
	done, err := e.enter("limit_order")
	if err != nil {
		return orderbook.Order{}, nil, err
	}
	defer done()

	order, cs, err := e.limitOrder(caller, side, ticker, amount, price)
	if err != nil {
		return orderbook.Order{}, nil, e.reject("limit_order", err)
	}

	e.metrics.OrderCreated("limit", side.String())
	e.logger.Infow("limit_order_created",
		"id", order.ID,
		"trader", caller.Hex(),
		"side", side.String(),
		"ticker", ticker,
		"amount", amount,
		"price", price,
		"filled", order.Filled,
		"resting", cs.rest != nil,
		"cancelled", cs.rest == nil && !order.IsFilled(),
	)
	return order, cs.trades, nil
}

func (e *Engine) limitOrder(caller common.Address, side orderbook.Side, ticker asset.Ticker, amount, price uint64) (orderbook.Order, *changeset, error) {
	if err := e.validateTradable(side, ticker); err != nil {
		return orderbook.Order{}, nil, err
	}
	if amount == 0 || price == 0 {
		return orderbook.Order{}, nil, fmt.Errorf("%w: amount %d price %d", ErrInvalidOrder, amount, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.begin()
	if err := e.checkReservation(cs.tx, caller, side, ticker, amount, price); err != nil {
		return orderbook.Order{}, nil, err
	}

	order := orderbook.Order{
		ID:        cs.nextOrderID,
		Trader:    caller,
		Side:      side,
		Ticker:    ticker,
		Price:     price,
		Amount:    amount,
		Seq:       cs.nextOrderID,
		CreatedAt: e.clock.Now().UnixMilli(),
	}
	cs.nextOrderID++

	capped := false
	if e.cfg.CrossLimitOrders {
		var filled uint64
		var err error
		filled, capped, err = e.match(cs, &order, price)
		if err != nil {
			return orderbook.Order{}, nil, err
		}
		order.Filled = filled
	}
	if !order.IsFilled() && !capped {
		rest := order
		cs.rest = &rest
	}

	if err := e.apply(cs); err != nil {
		return orderbook.Order{}, nil, err
	}
	e.recordDepth(ticker)
	return order, cs, nil
}

func (e *Engine) checkReservation(tx *ledger.Tx, caller common.Address, side orderbook.Side, ticker asset.Ticker, amount, price uint64) error {
	if side == orderbook.Buy {
		need := notional(amount, price)
		base := e.registry.Base()
		have := tx.Balance(caller, base)
		if have.Lt(need) {
			return fmt.Errorf("%w: buy %d %s at %d needs %s %s, have %s",
				ErrInsufficientBalance, amount, ticker, price, need.Dec(), base, have.Dec())
		}
		return nil
	}
	have := tx.Balance(caller, ticker)
	if have.Lt(uint256.NewInt(amount)) {
		return fmt.Errorf("%w: sell %d %s, have %s", ErrInsufficientBalance, amount, ticker, have.Dec())
	}
	return nil
}

// CreateMarketOrder sweeps the opposite book until amount is filled or the book runs out
//
// Every match settles at the resting order's price. A SELL must hold the full
// amount up front; a BUY is checked fill by fill and the whole call fails as soon
// as the buyer cannot pay. Running out of liquidity is not an error.
func (e *Engine) CreateMarketOrder(ctx context.Context, caller common.Address, side orderbook.Side, ticker asset.Ticker, amount uint64) (MarketResult, error) {
	res, err := e.executeMarketOrder(caller, side, ticker, amount)
	if err != nil {
		return MarketResult{}, err
	}
	e.publish(ctx, res.Trades)
	return res, nil
}

func (e *Engine) executeMarketOrder(caller common.Address, side orderbook.Side, ticker asset.Ticker, amount uint64) (MarketResult, error) {
	done, err := e.enter("market_order")
	if err != nil {
		return MarketResult{}, err
	}
	defer done()

	res, err := e.marketOrder(caller, side, ticker, amount)
	if err != nil {
		return MarketResult{}, e.reject("market_order", err)
	}

	e.metrics.OrderCreated("market", side.String())
	e.logger.Infow("market_order_executed",
		"id", res.OrderID,
		"trader", caller.Hex(),
		"side", side.String(),
		"ticker", ticker,
		"requested", amount,
		"filled", res.Filled,
		"fills", len(res.Trades),
	)
	return res, nil
}

func (e *Engine) marketOrder(caller common.Address, side orderbook.Side, ticker asset.Ticker, amount uint64) (MarketResult, error) {
	if err := e.validateTradable(side, ticker); err != nil {
		return MarketResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.begin()
	if side == orderbook.Sell {
		have := cs.tx.Balance(caller, ticker)
		if have.Lt(uint256.NewInt(amount)) {
			return MarketResult{}, fmt.Errorf("%w: market sell %d %s, have %s",
				ErrInsufficientBalance, amount, ticker, have.Dec())
		}
	}

	taker := orderbook.Order{
		ID:     cs.nextOrderID,
		Trader: caller,
		Side:   side,
		Ticker: ticker,
		Amount: amount,
		Seq:    cs.nextOrderID,
	}
	cs.nextOrderID++

	filled, _, err := e.match(cs, &taker, 0)
	if err != nil {
		return MarketResult{}, err
	}
	if err := e.apply(cs); err != nil {
		return MarketResult{}, err
	}
	e.recordDepth(ticker)

	return MarketResult{
		OrderID:   taker.ID,
		Requested: amount,
		Filled:    filled,
		Trades:    cs.trades,
	}, nil
}

// crosses reports whether a taker with limit price may trade at the maker's price
// limit 0 means no limit (market order)
func crosses(side orderbook.Side, limit, makerPrice uint64) bool {
	if limit == 0 {
		return true
	}
	if side == orderbook.Buy {
		return makerPrice <= limit
	}
	return makerPrice >= limit
}

// match walks the opposite side in priority order, staging settlement of each
// match into cs; the book itself is only read. Returns the quantity matched and
// whether Config.MaxFillsPerOrder stopped the walk at a maker that still crosses.
func (e *Engine) match(cs *changeset, taker *orderbook.Order, limit uint64) (uint64, bool, error) {
	book, ok := e.books.Lookup(taker.Ticker)
	if !ok {
		return 0, false, nil
	}

	now := e.clock.Now().UnixMilli()
	remaining := taker.Amount
	capped := false
	var err error

	book.Walk(taker.Side.Opposite(), func(maker *orderbook.Order) bool {
		if remaining == 0 {
			return false
		}
		if !crosses(taker.Side, limit, maker.Price) {
			return false
		}
		if e.cfg.MaxFillsPerOrder > 0 && len(cs.fills) >= e.cfg.MaxFillsPerOrder {
			capped = true
			return false
		}

		qty := min(remaining, maker.Remaining())
		if err = e.settle(cs.tx, taker.Side, taker.Ticker, taker.Trader, maker.Trader, qty, maker.Price); err != nil {
			err = fmt.Errorf("fill against order %d: %w", maker.ID, err)
			return false
		}

		cs.fills = append(cs.fills, fill{maker: *maker, qty: qty})
		cs.trades = append(cs.trades, orderbook.Trade{
			ID:           cs.nextTradeID,
			Ticker:       taker.Ticker,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			Taker:        taker.Trader,
			Maker:        maker.Trader,
			TakerSide:    taker.Side,
			Price:        maker.Price,
			Qty:          qty,
			Timestamp:    now,
		})
		cs.nextTradeID++
		remaining -= qty
		return true
	})
	if err != nil {
		return 0, false, err
	}
	return taker.Amount - remaining, capped, nil
}

// settle stages one match: the buyer pays qty*price of base currency to the
// seller, the seller delivers qty of ticker to the buyer. The taker's leg is
// staged first so a taker shortfall is what gets reported.
func (e *Engine) settle(tx *ledger.Tx, takerSide orderbook.Side, ticker asset.Ticker, taker, maker common.Address, qty, price uint64) error {
	base := e.registry.Base()
	cost := notional(qty, price)
	size := uint256.NewInt(qty)

	if takerSide == orderbook.Buy {
		if err := tx.Transfer(taker, maker, base, cost); err != nil {
			return err
		}
		return tx.Transfer(maker, taker, ticker, size)
	}
	if err := tx.Transfer(taker, maker, ticker, size); err != nil {
		return err
	}
	return tx.Transfer(maker, taker, base, cost)
}
