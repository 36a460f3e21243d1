package api

// API response types for REST endpoints and WebSocket messages
// Integers that may exceed 53 bits (balances) travel as decimal strings.

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// AssetInfo describes a listed asset
type AssetInfo struct {
	Ticker   string `json:"ticker"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Base     bool   `json:"base"` // the currency prices are quoted in
}

// OrderInfo is a resting order
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Ticker    string `json:"ticker"`
	Price     uint64 `json:"price"`
	Amount    uint64 `json:"amount"`
	Filled    uint64 `json:"filled"`
	Remaining uint64 `json:"remaining"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// OrderbookSnapshot is one side of a book in priority order
type OrderbookSnapshot struct {
	Ticker string      `json:"ticker"`
	Side   string      `json:"side"`
	Orders []OrderInfo `json:"orders"`
}

// PriceLevel aggregates resting quantity at one price
type PriceLevel struct {
	Price uint64 `json:"price"`
	Size  uint64 `json:"size"`
}

// DepthSnapshot aggregates both sides by price
type DepthSnapshot struct {
	Ticker    string       `json:"ticker"`
	Bids      []PriceLevel `json:"bids"` // high to low
	Asks      []PriceLevel `json:"asks"` // low to high
	Timestamp int64        `json:"timestamp"`
}

// BalanceInfo is a ledger balance; Formatted applies the asset's decimals
type BalanceInfo struct {
	Address   string `json:"address"`
	Ticker    string `json:"ticker"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
	Decimals  uint8  `json:"decimals"`
}

// TradeInfo is one settled match
type TradeInfo struct {
	ID           uint64 `json:"id"`
	Ticker       string `json:"ticker"`
	Price        uint64 `json:"price"`
	Size         uint64 `json:"size"`
	Side         string `json:"side"` // taker side
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	TakerOrderID uint64 `json:"takerOrderId"`
	MakerOrderID uint64 `json:"makerOrderId"`
	Timestamp    int64  `json:"timestamp"`
}

// ActionResponse acknowledges an executed signed action
type ActionResponse struct {
	Status string      `json:"status"`
	Type   string      `json:"type"`
	Owner  string      `json:"owner"`
	Nonce  uint64      `json:"nonce"`
	Order  *OrderInfo  `json:"order,omitempty"`
	Market *MarketFill `json:"market,omitempty"`
	Trades []TradeInfo `json:"trades,omitempty"`
}

// MarketFill summarises an executed market order
type MarketFill struct {
	OrderID   uint64 `json:"orderId"`
	Requested uint64 `json:"requested"`
	Filled    uint64 `json:"filled"`
}

// StateInfo exposes the engine checksum and counters
type StateInfo struct {
	StateRoot   string `json:"stateRoot"`
	NextOrderID uint64 `json:"nextOrderId"`
	Pending     int    `json:"pending"` // queued actions
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// FaucetRequest mints devnet wallet funds; Amount is in base units
type FaucetRequest struct {
	Address string `json:"address"`
	Ticker  string `json:"ticker"`
	Amount  string `json:"amount"`
}

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["trades:LINK"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// TradeUpdate is pushed to "trades:<TICKER>" subscribers
type TradeUpdate struct {
	Type    string    `json:"type"` // "trade"
	Channel string    `json:"channel"`
	Trade   TradeInfo `json:"trade"`
}

func assetInfo(a asset.Asset) AssetInfo {
	return AssetInfo{
		Ticker:   a.Ticker.String(),
		Address:  a.Address.Hex(),
		Decimals: a.Decimals(),
		Base:     a.Base,
	}
}

func orderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Side:      o.Side.String(),
		Ticker:    o.Ticker.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		CreatedAt: o.CreatedAt,
	}
}

func tradeInfo(t orderbook.Trade) TradeInfo {
	return TradeInfo{
		ID:           t.ID,
		Ticker:       t.Ticker.String(),
		Price:        t.Price,
		Size:         t.Qty,
		Side:         t.TakerSide.String(),
		Buyer:        t.Buyer().Hex(),
		Seller:       t.Seller().Hex(),
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		Timestamp:    t.Timestamp,
	}
}

func tradeInfos(ts []orderbook.Trade) []TradeInfo {
	out := make([]TradeInfo, len(ts))
	for i, t := range ts {
		out[i] = tradeInfo(t)
	}
	return out
}

func priceLevels(ls []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(ls))
	for i, l := range ls {
		out[i] = PriceLevel{Price: l.Price, Size: l.Qty}
	}
	return out
}

// formatUnits renders raw base units with the given decimals, e.g. 1500000 @ 6 = "1.5"
func formatUnits(raw *uint256.Int, decimals uint8) string {
	d, err := decimal.NewFromString(raw.Dec())
	if err != nil {
		return raw.Dec()
	}
	return d.Shift(-int32(decimals)).String()
}
