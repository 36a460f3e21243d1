package orderbook

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// Side is the direction of an order, encoded as on the wire (0 = buy, 1 = sell)
type Side uint8

const (
	Buy  Side = 0
	Sell Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Opposite returns the side an order of side s matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Valid reports whether s is Buy or Sell
func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" (any case) or "0"/"1"
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy", "0":
		return Buy, nil
	case "sell", "1":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", v)
}

// Order is a resting limit order
// Price is denominated in base currency units per unit of Ticker
type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Side      Side           `json:"side"`
	Ticker    asset.Ticker   `json:"ticker"`
	Price     uint64         `json:"price"`
	Amount    uint64         `json:"amount"`
	Filled    uint64         `json:"filled"`
	Seq       uint64         `json:"seq"`
	CreatedAt int64          `json:"createdAt"` // unix millis
}

// Remaining returns the unfilled quantity
func (o *Order) Remaining() uint64 {
	return o.Amount - o.Filled
}

// IsFilled reports whether nothing is left to match
func (o *Order) IsFilled() bool {
	return o.Filled >= o.Amount
}
