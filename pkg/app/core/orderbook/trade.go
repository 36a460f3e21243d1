package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// Trade is one match between an incoming order (taker) and a resting order (maker)
// Price is always the maker's price
type Trade struct {
	ID           uint64         `json:"id"`
	Ticker       asset.Ticker   `json:"ticker"`
	TakerOrderID uint64         `json:"takerOrderId"`
	MakerOrderID uint64         `json:"makerOrderId"`
	Taker        common.Address `json:"taker"`
	Maker        common.Address `json:"maker"`
	TakerSide    Side           `json:"takerSide"`
	Price        uint64         `json:"price"`
	Qty          uint64         `json:"qty"`
	Timestamp    int64          `json:"timestamp"` // unix millis
}

// Buyer returns the account receiving the ticker
func (t Trade) Buyer() common.Address {
	if t.TakerSide == Buy {
		return t.Taker
	}
	return t.Maker
}

// Seller returns the account receiving base currency
func (t Trade) Seller() common.Address {
	if t.TakerSide == Buy {
		return t.Maker
	}
	return t.Taker
}
