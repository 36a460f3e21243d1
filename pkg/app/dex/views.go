package dex

import (
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// GetOrderBook returns one side of ticker's book in priority order
// Unknown tickers yield an empty book.
func (e *Engine) GetOrderBook(ticker asset.Ticker, side orderbook.Side) []orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	book, ok := e.books.Lookup(ticker)
	if !ok {
		return []orderbook.Order{}
	}
	return book.Snapshot(side)
}

// Depth returns one side of ticker's book aggregated by price
func (e *Engine) Depth(ticker asset.Ticker, side orderbook.Side) []orderbook.PriceLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	book, ok := e.books.Lookup(ticker)
	if !ok {
		return nil
	}
	return book.Depth(side)
}

// Order returns a resting order by id
func (e *Engine) Order(ticker asset.Ticker, id uint64) (orderbook.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	book, ok := e.books.Lookup(ticker)
	if !ok {
		return orderbook.Order{}, false
	}
	o, ok := book.Get(id)
	if !ok {
		return orderbook.Order{}, false
	}
	return *o, true
}

// Balance returns account's ledger balance of ticker
func (e *Engine) Balance(account common.Address, ticker asset.Ticker) uint256.Int {
	return e.ledger.Balance(account, ticker)
}

// Total returns the sum of every account's balance of ticker
func (e *Engine) Total(ticker asset.Ticker) uint256.Int {
	return e.ledger.Totals(ticker)
}

// Assets lists the base currency and every listed token
func (e *Engine) Assets() []asset.Asset {
	return e.registry.Assets()
}

// RecentTrades returns up to limit trades for ticker, newest first
func (e *Engine) RecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Trade, error) {
	if limit <= 0 {
		return nil, nil
	}
	if e.store != nil {
		return e.store.LoadRecentTrades(ticker, limit)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	h := e.recent[ticker]
	out := make([]orderbook.Trade, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// NextOrderID returns the id the next order will receive
func (e *Engine) NextOrderID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextOrderID
}

// StateRoot is keccak256 over every balance, resting order and counter in a fixed order
// Two engines that processed the same calls report the same root.
func (e *Engine) StateRoot() common.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	for _, en := range e.ledger.Entries() {
		tb := en.Ticker.Bytes32()
		amt := en.Amount.Bytes32()
		h.Write(en.Account[:])
		h.Write(tb[:])
		h.Write(amt[:])
	}

	tickers := e.books.Tickers()
	sort.Slice(tickers, func(i, j int) bool { return tickers[i] < tickers[j] })
	for _, t := range tickers {
		book, _ := e.books.Lookup(t)
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			book.Walk(side, func(o *orderbook.Order) bool {
				tb := o.Ticker.Bytes32()
				h.Write(tb[:])
				h.Write([]byte{byte(o.Side)})
				writeU64(o.ID)
				h.Write(o.Trader[:])
				writeU64(o.Price)
				writeU64(o.Amount)
				writeU64(o.Filled)
				return true
			})
		}
	}

	writeU64(e.nextOrderID)
	writeU64(e.nextTradeID)

	var root common.Hash
	h.Sum(root[:0])
	return root
}
