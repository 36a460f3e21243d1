package orderbook

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
)

// PriceLevel aggregates resting quantity at one price
type PriceLevel struct {
	Price uint64
	Qty   uint64
}

// Book holds both sides of the book for a single ticker
// Each side is a btree keyed by (price, seq):
//   - bids: price descending, oldest first at equal price
//   - asks: price ascending, oldest first at equal price
//
// Book is not safe for concurrent use; the engine serializes access
type Book struct {
	ticker asset.Ticker
	bids   *btree.BTreeG[*Order]
	asks   *btree.BTreeG[*Order]
	index  map[uint64]*Order
}

// NewBook creates an empty book for ticker
func NewBook(ticker asset.Ticker) *Book {
	bids := btree.NewBTreeG(func(a, b *Order) bool {
		if a.Price != b.Price {
			return a.Price > b.Price
		}
		return a.Seq < b.Seq
	})
	asks := btree.NewBTreeG(func(a, b *Order) bool {
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Seq < b.Seq
	})
	return &Book{
		ticker: ticker,
		bids:   bids,
		asks:   asks,
		index:  make(map[uint64]*Order),
	}
}

// Ticker returns the asset this book trades
func (b *Book) Ticker() asset.Ticker { return b.ticker }

func (b *Book) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert places o on its side at the position given by (price, seq)
func (b *Book) Insert(o *Order) error {
	if o.Ticker != b.ticker {
		return fmt.Errorf("order %d for %s inserted into %s book", o.ID, o.Ticker, b.ticker)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("order %d has invalid side %d", o.ID, o.Side)
	}
	if o.IsFilled() {
		return fmt.Errorf("order %d is already filled", o.ID)
	}
	if _, exists := b.index[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}

	b.side(o.Side).Set(o)
	b.index[o.ID] = o
	return nil
}

// Remove deletes an order by id, returning it if it was present
func (b *Book) Remove(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return nil, false
	}
	b.side(o.Side).Delete(o)
	delete(b.index, id)
	return o, true
}

// Get returns the live order with id
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// Best returns the highest priority order on side s
func (b *Book) Best(s Side) (*Order, bool) {
	return b.side(s).Min()
}

// BestOpposite returns the order an incoming order of side s would match first
func (b *Book) BestOpposite(s Side) (*Order, bool) {
	return b.Best(s.Opposite())
}

// Fill adds qty to the order's filled amount and removes it once fully filled
// Returns true if the order left the book
func (b *Book) Fill(id, qty uint64) (bool, error) {
	o, ok := b.index[id]
	if !ok {
		return false, fmt.Errorf("order %d not in book", id)
	}
	if qty > o.Remaining() {
		return false, fmt.Errorf("fill %d exceeds remaining %d of order %d", qty, o.Remaining(), id)
	}
	o.Filled += qty
	if o.IsFilled() {
		b.Remove(id)
		return true, nil
	}
	return false, nil
}

// Walk visits side s in priority order until fn returns false
// fn must not mutate the book
func (b *Book) Walk(s Side, fn func(o *Order) bool) {
	b.side(s).Scan(fn)
}

// Snapshot copies side s in priority order
func (b *Book) Snapshot(s Side) []Order {
	out := make([]Order, 0, b.side(s).Len())
	b.Walk(s, func(o *Order) bool {
		out = append(out, *o)
		return true
	})
	return out
}

// Len returns the number of resting orders on side s
func (b *Book) Len(s Side) int {
	return b.side(s).Len()
}

// Depth aggregates side s into price levels, best first
func (b *Book) Depth(s Side) []PriceLevel {
	var levels []PriceLevel
	b.Walk(s, func(o *Order) bool {
		if n := len(levels); n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Qty += o.Remaining()
		} else {
			levels = append(levels, PriceLevel{Price: o.Price, Qty: o.Remaining()})
		}
		return true
	})
	return levels
}

// Books keeps one Book per ticker
type Books struct {
	books map[asset.Ticker]*Book
}

// NewBooks creates an empty set of books
func NewBooks() *Books {
	return &Books{books: make(map[asset.Ticker]*Book)}
}

// Get returns the book for ticker, creating it on first use
func (bs *Books) Get(ticker asset.Ticker) *Book {
	b, ok := bs.books[ticker]
	if !ok {
		b = NewBook(ticker)
		bs.books[ticker] = b
	}
	return b
}

// Lookup returns the book for ticker without creating it
func (bs *Books) Lookup(ticker asset.Ticker) (*Book, bool) {
	b, ok := bs.books[ticker]
	return b, ok
}

// Tickers lists every ticker that has a book
func (bs *Books) Tickers() []asset.Ticker {
	out := make([]asset.Ticker, 0, len(bs.books))
	for t := range bs.books {
		out = append(out, t)
	}
	return out
}
