package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// Store provides Pebble-based persistence for balances, resting orders, listed tokens and trades
// Writes go through Batch so every engine call lands atomically
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	return OpenWithOptions(path, opts)
}

// OpenInMemory opens a store backed by an in-memory filesystem (tests, ephemeral devnet)
func OpenInMemory() (*Store, error) {
	return OpenWithOptions("", &pebble.Options{FS: vfs.NewMem()})
}

// OpenWithOptions opens a Pebble database with caller-provided options
func OpenWithOptions(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadBalances returns every persisted non-zero balance
func (s *Store) LoadBalances() ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.scan([]byte(prefixBalance), func(key, value []byte) error {
		addr, ticker, err := parseBalanceKey(key)
		if err != nil {
			return err
		}
		amount, err := uint256.FromDecimal(string(value))
		if err != nil {
			return fmt.Errorf("invalid balance for %s/%s: %w", addr.Hex(), ticker, err)
		}
		out = append(out, ledger.Entry{
			Key:    ledger.Key{Account: addr, Ticker: ticker},
			Amount: *amount,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	return out, nil
}

// LoadOrders returns every resting order, grouped by ticker and ordered by id
func (s *Store) LoadOrders() ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	err := s.scan([]byte(prefixOrder), func(_, value []byte) error {
		var o orderbook.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		out = append(out, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return out, nil
}

// LoadTokens returns ticker -> token address for every listed asset
func (s *Store) LoadTokens() (map[asset.Ticker]common.Address, error) {
	out := make(map[asset.Ticker]common.Address)
	err := s.scan([]byte(prefixToken), func(key, value []byte) error {
		ticker, err := parseTokenKey(key)
		if err != nil {
			return err
		}
		out[ticker] = common.BytesToAddress(value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	return out, nil
}

// LoadRecentTrades loads the most recent trades for ticker, newest first
func (s *Store) LoadRecentTrades(ticker asset.Ticker, limit int) ([]orderbook.Trade, error) {
	prefix := tickerPrefix(prefixTrade, ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var trades []orderbook.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t orderbook.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

// LoadNextOrderID returns the persisted order id counter (1 if never written)
func (s *Store) LoadNextOrderID() (uint64, error) { return s.loadCounter(keyNextOrderID) }

// LoadNextTradeID returns the persisted trade id counter (1 if never written)
func (s *Store) LoadNextTradeID() (uint64, error) { return s.loadCounter(keyNextTradeID) }

func (s *Store) loadCounter(key string) (uint64, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt counter %s: %d bytes", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// LoadOwner returns the registry owner recorded at first start
func (s *Store) LoadOwner() (common.Address, bool, error) {
	val, closer, err := s.db.Get([]byte(keyOwner))
	if errors.Is(err, pebble.ErrNotFound) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("failed to get owner: %w", err)
	}
	defer closer.Close()
	return common.BytesToAddress(val), true, nil
}

func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch stages writes that commit together
type Batch struct {
	batch *pebble.Batch
	err   error
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// SetBalance writes a balance slot, deleting it when zero
func (b *Batch) SetBalance(addr common.Address, ticker asset.Ticker, amount *uint256.Int) {
	key := balanceKey(addr, ticker)
	if amount.IsZero() {
		b.record(b.batch.Delete(key, nil))
		return
	}
	b.record(b.batch.Set(key, []byte(amount.Dec()), nil))
}

// SaveOrder writes a resting order
func (b *Batch) SaveOrder(o *orderbook.Order) {
	data, err := json.Marshal(o)
	if err != nil {
		b.record(fmt.Errorf("failed to marshal order %d: %w", o.ID, err))
		return
	}
	b.record(b.batch.Set(orderKey(o.Ticker, o.ID), data, nil))
}

// DeleteOrder removes a filled order
func (b *Batch) DeleteOrder(ticker asset.Ticker, id uint64) {
	b.record(b.batch.Delete(orderKey(ticker, id), nil))
}

// SaveTrade appends a trade to the history
func (b *Batch) SaveTrade(t orderbook.Trade) {
	data, err := json.Marshal(t)
	if err != nil {
		b.record(fmt.Errorf("failed to marshal trade %d: %w", t.ID, err))
		return
	}
	b.record(b.batch.Set(tradeKey(t.Ticker, t.ID), data, nil))
}

// SetToken records a listed asset's token address
func (b *Batch) SetToken(ticker asset.Ticker, addr common.Address) {
	b.record(b.batch.Set(tokenKey(ticker), addr.Bytes(), nil))
}

// SetNextOrderID records the order id counter
func (b *Batch) SetNextOrderID(id uint64) {
	b.record(b.batch.Set([]byte(keyNextOrderID), binary.BigEndian.AppendUint64(nil, id), nil))
}

// SetNextTradeID records the trade id counter
func (b *Batch) SetNextTradeID(id uint64) {
	b.record(b.batch.Set([]byte(keyNextTradeID), binary.BigEndian.AppendUint64(nil, id), nil))
}

// SetOwner records the registry owner
func (b *Batch) SetOwner(owner common.Address) {
	b.record(b.batch.Set([]byte(keyOwner), owner.Bytes(), nil))
}

func (b *Batch) record(err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
}

// Commit writes the batch durably; any staging error aborts the whole batch
func (b *Batch) Commit() error {
	if b.err != nil {
		return fmt.Errorf("batch aborted: %w", b.err)
	}
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close releases the batch
func (b *Batch) Close() error {
	return b.batch.Close()
}
