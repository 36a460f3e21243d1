package dex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperspot/pkg/app/core/asset"
	"github.com/uhyunpark/hyperspot/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperspot/pkg/events"
	"github.com/uhyunpark/hyperspot/pkg/metrics"
	"github.com/uhyunpark/hyperspot/pkg/storage"
	"github.com/uhyunpark/hyperspot/pkg/util"
)

// Config controls matching behaviour
type Config struct {
	// Address is the exchange's custody identity: tokens are pulled to and paid out from it
	Address common.Address

	// CrossLimitOrders makes a new limit order match against crossing resting orders
	// before resting. When false, limit orders are insert-only.
	CrossLimitOrders bool

	// MaxFillsPerOrder caps the matches a single call may settle (0 = unbounded)
	MaxFillsPerOrder int

	// RecentTrades is the per-ticker in-memory trade history kept when no store is attached
	RecentTrades int
}

// DefaultConfig returns insert-only limit orders with unbounded market sweeps
func DefaultConfig() Config {
	return Config{
		Address:      common.HexToAddress("0x00000000000000000000000000000000DEADBEEF"),
		RecentTrades: 100,
	}
}

// Option customizes an Engine
type Option func(*Engine)

// WithStore persists every committed call to store
func WithStore(s *storage.Store) Option { return func(e *Engine) { e.store = s } }

// WithLogger sets the structured logger
func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.logger = l } }

// WithSink receives settled trades after commit
func WithSink(s events.Sink) Option { return func(e *Engine) { e.sink = s } }

// WithMetrics records counters and latencies
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the time source for order and trade timestamps
func WithClock(c util.Clock) Option { return func(e *Engine) { e.clock = c } }

// Engine is the exchange: asset registry, balance ledger and one order book per ticker
//
// Mutating entry points run one at a time. A call that arrives while another is
// in flight (including a callback from a token during a transfer) fails with
// ErrCallInProgress; callers that need queueing go through a sequencer.
// Views may run concurrently with everything.
type Engine struct {
	cfg      Config
	registry *asset.Registry
	ledger   *ledger.Ledger
	books    *orderbook.Books

	store   *storage.Store
	sink    events.Sink
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	clock   util.Clock

	entered atomic.Bool

	mu          sync.RWMutex // guards ledger writes, books, counters and recent
	nextOrderID uint64
	nextTradeID uint64
	recent      map[asset.Ticker][]orderbook.Trade
}

// New creates an engine over registry; the registry's owner is the only identity allowed to list tokens
func New(cfg Config, registry *asset.Registry, opts ...Option) *Engine {
	if cfg.RecentTrades <= 0 {
		cfg.RecentTrades = DefaultConfig().RecentTrades
	}
	e := &Engine{
		cfg:         cfg,
		registry:    registry,
		ledger:      ledger.New(),
		books:       orderbook.NewBooks(),
		logger:      zap.NewNop().Sugar(),
		clock:       util.RealClock{},
		nextOrderID: 1,
		nextTradeID: 1,
		recent:      make(map[asset.Ticker][]orderbook.Trade),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config { return e.cfg }

// Registry returns the asset registry
func (e *Engine) Registry() *asset.Registry { return e.registry }

// enter acquires the call-in-progress guard
func (e *Engine) enter(op string) (func(), error) {
	if !e.entered.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrCallInProgress, op)
	}
	start := time.Now()
	return func() {
		e.entered.Store(false)
		e.metrics.ObserveCall(op, start)
	}, nil
}

func (e *Engine) reject(op string, err error) error {
	reason := Reason(err)
	e.metrics.Rejected(op, reason)
	e.logger.Infow("call_rejected", "op", op, "reason", reason, "err", err)
	return err
}

// changeset is everything one call will change, staged until apply
type changeset struct {
	tx          *ledger.Tx
	fills       []fill
	rest        *orderbook.Order
	trades      []orderbook.Trade
	listing     *listing
	nextOrderID uint64
	nextTradeID uint64
}

type fill struct {
	maker orderbook.Order // state before this fill
	qty   uint64
}

type listing struct {
	ticker asset.Ticker
	addr   common.Address
}

// begin opens a changeset; callers hold e.mu
func (e *Engine) begin() *changeset {
	return &changeset{
		tx:          e.ledger.Begin(),
		nextOrderID: e.nextOrderID,
		nextTradeID: e.nextTradeID,
	}
}

// apply persists cs in one batch and only then makes it visible in memory
// If persisting fails nothing changes; callers hold e.mu
func (e *Engine) apply(cs *changeset) error {
	if e.store != nil {
		if err := e.persist(cs); err != nil {
			return err
		}
	}

	cs.tx.Commit()
	for _, f := range cs.fills {
		book := e.books.Get(f.maker.Ticker)
		if _, err := book.Fill(f.maker.ID, f.qty); err != nil {
			e.logger.Errorw("book_fill_failed", "order_id", f.maker.ID, "err", err)
		}
	}
	if cs.rest != nil {
		if err := e.books.Get(cs.rest.Ticker).Insert(cs.rest); err != nil {
			e.logger.Errorw("book_insert_failed", "order_id", cs.rest.ID, "err", err)
		}
	}
	e.nextOrderID = cs.nextOrderID
	e.nextTradeID = cs.nextTradeID

	for _, t := range cs.trades {
		h := append(e.recent[t.Ticker], t)
		if len(h) > e.cfg.RecentTrades {
			h = h[len(h)-e.cfg.RecentTrades:]
		}
		e.recent[t.Ticker] = h
	}
	return nil
}

func (e *Engine) persist(cs *changeset) error {
	b := e.store.NewBatch()
	defer b.Close()

	for _, en := range cs.tx.Changes() {
		b.SetBalance(en.Account, en.Ticker, &en.Amount)
	}
	for _, f := range cs.fills {
		m := f.maker
		m.Filled += f.qty
		if m.IsFilled() {
			b.DeleteOrder(m.Ticker, m.ID)
		} else {
			b.SaveOrder(&m)
		}
	}
	if cs.rest != nil {
		b.SaveOrder(cs.rest)
	}
	for _, t := range cs.trades {
		b.SaveTrade(t)
	}
	if cs.listing != nil {
		b.SetToken(cs.listing.ticker, cs.listing.addr)
	}
	b.SetNextOrderID(cs.nextOrderID)
	b.SetNextTradeID(cs.nextTradeID)

	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// publish hands committed trades to the sink; failures are logged, never returned
// Callers have released the call guard, so a slow sink delays only its own caller.
func (e *Engine) publish(ctx context.Context, trades []orderbook.Trade) {
	for _, t := range trades {
		e.metrics.Trade(string(t.Ticker), t.Qty)
		if e.sink == nil {
			continue
		}
		if err := e.sink.Publish(ctx, t); err != nil {
			e.logger.Warnw("trade_publish_failed", "trade_id", t.ID, "err", err)
		}
	}
}

func (e *Engine) recordDepth(ticker asset.Ticker) {
	if e.metrics == nil {
		return
	}
	book, ok := e.books.Lookup(ticker)
	if !ok {
		return
	}
	e.metrics.BookDepth(string(ticker), orderbook.Buy.String(), book.Len(orderbook.Buy))
	e.metrics.BookDepth(string(ticker), orderbook.Sell.String(), book.Len(orderbook.Sell))
}
