package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// ErrBufferFull is returned by Buffer.Publish when the queue has no room
var ErrBufferFull = errors.New("trade buffer full")

// Buffer queues trades and delivers them to the wrapped sink from Run
//
// Publish never blocks; when the queue is full the trade is dropped and
// ErrBufferFull returned. Trades reach the sink in the order they were queued.
type Buffer struct {
	sink   Sink
	queue  chan orderbook.Trade
	logger *zap.SugaredLogger
}

// NewBuffer wraps sink with a queue of size trades
func NewBuffer(sink Sink, size int, logger *zap.SugaredLogger) *Buffer {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Buffer{sink: sink, queue: make(chan orderbook.Trade, size), logger: logger}
}

func (b *Buffer) Publish(_ context.Context, t orderbook.Trade) error {
	select {
	case b.queue <- t:
		return nil
	default:
		return ErrBufferFull
	}
}

// Pending returns the number of queued trades
func (b *Buffer) Pending() int { return len(b.queue) }

// Run delivers queued trades until ctx is done
// Trades still queued at shutdown are delivered with a background context.
func (b *Buffer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case t := <-b.queue:
			b.deliver(ctx, t)
		}
	}
}

func (b *Buffer) drain() {
	for {
		select {
		case t := <-b.queue:
			b.deliver(context.Background(), t)
		default:
			return
		}
	}
}

func (b *Buffer) deliver(ctx context.Context, t orderbook.Trade) {
	if err := b.sink.Publish(ctx, t); err != nil {
		b.logger.Warnw("trade_delivery_failed", "trade_id", t.ID, "err", err)
	}
}
