package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// Sink receives every settled trade after the engine has committed it
type Sink interface {
	Publish(ctx context.Context, t orderbook.Trade) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, t orderbook.Trade) error

func (f SinkFunc) Publish(ctx context.Context, t orderbook.Trade) error { return f(ctx, t) }

// Fanout publishes to every sink, joining their errors
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, t orderbook.Trade) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each trade as a structured log line
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (l LogSink) Publish(_ context.Context, t orderbook.Trade) error {
	l.Logger.Infow("trade",
		"id", t.ID,
		"ticker", t.Ticker,
		"taker", t.Taker.Hex(),
		"maker", t.Maker.Hex(),
		"taker_side", t.TakerSide.String(),
		"qty", t.Qty,
		"price", t.Price,
	)
	return nil
}
