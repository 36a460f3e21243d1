package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// Publisher is the subset of *nats.Conn used by NATSSink
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes trades as JSON on "<prefix>.trades.<TICKER>"
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink wraps an existing connection
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

// DialNATS connects to url with reconnects enabled
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject trades for ticker are published on
func (s *NATSSink) Subject(t orderbook.Trade) string {
	return fmt.Sprintf("%s.trades.%s", s.prefix, t.Ticker)
}

func (s *NATSSink) Publish(_ context.Context, t orderbook.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %d: %w", t.ID, err)
	}
	if err := s.pub.Publish(s.Subject(t), data); err != nil {
		return fmt.Errorf("nats publish trade %d: %w", t.ID, err)
	}
	return nil
}
