package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/hyperspot/pkg/app/core/orderbook"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes trades to a topic, keyed by ticker so a ticker's trades stay ordered
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a synchronous writer for topic
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// NewKafkaSinkWithWriter uses a caller-provided writer
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, t orderbook.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %d: %w", t.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(t.Ticker),
		Value: data,
		Headers: []kafka.Header{
			{Key: "trade_id", Value: []byte(strconv.FormatUint(t.ID, 10))},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write trade %d: %w", t.ID, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
