// Package events publishes finalized settlement transactions to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"ammSettle/internal/model"
)

// Publisher receives every Transaction after it is committed.
type Publisher interface {
	Publish(ctx context.Context, tx model.Transaction) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.Transaction) error { return nil }
func (Nop) Close() error                                     { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the brokers and topic for the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka writes transactions as JSON, keyed by pool so one pool's events stay ordered.
type Kafka struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Kafka{writer: writer, now: time.Now}, nil
}

func (k *Kafka) Publish(ctx context.Context, tx model.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %d: %w", tx.ID, err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(messageKey(tx)),
		Value: data,
		Time:  k.now(),
	}); err != nil {
		return fmt.Errorf("publish transaction %d: %w", tx.ID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func messageKey(tx model.Transaction) string {
	if len(tx.PoolIDs) > 0 {
		return "pool/" + strconv.FormatUint(uint64(tx.PoolIDs[0]), 10)
	}
	return "user/" + strconv.FormatUint(uint64(tx.UserID), 10)
}
