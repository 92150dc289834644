// Package publish forwards simulation events to a Kafka topic.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nvandessel/epistate/internal/events"
)

// Producer is the part of *kgo.Client the publisher uses.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// Config selects the brokers and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Publisher is an events.Sink producing one record per event, keyed by
// person id so a person's events stay ordered within a partition.
type Publisher struct {
	producer Producer
	topic    string
	runID    string
	logger   *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewKafka connects a franz-go client.
func NewKafka(cfg Config, runID string, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return New(client, cfg.Topic, runID, logger), nil
}

// New wraps an existing producer.
func New(p Producer, topic, runID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{producer: p, topic: topic, runID: runID, logger: logger}
}

// Report produces e asynchronously. Failures are counted and logged; the
// simulation never blocks on the broker.
func (p *Publisher) Report(e events.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		p.failed.Add(1)
		return
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.PersonID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "run_id", Value: []byte(p.runID)},
		},
	}
	p.producer.Produce(context.Background(), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			if p.failed.Add(1) == 1 {
				p.logger.Warn("publishing event failed", "topic", p.topic, "error", err)
			}
			return
		}
		p.sent.Add(1)
	})
}

// Stats returns the delivered and failed record counts.
func (p *Publisher) Stats() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.producer.Flush(ctx)
	p.producer.Close()
	if sent, failed := p.Stats(); failed > 0 {
		p.logger.Warn("events not published", "failed", failed, "sent", sent)
	}
	if err != nil {
		return fmt.Errorf("flushing events: %w", err)
	}
	return nil
}
