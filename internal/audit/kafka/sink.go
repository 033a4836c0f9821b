// Package kafka fans audit entries out to a Kafka topic for downstream
// compliance consumers. The Postgres/in-memory store remains the source of
// truth; this sink is best-effort telemetry.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"rulegate/internal/audit"
)

// Sink publishes audit entries to a single topic, keyed by subject ID so all
// transitions of one record land in the same partition, in order.
type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewSink connects to the brokers and ensures the topic exists.
func NewSink(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	if _, err := adm.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
		// Topic may already exist; anything else surfaces on first produce.
		if logger != nil {
			logger.DebugContext(ctx, "kafka topic creation skipped", "topic", topic, "error", err)
		}
	}

	return &Sink{client: client, topic: topic, logger: logger}, nil
}

// Run consumes entries from the inbox until the context is cancelled.
// Produce failures are logged and skipped: the durable store already holds
// the entry.
func (s *Sink) Run(ctx context.Context, inbox <-chan audit.Entry) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-inbox:
			s.publish(ctx, entry)
		}
	}
}

func (s *Sink) publish(ctx context.Context, entry audit.Entry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "marshal audit entry for kafka", "entry_id", entry.ID, "error", err)
		}
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.SubjectID),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "kafka audit produce failed",
				"entry_id", entry.ID,
				"action", entry.Action,
				"error", err,
			)
		}
	}
}

// Close flushes and releases the underlying client.
func (s *Sink) Close() {
	s.client.Close()
}
