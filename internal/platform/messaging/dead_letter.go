// Package messaging exports dead-lettered mutations to Kafka so a backend
// process can inspect or replay work the device gave up on. The export is
// optional; with no topic configured the sync engine keeps its local
// dead-letter list only.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/moneybrain/syncd/internal/config"
	"github.com/moneybrain/syncd/internal/domain/mutation"
)

// KafkaWriter wraps kafka.Writer methods for testing.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher writes exhausted mutations to the configured topic. A
// nil publisher is valid and drops nothing locally, it just skips the export.
type DeadLetterPublisher struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewDeadLetterPublisher returns nil if cfg.DeadLetterTopic is empty (export
// disabled).
func NewDeadLetterPublisher(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*DeadLetterPublisher, error) {
	if cfg.DeadLetterTopic == "" {
		logger.Info("Dead-letter topic is not configured, export disabled")
		return nil, nil
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka for dead-letter publisher: %w", err)
	}
	defer conn.Close()

	if err := createTopicIfNotExists(conn, cfg.DeadLetterTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure dead-letter topic %s exists: %w", cfg.DeadLetterTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.DeadLetterTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &DeadLetterPublisher{
		logger: logger,
		writer: writer,
		topic:  cfg.DeadLetterTopic,
	}, nil
}

// Publish exports one exhausted mutation. Keyed by target id so retries of
// the same transaction land in the same partition.
func (p *DeadLetterPublisher) Publish(ctx context.Context, m mutation.Mutation, reason string) error {
	if p == nil || p.writer == nil {
		return nil
	}

	payload := struct {
		Mutation  mutation.Mutation `json:"mutation"`
		Reason    string            `json:"reason"`
		Timestamp string            `json:"timestamp"`
	}{
		Mutation:  m,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter payload: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(m.TargetID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(reason)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to export dead-lettered mutation",
			"topic", p.topic,
			"mutation_id", m.ID,
			"error", err,
		)
		return fmt.Errorf("failed to publish to dead-letter topic %s: %w", p.topic, err)
	}

	p.logger.Info("Exported dead-lettered mutation",
		"topic", p.topic,
		"mutation_id", m.ID,
		"target_id", m.TargetID,
		"reason", reason,
	)
	return nil
}

// Close shuts the underlying writer down. Safe on a nil publisher.
func (p *DeadLetterPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing dead-letter publisher", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close dead-letter kafka writer: %w", err)
	}
	return nil
}

// createTopicIfNotExists creates the topic when partition metadata cannot be
// read, retrying reads a few times first.
func createTopicIfNotExists(conn *kafka.Conn, topicName string, numPartitions, replicationFactor int, log *slog.Logger) error {
	var partitions []kafka.Partition
	var err error

	for i := 0; i < 5; i++ {
		partitions, err = conn.ReadPartitions(topicName)
		if err == nil {
			break
		}
		log.Warn("Failed to read partitions, retrying...", "topic", topicName, "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}

	if len(partitions) > 0 {
		log.Info("Kafka topic already exists", "topic", topicName)
		return nil
	}

	topicConfig := kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	}
	if topicConfig.NumPartitions == 0 {
		topicConfig.NumPartitions = 1
	}
	if topicConfig.ReplicationFactor == 0 {
		topicConfig.ReplicationFactor = 1
	}

	if err := conn.CreateTopics(topicConfig); err != nil {
		return fmt.Errorf("failed to create kafka topic %s: %w", topicName, err)
	}
	log.Info("Created Kafka topic", "topic", topicName)
	return nil
}
