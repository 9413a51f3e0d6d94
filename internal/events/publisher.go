// Package events publishes load attempt lifecycle notifications to Kafka so
// downstream consumers (freshness monitors, silver-layer triggers) can react
// to ingestion runs without polling the audit table.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

const (
	defaultTopic        = "bronze.load-events"
	defaultWriteTimeout = 10 * time.Second
)

// ErrPublishFailed is returned when an event cannot be delivered.
var ErrPublishFailed = errors.New("lifecycle event publish failed")

// Compile-time interface assertion.
var _ pipeline.EventPublisher = (*KafkaPublisher)(nil)

type (
	// Config holds the Kafka publisher settings.
	Config struct {
		// Enabled gates publishing entirely; when false the pipeline runs
		// with a no-op publisher.
		Enabled bool

		// Brokers is the bootstrap broker list.
		Brokers []string

		// Topic receives one message per lifecycle transition.
		Topic string

		// WriteTimeout bounds each publish call.
		WriteTimeout time.Duration
	}

	// KafkaPublisher delivers lifecycle events as JSON messages keyed by load
	// ID, so all events of one attempt land in the same partition in order.
	KafkaPublisher struct {
		writer *kafka.Writer
		logger *slog.Logger
	}
)

// LoadPublisherConfig loads the Kafka settings from environment variables.
// Publishing defaults to disabled so local runs need no broker.
func LoadPublisherConfig() Config {
	brokers := config.GetEnvStr("KAFKA_BROKERS", "")

	return Config{
		Enabled:      config.GetEnvBool("KAFKA_EVENTS_ENABLED", false) && brokers != "",
		Brokers:      splitBrokers(brokers),
		Topic:        config.GetEnvStr("KAFKA_EVENTS_TOPIC", defaultTopic),
		WriteTimeout: config.GetEnvDuration("KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// NewKafkaPublisher creates a publisher over the configured brokers. A nil
// logger falls back to slog.Default().
func NewKafkaPublisher(cfg Config, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish implements pipeline.EventPublisher. Messages are keyed by load ID
// so one attempt's start and terminal events preserve their order.
func (p *KafkaPublisher) Publish(ctx context.Context, event pipeline.AttemptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPublishFailed, err)
	}

	message := kafka.Message{
		Key:   []byte(event.LoadID),
		Value: payload,
		Time:  event.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debug("lifecycle event published",
		slog.String("load_id", event.LoadID),
		slog.String("status", event.Status.String()),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func splitBrokers(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}

	return brokers
}
