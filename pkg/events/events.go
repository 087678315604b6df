// Package events publishes subscription lifecycle events for downstream
// consumers (analytics, CRM sync). Publishing is best effort: callers log
// failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/fincash/pkg/logger"
)

const (
	TypeSubscriptionActivated = "subscription.activated"
	TypePaymentFailed         = "payment.failed"
	TypeExportAuthorized      = "export.authorized"
)

var ErrNoBrokers = errors.New("events: kafka brokers are not configured")

type Config struct {
	Brokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic        string        `env:"KAFKA_TOPIC" envDefault:"fincash.subscriptions"`
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}

// Event is a single lifecycle fact. Key selects the partition; events of
// one user share a key so consumers see them in order.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Encode converts e into a Kafka message.
func Encode(topic string, e Event) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(e.Key),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// KafkaPublisher writes events to a single topic.
type KafkaPublisher struct {
	writer  *kafka.Writer
	topic   string
	timeout time.Duration
	log     *slog.Logger
}

func NewKafkaPublisher(cfg Config, log *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: cfg.WriteTimeout,
		},
		topic:   cfg.Topic,
		timeout: cfg.WriteTimeout,
		log:     log.With(logger.Component("events")),
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := Encode(p.topic, e)
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s: %w", e.Type, err)
	}
	p.log.DebugContext(ctx, "event published", logger.EventType(e.Type), slog.String("topic", p.topic))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher records events in the log only. It is the publisher of
// deployments without Kafka.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogPublisher{log: log.With(logger.Component("events"))}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "event", logger.EventType(e.Type), slog.String("key", e.Key))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
