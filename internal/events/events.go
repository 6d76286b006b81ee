// AngelaMos | 2026
// events.go

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

type Type string

const (
	UserRegistered  Type = "user.registered"
	UserVerified    Type = "user.verified"
	UserRoleChanged Type = "user.role_changed"
	UserDeleted     Type = "user.deleted"
	UserSwept       Type = "user.swept"
)

type Event struct {
	Type   Type      `json:"type"`
	UserID string    `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
	At     time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(cfg config.EventsConfig, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish writes one message per event, keyed by user id so every event
// for a user lands on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", ev.Type, err)
		}

		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.UserID),
			Value: value,
			Time:  ev.At,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(ev.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish events: %w", err)
	}

	p.logger.Debug("events published", "count", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

func New(cfg config.EventsConfig, logger *slog.Logger) Publisher {
	if !cfg.Enabled {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg, logger)
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
