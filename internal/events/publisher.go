package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// DispositionEvent is emitted when a contact leg closes. Downstream
// consumers (reporting, CRM sync) subscribe by routing key
// "leg.closed.<disposition type>".
type DispositionEvent struct {
	EventID string `json:"event_id"`

	LegID     string `json:"leg_id"`
	ContactID string `json:"contact_id"`

	System          string `json:"system"`
	SystemContactID string `json:"system_contact_id"`

	DispositionType   string `json:"disposition_type"`
	DispositionParams string `json:"disposition_params,omitempty"`

	EndedAt time.Time `json:"ended_at"`
}

// Publisher emits disposition events. Publishing is strictly best-effort:
// callers log failures and move on; a broker outage must never affect a
// live call.
type Publisher interface {
	PublishDisposition(ctx context.Context, e DispositionEvent) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewRabbitPublisher declares a durable topic exchange and returns a
// publisher bound to it.
func NewRabbitPublisher(url, exchange string, log *slog.Logger) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &rmqPublisher{conn: conn, exchange: exchange, log: log}, nil
}

func (p *rmqPublisher) PublishDisposition(ctx context.Context, e DispositionEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := "leg.closed." + e.DispositionType
	err = ch.PublishWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.EventID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err == nil {
		p.log.Debug("disposition published", slog.String("key", key), slog.String("leg_id", e.LegID))
	}
	return err
}

func (p *rmqPublisher) Close() error {
	return p.conn.Close()
}

// Noop discards events; used when no broker is configured and in tests.
type Noop struct{}

func (Noop) PublishDisposition(ctx context.Context, e DispositionEvent) error { return nil }
func (Noop) Close() error                                                     { return nil }
