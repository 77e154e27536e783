package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"call-notes-go/internal/logger"
)

const (
	EventCallProcessed = "calls.processed.v1"
	producer           = "call-notes-go"
)

// Meta follows the shared event envelope used on the bus.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

// BuildEnvelope wraps a summary in a calls.processed.v1 envelope.
func BuildEnvelope(s Summary, now time.Time) Envelope {
	p := producer
	return Envelope{
		Meta: Meta{ID: uuid.NewString(), Producer: &p, Time: now.UTC(), Type: EventCallProcessed},
		Data: s,
	}
}

// Publisher emits summaries to a topic exchange with publisher confirms.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	log      *logger.Logger
}

// DialPublisher connects with exponential backoff and declares the exchange.
func DialPublisher(ctx context.Context, url, exchange string, log *logger.Logger) (*Publisher, error) {
	log = log.WithComponent("amqp")

	var conn *amqp.Connection
	op := func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warn("amqp dial failed")
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
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
	return &Publisher{conn: conn, exchange: exchange, log: log}, nil
}

func (p *Publisher) Notify(ctx context.Context, s Summary) error {
	return p.Publish(ctx, EventCallProcessed, BuildEnvelope(s, time.Now()))
}

func (p *Publisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	cid := msg.Meta.ID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.Meta.ID,
		CorrelationId: cid,
		Timestamp:     msg.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("amqp publish %s nacked", key)
	}
	p.log.WithField("key", key).WithField("exchange", p.exchange).Info("published")
	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
