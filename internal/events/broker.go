package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"driveshare/internal/calendar"
)

// Publisher is the part of *amqp.Channel the broker handler needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type wireEvent struct {
	Event        string    `json:"event"`
	Version      int       `json:"version"`
	BookingID    string    `json:"booking_id"`
	ListingID    string    `json:"listing_id,omitempty"`
	RequesterID  string    `json:"requester_id,omitempty"`
	OwnerID      string    `json:"owner_id,omitempty"`
	StartDate    string    `json:"start_date,omitempty"`
	EndDate      string    `json:"end_date,omitempty"`
	SettlementID string    `json:"settlement_id,omitempty"`
	Amount       string    `json:"amount,omitempty"`
	Message      string    `json:"message"`
	At           time.Time `json:"at"`
}

func toWire(ev Event) wireEvent {
	w := wireEvent{
		Event:        string(ev.Kind),
		Version:      1,
		BookingID:    ev.BookingID,
		ListingID:    ev.ListingID,
		RequesterID:  ev.RequesterID,
		OwnerID:      ev.OwnerID,
		SettlementID: ev.SettlementID,
		Message:      ev.Message(),
		At:           ev.At.UTC(),
	}
	if ev.Range != (calendar.Range{}) {
		w.StartDate = ev.Range.Start.String()
		w.EndDate = ev.Range.End.String()
	}
	if ev.SettlementID != "" {
		w.Amount = ev.Amount.String()
	}
	return w
}

// BrokerHandler publishes each event as JSON on a topic exchange, routed by
// its kind (booking.created, settlement.processed, ...).
type BrokerHandler struct {
	pub      Publisher
	exchange string
}

func NewBrokerHandler(pub Publisher, exchange string) *BrokerHandler {
	return &BrokerHandler{pub: pub, exchange: exchange}
}

func (*BrokerHandler) Name() string { return "broker" }

func (h *BrokerHandler) Handle(ctx context.Context, ev Event) error {
	b, err := json.Marshal(toWire(ev))
	if err != nil {
		return err
	}
	return h.pub.PublishWithContext(ctx, h.exchange, string(ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.BookingID + ":" + string(ev.Kind),
		Timestamp:    ev.At,
		Body:         b,
	})
}

// Broker owns the AMQP connection behind a BrokerHandler.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialBroker connects and declares a durable topic exchange.
func DialBroker(url, exchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Broker{conn: conn, ch: ch}, nil
}

func (b *Broker) Channel() *amqp.Channel { return b.ch }

func (b *Broker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
