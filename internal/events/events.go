// Package events carries booking lifecycle transitions to the parties and
// systems that care about them.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"driveshare/internal/calendar"
	"driveshare/internal/obs"
)

type Kind string

const (
	KindCreated   Kind = "booking.created"
	KindConfirmed Kind = "booking.confirmed"
	KindRejected  Kind = "booking.rejected"
	KindCancelled Kind = "booking.cancelled"
	KindSettled   Kind = "settlement.processed"
)

// Event is a snapshot of one transition. Rejected and cancelled events carry
// the booking as it was before its row was deleted. For settlements the
// requester is the payer and the owner is the payee.
type Event struct {
	Kind         Kind
	BookingID    string
	ListingID    string
	RequesterID  string
	OwnerID      string
	Range        calendar.Range
	SettlementID string
	Amount       decimal.Decimal
	Actor        string
	At           time.Time
}

func (e Event) Message() string {
	switch e.Kind {
	case KindCreated:
		return fmt.Sprintf("Booking Request %s created", e.BookingID)
	case KindConfirmed:
		return fmt.Sprintf("Booking Request %s confirmed", e.BookingID)
	case KindRejected:
		return fmt.Sprintf("Booking Request %s rejected and deleted", e.BookingID)
	case KindCancelled:
		return fmt.Sprintf("Booking Request %s cancelled and deleted", e.BookingID)
	case KindSettled:
		return fmt.Sprintf("Payment of %s for booking %s processed", e.Amount.StringFixed(2), e.BookingID)
	default:
		return fmt.Sprintf("Booking Request %s: %s", e.BookingID, e.Kind)
	}
}

// Recipients lists the participants to notify: the requester, and the owner
// when the owner is someone else.
func (e Event) Recipients() []string {
	var out []string
	if e.RequesterID != "" {
		out = append(out, e.RequesterID)
	}
	if e.OwnerID != "" && e.OwnerID != e.RequesterID {
		out = append(out, e.OwnerID)
	}
	return out
}

// RelatedID is the entity a notification about this event points at.
func (e Event) RelatedID() string {
	return e.BookingID
}

type Handler interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Dispatcher delivers every event to a fixed list of handlers, in order and
// synchronously. A failing handler is logged and counted; it never stops
// the others and never reaches the caller.
type Dispatcher struct {
	handlers []Handler
	logger   *obs.Logger
	metrics  *obs.Metrics
}

func NewDispatcher(logger *obs.Logger, metrics *obs.Metrics, handlers ...Handler) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, h := range d.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			if d.metrics != nil {
				d.metrics.NotifyFailuresTotal.WithLabelValues(h.Name()).Inc()
			}
			d.logger.Error(map[string]interface{}{
				"op":         "dispatch",
				"handler":    h.Name(),
				"event":      string(ev.Kind),
				"booking_id": ev.BookingID,
				"error":      err.Error(),
			})
		}
	}
}

// LogHandler writes one structured line per event.
type LogHandler struct {
	Logger *obs.Logger
}

func (LogHandler) Name() string { return "log" }

func (h LogHandler) Handle(_ context.Context, ev Event) error {
	fields := map[string]interface{}{
		"op":         "event",
		"event":      string(ev.Kind),
		"booking_id": ev.BookingID,
		"listing_id": ev.ListingID,
		"requester":  ev.RequesterID,
		"owner":      ev.OwnerID,
	}
	if ev.Actor != "" {
		fields["actor"] = ev.Actor
	}
	if ev.SettlementID != "" {
		fields["settlement_id"] = ev.SettlementID
		fields["amount"] = ev.Amount.String()
	}
	h.Logger.Info(fields)
	return nil
}
