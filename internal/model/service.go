// Package model is the booking lifecycle: requests, approvals with their
// calendar mutation, wallet settlements and the participant inbox.
package model

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"driveshare/internal/calendar"
	"driveshare/internal/events"
	"driveshare/internal/obs"
)

type Service struct {
	db         *sql.DB
	logger     *obs.Logger
	metrics    *obs.Metrics
	dispatcher *events.Dispatcher
	tracer     trace.Tracer
	listings   *keyedMutex
}

// NewService wires the lifecycle operations. logger, metrics and dispatcher
// may be nil.
func NewService(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics, dispatcher *events.Dispatcher) *Service {
	return &Service{
		db:         db,
		logger:     logger,
		metrics:    metrics,
		dispatcher: dispatcher,
		tracer:     otel.Tracer("driveshare/internal/model"),
		listings:   newKeyedMutex(),
	}
}

func (s *Service) observeLatency(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func (s *Service) incResult(op string, err error) {
	if s.metrics == nil {
		return
	}
	if op == "settle" {
		s.metrics.SettlementTotal.WithLabelValues(resultOf(err)).Inc()
		return
	}
	s.metrics.BookingTotal.WithLabelValues(op, resultOf(err)).Inc()
}

func (s *Service) now(reqNow time.Time) time.Time {
	if !reqNow.IsZero() {
		return reqNow
	}
	return time.Now()
}

// begin opens a span for op. The returned finish records err on the span,
// the op counters and the latency histogram, and writes one log line with
// fields.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(err *error, fields map[string]interface{})) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "model."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error, fields map[string]interface{}) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, resultOf(err))
		}
		span.End()

		s.incResult(op, err)
		s.observeLatency(op, start)

		if s.logger == nil {
			return
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["op"] = op
		fields["result"] = resultOf(err)
		fields["latency_ms"] = time.Since(start).Milliseconds()
		if err != nil {
			fields["error"] = err.Error()
			s.logger.Error(fields)
		} else {
			s.logger.Info(fields)
		}
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadWindows(ctx context.Context, q queryer, listingID string) ([]calendar.Window, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, start_date, end_date
FROM availability WHERE listing_id = ?
ORDER BY start_date;
`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calendar.Window
	for rows.Next() {
		var id, start, end string
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, err
		}
		r, err := calendar.ParseRange(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, calendar.Window{ID: id, Range: r})
	}
	return out, rows.Err()
}

const bookingColumns = `id, listing_id, requester_id, start_date, end_date, status, created_at_ns, updated_at_ns`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(sc rowScanner) (Booking, error) {
	var (
		b            Booking
		start, end   string
		status       string
		created, upd int64
	)
	if err := sc.Scan(&b.ID, &b.ListingID, &b.RequesterID, &start, &end, &status, &created, &upd); err != nil {
		return Booking{}, err
	}
	r, err := calendar.ParseRange(start, end)
	if err != nil {
		return Booking{}, err
	}
	b.Range = r
	b.Status = Status(status)
	b.CreatedAt = time.Unix(0, created)
	b.UpdatedAt = time.Unix(0, upd)
	return b, nil
}

// loadBooking returns ErrNotFound when the row is absent.
func loadBooking(ctx context.Context, q queryer, id string) (Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

func (s *Service) dispatch(ctx context.Context, ev events.Event) {
	// The primary transaction is already committed; a cancelled request
	// context must not stop the participants from hearing about it.
	s.dispatcher.Dispatch(context.WithoutCancel(ctx), ev)
}
