package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"driveshare/internal/calendar"
	"driveshare/internal/events"
)

// Create records a Pending request if one free window covers the whole
// range. The calendar is only read; it changes on approval.
func (s *Service) Create(ctx context.Context, req CreateBookingRequest) (id string, err error) {
	ctx, finish := s.begin(ctx, "create",
		attribute.String("listing", req.ListingID),
		attribute.String("requester", req.RequesterID),
	)
	defer func() {
		finish(&err, map[string]interface{}{
			"listing":   req.ListingID,
			"requester": req.RequesterID,
			"range":     req.Range.String(),
			"booking":   id,
		})
	}()

	if req.ListingID == "" || req.RequesterID == "" {
		return "", invalid("listing_id and requester_id required")
	}
	if req.Range.End < req.Range.Start {
		return "", ErrInvalidRange
	}

	// No transaction: BEGIN takes the write lock (_txlock=immediate). The
	// coverage read is advisory; Approve re-checks it under the listing lock.
	listing, err := loadListing(ctx, s.db, req.ListingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("listing %s: %w", req.ListingID, ErrNotFound)
		}
		return "", s.storeErr("create", err)
	}
	var requester string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?;`, req.RequesterID).Scan(&requester)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %s: %w", req.RequesterID, ErrNotFound)
	}
	if err != nil {
		return "", s.storeErr("create", err)
	}

	windows, err := loadWindows(ctx, s.db, req.ListingID)
	if err != nil {
		return "", s.storeErr("create", err)
	}
	if !calendar.IsAvailable(windows, req.Range) {
		return "", ErrUnavailable
	}

	now := s.now(req.Now)
	b := Booking{
		ID:          uuid.NewString(),
		ListingID:   req.ListingID,
		RequesterID: req.RequesterID,
		Range:       req.Range,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO booking_requests(id, listing_id, requester_id, start_date, end_date, status, created_at_ns, updated_at_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, b.ID, b.ListingID, b.RequesterID, b.Range.Start.String(), b.Range.End.String(), string(b.Status), now.UnixNano(), now.UnixNano()); err != nil {
		return "", s.storeErr("create", err)
	}

	s.dispatch(ctx, bookingEvent(events.KindCreated, b, listing.OwnerID, req.RequesterID))
	return b.ID, nil
}

// Approve confirms a Pending booking. Under the listing's lock and in one
// transaction it removes the range from the calendar, flips the status and
// opens a Pending settlement for the listing's current price. If another
// approval took the range first it fails with ErrUnavailable and changes
// nothing.
func (s *Service) Approve(ctx context.Context, bookingID string) (err error) {
	ctx, finish := s.begin(ctx, "approve", attribute.String("booking", bookingID))
	var (
		logListing string
		logPlan    int
		logSettle  string
	)
	defer func() {
		finish(&err, map[string]interface{}{
			"booking":    bookingID,
			"listing":    logListing,
			"mutations":  logPlan,
			"settlement": logSettle,
		})
	}()

	if bookingID == "" {
		return invalid("booking_id required")
	}

	// Read outside the lock only to learn which listing to lock; the
	// booking is loaded again inside the transaction.
	b, err := loadBooking(ctx, s.db, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return s.storeErr("approve", err)
	}
	logListing = b.ListingID

	unlock := s.listings.Lock(b.ListingID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeErr("approve", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err = loadBooking(ctx, tx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return s.storeErr("approve", err)
	}
	if b.Status != StatusPending {
		return fmt.Errorf("booking %s is %s: %w", bookingID, strings.ToLower(string(b.Status)), ErrNotFound)
	}

	listing, err := loadListing(ctx, tx, b.ListingID)
	if err != nil {
		return s.storeErr("approve", err)
	}
	windows, err := loadWindows(ctx, tx, b.ListingID)
	if err != nil {
		return s.storeErr("approve", err)
	}
	if !calendar.IsAvailable(windows, b.Range) {
		return ErrUnavailable
	}

	plan, updated := calendar.RemoveRange(windows, b.Range)
	if err := calendar.Validate(updated); err != nil {
		return &IntegrityError{Op: "approve", Err: err}
	}
	logPlan = len(plan)
	if err := applyPlan(ctx, tx, b.ListingID, plan); err != nil {
		return s.storeErr("approve", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
UPDATE booking_requests SET status = ?, updated_at_ns = ? WHERE id = ? AND status = ?;
`, string(StatusConfirmed), now.UnixNano(), b.ID, string(StatusPending)); err != nil {
		return s.storeErr("approve", err)
	}

	settlementID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO settlements(id, booking_id, payer_id, payee_id, amount, status, method, created_at_ns, processed_at_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, NULL);
`, settlementID, b.ID, b.RequesterID, listing.OwnerID, listing.Price.String(), string(SettlementPending), MethodWallet, now.UnixNano()); err != nil {
		return s.storeErr("approve", err)
	}

	res, err := tx.ExecContext(ctx, `
UPDATE listings SET calendar_version = calendar_version + 1
WHERE id = ? AND calendar_version = ?;
`, b.ListingID, listing.CalendarVersion)
	if err != nil {
		return s.storeErr("approve", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return &IntegrityError{Op: "approve", Err: errVersionConflict}
	}

	if err := tx.Commit(); err != nil {
		return s.storeErr("approve", err)
	}
	logSettle = settlementID

	b.Status = StatusConfirmed
	ev := bookingEvent(events.KindConfirmed, b, listing.OwnerID, "")
	ev.SettlementID = settlementID
	ev.Amount = listing.Price
	s.dispatch(ctx, ev)
	return nil
}

func applyPlan(ctx context.Context, tx *sql.Tx, listingID string, plan calendar.Plan) error {
	for _, m := range plan {
		var err error
		switch m.Kind {
		case calendar.MutationDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM availability WHERE id = ? AND listing_id = ?;`, m.WindowID, listingID)
		case calendar.MutationShrink:
			_, err = tx.ExecContext(ctx, `
UPDATE availability SET start_date = ?, end_date = ? WHERE id = ? AND listing_id = ?;
`, m.Range.Start.String(), m.Range.End.String(), m.WindowID, listingID)
		case calendar.MutationInsert:
			_, err = tx.ExecContext(ctx, `
INSERT INTO availability(id, listing_id, start_date, end_date) VALUES(?, ?, ?, ?);
`, uuid.NewString(), listingID, m.Range.Start.String(), m.Range.End.String())
		default:
			err = fmt.Errorf("unknown mutation %q", m.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s window %s: %w", m.Kind, m.Range, err)
		}
	}
	return nil
}

// Reject deletes the booking request and tells both parties.
func (s *Service) Reject(ctx context.Context, bookingID string) error {
	return s.remove(ctx, "reject", events.KindRejected, bookingID)
}

// Cancel deletes the booking request whatever its status. A confirmed
// booking's days are not returned to the calendar.
func (s *Service) Cancel(ctx context.Context, bookingID string) error {
	return s.remove(ctx, "cancel", events.KindCancelled, bookingID)
}

func (s *Service) remove(ctx context.Context, op string, kind events.Kind, bookingID string) (err error) {
	ctx, finish := s.begin(ctx, op, attribute.String("booking", bookingID))
	var logStatus Status
	defer func() {
		finish(&err, map[string]interface{}{
			"booking":     bookingID,
			"prev_status": string(logStatus),
		})
	}()

	if bookingID == "" {
		return invalid("booking_id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeErr(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := loadBooking(ctx, tx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return s.storeErr(op, err)
	}
	logStatus = b.Status

	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT owner_id FROM listings WHERE id = ?;`, b.ListingID).Scan(&owner); err != nil {
		return s.storeErr(op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM booking_requests WHERE id = ?;`, bookingID); err != nil {
		return s.storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.storeErr(op, err)
	}

	if kind == events.KindRejected {
		b.Status = StatusRejected
	} else {
		b.Status = StatusCancelled
	}
	s.dispatch(ctx, bookingEvent(kind, b, owner, ""))
	return nil
}

func (s *Service) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	b, err := loadBooking(ctx, s.db, bookingID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Booking{}, s.storeErr("get_booking", err)
	}
	return b, err
}

// ListBookings returns matching bookings, oldest first.
func (s *Service) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	if f.ListingID == "" && f.RequesterID == "" {
		return nil, invalid("listing_id or requester_id required")
	}
	q := `SELECT ` + bookingColumns + ` FROM booking_requests WHERE 1 = 1`
	var args []interface{}
	if f.ListingID != "" {
		q += ` AND listing_id = ?`
		args = append(args, f.ListingID)
	}
	if f.RequesterID != "" {
		q += ` AND requester_id = ?`
		args = append(args, f.RequesterID)
	}
	q += ` ORDER BY created_at_ns, id;`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.storeErr("list_bookings", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, s.storeErr("list_bookings", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("list_bookings", err)
	}
	return out, nil
}

func bookingEvent(kind events.Kind, b Booking, ownerID, actor string) events.Event {
	return events.Event{
		Kind:        kind,
		BookingID:   b.ID,
		ListingID:   b.ListingID,
		RequesterID: b.RequesterID,
		OwnerID:     ownerID,
		Range:       b.Range,
		Actor:       actor,
	}
}
