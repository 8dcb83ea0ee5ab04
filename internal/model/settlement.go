package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"driveshare/internal/events"
)

// Authorize reports whether userID names an existing user.
func (s *Service) Authorize(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?;`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.storeErr("authorize", err)
	}
	return true, nil
}

// ProcessSettlement pays for a confirmed booking from the payer's wallet.
// The payer must exist and be the booking's requester; a non-zero amount
// must match what was fixed at approval.
func (s *Service) ProcessSettlement(ctx context.Context, req SettleRequest) (st Settlement, err error) {
	ctx, finish := s.begin(ctx, "settle",
		attribute.String("booking", req.BookingID),
		attribute.String("payer", req.PayerID),
	)
	defer func() {
		finish(&err, map[string]interface{}{
			"booking":    req.BookingID,
			"payer":      req.PayerID,
			"settlement": st.ID,
			"amount":     st.Amount.String(),
		})
	}()

	if req.BookingID == "" {
		return Settlement{}, invalid("booking_id required")
	}
	ok, err := s.Authorize(ctx, req.PayerID)
	if err != nil {
		return Settlement{}, err
	}
	if !ok {
		return Settlement{}, ErrSecurityCheckFailed
	}

	cur, err := s.SettlementForBooking(ctx, req.BookingID)
	if err != nil {
		return Settlement{}, err
	}
	if cur.Status == SettlementProcessed {
		return cur, ErrAlreadyProcessed
	}
	if cur.PayerID != req.PayerID {
		return Settlement{}, fmt.Errorf("payer %s does not owe settlement %s: %w", req.PayerID, cur.ID, ErrSecurityCheckFailed)
	}
	if !req.Amount.IsZero() && !req.Amount.Equal(cur.Amount) {
		return Settlement{}, fmt.Errorf("%w: got %s, want %s", ErrAmountMismatch, req.Amount, cur.Amount)
	}

	return s.settle(ctx, cur.ID)
}

// Settle moves the settlement's amount from payer to payee exactly once.
// A second call returns ErrAlreadyProcessed and changes nothing. Balances
// may go negative.
func (s *Service) Settle(ctx context.Context, settlementID string) (st Settlement, err error) {
	ctx, finish := s.begin(ctx, "settle", attribute.String("settlement", settlementID))
	defer func() {
		finish(&err, map[string]interface{}{
			"settlement": settlementID,
			"booking":    st.BookingID,
			"amount":     st.Amount.String(),
		})
	}()

	if settlementID == "" {
		return Settlement{}, invalid("settlement_id required")
	}
	return s.settle(ctx, settlementID)
}

func (s *Service) settle(ctx context.Context, settlementID string) (Settlement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := scanSettlement(tx.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?;`, settlementID))
	if errors.Is(err, sql.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	if err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}
	if st.Status == SettlementProcessed {
		return st, ErrAlreadyProcessed
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
UPDATE settlements SET status = ?, method = ?, processed_at_ns = ?
WHERE id = ? AND status = ?;
`, string(SettlementProcessed), MethodWallet, now.UnixNano(), st.ID, string(SettlementPending))
	if err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return st, ErrAlreadyProcessed
	}

	if err := adjustBalance(ctx, tx, st.PayerID, st.Amount.Neg()); err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}
	if err := adjustBalance(ctx, tx, st.PayeeID, st.Amount); err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}

	if err := tx.Commit(); err != nil {
		return Settlement{}, s.storeErr("settle", err)
	}

	st.Status = SettlementProcessed
	st.Method = MethodWallet
	st.ProcessedAt = now

	s.dispatch(ctx, events.Event{
		Kind:         events.KindSettled,
		BookingID:    st.BookingID,
		RequesterID:  st.PayerID,
		OwnerID:      st.PayeeID,
		SettlementID: st.ID,
		Amount:       st.Amount,
	})
	return st, nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, userID string, delta decimal.Decimal) error {
	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT wallet_balance FROM users WHERE id = ?;`, userID).Scan(&raw); err != nil {
		return fmt.Errorf("load balance of %s: %w", userID, err)
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET wallet_balance = ? WHERE id = ?;`, bal.Add(delta).String(), userID); err != nil {
		return fmt.Errorf("store balance of %s: %w", userID, err)
	}
	return nil
}

const settlementColumns = `id, booking_id, payer_id, payee_id, amount, status, method, created_at_ns, processed_at_ns`

func scanSettlement(sc rowScanner) (Settlement, error) {
	var (
		st        Settlement
		amount    string
		status    string
		created   int64
		processed sql.NullInt64
	)
	if err := sc.Scan(&st.ID, &st.BookingID, &st.PayerID, &st.PayeeID, &amount, &status, &st.Method, &created, &processed); err != nil {
		return Settlement{}, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return Settlement{}, err
	}
	st.Amount = a
	st.Status = SettlementStatus(status)
	st.CreatedAt = time.Unix(0, created)
	if processed.Valid {
		st.ProcessedAt = time.Unix(0, processed.Int64)
	}
	return st, nil
}

// SettlementForBooking returns the settlement opened when bookingID was
// approved.
func (s *Service) SettlementForBooking(ctx context.Context, bookingID string) (Settlement, error) {
	st, err := scanSettlement(s.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE booking_id = ?;`, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return Settlement{}, ErrNotFound
	}
	if err != nil {
		return Settlement{}, s.storeErr("get_settlement", err)
	}
	return st, nil
}
