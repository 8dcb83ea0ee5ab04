package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"driveshare/internal/events"
	"driveshare/internal/obs"
)

// InboxWriter stores one notification per interested participant. Each row
// is written in its own transaction so one bad recipient does not cost the
// others theirs.
type InboxWriter struct {
	db     *sql.DB
	logger *obs.Logger
}

func NewInboxWriter(db *sql.DB, logger *obs.Logger) *InboxWriter {
	return &InboxWriter{db: db, logger: logger}
}

func (*InboxWriter) Name() string { return "inbox" }

func (w *InboxWriter) Handle(ctx context.Context, ev events.Event) error {
	var errs []error
	for _, userID := range ev.Recipients() {
		if err := w.insert(ctx, userID, ev); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *InboxWriter) insert(ctx context.Context, userID string, ev events.Event) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO notifications(id, user_id, message, related_entity_id, acknowledged, created_at_ns)
VALUES(?, ?, ?, ?, 0, ?);
`, uuid.NewString(), userID, ev.Message(), ev.RelatedID(), at.UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

// ListNotifications returns a user's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string, unacknowledgedOnly bool) ([]Notification, error) {
	if userID == "" {
		return nil, invalid("user_id required")
	}
	q := `
SELECT id, user_id, message, related_entity_id, acknowledged, created_at_ns
FROM notifications WHERE user_id = ?`
	if unacknowledgedOnly {
		q += ` AND acknowledged = 0`
	}
	q += ` ORDER BY created_at_ns DESC, id;`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, s.storeErr("list_notifications", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n       Notification
			ack     int
			created int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.RelatedEntityID, &ack, &created); err != nil {
			return nil, s.storeErr("list_notifications", err)
		}
		n.Acknowledged = ack != 0
		n.CreatedAt = time.Unix(0, created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("list_notifications", err)
	}
	return out, nil
}

// AcknowledgeNotification marks one of userID's notifications as read.
// Acknowledging twice is not an error.
func (s *Service) AcknowledgeNotification(ctx context.Context, userID, notificationID string) error {
	if userID == "" || notificationID == "" {
		return invalid("user_id and notification_id required")
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE notifications SET acknowledged = 1 WHERE id = ? AND user_id = ?;
`, notificationID, userID)
	if err != nil {
		return s.storeErr("ack_notification", err)
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrNotFound
	}
	return nil
}
