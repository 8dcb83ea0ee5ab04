package model

import (
	"context"
	"database/sql"
	"time"

	"driveshare/internal/obs"
)

// BacklogMonitor periodically counts work waiting on people: booking
// requests the owner has not answered and approved bookings not yet paid.
type BacklogMonitor struct {
	db       *sql.DB
	logger   *obs.Logger
	metrics  *obs.Metrics
	interval time.Duration

	lastBookings    int64
	lastSettlements int64
}

func NewBacklogMonitor(db *sql.DB, logger *obs.Logger, metrics *obs.Metrics, interval time.Duration) *BacklogMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BacklogMonitor{
		db:              db,
		logger:          logger,
		metrics:         metrics,
		interval:        interval,
		lastBookings:    -1,
		lastSettlements: -1,
	}
}

func (m *BacklogMonitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweepOnce(ctx)
		}
	}
}

// Backlog is one sweep's counts.
type Backlog struct {
	PendingBookings    int64
	PendingSettlements int64
}

func (m *BacklogMonitor) sweepOnce(ctx context.Context) (Backlog, error) {
	start := time.Now()
	var b Backlog

	err := m.db.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM booking_requests WHERE status = ?),
  (SELECT COUNT(*) FROM settlements WHERE status = ?);
`, string(StatusPending), string(SettlementPending)).Scan(&b.PendingBookings, &b.PendingSettlements)

	if err == nil && m.metrics != nil {
		m.metrics.PendingBookings.Set(float64(b.PendingBookings))
		m.metrics.PendingSettlements.Set(float64(b.PendingSettlements))
	}

	changed := b.PendingBookings != m.lastBookings || b.PendingSettlements != m.lastSettlements
	grew := m.lastBookings >= 0 &&
		(b.PendingBookings > m.lastBookings || b.PendingSettlements > m.lastSettlements)
	if err == nil {
		m.lastBookings, m.lastSettlements = b.PendingBookings, b.PendingSettlements
	}

	if m.logger != nil && (changed || err != nil) {
		fields := map[string]interface{}{
			"op":                  "backlog_sweep",
			"pending_bookings":    b.PendingBookings,
			"pending_settlements": b.PendingSettlements,
			"latency_ms":          time.Since(start).Milliseconds(),
		}
		switch {
		case err != nil:
			fields["error"] = err.Error()
			m.logger.Error(fields)
		case grew:
			m.logger.Warn(fields)
		default:
			m.logger.Info(fields)
		}
	}
	return b, err
}
