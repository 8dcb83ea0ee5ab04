package model_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"driveshare/internal/calendar"
	"driveshare/internal/events"
	"driveshare/internal/model"
	"driveshare/internal/obs"
	"driveshare/internal/storage"
)

type testEnv struct {
	svc     *model.Service
	db      *storage.DB
	metrics *obs.Metrics
}

func newTestEnv(t *testing.T, extra ...events.Handler) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{
		Path:         filepath.Join(t.TempDir(), "driveshare_test.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 20,
		MaxIdleConns: 20,
	})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	metrics := obs.NewMetrics(prometheus.NewRegistry())
	handlers := append([]events.Handler{model.NewInboxWriter(db.DB, nil)}, extra...)
	d := events.NewDispatcher(nil, metrics, handlers...)

	return &testEnv{
		svc:     model.NewService(db.DB, nil, metrics, d),
		db:      db,
		metrics: metrics,
	}
}

func (e *testEnv) user(t *testing.T, email, balance string) model.User {
	t.Helper()
	u, err := e.svc.CreateUser(context.Background(), email, decimal.RequireFromString(balance))
	require.NoError(t, err)
	return u
}

func (e *testEnv) listing(t *testing.T, ownerID, price string, windows ...calendar.Range) model.Listing {
	t.Helper()
	l, err := e.svc.CreateListing(context.Background(), model.ListingInput{
		OwnerID:        ownerID,
		Model:          "Civic",
		Year:           2020,
		Mileage:        42000,
		PickupLocation: "Downtown",
		Price:          decimal.RequireFromString(price),
		Availability:   windows,
	})
	require.NoError(t, err)
	return l
}

func (e *testEnv) ranges(t *testing.T, listingID string) []calendar.Range {
	t.Helper()
	ws, err := e.svc.Calendar(context.Background(), listingID)
	require.NoError(t, err)
	var out []calendar.Range
	for _, w := range ws {
		out = append(out, w.Range)
	}
	return out
}

func (e *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := e.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func rng(t *testing.T, start, end string) calendar.Range {
	t.Helper()
	r, err := calendar.ParseRange(start, end)
	require.NoError(t, err)
	return r
}

// seed creates an owner, a renter and one listing priced at 120 with the
// given free windows.
func seed(t *testing.T, e *testEnv, windows ...calendar.Range) (owner, renter model.User, l model.Listing) {
	t.Helper()
	owner = e.user(t, "owner@example.com", "1000")
	renter = e.user(t, "renter@example.com", "500")
	l = e.listing(t, owner.ID, "120", windows...)
	return owner, renter, l
}
