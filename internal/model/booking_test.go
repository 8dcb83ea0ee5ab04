package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveshare/internal/calendar"
	"driveshare/internal/events"
	"driveshare/internal/model"
)

func TestApproveAppliesResolverCases(t *testing.T) {
	tests := []struct {
		name    string
		window  calendar.Range
		booking calendar.Range
		want    []calendar.Range
	}{
		{
			name:    "full containment empties the calendar",
			window:  rng(t, "2024-06-01", "2024-06-10"),
			booking: rng(t, "2024-06-01", "2024-06-10"),
			want:    nil,
		},
		{
			name:    "split leaves head and tail",
			window:  rng(t, "2024-06-01", "2024-06-30"),
			booking: rng(t, "2024-06-10", "2024-06-15"),
			want:    []calendar.Range{rng(t, "2024-06-01", "2024-06-09"), rng(t, "2024-06-16", "2024-06-30")},
		},
		{
			name:    "trailing overlap shrinks the end",
			window:  rng(t, "2024-06-01", "2024-06-10"),
			booking: rng(t, "2024-06-05", "2024-06-10"),
			want:    []calendar.Range{rng(t, "2024-06-01", "2024-06-04")},
		},
		{
			name:    "leading overlap shrinks the start",
			window:  rng(t, "2024-06-01", "2024-06-10"),
			booking: rng(t, "2024-06-01", "2024-06-03"),
			want:    []calendar.Range{rng(t, "2024-06-04", "2024-06-10")},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e := newTestEnv(t)
			_, renter, l := seed(t, e, tc.window)

			id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: tc.booking})
			require.NoError(t, err)
			assert.Equal(t, []calendar.Range{tc.window}, e.ranges(t, l.ID), "create must not touch the calendar")

			require.NoError(t, e.svc.Approve(ctx, id))
			assert.Equal(t, tc.want, e.ranges(t, l.ID))

			b, err := e.svc.GetBooking(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.StatusConfirmed, b.Status)

			st, err := e.svc.SettlementForBooking(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model.SettlementPending, st.Status)
			assert.Equal(t, renter.ID, st.PayerID)
			assert.Equal(t, l.OwnerID, st.PayeeID)
			assert.Equal(t, "120", st.Amount.String())

			got, err := e.svc.GetListing(ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, l.CalendarVersion+1, got.CalendarVersion)
		})
	}
}

func TestCreateRequiresSingleCoveringWindow(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	// Non-adjacent on purpose: adjacent input windows are merged at listing time.
	_, renter, l := seed(t, e,
		rng(t, "2024-06-01", "2024-06-09"),
		rng(t, "2024-06-11", "2024-06-30"),
	)

	_, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-08", "2024-06-12")})
	assert.ErrorIs(t, err, model.ErrUnavailable)

	_, err = e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-11", "2024-06-30")})
	assert.NoError(t, err)

	bookings, err := e.svc.ListBookings(ctx, model.BookingFilter{ListingID: l.ID})
	require.NoError(t, err)
	assert.Len(t, bookings, 1, "a failed create writes nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.BookingTotal.WithLabelValues("create", "unavailable")))
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	_, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID,
		Range: calendar.Range{Start: calendar.MustParseDay("2024-06-10"), End: calendar.MustParseDay("2024-06-01")}})
	assert.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = e.svc.Create(ctx, model.CreateBookingRequest{ListingID: "nope", RequesterID: renter.ID, Range: rng(t, "2024-06-01", "2024-06-02")})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: "ghost", Range: rng(t, "2024-06-01", "2024-06-02")})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.Create(ctx, model.CreateBookingRequest{RequesterID: renter.ID, Range: rng(t, "2024-06-01", "2024-06-02")})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestApproveRequiresPendingBooking(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	assert.ErrorIs(t, e.svc.Approve(ctx, "missing"), model.ErrNotFound)

	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-12")})
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(ctx, id))

	err = e.svc.Approve(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound, "a confirmed booking is no longer pending")
	assert.Len(t, e.ranges(t, l.ID), 2)
}

func TestApproveFailsWhenRangeAlreadyTaken(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	first, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-15")})
	require.NoError(t, err)
	second, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-14", "2024-06-20")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Approve(ctx, first))
	before := e.ranges(t, l.ID)

	err = e.svc.Approve(ctx, second)
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, before, e.ranges(t, l.ID))

	b, err := e.svc.GetBooking(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, b.Status)

	_, err = e.svc.SettlementForBooking(ctx, second)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRejectAfterCreateNotifiesBothParties(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	owner, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-15")})
	require.NoError(t, err)

	require.NoError(t, e.svc.Reject(ctx, id))

	_, err = e.svc.GetBooking(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, []calendar.Range{rng(t, "2024-06-01", "2024-06-30")}, e.ranges(t, l.ID))

	var rejected []model.Notification
	for _, n := range notificationsFor(t, e, id, owner.ID, renter.ID) {
		if n.Message == "Booking Request "+id+" rejected and deleted" {
			rejected = append(rejected, n)
		}
	}
	require.Len(t, rejected, 2)
	assert.ElementsMatch(t, []string{owner.ID, renter.ID}, []string{rejected[0].UserID, rejected[1].UserID})

	assert.ErrorIs(t, e.svc.Reject(ctx, id), model.ErrNotFound)
}

func TestOwnerBookingOwnCarIsNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	owner, _, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: owner.ID, Range: rng(t, "2024-06-01", "2024-06-02")})
	require.NoError(t, err)

	ns, err := e.svc.ListNotifications(ctx, owner.ID, true)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, id, ns[0].RelatedEntityID)
}

func TestCancelConfirmedKeepsCalendarAndSettlement(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-15")})
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(ctx, id))
	after := e.ranges(t, l.ID)

	require.NoError(t, e.svc.Cancel(ctx, id))

	_, err = e.svc.GetBooking(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, after, e.ranges(t, l.ID), "cancelling does not give the days back")

	st, err := e.svc.SettlementForBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementPending, st.Status)

	ns, err := e.svc.ListNotifications(ctx, renter.ID, true)
	require.NoError(t, err)
	require.NotEmpty(t, ns)
	assert.Equal(t, "Booking Request "+id+" cancelled and deleted", ns[0].Message)

	assert.ErrorIs(t, e.svc.Cancel(ctx, id), model.ErrNotFound)
}

type failingHandler struct{ calls int }

func (*failingHandler) Name() string { return "flaky" }

func (h *failingHandler) Handle(context.Context, events.Event) error {
	h.calls++
	return errors.New("inbox unavailable")
}

func TestFailingHandlerDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	h := &failingHandler{}
	e := newTestEnv(t, h)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-15")})
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(ctx, id))

	assert.Equal(t, 2, h.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.NotifyFailuresTotal.WithLabelValues("flaky")))

	b, err := e.svc.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)
}

func TestListBookingsFilters(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	owner, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))

	_, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-01", "2024-06-02")})
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: owner.ID, Range: rng(t, "2024-06-03", "2024-06-04")})
	require.NoError(t, err)

	mine, err := e.svc.ListBookings(ctx, model.BookingFilter{RequesterID: renter.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "2024-06-01..2024-06-02", mine[0].Range.String())

	all, err := e.svc.ListBookings(ctx, model.BookingFilter{ListingID: l.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = e.svc.ListBookings(ctx, model.BookingFilter{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

// notificationsFor returns every notification about relatedID held by the
// given users.
func notificationsFor(t *testing.T, e *testEnv, relatedID string, users ...string) []model.Notification {
	t.Helper()
	var out []model.Notification
	for _, u := range users {
		ns, err := e.svc.ListNotifications(context.Background(), u, false)
		require.NoError(t, err)
		for _, n := range ns {
			if n.RelatedEntityID == relatedID {
				out = append(out, n)
			}
		}
	}
	return out
}

func TestApproveRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	_, renter, l := seed(t, e, rng(t, "2024-06-01", "2024-06-30"))
	id, err := e.svc.Create(ctx, model.CreateBookingRequest{ListingID: l.ID, RequesterID: renter.ID, Range: rng(t, "2024-06-10", "2024-06-12")})
	require.NoError(t, err)

	// The settlement insert is the last write Approve makes.
	_, err = e.db.ExecContext(ctx, `
CREATE TRIGGER fail_settlement BEFORE INSERT ON settlements
BEGIN SELECT RAISE(ABORT, 'settlement insert refused'); END;
`)
	require.NoError(t, err)

	err = e.svc.Approve(ctx, id)
	require.ErrorIs(t, err, model.ErrIntegrity)
	var ie *model.IntegrityError
	require.True(t, errors.As(err, &ie))

	assert.Equal(t, []calendar.Range{rng(t, "2024-06-01", "2024-06-30")}, e.ranges(t, l.ID))
	b, err := e.svc.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, b.Status)
	_, err = e.svc.SettlementForBooking(ctx, id)
	assert.ErrorIs(t, err, model.ErrNotFound)
	after, err := e.svc.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.CalendarVersion, after.CalendarVersion)

	ns, err := e.svc.ListNotifications(ctx, renter.ID, false)
	require.NoError(t, err)
	for _, n := range ns {
		assert.NotContains(t, n.Message, "confirmed")
	}

	// Once the store accepts writes again the same booking approves.
	_, err = e.db.ExecContext(ctx, `DROP TRIGGER fail_settlement;`)
	require.NoError(t, err)
	require.NoError(t, e.svc.Approve(ctx, id))
	assert.Equal(t, []calendar.Range{rng(t, "2024-06-01", "2024-06-09"), rng(t, "2024-06-13", "2024-06-30")}, e.ranges(t, l.ID))
}
