package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"driveshare/internal/events"
	"driveshare/internal/model"
	"driveshare/internal/recovery"
	"driveshare/internal/storage"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	d := events.NewDispatcher(nil, nil, model.NewInboxWriter(db.DB, nil))
	svc := model.NewService(db.DB, nil, nil, d)
	srv := httptest.NewServer(NewServer(svc, recovery.NewVerifier(db.DB, nil, bcrypt.MinCost), opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

type call struct {
	t    *testing.T
	base string
	auth func(*http.Request)
}

func (c call) do(method, path, user string, body interface{}, out interface{}) int {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if c.auth != nil {
		c.auth(req)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, Options{})
	c := call{t: t, base: srv.URL}

	var owner, renter userResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]interface{}{"email": "o@example.com", "opening_balance": "1000"}, &owner))
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]interface{}{"email": "r@example.com", "opening_balance": "500"}, &renter))

	var dup errorResp
	assert.Equal(t, http.StatusBadRequest, c.do("POST", "/v1/users", "", map[string]interface{}{"email": "o@example.com"}, &dup))
	assert.Equal(t, "INVALID", dup.Code)

	var listing listingResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/listings", owner.ID, map[string]interface{}{
		"model":           "Civic",
		"year":            2021,
		"mileage":         12000,
		"pickup_location": "Downtown",
		"rental_price":    "120",
		"availability":    []map[string]string{{"start_date": "2024-06-01", "end_date": "2024-06-30"}},
	}, &listing))
	assert.Equal(t, "premium", listing.Tier)

	var found searchResp
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/listings/search", "", map[string]string{"start_date": "2024-06-10", "end_date": "2024-06-15"}, &found))
	require.Len(t, found.Listings, 1)

	var created createBookingResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/bookings", renter.ID, map[string]string{
		"listing_id": listing.ID, "start_date": "2024-06-10", "end_date": "2024-06-15",
	}, &created))

	var e errorResp
	assert.Equal(t, http.StatusConflict, c.do("POST", "/v1/bookings", renter.ID, map[string]string{
		"listing_id": listing.ID, "start_date": "2024-06-25", "end_date": "2024-07-02",
	}, &e))
	assert.Equal(t, "UNAVAILABLE", e.Code)

	assert.Equal(t, http.StatusUnauthorized, c.do("POST", "/v1/bookings/"+created.BookingID+"/approve", "", nil, nil))
	assert.Equal(t, http.StatusForbidden, c.do("POST", "/v1/bookings/"+created.BookingID+"/approve", renter.ID, nil, nil))

	var tr transitionResp
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/bookings/"+created.BookingID+"/approve", owner.ID, nil, &tr))
	assert.Equal(t, "Confirmed", tr.Status)

	var cal calendarResp
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/listings/"+listing.ID+"/calendar", "", nil, &cal))
	assert.Equal(t, []rangeJSON{
		{StartDate: "2024-06-01", EndDate: "2024-06-09"},
		{StartDate: "2024-06-16", EndDate: "2024-06-30"},
	}, cal.Windows)

	assert.Equal(t, http.StatusForbidden, c.do("POST", "/v1/bookings/"+created.BookingID+"/settlement", owner.ID, nil, &e))
	assert.Equal(t, "SECURITY_CHECK_FAILED", e.Code)

	var st settlementResp
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/bookings/"+created.BookingID+"/settlement", renter.ID, nil, &st))
	assert.Equal(t, "Processed", st.Status)
	assert.Equal(t, "120", st.Amount.String())

	assert.Equal(t, http.StatusConflict, c.do("POST", "/v1/bookings/"+created.BookingID+"/settlement", renter.ID, nil, &e))
	assert.Equal(t, "ALREADY_PROCESSED", e.Code)

	var bal balanceResp
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/users/"+renter.ID+"/balance", renter.ID, nil, &bal))
	assert.Equal(t, "380", bal.Balance.String())
	assert.Equal(t, http.StatusForbidden, c.do("GET", "/v1/users/"+renter.ID+"/balance", owner.ID, nil, nil))

	var inbox notificationsResp
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/notifications?unacknowledged=true", owner.ID, nil, &inbox))
	require.Len(t, inbox.Notifications, 3, "created, confirmed and settled")
	first := inbox.Notifications[0].ID
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/notifications/"+first+"/ack", owner.ID, nil, nil))
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/notifications?unacknowledged=true", owner.ID, nil, &inbox))
	assert.Len(t, inbox.Notifications, 2)
	assert.Equal(t, http.StatusNotFound, c.do("POST", "/v1/notifications/"+first+"/ack", renter.ID, nil, nil))

	require.Equal(t, http.StatusOK, c.do("POST", "/v1/bookings/"+created.BookingID+"/cancel", renter.ID, nil, &tr))
	assert.Equal(t, "Cancelled", tr.Status)
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/v1/bookings/"+created.BookingID, renter.ID, nil, &e))
	assert.Equal(t, "NOT_FOUND", e.Code)
}

func TestBadRequestsAreRejected(t *testing.T) {
	srv := newTestServer(t, Options{})
	c := call{t: t, base: srv.URL}

	var u userResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]string{"email": "a@example.com"}, &u))

	assert.Equal(t, http.StatusBadRequest, c.do("POST", "/v1/bookings", u.ID, map[string]string{"listing_id": "x", "start_date": "2024-06-10", "end_date": "2024-06-01"}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do("POST", "/v1/bookings", u.ID, map[string]string{"listing_id": "x", "bogus": "1"}, nil))
	assert.Equal(t, http.StatusNotFound, c.do("POST", "/v1/bookings", u.ID, map[string]string{"listing_id": "x", "start_date": "2024-06-01", "end_date": "2024-06-02"}, nil))
	assert.Equal(t, http.StatusBadRequest, c.do("POST", "/v1/listings", u.ID, map[string]interface{}{"model": "T", "rental_price": "-1"}, nil))
	assert.Equal(t, http.StatusNotFound, c.do("POST", "/v1/bookings/a/b/c/d", u.ID, nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, c.do("DELETE", "/v1/users", "", nil, nil))
}

func TestRecoveryOverHTTP(t *testing.T) {
	srv := newTestServer(t, Options{})
	c := call{t: t, base: srv.URL}

	var u userResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]string{"email": "a@example.com"}, &u))

	assert.Equal(t, http.StatusNotFound, c.do("POST", "/v1/users/"+u.ID+"/recovery/verify", "", verifyReq{Answers: []string{"x"}}, nil))

	req := setQuestionsReq{Questions: []qaJSON{{Question: "Pet?", Answer: "Rex"}, {Question: "City?", Answer: "Oslo"}}}
	assert.Equal(t, http.StatusForbidden, c.do("PUT", "/v1/users/"+u.ID+"/recovery/questions", "someone-else", req, nil))
	require.Equal(t, http.StatusOK, c.do("PUT", "/v1/users/"+u.ID+"/recovery/questions", u.ID, req, nil))

	var qs questionsResp
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/users/"+u.ID+"/recovery/questions", "", nil, &qs))
	assert.Equal(t, []string{"Pet?", "City?"}, qs.Questions)

	var v verifyResp
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/users/"+u.ID+"/recovery/verify", "", verifyReq{Answers: []string{"rex", "oslo"}}, &v))
	assert.True(t, v.Verified)
	require.Equal(t, http.StatusOK, c.do("POST", "/v1/users/"+u.ID+"/recovery/verify", "", verifyReq{Answers: []string{"rex", "rome"}}, &v))
	assert.False(t, v.Verified)
}

func TestJWTSessions(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, Options{JWTSecret: secret})

	var u userResp
	require.Equal(t, http.StatusCreated, call{t: t, base: srv.URL}.do("POST", "/v1/users", "", map[string]string{"email": "a@example.com", "opening_balance": "7.5"}, &u))

	bearer := func(tok string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}

	tok, err := IssueToken([]byte(secret), u.ID, time.Minute)
	require.NoError(t, err)
	var bal balanceResp
	assert.Equal(t, http.StatusOK, call{t: t, base: srv.URL, auth: bearer(tok)}.do("GET", "/v1/users/"+u.ID+"/balance", "", nil, &bal))
	assert.Equal(t, "7.5", bal.Balance.String())

	// X-User-ID is ignored once a secret is configured.
	assert.Equal(t, http.StatusUnauthorized, call{t: t, base: srv.URL}.do("GET", "/v1/users/"+u.ID+"/balance", u.ID, nil, nil))

	forged, err := IssueToken([]byte("other-secret"), u.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call{t: t, base: srv.URL, auth: bearer(forged)}.do("GET", "/v1/users/"+u.ID+"/balance", "", nil, nil))

	expired, err := IssueToken([]byte(secret), u.ID, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call{t: t, base: srv.URL, auth: bearer(expired)}.do("GET", "/v1/users/"+u.ID+"/balance", "", nil, nil))
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, Options{})
	req, err := http.NewRequest("GET", srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestOwnerListsCarsAndIncomingRequests(t *testing.T) {
	srv := newTestServer(t, Options{})
	c := call{t: t, base: srv.URL}

	var owner, renter userResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]interface{}{"email": "o@example.com"}, &owner))
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/users", "", map[string]interface{}{"email": "r@example.com", "opening_balance": "500"}, &renter))

	var civic, golf listingResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/listings", owner.ID, map[string]interface{}{
		"model": "Civic", "rental_price": "40",
		"availability": []map[string]string{{"start_date": "2024-06-01", "end_date": "2024-06-30"}},
	}, &civic))
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/listings", owner.ID, map[string]interface{}{
		"model": "Golf", "rental_price": "90",
		"availability": []map[string]string{{"start_date": "2024-07-01", "end_date": "2024-07-10"}},
	}, &golf))

	var created createBookingResp
	require.Equal(t, http.StatusCreated, c.do("POST", "/v1/bookings", renter.ID, map[string]string{
		"listing_id": civic.ID, "start_date": "2024-06-10", "end_date": "2024-06-12",
	}, &created))

	var incoming struct {
		Bookings []bookingResp `json:"bookings"`
	}
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/bookings?listing_id="+civic.ID, owner.ID, nil, &incoming))
	require.Len(t, incoming.Bookings, 1)
	assert.Equal(t, created.BookingID, incoming.Bookings[0].ID)
	assert.Equal(t, renter.ID, incoming.Bookings[0].RequesterID)
	assert.Equal(t, "Pending", incoming.Bookings[0].Status)

	assert.Equal(t, http.StatusForbidden, c.do("GET", "/v1/bookings?listing_id="+civic.ID, renter.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, c.do("GET", "/v1/bookings?listing_id=missing", owner.ID, nil, nil))

	// Without a listing the caller sees their own requests.
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/bookings", owner.ID, nil, &incoming))
	assert.Empty(t, incoming.Bookings)
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/bookings", renter.ID, nil, &incoming))
	assert.Len(t, incoming.Bookings, 1)

	require.Equal(t, http.StatusOK, c.do("POST", "/v1/bookings/"+created.BookingID+"/approve", owner.ID, nil, nil))

	var mine ownedListingsResp
	require.Equal(t, http.StatusOK, c.do("GET", "/v1/listings?owner=me", owner.ID, nil, &mine))
	require.Len(t, mine.Listings, 2)
	assert.Equal(t, civic.ID, mine.Listings[0].ID)
	assert.Equal(t, "economy", mine.Listings[0].Tier)
	assert.Equal(t, []rangeJSON{
		{StartDate: "2024-06-01", EndDate: "2024-06-09"},
		{StartDate: "2024-06-13", EndDate: "2024-06-30"},
	}, mine.Listings[0].Windows)
	assert.Equal(t, golf.ID, mine.Listings[1].ID)
	assert.Equal(t, []rangeJSON{{StartDate: "2024-07-01", EndDate: "2024-07-10"}}, mine.Listings[1].Windows)

	require.Equal(t, http.StatusOK, c.do("GET", "/v1/listings?owner=me", renter.ID, nil, &mine))
	assert.Empty(t, mine.Listings)
	assert.Equal(t, http.StatusForbidden, c.do("GET", "/v1/listings?owner="+owner.ID, renter.ID, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, c.do("GET", "/v1/listings?owner=me", "", nil, nil))
}
