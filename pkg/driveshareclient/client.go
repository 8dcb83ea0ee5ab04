// Package driveshareclient is a Go client for the DriveShare HTTP API.
package driveshareclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	baseURL string
	http    *http.Client

	token  string
	userID string

	mu  *sync.Mutex
	rng *rand.Rand
}

func New(baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		mu:      &sync.Mutex{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithToken returns a client that authenticates with a bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	cp.userID = ""
	return &cp
}

// AsUser returns a client that identifies itself with X-User-ID. Servers
// accept this only when they run without a JWT secret.
func (c *Client) AsUser(userID string) *Client {
	cp := *c
	cp.userID = userID
	cp.token = ""
	return &cp
}

// ---- Wire format ----

type createBookingReq struct {
	ListingID string `json:"listing_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type createBookingResp struct {
	BookingID string `json:"booking_id"`
}

type transitionResp struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type settleReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ---- Operations ----

func (c *Client) CreateUser(ctx context.Context, email string, opening decimal.Decimal) (User, error) {
	var out User
	err := c.doJSON(ctx, http.MethodPost, "/v1/users", map[string]interface{}{
		"email":           email,
		"opening_balance": opening,
	}, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var out struct {
		Balance decimal.Decimal `json:"balance"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/balance", nil, &out)
	return out.Balance, err
}

func (c *Client) CreateListing(ctx context.Context, in ListingInput) (Listing, error) {
	var out Listing
	err := c.doJSON(ctx, http.MethodPost, "/v1/listings", in, &out)
	return out, err
}

func (c *Client) Calendar(ctx context.Context, listingID string) ([]Range, error) {
	var out struct {
		Windows []Range `json:"windows"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/listings/"+url.PathEscape(listingID)+"/calendar", nil, &out)
	return out.Windows, err
}

// MyListings returns the caller's listings, each with its calendar.
func (c *Client) MyListings(ctx context.Context) ([]OwnedListing, error) {
	var out struct {
		Listings []OwnedListing `json:"listings"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/listings?owner=me", nil, &out)
	return out.Listings, err
}

func (c *Client) Search(ctx context.Context, r Range) ([]Listing, error) {
	var out struct {
		Listings []Listing `json:"listings"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/listings/search", r, &out)
	return out.Listings, err
}

// RequestBooking asks for listingID over r and returns the booking id.
func (c *Client) RequestBooking(ctx context.Context, listingID string, r Range) (string, error) {
	var out createBookingResp
	err := c.doJSON(ctx, http.MethodPost, "/v1/bookings", createBookingReq{
		ListingID: listingID,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}, &out)
	return out.BookingID, err
}

func (c *Client) Booking(ctx context.Context, bookingID string) (Booking, error) {
	var out Booking
	err := c.doJSON(ctx, http.MethodGet, "/v1/bookings/"+url.PathEscape(bookingID), nil, &out)
	return out, err
}

// MyBookings returns the requests the caller has made.
func (c *Client) MyBookings(ctx context.Context) ([]Booking, error) {
	return c.listBookings(ctx, "/v1/bookings")
}

// IncomingRequests returns the bookings on listingID. Only its owner may
// ask.
func (c *Client) IncomingRequests(ctx context.Context, listingID string) ([]Booking, error) {
	return c.listBookings(ctx, "/v1/bookings?listing_id="+url.QueryEscape(listingID))
}

func (c *Client) listBookings(ctx context.Context, path string) ([]Booking, error) {
	var out struct {
		Bookings []Booking `json:"bookings"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Bookings, err
}

func (c *Client) Approve(ctx context.Context, bookingID string) error {
	return c.transition(ctx, bookingID, "approve")
}

func (c *Client) Reject(ctx context.Context, bookingID string) error {
	return c.transition(ctx, bookingID, "reject")
}

func (c *Client) Cancel(ctx context.Context, bookingID string) error {
	return c.transition(ctx, bookingID, "cancel")
}

func (c *Client) transition(ctx context.Context, bookingID, action string) error {
	var out transitionResp
	return c.doJSON(ctx, http.MethodPost, "/v1/bookings/"+url.PathEscape(bookingID)+"/"+action, nil, &out)
}

// Settle pays for a confirmed booking. A zero amount pays whatever was
// agreed at approval.
func (c *Client) Settle(ctx context.Context, bookingID string, amount decimal.Decimal) (Settlement, error) {
	var out Settlement
	err := c.doJSON(ctx, http.MethodPost, "/v1/bookings/"+url.PathEscape(bookingID)+"/settlement", settleReq{Amount: amount}, &out)
	return out, err
}

func (c *Client) Settlement(ctx context.Context, bookingID string) (Settlement, error) {
	var out Settlement
	err := c.doJSON(ctx, http.MethodGet, "/v1/bookings/"+url.PathEscape(bookingID)+"/settlement", nil, &out)
	return out, err
}

func (c *Client) Notifications(ctx context.Context, unacknowledgedOnly bool) ([]Notification, error) {
	path := "/v1/notifications"
	if unacknowledgedOnly {
		path += "?unacknowledged=true"
	}
	var out struct {
		Notifications []Notification `json:"notifications"`
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out.Notifications, err
}

func (c *Client) Acknowledge(ctx context.Context, notificationID string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/notifications/"+url.PathEscape(notificationID)+"/ack", nil, nil)
}

// doJSON sends req as JSON (nil sends no body) and decodes a 2xx answer
// into resp. Any other status becomes an *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, req any, resp any) error {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.userID != "" {
		httpReq.Header.Set("X-User-ID", c.userID)
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: rsp.StatusCode}
		var e errorResp
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if resp != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// ---- Retry wrapper ----

// SettleWithRetry retries Settle on transport errors, integrity errors and
// 5xx answers. Settlement is idempotent on the server, so a retry that
// finds the settlement already processed returns it as a success.
func (c *Client) SettleWithRetry(ctx context.Context, bookingID string, amount decimal.Decimal, opt RetryOptions) (Settlement, error) {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 5
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 25 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 1 * time.Second
	}
	if opt.JitterFrac < 0 {
		opt.JitterFrac = 0
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		if opt.MaxTotalWait > 0 && time.Since(start) > opt.MaxTotalWait {
			break
		}

		st, err := c.Settle(ctx, bookingID, amount)
		if err == nil {
			return st, nil
		}
		if attempt > 0 && errors.Is(err, ErrAlreadyProcessed) {
			return c.Settlement(ctx, bookingID)
		}
		if !retryable(err) {
			return Settlement{}, err
		}
		lastErr = err

		sleep := time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		sleep = c.addJitter(sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Settlement{}, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return Settlement{}, lastErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// transport error
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return errors.Is(err, ErrIntegrity) || apiErr.Status >= 500
}

func (c *Client) addJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	c.mu.Lock()
	f := c.rng.Float64()
	c.mu.Unlock()
	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (f*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
