package driveshareclient

import (
	"time"

	"github.com/shopspring/decimal"
)

// Range is an inclusive span of YYYY-MM-DD days.
type Range struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type User struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Balance decimal.Decimal `json:"balance"`
}

type ListingInput struct {
	Model          string          `json:"model"`
	Year           int             `json:"year"`
	Mileage        int             `json:"mileage"`
	PickupLocation string          `json:"pickup_location"`
	RentalPrice    decimal.Decimal `json:"rental_price"`
	Availability   []Range         `json:"availability"`
}

type Listing struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Model           string          `json:"model"`
	Year            int             `json:"year"`
	Mileage         int             `json:"mileage"`
	PickupLocation  string          `json:"pickup_location"`
	RentalPrice     decimal.Decimal `json:"rental_price"`
	Tier            string          `json:"tier"`
	CalendarVersion int64           `json:"calendar_version"`
}

// OwnedListing is one of the caller's listings with its free windows.
type OwnedListing struct {
	Listing
	Windows []Range `json:"windows"`
}

type Booking struct {
	ID          string `json:"id"`
	ListingID   string `json:"listing_id"`
	RequesterID string `json:"requester_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	CreatedMS   int64  `json:"created_ms"`
}

type Settlement struct {
	ID          string          `json:"id"`
	BookingID   string          `json:"booking_id"`
	PayerID     string          `json:"payer_id"`
	PayeeID     string          `json:"payee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Method      string          `json:"method"`
	ProcessedMS int64           `json:"processed_ms,omitempty"`
}

type Notification struct {
	ID              string `json:"id"`
	Message         string `json:"message"`
	RelatedEntityID string `json:"related_entity_id"`
	Acknowledged    bool   `json:"acknowledged"`
	CreatedMS       int64  `json:"created_ms"`
}

// RetryOptions bounds SettleWithRetry.
type RetryOptions struct {
	MaxRetries   int           // 0 => default 5
	MaxTotalWait time.Duration // optional global cap; 0 => no cap
	MinRetry     time.Duration // default 25ms
	MaxRetry     time.Duration // default 1s
	JitterFrac   float64       // default 0.2 (20%)
}

// WatchOptions controls the notification poller.
type WatchOptions struct {
	Interval time.Duration // default 1s
	AutoAck  bool          // acknowledge each notification once delivered
}
