package model

import (
	"time"

	"github.com/shopspring/decimal"

	"driveshare/internal/calendar"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

type Booking struct {
	ID          string
	ListingID   string
	RequesterID string
	Range       calendar.Range
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CreateBookingRequest struct {
	ListingID   string
	RequesterID string
	Range       calendar.Range
	Now         time.Time // injected for testability; if zero, service uses time.Now()
}

// BookingFilter selects bookings by listing, requester, or both.
type BookingFilter struct {
	ListingID   string
	RequesterID string
}

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "Pending"
	SettlementProcessed SettlementStatus = "Processed"
)

const MethodWallet = "Wallet"

type Settlement struct {
	ID          string
	BookingID   string
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	Status      SettlementStatus
	Method      string
	CreatedAt   time.Time
	ProcessedAt time.Time
}

type SettleRequest struct {
	BookingID string
	Amount    decimal.Decimal // optional; zero means "whatever was agreed at approval"
	PayerID   string
}

type User struct {
	ID        string
	Email     string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

type Tier string

const (
	TierEconomy  Tier = "economy"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierLuxury   Tier = "luxury"
)

type Listing struct {
	ID              string
	OwnerID         string
	Model           string
	Year            int
	Mileage         int
	PickupLocation  string
	Price           decimal.Decimal
	Tier            Tier
	CalendarVersion int64
	CreatedAt       time.Time
}

// OwnedListing is a listing with its current free windows.
type OwnedListing struct {
	Listing
	Windows []calendar.Window
}

type ListingInput struct {
	OwnerID        string
	Model          string
	Year           int
	Mileage        int
	PickupLocation string
	Price          decimal.Decimal
	Availability   []calendar.Range
}

type Notification struct {
	ID              string
	UserID          string
	Message         string
	RelatedEntityID string
	Acknowledged    bool
	CreatedAt       time.Time
}
