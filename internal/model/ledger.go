package model

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"driveshare/internal/calendar"
)

var (
	tierEconomyMax  = decimal.NewFromInt(50)
	tierStandardMax = decimal.NewFromInt(100)
	tierPremiumMax  = decimal.NewFromInt(150)
)

// ClassifyTier buckets a daily rental price.
func ClassifyTier(price decimal.Decimal) (Tier, error) {
	switch {
	case price.IsNegative():
		return "", ErrInvalidPrice
	case price.LessThanOrEqual(tierEconomyMax):
		return TierEconomy, nil
	case price.LessThanOrEqual(tierStandardMax):
		return TierStandard, nil
	case price.LessThanOrEqual(tierPremiumMax):
		return TierPremium, nil
	default:
		return TierLuxury, nil
	}
}

func (s *Service) CreateUser(ctx context.Context, email string, opening decimal.Decimal) (u User, err error) {
	email = strings.TrimSpace(email)
	ctx, finish := s.begin(ctx, "create_user")
	defer func() { finish(&err, map[string]interface{}{"user": u.ID}) }()

	if email == "" {
		return User{}, invalid("email required")
	}

	now := time.Now()
	u = User{
		ID:        uuid.NewString(),
		Email:     email,
		Balance:   opening,
		CreatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, email, wallet_balance, created_at_ns) VALUES(?, ?, ?, ?);
`, u.ID, u.Email, u.Balance.String(), now.UnixNano()); err != nil {
		if isConstraint(err) {
			return User{}, invalid("email %q already registered", email)
		}
		return User{}, s.storeErr("create_user", err)
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var (
		u       User
		bal     string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, wallet_balance, created_at_ns FROM users WHERE id = ?;
`, userID).Scan(&u.ID, &u.Email, &bal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, s.storeErr("get_user", err)
	}
	if u.Balance, err = decimal.NewFromString(bal); err != nil {
		return User{}, &IntegrityError{Op: "get_user", Err: err}
	}
	u.CreatedAt = time.Unix(0, created)
	return u, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return u.Balance, nil
}

// CreateListing registers a vehicle with its initial free calendar. The
// windows are merged first so the calendar starts with no overlapping or
// touching windows.
func (s *Service) CreateListing(ctx context.Context, in ListingInput) (l Listing, err error) {
	ctx, finish := s.begin(ctx, "create_listing", attribute.String("owner", in.OwnerID))
	defer func() {
		finish(&err, map[string]interface{}{
			"owner":   in.OwnerID,
			"listing": l.ID,
			"windows": len(in.Availability),
		})
	}()

	if in.OwnerID == "" || strings.TrimSpace(in.Model) == "" {
		return Listing{}, invalid("owner_id and model required")
	}
	tier, err := ClassifyTier(in.Price)
	if err != nil {
		return Listing{}, err
	}
	for _, r := range in.Availability {
		if r.End < r.Start {
			return Listing{}, ErrInvalidRange
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Listing{}, s.storeErr("create_listing", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?;`, in.OwnerID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	if err != nil {
		return Listing{}, s.storeErr("create_listing", err)
	}

	now := time.Now()
	l = Listing{
		ID:             uuid.NewString(),
		OwnerID:        in.OwnerID,
		Model:          strings.TrimSpace(in.Model),
		Year:           in.Year,
		Mileage:        in.Mileage,
		PickupLocation: in.PickupLocation,
		Price:          in.Price,
		Tier:           tier,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO listings(id, owner_id, model, year, mileage, pickup_location, rental_price, tier, calendar_version, created_at_ns)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0, ?);
`, l.ID, l.OwnerID, l.Model, l.Year, l.Mileage, l.PickupLocation, l.Price.String(), string(l.Tier), now.UnixNano()); err != nil {
		return Listing{}, s.storeErr("create_listing", err)
	}

	for _, r := range calendar.Normalize(in.Availability) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO availability(id, listing_id, start_date, end_date) VALUES(?, ?, ?, ?);
`, uuid.NewString(), l.ID, r.Start.String(), r.End.String()); err != nil {
			return Listing{}, s.storeErr("create_listing", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Listing{}, s.storeErr("create_listing", err)
	}
	return l, nil
}

const listingColumns = `id, owner_id, model, year, mileage, pickup_location, rental_price, tier, calendar_version, created_at_ns`

func scanListing(sc rowScanner) (Listing, error) {
	var (
		l       Listing
		price   string
		tier    string
		created int64
	)
	if err := sc.Scan(&l.ID, &l.OwnerID, &l.Model, &l.Year, &l.Mileage, &l.PickupLocation, &price, &tier, &l.CalendarVersion, &created); err != nil {
		return Listing{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return Listing{}, err
	}
	l.Price = p
	l.Tier = Tier(tier)
	l.CreatedAt = time.Unix(0, created)
	return l, nil
}

func loadListing(ctx context.Context, q queryer, id string) (Listing, error) {
	l, err := scanListing(q.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	return l, err
}

func (s *Service) GetListing(ctx context.Context, listingID string) (Listing, error) {
	l, err := loadListing(ctx, s.db, listingID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Listing{}, s.storeErr("get_listing", err)
	}
	return l, err
}

// Calendar returns the listing's free windows in date order.
func (s *Service) Calendar(ctx context.Context, listingID string) ([]calendar.Window, error) {
	if _, err := s.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	ws, err := loadWindows(ctx, s.db, listingID)
	if err != nil {
		return nil, s.storeErr("calendar", err)
	}
	return ws, nil
}

// ListListings returns ownerID's listings, oldest first, each with its
// calendar.
func (s *Service) ListListings(ctx context.Context, ownerID string) ([]OwnedListing, error) {
	if ownerID == "" {
		return nil, invalid("owner_id required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+listingColumns+` FROM listings WHERE owner_id = ?
ORDER BY created_at_ns, id;
`, ownerID)
	if err != nil {
		return nil, s.storeErr("list_listings", err)
	}
	var out []OwnedListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			rows.Close()
			return nil, s.storeErr("list_listings", err)
		}
		out = append(out, OwnedListing{Listing: l})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, s.storeErr("list_listings", err)
	}
	rows.Close()

	for i := range out {
		ws, err := loadWindows(ctx, s.db, out[i].ID)
		if err != nil {
			return nil, s.storeErr("list_listings", err)
		}
		out[i].Windows = ws
	}
	return out, nil
}

// SearchAvailable lists the listings that could take a booking for r, that
// is, those with one free window covering all of it.
func (s *Service) SearchAvailable(ctx context.Context, r calendar.Range) ([]Listing, error) {
	if r.End < r.Start {
		return nil, ErrInvalidRange
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+listingColumns+`
FROM listings l
WHERE EXISTS (
  SELECT 1 FROM availability a
  WHERE a.listing_id = l.id
    AND a.start_date <= ?
    AND a.end_date >= ?
)
ORDER BY created_at_ns, id;
`, r.Start.String(), r.End.String())
	if err != nil {
		return nil, s.storeErr("search", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, s.storeErr("search", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, s.storeErr("search", err)
	}
	return out, nil
}
