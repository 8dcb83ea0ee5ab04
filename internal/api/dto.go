package api

import (
	"time"

	"github.com/shopspring/decimal"

	"driveshare/internal/calendar"
	"driveshare/internal/model"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type rangeJSON struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (r rangeJSON) parse() (calendar.Range, error) {
	return calendar.ParseRange(r.StartDate, r.EndDate)
}

func toRangeJSON(r calendar.Range) rangeJSON {
	return rangeJSON{StartDate: r.Start.String(), EndDate: r.End.String()}
}

type createBookingReq struct {
	ListingID string `json:"listing_id"`
	rangeJSON
}

type createBookingResp struct {
	BookingID string `json:"booking_id"`
}

type bookingResp struct {
	ID          string `json:"id"`
	ListingID   string `json:"listing_id"`
	RequesterID string `json:"requester_id"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	CreatedMS   int64  `json:"created_ms"`
}

func toBookingResp(b model.Booking) bookingResp {
	return bookingResp{
		ID:          b.ID,
		ListingID:   b.ListingID,
		RequesterID: b.RequesterID,
		StartDate:   b.Range.Start.String(),
		EndDate:     b.Range.End.String(),
		Status:      string(b.Status),
		CreatedMS:   ms(b.CreatedAt),
	}
}

type transitionResp struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type settleReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type settlementResp struct {
	ID          string          `json:"id"`
	BookingID   string          `json:"booking_id"`
	PayerID     string          `json:"payer_id"`
	PayeeID     string          `json:"payee_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Method      string          `json:"method"`
	ProcessedMS int64           `json:"processed_ms,omitempty"`
}

func toSettlementResp(st model.Settlement) settlementResp {
	out := settlementResp{
		ID:        st.ID,
		BookingID: st.BookingID,
		PayerID:   st.PayerID,
		PayeeID:   st.PayeeID,
		Amount:    st.Amount,
		Status:    string(st.Status),
		Method:    st.Method,
	}
	if !st.ProcessedAt.IsZero() {
		out.ProcessedMS = ms(st.ProcessedAt)
	}
	return out
}

type notificationResp struct {
	ID              string `json:"id"`
	Message         string `json:"message"`
	RelatedEntityID string `json:"related_entity_id"`
	Acknowledged    bool   `json:"acknowledged"`
	CreatedMS       int64  `json:"created_ms"`
}

type notificationsResp struct {
	Notifications []notificationResp `json:"notifications"`
}

func toNotificationsResp(ns []model.Notification) notificationsResp {
	out := notificationsResp{Notifications: make([]notificationResp, 0, len(ns))}
	for _, n := range ns {
		out.Notifications = append(out.Notifications, notificationResp{
			ID:              n.ID,
			Message:         n.Message,
			RelatedEntityID: n.RelatedEntityID,
			Acknowledged:    n.Acknowledged,
			CreatedMS:       ms(n.CreatedAt),
		})
	}
	return out
}

type createUserReq struct {
	Email          string          `json:"email"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type userResp struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Balance decimal.Decimal `json:"balance"`
}

type balanceResp struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type createListingReq struct {
	Model          string          `json:"model"`
	Year           int             `json:"year"`
	Mileage        int             `json:"mileage"`
	PickupLocation string          `json:"pickup_location"`
	RentalPrice    decimal.Decimal `json:"rental_price"`
	Availability   []rangeJSON     `json:"availability"`
}

type listingResp struct {
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

func toListingResp(l model.Listing) listingResp {
	return listingResp{
		ID:              l.ID,
		OwnerID:         l.OwnerID,
		Model:           l.Model,
		Year:            l.Year,
		Mileage:         l.Mileage,
		PickupLocation:  l.PickupLocation,
		RentalPrice:     l.Price,
		Tier:            string(l.Tier),
		CalendarVersion: l.CalendarVersion,
	}
}

type ownedListingResp struct {
	listingResp
	Windows []rangeJSON `json:"windows"`
}

func toOwnedListingResp(l model.OwnedListing) ownedListingResp {
	out := ownedListingResp{listingResp: toListingResp(l.Listing), Windows: make([]rangeJSON, 0, len(l.Windows))}
	for _, win := range l.Windows {
		out.Windows = append(out.Windows, toRangeJSON(win.Range))
	}
	return out
}

type ownedListingsResp struct {
	Listings []ownedListingResp `json:"listings"`
}

type calendarResp struct {
	ListingID string      `json:"listing_id"`
	Windows   []rangeJSON `json:"windows"`
}

type searchResp struct {
	Listings []listingResp `json:"listings"`
}

type qaJSON struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type setQuestionsReq struct {
	Questions []qaJSON `json:"questions"`
}

type verifyReq struct {
	Answers []string `json:"answers"`
}

type verifyResp struct {
	Verified bool `json:"verified"`
}

type questionsResp struct {
	Questions []string `json:"questions"`
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
