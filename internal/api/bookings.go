package api

import (
	"errors"
	"io"
	"net/http"

	"driveshare/internal/model"
)

func (s *Server) handleBookingsRoot(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBooking(w, r, sess)
	case http.MethodGet:
		// ?listing_id= lists a listing's incoming requests for its owner;
		// without it, the caller's own requests.
		f := model.BookingFilter{RequesterID: sess.UserID}
		if listingID := r.URL.Query().Get("listing_id"); listingID != "" {
			l, err := s.svc.GetListing(r.Context(), listingID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			if l.OwnerID != sess.UserID {
				writeErr(w, http.StatusForbidden, "only the listing owner can list its requests")
				return
			}
			f = model.BookingFilter{ListingID: listingID}
		}
		bs, err := s.svc.ListBookings(r.Context(), f)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := make([]bookingResp, 0, len(bs))
		for _, b := range bs {
			out = append(out, toBookingResp(b))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": out})
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request, sess Session) {
	var req createBookingReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ListingID == "" {
		writeErr(w, http.StatusBadRequest, "listing_id required")
		return
	}
	rg, err := req.parse()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.svc.Create(r.Context(), model.CreateBookingRequest{
		ListingID:   req.ListingID,
		RequesterID: sess.UserID,
		Range:       rg,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookingResp{BookingID: id})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// GET  /v1/bookings/{id}
	// POST /v1/bookings/{id}/approve
	// POST /v1/bookings/{id}/reject
	// POST /v1/bookings/{id}/cancel
	// GET|POST /v1/bookings/{id}/settlement
	id, action, ok := splitPath(r.URL.Path, "/v1/bookings/")
	if !ok {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		s.handleGetBooking(w, r, sess, id)
	case r.Method == http.MethodGet && action == "settlement":
		s.handleGetSettlement(w, r, sess, id)
	case r.Method == http.MethodPost && action == "settlement":
		s.handleSettle(w, r, sess, id)
	case r.Method == http.MethodPost && (action == "approve" || action == "reject" || action == "cancel"):
		s.handleTransition(w, r, sess, id, action)
	case r.Method != http.MethodGet && r.Method != http.MethodPost:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeErr(w, http.StatusNotFound, "unknown action")
	}
}

// participants loads the booking and its listing owner.
func (s *Server) participants(r *http.Request, bookingID string) (model.Booking, string, error) {
	b, err := s.svc.GetBooking(r.Context(), bookingID)
	if err != nil {
		return model.Booking{}, "", err
	}
	l, err := s.svc.GetListing(r.Context(), b.ListingID)
	if err != nil {
		return model.Booking{}, "", err
	}
	return b, l.OwnerID, nil
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request, sess Session, id string) {
	b, owner, err := s.participants(r, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess.UserID != b.RequesterID && sess.UserID != owner {
		writeErr(w, http.StatusForbidden, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, toBookingResp(b))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, sess Session, id, action string) {
	b, owner, err := s.participants(r, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var status model.Status
	switch action {
	case "approve":
		if sess.UserID != owner {
			writeErr(w, http.StatusForbidden, "only the listing owner can approve")
			return
		}
		err = s.svc.Approve(r.Context(), id)
		status = model.StatusConfirmed
	case "reject":
		if sess.UserID != owner {
			writeErr(w, http.StatusForbidden, "only the listing owner can reject")
			return
		}
		err = s.svc.Reject(r.Context(), id)
		status = model.StatusRejected
	case "cancel":
		if sess.UserID != owner && sess.UserID != b.RequesterID {
			writeErr(w, http.StatusForbidden, "not a participant")
			return
		}
		err = s.svc.Cancel(r.Context(), id)
		status = model.StatusCancelled
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{BookingID: id, Status: string(status)})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, sess Session, bookingID string) {
	// The body is optional; an empty one settles the agreed amount.
	var req settleReq
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.svc.ProcessSettlement(r.Context(), model.SettleRequest{
		BookingID: bookingID,
		Amount:    req.Amount,
		PayerID:   sess.UserID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResp(st))
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request, sess Session, bookingID string) {
	st, err := s.svc.SettlementForBooking(r.Context(), bookingID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess.UserID != st.PayerID && sess.UserID != st.PayeeID {
		writeErr(w, http.StatusForbidden, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResp(st))
}
