package api

import (
	"net/http"

	"driveshare/internal/calendar"
	"driveshare/internal/model"
	"driveshare/internal/recovery"
)

func (s *Server) handleNotificationList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	unacked := r.URL.Query().Get("unacknowledged") == "true"
	ns, err := s.svc.ListNotifications(r.Context(), sess.UserID, unacked)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationsResp(ns))
}

func (s *Server) handleNotificationAck(w http.ResponseWriter, r *http.Request) {
	// POST /v1/notifications/{id}/ack
	id, action, ok := splitPath(r.URL.Path, "/v1/notifications/")
	if !ok || action != "ack" {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := s.svc.AcknowledgeNotification(r.Context(), sess.UserID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "acknowledged": true})
}

func (s *Server) handleUsersRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createUserReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.svc.CreateUser(r.Context(), req.Email, req.OpeningBalance)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResp{ID: u.ID, Email: u.Email, Balance: u.Balance})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// GET  /v1/users/{id}/balance
	// GET  /v1/users/{id}/recovery/questions
	// PUT  /v1/users/{id}/recovery/questions
	// POST /v1/users/{id}/recovery/verify
	userID, action, ok := splitPath(r.URL.Path, "/v1/users/")
	if !ok {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "balance":
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		if sess.UserID != userID {
			writeErr(w, http.StatusForbidden, "balance is private")
			return
		}
		bal, err := s.svc.Balance(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, balanceResp{UserID: userID, Balance: bal})

	case r.Method == http.MethodPut && action == "recovery/questions":
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		if sess.UserID != userID {
			writeErr(w, http.StatusForbidden, "cannot change another user's questions")
			return
		}
		var req setQuestionsReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		qas := make([]recovery.QA, 0, len(req.Questions))
		for _, q := range req.Questions {
			qas = append(qas, recovery.QA{Question: q.Question, Answer: q.Answer})
		}
		if err := s.verifier.SetQuestions(r.Context(), userID, qas); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": userID, "questions": len(qas)})

	// Asked before sign-in, so no session.
	case r.Method == http.MethodGet && action == "recovery/questions":
		qs, err := s.verifier.Questions(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := questionsResp{Questions: make([]string, 0, len(qs))}
		for _, q := range qs {
			out.Questions = append(out.Questions, q.Text)
		}
		writeJSON(w, http.StatusOK, out)

	case r.Method == http.MethodPost && action == "recovery/verify":
		var req verifyReq
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		ok, err := s.verifier.Verify(r.Context(), userID, req.Answers)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, verifyResp{Verified: ok})

	default:
		writeErr(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) handleListingsRoot(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireSession(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleCreateListing(w, r, sess)
	case http.MethodGet:
		s.handleOwnedListings(w, r, sess)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// GET /v1/listings?owner=me
func (s *Server) handleOwnedListings(w http.ResponseWriter, r *http.Request, sess Session) {
	owner := r.URL.Query().Get("owner")
	if owner == "me" {
		owner = sess.UserID
	}
	if owner == "" {
		writeErr(w, http.StatusBadRequest, "owner required")
		return
	}
	if owner != sess.UserID {
		writeErr(w, http.StatusForbidden, "cannot list another user's cars")
		return
	}
	ls, err := s.svc.ListListings(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := ownedListingsResp{Listings: make([]ownedListingResp, 0, len(ls))}
	for _, l := range ls {
		out.Listings = append(out.Listings, toOwnedListingResp(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request, sess Session) {
	var req createListingReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	windows := make([]calendar.Range, 0, len(req.Availability))
	for _, a := range req.Availability {
		rg, err := a.parse()
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		windows = append(windows, rg)
	}

	l, err := s.svc.CreateListing(r.Context(), model.ListingInput{
		OwnerID:        sess.UserID,
		Model:          req.Model,
		Year:           req.Year,
		Mileage:        req.Mileage,
		PickupLocation: req.PickupLocation,
		Price:          req.RentalPrice,
		Availability:   windows,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResp(l))
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	// Expected:
	// GET  /v1/listings/{id}
	// GET  /v1/listings/{id}/calendar
	// POST /v1/listings/search
	id, action, ok := splitPath(r.URL.Path, "/v1/listings/")
	if !ok {
		writeErr(w, http.StatusNotFound, "invalid path")
		return
	}

	switch {
	case r.Method == http.MethodPost && id == "search" && action == "":
		var req rangeJSON
		if err := readJSON(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		rg, err := req.parse()
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		ls, err := s.svc.SearchAvailable(r.Context(), rg)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := searchResp{Listings: make([]listingResp, 0, len(ls))}
		for _, l := range ls {
			out.Listings = append(out.Listings, toListingResp(l))
		}
		writeJSON(w, http.StatusOK, out)

	case r.Method == http.MethodGet && action == "":
		l, err := s.svc.GetListing(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toListingResp(l))

	case r.Method == http.MethodGet && action == "calendar":
		ws, err := s.svc.Calendar(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out := calendarResp{ListingID: id, Windows: make([]rangeJSON, 0, len(ws))}
		for _, win := range ws {
			out.Windows = append(out.Windows, toRangeJSON(win.Range))
		}
		writeJSON(w, http.StatusOK, out)

	default:
		writeErr(w, http.StatusNotFound, "unknown action")
	}
}
