package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"driveshare/internal/model"
	"driveshare/internal/obs"
	"driveshare/internal/recovery"
)

type Server struct {
	svc      *model.Service
	verifier *recovery.Verifier
	logger   *obs.Logger
	secret   []byte
	mux      *http.ServeMux
}

type Options struct {
	// JWTSecret enables bearer-token sessions. Empty trusts X-User-ID.
	JWTSecret string
	Logger    *obs.Logger
}

type contextKey string

const requestIDKey contextKey = "req_id"

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func NewServer(svc *model.Service, verifier *recovery.Verifier, opts Options) *Server {
	s := &Server{
		svc:      svc,
		verifier: verifier,
		logger:   opts.Logger,
		secret:   []byte(opts.JWTSecret),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestID(withSession(s.secret, s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Simple path parsing to avoid extra router deps.
	s.mux.HandleFunc("/v1/bookings", s.handleBookingsRoot)
	s.mux.HandleFunc("/v1/bookings/", s.handleBookings)
	s.mux.HandleFunc("/v1/notifications", s.handleNotificationList)
	s.mux.HandleFunc("/v1/notifications/", s.handleNotificationAck)
	s.mux.HandleFunc("/v1/users", s.handleUsersRoot)
	s.mux.HandleFunc("/v1/users/", s.handleUsers)
	s.mux.HandleFunc("/v1/listings", s.handleListingsRoot)
	s.mux.HandleFunc("/v1/listings/", s.handleListings)
}

// splitPath returns the id and optional action after prefix, or ok=false
// for anything deeper.
func splitPath(path, prefix string) (id, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		return parts[0], parts[1], true
	case 3:
		return parts[0], parts[1] + "/" + parts[2], true
	default:
		return "", "", false
	}
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnavailable):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound), errors.Is(err, recovery.ErrNoQuestions):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, model.ErrSecurityCheckFailed):
		return http.StatusForbidden
	case errors.Is(err, model.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrAmountMismatch), errors.Is(err, model.ErrInvalidPrice),
		errors.Is(err, recovery.ErrNoAnswers):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the stable machine-readable name clients switch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, model.ErrNotFound), errors.Is(err, recovery.ErrNoQuestions):
		return "NOT_FOUND"
	case errors.Is(err, model.ErrAlreadyProcessed):
		return "ALREADY_PROCESSED"
	case errors.Is(err, model.ErrSecurityCheckFailed):
		return "SECURITY_CHECK_FAILED"
	case errors.Is(err, model.ErrIntegrity):
		return "INTEGRITY"
	case errors.Is(err, model.ErrAmountMismatch):
		return "AMOUNT_MISMATCH"
	}
	if statusFor(err) == http.StatusBadRequest {
		return "INVALID"
	}
	return "INTERNAL"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(map[string]interface{}{
			"op":     "http",
			"path":   r.URL.Path,
			"req_id": RequestID(r.Context()),
			"error":  msg,
		})
		msg = "internal error"
	}
	writeJSON(w, status, errorResp{Error: msg, Code: errorCode(err)})
}

// --- helpers ---

func readJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	code := "INTERNAL"
	switch status {
	case http.StatusBadRequest:
		code = "INVALID"
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusNotFound:
		code = "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
	}
	writeJSON(w, status, errorResp{Error: msg, Code: code})
}
