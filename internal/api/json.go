package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"trade_desk/internal/domain"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", slog.Any("error", err))
	}
}

// writeError maps err onto a status code and the client-visible reason.
// Unclassified errors never leak their text and are counted.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	reason := domain.Reason(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", slog.Any("error", err))
		s.metrics.RecordError()
		msg = "internal error"
	}
	writeJSON(w, code, ErrorResponse{Error: msg, Reason: reason})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrBanned),
		errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrNoPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUsernameTaken):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return nil
}
