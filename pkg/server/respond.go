package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/entrhq/pagedock/pkg/session"
)

// decode reads a JSON request body into dst, bounded by the configured
// body size limit. The returned status is only meaningful on error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) (int, error) {
	if r.Body == nil {
		return http.StatusBadRequest, fmt.Errorf("request body required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", s.maxBody)
		}
		return http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	return 0, nil
}

// respondJSON writes payload as indented JSON.
func respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// respondError writes a classified error with its mapped status.
func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	response := struct {
		Error  string `json:"error"`
		Kind   string `json:"kind,omitempty"`
		Status int    `json:"status"`
	}{
		Error:  err.Error(),
		Kind:   string(session.KindOf(err)),
		Status: status,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(response)
}

// statusFor maps an error's kind to its HTTP status. Unclassified errors
// fall through to 500.
func statusFor(err error) int {
	switch session.KindOf(err) {
	case session.KindInvalidArgument:
		return http.StatusBadRequest
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindSessionClosed, session.KindBusyTimeout:
		return http.StatusConflict
	case session.KindCapacityExceeded:
		return http.StatusTooManyRequests
	case session.KindLaunchError, session.KindActionFailed:
		return http.StatusBadGateway
	case session.KindDriverUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// parseIntDefault parses an integer query value with a default fallback.
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return def
}
