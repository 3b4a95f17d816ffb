package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/splax/pwnarena/internal/service/powerup"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message with a code derived from the status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": statusCode(status)})
}

// writeServiceError maps engine errors onto statuses and stable codes.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	code := powerup.Code(err)
	status, known := codeStatus[code]
	if !known {
		r.metrics.rejected("internal")
		r.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "internal"})
		return
	}
	r.metrics.rejected(code)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

var codeStatus = map[string]int{
	"invalid_kind":      http.StatusNotFound,
	"powerup_inactive":  http.StatusForbidden,
	"no_uses_left":      http.StatusConflict,
	"team_not_found":    http.StatusNotFound,
	"target_not_found":  http.StatusNotFound,
	"invalid_target":    http.StatusBadRequest,
	"target_shielded":   http.StatusConflict,
	"already_shielded":  http.StatusConflict,
	"already_active":    http.StatusConflict,
	"transient_failure": http.StatusServiceUnavailable,
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}
