package cerr

import (
	"encoding/json"
	"net/http"
	"strconv"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

// Retry header constants define the retry hint sent with throttling and
// availability failures.
const (
	RetryAfter    = "Retry-After"
	RetryAfterSec = 5
)

// ErrorResponse represents the structure of error responses sent to clients
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// retryable kinds get a Retry-After hint
func retryable(kind apierr.Kind) bool {
	switch kind {
	case apierr.KindServiceUnavailable, apierr.KindRateLimited, apierr.KindAccountLocked:
		return true
	}
	return false
}

// WriteError writes the client-safe rendering of err. Internal detail never
// reaches the body; callers log it.
func WriteError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	response := ErrorResponse{
		Success: false,
		Message: apierr.PublicMessage(err),
	}

	// tell the client to retry after some time if error is recoverable
	if retryable(kind) {
		response.RetryAfter = RetryAfterSec
		w.Header().Set(RetryAfter, strconv.Itoa(RetryAfterSec))
	}

	WriteJSON(w, apierr.Status(err), response)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}
