package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures so the HTTP boundary can map them to a status code
// without inspecting error strings.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthenticationRequired
	KindExpiredToken
	KindInvalidToken
	KindStalePasswordToken
	KindAccountLocked
	KindForbidden
	KindInvalidCSRF
	KindServiceUnavailable
	KindCorruptCredential
	KindNotFound
	KindConflict
	KindRateLimited
)

var kindNames = map[Kind]string{
	KindInternal:               "internal",
	KindValidation:             "validation",
	KindAuthenticationRequired: "authentication required",
	KindExpiredToken:           "expired token",
	KindInvalidToken:           "invalid token",
	KindStalePasswordToken:     "stale password token",
	KindAccountLocked:          "account locked",
	KindForbidden:              "forbidden",
	KindInvalidCSRF:            "invalid csrf token",
	KindServiceUnavailable:     "service unavailable",
	KindCorruptCredential:      "corrupt credential",
	KindNotFound:               "not found",
	KindConflict:               "conflict",
	KindRateLimited:            "rate limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the tagged error used across the auth core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match on kind, so errors.Is(err, ErrExpiredToken) works for
// any *Error of the same kind regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrValidation is returned when request input fails validation.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrAuthenticationRequired is returned when no usable credential was presented or it resolves to no active account.
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired}
	// ErrExpiredToken is returned when a token is past its expiry instant.
	ErrExpiredToken = &Error{Kind: KindExpiredToken}
	// ErrInvalidToken is returned for malformed tokens, bad signatures and unexpected algorithms.
	ErrInvalidToken = &Error{Kind: KindInvalidToken}
	// ErrStalePasswordToken is returned when the password changed after the token was issued.
	ErrStalePasswordToken = &Error{Kind: KindStalePasswordToken}
	// ErrAccountLocked is returned while an account is inside its lockout window.
	ErrAccountLocked = &Error{Kind: KindAccountLocked}
	// ErrForbidden is returned when the caller's role or ownership does not allow the operation.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrInvalidCSRF is returned when a cookie-authenticated mutation lacks a matching CSRF token.
	ErrInvalidCSRF = &Error{Kind: KindInvalidCSRF}
	// ErrServiceUnavailable is returned when the store or the hashing pool cannot answer in time.
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	// ErrCorruptCredential is returned when a stored digest cannot be parsed.
	ErrCorruptCredential = &Error{Kind: KindCorruptCredential}
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrConflict is returned on unique violations and lost conditional updates.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrRateLimited is returned when a client exceeded its request budget.
	ErrRateLimited = &Error{Kind: KindRateLimited}
	// ErrInvalidCredentials is returned on unknown email or wrong password. It carries
	// the authentication-required kind so both cases are indistinguishable to clients.
	ErrInvalidCredentials = &Error{Kind: KindAuthenticationRequired, Msg: "invalid credentials"}
)

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation builds a validation error carrying a client-safe message.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// KindOf returns the kind of the outermost *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Status maps an error to its HTTP status code.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthenticationRequired, KindExpiredToken, KindInvalidToken,
		KindStalePasswordToken, KindCorruptCredential:
		return http.StatusUnauthorized
	case KindAccountLocked, KindRateLimited:
		return http.StatusTooManyRequests
	case KindForbidden, KindInvalidCSRF:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that is safe to show a client. Token and
// credential failures collapse into one generic message; validation errors keep
// their own text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindValidation && e.Msg != "" {
		return e.Msg
	}

	switch KindOf(err) {
	case KindValidation:
		return "Invalid request"
	case KindAuthenticationRequired, KindExpiredToken, KindInvalidToken,
		KindStalePasswordToken, KindCorruptCredential:
		if e != nil && e.Msg == ErrInvalidCredentials.Msg {
			return "Invalid email or password"
		}
		return "Not authorized, please log in again"
	case KindAccountLocked:
		return "Too many failed attempts, try again later"
	case KindRateLimited:
		return "Too many requests, try again later"
	case KindForbidden:
		return "You do not have permission to perform this action"
	case KindInvalidCSRF:
		return "Invalid CSRF token"
	case KindNotFound:
		return "Resource not found"
	case KindConflict:
		return "Resource already exists or was modified concurrently"
	case KindServiceUnavailable:
		return "Service temporarily unavailable"
	default:
		return "Internal server error"
	}
}
