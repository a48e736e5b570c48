package cerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierr "github.com/victorgomez09/escuela/internal/auth"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

type ValidationError struct {
	Field string
	Error string
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Error)
}

// Validator is implemented by request payloads that check their own shape.
type Validator interface {
	Validate() []ValidationError
}

// DecodeAndValidate reads a JSON body into v and runs its validation. On
// failure the 400 response has already been written and the error is
// returned for the caller to stop on.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v Validator) error {
	if err := Decode(w, r, v); err != nil {
		return err
	}

	if errs := v.Validate(); len(errs) > 0 {
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.String()
		}
		err := apierr.Validation(strings.Join(parts, "; "))
		WriteError(w, err)
		return err
	}
	return nil
}

// Decode reads a JSON body into v, writing a 400 on malformed input.
func Decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(v)
	if err == nil {
		return nil
	}

	msg := "invalid request payload"
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		msg = "request body is required"
	case errors.As(err, &tooLarge):
		msg = "request body is too large"
	}
	verr := apierr.Validation(msg)
	WriteError(w, verr)
	return verr
}
