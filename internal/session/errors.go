package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/utafrali/authservice/internal/domain"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/validator"
)

// ErrNotAuthenticated is returned by calls that need a session when none is held.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a failure envelope returned by the auth API.
type APIError struct {
	Status      int
	Message     string
	Errors      []validator.FieldError
	Explanation *domain.ErrorExplanation
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		msgs := make([]string, 0, len(e.Errors))
		for _, fe := range e.Errors {
			msgs = append(msgs, fe.Message)
		}
		return strings.Join(msgs, "; ")
	}
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// Unwrap maps the status to the matching application sentinel.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	default:
		if e.Status >= http.StatusInternalServerError {
			return apperrors.ErrInternal
		}
		return nil
	}
}

// tokenRejected reports whether the API refused a refresh token outright,
// as opposed to failing for a reason that may pass, like a rate limit.
func tokenRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized
}
