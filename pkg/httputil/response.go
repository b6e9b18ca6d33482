package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
	"github.com/utafrali/authservice/pkg/pagination"
	"github.com/utafrali/authservice/pkg/validator"
)

// Response is the JSON envelope returned by every endpoint:
// {success, data?, message?, errors?, count?, errorExplanation?}.
type Response struct {
	Success          bool                   `json:"success"`
	Data             any                    `json:"data,omitempty"`
	Message          string                 `json:"message,omitempty"`
	Errors           []validator.FieldError `json:"errors,omitempty"`
	Count            *int                   `json:"count,omitempty"`
	Pagination       *pagination.Meta       `json:"pagination,omitempty"`
	ErrorExplanation any                    `json:"errorExplanation,omitempty"`
	RequestID        string                 `json:"requestId,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes a success envelope carrying data and an optional message.
func WriteSuccess(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// WriteList writes a success envelope for a page of items with their count.
func WriteList[T any](w http.ResponseWriter, items []T, page *pagination.Meta) {
	if items == nil {
		items = []T{}
	}
	count := len(items)
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: items, Count: &count, Pagination: page})
}

// WriteMessage writes an envelope that only carries a message.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Success: status < http.StatusBadRequest, Message: message})
}

// WriteError writes a failure envelope for err.
//
// AppErrors keep their status and public message. Anything else becomes a 500
// with fallbackMessage. Server errors are logged with their full detail, which
// never reaches the client. The request-scoped logger from context is
// preferred over l.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallbackMessage string, l *slog.Logger) {
	WriteErrorWith(w, r, err, fallbackMessage, l, nil)
}

// WriteErrorWith is WriteError with an optional errorExplanation attached.
func WriteErrorWith(w http.ResponseWriter, r *http.Request, err error, fallbackMessage string, l *slog.Logger, explanation any) {
	if reqLogger := logger.FromContext(r.Context()); reqLogger != slog.Default() || l == nil {
		l = reqLogger
	}

	var lister validator.Lister
	if errors.As(err, &lister) {
		WriteValidationError(w, err)
		return
	}

	status := apperrors.HTTPStatus(err)
	message := apperrors.PublicMessage(err, fallbackMessage)
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		if message == apperrors.GenericInternalMessage && fallbackMessage != "" {
			message = fallbackMessage
		}
	}
	if message == "" {
		message = apperrors.GenericInternalMessage
	}

	WriteJSON(w, status, Response{
		Success:          false,
		Message:          message,
		ErrorExplanation: explanation,
		RequestID:        logger.CorrelationIDFromContext(r.Context()),
	})
}

// WriteValidationError writes a 400 envelope listing field-level failures.
// Errors that carry no field list are reported through their message.
func WriteValidationError(w http.ResponseWriter, err error) {
	var lister validator.Lister
	if errors.As(err, &lister) {
		WriteJSON(w, http.StatusBadRequest, Response{Success: false, Errors: lister.List()})
		return
	}
	WriteJSON(w, http.StatusBadRequest, Response{Success: false, Message: err.Error()})
}

// ParseUUID validates that the given string is a valid UUID and returns it.
// If invalid, it writes notFoundMessage as a 404, since an identifier that
// cannot exist names no resource, and returns false.
func ParseUUID(w http.ResponseWriter, param, notFoundMessage string) (uuid.UUID, bool) {
	id, err := uuid.Parse(param)
	if err != nil {
		WriteMessage(w, http.StatusNotFound, notFoundMessage)
		return uuid.Nil, false
	}
	return id, true
}
