package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/validator"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// ResponseError describes a non-2xx response from a downstream HTTP API.
// It unwraps to the pkg/errors sentinel matching its status, so callers can
// use errors.Is(err, apperrors.ErrUnauthorized) and friends.
type ResponseError struct {
	Service string
	Status  int
	Code    string
	Message string
	Fields  []validator.FieldError
	Body    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
}

func (e *ResponseError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.Status == http.StatusBadRequest, e.Status == http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput
	case e.Status == http.StatusConflict:
		return apperrors.ErrConflict
	case e.Status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case e.Status == http.StatusServiceUnavailable, e.Status == http.StatusTooManyRequests:
		return apperrors.ErrServiceUnavail
	case e.Status >= 500:
		return apperrors.ErrInternal
	}
	return nil
}

// errorBody covers the envelope {success, message, errors} served by this
// module and the {error: {message, type, code}} shape used by OpenAI style APIs.
type errorBody struct {
	Message string                 `json:"message"`
	Errors  []validator.FieldError `json:"errors"`
	Error   json.RawMessage        `json:"error"`
}

type nestedError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// returns a *ResponseError. Unstructured bodies are kept verbatim in Body.
func ParseResponseError(resp *http.Response, service string) error {
	defer func() { _ = resp.Body.Close() }()

	rerr := &ResponseError{Service: service, Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		rerr.Message = "failed to read body: " + err.Error()
		return rerr
	}
	rerr.Body = strings.TrimSpace(string(raw))

	var body errorBody
	if json.Unmarshal(raw, &body) != nil {
		return rerr
	}
	rerr.Message = body.Message
	rerr.Fields = body.Errors

	if len(body.Error) > 0 {
		var nested nestedError
		var plain string
		switch {
		case json.Unmarshal(body.Error, &nested) == nil:
			if rerr.Message == "" {
				rerr.Message = nested.Message
			}
			rerr.Code = nested.Type
			if code, ok := nested.Code.(string); ok && code != "" {
				rerr.Code = code
			}
		case json.Unmarshal(body.Error, &plain) == nil && rerr.Message == "":
			rerr.Message = plain
		}
	}
	return rerr
}

// IsClientError reports whether status is a 4xx code.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
