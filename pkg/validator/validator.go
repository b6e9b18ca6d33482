package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so clients can match errors to inputs.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// FieldError is a single field-level failure in request order.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate validates a struct using go-playground/validator tags.
//
// A `msg` struct tag overrides the generated message for every rule on that
// field, e.g. `validate:"required,email" msg:"Please provide a valid email"`.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors, messages: customMessages(s)}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with user-friendly messages.
type ValidationError struct {
	Errors   validator.ValidationErrors
	messages map[string]string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.List() {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.List() {
		if _, seen := fields[fe.Field]; !seen {
			fields[fe.Field] = fe.Message
		}
	}
	return fields
}

// List returns the failures in the order the fields are declared.
func (e *ValidationError) List() []FieldError {
	out := make([]FieldError, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msg, ok := e.messages[fe.StructField()]
		if !ok {
			msg = msgForTag(fe)
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

// NewFieldError builds a ValidationError-compatible failure for checks that
// cannot be expressed as tags.
func NewFieldError(field, message string) *FieldErrors {
	return &FieldErrors{Items: []FieldError{{Field: field, Message: message}}}
}

// FieldErrors is a hand-built list of field failures.
type FieldErrors struct {
	Items []FieldError
}

func (e *FieldErrors) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, fe := range e.Items {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// List returns the failures.
func (e *FieldErrors) List() []FieldError {
	return e.Items
}

// Lister is implemented by every error type this package returns for
// field-level failures.
type Lister interface {
	error
	List() []FieldError
}

func customMessages(s any) map[string]string {
	t := reflect.TypeOf(s)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	msgs := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if m := f.Tag.Get("msg"); m != "" {
			msgs[f.Name] = m
		}
	}
	return msgs
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// DecodeJSON reads a single JSON document from the request body into dst.
// Unknown fields are tolerated; trailing garbage is not.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if dec.More() {
		return errors.New("decode request body: unexpected data after JSON object")
	}
	return nil
}

// DecodeAndValidate reads JSON from the request body, decodes it into dst,
// and validates it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return err
	}
	return Validate(dst)
}
