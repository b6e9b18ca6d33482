// Package feedback provides optional AI-generated password feedback and
// authentication error explanations.
package feedback

import (
	"context"
	"errors"

	"github.com/utafrali/authservice/internal/domain"
)

// ErrDisabled is returned by the Disabled advisor.
var ErrDisabled = errors.New("ai advisor disabled")

// Advisor produces optional enrichment for auth responses. Callers treat
// every error as "no enrichment".
type Advisor interface {
	PasswordFeedback(ctx context.Context, password string) (*domain.PasswordFeedback, error)
	ExplainAuthError(ctx context.Context, kind, message string) (*domain.ErrorExplanation, error)
}

// Disabled is the advisor used when no API key is configured.
type Disabled struct{}

func (Disabled) PasswordFeedback(context.Context, string) (*domain.PasswordFeedback, error) {
	return nil, ErrDisabled
}

func (Disabled) ExplainAuthError(context.Context, string, string) (*domain.ErrorExplanation, error) {
	return nil, ErrDisabled
}

var _ Advisor = Disabled{}
