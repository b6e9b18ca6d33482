package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/authservice/internal/domain"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
	"github.com/utafrali/authservice/pkg/logger"
)

// Kafka topic constants for auth domain events. The topic doubles as the
// event type of the envelope.
const (
	TopicUserRegistered         = "auth.user.registered"
	TopicPasswordResetRequested = "auth.user.password_reset_requested"
	TopicPasswordReset          = "auth.user.password_reset"
	TopicRoleAssigned           = "auth.user.role_assigned"
)

// AggregateTypeUser is the aggregate every auth event refers to.
const AggregateTypeUser = "user"

// SourceAuthService identifies events originating from this service.
const SourceAuthService = "auth-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// PasswordResetRequestedData is the payload for a user.password_reset_requested event.
type PasswordResetRequestedData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// PasswordResetData is the payload for a user.password_reset event.
type PasswordResetData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// RoleAssignedData is the payload for a user.role_assigned event.
type RoleAssignedData struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	PreviousRole string `json:"previous_role,omitempty"`
	AssignedBy   string `json:"assigned_by,omitempty"`
}

// Publisher emits auth domain events.
type Publisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishPasswordResetRequested(ctx context.Context, user *domain.User) error
	PublishPasswordReset(ctx context.Context, user *domain.User) error
	PublishRoleAssigned(ctx context.Context, user *domain.User, previousRole string) error
}

// kafkaPublisher is the part of *pkgkafka.Producer used here.
type kafkaPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  kafkaPublisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return newProducer(kafka, logger)
}

func newProducer(kafka kafkaPublisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user.ID, UserRegisteredData{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	})
}

// PublishPasswordResetRequested publishes a user.password_reset_requested event.
// The reset secret itself is never part of the payload.
func (p *Producer) PublishPasswordResetRequested(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicPasswordResetRequested, user.ID, PasswordResetRequestedData{
		UserID: user.ID,
		Email:  user.Email,
	})
}

// PublishPasswordReset publishes a user.password_reset event.
func (p *Producer) PublishPasswordReset(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicPasswordReset, user.ID, PasswordResetData{
		UserID: user.ID,
		Email:  user.Email,
	})
}

// PublishRoleAssigned publishes a user.role_assigned event. The acting admin
// is taken from the request context when present.
func (p *Producer) PublishRoleAssigned(ctx context.Context, user *domain.User, previousRole string) error {
	return p.publish(ctx, TopicRoleAssigned, user.ID, RoleAssignedData{
		UserID:       user.ID,
		Role:         user.Role,
		PreviousRole: previousRole,
		AssignedBy:   logger.UserIDFromContext(ctx),
	})
}

func (p *Producer) publish(ctx context.Context, topic, userID string, data any) error {
	event, err := pkgkafka.NewEvent(ctx, topic, userID, AggregateTypeUser, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("user_id", userID),
		slog.String("event_id", event.EventID),
	)

	return nil
}

// Noop discards events. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) PublishUserRegistered(context.Context, *domain.User) error         { return nil }
func (Noop) PublishPasswordResetRequested(context.Context, *domain.User) error { return nil }
func (Noop) PublishPasswordReset(context.Context, *domain.User) error          { return nil }
func (Noop) PublishRoleAssigned(context.Context, *domain.User, string) error   { return nil }

var (
	_ Publisher = (*Producer)(nil)
	_ Publisher = Noop{}
)
