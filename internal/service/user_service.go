package service

import (
	"context"
	"strings"

	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/types"
)

// UserStore persists user accounts
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// EmailWriter mutates email address rows
type EmailWriter interface {
	Create(ctx context.Context, email *models.EmailAddress) error
	MarkVerified(ctx context.Context, email string) (*models.EmailAddress, error)
}

// UserService handles account registration and email verification. Email
// verification is the hinge of the system: legacy promotion and accessor late
// binding both key off it, via the event bus.
type UserService struct {
	users       UserStore
	emails      EmailStore
	emailWriter EmailWriter
	bus         *events.Bus
}

// NewUserService creates a new user service
func NewUserService(users UserStore, emails EmailStore, emailWriter EmailWriter, bus *events.Bus) *UserService {
	return &UserService{
		users:       users,
		emails:      emails,
		emailWriter: emailWriter,
		bus:         bus,
	}
}

// Register creates a user account with an initial, unverified email address
func (s *UserService) Register(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &types.ServiceError{Code: "INVALID_INPUT", Message: "email is required"}
	}

	user := &models.User{}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.emailWriter.Create(ctx, &models.EmailAddress{
		UserID: user.ID,
		Email:  email,
	}); err != nil {
		return nil, err
	}

	s.bus.PublishUserRegistered(ctx, events.UserRegistered{UserID: user.ID})

	return user, nil
}

// Get retrieves a user by id
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// AddEmail attaches another email address to an account
func (s *UserService) AddEmail(ctx context.Context, userID, email string) (*models.EmailAddress, error) {
	addr := &models.EmailAddress{
		UserID: userID,
		Email:  email,
	}
	if err := s.emailWriter.Create(ctx, addr); err != nil {
		return nil, err
	}
	return addr, nil
}

// ListEmails retrieves a user's email addresses
func (s *UserService) ListEmails(ctx context.Context, userID string) ([]*models.EmailAddress, error) {
	return s.emails.ListByUser(ctx, userID)
}

// VerifyEmail marks an email address verified and fires the EmailVerified
// event that drives legacy promotion and accessor binding
func (s *UserService) VerifyEmail(ctx context.Context, email string) (*models.EmailAddress, error) {
	addr, err := s.emailWriter.MarkVerified(ctx, email)
	if err != nil {
		return nil, err
	}

	s.bus.PublishEmailVerified(ctx, events.EmailVerified{
		UserID: addr.UserID,
		Email:  addr.Email,
	})

	return addr, nil
}
