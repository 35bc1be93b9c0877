package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/models"
)

// mockProfileCreator records created profiles
type mockProfileCreator struct {
	profiles  []*models.Profile
	createErr error
}

func (m *mockProfileCreator) CreateProfile(ctx context.Context, p *models.Profile) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = fmt.Sprintf("profile-%d", len(m.profiles)+1)
	m.profiles = append(m.profiles, p)
	return nil
}

func TestProfileBootstrap_SeedsRootProfile(t *testing.T) {
	creator := &mockProfileCreator{}
	bus := events.NewBus()
	NewProfileBootstrap(creator).RegisterEventHandlers(bus)

	bus.PublishUserRegistered(context.Background(), events.UserRegistered{UserID: "user-1"})

	if len(creator.profiles) != 1 {
		t.Fatalf("Expected 1 profile, got %d", len(creator.profiles))
	}
	p := creator.profiles[0]
	if p.UserID != "user-1" {
		t.Errorf("Expected profile owned by user-1, got %s", p.UserID)
	}
	if p.Name != defaultProfileName {
		t.Errorf("Expected profile named %q, got %q", defaultProfileName, p.Name)
	}
	if p.IsPrivate {
		t.Error("Expected root profile to start public")
	}
}

func TestProfileBootstrap_CreateFailureDoesNotFailRegistration(t *testing.T) {
	users := newMockUserStore()
	emails := newMockEmailStore()
	bus := events.NewBus()

	creator := &mockProfileCreator{createErr: fmt.Errorf("db down")}
	NewProfileBootstrap(creator).RegisterEventHandlers(bus)

	svc := NewUserService(users, emails, emails, bus)

	user, err := svc.Register(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.ID == "" {
		t.Fatal("Expected user to receive an id")
	}
	if len(creator.profiles) != 0 {
		t.Errorf("Expected no profile on creator failure, got %d", len(creator.profiles))
	}
}

func TestProfileBootstrap_RegistrationCreatesProfile(t *testing.T) {
	users := newMockUserStore()
	emails := newMockEmailStore()
	bus := events.NewBus()

	creator := &mockProfileCreator{}
	NewProfileBootstrap(creator).RegisterEventHandlers(bus)

	svc := NewUserService(users, emails, emails, bus)

	user, err := svc.Register(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if len(creator.profiles) != 1 {
		t.Fatalf("Expected registration to seed 1 profile, got %d", len(creator.profiles))
	}
	if creator.profiles[0].UserID != user.ID {
		t.Errorf("Expected profile owned by %s, got %s", user.ID, creator.profiles[0].UserID)
	}
}
