package service

import (
	"context"
	"testing"

	"github.com/know-me-server/internal/events"
)

func TestUserService_Register(t *testing.T) {
	users := newMockUserStore()
	emails := newMockEmailStore()
	bus := events.NewBus()

	var registered []string
	bus.OnUserRegistered(func(ctx context.Context, event events.UserRegistered) {
		registered = append(registered, event.UserID)
	})

	svc := NewUserService(users, emails, emails, bus)

	user, err := svc.Register(context.Background(), "  New@Example.COM ")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.ID == "" {
		t.Fatal("Expected user to receive an id")
	}

	addrs, err := svc.ListEmails(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ListEmails failed: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(addrs))
	}
	if addrs[0].Email != "new@example.com" {
		t.Errorf("Expected normalized email, got %s", addrs[0].Email)
	}
	if addrs[0].IsVerified {
		t.Error("Expected initial email to start unverified")
	}

	if len(registered) != 1 || registered[0] != user.ID {
		t.Errorf("Expected UserRegistered event for %s, got %v", user.ID, registered)
	}
}

func TestUserService_RegisterRequiresEmail(t *testing.T) {
	svc := NewUserService(newMockUserStore(), newMockEmailStore(), newMockEmailStore(), events.NewBus())

	if _, err := svc.Register(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty email")
	}
}

func TestUserService_VerifyEmailFiresEvent(t *testing.T) {
	emails := newMockEmailStore()
	emails.add("user-1", "pending@example.com", false, true)

	bus := events.NewBus()
	var verified []events.EmailVerified
	bus.OnEmailVerified(func(ctx context.Context, event events.EmailVerified) {
		verified = append(verified, event)
	})

	svc := NewUserService(newMockUserStore(), emails, emails, bus)

	addr, err := svc.VerifyEmail(context.Background(), "pending@example.com")
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !addr.IsVerified {
		t.Error("Expected email marked verified")
	}

	if len(verified) != 1 {
		t.Fatalf("Expected 1 EmailVerified event, got %d", len(verified))
	}
	if verified[0].UserID != "user-1" || verified[0].Email != "pending@example.com" {
		t.Errorf("Unexpected event payload: %+v", verified[0])
	}
}

func TestUserService_VerifyUnknownEmail(t *testing.T) {
	emails := newMockEmailStore()
	svc := NewUserService(newMockUserStore(), emails, emails, events.NewBus())

	if _, err := svc.VerifyEmail(context.Background(), "nobody@example.com"); err == nil {
		t.Error("Expected error for unknown email")
	}
}

func TestUserService_AddEmail(t *testing.T) {
	emails := newMockEmailStore()
	emails.add("user-1", "first@example.com", true, true)

	svc := NewUserService(newMockUserStore(), emails, emails, events.NewBus())

	if _, err := svc.AddEmail(context.Background(), "user-1", "second@example.com"); err != nil {
		t.Fatalf("AddEmail failed: %v", err)
	}

	addrs, err := svc.ListEmails(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListEmails failed: %v", err)
	}
	if len(addrs) != 2 {
		t.Errorf("Expected 2 emails, got %d", len(addrs))
	}
}
