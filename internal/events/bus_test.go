package events

import (
	"context"
	"testing"
)

func TestBusDispatch(t *testing.T) {
	bus := NewBus()

	var got []EmailVerified
	bus.OnEmailVerified(func(ctx context.Context, event EmailVerified) {
		got = append(got, event)
	})
	bus.OnEmailVerified(func(ctx context.Context, event EmailVerified) {
		got = append(got, event)
	})

	bus.PublishEmailVerified(context.Background(), EmailVerified{UserID: "u1", Email: "a@example.com"})

	if len(got) != 2 {
		t.Fatalf("Expected both handlers called, got %d", len(got))
	}
	if got[0].UserID != "u1" || got[0].Email != "a@example.com" {
		t.Errorf("Unexpected event payload: %+v", got[0])
	}
}

func TestBusPanicContainment(t *testing.T) {
	bus := NewBus()

	called := false
	bus.OnEmailVerified(func(ctx context.Context, event EmailVerified) {
		panic("broken subscriber")
	})
	bus.OnEmailVerified(func(ctx context.Context, event EmailVerified) {
		called = true
	})

	// Must not panic, and the second handler still runs
	bus.PublishEmailVerified(context.Background(), EmailVerified{UserID: "u1"})

	if !called {
		t.Error("Expected the handler after the panicking one to still run")
	}
}

func TestBusNoHandlers(t *testing.T) {
	bus := NewBus()
	bus.PublishEmailVerified(context.Background(), EmailVerified{UserID: "u1"})
	bus.PublishUserRegistered(context.Background(), UserRegistered{UserID: "u1"})
}
