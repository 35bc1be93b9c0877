package storage

import (
	"context"
	"testing"
	"time"

	"github.com/know-me-server/internal/config"
)

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "know_me",
		User:           "know_me",
		Password:       "know_me_dev_password",
		MaxConnections: 10,
	}
}

func TestNewPostgresDB(t *testing.T) {
	// Skip if not in integration test mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(testPostgresConfig())
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestPostgresDB_Pool(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(testPostgresConfig())
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	if db.Pool() == nil {
		t.Error("Pool() returned nil")
	}
}
