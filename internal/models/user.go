// Package models provides data models for the Know Me backend.
package models

import "time"

// User represents a user in the system
type User struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// EmailAddress represents an email address owned by a user. A user may have
// several; at most one is primary and each is independently verified.
type EmailAddress struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"userId" db:"user_id"`
	Email      string    `json:"email" db:"email"`
	IsVerified bool      `json:"isVerified" db:"is_verified"`
	IsPrimary  bool      `json:"isPrimary" db:"is_primary"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}
