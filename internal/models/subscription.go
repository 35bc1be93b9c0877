package models

import "time"

// Subscription represents a user's premium state. A user has at most one row;
// absence of the row is equivalent to inactive.
//
// Invariant: IsActive implies IsLegacy or an associated Receipt whose
// expiration is in the future.
type Subscription struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	IsLegacy  bool      `json:"isLegacy" db:"is_legacy"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
