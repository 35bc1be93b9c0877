package models

import "time"

// Accessor represents an invitation granting one user access to another
// user's content. InvitedUserID stays empty until the invited email is
// verified (pending-binding state).
type Accessor struct {
	ID          string `json:"id" db:"id"`
	OwnerUserID string `json:"ownerUserId" db:"owner_user_id"`
	Email       string `json:"email" db:"email"`
	// InvitedUserID is bound late, when the invited email is verified
	InvitedUserID string    `json:"invitedUserId,omitempty" db:"invited_user_id"`
	IsAccepted    bool      `json:"isAccepted" db:"is_accepted"`
	IsAdmin       bool      `json:"isAdmin" db:"is_admin"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// IsBound reports whether the invitation has been bound to a user
func (a *Accessor) IsBound() bool {
	return a.InvitedUserID != ""
}
