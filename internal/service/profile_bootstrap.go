package service

import (
	"context"

	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/models"
)

// defaultProfileName is the name of the profile block seeded for new accounts
const defaultProfileName = "About Me"

// ProfileCreator is the content write surface registration bootstrapping needs
type ProfileCreator interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
}

// ProfileBootstrap seeds each new account with its root profile block so the
// client always has a place to write to after registration.
type ProfileBootstrap struct {
	content ProfileCreator
}

// NewProfileBootstrap creates a new profile bootstrapper
func NewProfileBootstrap(content ProfileCreator) *ProfileBootstrap {
	return &ProfileBootstrap{content: content}
}

// RegisterEventHandlers subscribes to the registration event
func (b *ProfileBootstrap) RegisterEventHandlers(bus *events.Bus) {
	bus.OnUserRegistered(b.handleUserRegistered)
}

// handleUserRegistered creates the root profile for a freshly registered
// account. Failures are logged, not propagated: registration already
// succeeded and the user can create profiles by hand.
func (b *ProfileBootstrap) handleUserRegistered(ctx context.Context, event events.UserRegistered) {
	profile := &models.Profile{
		UserID: event.UserID,
		Name:   defaultProfileName,
	}

	if err := b.content.CreateProfile(ctx, profile); err != nil {
		logging.FromContext(ctx).
			WithError(err).
			WithField("user_id", event.UserID).
			Error("failed to create root profile for new user")
		return
	}

	logging.FromContext(ctx).
		WithField("user_id", event.UserID).
		WithField("profile_id", profile.ID).
		Debug("root profile created")
}
