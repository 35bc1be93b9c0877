package service

import (
	"context"
	"strings"

	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/mail"
	"github.com/know-me-server/internal/models"
)

// AccessorStore persists accessor invitations
type AccessorStore interface {
	Create(ctx context.Context, accessor *models.Accessor) error
	GetByID(ctx context.Context, id string) (*models.Accessor, error)
	GetByOwnerAndEmail(ctx context.Context, ownerUserID, email string) (*models.Accessor, error)
	GetByOwnerAndInvited(ctx context.Context, ownerUserID, invitedUserID string) (*models.Accessor, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Accessor, error)
	ListByInvited(ctx context.Context, invitedUserID string) ([]*models.Accessor, error)
	ListPendingByEmail(ctx context.Context, email string) ([]*models.Accessor, error)
	Bind(ctx context.Context, id, invitedUserID string) (*models.Accessor, error)
	SetAccepted(ctx context.Context, id string, accepted bool) (*models.Accessor, error)
	SetAdmin(ctx context.Context, id string, admin bool) (*models.Accessor, error)
	Delete(ctx context.Context, id string) error
}

// AccessorService manages invitations granting one user access to another
// user's content
type AccessorService struct {
	accessors     AccessorStore
	emails        EmailStore
	subscriptions PremiumChecker
	premium       *config.PremiumConfig
	mailer        mail.Mailer
}

// NewAccessorService creates a new accessor service
func NewAccessorService(accessors AccessorStore, emails EmailStore, subscriptions PremiumChecker, premium *config.PremiumConfig, mailer mail.Mailer) *AccessorService {
	return &AccessorService{
		accessors:     accessors,
		emails:        emails,
		subscriptions: subscriptions,
		premium:       premium,
		mailer:        mailer,
	}
}

// Invite creates an accessor invitation for an email address. When the email
// already belongs to a verified user the invitation binds immediately;
// otherwise it stays pending until that email is verified.
func (s *AccessorService) Invite(ctx context.Context, ownerUserID, email string, isAdmin bool) (*models.Accessor, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	// Sharing is a premium feature while the gate is on
	if err := s.requirePremium(ctx, ownerUserID); err != nil {
		return nil, err
	}

	ownEmails, err := s.emails.ListByUser(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	for _, e := range ownEmails {
		if e.Email == email {
			return nil, errors.NewSelfAccessorError()
		}
	}

	existing, err := s.accessors.GetByOwnerAndEmail(ctx, ownerUserID, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.NewDuplicateAccessorError(email)
	}

	accessor := &models.Accessor{
		OwnerUserID: ownerUserID,
		Email:       email,
		IsAdmin:     isAdmin,
	}

	invited, err := s.emails.GetVerifiedByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if invited != nil {
		if invited.UserID == ownerUserID {
			return nil, errors.NewSelfAccessorError()
		}

		bound, err := s.accessors.GetByOwnerAndInvited(ctx, ownerUserID, invited.UserID)
		if err != nil {
			return nil, err
		}
		if bound != nil {
			// The owner already reaches this user through another email
			return nil, errors.NewDuplicateAccessorError(email)
		}

		accessor.InvitedUserID = invited.UserID
	}

	if err := s.accessors.Create(ctx, accessor); err != nil {
		return nil, err
	}

	// Fire-and-forget: mail failure never fails the invitation
	if err := s.mailer.SendAccessorInvite(ctx, email, ownerUserID); err != nil {
		logging.FromContext(ctx).
			WithError(err).
			WithField("email", email).
			Warn("accessor invitation mail failed")
	}

	return accessor, nil
}

// RegisterEventHandlers subscribes the service to account lifecycle events
func (s *AccessorService) RegisterEventHandlers(bus *events.Bus) {
	bus.OnEmailVerified(func(ctx context.Context, event events.EmailVerified) {
		if err := s.handleEmailVerified(ctx, event); err != nil {
			logging.FromContext(ctx).
				WithError(err).
				WithField("email", event.Email).
				Error("accessor late binding failed")
		}
	})
}

// handleEmailVerified binds pending invitations for a freshly verified email
// to the verifying user. When an owner ends up with two invitations reaching
// the same user (invited under two emails), the older binding wins and the
// newer invitation is dropped.
func (s *AccessorService) handleEmailVerified(ctx context.Context, event events.EmailVerified) error {
	log := logging.FromContext(ctx)

	pending, err := s.accessors.ListPendingByEmail(ctx, event.Email)
	if err != nil {
		return err
	}

	for _, accessor := range pending {
		if accessor.OwnerUserID == event.UserID {
			// An owner verifying an email they themselves invited: drop the
			// self-referential invitation
			if err := s.accessors.Delete(ctx, accessor.ID); err != nil {
				return err
			}
			log.WithField("accessor_id", accessor.ID).
				Warn("dropped self-referential accessor invitation")
			continue
		}

		bound, err := s.accessors.GetByOwnerAndInvited(ctx, accessor.OwnerUserID, event.UserID)
		if err != nil {
			return err
		}
		if bound != nil {
			if err := s.accessors.Delete(ctx, accessor.ID); err != nil {
				return err
			}
			log.WithField("accessor_id", accessor.ID).
				WithField("kept_accessor_id", bound.ID).
				Warn("dropped duplicate accessor invitation for already-bound user")
			continue
		}

		if _, err := s.accessors.Bind(ctx, accessor.ID, event.UserID); err != nil {
			return err
		}
		log.WithField("accessor_id", accessor.ID).
			WithField("invited_user_id", event.UserID).
			Info("accessor invitation bound")
	}

	return nil
}

// Accept marks an invitation accepted. Only the invited user may accept.
func (s *AccessorService) Accept(ctx context.Context, accessorID, actorUserID string) (*models.Accessor, error) {
	accessor, err := s.accessors.GetByID(ctx, accessorID)
	if err != nil {
		return nil, err
	}
	if accessor.InvitedUserID != actorUserID {
		return nil, errors.NewForbiddenError("only the invited user may accept an invitation")
	}

	return s.accessors.SetAccepted(ctx, accessorID, true)
}

// SetAdmin grants or revokes admin access on an accessor. Only the owner may
// change it.
func (s *AccessorService) SetAdmin(ctx context.Context, accessorID, actorUserID string, admin bool) (*models.Accessor, error) {
	accessor, err := s.accessors.GetByID(ctx, accessorID)
	if err != nil {
		return nil, err
	}
	if accessor.OwnerUserID != actorUserID {
		return nil, errors.NewForbiddenError("only the owner may change accessor permissions")
	}

	return s.accessors.SetAdmin(ctx, accessorID, admin)
}

// Delete removes an accessor. Either side of the relationship may sever it.
func (s *AccessorService) Delete(ctx context.Context, accessorID, actorUserID string) error {
	accessor, err := s.accessors.GetByID(ctx, accessorID)
	if err != nil {
		return err
	}
	if accessor.OwnerUserID != actorUserID && accessor.InvitedUserID != actorUserID {
		return errors.NewForbiddenError("only the owner or the invited user may remove an accessor")
	}

	return s.accessors.Delete(ctx, accessorID)
}

// ListOwned retrieves the invitations an owner has created. Like Invite, it
// is premium-gated while the gate is on.
func (s *AccessorService) ListOwned(ctx context.Context, ownerUserID string) ([]*models.Accessor, error) {
	if err := s.requirePremium(ctx, ownerUserID); err != nil {
		return nil, err
	}

	return s.accessors.ListByOwner(ctx, ownerUserID)
}

// requirePremium rejects owners without an active subscription while the
// premium gate is on
func (s *AccessorService) requirePremium(ctx context.Context, ownerUserID string) error {
	if !s.premium.Enabled {
		return nil
	}

	active, err := s.subscriptions.Active(ctx, ownerUserID)
	if err != nil {
		return err
	}
	if !active {
		return errors.NewForbiddenError("an active subscription is required to share content")
	}

	return nil
}

// ListGranted retrieves the invitations bound to a user as the invited side
func (s *AccessorService) ListGranted(ctx context.Context, invitedUserID string) ([]*models.Accessor, error) {
	return s.accessors.ListByInvited(ctx, invitedUserID)
}
