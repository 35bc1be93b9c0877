package service

import (
	"context"
	"time"

	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/storage"
)

// SubscriptionStore persists subscription state
type SubscriptionStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	IsActive(ctx context.Context, userID string) (bool, error)
	SetState(ctx context.Context, userID string, isActive, isLegacy bool) (*models.Subscription, error)
	ListLegacy(ctx context.Context) ([]*models.Subscription, error)
	Transfer(ctx context.Context, fromUserID, toUserID string) error
}

// SubscriptionService answers premium-state questions and maintains the
// legacy registry binding
type SubscriptionService struct {
	subscriptions SubscriptionStore
	receipts      ReceiptStore
	emails        EmailStore
	premium       *config.PremiumConfig
	cache         *storage.SubscriptionCache
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(subscriptions SubscriptionStore, receipts ReceiptStore, emails EmailStore, premium *config.PremiumConfig, cache *storage.SubscriptionCache) *SubscriptionService {
	return &SubscriptionService{
		subscriptions: subscriptions,
		receipts:      receipts,
		emails:        emails,
		premium:       premium,
		cache:         cache,
	}
}

// Active reports whether the user currently has premium. Answers come from
// the cache when warm; misses fall through to Postgres and repopulate it.
func (s *SubscriptionService) Active(ctx context.Context, userID string) (bool, error) {
	if active, hit := s.cache.GetActive(ctx, userID); hit {
		return active, nil
	}

	active, err := s.subscriptions.IsActive(ctx, userID)
	if err != nil {
		return false, err
	}

	s.cache.SetActive(ctx, userID, active)
	return active, nil
}

// Get retrieves the user's subscription state. Users with no subscription row
// are reported as inactive rather than missing.
func (s *SubscriptionService) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &models.Subscription{UserID: userID}, nil
	}
	return sub, nil
}

// RegisterEventHandlers subscribes the service to account lifecycle events
func (s *SubscriptionService) RegisterEventHandlers(bus *events.Bus) {
	bus.OnEmailVerified(func(ctx context.Context, event events.EmailVerified) {
		if err := s.handleEmailVerified(ctx, event); err != nil {
			logging.FromContext(ctx).
				WithError(err).
				WithField("user_id", event.UserID).
				Error("legacy promotion on email verification failed")
		}
	})
}

// handleEmailVerified promotes a user to legacy premium the moment they
// verify an email in the legacy registry
func (s *SubscriptionService) handleEmailVerified(ctx context.Context, event events.EmailVerified) error {
	if !s.premium.IsLegacyEmail(event.Email) {
		return nil
	}

	if _, err := s.subscriptions.SetState(ctx, event.UserID, true, true); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, event.UserID)

	logging.FromContext(ctx).
		WithField("user_id", event.UserID).
		Info("user promoted to legacy premium")
	return nil
}

// SyncLegacy reconciles subscription rows against the legacy email registry:
// users with a verified registry email are promoted, and legacy users whose
// emails have left the registry are demoted. Demoted users keep premium only
// while they hold an unexpired receipt.
func (s *SubscriptionService) SyncLegacy(ctx context.Context) error {
	log := logging.FromContext(ctx)

	verified, err := s.emails.ListVerifiedEmails(ctx)
	if err != nil {
		return err
	}

	legacyUsers := make(map[string]bool)
	for _, e := range verified {
		if s.premium.IsLegacyEmail(e.Email) {
			legacyUsers[e.UserID] = true
		}
	}

	promoted := 0
	for userID := range legacyUsers {
		sub, err := s.subscriptions.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if sub != nil && sub.IsLegacy {
			continue
		}
		if _, err := s.subscriptions.SetState(ctx, userID, true, true); err != nil {
			return err
		}
		s.cache.Invalidate(ctx, userID)
		promoted++
	}

	existing, err := s.subscriptions.ListLegacy(ctx)
	if err != nil {
		return err
	}

	demoted := 0
	for _, sub := range existing {
		if legacyUsers[sub.UserID] {
			continue
		}

		// No registry email anymore: premium survives only through a
		// still-valid receipt
		active := false
		rec, err := s.receipts.GetByUserID(ctx, sub.UserID)
		if err != nil {
			return err
		}
		if rec != nil && rec.Expiration.After(time.Now().UTC()) {
			active = true
		}

		if _, err := s.subscriptions.SetState(ctx, sub.UserID, active, false); err != nil {
			return err
		}
		s.cache.Invalidate(ctx, sub.UserID)
		demoted++
	}

	if promoted > 0 || demoted > 0 {
		log.WithField("promoted", promoted).
			WithField("demoted", demoted).
			Info("legacy registry sync applied changes")
	}

	return nil
}
