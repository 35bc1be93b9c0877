package service

import (
	"context"

	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/types"
)

// Decision is the outcome of evaluating an actor against a resource.
// Hidden means the resource must not be acknowledged at all: handlers answer
// not-found, never forbidden, so callers cannot probe for content they are
// not allowed to see.
type Decision struct {
	Read    bool
	Write   bool
	Destroy bool
	Hidden  bool
}

// hidden is the deny-everything decision
func hidden() *Decision {
	return &Decision{Hidden: true}
}

// PremiumChecker answers whether a user currently has premium
type PremiumChecker interface {
	Active(ctx context.Context, userID string) (bool, error)
}

// AuthorizationService evaluates what an actor may do to a resource.
//
// Rules, in evaluation order: owners hold full access to their own content;
// non-owners see nothing when the premium gate is on and the owner lacks
// premium; otherwise visibility requires an accepted accessor relationship;
// private profiles collapse non-admin access entirely; admins write, plain
// accessors only read. Comments carve out the one exception to owner
// omnipotence: only the author edits a comment, though the journal owner may
// still remove it.
type AuthorizationService struct {
	subscriptions PremiumChecker
	accessors     AccessorStore
	premium       *config.PremiumConfig
}

// NewAuthorizationService creates a new authorization service
func NewAuthorizationService(subscriptions PremiumChecker, accessors AccessorStore, premium *config.PremiumConfig) *AuthorizationService {
	return &AuthorizationService{
		subscriptions: subscriptions,
		accessors:     accessors,
		premium:       premium,
	}
}

// Evaluate computes the actor's decision for a resolved resource
func (s *AuthorizationService) Evaluate(ctx context.Context, actorUserID string, res *types.Resource) (*Decision, error) {
	if actorUserID == res.OwnerID {
		if res.Kind == types.KindEntryComment && res.AuthorID != actorUserID {
			// The journal owner may remove someone else's comment but not
			// rewrite it
			return &Decision{Read: true, Destroy: true}, nil
		}
		return &Decision{Read: true, Write: true, Destroy: true}, nil
	}

	if s.premium.Enabled {
		active, err := s.subscriptions.Active(ctx, res.OwnerID)
		if err != nil {
			return nil, err
		}
		if !active {
			return hidden(), nil
		}
	}

	accessor, err := s.accessors.GetByOwnerAndInvited(ctx, res.OwnerID, actorUserID)
	if err != nil {
		return nil, err
	}
	if accessor == nil || !accessor.IsAccepted {
		return hidden(), nil
	}

	if res.Private && !accessor.IsAdmin {
		return hidden(), nil
	}

	if res.Kind == types.KindEntryComment {
		if res.AuthorID == actorUserID {
			return &Decision{Read: true, Write: true, Destroy: true}, nil
		}
		if accessor.IsAdmin {
			return &Decision{Read: true, Destroy: true}, nil
		}
		return &Decision{Read: true}, nil
	}

	if accessor.IsAdmin {
		return &Decision{Read: true, Write: true, Destroy: true}, nil
	}

	return &Decision{Read: true}, nil
}
