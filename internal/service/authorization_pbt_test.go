package service

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/types"
)

// Structural invariants of access decisions, checked across the whole input
// space: a hidden decision grants nothing, write and destroy imply read, and
// without an accepted accessor a non-owner never sees anything.
func TestAuthorizationDecisionProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	evaluate := func(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor bool) *Decision {
		var accessor *models.Accessor
		if hasAccessor {
			accessor = boundAccessor(accepted, admin)
		}
		svc := newTestAuthorization(premiumEnabled, ownerActive, accessor)

		actor := "viewer"
		if isOwner {
			actor = "owner"
		}

		kind := types.KindProfile
		authorID := ""
		if isComment {
			kind = types.KindEntryComment
			authorID = "other"
			if isAuthor {
				authorID = actor
			}
		}

		decision, err := svc.Evaluate(context.Background(), actor, &types.Resource{
			Kind:     kind,
			ID:       "resource-1",
			OwnerID:  "owner",
			Private:  private,
			AuthorID: authorID,
		})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		return decision
	}

	flags := []gopter.Gen{
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	}

	properties.Property("hidden grants nothing", prop.ForAll(
		func(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor bool) bool {
			d := evaluate(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor)
			return !d.Hidden || (!d.Read && !d.Write && !d.Destroy)
		},
		flags...,
	))

	properties.Property("write implies read", prop.ForAll(
		func(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor bool) bool {
			d := evaluate(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor)
			return !d.Write || d.Read
		},
		flags...,
	))

	properties.Property("destroy implies read", prop.ForAll(
		func(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor bool) bool {
			d := evaluate(isOwner, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor)
			return !d.Destroy || d.Read
		},
		flags...,
	))

	properties.Property("owner content is never hidden from the owner", prop.ForAll(
		func(premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor bool) bool {
			d := evaluate(true, premiumEnabled, ownerActive, hasAccessor, accepted, admin, private, isComment, isAuthor)
			return !d.Hidden && d.Read
		},
		flags[:8]...,
	))

	properties.Property("non-owner without accepted accessor sees nothing", prop.ForAll(
		func(premiumEnabled, ownerActive, admin, private, isComment, isAuthor bool) bool {
			unbound := evaluate(false, premiumEnabled, ownerActive, false, false, admin, private, isComment, isAuthor)
			unaccepted := evaluate(false, premiumEnabled, ownerActive, true, false, admin, private, isComment, isAuthor)
			return unbound.Hidden && unaccepted.Hidden
		},
		flags[:6]...,
	))

	properties.TestingRun(t)
}

// HashReceipt is a pure function: stable for equal blobs, 64 hex chars.
func TestHashReceiptProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("hash is deterministic", prop.ForAll(
		func(blob string) bool {
			return HashReceipt(blob) == HashReceipt(blob)
		},
		gen.AnyString(),
	))

	properties.Property("hash is 64 hex characters", prop.ForAll(
		func(blob string) bool {
			h := HashReceipt(blob)
			if len(h) != 64 {
				return false
			}
			for _, c := range h {
				if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
