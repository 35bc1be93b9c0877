package service

import (
	"context"
	"testing"

	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/types"
)

func newTestAuthorization(premiumEnabled bool, ownerActive bool, accessor *models.Accessor) *AuthorizationService {
	accessors := newMockAccessorStore()
	if accessor != nil {
		accessors.accessors = append(accessors.accessors, accessor)
	}

	premium := testPremiumConfig()
	premium.Enabled = premiumEnabled

	return NewAuthorizationService(
		&mockPremiumChecker{active: map[string]bool{"owner": ownerActive}},
		accessors,
		premium,
	)
}

func boundAccessor(accepted, admin bool) *models.Accessor {
	return &models.Accessor{
		ID:            "accessor-1",
		OwnerUserID:   "owner",
		Email:         "viewer@example.com",
		InvitedUserID: "viewer",
		IsAccepted:    accepted,
		IsAdmin:       admin,
	}
}

func TestAuthorization_Owner(t *testing.T) {
	svc := newTestAuthorization(true, false, nil)

	decision, err := svc.Evaluate(context.Background(), "owner", &types.Resource{
		Kind:    types.KindProfile,
		ID:      "profile-1",
		OwnerID: "owner",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !decision.Read || !decision.Write || !decision.Destroy {
		t.Errorf("Expected owner to hold full access, got %+v", decision)
	}
	if decision.Hidden {
		t.Error("Expected owner's own content never hidden")
	}
}

func TestAuthorization_OwnerOnForeignComment(t *testing.T) {
	svc := newTestAuthorization(true, true, nil)

	decision, err := svc.Evaluate(context.Background(), "owner", &types.Resource{
		Kind:     types.KindEntryComment,
		ID:       "comment-1",
		OwnerID:  "owner",
		AuthorID: "viewer",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !decision.Read || !decision.Destroy {
		t.Errorf("Expected journal owner to read and remove the comment, got %+v", decision)
	}
	if decision.Write {
		t.Error("Expected journal owner unable to edit someone else's comment")
	}
}

func TestAuthorization_PremiumGate(t *testing.T) {
	t.Run("gate on, owner inactive", func(t *testing.T) {
		svc := newTestAuthorization(true, false, boundAccessor(true, true))

		decision, err := svc.Evaluate(context.Background(), "viewer", &types.Resource{
			Kind:    types.KindProfile,
			ID:      "profile-1",
			OwnerID: "owner",
		})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !decision.Hidden {
			t.Errorf("Expected content hidden behind the premium gate, got %+v", decision)
		}
	})

	t.Run("gate off, owner inactive", func(t *testing.T) {
		svc := newTestAuthorization(false, false, boundAccessor(true, false))

		decision, err := svc.Evaluate(context.Background(), "viewer", &types.Resource{
			Kind:    types.KindProfile,
			ID:      "profile-1",
			OwnerID: "owner",
		})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Hidden || !decision.Read {
			t.Errorf("Expected accessor read with the gate off, got %+v", decision)
		}
	})
}

func TestAuthorization_AccessorMatrix(t *testing.T) {
	tests := []struct {
		name     string
		accessor *models.Accessor
		resource *types.Resource
		want     Decision
	}{
		{
			name:     "no accessor relationship",
			accessor: nil,
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner"},
			want:     Decision{Hidden: true},
		},
		{
			name:     "unaccepted accessor",
			accessor: boundAccessor(false, false),
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner"},
			want:     Decision{Hidden: true},
		},
		{
			name:     "plain accessor reads",
			accessor: boundAccessor(true, false),
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner"},
			want:     Decision{Read: true},
		},
		{
			name:     "admin accessor writes",
			accessor: boundAccessor(true, true),
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner"},
			want:     Decision{Read: true, Write: true, Destroy: true},
		},
		{
			name:     "private profile hides from plain accessor",
			accessor: boundAccessor(true, false),
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner", Private: true},
			want:     Decision{Hidden: true},
		},
		{
			name:     "private profile visible to admin",
			accessor: boundAccessor(true, true),
			resource: &types.Resource{Kind: types.KindProfile, ID: "p", OwnerID: "owner", Private: true},
			want:     Decision{Read: true, Write: true, Destroy: true},
		},
		{
			name:     "comment author edits own comment",
			accessor: boundAccessor(true, false),
			resource: &types.Resource{Kind: types.KindEntryComment, ID: "c", OwnerID: "owner", AuthorID: "viewer"},
			want:     Decision{Read: true, Write: true, Destroy: true},
		},
		{
			name:     "admin removes but does not edit foreign comment",
			accessor: boundAccessor(true, true),
			resource: &types.Resource{Kind: types.KindEntryComment, ID: "c", OwnerID: "owner", AuthorID: "other"},
			want:     Decision{Read: true, Destroy: true},
		},
		{
			name:     "plain accessor only reads foreign comment",
			accessor: boundAccessor(true, false),
			resource: &types.Resource{Kind: types.KindEntryComment, ID: "c", OwnerID: "owner", AuthorID: "other"},
			want:     Decision{Read: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuthorization(true, true, tt.accessor)

			decision, err := svc.Evaluate(context.Background(), "viewer", tt.resource)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if *decision != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, *decision)
			}
		})
	}
}
