// Package service implements the business logic of the Know Me backend.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/storage"
	"github.com/know-me-server/internal/types"
	"github.com/know-me-server/internal/verifier"
)

// ReceiptVerifier validates receipt blobs against the App Store
type ReceiptVerifier interface {
	Verify(ctx context.Context, blob string) (*verifier.Transaction, error)
	DetectEnvironment(ctx context.Context, blob string) (types.Environment, error)
}

// ReceiptStore persists receipts
type ReceiptStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Receipt, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	OwnerUserIDByHash(ctx context.Context, hash string) (string, error)
	Upsert(ctx context.Context, params *storage.ReceiptUpsert) (*models.Receipt, error)
	Delete(ctx context.Context, userID string) error
}

// EmailStore reads email address rows
type EmailStore interface {
	GetVerifiedByEmail(ctx context.Context, email string) (*models.EmailAddress, error)
	ListByUser(ctx context.Context, userID string) ([]*models.EmailAddress, error)
	ListVerifiedEmails(ctx context.Context) ([]*models.EmailAddress, error)
}

// ReceiptService handles receipt upload, querying and deletion
type ReceiptService struct {
	verifier ReceiptVerifier
	receipts ReceiptStore
	emails   EmailStore
	cache    *storage.SubscriptionCache
}

// NewReceiptService creates a new receipt service
func NewReceiptService(v ReceiptVerifier, receipts ReceiptStore, emails EmailStore, cache *storage.SubscriptionCache) *ReceiptService {
	return &ReceiptService{
		verifier: v,
		receipts: receipts,
		emails:   emails,
		cache:    cache,
	}
}

// HashReceipt computes the canonical hash of a receipt blob
func HashReceipt(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:])
}

// Upsert verifies a receipt blob and binds it to the user's subscription,
// creating or replacing the stored receipt. The subscription's active state
// follows the verified expiration.
func (s *ReceiptService) Upsert(ctx context.Context, userID, blob string) (*models.Receipt, error) {
	tx, err := s.verifier.Verify(ctx, blob)
	if err != nil {
		return nil, err
	}

	rec, err := s.receipts.Upsert(ctx, &storage.ReceiptUpsert{
		UserID:            userID,
		ReceiptData:       blob,
		ReceiptHash:       HashReceipt(blob),
		LatestReceiptData: tx.LatestReceiptData,
		LatestReceiptHash: HashReceipt(tx.LatestReceiptData),
		TransactionID:     tx.OriginalTransactionID,
		Expiration:        tx.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, userID)

	logging.FromContext(ctx).
		WithField("user_id", userID).
		WithField("transaction_id", tx.OriginalTransactionID).
		WithField("expiration", tx.ExpiresAt.Format(time.RFC3339)).
		Info("receipt stored")

	return rec, nil
}

// Get retrieves the user's stored receipt
func (s *ReceiptService) Get(ctx context.Context, userID string) (*models.Receipt, error) {
	rec, err := s.receipts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.NewNotFoundError("receipt", userID)
	}
	return rec, nil
}

// Delete removes the user's receipt. The subscription deactivates immediately.
func (s *ReceiptService) Delete(ctx context.Context, userID string) error {
	if err := s.receipts.Delete(ctx, userID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, userID)

	logging.FromContext(ctx).WithField("user_id", userID).Info("receipt deleted")
	return nil
}

// HashQueryResult reports whether a receipt blob is already claimed, and by
// which account's primary email when it is
type HashQueryResult struct {
	IsUsed bool   `json:"isUsed"`
	Email  string `json:"email,omitempty"`
}

// QueryByHash reports whether the given receipt blob is already bound to an
// account. Lets a client distinguish "restore my purchase" from "this receipt
// belongs to someone else" before uploading.
func (s *ReceiptService) QueryByHash(ctx context.Context, blob string) (*HashQueryResult, error) {
	ownerID, err := s.receipts.OwnerUserIDByHash(ctx, HashReceipt(blob))
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return &HashQueryResult{IsUsed: false}, nil
	}

	result := &HashQueryResult{IsUsed: true}

	emails, err := s.emails.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, e := range emails {
		if e.IsPrimary {
			result.Email = e.Email
			break
		}
	}

	return result, nil
}

// DetectEnvironment reports which App Store tier a receipt belongs to
func (s *ReceiptService) DetectEnvironment(ctx context.Context, blob string) (types.Environment, error) {
	return s.verifier.DetectEnvironment(ctx, blob)
}
