package service

import (
	"context"

	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/storage"
)

// TransferService moves a subscription from one account to another.
//
// Used when a household shares one App Store subscription and the purchasing
// account changes, or when support untangles a receipt uploaded to the wrong
// account.
type TransferService struct {
	subscriptions SubscriptionStore
	receipts      ReceiptStore
	emails        EmailStore
	cache         *storage.SubscriptionCache
}

// NewTransferService creates a new transfer service
func NewTransferService(subscriptions SubscriptionStore, receipts ReceiptStore, emails EmailStore, cache *storage.SubscriptionCache) *TransferService {
	return &TransferService{
		subscriptions: subscriptions,
		receipts:      receipts,
		emails:        emails,
		cache:         cache,
	}
}

// Transfer moves the sender's subscription (receipt included) to the account
// holding the given verified email.
//
// Preconditions are checked in a fixed order so callers get deterministic
// failures: recipient must exist, sender must hold an active subscription,
// recipient must not already be active, recipient must not have a receipt on
// file. The repository re-checks them on the locked rows inside the transfer
// transaction; the checks here only fix the failure order.
func (s *TransferService) Transfer(ctx context.Context, fromUserID, recipientEmail string) error {
	recipient, err := s.emails.GetVerifiedByEmail(ctx, recipientEmail)
	if err != nil {
		return err
	}
	if recipient == nil {
		return errors.NewNoSuchRecipientError(recipientEmail)
	}

	senderActive, err := s.subscriptions.IsActive(ctx, fromUserID)
	if err != nil {
		return err
	}
	if !senderActive {
		return errors.NewNotAuthorizedError()
	}

	recipientActive, err := s.subscriptions.IsActive(ctx, recipient.UserID)
	if err != nil {
		return err
	}
	if recipientActive {
		return errors.NewRecipientAlreadyActiveError()
	}

	recipientReceipt, err := s.receipts.GetByUserID(ctx, recipient.UserID)
	if err != nil {
		return err
	}
	if recipientReceipt != nil {
		return errors.NewRecipientHasReceiptError()
	}

	if err := s.subscriptions.Transfer(ctx, fromUserID, recipient.UserID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, fromUserID, recipient.UserID)

	logging.FromContext(ctx).
		WithField("from_user_id", fromUserID).
		WithField("to_user_id", recipient.UserID).
		Info("subscription transferred")

	return nil
}
