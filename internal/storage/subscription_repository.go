package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kmerrors "github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/models"
)

// SubscriptionRepository handles subscription persistence
type SubscriptionRepository struct {
	db *PostgresDB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *PostgresDB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, is_active, is_legacy, created_at, updated_at`

// scanSubscription scans one subscription row
func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.IsActive,
		&s.IsLegacy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByUserID retrieves a user's subscription.
// Returns nil without error when the user has none (equivalent to inactive).
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	s, err := scanSubscription(r.db.Pool().QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return s, nil
}

// IsActive reports whether the user currently has premium
func (r *SubscriptionRepository) IsActive(ctx context.Context, userID string) (bool, error) {
	var active bool
	query := `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1 AND is_active = TRUE)`

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription state: %w", err)
	}

	return active, nil
}

// SetState creates or updates the user's subscription row with the given
// state. Creation is lazy: the row appears the first time a receipt is
// uploaded or the user is marked legacy.
func (r *SubscriptionRepository) SetState(ctx context.Context, userID string, isActive, isLegacy bool) (*models.Subscription, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO subscriptions (id, user_id, is_active, is_legacy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET is_active = EXCLUDED.is_active,
		    is_legacy = EXCLUDED.is_legacy,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + subscriptionColumns

	s, err := scanSubscription(r.db.Pool().QueryRow(ctx, query,
		uuid.New().String(),
		userID,
		isActive,
		isLegacy,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to set subscription state: %w", err)
	}

	return s, nil
}

// DeactivateOrphans deactivates every active, non-legacy subscription with no
// receipt on file. Idempotent.
func (r *SubscriptionRepository) DeactivateOrphans(ctx context.Context) (int64, error) {
	query := `
		UPDATE subscriptions
		SET is_active = FALSE, updated_at = $1
		WHERE is_active = TRUE
		  AND is_legacy = FALSE
		  AND NOT EXISTS (SELECT 1 FROM receipts WHERE receipts.subscription_id = subscriptions.id)
	`

	result, err := r.db.Pool().Exec(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate orphan subscriptions: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListLegacy retrieves all subscriptions flagged legacy
func (r *SubscriptionRepository) ListLegacy(ctx context.Context) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE is_legacy = TRUE`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy subscriptions: %w", err)
	}

	return subs, nil
}

// Transfer atomically moves the sender's subscription row to the recipient.
// Any existing (inactive, receipt-free) subscription on the recipient is
// deleted first; the sender is left with no row. Rows are locked in ascending
// user id order to avoid deadlocks between concurrent transfers.
//
// The service layer checks the transfer preconditions before calling, but
// those reads run outside this transaction and can go stale under
// concurrency. They are re-checked here on the locked rows so a receipt the
// recipient uploaded in the meantime is never cascaded away.
func (r *SubscriptionRepository) Transfer(ctx context.Context, fromUserID, toUserID string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transfer transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	// Stable lock order across both users' rows
	lockQuery := `
		SELECT id FROM subscriptions
		WHERE user_id = ANY($1)
		ORDER BY user_id
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, []string{fromUserID, toUserID})
	if err != nil {
		return fmt.Errorf("failed to lock subscription rows: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock subscription rows: %w", err)
	}

	var senderActive bool
	err = tx.QueryRow(ctx,
		`SELECT is_active FROM subscriptions WHERE user_id = $1`, fromUserID,
	).Scan(&senderActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kmerrors.NewNotAuthorizedError()
		}
		return fmt.Errorf("failed to check sender subscription: %w", err)
	}
	if !senderActive {
		return kmerrors.NewNotAuthorizedError()
	}

	var recipientSubID string
	var recipientActive, recipientHasReceipt bool
	err = tx.QueryRow(ctx, `
		SELECT s.id, s.is_active,
		       EXISTS(SELECT 1 FROM receipts WHERE receipts.subscription_id = s.id)
		FROM subscriptions s
		WHERE s.user_id = $1
	`, toUserID).Scan(&recipientSubID, &recipientActive, &recipientHasReceipt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check recipient subscription: %w", err)
	}
	if recipientSubID != "" {
		if recipientActive {
			return kmerrors.NewRecipientAlreadyActiveError()
		}
		if recipientHasReceipt {
			return kmerrors.NewRecipientHasReceiptError()
		}

		// Guarded delete: a receipt committed between the check above and
		// here would cascade away with the row, so the predicate repeats
		tag, err := tx.Exec(ctx, `
			DELETE FROM subscriptions
			WHERE id = $1
			  AND NOT EXISTS (SELECT 1 FROM receipts WHERE receipts.subscription_id = $1)
		`, recipientSubID)
		if err != nil {
			return fmt.Errorf("failed to delete recipient subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return kmerrors.NewRecipientHasReceiptError()
		}
	}

	now := time.Now().UTC()

	result, err := tx.Exec(ctx,
		`UPDATE subscriptions SET user_id = $2, updated_at = $3 WHERE user_id = $1`,
		fromUserID, toUserID, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// A recipient row appeared after the lock was taken (receipt
			// upsert creates one). Receipt and subscription stay theirs.
			return kmerrors.NewRecipientHasReceiptError()
		}
		return fmt.Errorf("failed to rebind subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sender has no subscription row to transfer")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	return nil
}
