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

// ReceiptRepository handles receipt persistence.
//
// The uniqueness invariants (transaction_id, receipt_hash,
// latest_receipt_hash each globally unique) are enforced by schema
// constraints; the cross-field checks between original and latest hashes run
// inside the write transaction. Either path surfaces as ReceiptInUse.
type ReceiptRepository struct {
	db *PostgresDB
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *PostgresDB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// ReceiptUpsert carries the verified fields written by Upsert
type ReceiptUpsert struct {
	UserID            string
	ReceiptData       string
	ReceiptHash       string
	LatestReceiptData string
	LatestReceiptHash string
	TransactionID     string
	Expiration        time.Time
}

const receiptColumns = `id, subscription_id, receipt_data, receipt_hash, latest_receipt_data, latest_receipt_hash, transaction_id, expiration, created_at, updated_at`

// scanReceipt scans one receipt row
func scanReceipt(row pgx.Row) (*models.Receipt, error) {
	var rec models.Receipt
	err := row.Scan(
		&rec.ID,
		&rec.SubscriptionID,
		&rec.ReceiptData,
		&rec.ReceiptHash,
		&rec.LatestReceiptData,
		&rec.LatestReceiptHash,
		&rec.TransactionID,
		&rec.Expiration,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByUserID retrieves the receipt bound to a user's subscription.
// Returns nil without error when the user has none.
func (r *ReceiptRepository) GetByUserID(ctx context.Context, userID string) (*models.Receipt, error) {
	query := `
		SELECT ` + prefixed("r", receiptColumns) + `
		FROM receipts r
		JOIN subscriptions s ON s.id = r.subscription_id
		WHERE s.user_id = $1
	`

	rec, err := scanReceipt(r.db.Pool().QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return rec, nil
}

// ExistsByHash reports whether any receipt claims the given hash, either as
// its original or its latest hash. Used by the client-side probe.
func (r *ReceiptRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM receipts WHERE receipt_hash = $1 OR latest_receipt_hash = $1)`

	err := r.db.Pool().QueryRow(ctx, query, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check receipt hash: %w", err)
	}

	return exists, nil
}

// OwnerUserIDByHash returns the user holding a receipt with the given hash.
// Returns empty string without error when no receipt claims it.
func (r *ReceiptRepository) OwnerUserIDByHash(ctx context.Context, hash string) (string, error) {
	var userID string
	query := `
		SELECT s.user_id
		FROM receipts r
		JOIN subscriptions s ON s.id = r.subscription_id
		WHERE r.receipt_hash = $1 OR r.latest_receipt_hash = $1
	`

	err := r.db.Pool().QueryRow(ctx, query, hash).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve receipt owner: %w", err)
	}

	return userID, nil
}

// ListExpiringBefore retrieves all receipts whose coverage ends at or before
// the cutoff, ordered by expiration
func (r *ReceiptRepository) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE expiration <= $1 ORDER BY expiration`

	rows, err := r.db.Pool().Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating receipts: %w", err)
	}

	return receipts, nil
}

// Upsert inserts or replaces the user's receipt in a single transaction,
// creating the subscription row if absent and recomputing its active state
// from the new expiration.
//
// Rejects with ReceiptInUse when any other receipt claims the transaction id
// or either hash, including the cross-field cases (new latest hash matching
// an existing original hash and vice versa): two users may never lay claim to
// the same App Store subscription across receipt refreshes.
func (r *ReceiptRepository) Upsert(ctx context.Context, params *ReceiptUpsert) (*models.Receipt, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	now := time.Now().UTC()

	// Create-or-lock the subscription row
	var subscriptionID string
	var isLegacy bool
	err = tx.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, is_active, is_legacy, created_at, updated_at)
		VALUES ($1, $2, FALSE, FALSE, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = $3
		RETURNING id, is_legacy
	`, uuid.New().String(), params.UserID, now).Scan(&subscriptionID, &isLegacy)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure subscription: %w", err)
	}

	// Cross-field conflict check inside the transaction
	var conflict bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM receipts
			WHERE subscription_id <> $1
			  AND (transaction_id = $2
			    OR receipt_hash IN ($3, $4)
			    OR latest_receipt_hash IN ($3, $4))
		)
	`, subscriptionID, params.TransactionID, params.ReceiptHash, params.LatestReceiptHash).Scan(&conflict)
	if err != nil {
		return nil, fmt.Errorf("failed to check receipt conflicts: %w", err)
	}
	if conflict {
		return nil, kmerrors.NewReceiptInUseError()
	}

	rec, err := scanReceipt(tx.QueryRow(ctx, `
		INSERT INTO receipts (id, subscription_id, receipt_data, receipt_hash,
			latest_receipt_data, latest_receipt_hash, transaction_id, expiration,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (subscription_id) DO UPDATE
		SET receipt_data = EXCLUDED.receipt_data,
		    receipt_hash = EXCLUDED.receipt_hash,
		    latest_receipt_data = EXCLUDED.latest_receipt_data,
		    latest_receipt_hash = EXCLUDED.latest_receipt_hash,
		    transaction_id = EXCLUDED.transaction_id,
		    expiration = EXCLUDED.expiration,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+receiptColumns+`
	`,
		uuid.New().String(),
		subscriptionID,
		params.ReceiptData,
		params.ReceiptHash,
		params.LatestReceiptData,
		params.LatestReceiptHash,
		params.TransactionID,
		params.Expiration.UTC(),
		now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			// Constraint backstop: a concurrent writer claimed one of the
			// unique fields between the check and the insert
			return nil, kmerrors.NewReceiptInUseError()
		}
		return nil, fmt.Errorf("failed to upsert receipt: %w", err)
	}

	active := params.Expiration.After(now) || isLegacy
	if _, err := tx.Exec(ctx,
		`UPDATE subscriptions SET is_active = $2, updated_at = $3 WHERE id = $1`,
		subscriptionID, active, now,
	); err != nil {
		return nil, fmt.Errorf("failed to update subscription state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit receipt upsert: %w", err)
	}

	return rec, nil
}

// HasHashConflict reports whether a different receipt already claims the
// given hash as either its original or latest hash
func (r *ReceiptRepository) HasHashConflict(ctx context.Context, receiptID, hash string) (bool, error) {
	var conflict bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM receipts
			WHERE id <> $1 AND (receipt_hash = $2 OR latest_receipt_hash = $2)
		)
	`

	err := r.db.Pool().QueryRow(ctx, query, receiptID, hash).Scan(&conflict)
	if err != nil {
		return false, fmt.Errorf("failed to check hash conflict: %w", err)
	}

	return conflict, nil
}

// UpdateVerified persists refreshed verifier fields for a receipt and
// recomputes the subscription's active state, in a single transaction
func (r *ReceiptRepository) UpdateVerified(ctx context.Context, receiptID, latestData, latestHash string, expiration time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin revalidation transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	now := time.Now().UTC()

	var subscriptionID string
	err = tx.QueryRow(ctx, `
		UPDATE receipts
		SET latest_receipt_data = $2, latest_receipt_hash = $3, expiration = $4, updated_at = $5
		WHERE id = $1
		RETURNING subscription_id
	`, receiptID, latestData, latestHash, expiration.UTC(), now).Scan(&subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kmerrors.NewNotFoundError("receipt", receiptID)
		}
		if isUniqueViolation(err) {
			return kmerrors.NewReceiptInUseError()
		}
		return fmt.Errorf("failed to update receipt: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET is_active = ($2 OR is_legacy), updated_at = $3
		WHERE id = $1
	`, subscriptionID, expiration.After(now), now); err != nil {
		return fmt.Errorf("failed to update subscription state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit revalidation: %w", err)
	}

	return nil
}

// DeactivateSubscription marks the subscription owning a receipt inactive.
// Legacy subscriptions keep premium regardless of receipt state.
func (r *ReceiptRepository) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	query := `
		UPDATE subscriptions
		SET is_active = is_legacy, updated_at = $2
		WHERE id = $1
	`

	if _, err := r.db.Pool().Exec(ctx, query, subscriptionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	return nil
}

// SubscriptionUserID resolves the user owning a subscription
func (r *ReceiptRepository) SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error) {
	var userID string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT user_id FROM subscriptions WHERE id = $1`, subscriptionID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve subscription user: %w", err)
	}
	return userID, nil
}

// Delete removes the user's receipt and immediately marks the subscription
// inactive (legacy subscriptions stay active), in a single transaction
func (r *ReceiptRepository) Delete(ctx context.Context, userID string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	now := time.Now().UTC()

	var subscriptionID string
	err = tx.QueryRow(ctx, `
		DELETE FROM receipts
		WHERE subscription_id = (SELECT id FROM subscriptions WHERE user_id = $1)
		RETURNING subscription_id
	`, userID).Scan(&subscriptionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kmerrors.NewNotFoundError("receipt", userID)
		}
		return fmt.Errorf("failed to delete receipt: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET is_active = is_legacy, updated_at = $2
		WHERE id = $1
	`, subscriptionID, now); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit receipt delete: %w", err)
	}

	return nil
}

// prefixed qualifies a comma-separated column list with a table alias
func prefixed(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

// splitColumns splits a comma-separated column list
func splitColumns(columns string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if col != "" {
				out = append(out, col)
			}
			start = i + 1
		}
	}
	return out
}
