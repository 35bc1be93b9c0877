package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/types"
)

// EmailRepository handles email address persistence
type EmailRepository struct {
	db *PostgresDB
}

// NewEmailRepository creates a new email address repository
func NewEmailRepository(db *PostgresDB) *EmailRepository {
	return &EmailRepository{db: db}
}

const emailColumns = `id, user_id, email, is_verified, is_primary, created_at, updated_at`

// scanEmail scans one email address row
func scanEmail(row pgx.Row) (*models.EmailAddress, error) {
	var e models.EmailAddress
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Email,
		&e.IsVerified,
		&e.IsPrimary,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create creates a new email address. The first address for a user becomes
// primary.
func (r *EmailRepository) Create(ctx context.Context, email *models.EmailAddress) error {
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	email.Email = strings.ToLower(strings.TrimSpace(email.Email))

	now := time.Now().UTC()
	email.CreatedAt = now
	email.UpdatedAt = now

	query := `
		INSERT INTO email_addresses (id, user_id, email, is_verified, is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4,
			NOT EXISTS(SELECT 1 FROM email_addresses WHERE user_id = $2),
			$5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		email.ID,
		email.UserID,
		email.Email,
		email.IsVerified,
		email.CreatedAt,
		email.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &types.ServiceError{Code: "CONFLICT", Message: fmt.Sprintf("email already registered: %s", email.Email)}
		}
		return fmt.Errorf("failed to create email address: %w", err)
	}

	return nil
}

// GetByEmail retrieves an email address row by email
func (r *EmailRepository) GetByEmail(ctx context.Context, email string) (*models.EmailAddress, error) {
	query := `SELECT ` + emailColumns + ` FROM email_addresses WHERE email = $1`

	e, err := scanEmail(r.db.Pool().QueryRow(ctx, query, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &types.ServiceError{Code: "NOT_FOUND", Message: fmt.Sprintf("email address not found: %s", email)}
		}
		return nil, fmt.Errorf("failed to get email address: %w", err)
	}

	return e, nil
}

// GetVerifiedByEmail retrieves a verified email address row by email.
// Returns nil without error when no verified row exists.
func (r *EmailRepository) GetVerifiedByEmail(ctx context.Context, email string) (*models.EmailAddress, error) {
	query := `SELECT ` + emailColumns + ` FROM email_addresses WHERE email = $1 AND is_verified = TRUE`

	e, err := scanEmail(r.db.Pool().QueryRow(ctx, query, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get verified email address: %w", err)
	}

	return e, nil
}

// ListByUser retrieves all email addresses for a user
func (r *EmailRepository) ListByUser(ctx context.Context, userID string) ([]*models.EmailAddress, error) {
	query := `SELECT ` + emailColumns + ` FROM email_addresses WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list email addresses: %w", err)
	}
	defer rows.Close()

	var emails []*models.EmailAddress
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email address: %w", err)
		}
		emails = append(emails, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email addresses: %w", err)
	}

	return emails, nil
}

// ListVerifiedEmails returns every verified email with its user id, used by
// the legacy registry sweep.
func (r *EmailRepository) ListVerifiedEmails(ctx context.Context) ([]*models.EmailAddress, error) {
	query := `SELECT ` + emailColumns + ` FROM email_addresses WHERE is_verified = TRUE`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified emails: %w", err)
	}
	defer rows.Close()

	var emails []*models.EmailAddress
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email address: %w", err)
		}
		emails = append(emails, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verified emails: %w", err)
	}

	return emails, nil
}

// MarkVerified marks an email address as verified and returns the updated row
func (r *EmailRepository) MarkVerified(ctx context.Context, email string) (*models.EmailAddress, error) {
	query := `
		UPDATE email_addresses
		SET is_verified = TRUE, updated_at = $2
		WHERE email = $1
		RETURNING ` + emailColumns

	e, err := scanEmail(r.db.Pool().QueryRow(ctx, query, strings.ToLower(email), time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &types.ServiceError{Code: "NOT_FOUND", Message: fmt.Sprintf("email address not found: %s", email)}
		}
		return nil, fmt.Errorf("failed to mark email verified: %w", err)
	}

	return e, nil
}
