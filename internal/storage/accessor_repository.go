package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	kmerrors "github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/models"
)

// AccessorRepository handles accessor invitation persistence
type AccessorRepository struct {
	db *PostgresDB
}

// NewAccessorRepository creates a new accessor repository
func NewAccessorRepository(db *PostgresDB) *AccessorRepository {
	return &AccessorRepository{db: db}
}

const accessorColumns = `id, owner_user_id, email, invited_user_id, is_accepted, is_admin, created_at, updated_at`

// scanAccessor scans one accessor row. invited_user_id is nullable while the
// invitation is pending binding.
func scanAccessor(row pgx.Row) (*models.Accessor, error) {
	var a models.Accessor
	var invited *string
	err := row.Scan(
		&a.ID,
		&a.OwnerUserID,
		&a.Email,
		&invited,
		&a.IsAccepted,
		&a.IsAdmin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if invited != nil {
		a.InvitedUserID = *invited
	}
	return &a, nil
}

// Create inserts a new accessor invitation. The (owner, email) pair and the
// (owner, invited user) pair are unique; violations surface as
// DuplicateAccessor.
func (r *AccessorRepository) Create(ctx context.Context, accessor *models.Accessor) error {
	if accessor.ID == "" {
		accessor.ID = uuid.New().String()
	}
	accessor.Email = strings.ToLower(strings.TrimSpace(accessor.Email))

	now := time.Now().UTC()
	accessor.CreatedAt = now
	accessor.UpdatedAt = now

	var invited *string
	if accessor.InvitedUserID != "" {
		invited = &accessor.InvitedUserID
	}

	query := `
		INSERT INTO accessors (id, owner_user_id, email, invited_user_id, is_accepted, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		accessor.ID,
		accessor.OwnerUserID,
		accessor.Email,
		invited,
		accessor.IsAccepted,
		accessor.IsAdmin,
		accessor.CreatedAt,
		accessor.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return kmerrors.NewDuplicateAccessorError(accessor.Email)
		}
		return fmt.Errorf("failed to create accessor: %w", err)
	}

	return nil
}

// GetByID retrieves an accessor by id
func (r *AccessorRepository) GetByID(ctx context.Context, id string) (*models.Accessor, error) {
	query := `SELECT ` + accessorColumns + ` FROM accessors WHERE id = $1`

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("accessor", id)
		}
		return nil, fmt.Errorf("failed to get accessor: %w", err)
	}

	return a, nil
}

// GetByOwnerAndEmail retrieves the accessor an owner created for an email.
// Returns nil without error when none exists.
func (r *AccessorRepository) GetByOwnerAndEmail(ctx context.Context, ownerUserID, email string) (*models.Accessor, error) {
	query := `SELECT ` + accessorColumns + ` FROM accessors WHERE owner_user_id = $1 AND email = $2`

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, ownerUserID, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get accessor by email: %w", err)
	}

	return a, nil
}

// GetByOwnerAndInvited retrieves the accessor binding an owner to an invited
// user. Returns nil without error when none exists.
func (r *AccessorRepository) GetByOwnerAndInvited(ctx context.Context, ownerUserID, invitedUserID string) (*models.Accessor, error) {
	query := `SELECT ` + accessorColumns + ` FROM accessors WHERE owner_user_id = $1 AND invited_user_id = $2`

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, ownerUserID, invitedUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get accessor by invited user: %w", err)
	}

	return a, nil
}

// ListByOwner retrieves all accessors created by an owner
func (r *AccessorRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Accessor, error) {
	query := `SELECT ` + accessorColumns + ` FROM accessors WHERE owner_user_id = $1 ORDER BY created_at`

	return r.list(ctx, query, ownerUserID)
}

// ListByInvited retrieves all accessors bound to an invited user
func (r *AccessorRepository) ListByInvited(ctx context.Context, invitedUserID string) ([]*models.Accessor, error) {
	query := `SELECT ` + accessorColumns + ` FROM accessors WHERE invited_user_id = $1 ORDER BY created_at`

	return r.list(ctx, query, invitedUserID)
}

// ListPendingByEmail retrieves unbound invitations for an email, oldest
// first. Ordering matters for late binding: when one verification event must
// resolve several invitations from the same owner, the oldest wins.
func (r *AccessorRepository) ListPendingByEmail(ctx context.Context, email string) ([]*models.Accessor, error) {
	query := `
		SELECT ` + accessorColumns + `
		FROM accessors
		WHERE email = $1 AND invited_user_id IS NULL
		ORDER BY created_at
	`

	return r.list(ctx, query, strings.ToLower(email))
}

func (r *AccessorRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Accessor, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessors: %w", err)
	}
	defer rows.Close()

	var accessors []*models.Accessor
	for rows.Next() {
		a, err := scanAccessor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan accessor: %w", err)
		}
		accessors = append(accessors, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accessors: %w", err)
	}

	return accessors, nil
}

// Bind attaches an invited user to a pending invitation. Fails with
// DuplicateAccessor when the owner already has a bound accessor for that
// user (the partial unique index on (owner_user_id, invited_user_id)).
func (r *AccessorRepository) Bind(ctx context.Context, id, invitedUserID string) (*models.Accessor, error) {
	query := `
		UPDATE accessors
		SET invited_user_id = $2, updated_at = $3
		WHERE id = $1 AND invited_user_id IS NULL
		RETURNING ` + accessorColumns

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, id, invitedUserID, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("pending accessor", id)
		}
		if isUniqueViolation(err) {
			return nil, kmerrors.NewDuplicateAccessorError(invitedUserID)
		}
		return nil, fmt.Errorf("failed to bind accessor: %w", err)
	}

	return a, nil
}

// SetAccepted marks an invitation accepted or revokes acceptance
func (r *AccessorRepository) SetAccepted(ctx context.Context, id string, accepted bool) (*models.Accessor, error) {
	query := `
		UPDATE accessors
		SET is_accepted = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + accessorColumns

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, id, accepted, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("accessor", id)
		}
		return nil, fmt.Errorf("failed to update accessor acceptance: %w", err)
	}

	return a, nil
}

// SetAdmin grants or revokes the admin flag on an accessor
func (r *AccessorRepository) SetAdmin(ctx context.Context, id string, admin bool) (*models.Accessor, error) {
	query := `
		UPDATE accessors
		SET is_admin = $2, updated_at = $3
		WHERE id = $1
		RETURNING ` + accessorColumns

	a, err := scanAccessor(r.db.Pool().QueryRow(ctx, query, id, admin, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("accessor", id)
		}
		return nil, fmt.Errorf("failed to update accessor admin flag: %w", err)
	}

	return a, nil
}

// Delete removes an accessor
func (r *AccessorRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM accessors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete accessor: %w", err)
	}
	if result.RowsAffected() == 0 {
		return kmerrors.NewNotFoundError("accessor", id)
	}

	return nil
}
