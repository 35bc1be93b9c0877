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
	"github.com/know-me-server/internal/types"
)

// ContentRepository handles the profile/journal content tree. Authorization
// never lives here: handlers resolve a Resource via ResolveResource and ask
// the authorization service before touching rows.
type ContentRepository struct {
	db *PostgresDB
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *PostgresDB) *ContentRepository {
	return &ContentRepository{db: db}
}

// ResolveResource walks an entity's parent links up to its root user and
// returns the authorization context: owner, privacy (inherited from the
// enclosing profile) and, for comments, the author.
func (r *ContentRepository) ResolveResource(ctx context.Context, kind types.ResourceKind, id string) (*types.Resource, error) {
	res := &types.Resource{Kind: kind, ID: id}

	var query string
	var scanPrivate, scanAuthor bool

	switch kind {
	case types.KindProfile:
		query = `SELECT user_id, is_private FROM profiles WHERE id = $1`
		scanPrivate = true
	case types.KindProfileTopic:
		query = `
			SELECT p.user_id, p.is_private
			FROM profile_topics t
			JOIN profiles p ON p.id = t.profile_id
			WHERE t.id = $1
		`
		scanPrivate = true
	case types.KindProfileItem:
		query = `
			SELECT p.user_id, p.is_private
			FROM profile_items i
			JOIN profile_topics t ON t.id = i.topic_id
			JOIN profiles p ON p.id = t.profile_id
			WHERE i.id = $1
		`
		scanPrivate = true
	case types.KindListEntry:
		query = `
			SELECT p.user_id, p.is_private
			FROM list_entries e
			JOIN profile_items i ON i.id = e.item_id
			JOIN profile_topics t ON t.id = i.topic_id
			JOIN profiles p ON p.id = t.profile_id
			WHERE e.id = $1
		`
		scanPrivate = true
	case types.KindMediaResource:
		query = `SELECT user_id FROM media_resources WHERE id = $1`
	case types.KindJournalEntry:
		query = `SELECT user_id FROM journal_entries WHERE id = $1`
	case types.KindEntryComment:
		query = `
			SELECT j.user_id, c.user_id
			FROM entry_comments c
			JOIN journal_entries j ON j.id = c.entry_id
			WHERE c.id = $1
		`
		scanAuthor = true
	default:
		return nil, fmt.Errorf("unknown resource kind: %s", kind)
	}

	row := r.db.Pool().QueryRow(ctx, query, id)
	var err error
	switch {
	case scanPrivate:
		err = row.Scan(&res.OwnerID, &res.Private)
	case scanAuthor:
		err = row.Scan(&res.OwnerID, &res.AuthorID)
	default:
		err = row.Scan(&res.OwnerID)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError(string(kind), id)
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", kind, err)
	}

	return res, nil
}

// Profiles

// CreateProfile creates a profile block for a user
func (r *ContentRepository) CreateProfile(ctx context.Context, p *models.Profile) error {
	stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO profiles (id, user_id, name, is_private, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.UserID, p.Name, p.IsPrivate, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by id
func (r *ContentRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, name, is_private, created_at, updated_at
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.IsPrivate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("profile", id)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// ListProfilesByUser retrieves all profile blocks belonging to a user
func (r *ContentRepository) ListProfilesByUser(ctx context.Context, userID string) ([]*models.Profile, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, name, is_private, created_at, updated_at
		FROM profiles WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.IsPrivate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfile updates a profile's name and privacy flag
func (r *ContentRepository) UpdateProfile(ctx context.Context, id, name string, isPrivate bool) error {
	return r.exec(ctx, "profile", id, `
		UPDATE profiles SET name = $2, is_private = $3, updated_at = $4 WHERE id = $1
	`, id, name, isPrivate, time.Now().UTC())
}

// Topics

// CreateTopic creates a topic within a profile
func (r *ContentRepository) CreateTopic(ctx context.Context, t *models.ProfileTopic) error {
	stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO profile_topics (id, profile_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.ProfileID, t.Name, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// ListTopics retrieves all topics within a profile
func (r *ContentRepository) ListTopics(ctx context.Context, profileID string) ([]*models.ProfileTopic, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, profile_id, name, created_at, updated_at
		FROM profile_topics WHERE profile_id = $1 ORDER BY created_at
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	var topics []*models.ProfileTopic
	for rows.Next() {
		var t models.ProfileTopic
		if err := rows.Scan(&t.ID, &t.ProfileID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topics: %w", err)
	}
	return topics, nil
}

// Items

// CreateItem creates an item within a topic
func (r *ContentRepository) CreateItem(ctx context.Context, i *models.ProfileItem) error {
	stampNew(&i.ID, &i.CreatedAt, &i.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO profile_items (id, topic_id, name, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, i.ID, i.TopicID, i.Name, i.Text, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// UpdateItem updates an item's name and text
func (r *ContentRepository) UpdateItem(ctx context.Context, id, name, text string) error {
	return r.exec(ctx, "profile item", id, `
		UPDATE profile_items SET name = $2, text = $3, updated_at = $4 WHERE id = $1
	`, id, name, text, time.Now().UTC())
}

// List entries

// CreateListEntry creates a list entry under an item
func (r *ContentRepository) CreateListEntry(ctx context.Context, e *models.ListEntry) error {
	stampNew(&e.ID, &e.CreatedAt, &e.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO list_entries (id, item_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.ItemID, e.Text, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create list entry: %w", err)
	}
	return nil
}

// Media resources

// CreateMediaResource registers an uploaded media attachment
func (r *ContentRepository) CreateMediaResource(ctx context.Context, m *models.MediaResource) error {
	stampNew(&m.ID, &m.CreatedAt, &m.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO media_resources (id, user_id, name, file_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.UserID, m.Name, m.FileURL, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create media resource: %w", err)
	}
	return nil
}

// Journal entries

// CreateJournalEntry creates a journal entry for a user
func (r *ContentRepository) CreateJournalEntry(ctx context.Context, j *models.JournalEntry) error {
	stampNew(&j.ID, &j.CreatedAt, &j.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO journal_entries (id, user_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, j.ID, j.UserID, j.Text, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}
	return nil
}

// GetJournalEntry retrieves a journal entry by id
func (r *ContentRepository) GetJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error) {
	var j models.JournalEntry
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, text, created_at, updated_at
		FROM journal_entries WHERE id = $1
	`, id).Scan(&j.ID, &j.UserID, &j.Text, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, kmerrors.NewNotFoundError("journal entry", id)
		}
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return &j, nil
}

// ListJournalEntries retrieves all journal entries for a user, newest first
func (r *ContentRepository) ListJournalEntries(ctx context.Context, userID string) ([]*models.JournalEntry, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, text, created_at, updated_at
		FROM journal_entries WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.JournalEntry
	for rows.Next() {
		var j models.JournalEntry
		if err := rows.Scan(&j.ID, &j.UserID, &j.Text, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}
	return entries, nil
}

// Comments

// CreateComment creates a comment on a journal entry
func (r *ContentRepository) CreateComment(ctx context.Context, c *models.EntryComment) error {
	stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO entry_comments (id, entry_id, user_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.EntryID, c.UserID, c.Text, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// ListComments retrieves all comments on a journal entry, oldest first
func (r *ContentRepository) ListComments(ctx context.Context, entryID string) ([]*models.EntryComment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, entry_id, user_id, text, created_at, updated_at
		FROM entry_comments WHERE entry_id = $1 ORDER BY created_at
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.EntryComment
	for rows.Next() {
		var c models.EntryComment
		if err := rows.Scan(&c.ID, &c.EntryID, &c.UserID, &c.Text, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}

// UpdateText updates the text column of a kind that has one
func (r *ContentRepository) UpdateText(ctx context.Context, kind types.ResourceKind, id, text string) error {
	table, ok := textTables[kind]
	if !ok {
		return fmt.Errorf("kind %s has no text content", kind)
	}
	return r.exec(ctx, string(kind), id,
		`UPDATE `+table+` SET text = $2, updated_at = $3 WHERE id = $1`,
		id, text, time.Now().UTC())
}

// Delete removes an entity of any kind. Children cascade per the schema.
func (r *ContentRepository) Delete(ctx context.Context, kind types.ResourceKind, id string) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown resource kind: %s", kind)
	}
	return r.exec(ctx, string(kind), id, `DELETE FROM `+table+` WHERE id = $1`, id)
}

var kindTables = map[types.ResourceKind]string{
	types.KindProfile:       "profiles",
	types.KindProfileTopic:  "profile_topics",
	types.KindProfileItem:   "profile_items",
	types.KindListEntry:     "list_entries",
	types.KindMediaResource: "media_resources",
	types.KindJournalEntry:  "journal_entries",
	types.KindEntryComment:  "entry_comments",
}

var textTables = map[types.ResourceKind]string{
	types.KindProfileItem:  "profile_items",
	types.KindListEntry:    "list_entries",
	types.KindJournalEntry: "journal_entries",
	types.KindEntryComment: "entry_comments",
}

// exec runs a statement that must affect exactly one row
func (r *ContentRepository) exec(ctx context.Context, resource, id, query string, args ...interface{}) error {
	result, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", resource, err)
	}
	if result.RowsAffected() == 0 {
		return kmerrors.NewNotFoundError(resource, id)
	}
	return nil
}

// stampNew assigns an id and creation timestamps to a new row
func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	now := time.Now().UTC()
	*createdAt = now
	*updatedAt = now
}
