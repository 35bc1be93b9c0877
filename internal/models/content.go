package models

import "time"

// Profile represents a top-level block of profile content owned by a user.
// A private profile requires admin access from non-owners.
type Profile struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	IsPrivate bool      `json:"isPrivate" db:"is_private"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ProfileTopic represents a topic within a profile
type ProfileTopic struct {
	ID        string    `json:"id" db:"id"`
	ProfileID string    `json:"profileId" db:"profile_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ProfileItem represents an item within a topic
type ProfileItem struct {
	ID        string    `json:"id" db:"id"`
	TopicID   string    `json:"topicId" db:"topic_id"`
	Name      string    `json:"name" db:"name"`
	Text      string    `json:"text,omitempty" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ListEntry represents a single entry within a profile item's list content
type ListEntry struct {
	ID        string    `json:"id" db:"id"`
	ItemID    string    `json:"itemId" db:"item_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// MediaResource represents an uploaded media attachment owned by a user
type MediaResource struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	FileURL   string    `json:"fileUrl" db:"file_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// JournalEntry represents a journal entry owned by a user
type JournalEntry struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// EntryComment represents a comment on a journal entry. The comment author
// may edit it; the journal owner may destroy it but not edit it.
type EntryComment struct {
	ID        string    `json:"id" db:"id"`
	EntryID   string    `json:"entryId" db:"entry_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
