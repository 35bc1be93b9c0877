// Package types provides common type definitions for the Know Me backend.
package types

import "fmt"

// Environment represents the App Store tier a receipt belongs to
type Environment string

const (
	// EnvironmentProduction represents the production App Store environment
	EnvironmentProduction Environment = "PRODUCTION"
	// EnvironmentSandbox represents the sandbox App Store environment
	EnvironmentSandbox Environment = "SANDBOX"
)

// ResourceKind identifies a domain entity type for authorization decisions
type ResourceKind string

const (
	// KindProfile represents a user profile
	KindProfile ResourceKind = "profile"
	// KindProfileTopic represents a topic within a profile
	KindProfileTopic ResourceKind = "profile_topic"
	// KindProfileItem represents an item within a topic
	KindProfileItem ResourceKind = "profile_item"
	// KindListEntry represents a list entry within an item
	KindListEntry ResourceKind = "list_entry"
	// KindMediaResource represents an attached media resource
	KindMediaResource ResourceKind = "media_resource"
	// KindJournalEntry represents a journal entry
	KindJournalEntry ResourceKind = "journal_entry"
	// KindEntryComment represents a comment on a journal entry
	KindEntryComment ResourceKind = "entry_comment"
)

// InvalidReceiptReason classifies why the verifier rejected a receipt blob
type InvalidReceiptReason string

const (
	// ReasonMalformed means the blob could not be parsed by the verifier
	ReasonMalformed InvalidReceiptReason = "malformed"
	// ReasonUnauthenticated means the shared secret or receipt signature was rejected
	ReasonUnauthenticated InvalidReceiptReason = "unauthenticated"
	// ReasonNotSubscription means the receipt carries no subscription transactions
	ReasonNotSubscription InvalidReceiptReason = "not-subscription"
	// ReasonUnknownProduct means the latest transaction is not a recognized premium product
	ReasonUnknownProduct InvalidReceiptReason = "unknown-product"
	// ReasonWrongEnvironment means the receipt was sent to the wrong App Store tier
	ReasonWrongEnvironment InvalidReceiptReason = "wrong-environment"
)

// Resource carries the authorization context of a domain entity, resolved by
// walking its parent links to the root user.
type Resource struct {
	// Kind is the entity type
	Kind ResourceKind
	// ID is the entity identifier
	ID string
	// OwnerID is the root user the entity belongs to
	OwnerID string
	// Private marks entities under a private profile, which requires admin
	// access from non-owners
	Private bool
	// AuthorID is the comment author for entry comments, empty otherwise
	AuthorID string
}

// ServiceError represents a structured error from the service layer
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
