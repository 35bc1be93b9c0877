package errors

import (
	"fmt"
	"net/http"

	"github.com/know-me-server/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryVerifier represents receipt verifier errors
	CategoryVerifier ErrorCategory = "verifier"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents uniqueness conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryTransfer represents subscription transfer precondition errors
	CategoryTransfer ErrorCategory = "transfer"
)

// Stable error codes surfaced to API callers
const (
	CodeInvalidReceipt           = "INVALID_RECEIPT"
	CodeReceiptInUse             = "RECEIPT_IN_USE"
	CodeVerifierUnavailable      = "VERIFIER_UNAVAILABLE"
	CodeUnexpectedVerifierStatus = "UNEXPECTED_VERIFIER_STATUS"
	CodeNoSuchRecipient          = "NO_SUCH_RECIPIENT"
	CodeNotAuthorized            = "NOT_AUTHORIZED"
	CodeRecipientAlreadyActive   = "RECIPIENT_ALREADY_ACTIVE"
	CodeRecipientHasReceipt      = "RECIPIENT_HAS_RECEIPT"
	CodeNotFound                 = "NOT_FOUND"
	CodeForbidden                = "FORBIDDEN"
	CodeDuplicateAccessor        = "DUPLICATE_ACCESSOR"
	CodeSelfAccessor             = "SELF_ACCESSOR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Receipt verification errors

// NewInvalidReceiptError creates an error for a blob the verifier classified as bad.
// Permanent for the given blob.
func NewInvalidReceiptError(reason types.InvalidReceiptReason) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidReceipt,
		Message:    fmt.Sprintf("receipt rejected by verifier: %s", reason),
		Details: map[string]interface{}{
			"reason": string(reason),
		},
	}
}

// NewWrongEnvironmentError creates an invalid-receipt error for a receipt sent
// to the wrong App Store tier. The environment detail names the tier the
// receipt actually belongs to.
func NewWrongEnvironmentError(env types.Environment) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidReceipt,
		Message:    fmt.Sprintf("receipt belongs to the %s environment", env),
		Details: map[string]interface{}{
			"reason":      string(types.ReasonWrongEnvironment),
			"environment": string(env),
		},
	}
}

// NewVerifierUnavailableError creates a transient upstream-outage error.
// Callers may retry later with the same blob.
func NewVerifierUnavailableError(cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVerifier,
		StatusCode: http.StatusBadRequest,
		Code:       CodeVerifierUnavailable,
		Message:    "receipt verification service is unavailable",
		Cause:      cause,
	}
}

// NewUnexpectedVerifierStatusError creates an error for a status code the
// verification protocol does not enumerate
func NewUnexpectedVerifierStatusError(status int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryVerifier,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeUnexpectedVerifierStatus,
		Message:    fmt.Sprintf("verifier returned unexpected status %d", status),
		Details: map[string]interface{}{
			"status": status,
		},
	}
}

// NewReceiptInUseError creates an error for a receipt whose transaction id or
// hashes are already claimed by another user's receipt
func NewReceiptInUseError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusBadRequest,
		Code:       CodeReceiptInUse,
		Message:    "this receipt is already in use by another account",
	}
}

// Transfer precondition errors

// NewNoSuchRecipientError creates an error for a transfer whose recipient
// email does not resolve to a verified address
func NewNoSuchRecipientError(email string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransfer,
		StatusCode: http.StatusBadRequest,
		Code:       CodeNoSuchRecipient,
		Message:    fmt.Sprintf("no verified user for email: %s", email),
		Details: map[string]interface{}{
			"email": email,
		},
	}
}

// NewNotAuthorizedError creates an error for a transfer attempted by a sender
// without an active subscription
func NewNotAuthorizedError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransfer,
		StatusCode: http.StatusBadRequest,
		Code:       CodeNotAuthorized,
		Message:    "sender has no active subscription to transfer",
	}
}

// NewRecipientAlreadyActiveError creates an error for a transfer to a
// recipient who already has premium
func NewRecipientAlreadyActiveError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransfer,
		StatusCode: http.StatusBadRequest,
		Code:       CodeRecipientAlreadyActive,
		Message:    "recipient already has an active subscription",
	}
}

// NewRecipientHasReceiptError creates an error for a transfer to a recipient
// with an App-Store receipt on file
func NewRecipientHasReceiptError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransfer,
		StatusCode: http.StatusBadRequest,
		Code:       CodeRecipientHasReceipt,
		Message:    "recipient has an App Store receipt on file",
	}
}

// Authorization errors

// NewNotFoundError creates a not found error. Also the content-gating outcome:
// entities hidden by the premium gate report not-found, never forbidden.
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodeForbidden,
		Message:    message,
	}
}

// Accessor errors

// NewDuplicateAccessorError creates an error for an invitation that would
// duplicate an existing (owner, email) or (owner, invited user) pair
func NewDuplicateAccessorError(email string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusBadRequest,
		Code:       CodeDuplicateAccessor,
		Message:    fmt.Sprintf("an accessor already exists for %s", email),
		Details: map[string]interface{}{
			"email": email,
		},
	}
}

// NewSelfAccessorError creates an error for a user inviting themselves
func NewSelfAccessorError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeSelfAccessor,
		Message:    "cannot invite yourself as an accessor",
	}
}

// System errors

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case CodeInvalidReceipt, CodeReceiptInUse, CodeVerifierUnavailable,
		CodeNoSuchRecipient, CodeNotAuthorized, CodeRecipientAlreadyActive,
		CodeRecipientHasReceipt, CodeDuplicateAccessor, CodeSelfAccessor:
		return &CategorizedError{
			Category:   CategoryUserInput,
			StatusCode: http.StatusBadRequest,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeNotFound:
		return &CategorizedError{
			Category:   CategoryNotFound,
			StatusCode: http.StatusNotFound,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	case CodeForbidden:
		return &CategorizedError{
			Category:   CategoryAuthorization,
			StatusCode: http.StatusForbidden,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	default:
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsTransient determines if an error may succeed on a later retry with the
// same input. Only upstream verifier outages qualify; every other receipt
// failure is permanent for the given blob.
func IsTransient(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.Code == CodeVerifierUnavailable
}

// IsCode reports whether the error carries the given stable code
func IsCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}
