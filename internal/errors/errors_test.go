package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/know-me-server/internal/types"
)

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid receipt", NewInvalidReceiptError(types.ReasonMalformed), http.StatusBadRequest},
		{"receipt in use", NewReceiptInUseError(), http.StatusBadRequest},
		{"verifier unavailable", NewVerifierUnavailableError(nil), http.StatusBadRequest},
		{"unexpected verifier status", NewUnexpectedVerifierStatusError(21099), http.StatusInternalServerError},
		{"no such recipient", NewNoSuchRecipientError("a@example.com"), http.StatusBadRequest},
		{"not authorized", NewNotAuthorizedError(), http.StatusBadRequest},
		{"recipient already active", NewRecipientAlreadyActiveError(), http.StatusBadRequest},
		{"recipient has receipt", NewRecipientHasReceiptError(), http.StatusBadRequest},
		{"not found", NewNotFoundError("profile", "p1"), http.StatusNotFound},
		{"forbidden", NewForbiddenError("no"), http.StatusForbidden},
		{"duplicate accessor", NewDuplicateAccessorError("a@example.com"), http.StatusBadRequest},
		{"self accessor", NewSelfAccessorError(), http.StatusBadRequest},
		{"internal", NewInternalError("boom", nil), http.StatusInternalServerError},
		{"plain error", fmt.Errorf("something broke"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatusCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewVerifierUnavailableError(nil)) {
		t.Error("Expected verifier outage to be transient")
	}

	permanent := []error{
		NewInvalidReceiptError(types.ReasonMalformed),
		NewWrongEnvironmentError(types.EnvironmentSandbox),
		NewReceiptInUseError(),
		NewUnexpectedVerifierStatusError(21099),
		fmt.Errorf("plain"),
	}
	for _, err := range permanent {
		if IsTransient(err) {
			t.Errorf("Expected %v to be permanent", err)
		}
	}
}

func TestCategorizeServiceError(t *testing.T) {
	catErr := Categorize(&types.ServiceError{Code: CodeNotFound, Message: "gone"})
	if catErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for NOT_FOUND service error, got %d", catErr.StatusCode)
	}

	catErr = Categorize(&types.ServiceError{Code: CodeForbidden, Message: "no"})
	if catErr.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for FORBIDDEN service error, got %d", catErr.StatusCode)
	}

	catErr = Categorize(&types.ServiceError{Code: "SOMETHING_ELSE", Message: "?"})
	if catErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 for unknown service error code, got %d", catErr.StatusCode)
	}
}

func TestIsCode(t *testing.T) {
	err := NewReceiptInUseError()
	if !IsCode(err, CodeReceiptInUse) {
		t.Error("Expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Error("Expected IsCode to reject a different code")
	}
	if IsCode(nil, CodeNotFound) {
		t.Error("Expected IsCode(nil) to be false")
	}
}

func TestWrongEnvironmentDetails(t *testing.T) {
	err := NewWrongEnvironmentError(types.EnvironmentSandbox)
	if err.Code != CodeInvalidReceipt {
		t.Errorf("Expected INVALID_RECEIPT code, got %s", err.Code)
	}
	if err.Details["reason"] != string(types.ReasonWrongEnvironment) {
		t.Errorf("Expected wrong-environment reason, got %v", err.Details["reason"])
	}
	if err.Details["environment"] != string(types.EnvironmentSandbox) {
		t.Errorf("Expected sandbox environment detail, got %v", err.Details["environment"])
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewVerifierUnavailableError(cause)
	if err.Unwrap() != cause {
		t.Error("Expected Unwrap to return the cause")
	}
}
