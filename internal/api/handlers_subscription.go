package api

import (
	"net/http"
	"time"

	kmerrors "github.com/know-me-server/internal/errors"
)

// receiptRequest carries a base64 receipt blob
type receiptRequest struct {
	ReceiptData string `json:"receiptData"`
}

// transferRequest names the recipient of a subscription transfer
type transferRequest struct {
	Email string `json:"email"`
}

// receiptSummary is the receipt fragment of the subscription overview
type receiptSummary struct {
	ExpirationTime  time.Time `json:"expirationTime"`
	ReceiptDataHash string    `json:"receiptDataHash"`
}

// subscriptionOverview is the GET /subscription response shape
type subscriptionOverview struct {
	IsActive     bool            `json:"isActive"`
	IsLegacy     bool            `json:"isLegacy"`
	AppleReceipt *receiptSummary `json:"appleReceipt"`
}

// handleGetSubscription returns the caller's subscription state with the
// bound receipt, if any
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	sub, err := s.subscriptions.Get(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	overview := &subscriptionOverview{
		IsActive: sub.IsActive,
		IsLegacy: sub.IsLegacy,
	}

	rec, err := s.receipts.Get(r.Context(), uid)
	switch {
	case err == nil:
		overview.AppleReceipt = &receiptSummary{
			ExpirationTime:  rec.Expiration,
			ReceiptDataHash: rec.ReceiptHash,
		}
	case !kmerrors.IsCode(err, kmerrors.CodeNotFound):
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

// handleUpsertReceipt verifies an uploaded receipt and binds it to the caller
func (s *Server) handleUpsertReceipt(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req receiptRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.ReceiptData == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "receiptData is required", nil)
		return
	}

	rec, err := s.receipts.Upsert(r.Context(), uid, req.ReceiptData)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// handleGetReceipt returns the caller's stored receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	rec, err := s.receipts.Get(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// handleDeleteReceipt removes the caller's receipt. Premium ends immediately.
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.receipts.Delete(r.Context(), uid); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// handleQueryReceipt reports whether a receipt blob is already claimed by an
// account, without uploading it
func (s *Server) handleQueryReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req receiptRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.ReceiptData == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "receiptData is required", nil)
		return
	}

	result, err := s.receipts.QueryByHash(r.Context(), req.ReceiptData)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleReceiptTypeQuery reports which App Store tier a receipt belongs to
func (s *Server) handleReceiptTypeQuery(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	var req receiptRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.ReceiptData == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "receiptData is required", nil)
		return
	}

	env, err := s.receipts.DetectEnvironment(r.Context(), req.ReceiptData)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"environment": string(env)})
}

// handleTransfer moves the caller's subscription to another account
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}

	if err := s.transfers.Transfer(r.Context(), uid, req.Email); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "transferred"})
}
