package api

import (
	"net/http"
)

// emailRequest carries an email address
type emailRequest struct {
	Email string `json:"email"`
}

// handleRegister creates a new user account with an initial email address
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}

	user, err := s.users.Register(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleGetMe returns the caller's account
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := s.users.Get(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleAddEmail attaches another email address to the caller's account
func (s *Server) handleAddEmail(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req emailRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}

	addr, err := s.users.AddEmail(r.Context(), uid, req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, addr)
}

// handleListEmails lists the caller's email addresses
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	emails, err := s.users.ListEmails(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, emails)
}

// handleVerifyEmail marks an email address verified.
//
// The actual challenge (clicking a mailed link) happens upstream; this
// endpoint is called by the identity layer once the challenge passes, and
// fires the side effects: legacy premium promotion and accessor binding.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}

	addr, err := s.users.VerifyEmail(r.Context(), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, addr)
}
