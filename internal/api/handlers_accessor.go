package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// inviteRequest creates an accessor invitation
type inviteRequest struct {
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
}

// adminRequest toggles an accessor's admin flag
type adminRequest struct {
	IsAdmin bool `json:"isAdmin"`
}

// handleInviteAccessor invites an email address to access the caller's content
func (s *Server) handleInviteAccessor(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req inviteRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "email is required", nil)
		return
	}

	accessor, err := s.accessors.Invite(r.Context(), uid, req.Email, req.IsAdmin)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, accessor)
}

// handleListOwnedAccessors lists the invitations the caller has created
func (s *Server) handleListOwnedAccessors(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	accessors, err := s.accessors.ListOwned(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accessors)
}

// handleListGrantedAccessors lists the invitations bound to the caller
func (s *Server) handleListGrantedAccessors(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	accessors, err := s.accessors.ListGranted(r.Context(), uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accessors)
}

// handleAcceptAccessor accepts an invitation as the invited user
func (s *Server) handleAcceptAccessor(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	accessor, err := s.accessors.Accept(r.Context(), mux.Vars(r)["id"], uid)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accessor)
}

// handleSetAccessorAdmin grants or revokes admin access as the owner
func (s *Server) handleSetAccessorAdmin(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req adminRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	accessor, err := s.accessors.SetAdmin(r.Context(), mux.Vars(r)["id"], uid, req.IsAdmin)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accessor)
}

// handleDeleteAccessor severs an accessor relationship from either side
func (s *Server) handleDeleteAccessor(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := s.accessors.Delete(r.Context(), mux.Vars(r)["id"], uid); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}
