package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/types"
)

// accessNeed is the permission a handler requires on a resource
type accessNeed int

const (
	needRead accessNeed = iota
	needWrite
	needDestroy
)

// namedRequest carries a name field
type namedRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate,omitempty"`
}

// itemRequest carries item fields
type itemRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// textRequest carries a text field
type textRequest struct {
	Text string `json:"text"`
}

// mediaRequest registers a media attachment
type mediaRequest struct {
	Name    string `json:"name"`
	FileURL string `json:"fileUrl"`
}

// authorizeResource resolves a resource and checks the caller's access.
// Invisible resources answer not-found; visible ones the caller cannot
// modify answer forbidden.
func (s *Server) authorizeResource(w http.ResponseWriter, r *http.Request, kind types.ResourceKind, id string, need accessNeed) (*types.Resource, string, bool) {
	uid, ok := requireUser(w, r)
	if !ok {
		return nil, "", false
	}

	res, err := s.content.ResolveResource(r.Context(), kind, id)
	if err != nil {
		respondServiceError(w, err)
		return nil, "", false
	}

	decision, err := s.authz.Evaluate(r.Context(), uid, res)
	if err != nil {
		respondServiceError(w, err)
		return nil, "", false
	}

	if decision.Hidden || !decision.Read {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
		return nil, "", false
	}

	switch need {
	case needWrite:
		if !decision.Write {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "You may not modify this resource", nil)
			return nil, "", false
		}
	case needDestroy:
		if !decision.Destroy {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "You may not delete this resource", nil)
			return nil, "", false
		}
	}

	return res, uid, true
}

// handleDeleteContent builds a delete handler for a resource kind
func (s *Server) handleDeleteContent(kind types.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if _, _, ok := s.authorizeResource(w, r, kind, id, needDestroy); !ok {
			return
		}

		if err := s.content.Delete(r.Context(), kind, id); err != nil {
			respondServiceError(w, err)
			return
		}

		respondJSON(w, http.StatusNoContent, nil)
	}
}

// Profiles

// handleCreateProfile creates a profile block owned by the caller
func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req namedRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "name is required", nil)
		return
	}

	profile := &models.Profile{
		UserID:    uid,
		Name:      req.Name,
		IsPrivate: req.IsPrivate,
	}
	if err := s.content.CreateProfile(r.Context(), profile); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, profile)
}

// handleGetProfile retrieves a profile the caller may read
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, _, ok := s.authorizeResource(w, r, types.KindProfile, id, needRead); !ok {
		return
	}

	profile, err := s.content.GetProfile(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile updates a profile's name and privacy
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req namedRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if _, _, ok := s.authorizeResource(w, r, types.KindProfile, id, needWrite); !ok {
		return
	}

	if err := s.content.UpdateProfile(r.Context(), id, req.Name, req.IsPrivate); err != nil {
		respondServiceError(w, err)
		return
	}

	profile, err := s.content.GetProfile(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

// handleListProfiles lists another user's profile blocks, filtered to what
// the caller is allowed to see
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	ownerID := mux.Vars(r)["userId"]

	profiles, err := s.content.ListProfilesByUser(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	visible := make([]*models.Profile, 0, len(profiles))
	for _, p := range profiles {
		decision, err := s.authz.Evaluate(r.Context(), uid, &types.Resource{
			Kind:    types.KindProfile,
			ID:      p.ID,
			OwnerID: p.UserID,
			Private: p.IsPrivate,
		})
		if err != nil {
			respondServiceError(w, err)
			return
		}
		if decision.Read {
			visible = append(visible, p)
		}
	}

	respondJSON(w, http.StatusOK, visible)
}

// Topics

// handleCreateTopic creates a topic under a profile
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["id"]

	var req namedRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "name is required", nil)
		return
	}

	if _, _, ok := s.authorizeResource(w, r, types.KindProfile, profileID, needWrite); !ok {
		return
	}

	topic := &models.ProfileTopic{
		ProfileID: profileID,
		Name:      req.Name,
	}
	if err := s.content.CreateTopic(r.Context(), topic); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, topic)
}

// handleListTopics lists a profile's topics
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["id"]

	if _, _, ok := s.authorizeResource(w, r, types.KindProfile, profileID, needRead); !ok {
		return
	}

	topics, err := s.content.ListTopics(r.Context(), profileID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, topics)
}

// Items and entries

// handleCreateItem creates an item under a topic
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]

	var req itemRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "name is required", nil)
		return
	}

	if _, _, ok := s.authorizeResource(w, r, types.KindProfileTopic, topicID, needWrite); !ok {
		return
	}

	item := &models.ProfileItem{
		TopicID: topicID,
		Name:    req.Name,
		Text:    req.Text,
	}
	if err := s.content.CreateItem(r.Context(), item); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

// handleUpdateItem updates an item's name and text
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req itemRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if _, _, ok := s.authorizeResource(w, r, types.KindProfileItem, id, needWrite); !ok {
		return
	}

	if err := s.content.UpdateItem(r.Context(), id, req.Name, req.Text); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleCreateListEntry creates a list entry under an item
func (s *Server) handleCreateListEntry(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var req textRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "text is required", nil)
		return
	}

	if _, _, ok := s.authorizeResource(w, r, types.KindProfileItem, itemID, needWrite); !ok {
		return
	}

	entry := &models.ListEntry{
		ItemID: itemID,
		Text:   req.Text,
	}
	if err := s.content.CreateListEntry(r.Context(), entry); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

// Media

// handleCreateMedia registers a media attachment owned by the caller
func (s *Server) handleCreateMedia(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req mediaRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.FileURL == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "fileUrl is required", nil)
		return
	}

	media := &models.MediaResource{
		UserID:  uid,
		Name:    req.Name,
		FileURL: req.FileURL,
	}
	if err := s.content.CreateMediaResource(r.Context(), media); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, media)
}

// Journal

// handleCreateJournalEntry creates a journal entry owned by the caller
func (s *Server) handleCreateJournalEntry(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req textRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "text is required", nil)
		return
	}

	entry := &models.JournalEntry{
		UserID: uid,
		Text:   req.Text,
	}
	if err := s.content.CreateJournalEntry(r.Context(), entry); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

// handleGetJournalEntry retrieves a journal entry the caller may read
func (s *Server) handleGetJournalEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, _, ok := s.authorizeResource(w, r, types.KindJournalEntry, id, needRead); !ok {
		return
	}

	entry, err := s.content.GetJournalEntry(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleListJournalEntries lists another user's journal, gated on the
// caller's access to that user's content
func (s *Server) handleListJournalEntries(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	ownerID := mux.Vars(r)["userId"]

	decision, err := s.authz.Evaluate(r.Context(), uid, &types.Resource{
		Kind:    types.KindJournalEntry,
		OwnerID: ownerID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if decision.Hidden || !decision.Read {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
		return
	}

	entries, err := s.content.ListJournalEntries(r.Context(), ownerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entries)
}

// Comments

// handleCreateComment comments on a journal entry the caller may read
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["id"]

	var req textRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "text is required", nil)
		return
	}

	_, uid, ok := s.authorizeResource(w, r, types.KindJournalEntry, entryID, needRead)
	if !ok {
		return
	}

	comment := &models.EntryComment{
		EntryID: entryID,
		UserID:  uid,
		Text:    req.Text,
	}
	if err := s.content.CreateComment(r.Context(), comment); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, comment)
}

// handleListComments lists a journal entry's comments
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	entryID := mux.Vars(r)["id"]

	if _, _, ok := s.authorizeResource(w, r, types.KindJournalEntry, entryID, needRead); !ok {
		return
	}

	comments, err := s.content.ListComments(r.Context(), entryID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, comments)
}

// handleUpdateText builds a text-update handler for list entries, journal
// entries and comments. The write check carries the ownership rules: for
// comments only the author may edit, the journal owner can delete but never
// rewrite.
func (s *Server) handleUpdateText(kind types.ResourceKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req textRequest
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
		if req.Text == "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "text is required", nil)
			return
		}

		if _, _, ok := s.authorizeResource(w, r, kind, id, needWrite); !ok {
			return
		}

		if err := s.content.UpdateText(r.Context(), kind, id, req.Text); err != nil {
			respondServiceError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}
