// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/service"
	"github.com/know-me-server/internal/types"
)

// Service interfaces for dependency injection and testing

// ReceiptServiceInterface defines the interface for receipt operations
type ReceiptServiceInterface interface {
	Upsert(ctx context.Context, userID, blob string) (*models.Receipt, error)
	Get(ctx context.Context, userID string) (*models.Receipt, error)
	Delete(ctx context.Context, userID string) error
	QueryByHash(ctx context.Context, blob string) (*service.HashQueryResult, error)
	DetectEnvironment(ctx context.Context, blob string) (types.Environment, error)
}

// SubscriptionServiceInterface defines the interface for subscription state
type SubscriptionServiceInterface interface {
	Get(ctx context.Context, userID string) (*models.Subscription, error)
	Active(ctx context.Context, userID string) (bool, error)
}

// TransferServiceInterface defines the interface for subscription transfers
type TransferServiceInterface interface {
	Transfer(ctx context.Context, fromUserID, recipientEmail string) error
}

// AccessorServiceInterface defines the interface for accessor operations
type AccessorServiceInterface interface {
	Invite(ctx context.Context, ownerUserID, email string, isAdmin bool) (*models.Accessor, error)
	Accept(ctx context.Context, accessorID, actorUserID string) (*models.Accessor, error)
	SetAdmin(ctx context.Context, accessorID, actorUserID string, admin bool) (*models.Accessor, error)
	Delete(ctx context.Context, accessorID, actorUserID string) error
	ListOwned(ctx context.Context, ownerUserID string) ([]*models.Accessor, error)
	ListGranted(ctx context.Context, invitedUserID string) ([]*models.Accessor, error)
}

// UserServiceInterface defines the interface for account operations
type UserServiceInterface interface {
	Register(ctx context.Context, email string) (*models.User, error)
	Get(ctx context.Context, userID string) (*models.User, error)
	AddEmail(ctx context.Context, userID, email string) (*models.EmailAddress, error)
	ListEmails(ctx context.Context, userID string) ([]*models.EmailAddress, error)
	VerifyEmail(ctx context.Context, email string) (*models.EmailAddress, error)
}

// AuthorizationServiceInterface evaluates access decisions for content
type AuthorizationServiceInterface interface {
	Evaluate(ctx context.Context, actorUserID string, res *types.Resource) (*service.Decision, error)
}

// ContentStore is the content persistence surface handlers use
type ContentStore interface {
	ResolveResource(ctx context.Context, kind types.ResourceKind, id string) (*types.Resource, error)
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ListProfilesByUser(ctx context.Context, userID string) ([]*models.Profile, error)
	UpdateProfile(ctx context.Context, id, name string, isPrivate bool) error
	CreateTopic(ctx context.Context, t *models.ProfileTopic) error
	ListTopics(ctx context.Context, profileID string) ([]*models.ProfileTopic, error)
	CreateItem(ctx context.Context, i *models.ProfileItem) error
	UpdateItem(ctx context.Context, id, name, text string) error
	CreateListEntry(ctx context.Context, e *models.ListEntry) error
	CreateMediaResource(ctx context.Context, m *models.MediaResource) error
	CreateJournalEntry(ctx context.Context, j *models.JournalEntry) error
	GetJournalEntry(ctx context.Context, id string) (*models.JournalEntry, error)
	ListJournalEntries(ctx context.Context, userID string) ([]*models.JournalEntry, error)
	CreateComment(ctx context.Context, c *models.EntryComment) error
	ListComments(ctx context.Context, entryID string) ([]*models.EntryComment, error)
	UpdateText(ctx context.Context, kind types.ResourceKind, id, text string) error
	Delete(ctx context.Context, kind types.ResourceKind, id string) error
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	receipts      ReceiptServiceInterface
	subscriptions SubscriptionServiceInterface
	transfers     TransferServiceInterface
	accessors     AccessorServiceInterface
	users         UserServiceInterface
	authz         AuthorizationServiceInterface
	content       ContentStore
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FreeTierRPS     int
	PremiumTierRPS  int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	receipts ReceiptServiceInterface,
	subscriptions SubscriptionServiceInterface,
	transfers TransferServiceInterface,
	accessors AccessorServiceInterface,
	users UserServiceInterface,
	authz AuthorizationServiceInterface,
	content ContentStore,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		receipts:      receipts,
		subscriptions: subscriptions,
		transfers:     transfers,
		accessors:     accessors,
		users:         users,
		authz:         authz,
		content:       content,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.subscriptions, s.config.FreeTierRPS, s.config.PremiumTierRPS)

	// Middleware order matters: logging wraps everything, recovery before
	// anything that can panic, rate limiting after CORS preflights
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/know-me").Subrouter()

	// Subscription endpoints
	api.HandleFunc("/subscription", s.handleGetSubscription).Methods("GET")
	api.HandleFunc("/subscription/apple", s.handleUpsertReceipt).Methods("PUT")
	api.HandleFunc("/subscription/apple", s.handleGetReceipt).Methods("GET")
	api.HandleFunc("/subscription/apple", s.handleDeleteReceipt).Methods("DELETE")
	api.HandleFunc("/subscription/apple/query", s.handleQueryReceipt).Methods("POST")
	api.HandleFunc("/subscription/apple/receipt-type-query", s.handleReceiptTypeQuery).Methods("POST")
	api.HandleFunc("/subscription/transfer", s.handleTransfer).Methods("POST")

	// Accessor endpoints
	api.HandleFunc("/users/accessors", s.handleInviteAccessor).Methods("POST")
	api.HandleFunc("/users/accessors", s.handleListOwnedAccessors).Methods("GET")
	api.HandleFunc("/users/accessors/granted", s.handleListGrantedAccessors).Methods("GET")
	api.HandleFunc("/accessors/{id}/accept", s.handleAcceptAccessor).Methods("POST")
	api.HandleFunc("/accessors/{id}/admin", s.handleSetAccessorAdmin).Methods("PUT")
	api.HandleFunc("/accessors/{id}", s.handleDeleteAccessor).Methods("DELETE")

	// Account endpoints
	api.HandleFunc("/users", s.handleRegister).Methods("POST")
	api.HandleFunc("/users/me", s.handleGetMe).Methods("GET")
	api.HandleFunc("/emails", s.handleAddEmail).Methods("POST")
	api.HandleFunc("/emails", s.handleListEmails).Methods("GET")
	api.HandleFunc("/emails/verify", s.handleVerifyEmail).Methods("POST")

	// Content endpoints
	api.HandleFunc("/profiles", s.handleCreateProfile).Methods("POST")
	api.HandleFunc("/profiles/{id}", s.handleGetProfile).Methods("GET")
	api.HandleFunc("/profiles/{id}", s.handleUpdateProfile).Methods("PUT")
	api.HandleFunc("/profiles/{id}", s.handleDeleteContent(types.KindProfile)).Methods("DELETE")
	api.HandleFunc("/users/{userId}/profiles", s.handleListProfiles).Methods("GET")
	api.HandleFunc("/profiles/{id}/topics", s.handleCreateTopic).Methods("POST")
	api.HandleFunc("/profiles/{id}/topics", s.handleListTopics).Methods("GET")
	api.HandleFunc("/topics/{id}", s.handleDeleteContent(types.KindProfileTopic)).Methods("DELETE")
	api.HandleFunc("/topics/{id}/items", s.handleCreateItem).Methods("POST")
	api.HandleFunc("/items/{id}", s.handleUpdateItem).Methods("PUT")
	api.HandleFunc("/items/{id}", s.handleDeleteContent(types.KindProfileItem)).Methods("DELETE")
	api.HandleFunc("/items/{id}/entries", s.handleCreateListEntry).Methods("POST")
	api.HandleFunc("/entries/{id}", s.handleUpdateText(types.KindListEntry)).Methods("PUT")
	api.HandleFunc("/entries/{id}", s.handleDeleteContent(types.KindListEntry)).Methods("DELETE")
	api.HandleFunc("/media", s.handleCreateMedia).Methods("POST")
	api.HandleFunc("/media/{id}", s.handleDeleteContent(types.KindMediaResource)).Methods("DELETE")
	api.HandleFunc("/journal", s.handleCreateJournalEntry).Methods("POST")
	api.HandleFunc("/journal/{id}", s.handleGetJournalEntry).Methods("GET")
	api.HandleFunc("/journal/{id}", s.handleUpdateText(types.KindJournalEntry)).Methods("PUT")
	api.HandleFunc("/journal/{id}", s.handleDeleteContent(types.KindJournalEntry)).Methods("DELETE")
	api.HandleFunc("/users/{userId}/journal", s.handleListJournalEntries).Methods("GET")
	api.HandleFunc("/journal/{id}/comments", s.handleCreateComment).Methods("POST")
	api.HandleFunc("/journal/{id}/comments", s.handleListComments).Methods("GET")
	api.HandleFunc("/comments/{id}", s.handleUpdateText(types.KindEntryComment)).Methods("PUT")
	api.HandleFunc("/comments/{id}", s.handleDeleteContent(types.KindEntryComment)).Methods("DELETE")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "know-me-server",
	})
}

// Router exposes the configured router (used by tests)
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
