package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/storage"
	"github.com/know-me-server/internal/types"
	"github.com/know-me-server/internal/verifier"
)

// mockReceiptStore is an in-memory ReceiptStore keyed by user id
type mockReceiptStore struct {
	receipts   map[string]*models.Receipt
	hashOwners map[string]string
	upserts    []*storage.ReceiptUpsert
	deleted    []string
	upsertErr  error
}

func newMockReceiptStore() *mockReceiptStore {
	return &mockReceiptStore{
		receipts:   make(map[string]*models.Receipt),
		hashOwners: make(map[string]string),
	}
}

func (m *mockReceiptStore) GetByUserID(ctx context.Context, userID string) (*models.Receipt, error) {
	return m.receipts[userID], nil
}

func (m *mockReceiptStore) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	_, ok := m.hashOwners[hash]
	return ok, nil
}

func (m *mockReceiptStore) OwnerUserIDByHash(ctx context.Context, hash string) (string, error) {
	return m.hashOwners[hash], nil
}

func (m *mockReceiptStore) Upsert(ctx context.Context, params *storage.ReceiptUpsert) (*models.Receipt, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	m.upserts = append(m.upserts, params)

	rec := &models.Receipt{
		ID:                "receipt-" + params.UserID,
		SubscriptionID:    "sub-" + params.UserID,
		ReceiptData:       params.ReceiptData,
		ReceiptHash:       params.ReceiptHash,
		LatestReceiptData: params.LatestReceiptData,
		LatestReceiptHash: params.LatestReceiptHash,
		TransactionID:     params.TransactionID,
		Expiration:        params.Expiration,
	}
	m.receipts[params.UserID] = rec
	m.hashOwners[params.ReceiptHash] = params.UserID
	m.hashOwners[params.LatestReceiptHash] = params.UserID
	return rec, nil
}

func (m *mockReceiptStore) Delete(ctx context.Context, userID string) error {
	m.deleted = append(m.deleted, userID)
	delete(m.receipts, userID)
	return nil
}

// mockSubscriptionStore is an in-memory SubscriptionStore keyed by user id
type mockSubscriptionStore struct {
	subs      map[string]*models.Subscription
	transfers [][2]string
	setStates []string
}

func newMockSubscriptionStore() *mockSubscriptionStore {
	return &mockSubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func (m *mockSubscriptionStore) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	return m.subs[userID], nil
}

func (m *mockSubscriptionStore) IsActive(ctx context.Context, userID string) (bool, error) {
	sub := m.subs[userID]
	return sub != nil && sub.IsActive, nil
}

func (m *mockSubscriptionStore) SetState(ctx context.Context, userID string, isActive, isLegacy bool) (*models.Subscription, error) {
	m.setStates = append(m.setStates, fmt.Sprintf("%s:%v:%v", userID, isActive, isLegacy))

	sub := m.subs[userID]
	if sub == nil {
		sub = &models.Subscription{ID: "sub-" + userID, UserID: userID}
		m.subs[userID] = sub
	}
	sub.IsActive = isActive
	sub.IsLegacy = isLegacy
	return sub, nil
}

func (m *mockSubscriptionStore) ListLegacy(ctx context.Context) ([]*models.Subscription, error) {
	var legacy []*models.Subscription
	for _, sub := range m.subs {
		if sub.IsLegacy {
			legacy = append(legacy, sub)
		}
	}
	return legacy, nil
}

func (m *mockSubscriptionStore) Transfer(ctx context.Context, fromUserID, toUserID string) error {
	sub := m.subs[fromUserID]
	if sub == nil {
		return errors.NewNotAuthorizedError()
	}
	m.transfers = append(m.transfers, [2]string{fromUserID, toUserID})
	delete(m.subs, fromUserID)
	sub.UserID = toUserID
	m.subs[toUserID] = sub
	return nil
}

// mockEmailStore is an in-memory email repository implementing both the read
// and write sides
type mockEmailStore struct {
	emails []*models.EmailAddress
	nextID int
}

func newMockEmailStore() *mockEmailStore {
	return &mockEmailStore{}
}

func (m *mockEmailStore) add(userID, email string, verified, primary bool) *models.EmailAddress {
	m.nextID++
	addr := &models.EmailAddress{
		ID:         fmt.Sprintf("email-%d", m.nextID),
		UserID:     userID,
		Email:      strings.ToLower(email),
		IsVerified: verified,
		IsPrimary:  primary,
	}
	m.emails = append(m.emails, addr)
	return addr
}

func (m *mockEmailStore) Create(ctx context.Context, email *models.EmailAddress) error {
	for _, e := range m.emails {
		if e.Email == strings.ToLower(email.Email) {
			return &types.ServiceError{Code: "CONFLICT", Message: "email already registered"}
		}
	}
	created := m.add(email.UserID, email.Email, false, true)
	*email = *created
	return nil
}

func (m *mockEmailStore) GetVerifiedByEmail(ctx context.Context, email string) (*models.EmailAddress, error) {
	for _, e := range m.emails {
		if e.Email == strings.ToLower(email) && e.IsVerified {
			return e, nil
		}
	}
	return nil, nil
}

func (m *mockEmailStore) ListByUser(ctx context.Context, userID string) ([]*models.EmailAddress, error) {
	var out []*models.EmailAddress
	for _, e := range m.emails {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEmailStore) ListVerifiedEmails(ctx context.Context) ([]*models.EmailAddress, error) {
	var out []*models.EmailAddress
	for _, e := range m.emails {
		if e.IsVerified {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEmailStore) MarkVerified(ctx context.Context, email string) (*models.EmailAddress, error) {
	for _, e := range m.emails {
		if e.Email == strings.ToLower(email) {
			e.IsVerified = true
			return e, nil
		}
	}
	return nil, errors.NewNotFoundError("email", email)
}

// mockAccessorStore is an in-memory AccessorStore preserving insertion order
type mockAccessorStore struct {
	accessors []*models.Accessor
	nextID    int
}

func newMockAccessorStore() *mockAccessorStore {
	return &mockAccessorStore{}
}

func (m *mockAccessorStore) byID(id string) *models.Accessor {
	for _, a := range m.accessors {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (m *mockAccessorStore) Create(ctx context.Context, accessor *models.Accessor) error {
	m.nextID++
	accessor.ID = fmt.Sprintf("accessor-%d", m.nextID)
	accessor.CreatedAt = time.Now().UTC()
	m.accessors = append(m.accessors, accessor)
	return nil
}

func (m *mockAccessorStore) GetByID(ctx context.Context, id string) (*models.Accessor, error) {
	if a := m.byID(id); a != nil {
		return a, nil
	}
	return nil, errors.NewNotFoundError("accessor", id)
}

func (m *mockAccessorStore) GetByOwnerAndEmail(ctx context.Context, ownerUserID, email string) (*models.Accessor, error) {
	for _, a := range m.accessors {
		if a.OwnerUserID == ownerUserID && a.Email == strings.ToLower(email) {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockAccessorStore) GetByOwnerAndInvited(ctx context.Context, ownerUserID, invitedUserID string) (*models.Accessor, error) {
	for _, a := range m.accessors {
		if a.OwnerUserID == ownerUserID && a.InvitedUserID == invitedUserID && a.IsBound() {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockAccessorStore) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Accessor, error) {
	var out []*models.Accessor
	for _, a := range m.accessors {
		if a.OwnerUserID == ownerUserID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccessorStore) ListByInvited(ctx context.Context, invitedUserID string) ([]*models.Accessor, error) {
	var out []*models.Accessor
	for _, a := range m.accessors {
		if a.InvitedUserID == invitedUserID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccessorStore) ListPendingByEmail(ctx context.Context, email string) ([]*models.Accessor, error) {
	var out []*models.Accessor
	for _, a := range m.accessors {
		if a.Email == strings.ToLower(email) && !a.IsBound() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccessorStore) Bind(ctx context.Context, id, invitedUserID string) (*models.Accessor, error) {
	a := m.byID(id)
	if a == nil || a.IsBound() {
		return nil, errors.NewNotFoundError("pending accessor", id)
	}
	a.InvitedUserID = invitedUserID
	return a, nil
}

func (m *mockAccessorStore) SetAccepted(ctx context.Context, id string, accepted bool) (*models.Accessor, error) {
	a := m.byID(id)
	if a == nil {
		return nil, errors.NewNotFoundError("accessor", id)
	}
	a.IsAccepted = accepted
	return a, nil
}

func (m *mockAccessorStore) SetAdmin(ctx context.Context, id string, admin bool) (*models.Accessor, error) {
	a := m.byID(id)
	if a == nil {
		return nil, errors.NewNotFoundError("accessor", id)
	}
	a.IsAdmin = admin
	return a, nil
}

func (m *mockAccessorStore) Delete(ctx context.Context, id string) error {
	for i, a := range m.accessors {
		if a.ID == id {
			m.accessors = append(m.accessors[:i], m.accessors[i+1:]...)
			return nil
		}
	}
	return errors.NewNotFoundError("accessor", id)
}

// mockUserStore is an in-memory UserStore
type mockUserStore struct {
	users  map[string]*models.User
	nextID int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*models.User)}
}

func (m *mockUserStore) Create(ctx context.Context, user *models.User) error {
	m.nextID++
	user.ID = fmt.Sprintf("user-%d", m.nextID)
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return nil
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := m.users[id]
	if user == nil {
		return nil, errors.NewNotFoundError("user", id)
	}
	return user, nil
}

func (m *mockUserStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.users[id]
	return ok, nil
}

func (m *mockUserStore) Delete(ctx context.Context, id string) error {
	delete(m.users, id)
	return nil
}

// mockReceiptVerifier returns a canned transaction or error
type mockReceiptVerifier struct {
	tx    *verifier.Transaction
	err   error
	env   types.Environment
	calls int
}

func (m *mockReceiptVerifier) Verify(ctx context.Context, blob string) (*verifier.Transaction, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}

func (m *mockReceiptVerifier) DetectEnvironment(ctx context.Context, blob string) (types.Environment, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.env, nil
}

// mockPremiumChecker answers Active from a fixed map
type mockPremiumChecker struct {
	active map[string]bool
}

func (m *mockPremiumChecker) Active(ctx context.Context, userID string) (bool, error) {
	return m.active[userID], nil
}

// mockMailer records sent invitations
type mockMailer struct {
	sent    []string
	sendErr error
}

func (m *mockMailer) SendAccessorInvite(ctx context.Context, toEmail, ownerUserID string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, toEmail)
	return nil
}
