package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/service"
	"github.com/know-me-server/internal/types"
	"github.com/know-me-server/internal/verifier"
)

// mockReceiptSource is an in-memory ReceiptSource
type mockReceiptSource struct {
	expiring     []*models.Receipt
	userBySub    map[string]string
	conflicts    map[string]bool
	updated      []string
	deactivated  []string
	updatedExpir map[string]time.Time
}

func newMockReceiptSource() *mockReceiptSource {
	return &mockReceiptSource{
		userBySub:    make(map[string]string),
		conflicts:    make(map[string]bool),
		updatedExpir: make(map[string]time.Time),
	}
}

func (m *mockReceiptSource) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Receipt, error) {
	var out []*models.Receipt
	for _, rec := range m.expiring {
		if rec.Expiration.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockReceiptSource) SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error) {
	return m.userBySub[subscriptionID], nil
}

func (m *mockReceiptSource) HasHashConflict(ctx context.Context, receiptID, hash string) (bool, error) {
	return m.conflicts[hash], nil
}

func (m *mockReceiptSource) UpdateVerified(ctx context.Context, receiptID, latestData, latestHash string, expiration time.Time) error {
	m.updated = append(m.updated, receiptID)
	m.updatedExpir[receiptID] = expiration
	return nil
}

func (m *mockReceiptSource) DeactivateSubscription(ctx context.Context, subscriptionID string) error {
	m.deactivated = append(m.deactivated, subscriptionID)
	return nil
}

// mockSubscriptionSource is an in-memory SubscriptionSource. The worker
// calls it from its own goroutine, so the call counter is guarded.
type mockSubscriptionSource struct {
	mu          sync.Mutex
	subs        map[string]*models.Subscription
	orphanCount int64
	orphanCalls int
}

func newMockSubscriptionSource() *mockSubscriptionSource {
	return &mockSubscriptionSource{subs: make(map[string]*models.Subscription)}
}

func (m *mockSubscriptionSource) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	return m.subs[userID], nil
}

func (m *mockSubscriptionSource) DeactivateOrphans(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphanCalls++
	return m.orphanCount, nil
}

func (m *mockSubscriptionSource) orphanSweeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orphanCalls
}

// mockWorkerVerifier returns per-blob canned results
type mockWorkerVerifier struct {
	results map[string]*verifier.Transaction
	errs    map[string]error
	calls   []string
}

func newMockWorkerVerifier() *mockWorkerVerifier {
	return &mockWorkerVerifier{
		results: make(map[string]*verifier.Transaction),
		errs:    make(map[string]error),
	}
}

func (m *mockWorkerVerifier) Verify(ctx context.Context, blob string) (*verifier.Transaction, error) {
	m.calls = append(m.calls, blob)
	if err := m.errs[blob]; err != nil {
		return nil, err
	}
	return m.results[blob], nil
}

// mockLegacySyncer counts sync invocations
type mockLegacySyncer struct {
	calls int
}

func (m *mockLegacySyncer) SyncLegacy(ctx context.Context) error {
	m.calls++
	return nil
}

func newTestWorker(t *testing.T, receipts *mockReceiptSource, subs *mockSubscriptionSource, v *mockWorkerVerifier) *ReconcileWorker {
	t.Helper()

	w, err := NewReconcileWorker(&ReconcileWorkerConfig{
		Receipts:      receipts,
		Subscriptions: subs,
		Verifier:      v,
		Legacy:        &mockLegacySyncer{},
		Interval:      time.Hour,
		RenewalWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewReconcileWorker failed: %v", err)
	}
	return w
}

func expiringReceipt(id, subID, blob string) *models.Receipt {
	return &models.Receipt{
		ID:                id,
		SubscriptionID:    subID,
		ReceiptData:       blob,
		ReceiptHash:       service.HashReceipt(blob),
		LatestReceiptData: blob,
		LatestReceiptHash: service.HashReceipt(blob),
		TransactionID:     "txn-" + id,
		Expiration:        time.Now().Add(10 * time.Minute).UTC(),
	}
}

func TestReconcile_Renewal(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "user-1"

	renewedUntil := time.Now().Add(30 * 24 * time.Hour).UTC()
	v.results["blob-1"] = &verifier.Transaction{
		OriginalTransactionID: "txn-r1",
		ExpiresAt:             renewedUntil,
		LatestReceiptData:     "blob-1-renewed",
	}

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Checked != 1 || result.Renewed != 1 || result.Deactivated != 0 {
		t.Errorf("Expected 1 checked, 1 renewed, got %+v", result)
	}
	if len(receipts.updated) != 1 || receipts.updated[0] != "r1" {
		t.Errorf("Expected r1 updated, got %v", receipts.updated)
	}
	if !receipts.updatedExpir["r1"].Equal(renewedUntil) {
		t.Errorf("Expected persisted expiration %v, got %v", renewedUntil, receipts.updatedExpir["r1"])
	}
	if len(receipts.deactivated) != 0 {
		t.Errorf("Expected no deactivations, got %v", receipts.deactivated)
	}
}

func TestReconcile_VerifiedButExpired(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "user-1"

	// Verifies fine but no renewal happened
	v.results["blob-1"] = &verifier.Transaction{
		OriginalTransactionID: "txn-r1",
		ExpiresAt:             time.Now().Add(-time.Hour).UTC(),
		LatestReceiptData:     "blob-1",
	}

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Deactivated != 1 || result.Renewed != 0 {
		t.Errorf("Expected 1 deactivated, got %+v", result)
	}
	// The verified-but-expired state is still persisted
	if len(receipts.updated) != 1 {
		t.Errorf("Expected receipt state persisted, got %v", receipts.updated)
	}
}

// A verifier outage deactivates like any other failure; the receipt row
// survives so the next sweep can reactivate once the outage clears
func TestReconcile_TransientFailureDeactivates(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "user-1"
	v.errs["blob-1"] = errors.NewVerifierUnavailableError(nil)

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Deactivated != 1 {
		t.Errorf("Expected outage to deactivate pending recovery, got %+v", result)
	}
	if len(receipts.deactivated) != 1 || receipts.deactivated[0] != "sub-1" {
		t.Errorf("Expected sub-1 deactivated, got %v", receipts.deactivated)
	}
	if len(receipts.updated) != 0 {
		t.Error("Expected receipt row untouched during an outage")
	}
}

func TestReconcile_PermanentFailureDeactivates(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "user-1"
	v.errs["blob-1"] = errors.NewInvalidReceiptError(types.ReasonMalformed)

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Deactivated != 1 {
		t.Errorf("Expected 1 deactivated, got %+v", result)
	}
	if len(receipts.deactivated) != 1 || receipts.deactivated[0] != "sub-1" {
		t.Errorf("Expected sub-1 deactivated, got %v", receipts.deactivated)
	}
	// The receipt row stays for support inspection
	if len(receipts.updated) != 0 {
		t.Errorf("Expected no receipt update after failed revalidation, got %v", receipts.updated)
	}
}

func TestReconcile_LegacyUserSkipped(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "legacy-user"
	subs.subs["legacy-user"] = &models.Subscription{UserID: "legacy-user", IsActive: true, IsLegacy: true}

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Skipped != 1 {
		t.Errorf("Expected legacy receipt skipped, got %+v", result)
	}
	if len(v.calls) != 0 {
		t.Errorf("Expected no verifier calls for legacy users, got %v", v.calls)
	}
}

func TestReconcile_HashConflictDeactivates(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	receipts.expiring = []*models.Receipt{expiringReceipt("r1", "sub-1", "blob-1")}
	receipts.userBySub["sub-1"] = "user-1"

	// The refreshed blob's hash is already claimed by another receipt
	v.results["blob-1"] = &verifier.Transaction{
		OriginalTransactionID: "txn-r1",
		ExpiresAt:             time.Now().Add(time.Hour).UTC(),
		LatestReceiptData:     "stolen-blob",
	}
	receipts.conflicts[service.HashReceipt("stolen-blob")] = true

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Deactivated != 1 {
		t.Errorf("Expected hash conflict to deactivate, got %+v", result)
	}
	if len(receipts.updated) != 0 {
		t.Errorf("Expected conflicting blob never adopted, got %v", receipts.updated)
	}
}

func TestReconcile_UsesOriginalBlobWhenNoRefresh(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	rec := expiringReceipt("r1", "sub-1", "blob-1")
	rec.LatestReceiptData = ""
	rec.LatestReceiptHash = ""
	receipts.expiring = []*models.Receipt{rec}
	receipts.userBySub["sub-1"] = "user-1"

	v.results["blob-1"] = &verifier.Transaction{
		OriginalTransactionID: "txn-r1",
		ExpiresAt:             time.Now().Add(time.Hour).UTC(),
		LatestReceiptData:     "blob-1",
	}

	w := newTestWorker(t, receipts, subs, v)

	if _, err := w.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(v.calls) != 1 || v.calls[0] != "blob-1" {
		t.Errorf("Expected original blob used, got %v", v.calls)
	}
}

func TestReconcile_OnlyExpiringReceipts(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()

	fresh := expiringReceipt("fresh", "sub-2", "fresh-blob")
	fresh.Expiration = time.Now().Add(48 * time.Hour).UTC()
	receipts.expiring = []*models.Receipt{
		expiringReceipt("r1", "sub-1", "blob-1"),
		fresh,
	}
	receipts.userBySub["sub-1"] = "user-1"
	receipts.userBySub["sub-2"] = "user-2"

	v.results["blob-1"] = &verifier.Transaction{
		OriginalTransactionID: "txn-r1",
		ExpiresAt:             time.Now().Add(time.Hour).UTC(),
		LatestReceiptData:     "blob-1",
	}

	w := newTestWorker(t, receipts, subs, v)

	result, err := w.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Checked != 1 {
		t.Errorf("Expected only the expiring receipt checked, got %+v", result)
	}
}

func TestWorker_StartStop(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	subs.orphanCount = 2

	w := newTestWorker(t, receipts, subs, newMockWorkerVerifier())

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := w.Start(ctx); err == nil {
		t.Error("Expected second Start to fail")
	}

	// First sweep runs immediately
	deadline := time.Now().Add(2 * time.Second)
	for subs.orphanSweeps() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if subs.orphanSweeps() == 0 {
		t.Error("Expected an immediate sweep after start")
	}

	running, lastRun := w.Status()
	if !running {
		t.Error("Expected worker to report running")
	}
	if lastRun.IsZero() {
		t.Error("Expected a recorded sweep time")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if running, _ := w.Status(); running {
		t.Error("Expected worker to report stopped")
	}

	if err := w.Stop(stopCtx); err == nil {
		t.Error("Expected second Stop to fail")
	}
}

func TestNewReconcileWorker_Validation(t *testing.T) {
	receipts := newMockReceiptSource()
	subs := newMockSubscriptionSource()
	v := newMockWorkerVerifier()
	legacy := &mockLegacySyncer{}

	tests := []struct {
		name string
		cfg  *ReconcileWorkerConfig
	}{
		{"nil receipts", &ReconcileWorkerConfig{Subscriptions: subs, Verifier: v, Legacy: legacy}},
		{"nil subscriptions", &ReconcileWorkerConfig{Receipts: receipts, Verifier: v, Legacy: legacy}},
		{"nil verifier", &ReconcileWorkerConfig{Receipts: receipts, Subscriptions: subs, Legacy: legacy}},
		{"nil legacy syncer", &ReconcileWorkerConfig{Receipts: receipts, Subscriptions: subs, Verifier: v}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReconcileWorker(tt.cfg); err == nil {
				t.Error("Expected config validation error")
			}
		})
	}

	t.Run("defaults applied", func(t *testing.T) {
		w, err := NewReconcileWorker(&ReconcileWorkerConfig{
			Receipts:      receipts,
			Subscriptions: subs,
			Verifier:      v,
			Legacy:        legacy,
		})
		if err != nil {
			t.Fatalf("NewReconcileWorker failed: %v", err)
		}
		if w.interval != time.Hour || w.renewalWindow != time.Hour {
			t.Errorf("Expected 1h defaults, got interval=%v window=%v", w.interval, w.renewalWindow)
		}
	})
}
