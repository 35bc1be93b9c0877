// Package worker provides the background reconciliation worker that keeps
// subscription state consistent with receipts and the legacy registry.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	kmerrors "github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/models"
	"github.com/know-me-server/internal/service"
	"github.com/know-me-server/internal/storage"
	"github.com/know-me-server/internal/verifier"
)

// ReceiptSource is the receipt persistence surface the worker needs
type ReceiptSource interface {
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Receipt, error)
	SubscriptionUserID(ctx context.Context, subscriptionID string) (string, error)
	HasHashConflict(ctx context.Context, receiptID, hash string) (bool, error)
	UpdateVerified(ctx context.Context, receiptID, latestData, latestHash string, expiration time.Time) error
	DeactivateSubscription(ctx context.Context, subscriptionID string) error
}

// SubscriptionSource is the subscription persistence surface the worker needs
type SubscriptionSource interface {
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	DeactivateOrphans(ctx context.Context) (int64, error)
}

// ReceiptVerifier revalidates receipt blobs
type ReceiptVerifier interface {
	Verify(ctx context.Context, blob string) (*verifier.Transaction, error)
}

// LegacySyncer reconciles the legacy email registry
type LegacySyncer interface {
	SyncLegacy(ctx context.Context) error
}

// ReconcileWorker periodically sweeps subscription state: syncs the legacy
// registry, deactivates subscriptions with no receipt, and revalidates
// receipts approaching expiration so auto-renewals are picked up.
//
// Exactly one instance runs per deployment. The sweep is written to be
// idempotent so an operator can always run it by hand.
type ReconcileWorker struct {
	receipts      ReceiptSource
	subscriptions SubscriptionSource
	verifier      ReceiptVerifier
	legacy        LegacySyncer
	cache         *storage.SubscriptionCache

	interval      time.Duration
	renewalWindow time.Duration

	running bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastRunTime time.Time
}

// ReconcileWorkerConfig holds configuration for the reconciliation worker
type ReconcileWorkerConfig struct {
	Receipts      ReceiptSource
	Subscriptions SubscriptionSource
	Verifier      ReceiptVerifier
	Legacy        LegacySyncer
	Cache         *storage.SubscriptionCache
	// Interval is the delay between sweeps (default: 1 hour)
	Interval time.Duration
	// RenewalWindow is how far ahead of expiration receipts are revalidated
	// (default: 1 hour)
	RenewalWindow time.Duration
}

// NewReconcileWorker creates a new reconciliation worker
func NewReconcileWorker(cfg *ReconcileWorkerConfig) (*ReconcileWorker, error) {
	if cfg.Receipts == nil {
		return nil, fmt.Errorf("receipt source cannot be nil")
	}
	if cfg.Subscriptions == nil {
		return nil, fmt.Errorf("subscription source cannot be nil")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if cfg.Legacy == nil {
		return nil, fmt.Errorf("legacy syncer cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}
	renewalWindow := cfg.RenewalWindow
	if renewalWindow == 0 {
		renewalWindow = time.Hour
	}

	return &ReconcileWorker{
		receipts:      cfg.Receipts,
		subscriptions: cfg.Subscriptions,
		verifier:      cfg.Verifier,
		legacy:        cfg.Legacy,
		cache:         cfg.Cache,
		interval:      interval,
		renewalWindow: renewalWindow,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins the reconciliation loop
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconciliation worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.FromContext(ctx).
		WithField("interval", w.interval.String()).
		WithField("renewal_window", w.renewalWindow.String()).
		Info("reconciliation worker starting")

	go w.loop(ctx)

	return nil
}

// Stop gracefully stops the worker
func (w *ReconcileWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconciliation worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	logging.FromContext(ctx).Info("reconciliation worker stopped")
	return nil
}

// loop is the main ticker loop
func (w *ReconcileWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// First sweep runs immediately: a restarted worker should not wait a
	// full interval to catch up
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep executes one reconciliation pass
func (w *ReconcileWorker) sweep(ctx context.Context) {
	log := logging.FromContext(ctx)

	w.mu.Lock()
	w.lastRunTime = time.Now()
	w.mu.Unlock()

	start := time.Now()

	if err := w.legacy.SyncLegacy(ctx); err != nil {
		log.WithError(err).Error("legacy registry sync failed")
	}

	orphans, err := w.subscriptions.DeactivateOrphans(ctx)
	if err != nil {
		log.WithError(err).Error("orphan subscription sweep failed")
	} else if orphans > 0 {
		log.WithField("count", orphans).Info("deactivated orphan subscriptions")
	}

	result, err := w.Reconcile(ctx)
	if err != nil {
		log.WithError(err).Error("receipt reconciliation failed")
		return
	}

	log.WithField("checked", result.Checked).
		WithField("renewed", result.Renewed).
		WithField("deactivated", result.Deactivated).
		WithField("skipped", result.Skipped).
		WithField("duration", time.Since(start).String()).
		Info("reconciliation sweep finished")
}

// ReconcileResult summarizes one revalidation pass
type ReconcileResult struct {
	Checked     int
	Renewed     int
	Deactivated int
	Skipped     int
}

// Reconcile revalidates every receipt whose coverage ends within the renewal
// window. Receipts are processed sequentially: the verification endpoint is
// rate-limited and a single deployment-wide writer keeps state transitions
// serial.
func (w *ReconcileWorker) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	log := logging.FromContext(ctx)
	result := &ReconcileResult{}

	cutoff := time.Now().UTC().Add(w.renewalWindow)
	expiring, err := w.receipts.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring receipts: %w", err)
	}

	for _, rec := range expiring {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-w.stopCh:
			return result, nil
		default:
		}

		result.Checked++

		outcome, err := w.reconcileReceipt(ctx, rec)
		if err != nil {
			log.WithError(err).
				WithField("receipt_id", rec.ID).
				Error("failed to reconcile receipt")
			result.Skipped++
			continue
		}

		switch outcome {
		case outcomeRenewed:
			result.Renewed++
		case outcomeDeactivated:
			result.Deactivated++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	return result, nil
}

type reconcileOutcome int

const (
	outcomeRenewed reconcileOutcome = iota
	outcomeDeactivated
	outcomeSkipped
)

// reconcileReceipt revalidates a single receipt and applies the result
func (w *ReconcileWorker) reconcileReceipt(ctx context.Context, rec *models.Receipt) (reconcileOutcome, error) {
	log := logging.FromContext(ctx).WithField("receipt_id", rec.ID)

	userID, err := w.receipts.SubscriptionUserID(ctx, rec.SubscriptionID)
	if err != nil {
		return outcomeSkipped, err
	}

	// Legacy users keep premium regardless of receipt state; no point
	// burning verifier quota on them
	if userID != "" {
		sub, err := w.subscriptions.GetByUserID(ctx, userID)
		if err != nil {
			return outcomeSkipped, err
		}
		if sub != nil && sub.IsLegacy {
			return outcomeSkipped, nil
		}
	}

	// Revalidate with the freshest blob on file
	blob := rec.LatestReceiptData
	if blob == "" {
		blob = rec.ReceiptData
	}

	tx, err := w.verifier.Verify(ctx, blob)
	if err != nil {
		// Any verification failure ends premium, transient ones included. The
		// receipt row stays: the state is advisory and the next sweep picks the
		// receipt up again, reactivating it once it verifies.
		if kmerrors.IsTransient(err) {
			log.WithError(err).Warn("verifier unavailable, deactivating until the next sweep")
		} else {
			log.WithError(err).Info("receipt failed revalidation, deactivating subscription")
		}
		if err := w.receipts.DeactivateSubscription(ctx, rec.SubscriptionID); err != nil {
			return outcomeSkipped, err
		}
		w.cache.Invalidate(ctx, userID)
		return outcomeDeactivated, nil
	}

	newHash := service.HashReceipt(tx.LatestReceiptData)
	if newHash != rec.LatestReceiptHash {
		conflict, err := w.receipts.HasHashConflict(ctx, rec.ID, newHash)
		if err != nil {
			return outcomeSkipped, err
		}
		if conflict {
			// The refreshed blob collides with another account's receipt.
			// Never adopt it: deactivate and leave the conflict for support.
			log.WithField("hash", newHash).
				Warn("refreshed receipt hash collides with another receipt, deactivating")
			if err := w.receipts.DeactivateSubscription(ctx, rec.SubscriptionID); err != nil {
				return outcomeSkipped, err
			}
			w.cache.Invalidate(ctx, userID)
			return outcomeDeactivated, nil
		}
	}

	if err := w.receipts.UpdateVerified(ctx, rec.ID, tx.LatestReceiptData, newHash, tx.ExpiresAt); err != nil {
		return outcomeSkipped, err
	}
	w.cache.Invalidate(ctx, userID)

	if tx.ExpiresAt.After(time.Now().UTC()) {
		log.WithField("expiration", tx.ExpiresAt.Format(time.RFC3339)).
			Info("receipt renewed")
		return outcomeRenewed, nil
	}

	// Verified but expired: no renewal happened, subscription lapses
	return outcomeDeactivated, nil
}

// Status reports the worker's current state
func (w *ReconcileWorker) Status() (running bool, lastRun time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running, w.lastRunTime
}
