// Package verifier provides the App Store receipt verification client.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/errors"
	"github.com/know-me-server/internal/retry"
	"github.com/know-me-server/internal/types"
	"golang.org/x/time/rate"
)

// Verification endpoint status codes
const (
	statusOK                  = 0
	statusMalformed           = 21002
	statusBadSecret           = 21003
	statusUnavailable         = 21005
	statusSandboxToProduction = 21007
	statusProductionToSandbox = 21008
	statusUnauthorized        = 21010
)

// Transaction describes the latest period of subscription coverage extracted
// from a verified receipt
type Transaction struct {
	// OriginalTransactionID uniquely identifies the underlying subscription
	OriginalTransactionID string
	// ProductID is the purchased product identifier
	ProductID string
	// ExpiresAt is the end of the coverage period, UTC
	ExpiresAt time.Time
	// LatestReceiptData is the refreshed receipt blob returned by the verifier
	LatestReceiptData string
}

// Client talks to the App Store receipt verification service.
// The upstream endpoint is rate-limited; all requests go through a shared
// token bucket.
type Client struct {
	endpoint           string
	productionEndpoint string
	sharedSecret       string
	apple              *config.AppleConfig
	httpClient         *http.Client
	limiter            *rate.Limiter
	retryConfig        *retry.Config
}

// verifyRequest is the wire format sent to the verification endpoint
type verifyRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password"`
}

// verifyResponse is the wire format returned by the verification endpoint
type verifyResponse struct {
	Status            int                 `json:"status"`
	IsRetryable       bool                `json:"is-retryable"`
	LatestReceipt     string              `json:"latest_receipt"`
	LatestReceiptInfo []latestReceiptInfo `json:"latest_receipt_info"`
}

// latestReceiptInfo is a single transaction inside the receipt's history
type latestReceiptInfo struct {
	ProductID             string `json:"product_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ExpiresDateMS         string `json:"expires_date_ms"`
}

// NewClient creates a new verification client
func NewClient(apple *config.AppleConfig) *Client {
	// Verification endpoint throttling: 10 req/sec with small bursts
	const requestsPerSecond = 10

	return &Client{
		endpoint:           apple.ValidationEndpoint,
		productionEndpoint: apple.ProductionEndpoint,
		sharedSecret:       apple.SharedSecret,
		apple:              apple,
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		limiter:            rate.NewLimiter(rate.Limit(requestsPerSecond), 5),
		retryConfig:        retry.DefaultConfig(),
	}
}

// SetHTTPClient replaces the underlying HTTP client (used by tests)
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetRetryConfig replaces the retry configuration (used by tests)
func (c *Client) SetRetryConfig(cfg *retry.Config) {
	c.retryConfig = cfg
}

// Verify validates a receipt blob against the configured verification
// endpoint and returns the latest transaction it attests.
//
// The upstream contract says retry immediately whenever the response is
// flagged retryable; this client bounds that loop with exponential backoff so
// a wedged upstream cannot pin the caller.
func (c *Client) Verify(ctx context.Context, blob string) (*Transaction, error) {
	var resp *verifyResponse

	err := retry.WithExponentialBackoff(ctx, c.retryConfig, func(ctx context.Context, attempt int) error {
		r, err := c.post(ctx, c.endpoint, blob)
		if err != nil {
			// Network failures are transient by definition
			return err
		}
		if r.IsRetryable {
			return fmt.Errorf("verifier flagged response retryable (status %d)", r.Status)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, errors.NewVerifierUnavailableError(err)
	}

	if err := classifyStatus(resp.Status); err != nil {
		return nil, err
	}

	return c.extractTransaction(resp)
}

// DetectEnvironment determines whether a receipt belongs to the production or
// sandbox App Store tier by validating it against the production endpoint.
func (c *Client) DetectEnvironment(ctx context.Context, blob string) (types.Environment, error) {
	resp, err := c.post(ctx, c.productionEndpoint, blob)
	if err != nil {
		return "", errors.NewVerifierUnavailableError(err)
	}

	switch resp.Status {
	case statusOK, statusProductionToSandbox:
		return types.EnvironmentProduction, nil
	case statusSandboxToProduction:
		return types.EnvironmentSandbox, nil
	default:
		return "", classifyStatus(resp.Status)
	}
}

// post sends a single verification request and decodes the response
func (c *Client) post(ctx context.Context, endpoint, blob string) (*verifyResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(verifyRequest{
		ReceiptData: blob,
		Password:    c.sharedSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification endpoint returned HTTP %d", httpResp.StatusCode)
	}

	var resp verifyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}

	return &resp, nil
}

// classifyStatus maps a verification status code to a classified failure.
// Returns nil for status 0.
func classifyStatus(status int) error {
	switch status {
	case statusOK:
		return nil
	case statusMalformed:
		return errors.NewInvalidReceiptError(types.ReasonMalformed)
	case statusBadSecret, statusUnauthorized:
		return errors.NewInvalidReceiptError(types.ReasonUnauthenticated)
	case statusUnavailable:
		return errors.NewVerifierUnavailableError(nil)
	case statusSandboxToProduction:
		return errors.NewWrongEnvironmentError(types.EnvironmentSandbox)
	case statusProductionToSandbox:
		return errors.NewWrongEnvironmentError(types.EnvironmentProduction)
	default:
		return errors.NewUnexpectedVerifierStatusError(status)
	}
}

// extractTransaction pulls the current transaction out of a valid response
func (c *Client) extractTransaction(resp *verifyResponse) (*Transaction, error) {
	if len(resp.LatestReceiptInfo) == 0 {
		return nil, errors.NewInvalidReceiptError(types.ReasonNotSubscription)
	}

	// The last element is the current period of coverage
	latest := resp.LatestReceiptInfo[len(resp.LatestReceiptInfo)-1]

	if !c.apple.IsPremiumProduct(latest.ProductID) {
		return nil, errors.NewInvalidReceiptError(types.ReasonUnknownProduct)
	}

	expiresMS, err := strconv.ParseInt(latest.ExpiresDateMS, 10, 64)
	if err != nil {
		return nil, errors.NewInvalidReceiptError(types.ReasonMalformed)
	}

	return &Transaction{
		OriginalTransactionID: latest.OriginalTransactionID,
		ProductID:             latest.ProductID,
		ExpiresAt:             time.UnixMilli(expiresMS).UTC(),
		LatestReceiptData:     resp.LatestReceipt,
	}, nil
}
