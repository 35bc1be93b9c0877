package models

import "time"

// Receipt represents a verified App Store receipt bound to a subscription.
//
// ReceiptHash, LatestReceiptHash and TransactionID are each globally unique
// across all receipts: no two users may hold the same underlying App Store
// subscription, even across receipt refreshes.
type Receipt struct {
	ID             string `json:"id" db:"id"`
	SubscriptionID string `json:"subscriptionId" db:"subscription_id"`

	// ReceiptData is the opaque base-64 blob the client uploaded
	ReceiptData string `json:"receiptData" db:"receipt_data"`
	// ReceiptHash is the SHA-256 of ReceiptData, 64-char hex
	ReceiptHash string `json:"receiptHash" db:"receipt_hash"`
	// LatestReceiptData is the most recent blob returned by the verifier
	LatestReceiptData string `json:"latestReceiptData" db:"latest_receipt_data"`
	// LatestReceiptHash is the SHA-256 of LatestReceiptData, 64-char hex
	LatestReceiptHash string `json:"latestReceiptHash" db:"latest_receipt_hash"`
	// TransactionID is the original transaction identifier of the subscription
	TransactionID string `json:"transactionId" db:"transaction_id"`
	// Expiration is the end of the latest verified coverage period
	Expiration time.Time `json:"expiration" db:"expiration"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
