package wallet

import (
	"time"

	"creator-payments/internal/money"
)

// Wallet is the per-user balance projection.
//
// Invariants:
// - AvailableMinor and PendingMinor are never negative (enforced by CHECK constraints
//   and by conditional updates; nothing reads a balance and writes it back).
// - PendingMinor is non-zero only while a payout row is pending.
type Wallet struct {
	UserID         string      `json:"user_id" db:"user_id"`
	AvailableMinor money.Minor `json:"available_minor" db:"available_balance"`
	PendingMinor   money.Minor `json:"pending_minor" db:"pending_balance"`
	Currency       string      `json:"currency" db:"currency"`

	// RecipientRef is the gateway's handle for the verified payout destination.
	RecipientRef string `json:"recipient_reference,omitempty" db:"recipient_reference"`
	// BankDetails is the last-used destination. Display and change detection only.
	BankDetails *BankDetails `json:"bank_details,omitempty" db:"bank_details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type BankDetails struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

func (b BankDetails) Complete() bool {
	return b.AccountName != "" && b.AccountNumber != "" && b.BankCode != ""
}

// SameDestination reports whether b points at the same account as other.
// Account name is ignored; the gateway resolves it from number + bank.
func (b BankDetails) SameDestination(other BankDetails) bool {
	return b.AccountNumber == other.AccountNumber && b.BankCode == other.BankCode
}

// Transaction is a ledger row. Only Status, Metadata (merged) and UpdatedAt
// ever change: pending -> terminal, or completed -> failed on a reversal.
type Transaction struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// AmountMinor is a magnitude; direction comes from Type.
	AmountMinor money.Minor `json:"amount_minor" db:"amount"`
	Type        TxType      `json:"type" db:"type"`
	Status      TxStatus    `json:"status" db:"status"`
	Description string      `json:"description" db:"description"`

	// Reference is the idempotency key. Unique per (reference, type).
	Reference string   `json:"reference" db:"reference"`
	Metadata  Metadata `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Metadata is free-form ledger context stored as JSONB.
type Metadata map[string]any

type TxType string

const (
	TxTypeSale   TxType = "sale"   // seller's net share, credit
	TxTypeFee    TxType = "fee"    // platform share, informational
	TxTypePayout TxType = "payout" // withdrawal to bank, debit
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeSale, TxTypeFee, TxTypePayout:
		return true
	default:
		return false
	}
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

func (s TxStatus) Terminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

// AssetKind names the content-subsystem table a purchase lives in.
type AssetKind string

const (
	AssetKindTemplate AssetKind = "template"
	AssetKindProduct  AssetKind = "product"
)

func (k AssetKind) purchaseTable() string {
	switch k {
	case AssetKindTemplate:
		return "template_purchases"
	case AssetKindProduct:
		return "product_sales"
	default:
		return ""
	}
}
