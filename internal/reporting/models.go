package reporting

import (
	"time"

	"creator-payments/internal/money"
	"creator-payments/internal/wallet"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// EarningsSummaryRequest asks for one seller's totals over [From, To).
type EarningsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

// EarningsSummary is derived from immutable ledger rows only.
type EarningsSummary struct {
	UserID   string    `json:"user_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`

	SalesCount int         `json:"sales_count"`
	GrossMinor money.Minor `json:"gross_minor"`
	FeesMinor  money.Minor `json:"fees_minor"`
	NetMinor   money.Minor `json:"net_minor"`

	PaidOutMinor       money.Minor `json:"paid_out_minor"`
	PendingPayoutMinor money.Minor `json:"pending_payout_minor"`
	FailedPayoutMinor  money.Minor `json:"failed_payout_minor"`
	PayoutCount        int         `json:"payout_count"`
}

// Bucket is a (type, status) aggregate over ledger rows.
type Bucket struct {
	Type     wallet.TxType
	Status   wallet.TxStatus
	Count    int
	SumMinor money.Minor
}
