package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creator-payments/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service owns every write to wallets and wallet_transactions.
//
// Money invariants:
// - Balance changes happen only inside the repository, as single conditional
//   updates executed in the same DB transaction as the ledger write.
// - Ledger rows are append-only; the only mutations are pending -> completed|failed
//   and, for a bank reversal, completed -> failed.
// - Idempotency is keyed on (reference, type); a replay is a normal outcome.
type Service struct {
	repo Repository
	opts Options
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

type Options struct {
	FeeRate  decimal.Decimal
	Currency string
	// CreditSales routes the net of each sale into the seller's available balance.
	CreditSales bool
}

func NewService(repo Repository, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	return &Service{repo: repo, opts: opts, clock: time.Now}
}

var (
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
	// ErrNotApplicable marks a charge that belongs to another purchase flow.
	ErrNotApplicable = errors.New("wallet: event not applicable")
	// ErrDuplicateReference is returned when a new payout reuses a reference.
	ErrDuplicateReference = errors.New("wallet: duplicate reference")
	// ErrBalanceInvariant means a settlement found less pending balance than the
	// payout it closes. The transaction is rolled back.
	ErrBalanceInvariant = errors.New("wallet: pending balance below settlement amount")
)

// SaleRequest describes a verified charge.success for a marketplace asset.
type SaleRequest struct {
	Reference  string
	GrossMinor money.Minor
	Currency   string

	SellerID   string
	BuyerID    string
	AssetID    string
	AssetKind  AssetKind
	PurchaseID string
	AssetTitle string
}

type SaleResult struct {
	Sale Transaction
	Fee  Transaction
	// Duplicate is true when the reference was already recorded; Sale and Fee
	// are then the caller's computed rows, not freshly written ones.
	Duplicate bool
}

func (s *Service) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return s.repo.GetWallet(ctx, userID)
}

// SaveRecipient caches the gateway recipient handle and the bank details it was
// registered with.
func (s *Service) SaveRecipient(ctx context.Context, userID, recipientRef string, bank BankDetails) error {
	if userID == "" || recipientRef == "" {
		return ErrInvalidArgument
	}
	return s.repo.SaveRecipient(ctx, userID, recipientRef, bank, s.clock().UTC())
}

// RecordSale writes the sale and fee rows for one charge, atomically.
func (s *Service) RecordSale(ctx context.Context, req SaleRequest) (SaleResult, error) {
	if req.SellerID == "" || req.AssetID == "" {
		return SaleResult{}, ErrNotApplicable
	}
	if req.Reference == "" || req.GrossMinor <= 0 {
		return SaleResult{}, ErrInvalidArgument
	}
	currency := req.Currency
	if currency == "" {
		currency = s.opts.Currency
	}

	fee, net := money.Split(req.GrossMinor, s.opts.FeeRate)
	now := s.clock().UTC()

	meta := Metadata{
		"seller_id":  req.SellerID,
		"asset_id":   req.AssetID,
		"asset_kind": string(req.AssetKind),
		"gross":      req.GrossMinor.String(),
		"fee":        fee.String(),
		"net":        net.String(),
		"fee_rate":   s.opts.FeeRate.String(),
		"currency":   currency,
	}
	if req.BuyerID != "" {
		meta["buyer_id"] = req.BuyerID
	}
	if req.PurchaseID != "" {
		meta["purchase_id"] = req.PurchaseID
	}

	sale := Transaction{
		ID:          uuid.NewString(),
		UserID:      req.SellerID,
		AmountMinor: net,
		Type:        TxTypeSale,
		Status:      TxStatusCompleted,
		Description: saleDescription(req),
		Reference:   req.Reference,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	feeRow := Transaction{
		ID:          uuid.NewString(),
		UserID:      req.SellerID,
		AmountMinor: fee,
		Type:        TxTypeFee,
		Status:      TxStatusCompleted,
		Description: "Platform fee",
		Reference:   req.Reference,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w := SaleWrite{
		Sale:         sale,
		Fee:          feeRow,
		PurchaseID:   req.PurchaseID,
		PurchaseKind: req.AssetKind,
		Currency:     currency,
	}
	if s.opts.CreditSales {
		w.CreditMinor = net
	}

	inserted, err := s.repo.InsertSale(ctx, w)
	if err != nil {
		return SaleResult{}, fmt.Errorf("record sale %s: %w", req.Reference, err)
	}
	return SaleResult{Sale: sale, Fee: feeRow, Duplicate: !inserted}, nil
}

func saleDescription(req SaleRequest) string {
	what := "Sale"
	switch req.AssetKind {
	case AssetKindTemplate:
		what = "Template sale"
	case AssetKindProduct:
		what = "Product sale"
	}
	if req.AssetTitle != "" {
		return what + ": " + req.AssetTitle
	}
	return what
}

type ReserveRequest struct {
	UserID      string
	AmountMinor money.Minor
	Reference   string
	Metadata    Metadata
}

// ReservePayout moves AmountMinor from available to pending and writes the
// pending payout row in the same DB transaction. The balance check happens in
// the UPDATE itself.
func (s *Service) ReservePayout(ctx context.Context, req ReserveRequest) (Transaction, Wallet, error) {
	if req.UserID == "" || req.Reference == "" || req.AmountMinor <= 0 {
		return Transaction{}, Wallet{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		AmountMinor: req.AmountMinor,
		Type:        TxTypePayout,
		Status:      TxStatusPending,
		Description: "Payout to bank account",
		Reference:   req.Reference,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w, err := s.repo.ReservePayout(ctx, tx)
	if err != nil {
		return Transaction{}, Wallet{}, err
	}
	return tx, w, nil
}

// AnnotatePayout merges gateway details into a payout row's metadata.
func (s *Service) AnnotatePayout(ctx context.Context, reference string, meta Metadata) error {
	if reference == "" || len(meta) == 0 {
		return ErrInvalidArgument
	}
	return s.repo.MergeMetadata(ctx, reference, TxTypePayout, meta, s.clock().UTC())
}

// SettlePayout applies a terminal outcome to a pending payout.
//
// completed: pending -= amount.
// failed:    pending -= amount, available += amount.
//
// applied is false when the row was already terminal; nothing changes then.
func (s *Service) SettlePayout(ctx context.Context, reference string, outcome TxStatus, meta Metadata) (Transaction, bool, error) {
	if reference == "" || !outcome.Terminal() {
		return Transaction{}, false, ErrInvalidArgument
	}
	return s.repo.SettlePayout(ctx, reference, outcome, meta, s.clock().UTC())
}

// ReversePayout handles a transfer the bank returned after it completed:
// completed -> failed and available += amount.
func (s *Service) ReversePayout(ctx context.Context, reference string, meta Metadata) (Transaction, bool, error) {
	if reference == "" {
		return Transaction{}, false, ErrInvalidArgument
	}
	return s.repo.ReverseCompletedPayout(ctx, reference, meta, s.clock().UTC())
}

// PendingPayouts lists payouts still pending after olderThan.
func (s *Service) PendingPayouts(ctx context.Context, olderThan time.Duration, limit int) ([]Transaction, error) {
	if olderThan < 0 {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListPendingPayouts(ctx, s.clock().UTC().Add(-olderThan), limit)
}

func (s *Service) ListTransactions(ctx context.Context, userID string, f ListFilter) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.repo.ListTransactions(ctx, userID, f)
}
