package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"creator-payments/internal/audit"
	"creator-payments/internal/gateway"
	"creator-payments/internal/metrics"
	"creator-payments/internal/money"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrBelowMinimum       = errors.New("payout: amount below minimum")
	ErrMissingBankDetails = errors.New("payout: bank details required")
	// ErrTransferUnconfirmed means the gateway call failed without a definitive
	// answer. The reservation stays pending until a transfer webhook settles it.
	ErrTransferUnconfirmed = errors.New("payout: transfer outcome unknown")
)

// Wallets is the slice of wallet.Service the payout flow needs.
type Wallets interface {
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	SaveRecipient(ctx context.Context, userID, recipientRef string, bank wallet.BankDetails) error
	ReservePayout(ctx context.Context, req wallet.ReserveRequest) (wallet.Transaction, wallet.Wallet, error)
	AnnotatePayout(ctx context.Context, reference string, meta wallet.Metadata) error
	SettlePayout(ctx context.Context, reference string, outcome wallet.TxStatus, meta wallet.Metadata) (wallet.Transaction, bool, error)
}

// Auditor records payout lifecycle steps. Failures are logged, never returned.
type Auditor interface {
	LogPayout(ctx context.Context, typ audit.EventType, userID, reference, message string, details map[string]any) error
}

type Options struct {
	MinAmount     money.Minor
	RecipientType string
	Currency      string
}

// Service runs the payout sequence: recipient, reserve, transfer.
//
// Ordering rule: once the reservation is committed, every later step runs on a
// context that ignores caller cancellation, so a dropped client cannot leave
// funds reserved without either a transfer or a rollback.
type Service struct {
	wallets Wallets
	gw      gateway.Client
	audit   Auditor
	opts    Options
	clock   func() time.Time
	// suffix makes references from the same millisecond distinct.
	suffix func() string
}

func NewService(wallets Wallets, gw gateway.Client, auditor Auditor, opts Options) *Service {
	if opts.RecipientType == "" {
		opts.RecipientType = "nuban"
	}
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	return &Service{wallets: wallets, gw: gw, audit: auditor, opts: opts, clock: time.Now, suffix: shortID}
}

type Request struct {
	UserID      string
	AmountMinor money.Minor
	// BankDetails is optional when a recipient is already cached.
	BankDetails *wallet.BankDetails
}

type Result struct {
	Reference    string
	AmountMinor  money.Minor
	Status       wallet.TxStatus
	TransferCode string
}

func (s *Service) Request(ctx context.Context, req Request) (Result, error) {
	if req.UserID == "" || req.AmountMinor <= 0 {
		return Result{}, wallet.ErrInvalidArgument
	}
	if req.AmountMinor < s.opts.MinAmount {
		return Result{}, ErrBelowMinimum
	}
	l := logger.From(ctx).With("user_id", req.UserID, "amount", req.AmountMinor.String())

	w, err := s.wallets.GetWallet(ctx, req.UserID)
	if err != nil {
		return Result{}, err
	}

	recipient, bank, err := s.resolveRecipient(ctx, w, req.BankDetails)
	if err != nil {
		metrics.PayoutRequests.WithLabelValues("recipient_failed").Inc()
		return Result{}, err
	}

	meta := wallet.Metadata{
		"recipient_code": recipient,
		"bank_code":      bank.BankCode,
		"account_name":   bank.AccountName,
		"account_last4":  last4(bank.AccountNumber),
	}
	reference, err := s.reserve(ctx, req, meta)
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			metrics.PayoutRequests.WithLabelValues("insufficient_funds").Inc()
		}
		return Result{}, err
	}
	l = l.With("reference", reference)

	// Funds are now reserved.
	opCtx := context.WithoutCancel(ctx)
	s.logAudit(opCtx, audit.EventTypePayoutRequested, req.UserID, reference, "payout reserved", map[string]any{
		"amount":         req.AmountMinor.String(),
		"recipient_code": recipient,
	})

	transfer, err := s.gw.InitiateTransfer(opCtx, gateway.TransferRequest{
		AmountMinor:   req.AmountMinor,
		RecipientCode: recipient,
		Reference:     reference,
		Reason:        "Creator payout",
		Currency:      s.currency(w),
	})
	if err != nil {
		if gateway.IsRejection(err) {
			return Result{}, s.rollback(opCtx, l, req.UserID, reference, err)
		}
		l.Warn("payout transfer outcome unknown; leaving reservation pending", "err", err)
		metrics.PayoutRequests.WithLabelValues("unconfirmed").Inc()
		return Result{Reference: reference, AmountMinor: req.AmountMinor, Status: wallet.TxStatusPending},
			fmt.Errorf("%w: %v", ErrTransferUnconfirmed, err)
	}

	if err := s.wallets.AnnotatePayout(opCtx, reference, wallet.Metadata{
		"transfer_code":  transfer.TransferCode,
		"gateway_status": transfer.Status,
	}); err != nil {
		l.Error("payout annotate failed", "err", err, "transfer_code", transfer.TransferCode)
	}

	metrics.PayoutRequests.WithLabelValues("initiated").Inc()
	l.Info("payout initiated", "transfer_code", transfer.TransferCode)
	return Result{
		Reference:    reference,
		AmountMinor:  req.AmountMinor,
		Status:       wallet.TxStatusPending,
		TransferCode: transfer.TransferCode,
	}, nil
}

// reserve holds the funds under a fresh reference. A collision with an
// existing reference gets one more attempt with a new suffix.
func (s *Service) reserve(ctx context.Context, req Request, meta wallet.Metadata) (string, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		reference := s.newReference(req.UserID)
		_, _, err = s.wallets.ReservePayout(ctx, wallet.ReserveRequest{
			UserID:      req.UserID,
			AmountMinor: req.AmountMinor,
			Reference:   reference,
			Metadata:    meta,
		})
		if !errors.Is(err, wallet.ErrDuplicateReference) {
			return reference, err
		}
		logger.From(ctx).Warn("payout reference collision", "reference", reference)
	}
	return "", err
}

// newReference returns payout_{userId}_{unixMillis}_{suffix}.
func (s *Service) newReference(userID string) string {
	return fmt.Sprintf("payout_%s_%d_%s", userID, s.clock().UnixMilli(), s.suffix())
}

// resolveRecipient returns the gateway recipient code and the destination it
// points at, registering a new recipient when needed.
func (s *Service) resolveRecipient(ctx context.Context, w wallet.Wallet, supplied *wallet.BankDetails) (string, wallet.BankDetails, error) {
	if supplied == nil {
		if w.RecipientRef == "" {
			return "", wallet.BankDetails{}, ErrMissingBankDetails
		}
		var bank wallet.BankDetails
		if w.BankDetails != nil {
			bank = *w.BankDetails
		}
		return w.RecipientRef, bank, nil
	}

	if !supplied.Complete() {
		return "", wallet.BankDetails{}, ErrMissingBankDetails
	}
	if w.RecipientRef != "" && w.BankDetails != nil && w.BankDetails.SameDestination(*supplied) {
		return w.RecipientRef, *w.BankDetails, nil
	}

	rcp, err := s.gw.CreateTransferRecipient(ctx, gateway.RecipientRequest{
		Type:          s.opts.RecipientType,
		Name:          supplied.AccountName,
		AccountNumber: supplied.AccountNumber,
		BankCode:      supplied.BankCode,
		Currency:      s.currency(w),
	})
	if err != nil {
		return "", wallet.BankDetails{}, fmt.Errorf("create transfer recipient: %w", err)
	}

	bank := *supplied
	if rcp.AccountName != "" {
		bank.AccountName = rcp.AccountName
	}
	if err := s.wallets.SaveRecipient(ctx, w.UserID, rcp.Code, bank); err != nil {
		return "", wallet.BankDetails{}, fmt.Errorf("save recipient: %w", err)
	}
	s.logAudit(ctx, audit.EventTypeRecipientSaved, w.UserID, "", "payout recipient registered", map[string]any{
		"recipient_code": rcp.Code,
		"bank_code":      bank.BankCode,
	})
	return rcp.Code, bank, nil
}

// rollback releases a reservation the gateway refused. It uses the same
// settlement path as a transfer.failed webhook.
func (s *Service) rollback(ctx context.Context, l *slog.Logger, userID, reference string, cause error) error {
	_, _, err := s.wallets.SettlePayout(ctx, reference, wallet.TxStatusFailed, wallet.Metadata{
		"failure_reason": cause.Error(),
		"rolled_back":    true,
	})
	if err != nil {
		l.Error("payout rollback failed; reservation still pending", "err", err, "cause", cause)
		metrics.PayoutRequests.WithLabelValues("rollback_failed").Inc()
		return errors.Join(fmt.Errorf("initiate transfer: %w", cause), fmt.Errorf("rollback: %w", err))
	}
	metrics.PayoutRequests.WithLabelValues("rejected").Inc()
	metrics.PayoutSettlements.WithLabelValues(string(wallet.TxStatusFailed), "rollback").Inc()
	l.Info("payout rejected by gateway; reservation released", "cause", cause)
	s.logAudit(ctx, audit.EventTypePayoutRolledBack, userID, reference, "gateway rejected transfer", map[string]any{
		"reason": cause.Error(),
	})
	return fmt.Errorf("initiate transfer: %w", cause)
}

func (s *Service) logAudit(ctx context.Context, typ audit.EventType, userID, reference, msg string, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPayout(ctx, typ, userID, reference, msg, details); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", string(typ), "err", err)
	}
}

func (s *Service) currency(w wallet.Wallet) string {
	if w.Currency != "" {
		return w.Currency
	}
	return s.opts.Currency
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func last4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}
