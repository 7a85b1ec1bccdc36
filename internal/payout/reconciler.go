package payout

import (
	"context"
	"errors"
	"log/slog"

	"creator-payments/internal/audit"
	"creator-payments/internal/gateway"
	"creator-payments/internal/metrics"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"
)

// Settler is the wallet operation set the reconciler drives.
type Settler interface {
	SettlePayout(ctx context.Context, reference string, outcome wallet.TxStatus, meta wallet.Metadata) (wallet.Transaction, bool, error)
	ReversePayout(ctx context.Context, reference string, meta wallet.Metadata) (wallet.Transaction, bool, error)
}

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the payout was already terminal.
	OutcomeNoop Outcome = "noop"
	// OutcomeUnknown means no payout carries the reference.
	OutcomeUnknown Outcome = "unknown"
)

// Settlement sources, used as the metrics label.
const (
	sourceWebhook = "webhook"
	sourceSweep   = "sweep"
)

// Reconciler applies terminal transfer outcomes to payouts.
type Reconciler struct {
	wallets Settler
	audit   Auditor
}

func NewReconciler(wallets Settler, auditor Auditor) *Reconciler {
	return &Reconciler{wallets: wallets, audit: auditor}
}

func (r *Reconciler) HandleTransferSuccess(ctx context.Context, ev gateway.TransferSuccess) (Outcome, error) {
	return r.applySuccess(ctx, ev.TransferOutcome, sourceWebhook)
}

// HandleTransferFailed refunds the full reserved amount. A reversal of a
// payout that already completed refunds it as well.
func (r *Reconciler) HandleTransferFailed(ctx context.Context, ev gateway.TransferFailed) (Outcome, error) {
	return r.applyFailure(ctx, ev.TransferOutcome, ev.Reversed, failureMetadata(ev.Name(), ev.TransferOutcome, ev.Reversed), sourceWebhook)
}

func (r *Reconciler) applySuccess(ctx context.Context, ev gateway.TransferOutcome, source string) (Outcome, error) {
	meta := wallet.Metadata{"gateway_status": "success"}
	if ev.TransferCode != "" {
		meta["transfer_code"] = ev.TransferCode
	}
	out, _, err := r.settle(ctx, ev, wallet.TxStatusCompleted, meta, source)
	return out, err
}

func (r *Reconciler) applyFailure(ctx context.Context, ev gateway.TransferOutcome, reversed bool, meta wallet.Metadata, source string) (Outcome, error) {
	out, current, err := r.settle(ctx, ev, wallet.TxStatusFailed, meta, source)
	if err != nil || out != OutcomeNoop || !reversed || current.Status != wallet.TxStatusCompleted {
		return out, err
	}
	return r.reverse(ctx, ev, meta, source)
}

func failureMetadata(status string, ev gateway.TransferOutcome, reversed bool) wallet.Metadata {
	meta := wallet.Metadata{"gateway_status": status}
	if ev.Reason != "" {
		meta["failure_reason"] = ev.Reason
	}
	if ev.TransferCode != "" {
		meta["transfer_code"] = ev.TransferCode
	}
	if reversed {
		meta["reversed"] = true
	}
	return meta
}

// settle runs the guarded pending -> terminal transition. On a noop it
// returns the row as it currently stands.
func (r *Reconciler) settle(ctx context.Context, ev gateway.TransferOutcome, status wallet.TxStatus, meta wallet.Metadata, source string) (Outcome, wallet.Transaction, error) {
	l := logger.From(ctx).With("reference", ev.Reference, "status", string(status), "source", source)

	tx, applied, err := r.wallets.SettlePayout(ctx, ev.Reference, status, meta)
	if errors.Is(err, wallet.ErrNotFound) {
		l.Warn("transfer outcome for unknown payout reference")
		return OutcomeUnknown, wallet.Transaction{}, nil
	}
	if err != nil {
		return "", wallet.Transaction{}, err
	}
	if !applied {
		l.Info("transfer outcome for settled payout ignored", "current_status", string(tx.Status))
		return OutcomeNoop, tx, nil
	}

	warnAmountMismatch(l, ev, tx)
	metrics.PayoutSettlements.WithLabelValues(string(status), source).Inc()
	l.Info("payout settled", "user_id", tx.UserID, "amount", tx.AmountMinor.String())
	r.logAudit(ctx, l, audit.EventTypePayoutSettled, tx, "payout "+string(status))
	return OutcomeApplied, tx, nil
}

// reverse runs the guarded completed -> failed transition for a transfer the
// bank returned after paying it out.
func (r *Reconciler) reverse(ctx context.Context, ev gateway.TransferOutcome, meta wallet.Metadata, source string) (Outcome, error) {
	l := logger.From(ctx).With("reference", ev.Reference, "status", "reversed", "source", source)

	tx, applied, err := r.wallets.ReversePayout(ctx, ev.Reference, meta)
	if err != nil {
		return "", err
	}
	if !applied {
		l.Info("reversal for payout not in completed state ignored", "current_status", string(tx.Status))
		return OutcomeNoop, nil
	}

	warnAmountMismatch(l, ev, tx)
	metrics.PayoutSettlements.WithLabelValues("reversed", source).Inc()
	l.Warn("completed payout reversed; amount returned to available", "user_id", tx.UserID, "amount", tx.AmountMinor.String())
	r.logAudit(ctx, l, audit.EventTypePayoutReversed, tx, "payout reversed after completion")
	return OutcomeApplied, nil
}

func warnAmountMismatch(l *slog.Logger, ev gateway.TransferOutcome, tx wallet.Transaction) {
	if ev.AmountMinor > 0 && ev.AmountMinor != tx.AmountMinor {
		l.Warn("transfer amount differs from reserved amount",
			"reserved", tx.AmountMinor.String(), "reported", ev.AmountMinor.String())
	}
}

func (r *Reconciler) logAudit(ctx context.Context, l *slog.Logger, typ audit.EventType, tx wallet.Transaction, msg string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogPayout(ctx, typ, tx.UserID, tx.Reference, msg, map[string]any{
		"amount": tx.AmountMinor.String(),
		"status": string(tx.Status),
	}); err != nil {
		l.Warn("audit append failed", "err", err)
	}
}
