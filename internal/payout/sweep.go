package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"creator-payments/internal/gateway"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"
)

// PendingLister finds payouts that are still waiting on the gateway.
type PendingLister interface {
	PendingPayouts(ctx context.Context, olderThan time.Duration, limit int) ([]wallet.Transaction, error)
}

type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, reference string) (gateway.TransferStatus, error)
}

// Sweeper settles payouts whose terminal webhook never arrived. It asks the
// gateway for each transfer and applies the answer through the Reconciler.
// A transfer the gateway has no record of was never accepted, so its
// reservation is released.
type Sweeper struct {
	pending PendingLister
	gw      TransferVerifier
	rec     *Reconciler
}

func NewSweeper(pending PendingLister, gw TransferVerifier, rec *Reconciler) *Sweeper {
	return &Sweeper{pending: pending, gw: gw, rec: rec}
}

type SweepReport struct {
	Checked      int
	Completed    int
	Failed       int
	StillPending int
	Errors       int
}

func (r SweepReport) String() string {
	return fmt.Sprintf("checked=%d completed=%d failed=%d still_pending=%d errors=%d",
		r.Checked, r.Completed, r.Failed, r.StillPending, r.Errors)
}

// Run checks up to limit payouts pending for longer than olderThan.
// Per-payout gateway errors are counted and skipped; the next run retries them.
func (s *Sweeper) Run(ctx context.Context, olderThan time.Duration, limit int) (SweepReport, error) {
	var rep SweepReport
	txs, err := s.pending.PendingPayouts(ctx, olderThan, limit)
	if err != nil {
		return rep, fmt.Errorf("list pending payouts: %w", err)
	}

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		l := logger.From(ctx).With("reference", tx.Reference, "user_id", tx.UserID)

		st, err := s.gw.VerifyTransfer(ctx, tx.Reference)
		var (
			out     Outcome
			settled wallet.TxStatus
		)
		switch {
		case errors.Is(err, gateway.ErrTransferNotFound):
			settled = wallet.TxStatusFailed
			out, err = s.rec.applyFailure(ctx, gateway.TransferOutcome{Reference: tx.Reference}, false, wallet.Metadata{
				"gateway_status": "not_found",
				"failure_reason": "transfer never reached the gateway",
			}, sourceSweep)
		case err != nil:
			rep.Errors++
			l.Warn("transfer verification failed", "err", err)
			continue
		case st.Succeeded():
			settled = wallet.TxStatusCompleted
			out, err = s.rec.applySuccess(ctx, outcomeOf(tx.Reference, st), sourceSweep)
		case st.Failed():
			settled = wallet.TxStatusFailed
			o := outcomeOf(tx.Reference, st)
			out, err = s.rec.applyFailure(ctx, o, false, failureMetadata(st.Status, o, st.Status == "reversed"), sourceSweep)
		default:
			rep.StillPending++
			l.Info("transfer still in flight at gateway", "gateway_status", st.Status)
			continue
		}

		if err != nil {
			rep.Errors++
			l.Error("sweep settlement failed", "err", err)
			continue
		}
		if out != OutcomeApplied {
			// A webhook settled it between the listing and now.
			continue
		}
		if settled == wallet.TxStatusCompleted {
			rep.Completed++
		} else {
			rep.Failed++
		}
	}
	return rep, nil
}

func outcomeOf(reference string, st gateway.TransferStatus) gateway.TransferOutcome {
	return gateway.TransferOutcome{
		Reference:    reference,
		TransferCode: st.TransferCode,
		AmountMinor:  st.AmountMinor,
		Reason:       st.Reason,
		Status:       st.Status,
	}
}
