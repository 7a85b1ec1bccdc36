package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"creator-payments/internal/gateway"
	"creator-payments/internal/metrics"
	"creator-payments/internal/notify"
	"creator-payments/internal/payout"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 1 << 20

type SaleRecorder interface {
	RecordSale(ctx context.Context, req wallet.SaleRequest) (wallet.SaleResult, error)
}

type TransferReconciler interface {
	HandleTransferSuccess(ctx context.Context, ev gateway.TransferSuccess) (payout.Outcome, error)
	HandleTransferFailed(ctx context.Context, ev gateway.TransferFailed) (payout.Outcome, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, n notify.SaleNotice)
}

// Handler receives gateway webhooks.
//
// Order matters: the raw body is read and verified before anything is
// decoded, and nothing is written for a delivery that fails verification.
// Any 2xx tells the gateway to stop retrying, so 2xx is only returned once the
// ledger effect is committed (or provably already committed).
type Handler struct {
	Secret    string
	Sales     SaleRecorder
	Transfers TransferReconciler

	// Notifier and Marker are optional.
	Notifier Notifier
	Marker   Marker

	Now func() time.Time
}

func (h Handler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Sales == nil || h.Transfers == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handler not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if err := gateway.VerifySignature(h.Secret, body, c.GetHeader(gateway.SignatureHeader)); err != nil {
		metrics.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		log.Warn("webhook signature rejected", "remote_addr", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// A signed payload that cannot be decoded will not decode on redelivery
	// either, so it is acknowledged rather than left to retry.
	ev, err := gateway.DecodeEvent(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("malformed", "ignored").Inc()
		log.Warn("webhook payload malformed; acknowledged without effect", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := logger.With(c.Request.Context(), log.With("event", ev.Name()))
	status, code := h.dispatch(ctx, ev)
	metrics.WebhookEvents.WithLabelValues(ev.Name(), status).Inc()
	if code != http.StatusOK {
		c.AbortWithStatusJSON(code, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h Handler) dispatch(ctx context.Context, ev gateway.Event) (string, int) {
	log := logger.From(ctx)

	switch e := ev.(type) {
	case gateway.ChargeSuccess:
		key := markerKey(e.Name(), e.Reference)
		if h.seen(ctx, key) {
			return "duplicate", http.StatusOK
		}
		status, code := h.handleCharge(ctx, e)
		if code == http.StatusOK && status != "ignored" {
			h.mark(ctx, key)
		}
		return status, code

	case gateway.TransferSuccess:
		key := markerKey(e.Name(), e.Reference)
		if h.seen(ctx, key) {
			return "duplicate", http.StatusOK
		}
		out, err := h.Transfers.HandleTransferSuccess(ctx, e)
		return h.transferResult(ctx, key, out, err)

	case gateway.TransferFailed:
		key := markerKey(e.Name(), e.Reference)
		if h.seen(ctx, key) {
			return "duplicate", http.StatusOK
		}
		out, err := h.Transfers.HandleTransferFailed(ctx, e)
		return h.transferResult(ctx, key, out, err)

	default:
		log.Info("webhook event ignored")
		return "ignored", http.StatusOK
	}
}

func (h Handler) handleCharge(ctx context.Context, e gateway.ChargeSuccess) (string, int) {
	log := logger.From(ctx).With("reference", e.Reference)
	m := e.Metadata

	res, err := h.Sales.RecordSale(ctx, wallet.SaleRequest{
		Reference:  e.Reference,
		GrossMinor: e.AmountMinor,
		Currency:   e.Currency,
		SellerID:   m.SellerID,
		BuyerID:    m.BuyerID,
		AssetID:    m.AssetID(),
		AssetKind:  wallet.AssetKind(m.AssetKind()),
		PurchaseID: m.PurchaseID,
		AssetTitle: m.Title,
	})
	switch {
	case errors.Is(err, wallet.ErrNotApplicable):
		log.Info("charge not tied to a marketplace sale")
		return "ignored", http.StatusOK
	case errors.Is(err, wallet.ErrInvalidArgument):
		log.Warn("charge has no usable amount or reference; acknowledged without effect", "err", err, "amount", int64(e.AmountMinor))
		return "ignored", http.StatusOK
	case err != nil:
		log.Error("record sale failed", "err", err)
		return "failed", http.StatusInternalServerError
	}

	if res.Duplicate {
		log.Info("charge already recorded")
		return "duplicate", http.StatusOK
	}

	metrics.SalesRecorded.WithLabelValues(m.AssetKind()).Inc()
	metrics.SaleGrossMinor.Add(float64(e.AmountMinor))
	log.Info("sale recorded", "seller_id", m.SellerID, "net", res.Sale.AmountMinor.String(), "fee", res.Fee.AmountMinor.String())

	if h.Notifier != nil {
		occurred := e.PaidAt
		if occurred.IsZero() {
			occurred = h.Now().UTC()
		}
		h.Notifier.Dispatch(ctx, notify.SaleNotice{
			Reference:  e.Reference,
			SellerID:   m.SellerID,
			BuyerID:    m.BuyerID,
			BuyerEmail: e.Email,
			AssetID:    m.AssetID(),
			AssetKind:  m.AssetKind(),
			AssetTitle: m.Title,
			PurchaseID: m.PurchaseID,
			GrossMinor: e.AmountMinor,
			FeeMinor:   res.Fee.AmountMinor,
			NetMinor:   res.Sale.AmountMinor,
			Currency:   e.Currency,
			OccurredAt: occurred,
		})
	}
	return "processed", http.StatusOK
}

func (h Handler) transferResult(ctx context.Context, key string, out payout.Outcome, err error) (string, int) {
	if err != nil {
		logger.From(ctx).Error("transfer reconciliation failed", "err", err)
		return "failed", http.StatusInternalServerError
	}
	switch out {
	case payout.OutcomeApplied:
		h.mark(ctx, key)
		return "processed", http.StatusOK
	case payout.OutcomeNoop:
		h.mark(ctx, key)
		return "duplicate", http.StatusOK
	default:
		return "ignored", http.StatusOK
	}
}

func (h Handler) seen(ctx context.Context, key string) bool {
	if h.Marker == nil {
		return false
	}
	ok, err := h.Marker.Seen(ctx, key)
	if err != nil {
		logger.From(ctx).Warn("webhook marker lookup failed", "err", err)
		return false
	}
	return ok
}

func (h Handler) mark(ctx context.Context, key string) {
	if h.Marker == nil {
		return
	}
	if err := h.Marker.Mark(context.WithoutCancel(ctx), key); err != nil {
		logger.From(ctx).Warn("webhook marker write failed", "err", err)
	}
}
