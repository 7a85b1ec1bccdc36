// Package notify fans post-sale side effects out to sinks.
//
// Everything here is best-effort: a failing sink is logged and counted,
// never reported back to the webhook that recorded the sale.
package notify

import (
	"context"
	"sync"
	"time"

	"creator-payments/internal/metrics"
	"creator-payments/internal/money"
	"creator-payments/pkg/logger"
)

// SaleNotice describes a freshly recorded sale.
type SaleNotice struct {
	Reference  string      `json:"reference"`
	SellerID   string      `json:"seller_id"`
	BuyerID    string      `json:"buyer_id,omitempty"`
	BuyerEmail string      `json:"buyer_email,omitempty"`
	AssetID    string      `json:"asset_id"`
	AssetKind  string      `json:"asset_kind"`
	AssetTitle string      `json:"asset_title,omitempty"`
	PurchaseID string      `json:"purchase_id,omitempty"`
	GrossMinor money.Minor `json:"gross_minor"`
	FeeMinor   money.Minor `json:"fee_minor"`
	NetMinor   money.Minor `json:"net_minor"`
	Currency   string      `json:"currency"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Sink is one downstream consumer of sale notices.
type Sink interface {
	Name() string
	Publish(ctx context.Context, n SaleNotice) error
}

// Dispatcher runs sinks off the request path.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Dispatch returns immediately. Sinks run sequentially in one goroutine on a
// context detached from ctx, bounded by the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, n SaleNotice) {
	if len(d.sinks) == 0 {
		return
	}
	l := logger.From(ctx).With("reference", n.Reference)
	bg := logger.With(context.WithoutCancel(ctx), l)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()

		for _, s := range d.sinks {
			if err := s.Publish(ctx, n); err != nil {
				metrics.NotifyFailures.WithLabelValues(s.Name()).Inc()
				l.Warn("sale side effect failed", "sink", s.Name(), "err", err)
			}
		}
	}()
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
