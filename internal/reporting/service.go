package reporting

import (
	"context"
	"errors"
	"time"

	"creator-payments/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository aggregates ledger rows for one user.
//
// IMPORTANT:
// - Implementations must filter by user_id.
// - Only wallet_transactions is read; balances are never used for reporting.
type Repository interface {
	SumLedger(ctx context.Context, userID string, from, to time.Time) ([]Bucket, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) EarningsSummary(ctx context.Context, req EarningsSummaryRequest) (EarningsSummary, error) {
	if req.UserID == "" {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return EarningsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return EarningsSummary{}, errors.New("reporting: repository not configured")
	}

	buckets, err := s.repo.SumLedger(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return EarningsSummary{}, err
	}

	out := EarningsSummary{UserID: req.UserID, Range: req.Range}
	for _, b := range buckets {
		switch b.Type {
		case wallet.TxTypeSale:
			out.SalesCount += b.Count
			out.NetMinor += b.SumMinor
		case wallet.TxTypeFee:
			out.FeesMinor += b.SumMinor
		case wallet.TxTypePayout:
			out.PayoutCount += b.Count
			switch b.Status {
			case wallet.TxStatusCompleted:
				out.PaidOutMinor += b.SumMinor
			case wallet.TxStatusPending:
				out.PendingPayoutMinor += b.SumMinor
			case wallet.TxStatusFailed:
				out.FailedPayoutMinor += b.SumMinor
			}
		}
	}
	out.GrossMinor = out.NetMinor + out.FeesMinor
	return out, nil
}
