package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"creator-payments/internal/wallet"
)

// MemoryRepo aggregates an in-memory slice of ledger rows.
// It enforces user isolation on reads.
type MemoryRepo struct {
	mu   sync.Mutex
	Rows []wallet.Transaction
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) SumLedger(ctx context.Context, userID string, from, to time.Time) ([]Bucket, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := map[[2]string]int{}
	var out []Bucket
	for _, t := range r.Rows {
		if t.UserID != userID {
			continue
		}
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		k := [2]string{string(t.Type), string(t.Status)}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Bucket{Type: t.Type, Status: t.Status})
		}
		out[i].Count++
		out[i].SumMinor += t.AmountMinor
	}
	return out, nil
}
