package wallet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// Each method holds one mutex for its whole body, which gives it the same
// all-or-nothing semantics as the single-statement SQL updates.
//
// NOTE: Not intended for production use.
type MemoryRepo struct {
	mu        sync.Mutex
	wallets   map[string]Wallet
	txs       []Transaction
	index     map[string]int // reference|type -> position in txs
	purchases map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		wallets:   make(map[string]Wallet),
		index:     make(map[string]int),
		purchases: make(map[string]string),
	}
}

// PutWallet seeds or replaces a wallet.
func (r *MemoryRepo) PutWallet(w Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.UserID] = w
}

// PutPurchase seeds a purchase row with a payment status.
func (r *MemoryRepo) PutPurchase(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchases[id] = status
}

func (r *MemoryRepo) PurchaseStatus(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchases[id]
}

// Transactions returns a copy of all ledger rows in insertion order.
func (r *MemoryRepo) Transactions() []Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transaction, len(r.txs))
	copy(out, r.txs)
	return out
}

func indexKey(reference string, typ TxType) string {
	return reference + "|" + string(typ)
}

func (r *MemoryRepo) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (r *MemoryRepo) SaveRecipient(ctx context.Context, userID, recipientRef string, bank BankDetails, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	b := bank
	w.RecipientRef = recipientRef
	w.BankDetails = &b
	w.UpdatedAt = now
	r.wallets[userID] = w
	return nil
}

func (r *MemoryRepo) InsertSale(ctx context.Context, sw SaleWrite) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[indexKey(sw.Sale.Reference, TxTypeSale)]; ok {
		return false, nil
	}
	r.appendLocked(sw.Sale)
	r.appendLocked(sw.Fee)

	if sw.PurchaseID != "" && sw.PurchaseKind.purchaseTable() != "" {
		if _, ok := r.purchases[sw.PurchaseID]; ok {
			r.purchases[sw.PurchaseID] = "completed"
		}
	}
	if sw.CreditMinor > 0 {
		w, ok := r.wallets[sw.Sale.UserID]
		if !ok {
			w = Wallet{UserID: sw.Sale.UserID, Currency: sw.Currency, CreatedAt: sw.Sale.CreatedAt}
		}
		w.AvailableMinor += sw.CreditMinor
		w.UpdatedAt = sw.Sale.CreatedAt
		r.wallets[w.UserID] = w
	}
	return true, nil
}

func (r *MemoryRepo) ReservePayout(ctx context.Context, payout Transaction) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[payout.UserID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	if w.AvailableMinor < payout.AmountMinor {
		return Wallet{}, ErrInsufficientFunds
	}
	if _, ok := r.index[indexKey(payout.Reference, TxTypePayout)]; ok {
		return Wallet{}, ErrDuplicateReference
	}
	w.AvailableMinor -= payout.AmountMinor
	w.PendingMinor += payout.AmountMinor
	w.UpdatedAt = payout.UpdatedAt
	r.wallets[w.UserID] = w
	r.appendLocked(payout)
	return w, nil
}

func (r *MemoryRepo) MergeMetadata(ctx context.Context, reference string, typ TxType, meta Metadata, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[indexKey(reference, typ)]
	if !ok {
		return ErrNotFound
	}
	t := r.txs[i]
	t.Metadata = mergeMetadata(t.Metadata, meta)
	t.UpdatedAt = now
	r.txs[i] = t
	return nil
}

func (r *MemoryRepo) SettlePayout(ctx context.Context, reference string, outcome TxStatus, meta Metadata, now time.Time) (Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[indexKey(reference, TxTypePayout)]
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	t := r.txs[i]
	if t.Status != TxStatusPending {
		return t, false, nil
	}
	w, ok := r.wallets[t.UserID]
	if !ok || w.PendingMinor < t.AmountMinor {
		return Transaction{}, false, ErrBalanceInvariant
	}

	w.PendingMinor -= t.AmountMinor
	if outcome == TxStatusFailed {
		w.AvailableMinor += t.AmountMinor
	}
	w.UpdatedAt = now
	r.wallets[w.UserID] = w

	t.Status = outcome
	t.Metadata = mergeMetadata(t.Metadata, meta)
	t.UpdatedAt = now
	r.txs[i] = t
	return t, true, nil
}

func (r *MemoryRepo) ReverseCompletedPayout(ctx context.Context, reference string, meta Metadata, now time.Time) (Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[indexKey(reference, TxTypePayout)]
	if !ok {
		return Transaction{}, false, ErrNotFound
	}
	t := r.txs[i]
	if t.Status != TxStatusCompleted {
		return t, false, nil
	}
	w, ok := r.wallets[t.UserID]
	if !ok {
		return Transaction{}, false, ErrBalanceInvariant
	}
	w.AvailableMinor += t.AmountMinor
	w.UpdatedAt = now
	r.wallets[w.UserID] = w

	t.Status = TxStatusFailed
	t.Metadata = mergeMetadata(t.Metadata, meta)
	t.UpdatedAt = now
	r.txs[i] = t
	return t, true, nil
}

func (r *MemoryRepo) ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Transaction
	for _, t := range r.txs {
		if t.Type == TxTypePayout && t.Status == TxStatusPending && t.CreatedAt.Before(createdBefore) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, userID string, f ListFilter) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Transaction
	for _, t := range r.txs {
		if t.UserID != userID {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) appendLocked(t Transaction) {
	r.index[indexKey(t.Reference, t.Type)] = len(r.txs)
	r.txs = append(r.txs, t)
}

func mergeMetadata(base, extra Metadata) Metadata {
	out := make(Metadata, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
