package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creator-payments/internal/money"
	"creator-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

// Repository is the persistence contract for wallets and the ledger.
// Every method is atomic on its own; callers never compose balance math.
type Repository interface {
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	SaveRecipient(ctx context.Context, userID, recipientRef string, bank BankDetails, now time.Time) error

	// InsertSale writes the sale and fee rows, marks the purchase paid and
	// applies CreditMinor, all or nothing. inserted is false on a replay.
	InsertSale(ctx context.Context, w SaleWrite) (inserted bool, err error)

	// ReservePayout decrements available and increments pending by the payout
	// amount only if available covers it, then inserts the pending row.
	ReservePayout(ctx context.Context, payout Transaction) (Wallet, error)

	MergeMetadata(ctx context.Context, reference string, typ TxType, meta Metadata, now time.Time) error
	SettlePayout(ctx context.Context, reference string, outcome TxStatus, meta Metadata, now time.Time) (Transaction, bool, error)

	// ReverseCompletedPayout moves a completed payout to failed and credits
	// its amount back to available. Pending is untouched; the success already
	// released it. applied is false unless the row was completed.
	ReverseCompletedPayout(ctx context.Context, reference string, meta Metadata, now time.Time) (Transaction, bool, error)

	// ListPendingPayouts returns payouts still pending that were created
	// before the cutoff, oldest first.
	ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error)

	ListTransactions(ctx context.Context, userID string, f ListFilter) ([]Transaction, error)
}

type SaleWrite struct {
	Sale Transaction
	Fee  Transaction

	PurchaseID   string
	PurchaseKind AssetKind

	// CreditMinor is added to the seller's available balance; zero skips it.
	CreditMinor money.Minor
	Currency    string
}

type ListFilter struct {
	From  time.Time
	To    time.Time
	Type  TxType
	Limit int
}

// NOTE: PostgresRepo assumes the tables from the embedded migrations:
// - wallets (CHECK available_balance >= 0, CHECK pending_balance >= 0)
// - wallet_transactions with UNIQUE (reference, type)
// - template_purchases / product_sales (owned by the content subsystem)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const walletColumns = `user_id, available_balance, pending_balance, currency,
       COALESCE(recipient_reference, ''), bank_details, created_at, updated_at`

const txColumns = `id, user_id, amount, type, status, description, reference, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w         Wallet
		available decimal.Decimal
		pending   decimal.Decimal
		bank      []byte
	)
	if err := row.Scan(
		&w.UserID,
		&available,
		&pending,
		&w.Currency,
		&w.RecipientRef,
		&bank,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	w.AvailableMinor = money.FromMajor(available)
	w.PendingMinor = money.FromMajor(pending)
	if len(bank) > 0 && string(bank) != "null" {
		var b BankDetails
		if err := json.Unmarshal(bank, &b); err != nil {
			return Wallet{}, fmt.Errorf("decode bank_details: %w", err)
		}
		w.BankDetails = &b
	}
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t      Transaction
		amount decimal.Decimal
		meta   []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&amount,
		&t.Type,
		&t.Status,
		&t.Description,
		&t.Reference,
		&meta,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.AmountMinor = money.FromMajor(amount)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func (r *PostgresRepo) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	return scanWallet(r.db.QueryRowContext(ctx, q, userID))
}

func (r *PostgresRepo) SaveRecipient(ctx context.Context, userID, recipientRef string, bank BankDetails, now time.Time) error {
	raw, err := json.Marshal(bank)
	if err != nil {
		return err
	}
	const q = `
UPDATE wallets
SET recipient_reference = $2, bank_details = $3::jsonb, updated_at = $4
WHERE user_id = $1
`
	res, err := r.db.ExecContext(ctx, q, userID, recipientRef, string(raw), now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) InsertSale(ctx context.Context, w SaleWrite) (bool, error) {
	inserted := false
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Explicit check first; the ON CONFLICT below covers the race between
		// two deliveries that both pass this check.
		exists, err := referenceExists(ctx, tx, w.Sale.Reference, TxTypeSale)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		ok, err := insertTransaction(ctx, tx, w.Sale)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ok, err = insertTransaction(ctx, tx, w.Fee)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("fee row for %s exists without its sale row", w.Fee.Reference)
		}

		if table := w.PurchaseKind.purchaseTable(); table != "" && w.PurchaseID != "" {
			// Table name comes from a fixed whitelist, never from input.
			q := `UPDATE ` + table + ` SET payment_status = 'completed', updated_at = $2
WHERE id = $1 AND payment_status <> 'completed'`
			if _, err := tx.ExecContext(ctx, q, w.PurchaseID, w.Sale.CreatedAt); err != nil {
				return fmt.Errorf("mark purchase paid: %w", err)
			}
		}

		if w.CreditMinor > 0 {
			if err := creditAvailable(ctx, tx, w.Sale.UserID, w.Currency, w.CreditMinor, w.Sale.CreatedAt); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return inserted, nil
}

func (r *PostgresRepo) ReservePayout(ctx context.Context, payout Transaction) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE wallets
SET available_balance = available_balance - $2,
    pending_balance   = pending_balance + $2,
    updated_at        = $3
WHERE user_id = $1 AND available_balance >= $2
RETURNING ` + walletColumns
		w, err := scanWallet(tx.QueryRowContext(ctx, q, payout.UserID, payout.AmountMinor.Major(), payout.UpdatedAt))
		if errors.Is(err, ErrNotFound) {
			exists, err := walletExists(ctx, tx, payout.UserID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}

		ok, err := insertTransaction(ctx, tx, payout)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicateReference
		}
		out = w
		return nil
	})
	if err != nil {
		switch {
		case utils.IsUniqueViolation(err):
			return Wallet{}, ErrDuplicateReference
		case utils.IsCheckViolation(err):
			return Wallet{}, ErrInsufficientFunds
		}
		return Wallet{}, err
	}
	return out, nil
}

func (r *PostgresRepo) MergeMetadata(ctx context.Context, reference string, typ TxType, meta Metadata, now time.Time) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	const q = `
UPDATE wallet_transactions
SET metadata = metadata || $3::jsonb, updated_at = $4
WHERE reference = $1 AND type = $2
`
	res, err := r.db.ExecContext(ctx, q, reference, typ, string(raw), now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) SettlePayout(ctx context.Context, reference string, outcome TxStatus, meta Metadata, now time.Time) (Transaction, bool, error) {
	if meta == nil {
		meta = Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Transaction{}, false, err
	}

	var (
		out     Transaction
		applied bool
	)
	err = utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// The status guard makes the transition idempotent: only one caller
		// can move a row out of pending.
		q := `
UPDATE wallet_transactions
SET status = $2, metadata = metadata || $3::jsonb, updated_at = $4
WHERE reference = $1 AND type = 'payout' AND status = 'pending'
RETURNING ` + txColumns
		t, err := scanTransaction(tx.QueryRowContext(ctx, q, reference, outcome, string(raw), now))
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := findTransaction(ctx, tx, reference, TxTypePayout)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err != nil {
			return err
		}

		var bq string
		switch outcome {
		case TxStatusCompleted:
			bq = `
UPDATE wallets
SET pending_balance = pending_balance - $2, updated_at = $3
WHERE user_id = $1 AND pending_balance >= $2`
		case TxStatusFailed:
			bq = `
UPDATE wallets
SET available_balance = available_balance + $2,
    pending_balance   = pending_balance - $2,
    updated_at        = $3
WHERE user_id = $1 AND pending_balance >= $2`
		}
		res, err := tx.ExecContext(ctx, bq, t.UserID, t.AmountMinor.Major(), now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrBalanceInvariant
		}

		out = t
		applied = true
		return nil
	})
	if err != nil {
		if utils.IsCheckViolation(err) {
			return Transaction{}, false, ErrBalanceInvariant
		}
		return Transaction{}, false, err
	}
	return out, applied, nil
}

func (r *PostgresRepo) ReverseCompletedPayout(ctx context.Context, reference string, meta Metadata, now time.Time) (Transaction, bool, error) {
	if meta == nil {
		meta = Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Transaction{}, false, err
	}

	var (
		out     Transaction
		applied bool
	)
	err = utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE wallet_transactions
SET status = 'failed', metadata = metadata || $2::jsonb, updated_at = $3
WHERE reference = $1 AND type = 'payout' AND status = 'completed'
RETURNING ` + txColumns
		t, err := scanTransaction(tx.QueryRowContext(ctx, q, reference, string(raw), now))
		if errors.Is(err, sql.ErrNoRows) {
			existing, err := findTransaction(ctx, tx, reference, TxTypePayout)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err != nil {
			return err
		}

		const bq = `
UPDATE wallets
SET available_balance = available_balance + $2, updated_at = $3
WHERE user_id = $1`
		res, err := tx.ExecContext(ctx, bq, t.UserID, t.AmountMinor.Major(), now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrBalanceInvariant
		}

		out = t
		applied = true
		return nil
	})
	if err != nil {
		return Transaction{}, false, err
	}
	return out, applied, nil
}

// ListPendingPayouts is served by wallet_transactions_pending_payout_idx.
func (r *PostgresRepo) ListPendingPayouts(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error) {
	q := `SELECT ` + txColumns + `
FROM wallet_transactions
WHERE type = 'payout' AND status = 'pending' AND created_at < $1
ORDER BY created_at
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, createdBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListTransactions(ctx context.Context, userID string, f ListFilter) ([]Transaction, error) {
	q := `SELECT ` + txColumns + `
FROM wallet_transactions
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
  AND ($4 = '' OR type = $4)
ORDER BY created_at DESC
LIMIT $5`
	rows, err := r.db.QueryContext(ctx, q, userID, nullTime(f.From), nullTime(f.To), string(f.Type), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func referenceExists(ctx context.Context, tx *sql.Tx, reference string, typ TxType) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE reference = $1 AND type = $2)`
	var ok bool
	if err := tx.QueryRowContext(ctx, q, reference, typ).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func walletExists(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`
	var ok bool
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func findTransaction(ctx context.Context, tx *sql.Tx, reference string, typ TxType) (Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE reference = $1 AND type = $2`
	t, err := scanTransaction(tx.QueryRowContext(ctx, q, reference, typ))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

// insertTransaction reports false when (reference, type) already exists.
func insertTransaction(ctx context.Context, tx *sql.Tx, t Transaction) (bool, error) {
	meta := t.Metadata
	if meta == nil {
		meta = Metadata{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	const q = `
INSERT INTO wallet_transactions (
  id, user_id, amount, type, status, description, reference, metadata, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10
)
ON CONFLICT (reference, type) DO NOTHING
RETURNING id
`
	var id string
	err = tx.QueryRowContext(ctx, q,
		t.ID,
		t.UserID,
		t.AmountMinor.Major(),
		t.Type,
		t.Status,
		t.Description,
		t.Reference,
		string(raw),
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func creditAvailable(ctx context.Context, tx *sql.Tx, userID, currency string, amount money.Minor, now time.Time) error {
	const q = `
INSERT INTO wallets (user_id, available_balance, pending_balance, currency, created_at, updated_at)
VALUES ($1, $2, 0, $3, $4, $4)
ON CONFLICT (user_id)
DO UPDATE SET available_balance = wallets.available_balance + EXCLUDED.available_balance,
              updated_at = EXCLUDED.updated_at
`
	_, err := tx.ExecContext(ctx, q, userID, amount.Major(), currency, now)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
