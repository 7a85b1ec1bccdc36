package wallet

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"creator-payments/internal/money"
	"creator-payments/internal/testdb"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// These run against the database in DATABASE_URL and are skipped without it.
// Every test uses fresh user ids and references so runs can share a database.

func newPostgresService(t *testing.T) (*Service, *PostgresRepo, *sql.DB) {
	t.Helper()
	db := testdb.Open(t)
	repo := NewPostgresRepo(db)
	svc := NewService(repo, Options{
		FeeRate:     decimal.RequireFromString("0.10"),
		Currency:    "NGN",
		CreditSales: true,
	})
	return svc, repo, db
}

func seedPostgresWallet(t *testing.T, db *sql.DB, available money.Minor) string {
	t.Helper()
	userID := "pg-" + uuid.NewString()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO wallets (user_id, available_balance, pending_balance, currency) VALUES ($1, $2, 0, 'NGN')`,
		userID, available.Major())
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return userID
}

func countRows(t *testing.T, db *sql.DB, reference string) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(),
		`SELECT count(*) FROM wallet_transactions WHERE reference = $1`, reference).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestPostgresRepo_ConcurrentReserveNeverOverdraws(t *testing.T) {
	svc, _, db := newPostgresService(t)
	userID := seedPostgresWallet(t, db, 1000)

	const (
		workers = 20
		amount  = money.Minor(300)
	)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.ReservePayout(context.Background(), ReserveRequest{
				UserID:      userID,
				AmountMinor: amount,
				Reference:   "pg-payout-" + uuid.NewString(),
			})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case !errors.Is(err, ErrInsufficientFunds):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected 3 reservations of %d from 1000, got %d", amount, succeeded)
	}
	w, err := svc.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.AvailableMinor != 100 || w.PendingMinor != 900 {
		t.Fatalf("wallet after race: available=%d pending=%d", w.AvailableMinor, w.PendingMinor)
	}

	var rows int
	if err := db.QueryRowContext(context.Background(),
		`SELECT count(*) FROM wallet_transactions WHERE user_id = $1 AND type = 'payout' AND status = 'pending'`,
		userID).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != succeeded {
		t.Fatalf("pending rows = %d, reservations = %d", rows, succeeded)
	}
}

func TestPostgresRepo_ReserveRejectsDuplicateReference(t *testing.T) {
	svc, _, db := newPostgresService(t)
	userID := seedPostgresWallet(t, db, 1000)
	ref := "pg-payout-" + uuid.NewString()

	if _, _, err := svc.ReservePayout(context.Background(), ReserveRequest{UserID: userID, AmountMinor: 200, Reference: ref}); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	_, _, err := svc.ReservePayout(context.Background(), ReserveRequest{UserID: userID, AmountMinor: 200, Reference: ref})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("second reserve err = %v, want ErrDuplicateReference", err)
	}

	w, _ := svc.GetWallet(context.Background(), userID)
	if w.AvailableMinor != 800 || w.PendingMinor != 200 {
		t.Fatalf("duplicate reserve moved balance: %+v", w)
	}
}

func TestPostgresRepo_ReserveUnknownWallet(t *testing.T) {
	svc, _, _ := newPostgresService(t)
	_, _, err := svc.ReservePayout(context.Background(), ReserveRequest{
		UserID:      "pg-missing-" + uuid.NewString(),
		AmountMinor: 100,
		Reference:   "pg-payout-" + uuid.NewString(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func postgresSale(ref, sellerID string) SaleRequest {
	return SaleRequest{
		Reference:  ref,
		GrossMinor: 10000,
		Currency:   "NGN",
		SellerID:   sellerID,
		BuyerID:    "buyer-1",
		AssetID:    "tpl-1",
		AssetKind:  AssetKindTemplate,
		PurchaseID: "pg-purchase-" + uuid.NewString(),
		AssetTitle: "Budget Planner",
	}
}

func TestPostgresRepo_DuplicateSaleCreditsOnce(t *testing.T) {
	svc, _, db := newPostgresService(t)
	sellerID := "pg-seller-" + uuid.NewString()
	ref := "pg-sale-" + uuid.NewString()
	req := postgresSale(ref, sellerID)

	if _, err := db.ExecContext(context.Background(),
		`INSERT INTO template_purchases (id, template_id, buyer_id) VALUES ($1, 'tpl-1', 'buyer-1')`, req.PurchaseID); err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	first, err := svc.RecordSale(context.Background(), req)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first delivery reported as duplicate")
	}
	second, err := svc.RecordSale(context.Background(), req)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("replay not reported as duplicate")
	}

	if n := countRows(t, db, ref); n != 2 {
		t.Fatalf("rows for %s = %d, want sale and fee", ref, n)
	}
	w, err := svc.GetWallet(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.AvailableMinor != 9000 {
		t.Fatalf("available = %d, want 9000", w.AvailableMinor)
	}

	var status string
	if err := db.QueryRowContext(context.Background(),
		`SELECT payment_status FROM template_purchases WHERE id = $1`, req.PurchaseID).Scan(&status); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if status != "completed" {
		t.Fatalf("purchase status = %q", status)
	}
}

func TestPostgresRepo_ConcurrentDuplicateSaleCreditsOnce(t *testing.T) {
	svc, _, db := newPostgresService(t)
	sellerID := "pg-seller-" + uuid.NewString()
	ref := "pg-sale-" + uuid.NewString()
	req := postgresSale(ref, sellerID)

	const deliveries = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RecordSale(context.Background(), req)
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if !res.Duplicate {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("deliveries applied = %d, want 1", inserted)
	}
	if n := countRows(t, db, ref); n != 2 {
		t.Fatalf("rows for %s = %d, want 2", ref, n)
	}
	w, err := svc.GetWallet(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.AvailableMinor != 9000 {
		t.Fatalf("available = %d, want 9000", w.AvailableMinor)
	}
}

func TestPostgresRepo_SettleAndReverse(t *testing.T) {
	svc, _, db := newPostgresService(t)
	userID := seedPostgresWallet(t, db, 1000)
	ctx := context.Background()

	failedRef := "pg-payout-" + uuid.NewString()
	doneRef := "pg-payout-" + uuid.NewString()
	for _, ref := range []string{failedRef, doneRef} {
		if _, _, err := svc.ReservePayout(ctx, ReserveRequest{UserID: userID, AmountMinor: 400, Reference: ref}); err != nil {
			t.Fatalf("reserve %s: %v", ref, err)
		}
	}

	if _, applied, err := svc.SettlePayout(ctx, failedRef, TxStatusFailed, Metadata{"failure_reason": "bank rejected"}); err != nil || !applied {
		t.Fatalf("settle failed: applied=%v err=%v", applied, err)
	}
	if _, applied, err := svc.SettlePayout(ctx, failedRef, TxStatusFailed, nil); err != nil || applied {
		t.Fatalf("repeat settle: applied=%v err=%v", applied, err)
	}
	if _, applied, err := svc.SettlePayout(ctx, doneRef, TxStatusCompleted, nil); err != nil || !applied {
		t.Fatalf("settle completed: applied=%v err=%v", applied, err)
	}

	w, _ := svc.GetWallet(ctx, userID)
	if w.AvailableMinor != 600 || w.PendingMinor != 0 {
		t.Fatalf("after settle: available=%d pending=%d", w.AvailableMinor, w.PendingMinor)
	}

	if _, applied, err := svc.ReversePayout(ctx, failedRef, nil); err != nil || applied {
		t.Fatalf("reverse of failed payout: applied=%v err=%v", applied, err)
	}
	tx, applied, err := svc.ReversePayout(ctx, doneRef, Metadata{"gateway_status": "reversed"})
	if err != nil || !applied {
		t.Fatalf("reverse completed: applied=%v err=%v", applied, err)
	}
	if tx.Status != TxStatusFailed || tx.Metadata["gateway_status"] != "reversed" {
		t.Fatalf("reversed row: %+v", tx)
	}
	if _, applied, err := svc.ReversePayout(ctx, doneRef, nil); err != nil || applied {
		t.Fatalf("repeat reverse: applied=%v err=%v", applied, err)
	}

	w, _ = svc.GetWallet(ctx, userID)
	if w.AvailableMinor != 1000 || w.PendingMinor != 0 {
		t.Fatalf("after reverse: available=%d pending=%d", w.AvailableMinor, w.PendingMinor)
	}
}

func TestPostgresRepo_ListPendingPayouts(t *testing.T) {
	_, repo, db := newPostgresService(t)
	userID := seedPostgresWallet(t, db, 1000)
	ctx := context.Background()

	base := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano() % int64(time.Hour)))
	payout := func(ref string, created time.Time) {
		t.Helper()
		_, err := repo.ReservePayout(ctx, Transaction{
			ID:          uuid.NewString(),
			UserID:      userID,
			AmountMinor: 100,
			Type:        TxTypePayout,
			Status:      TxStatusPending,
			Reference:   ref,
			CreatedAt:   created,
			UpdatedAt:   created,
		})
		if err != nil {
			t.Fatalf("reserve %s: %v", ref, err)
		}
	}
	oldRef := "pg-old-" + uuid.NewString()
	newRef := "pg-new-" + uuid.NewString()
	settledRef := "pg-settled-" + uuid.NewString()
	payout(oldRef, base)
	payout(settledRef, base)
	payout(newRef, base.Add(2*time.Hour))
	if _, _, err := repo.SettlePayout(ctx, settledRef, TxStatusCompleted, nil, base); err != nil {
		t.Fatalf("settle: %v", err)
	}

	txs, err := repo.ListPendingPayouts(ctx, base.Add(time.Hour), 1000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var mine []string
	for _, tx := range txs {
		if tx.UserID == userID {
			mine = append(mine, tx.Reference)
		}
	}
	if len(mine) != 1 || mine[0] != oldRef {
		t.Fatalf("pending before cutoff = %v, want [%s]", mine, oldRef)
	}
}
