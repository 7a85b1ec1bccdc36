package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"creator-payments/internal/money"
	"creator-payments/internal/wallet"

	"github.com/shopspring/decimal"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) SumLedger(ctx context.Context, userID string, from, to time.Time) ([]Bucket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY type, status`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("reporting: sum ledger: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var (
			b     Bucket
			typ   string
			st    string
			total decimal.Decimal
		)
		if err := rows.Scan(&typ, &st, &b.Count, &total); err != nil {
			return nil, fmt.Errorf("reporting: scan: %w", err)
		}
		b.Type = wallet.TxType(typ)
		b.Status = wallet.TxStatus(st)
		b.SumMinor = money.FromMajor(total)
		out = append(out, b)
	}
	return out, rows.Err()
}
