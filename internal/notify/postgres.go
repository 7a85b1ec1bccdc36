package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresSink writes the buyer's in-app notification and, for templates that
// declare post-purchase questions, a pending feedback request.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink { return &PostgresSink{db: db} }

func (p *PostgresSink) Name() string { return "postgres" }

func (p *PostgresSink) Publish(ctx context.Context, n SaleNotice) error {
	var errs []error
	if n.BuyerID != "" {
		if err := p.insertNotification(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if n.AssetKind == "template" && n.BuyerID != "" && n.PurchaseID != "" {
		if err := p.requestFeedback(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *PostgresSink) insertNotification(ctx context.Context, n SaleNotice) error {
	title := "Purchase complete"
	msg := "Your purchase is ready."
	if n.AssetTitle != "" {
		msg = fmt.Sprintf("Your purchase of %s is ready.", n.AssetTitle)
	}
	meta, _ := json.Marshal(map[string]any{
		"reference":  n.Reference,
		"asset_id":   n.AssetID,
		"asset_kind": n.AssetKind,
	})
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, metadata, created_at)
		VALUES ($1, $2, 'purchase_completed', $3, $4, $5::jsonb, $6)`,
		uuid.NewString(), n.BuyerID, title, msg, string(meta), n.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// templateHasQuestionsQuery only takes the array length once the value is
// known to be an array; AND gives no evaluation order in Postgres.
const templateHasQuestionsQuery = `
SELECT CASE
         WHEN jsonb_typeof(post_purchase_questions) = 'array'
           THEN jsonb_array_length(post_purchase_questions) > 0
         ELSE false
       END
FROM templates WHERE id = $1`

func (p *PostgresSink) requestFeedback(ctx context.Context, n SaleNotice) error {
	var hasQuestions sql.NullBool
	err := p.db.QueryRowContext(ctx, templateHasQuestionsQuery, n.AssetID).Scan(&hasQuestions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: load template questions: %w", err)
	}
	if !hasQuestions.Valid || !hasQuestions.Bool {
		return nil
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO purchase_feedback (id, purchase_id, template_id, buyer_id, seller_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (purchase_id) DO NOTHING`,
		uuid.NewString(), n.PurchaseID, n.AssetID, n.BuyerID, n.SellerID, n.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("notify: insert feedback request: %w", err)
	}
	return nil
}
