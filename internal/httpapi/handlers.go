package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"creator-payments/internal/audit"
	"creator-payments/internal/auth"
	"creator-payments/internal/gateway"
	"creator-payments/internal/money"
	"creator-payments/internal/payout"
	"creator-payments/internal/reporting"
	"creator-payments/internal/wallet"
	"creator-payments/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	ListTransactions(ctx context.Context, userID string, f wallet.ListFilter) ([]wallet.Transaction, error)
}

type PayoutService interface {
	Request(ctx context.Context, req payout.Request) (payout.Result, error)
}

type ReportingService interface {
	EarningsSummary(ctx context.Context, req reporting.EarningsSummaryRequest) (reporting.EarningsSummary, error)
}

type AdminAuditor interface {
	LogAdminAction(ctx context.Context, userID string, actor audit.Actor, message string, details map[string]any) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Wallet  WalletService
	Payouts PayoutService
	Reports ReportingService
	Audit   AdminAuditor

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Payout ---

type bankDetailsBody struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

type payoutRequest struct {
	// Amount is in major units, e.g. 500 or 500.25.
	Amount      decimal.Decimal  `json:"amount"`
	BankDetails *bankDetailsBody `json:"bank_details,omitempty"`
}

type payoutResponse struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    wallet.TxStatus `json:"status"`
}

func (h Handlers) RequestPayout(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Payouts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "payouts not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var body payoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !body.Amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	if !body.Amount.Equal(body.Amount.Round(2)) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount has more than 2 decimal places"})
		return
	}

	amount, err := money.CheckedFromMajor(body.Amount)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount too large"})
		return
	}

	req := payout.Request{UserID: userID, AmountMinor: amount}
	if body.BankDetails != nil {
		req.BankDetails = &wallet.BankDetails{
			AccountName:   body.BankDetails.AccountName,
			AccountNumber: body.BankDetails.AccountNumber,
			BankCode:      body.BankDetails.BankCode,
		}
	}

	ctx := logger.With(c.Request.Context(), log)
	res, err := h.Payouts.Request(ctx, req)
	if errors.Is(err, payout.ErrTransferUnconfirmed) {
		c.JSON(http.StatusAccepted, payoutResponse{Reference: res.Reference, Amount: res.AmountMinor.Major(), Status: res.Status})
		return
	}
	if err != nil {
		code, msg := payoutError(err)
		if code >= http.StatusInternalServerError {
			log.Error("payout failed", "err", err)
		}
		c.AbortWithStatusJSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, payoutResponse{Reference: res.Reference, Amount: res.AmountMinor.Major(), Status: res.Status})
}

func payoutError(err error) (int, string) {
	var apiErr *gateway.APIError
	switch {
	case errors.Is(err, payout.ErrBelowMinimum):
		return http.StatusBadRequest, "amount below minimum payout"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient balance"
	case errors.Is(err, payout.ErrMissingBankDetails):
		return http.StatusBadRequest, "bank details required"
	case errors.Is(err, wallet.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound, "wallet not found"
	case errors.Is(err, wallet.ErrDuplicateReference):
		return http.StatusConflict, "payout already in progress, retry"
	case errors.As(err, &apiErr):
		return http.StatusInternalServerError, "payment gateway rejected the request: " + apiErr.Message
	default:
		return http.StatusInternalServerError, "payout failed"
	}
}

// --- Wallet ---

type walletResponse struct {
	UserID       string              `json:"user_id"`
	Available    decimal.Decimal     `json:"available_balance"`
	Pending      decimal.Decimal     `json:"pending_balance"`
	Currency     string              `json:"currency"`
	BankDetails  *wallet.BankDetails `json:"bank_details,omitempty"`
	HasRecipient bool                `json:"has_recipient"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func toWalletResponse(w wallet.Wallet) walletResponse {
	return walletResponse{
		UserID:       w.UserID,
		Available:    w.AvailableMinor.Major(),
		Pending:      w.PendingMinor.Major(),
		Currency:     w.Currency,
		BankDetails:  w.BankDetails,
		HasRecipient: w.RecipientRef != "",
		UpdatedAt:    w.UpdatedAt,
	}
}

func (h Handlers) GetWallet(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	if w, ok := wallet.FromGin(c); ok {
		c.JSON(http.StatusOK, toWalletResponse(w))
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	h.writeWallet(c, userID)
}

func (h Handlers) writeWallet(c *gin.Context, userID string) {
	w, err := h.Wallet.GetWallet(c.Request.Context(), userID)
	if errors.Is(err, wallet.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("wallet lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet lookup failed"})
		return
	}
	c.JSON(http.StatusOK, toWalletResponse(w))
}

type transactionResponse struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        wallet.TxType   `json:"type"`
	Status      wallet.TxStatus `json:"status"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Metadata    wallet.Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (h Handlers) ListTransactions(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var f wallet.ListFilter
	if t := c.Query("type"); t != "" {
		f.Type = wallet.TxType(t)
		if !f.Type.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown transaction type"})
			return
		}
	}
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		f.Limit = n
	}

	txs, err := h.Wallet.ListTransactions(c.Request.Context(), userID, f)
	if err != nil {
		logger.FromGin(c).Error("list transactions failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResponse{
			ID:          t.ID,
			Amount:      t.AmountMinor.Major(),
			Type:        t.Type,
			Status:      t.Status,
			Description: t.Description,
			Reference:   t.Reference,
			Metadata:    t.Metadata,
			CreatedAt:   t.CreatedAt,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

// --- Reporting ---

func (h Handlers) EarningsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	to, err := parseTime(c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if to.IsZero() {
		to = h.now().UTC()
	}
	from, err := parseTime(c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	out, err := h.Reports.EarningsSummary(c.Request.Context(), reporting.EarningsSummaryRequest{
		UserID: userID,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("earnings summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Admin ---

// AdminGetWallet lets support staff inspect any user's wallet.
// RBAC: admin or super_admin. Every read is audited.
func (h Handlers) AdminGetWallet(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	target := c.Param("user_id")
	if target == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if h.Audit != nil {
		id, _ := auth.FromContext(c.Request.Context())
		actor := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
		if err := h.Audit.LogAdminAction(c.Request.Context(), target, actor, "viewed wallet", nil); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	h.writeWallet(c, target)
}

// parseTime accepts RFC 3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
