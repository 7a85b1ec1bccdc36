package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"creator-payments/internal/audit"
	"creator-payments/internal/auth"
	"creator-payments/internal/gateway"
	"creator-payments/internal/payout"
	"creator-payments/internal/reporting"
	"creator-payments/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type stubPayouts struct {
	res  payout.Result
	err  error
	last payout.Request
}

func (s *stubPayouts) Request(ctx context.Context, req payout.Request) (payout.Result, error) {
	s.last = req
	return s.res, s.err
}

func withIdentity(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, role))
		}
		c.Next()
	}
}

func newRouter(h Handlers, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withIdentity(userID, "seller"))
	r.POST("/payout", h.RequestPayout)
	r.GET("/wallet", h.GetWallet)
	r.GET("/wallet/transactions", h.ListTransactions)
	r.GET("/wallet/summary", h.EarningsSummary)
	r.GET("/admin/wallets/:user_id", h.AdminGetWallet)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestPayout_Success(t *testing.T) {
	p := &stubPayouts{res: payout.Result{Reference: "payout_u1_1", AmountMinor: 50025, Status: wallet.TxStatusPending}}
	r := newRouter(Handlers{Payouts: p}, "u1")

	w := do(r, http.MethodPost, "/payout", `{"amount":500.25,"bank_details":{"account_name":"Ada","account_number":"0123456789","bank_code":"058"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if p.last.UserID != "u1" || p.last.AmountMinor != 50025 || p.last.BankDetails == nil || p.last.BankDetails.BankCode != "058" {
		t.Fatalf("unexpected request: %+v", p.last)
	}

	var out struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Status    string          `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Reference != "payout_u1_1" || !out.Amount.Equal(decimal.RequireFromString("500.25")) || out.Status != "pending" {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestRequestPayout_RejectsBadInput(t *testing.T) {
	p := &stubPayouts{}
	r := newRouter(Handlers{Payouts: p}, "u1")

	for _, body := range []string{
		`{`,
		`{"amount":0}`,
		`{"amount":-5}`,
		`{"amount":1.005}`,
		`{"amount":1000000000000}`,
		`{"amount":184467440737095516.16}`,
	} {
		if w := do(r, http.MethodPost, "/payout", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
	if p.last.UserID != "" {
		t.Fatalf("service should not be called")
	}
}

func TestRequestPayout_RequiresUser(t *testing.T) {
	r := newRouter(Handlers{Payouts: &stubPayouts{}}, "")

	if w := do(r, http.MethodPost, "/payout", `{"amount":100}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequestPayout_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{payout.ErrBelowMinimum, http.StatusBadRequest},
		{wallet.ErrInsufficientFunds, http.StatusBadRequest},
		{payout.ErrMissingBankDetails, http.StatusBadRequest},
		{wallet.ErrNotFound, http.StatusNotFound},
		{wallet.ErrDuplicateReference, http.StatusConflict},
		{&gateway.APIError{Operation: "initiate_transfer", StatusCode: 400, Message: "Invalid bank"}, http.StatusInternalServerError},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(Handlers{Payouts: &stubPayouts{err: tc.err}}, "u1")
		if w := do(r, http.MethodPost, "/payout", `{"amount":100}`); w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestRequestPayout_UnconfirmedIsAccepted(t *testing.T) {
	p := &stubPayouts{
		res: payout.Result{Reference: "payout_u1_2", AmountMinor: 10000, Status: wallet.TxStatusPending},
		err: payout.ErrTransferUnconfirmed,
	}
	r := newRouter(Handlers{Payouts: p}, "u1")

	w := do(r, http.MethodPost, "/payout", `{"amount":100}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("payout_u1_2")) {
		t.Fatalf("reference missing: %s", w.Body.String())
	}
}

func seededWallets(t *testing.T) *wallet.Service {
	t.Helper()
	repo := wallet.NewMemoryRepo()
	repo.PutWallet(wallet.Wallet{UserID: "u1", AvailableMinor: 123456, Currency: "NGN"})
	svc := wallet.NewService(repo, wallet.Options{FeeRate: decimal.RequireFromString("0.10"), CreditSales: true})
	if _, err := svc.RecordSale(context.Background(), wallet.SaleRequest{
		Reference: "T1", SellerID: "u1", AssetID: "tpl-1", AssetKind: wallet.AssetKindTemplate, GrossMinor: 10000,
	}); err != nil {
		t.Fatalf("sale: %v", err)
	}
	return svc
}

func TestGetWallet(t *testing.T) {
	r := newRouter(Handlers{Wallet: seededWallets(t)}, "u1")

	w := do(r, http.MethodGet, "/wallet", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var out walletResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Available.Equal(decimal.RequireFromString("1324.56")) {
		t.Fatalf("available: %s", out.Available)
	}

	r = newRouter(Handlers{Wallet: seededWallets(t)}, "nobody")
	if w := do(r, http.MethodGet, "/wallet", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListTransactions(t *testing.T) {
	r := newRouter(Handlers{Wallet: seededWallets(t)}, "u1")

	w := do(r, http.MethodGet, "/wallet/transactions?type=fee", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Transactions) != 1 || out.Transactions[0].Type != wallet.TxTypeFee {
		t.Fatalf("unexpected: %+v", out.Transactions)
	}

	for _, q := range []string{"?type=bogus", "?limit=-1", "?from=yesterday"} {
		if w := do(r, http.MethodGet, "/wallet/transactions"+q, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestEarningsSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &reporting.MemoryRepo{Rows: []wallet.Transaction{
		{UserID: "u1", Type: wallet.TxTypeSale, Status: wallet.TxStatusCompleted, AmountMinor: 9000, CreatedAt: now.Add(-time.Hour)},
		{UserID: "u1", Type: wallet.TxTypeFee, Status: wallet.TxStatusCompleted, AmountMinor: 1000, CreatedAt: now.Add(-time.Hour)},
	}}
	h := Handlers{Reports: reporting.NewService(repo), Now: func() time.Time { return now }}
	r := newRouter(h, "u1")

	w := do(r, http.MethodGet, "/wallet/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var out reporting.EarningsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.NetMinor != 9000 || out.FeesMinor != 1000 {
		t.Fatalf("unexpected summary: %+v", out)
	}

	if w := do(r, http.MethodGet, "/wallet/summary?from=2026-03-02&to=2026-03-01", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: expected 400, got %d", w.Code)
	}
}

func TestAdminGetWalletIsAudited(t *testing.T) {
	auditRepo := audit.NewMemoryRepo()
	h := Handlers{Wallet: seededWallets(t), Audit: audit.NewService(auditRepo)}
	r := newRouter(h, "admin-1")

	if w := do(r, http.MethodGet, "/admin/wallets/u1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	events := auditRepo.Events()
	if len(events) != 1 || events[0].UserID != "u1" || events[0].Actor.UserID != "admin-1" {
		t.Fatalf("unexpected audit events: %+v", events)
	}
}
