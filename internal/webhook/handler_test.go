package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"creator-payments/internal/gateway"
	"creator-payments/internal/notify"
	"creator-payments/internal/payout"
	"creator-payments/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const secret = "sk_test_secret"

type memMarker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memMarker) Seen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memMarker) Mark(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	m.keys[key] = true
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.SaleNotice
}

func (n *recordingNotifier) Dispatch(ctx context.Context, s notify.SaleNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, s)
}

type env struct {
	router   *gin.Engine
	repo     *wallet.MemoryRepo
	wallets  *wallet.Service
	notifier *recordingNotifier
}

func newEnv(t *testing.T, marker Marker) env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := wallet.NewMemoryRepo()
	wallets := wallet.NewService(repo, wallet.Options{
		FeeRate:     decimal.RequireFromString("0.10"),
		CreditSales: true,
	})
	n := &recordingNotifier{}
	h := Handler{
		Secret:    secret,
		Sales:     wallets,
		Transfers: payout.NewReconciler(wallets, nil),
		Notifier:  n,
		Marker:    marker,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	}
	r := gin.New()
	r.POST("/webhook", h.Handle)
	return env{router: r, repo: repo, wallets: wallets, notifier: n}
}

func (e env) post(body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(gateway.SignatureHeader, sig)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e env) postSigned(body []byte) *httptest.ResponseRecorder {
	return e.post(body, gateway.Sign(secret, body))
}

func status(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out["status"]
}

var chargeBody = []byte(`{"event":"charge.success","data":{"reference":"T100","amount":10000,"currency":"NGN",` +
	`"metadata":{"seller_id":"seller-1","buyer_id":"buyer-1","template_id":"tpl-1","title":"Planner"}}}`)

func TestHandle_InvalidSignatureChangesNothing(t *testing.T) {
	e := newEnv(t, nil)

	for _, sig := range []string{"", "deadbeef", gateway.Sign("wrong", chargeBody)} {
		w := e.post(chargeBody, sig)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("sig %q: expected 401, got %d", sig, w.Code)
		}
	}
	if n := len(e.repo.Transactions()); n != 0 {
		t.Fatalf("expected no ledger rows, got %d", n)
	}
	if len(e.notifier.notices) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestHandle_ChargeSuccessRecordsSale(t *testing.T) {
	e := newEnv(t, nil)

	w := e.postSigned(chargeBody)
	if w.Code != http.StatusOK || status(t, w) != "processed" {
		t.Fatalf("expected 200 processed, got %d %s", w.Code, w.Body.String())
	}

	txs := e.repo.Transactions()
	if len(txs) != 2 {
		t.Fatalf("expected sale + fee rows, got %d", len(txs))
	}
	wl, err := e.wallets.GetWallet(context.Background(), "seller-1")
	if err != nil || wl.AvailableMinor != 9000 {
		t.Fatalf("wallet: %+v err=%v", wl, err)
	}
	if len(e.notifier.notices) != 1 || e.notifier.notices[0].NetMinor != 9000 {
		t.Fatalf("notices: %+v", e.notifier.notices)
	}
}

func TestHandle_DuplicateDeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)

	if w := e.postSigned(chargeBody); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	w := e.postSigned(chargeBody)
	if w.Code != http.StatusOK || status(t, w) != "duplicate" {
		t.Fatalf("expected 200 duplicate, got %d %s", w.Code, w.Body.String())
	}
	if n := len(e.repo.Transactions()); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	if n := len(e.notifier.notices); n != 1 {
		t.Fatalf("side effects fired %d times", n)
	}
}

func TestHandle_MarkerShortCircuitsReplay(t *testing.T) {
	m := &memMarker{}
	e := newEnv(t, m)

	if w := e.postSigned(chargeBody); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if !m.keys[markerKey(gateway.EventChargeSuccess, "T100")] {
		t.Fatalf("expected marker after processing")
	}
	w := e.postSigned(chargeBody)
	if status(t, w) != "duplicate" {
		t.Fatalf("expected duplicate, got %s", w.Body.String())
	}
}

func TestHandle_UnknownEventAcknowledged(t *testing.T) {
	e := newEnv(t, nil)

	w := e.postSigned([]byte(`{"event":"subscription.create","data":{}}`))
	if w.Code != http.StatusOK || status(t, w) != "ignored" {
		t.Fatalf("expected 200 ignored, got %d %s", w.Code, w.Body.String())
	}
}

func TestHandle_MalformedSignedPayloadAcknowledged(t *testing.T) {
	e := newEnv(t, nil)

	for _, body := range []string{
		`{"event":"charge.success","data":{"amount":10000}}`,
		`{"event":"charge.success","data":"not an object"}`,
		`{"event":"charge.success","data":{"reference":"T300","amount":0,"metadata":{"seller_id":"seller-1","template_id":"tpl-1"}}}`,
		`{"event":"charge.success","data":{"reference":"T301","amount":-500,"metadata":{"seller_id":"seller-1","template_id":"tpl-1"}}}`,
	} {
		w := e.postSigned([]byte(body))
		if w.Code != http.StatusOK || status(t, w) != "ignored" {
			t.Fatalf("%s: expected 200 ignored, got %d %s", body, w.Code, w.Body.String())
		}
	}
	if n := len(e.repo.Transactions()); n != 0 {
		t.Fatalf("expected no ledger rows, got %d", n)
	}
	if len(e.notifier.notices) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestHandle_ChargeWithoutSellerIgnored(t *testing.T) {
	e := newEnv(t, nil)

	w := e.postSigned([]byte(`{"event":"charge.success","data":{"reference":"T200","amount":5000,"metadata":{"plan":"pro"}}}`))
	if w.Code != http.StatusOK || status(t, w) != "ignored" {
		t.Fatalf("expected 200 ignored, got %d %s", w.Code, w.Body.String())
	}
	if n := len(e.repo.Transactions()); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestHandle_TransferFailedRefundsOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.repo.PutWallet(wallet.Wallet{UserID: "u1", AvailableMinor: 100000})
	if _, _, err := e.wallets.ReservePayout(context.Background(), wallet.ReserveRequest{UserID: "u1", AmountMinor: 50000, Reference: "payout_u1_1"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	body := []byte(`{"event":"transfer.failed","data":{"reference":"payout_u1_1","amount":50000,"reason":"Account closed"}}`)
	if w := e.postSigned(body); w.Code != http.StatusOK || status(t, w) != "processed" {
		t.Fatalf("first: %d %s", w.Code, w.Body.String())
	}
	if w := e.postSigned(body); w.Code != http.StatusOK || status(t, w) != "duplicate" {
		t.Fatalf("second: %d %s", w.Code, w.Body.String())
	}

	wl, _ := e.wallets.GetWallet(context.Background(), "u1")
	if wl.AvailableMinor != 100000 || wl.PendingMinor != 0 {
		t.Fatalf("wallet: %+v", wl)
	}
}

func TestHandle_TransferSuccessUnknownReference(t *testing.T) {
	e := newEnv(t, nil)

	w := e.postSigned([]byte(`{"event":"transfer.success","data":{"reference":"payout_nobody_1"}}`))
	if w.Code != http.StatusOK || status(t, w) != "ignored" {
		t.Fatalf("expected 200 ignored, got %d %s", w.Code, w.Body.String())
	}
}

func TestHandle_ReversalAfterSuccessRefunds(t *testing.T) {
	e := newEnv(t, &memMarker{})
	e.repo.PutWallet(wallet.Wallet{UserID: "u1", AvailableMinor: 100000})
	if _, _, err := e.wallets.ReservePayout(context.Background(), wallet.ReserveRequest{UserID: "u1", AmountMinor: 50000, Reference: "payout_u1_2"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	success := []byte(`{"event":"transfer.success","data":{"reference":"payout_u1_2","amount":50000}}`)
	reversed := []byte(`{"event":"transfer.reversed","data":{"reference":"payout_u1_2","amount":50000}}`)
	if w := e.postSigned(success); status(t, w) != "processed" {
		t.Fatalf("success: %d %s", w.Code, w.Body.String())
	}
	if w := e.postSigned(reversed); w.Code != http.StatusOK || status(t, w) != "processed" {
		t.Fatalf("reversal: %d %s", w.Code, w.Body.String())
	}
	if w := e.postSigned(reversed); status(t, w) != "duplicate" {
		t.Fatalf("replayed reversal: %s", w.Body.String())
	}

	wl, _ := e.wallets.GetWallet(context.Background(), "u1")
	if wl.AvailableMinor != 100000 || wl.PendingMinor != 0 {
		t.Fatalf("wallet: %+v", wl)
	}
}
