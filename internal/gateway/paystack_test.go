package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"creator-payments/internal/config"
)

func newTestPaystack(t *testing.T, h http.HandlerFunc) *Paystack {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewPaystack(config.PaystackConfig{BaseURL: srv.URL + "/", SecretKey: "sk_test", RequestTimeout: time.Second})
}

func TestPaystack_CreateTransferRecipient(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transferrecipient" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("auth header: %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["account_number"] != "0123456789" || body["bank_code"] != "058" || body["type"] != "nuban" {
			t.Errorf("body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Transfer recipient created","data":{"recipient_code":"RCP_1","details":{"account_name":"Ada","account_number":"0123456789","bank_code":"058"}}}`))
	})

	rcp, err := p.CreateTransferRecipient(context.Background(), RecipientRequest{
		Type: "nuban", Name: "Ada", AccountNumber: "0123456789", BankCode: "058", Currency: "NGN",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rcp.Code != "RCP_1" || rcp.AccountName != "Ada" {
		t.Fatalf("unexpected recipient: %+v", rcp)
	}
}

func TestPaystack_InitiateTransfer(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["source"] != "balance" || body["amount"] != float64(50000) || body["reference"] != "payout_u1_1" {
			t.Errorf("body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Transfer has been queued","data":{"transfer_code":"TRF_1","reference":"payout_u1_1","status":"pending"}}`))
	})

	tr, err := p.InitiateTransfer(context.Background(), TransferRequest{AmountMinor: 50000, RecipientCode: "RCP_1", Reference: "payout_u1_1"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.TransferCode != "TRF_1" || tr.Status != "pending" {
		t.Fatalf("unexpected transfer: %+v", tr)
	}
}

func TestPaystack_RejectionIsAPIError(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Your balance is not enough to fulfil this request"}`))
	})

	_, err := p.InitiateTransfer(context.Background(), TransferRequest{AmountMinor: 1, RecipientCode: "RCP_1", Reference: "r"})
	if !IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestPaystack_StatusFalseIsRejection(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid account"}`))
	})

	_, err := p.CreateTransferRecipient(context.Background(), RecipientRequest{AccountNumber: "1", BankCode: "2"})
	if !IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestPaystack_ServerErrorIsNotRejection(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.InitiateTransfer(context.Background(), TransferRequest{AmountMinor: 1, RecipientCode: "RCP_1", Reference: "r"})
	if err == nil || IsRejection(err) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
}

func TestPaystack_VerifyTransfer(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/transfer/verify/payout_u1_1_ab12" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("GET must not carry a body content type")
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Transfer retrieved","data":{"reference":"payout_u1_1_ab12","transfer_code":"TRF_9","amount":50000,"status":"Success"}}`))
	})

	st, err := p.VerifyTransfer(context.Background(), "payout_u1_1_ab12")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !st.Succeeded() || st.Failed() || st.AmountMinor != 50000 || st.TransferCode != "TRF_9" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestPaystack_VerifyTransferNotFound(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transfer not found"}`))
	})

	_, err := p.VerifyTransfer(context.Background(), "payout_u1_1_ab12")
	if !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestPaystack_VerifyTransferServerErrorIsAmbiguous(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := p.VerifyTransfer(context.Background(), "payout_u1_1_ab12")
	if err == nil || errors.Is(err, ErrTransferNotFound) || IsRejection(err) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
}

func TestTransferStatusClassification(t *testing.T) {
	for status, want := range map[string][2]bool{
		"success":   {true, false},
		"failed":    {false, true},
		"reversed":  {false, true},
		"abandoned": {false, true},
		"pending":   {false, false},
		"otp":       {false, false},
		"received":  {false, false},
	} {
		st := TransferStatus{Status: status}
		if st.Succeeded() != want[0] || st.Failed() != want[1] {
			t.Errorf("%s: succeeded=%v failed=%v", status, st.Succeeded(), st.Failed())
		}
	}
}
