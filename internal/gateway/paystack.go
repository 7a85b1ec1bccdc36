package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"creator-payments/internal/config"
	"creator-payments/internal/metrics"
	"creator-payments/internal/money"
)

// Client is the outbound half of the payment gateway used by payouts.
//
// Rules:
// - No gateway HTTP calls outside this package.
// - Amounts cross this boundary in minor units only.
type Client interface {
	CreateTransferRecipient(ctx context.Context, req RecipientRequest) (Recipient, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	// VerifyTransfer looks a transfer up by our reference. It returns
	// ErrTransferNotFound when the gateway has no record of it.
	VerifyTransfer(ctx context.Context, reference string) (TransferStatus, error)
}

// ErrTransferNotFound means the gateway never accepted a transfer with the
// reference, so no terminal webhook will follow.
var ErrTransferNotFound = errors.New("gateway: transfer not found")

// TransferStatus is the gateway's current view of a transfer.
type TransferStatus struct {
	Reference    string
	TransferCode string
	AmountMinor  money.Minor
	Status       string
	Reason       string
}

// Succeeded reports a transfer that reached the beneficiary.
func (t TransferStatus) Succeeded() bool { return t.Status == "success" }

// Failed reports a transfer that will never pay out.
func (t TransferStatus) Failed() bool {
	switch t.Status {
	case "failed", "reversed", "abandoned", "rejected", "blocked":
		return true
	}
	return false
}

type RecipientRequest struct {
	Type          string
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

type Recipient struct {
	Code          string
	AccountName   string
	AccountNumber string
	BankCode      string
}

type TransferRequest struct {
	AmountMinor   money.Minor
	RecipientCode string
	Reference     string
	Reason        string
	Currency      string
}

type Transfer struct {
	TransferCode string
	Reference    string
	Status       string
}

// APIError is a definitive answer from the gateway: it received the request
// and declined it. Transport failures and 5xx are not APIErrors, because the
// gateway may still have acted on the request.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s rejected (%d): %s", e.Operation, e.StatusCode, e.Message)
}

// IsRejection reports whether err is a definitive gateway refusal.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Paystack talks to a Paystack-compatible REST API.
type Paystack struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewPaystack(cfg config.PaystackConfig) *Paystack {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Paystack{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Paystack) Name() string { return "paystack" }

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) CreateTransferRecipient(ctx context.Context, req RecipientRequest) (Recipient, error) {
	body := map[string]any{
		"type":           req.Type,
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	var out struct {
		RecipientCode string `json:"recipient_code"`
		Details       struct {
			AccountName   string `json:"account_name"`
			AccountNumber string `json:"account_number"`
			BankCode      string `json:"bank_code"`
		} `json:"details"`
	}
	if err := p.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", body, &out); err != nil {
		return Recipient{}, err
	}
	if out.RecipientCode == "" {
		return Recipient{}, &APIError{Operation: "create_recipient", StatusCode: http.StatusOK, Message: "no recipient_code in response"}
	}
	return Recipient{
		Code:          out.RecipientCode,
		AccountName:   out.Details.AccountName,
		AccountNumber: out.Details.AccountNumber,
		BankCode:      out.Details.BankCode,
	}, nil
}

func (p *Paystack) InitiateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    int64(req.AmountMinor),
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	var out struct {
		TransferCode string `json:"transfer_code"`
		Reference    string `json:"reference"`
		Status       string `json:"status"`
	}
	if err := p.do(ctx, "initiate_transfer", http.MethodPost, "/transfer", body, &out); err != nil {
		return Transfer{}, err
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return Transfer{TransferCode: out.TransferCode, Reference: out.Reference, Status: out.Status}, nil
}

func (p *Paystack) VerifyTransfer(ctx context.Context, reference string) (TransferStatus, error) {
	if reference == "" {
		return TransferStatus{}, fmt.Errorf("gateway: verify_transfer: reference is required")
	}
	var out struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Amount       int64  `json:"amount"`
		Status       string `json:"status"`
		Reason       string `json:"reason"`
	}
	err := p.do(ctx, "verify_transfer", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return TransferStatus{}, fmt.Errorf("%w: %s", ErrTransferNotFound, reference)
	}
	if err != nil {
		return TransferStatus{}, err
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return TransferStatus{
		Reference:    out.Reference,
		TransferCode: out.TransferCode,
		AmountMinor:  money.Minor(out.Amount),
		Status:       strings.ToLower(out.Status),
		Reason:       out.Reason,
	}, nil
}

func (p *Paystack) do(ctx context.Context, op, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("gateway: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("gateway: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("gateway: %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.GatewayRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gateway: %s: read body: %w", op, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("gateway: %s: upstream status %d", op, resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("gateway: %s: decode: %w", op, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("gateway: %s: decode data: %w", op, err)
		}
	}
	return nil
}
