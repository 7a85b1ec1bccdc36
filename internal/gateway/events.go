package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"creator-payments/internal/money"
)

// Event names the webhook handler acts on. Everything else decodes to UnknownEvent.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

var ErrMalformedPayload = errors.New("gateway: malformed payload")

// Event is a decoded, verified webhook. The concrete type says what to do.
type Event interface {
	Name() string
}

// ChargeSuccess is a completed buyer payment.
type ChargeSuccess struct {
	Reference   string
	AmountMinor money.Minor
	Currency    string
	PaidAt      time.Time
	Email       string
	Metadata    ChargeMetadata
}

func (ChargeSuccess) Name() string { return EventChargeSuccess }

// ChargeMetadata is what checkout attaches to a marketplace charge.
// A charge with no seller or asset belongs to another flow.
type ChargeMetadata struct {
	SellerID   string
	BuyerID    string
	TemplateID string
	ProductID  string
	PurchaseID string
	Kind       string
	Title      string
}

// AssetID returns the template or product id, whichever is set.
func (m ChargeMetadata) AssetID() string {
	if m.TemplateID != "" {
		return m.TemplateID
	}
	return m.ProductID
}

// AssetKind returns "template" or "product", preferring the explicit kind.
func (m ChargeMetadata) AssetKind() string {
	switch strings.ToLower(m.Kind) {
	case "template", "product":
		return strings.ToLower(m.Kind)
	}
	if m.TemplateID != "" {
		return "template"
	}
	if m.ProductID != "" {
		return "product"
	}
	return ""
}

// TransferOutcome is a terminal notice about an outbound transfer.
type TransferOutcome struct {
	Reference    string
	TransferCode string
	AmountMinor  money.Minor
	Currency     string
	Reason       string
	Status       string
}

type TransferSuccess struct{ TransferOutcome }

func (TransferSuccess) Name() string { return EventTransferSuccess }

// TransferFailed covers both transfer.failed and transfer.reversed.
type TransferFailed struct {
	TransferOutcome
	Reversed bool
}

func (e TransferFailed) Name() string {
	if e.Reversed {
		return EventTransferReversed
	}
	return EventTransferFailed
}

// UnknownEvent is acknowledged and otherwise ignored.
type UnknownEvent struct{ Event string }

func (e UnknownEvent) Name() string { return e.Event }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    *time.Time      `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reason       string `json:"reason"`
	Status       string `json:"status"`
}

// DecodeEvent classifies a verified webhook body.
func DecodeEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}

	switch env.Event {
	case EventChargeSuccess:
		return decodeCharge(env.Data)
	case EventTransferSuccess:
		o, err := decodeTransfer(env.Data)
		if err != nil {
			return nil, err
		}
		return TransferSuccess{TransferOutcome: o}, nil
	case EventTransferFailed, EventTransferReversed:
		o, err := decodeTransfer(env.Data)
		if err != nil {
			return nil, err
		}
		return TransferFailed{TransferOutcome: o, Reversed: env.Event == EventTransferReversed}, nil
	default:
		return UnknownEvent{Event: env.Event}, nil
	}
}

func decodeCharge(raw json.RawMessage) (ChargeSuccess, error) {
	var d chargeData
	if err := json.Unmarshal(raw, &d); err != nil {
		return ChargeSuccess{}, fmt.Errorf("%w: charge data: %v", ErrMalformedPayload, err)
	}
	if d.Reference == "" {
		return ChargeSuccess{}, fmt.Errorf("%w: charge reference missing", ErrMalformedPayload)
	}
	meta, err := decodeChargeMetadata(d.Metadata)
	if err != nil {
		return ChargeSuccess{}, err
	}
	ev := ChargeSuccess{
		Reference:   d.Reference,
		AmountMinor: money.Minor(d.Amount),
		Currency:    strings.ToUpper(d.Currency),
		Email:       d.Customer.Email,
		Metadata:    meta,
	}
	if d.PaidAt != nil {
		ev.PaidAt = d.PaidAt.UTC()
	}
	return ev, nil
}

// decodeChargeMetadata accepts metadata as an object, a JSON-encoded string,
// or absent. Checkout clients send all three.
func decodeChargeMetadata(raw json.RawMessage) (ChargeMetadata, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return ChargeMetadata{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ChargeMetadata{}, fmt.Errorf("%w: metadata: %v", ErrMalformedPayload, err)
		}
		raw = []byte(s)
	}
	var m struct {
		SellerID   flexString `json:"seller_id"`
		BuyerID    flexString `json:"buyer_id"`
		TemplateID flexString `json:"template_id"`
		ProductID  flexString `json:"product_id"`
		PurchaseID flexString `json:"purchase_id"`
		Kind       flexString `json:"kind"`
		Title      flexString `json:"title"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ChargeMetadata{}, fmt.Errorf("%w: metadata: %v", ErrMalformedPayload, err)
	}
	return ChargeMetadata{
		SellerID:   string(m.SellerID),
		BuyerID:    string(m.BuyerID),
		TemplateID: string(m.TemplateID),
		ProductID:  string(m.ProductID),
		PurchaseID: string(m.PurchaseID),
		Kind:       string(m.Kind),
		Title:      string(m.Title),
	}, nil
}

func decodeTransfer(raw json.RawMessage) (TransferOutcome, error) {
	var d transferData
	if err := json.Unmarshal(raw, &d); err != nil {
		return TransferOutcome{}, fmt.Errorf("%w: transfer data: %v", ErrMalformedPayload, err)
	}
	if d.Reference == "" {
		return TransferOutcome{}, fmt.Errorf("%w: transfer reference missing", ErrMalformedPayload)
	}
	return TransferOutcome{
		Reference:    d.Reference,
		TransferCode: d.TransferCode,
		AmountMinor:  money.Minor(d.Amount),
		Currency:     strings.ToUpper(d.Currency),
		Reason:       d.Reason,
		Status:       d.Status,
	}, nil
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
