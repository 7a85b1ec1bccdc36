package gateway

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"r1","amount":10000}}`)
	sig := Sign("sk_test", body)

	if err := VerifySignature("sk_test", body, sig); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := VerifySignature("sk_test", body, strings.ToUpper(sig)); err != nil {
		t.Fatalf("hex case should not matter: %v", err)
	}

	cases := map[string]struct {
		secret string
		body   []byte
		header string
	}{
		"missing header": {"sk_test", body, ""},
		"wrong secret":   {"sk_other", body, sig},
		"tampered body":  {"sk_test", []byte(`{"event":"charge.success","data":{"reference":"r1","amount":99999}}`), sig},
		"not hex":        {"sk_test", body, "zz"},
		"short digest":   {"sk_test", body, sig[:64]},
		"empty secret":   {"", body, Sign("", body)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := VerifySignature(tc.secret, tc.body, tc.header); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestVerifySignature_ReencodedBodyFails(t *testing.T) {
	raw := []byte(`{"event": "charge.success",  "data": {"reference": "r1"}}`)
	sig := Sign("sk_test", raw)
	compact := []byte(`{"event":"charge.success","data":{"reference":"r1"}}`)
	if err := VerifySignature("sk_test", compact, sig); err == nil {
		t.Fatalf("re-encoded body must not verify")
	}
}
