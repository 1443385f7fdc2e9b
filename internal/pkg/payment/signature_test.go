package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func signHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signBase64(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"event":"payment.succeeded"}`)
	secret := "whsec_test"

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid hex", payload, signHex(payload, secret), secret, true},
		{"valid base64", payload, signBase64(payload, secret), secret, true},
		{"uppercase hex", payload, strings.ToUpper(signHex(payload, secret)), secret, true},
		{"wrong secret", payload, signHex(payload, "other"), secret, false},
		{"tampered payload", []byte(`{"event":"payment.canceled"}`), signHex(payload, secret), secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, signHex(payload, secret), "", false},
		{"garbage signature", payload, "not-a-signature!!", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyWebhookSignature(tt.payload, tt.signature, tt.secret); got != tt.want {
				t.Fatalf("VerifyWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyWebhookSignatureWhitespace(t *testing.T) {
	payload := []byte(`{}`)
	secret := "s"
	sig := "  " + signHex(payload, secret) + "  "
	if !VerifyWebhookSignature(payload, sig, secret) {
		t.Fatal("expected padded signature header to verify")
	}
}
