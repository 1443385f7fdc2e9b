package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks an HMAC-SHA256 signature over the raw
// payload. Providers differ in encoding: hex is tried first, base64 as a
// fallback (CloudPayments sends Content-HMAC base64 encoded).
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	if decoded, err := hex.DecodeString(strings.ToLower(sig)); err == nil {
		if verifyHMACSHA256(payload, decoded, []byte(secret)) {
			return true
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return verifyHMACSHA256(payload, decoded, []byte(secret))
}

func verifyHMACSHA256(payload, expectedSig, secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
