// Package webhook receives and verifies inbound provider callbacks: the
// messaging channel, the payment provider, and the internal scheduler
// trigger. Every payload is authenticated before any business code runs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"leadgate_backend/platform/apperr"
)

// ErrMissingSecret is returned when a verifier has no configured secret.
// Verification fails closed in that case; it never falls through to
// accepting unsigned payloads.
var errMissingSecret = apperr.Internal("webhook secret is not configured")

// VerifyMessagingSignature checks the messaging provider's
// "sha256=<hex>" signature header against an HMAC-SHA256 of the raw body.
func VerifyMessagingSignature(secret string, body []byte, header string) error {
	if secret == "" {
		return errMissingSecret
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return apperr.Unauthorized("malformed signature header")
	}

	expected := computeHMAC(secret, body)
	if !hmacEqual(provided, expected) {
		return apperr.Unauthorized("signature mismatch")
	}
	return nil
}

// VerifyPaymentSignature checks the payment provider's
// "t=<unix>,v1=<hex>" header. The signed input is "<t>.<body>" and the
// timestamp must be within maxSkew of now to bound replay windows.
func VerifyPaymentSignature(secret string, body []byte, header string, maxSkew time.Duration, now time.Time) error {
	if secret == "" {
		return errMissingSecret
	}

	var (
		timestamp int64
		provided  string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return apperr.Unauthorized("malformed signature timestamp")
			}
			timestamp = ts
		case "v1":
			provided = value
		}
	}
	if timestamp == 0 || provided == "" {
		return apperr.Unauthorized("malformed signature header")
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > maxSkew || age < -maxSkew {
		return apperr.Unauthorized("signature timestamp outside tolerance")
	}

	signed := strconv.FormatInt(timestamp, 10) + "." + string(body)
	expected := computeHMAC(secret, []byte(signed))
	if !hmacEqual(provided, expected) {
		return apperr.Unauthorized("signature mismatch")
	}
	return nil
}

func computeHMAC(secret string, input []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(input)
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
