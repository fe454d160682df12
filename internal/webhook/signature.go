// internal/webhook/signature.go
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// VerifyRazorpaySignature checks the X-Razorpay-Signature header: a
// hex-encoded HMAC-SHA256 of the raw request body. Comparison is constant
// time.
func VerifyRazorpaySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// stripeTolerance bounds how old a Stripe-signed timestamp may be before
// the delivery is treated as a replay.
const stripeTolerance = 5 * time.Minute

// VerifyStripeSignature checks the Stripe-Signature header, which carries
// a timestamp and one or more v1 signatures over "<t>.<body>". Any
// matching v1 within the tolerance window passes.
func VerifyStripeSignature(body []byte, header, secret string, now time.Time) bool {
	if header == "" || secret == "" {
		return false
	}

	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > stripeTolerance || age < -stripeTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}
