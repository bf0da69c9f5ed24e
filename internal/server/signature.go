package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// maxFutureSkew tolerates provider clocks running slightly ahead.
const maxFutureSkew = 30 * time.Second

// VerifySignature checks a provider webhook HMAC. The signed message is
// "<timestamp>.<body>" and the signature is hex-encoded HMAC-SHA256.
// The timestamp must fall inside the replay window.
func VerifySignature(body []byte, signature, timestamp, secret string, replayWindow time.Duration) bool {
	if secret == "" || signature == "" || timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if ts < now-int64(replayWindow.Seconds()) {
		return false
	}
	if ts > now+int64(maxFutureSkew.Seconds()) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// payloadHash is the SHA-256 hex digest of a raw webhook body, used as a
// dedupe fingerprint and as the message id fallback.
func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
