// Package crypto implements the request-signing schemes of the supported
// derivatives exchanges. Both Binance and Bybit authenticate private REST
// endpoints with an HMAC-SHA256 signature over a timestamped message; they
// differ only in message layout and where the signature travels.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds one exchange API credential pair.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// Configured reports whether both halves of the credential are present.
func (h *HMACAuth) Configured() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// SignQuery returns the Binance-style signature for a query string: the
// signature is HMAC-SHA256(secret, query) hex-encoded and appended to the
// query as the final parameter. The query must already contain the
// timestamp parameter.
func (h *HMACAuth) SignQuery(query string) string {
	return hmacSHA256Hex([]byte(h.Secret), query)
}

// BybitHeaders returns the V5 authentication headers for a Bybit request.
// The signed message is timestamp + key + recvWindow + query.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (h *HMACAuth) BybitHeaders(query string) map[string]string {
	return h.BybitHeadersAt(query, time.Now().UnixMilli())
}

// BybitHeadersAt is like BybitHeaders but lets the caller supply the Unix
// millisecond timestamp (useful for deterministic testing).
func (h *HMACAuth) BybitHeadersAt(query string, unixMilli int64) map[string]string {
	const recvWindow = "5000"
	ts := strconv.FormatInt(unixMilli, 10)

	message := ts + h.Key + recvWindow + query
	sig := hmacSHA256Hex([]byte(h.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     h.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        sig,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
