package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint produces a stable digest over method, request URI (path plus
// query), and body, used only for equality comparison between retries of
// the same logical request. An empty body hashes like an empty JSON object
// so retries with and without an explicit "{}" compare equal.
func Fingerprint(method, uri string, body []byte) string {
	if len(body) == 0 {
		body = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(":"))
	h.Write([]byte(uri))
	h.Write([]byte(":"))
	h.Write(body)

	return hex.EncodeToString(h.Sum(nil))
}
