package lighter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer handles Lighter REST API authentication signatures.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a new Signer instance.
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
	}
}

// GenerateHeaders creates the auth headers for a request.
// method: GET, POST, etc.
// path: /api/v1/order (no host)
// body: json string (empty if none)
//
// Payload format: timestamp + method + path + body, HMAC-SHA256 over the
// secret, base64 encoded.
func (s *Signer) GenerateHeaders(method, path, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	payload := timestamp + method + path + body
	sign := computeHmacSha256(payload, s.secretKey)

	return map[string]string{
		"X-API-KEY":       s.accessKey,
		"X-API-SIGN":      sign,
		"X-API-TIMESTAMP": timestamp,
		"Content-Type":    "application/json",
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
