package lighter

import (
	"testing"
)

func TestSigner_GenerateHeaders(t *testing.T) {
	signer := NewSigner("key", "secret")

	headers := signer.GenerateHeaders("POST", "/api/v1/order", "{\"symbol\":\"ETH\"}")

	if headers["X-API-KEY"] != "key" {
		t.Errorf("Expected X-API-KEY to be 'key', got %s", headers["X-API-KEY"])
	}
	if headers["X-API-SIGN"] == "" {
		t.Error("X-API-SIGN should not be empty")
	}
	if len(headers["X-API-TIMESTAMP"]) != 13 { // Milliseconds
		t.Errorf("Expected timestamp len 13, got %s", headers["X-API-TIMESTAMP"])
	}
	if headers["Content-Type"] != "application/json" {
		t.Errorf("Expected json content type, got %s", headers["Content-Type"])
	}
}

func TestComputeHmacSha256(t *testing.T) {
	// Standard HMAC-SHA256 Test Vector
	key := "key"
	data := "The quick brown fox jumps over the lazy dog"
	// Base64 of f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8
	expected := "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg="

	result := computeHmacSha256(data, key)
	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}
