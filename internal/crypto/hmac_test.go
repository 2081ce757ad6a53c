package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestHeadersAtDeterministic(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("topsecret"))
	auth := &HMACAuth{Key: "api-key-1", Secret: secret}

	got := auth.HeadersAt("POST", "/v1/orders", `{"size":"1"}`, 1700000000)

	if got["DEXSWAP-API-KEY"] != "api-key-1" {
		t.Errorf("api key header = %q", got["DEXSWAP-API-KEY"])
	}
	if got["DEXSWAP-TIMESTAMP"] != "1700000000" {
		t.Errorf("timestamp header = %q", got["DEXSWAP-TIMESTAMP"])
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte("1700000000POST/v1/orders" + `{"size":"1"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got["DEXSWAP-SIGNATURE"] != want {
		t.Errorf("signature = %q, want %q", got["DEXSWAP-SIGNATURE"], want)
	}

	// Same inputs, same signature.
	again := auth.HeadersAt("POST", "/v1/orders", `{"size":"1"}`, 1700000000)
	if again["DEXSWAP-SIGNATURE"] != got["DEXSWAP-SIGNATURE"] {
		t.Error("signature is not deterministic for fixed inputs")
	}
}

func TestHeadersAtSignatureVariesWithInput(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("topsecret"))
	auth := &HMACAuth{Key: "k", Secret: secret}

	base := auth.HeadersAt("GET", "/v1/positions", "", 1700000000)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ts     int64
	}{
		{"different method", "POST", "/v1/positions", "", 1700000000},
		{"different path", "GET", "/v1/orders", "", 1700000000},
		{"different body", "GET", "/v1/positions", "x", 1700000000},
		{"different timestamp", "GET", "/v1/positions", "", 1700000001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auth.HeadersAt(tt.method, tt.path, tt.body, tt.ts)
			if got["DEXSWAP-SIGNATURE"] == base["DEXSWAP-SIGNATURE"] {
				t.Error("signature did not change with the input")
			}
		})
	}
}

func TestHeadersAtNonBase64SecretFallsBack(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "!!not base64!!"}
	got := auth.HeadersAt("GET", "/v1/time", "", 1700000000)
	if got["DEXSWAP-SIGNATURE"] == "" {
		t.Error("raw-byte fallback should still produce a signature")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-1234567", Secret: "secret-7654321"}
	s := auth.String()
	if strings.Contains(s, "1234567") || strings.Contains(s, "7654321") {
		t.Errorf("String() leaks credentials: %s", s)
	}
	if !strings.Contains(s, "key-****") {
		t.Errorf("String() = %s, want redacted key prefix", s)
	}
}
