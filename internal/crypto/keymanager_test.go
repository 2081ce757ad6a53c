package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	secret := []byte("super-secret-api-key")

	blob, err := EncryptSecret(secret, "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret() error = %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret() error = %v", err)
	}
	if string(got) != string(secret) {
		t.Errorf("DecryptSecret() = %q, want %q", got, secret)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret([]byte("payload"), "correct")
	if err != nil {
		t.Fatalf("EncryptSecret() error = %v", err)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("DecryptSecret() with the wrong password must fail")
	}
}

func TestEncryptEmptyPassword(t *testing.T) {
	if _, err := EncryptSecret([]byte("x"), ""); err == nil {
		t.Error("EncryptSecret() with an empty password must fail")
	}
	if _, err := DecryptSecret([]byte("{}"), ""); err == nil {
		t.Error("DecryptSecret() with an empty password must fail")
	}
}

func TestEncryptProducesUniqueBlobs(t *testing.T) {
	a, err := EncryptSecret([]byte("same"), "pw")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptSecret([]byte("same"), "pw")
	if err != nil {
		t.Fatal(err)
	}
	// Random salt and nonce mean identical inputs never repeat on disk.
	if string(a) == string(b) {
		t.Error("two encryptions of the same secret produced identical blobs")
	}
}

func TestCredentialsRoundtrip(t *testing.T) {
	creds := Credentials{APIKey: "key-123", APISecret: "secret-456"}

	blob, err := EncryptCredentials(creds, "pw")
	if err != nil {
		t.Fatalf("EncryptCredentials() error = %v", err)
	}
	got, err := DecryptCredentials(blob, "pw")
	if err != nil {
		t.Fatalf("DecryptCredentials() error = %v", err)
	}
	if got != creds {
		t.Errorf("DecryptCredentials() = %+v, want %+v", got, creds)
	}
}

func TestLoadCredentialsPlaintextWins(t *testing.T) {
	got, err := LoadCredentials("k", "s", "/nonexistent/path", "pw")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if got.APIKey != "k" || got.APISecret != "s" {
		t.Errorf("LoadCredentials() = %+v, want plaintext pair", got)
	}
}

func TestLoadCredentialsFromFile(t *testing.T) {
	blob, err := EncryptCredentials(Credentials{APIKey: "k", APISecret: "s"}, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadCredentials("", "", path, "pw")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if got.APIKey != "k" {
		t.Errorf("APIKey = %q, want k", got.APIKey)
	}
}

func TestLoadCredentialsNoSource(t *testing.T) {
	if _, err := LoadCredentials("", "", "", ""); err == nil {
		t.Error("LoadCredentials() with no source must fail")
	}
}

func TestLoadSigningKeyRawPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain hex", "deadbeef", "deadbeef"},
		{"0x prefix stripped", "0xdeadbeef", "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadSigningKey(KeyConfig{RawPrivateKey: tt.raw, EncryptedKeyPath: "/ignored"})
			if err != nil {
				t.Fatalf("LoadSigningKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("LoadSigningKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadSigningKeyInvalidHex(t *testing.T) {
	if _, err := LoadSigningKey(KeyConfig{RawPrivateKey: "not-hex"}); err == nil {
		t.Error("LoadSigningKey() with invalid hex must fail")
	}
}

func TestLoadSigningKeyFromEncryptedFile(t *testing.T) {
	keyBytes, _ := hex.DecodeString("00112233445566778899aabbccddeeff")
	blob, err := EncryptSecret(keyBytes, "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSigningKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadSigningKey() error = %v", err)
	}
	if got != "00112233445566778899aabbccddeeff" {
		t.Errorf("LoadSigningKey() = %q, want the hex of the stored key", got)
	}
}

func TestLoadSigningKeyNoSource(t *testing.T) {
	_, err := LoadSigningKey(KeyConfig{})
	if err == nil || !strings.Contains(err.Error(), "no signing key source") {
		t.Errorf("LoadSigningKey(empty) error = %v, want no-source failure", err)
	}
}
