package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("binance-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "binance-api-secret" {
		t.Errorf("decrypted = %q, want original secret", got)
	}
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("binance-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("decryption succeeded with the wrong password")
	}
}

func TestEncryptSecretRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptSecret("", "hunter2"); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Error("empty password accepted")
	}
}

func TestLoadSecret(t *testing.T) {
	t.Run("raw takes precedence", func(t *testing.T) {
		got, err := LoadSecret(SecretConfig{RawSecret: "raw-secret", EncryptedSecretPath: "/does/not/exist"})
		if err != nil {
			t.Fatalf("LoadSecret: %v", err)
		}
		if got != "raw-secret" {
			t.Errorf("secret = %q, want raw-secret", got)
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptSecret("file-secret", "pw")
		if err != nil {
			t.Fatalf("EncryptSecret: %v", err)
		}
		path := filepath.Join(t.TempDir(), "secret.json")
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := LoadSecret(SecretConfig{EncryptedSecretPath: path, Password: "pw"})
		if err != nil {
			t.Fatalf("LoadSecret: %v", err)
		}
		if got != "file-secret" {
			t.Errorf("secret = %q, want file-secret", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		if _, err := LoadSecret(SecretConfig{}); err == nil {
			t.Error("LoadSecret succeeded with no source")
		}
	})
}

func TestSignQueryAtDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}

	signed := auth.SignQueryAt("symbol=BTCUSDT&side=BUY", 1700000000000)
	if !strings.Contains(signed, "timestamp=1700000000000") {
		t.Errorf("signed query missing timestamp: %s", signed)
	}
	if !strings.Contains(signed, "&signature=") {
		t.Errorf("signed query missing signature: %s", signed)
	}

	// Same inputs must sign identically.
	if again := auth.SignQueryAt("symbol=BTCUSDT&side=BUY", 1700000000000); again != signed {
		t.Errorf("signatures differ for identical input:\n%s\n%s", signed, again)
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "AKIA12345", Secret: "supersecret"}
	s := auth.String()
	if strings.Contains(s, "supersecret") || strings.Contains(s, "AKIA12345") {
		t.Errorf("String() leaks credentials: %s", s)
	}
}
