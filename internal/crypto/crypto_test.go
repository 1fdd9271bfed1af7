package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := NewBox("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	enc, err := box.EncryptString("super-secret-api-key")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if !IsEncryptedValue(enc) {
		t.Fatalf("expected encrypted value to carry the marker prefix, got %q", enc)
	}
	dec, err := box.DecryptString(enc)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if dec != "super-secret-api-key" {
		t.Fatalf("round trip mismatch: got %q", dec)
	}
}

func TestDecryptStringPassesThroughPlaintext(t *testing.T) {
	box, _ := NewBox("pw")
	got, err := box.DecryptString("plain-value")
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestEncryptDecryptEnvVars(t *testing.T) {
	box, _ := NewBox("pw")
	vars := map[string]string{"A": "1", "B": "2"}
	enc, err := box.EncryptEnvVars(vars)
	if err != nil {
		t.Fatalf("EncryptEnvVars: %v", err)
	}
	for k, v := range enc {
		if !IsEncryptedValue(v) {
			t.Fatalf("expected %q to be encrypted, got %q", k, v)
		}
	}
	dec, err := box.DecryptEnvVars(enc)
	if err != nil {
		t.Fatalf("DecryptEnvVars: %v", err)
	}
	if dec["A"] != "1" || dec["B"] != "2" {
		t.Fatalf("unexpected decrypted vars: %+v", dec)
	}
}

func TestNewBoxRejectsEmptyPassphrase(t *testing.T) {
	if _, err := NewBox(""); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
}
