// Package crypto implements at-rest encryption of project environment
// variables. Grounded on tools/si/internal/vault/crypto_age.go's use of
// filippo.io/age, adapted from that file's X25519 asymmetric recipients to
// age's scrypt passphrase-based symmetric mode: drydock has a single
// operator-supplied passphrase (config.EncryptionPassphrase), not a
// recipients file, so there is no per-project keypair to manage.
package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

const (
	// EncryptedValuePrefix marks a stored env var value as age-encrypted so
	// reads can tell ciphertext from plaintext without a schema flag.
	EncryptedValuePrefix = "encrypted:drydock:v1:"

	ageMagicLine     = "age-encryption.org/v1\n"
	ageScryptStanza1 = "-> scrypt "
)

// Box encrypts and decrypts env var values with a single passphrase.
// Safe for concurrent use; age.Encrypt/age.Decrypt allocate fresh state
// per call.
type Box struct {
	passphrase string
}

func NewBox(passphrase string) (*Box, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("encryption passphrase must not be empty")
	}
	return &Box{passphrase: passphrase}, nil
}

func IsEncryptedValue(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), EncryptedValuePrefix)
}

// EncryptString encrypts plaintext and returns a printable string safe to
// store in a TEXT column such as env_vars, or as one value of an env-var
// map next to untouched keys.
func (b *Box) EncryptString(plaintext string) (string, error) {
	recipient, err := age.NewScryptRecipient(b.passphrase)
	if err != nil {
		return "", fmt.Errorf("build scrypt recipient: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("open age writer: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close age writer: %w", err)
	}
	enc := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return EncryptedValuePrefix + enc, nil
}

// DecryptString reverses EncryptString. Returns the ciphertext unchanged if
// it is not actually encrypted, so callers can round-trip a mixed map of
// plaintext and encrypted values without a branch at every call site.
func (b *Box) DecryptString(value string) (string, error) {
	if !IsEncryptedValue(value) {
		return value, nil
	}
	payload := strings.TrimPrefix(strings.TrimSpace(value), EncryptedValuePrefix)
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext payload: %w", err)
	}
	identity, err := age.NewScryptIdentity(b.passphrase)
	if err != nil {
		return "", fmt.Errorf("build scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read plaintext: %w", err)
	}
	return string(plain), nil
}

// EncryptEnvVars encrypts every value in vars, leaving keys untouched.
func (b *Box) EncryptEnvVars(vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		enc, err := b.EncryptString(v)
		if err != nil {
			return nil, fmt.Errorf("encrypt %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptEnvVars decrypts every value in vars, leaving already-plaintext
// values (e.g. values written before encryption was enabled) untouched.
func (b *Box) DecryptEnvVars(vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		dec, err := b.DecryptString(v)
		if err != nil {
			return nil, fmt.Errorf("decrypt %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}
