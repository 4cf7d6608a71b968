// Package secrets encrypts data at rest with age X25519 keys.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Encryptor seals and opens opaque blobs.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AgeEncryptor encrypts to a single X25519 identity.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor loads the first X25519 identity from keyFile.
func NewAgeEncryptor(keyFile string) (*AgeEncryptor, error) {
	f, err := os.Open(keyFile)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", keyFile, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return &AgeEncryptor{identity: x, recipient: x.Recipient()}, nil
		}
	}
	return nil, fmt.Errorf("key file %s: no X25519 identity", keyFile)
}

// NewEphemeralEncryptor generates a key that lives only in memory.
func NewEphemeralEncryptor() (*AgeEncryptor, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &AgeEncryptor{identity: id, recipient: id.Recipient()}, nil
}

// EnsureKeyFile creates keyFile with a fresh identity if it does not
// exist, then loads it.
func EnsureKeyFile(keyFile string) (*AgeEncryptor, error) {
	if _, err := os.Stat(keyFile); errors.Is(err, os.ErrNotExist) {
		id, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
			return nil, fmt.Errorf("create key dir: %w", err)
		}
		content := fmt.Sprintf("# public key: %s\n%s\n", id.Recipient(), id)
		if err := os.WriteFile(keyFile, []byte(content), 0o600); err != nil {
			return nil, fmt.Errorf("write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat key file: %w", err)
	}
	return NewAgeEncryptor(keyFile)
}

// Recipient returns the public key.
func (e *AgeEncryptor) Recipient() string {
	return e.recipient.String()
}

func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age close: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("age decrypt: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age read: %w", err)
	}
	return out, nil
}

// IsSealed reports whether data looks like an age file.
func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), "age-encryption.org/v1\n")
}
