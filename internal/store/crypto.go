package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EncryptKeyEnv holds a 64 hex char AES-256 key for API keys at rest.
const EncryptKeyEnv = "RESUMEMIND_ENCRYPT_KEY"

// encPrefix marks encrypted column values so plaintext rows written
// before a key was configured still read back.
const encPrefix = "enc:"

// ErrNoCipher is returned when an encrypted value is read without a key.
var ErrNoCipher = errors.New("api key is encrypted but " + EncryptKeyEnv + " is not set")

// Cipher seals secrets with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// CipherFromEnv reads the key from the named variable. It returns (nil, nil)
// when the variable is unset, which leaves keys in plaintext.
func CipherFromEnv(name string) (*Cipher, error) {
	keyHex := os.Getenv(name)
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 64 hex chars (32 bytes), got %d bytes", name, len(key))
	}
	return NewCipher(key)
}

// Encrypt returns "enc:" + base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (s *Store) sealSecret(v string) (string, error) {
	if v == "" || s.cipher == nil {
		return v, nil
	}
	return s.cipher.Encrypt(v)
}

func (s *Store) openSecret(v string) (string, error) {
	if !strings.HasPrefix(v, encPrefix) {
		return v, nil
	}
	if s.cipher == nil {
		return "", ErrNoCipher
	}
	return s.cipher.Decrypt(v)
}
