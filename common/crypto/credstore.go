package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the iteration count used to derive a credential-store
// encryption key from an operator-supplied passphrase.
const PBKDF2Iterations = 100_000

// SaltSize is the size in bytes of the random salt persisted alongside each
// encrypted credential-store blob.
const SaltSize = 16

// DeriveKey derives a 32-byte AES-256-GCM key from passphrase and salt using
// PBKDF2-HMAC-SHA512. The same passphrase and salt always yield the same key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha512.New)
}

// NewSalt generates a new random salt suitable for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// EncryptedBlob is the on-disk representation of a passphrase-encrypted
// credential store: a PBKDF2 salt plus an AES-256-GCM ciphertext, both
// persisted as hex fields per the credential-store wire format.
type EncryptedBlob struct {
	SaltHex       string `json:"salt"`
	CiphertextHex string `json:"ciphertext"`
}

// SealCredentials encrypts an arbitrary JSON-serializable credential map with
// a key derived from passphrase, returning the persisted blob form.
func SealCredentials(passphrase string, credentials map[string]string) (*EncryptedBlob, error) {
	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}

	key := DeriveKey(passphrase, salt)
	ciphertext, err := Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	return &EncryptedBlob{
		SaltHex:       hex.EncodeToString(salt),
		CiphertextHex: hex.EncodeToString(ciphertext),
	}, nil
}

// OpenCredentials decrypts a blob produced by SealCredentials using passphrase.
func OpenCredentials(passphrase string, blob *EncryptedBlob) (map[string]string, error) {
	salt, err := hex.DecodeString(blob.SaltHex)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	ciphertext, err := hex.DecodeString(blob.CiphertextHex)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	plaintext, err := Decrypt(key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return creds, nil
}
