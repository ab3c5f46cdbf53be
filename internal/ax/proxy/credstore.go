package proxy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/axrun/ax/common/crypto"
)

// credstore field names. The encrypted blob holds an opaque
// map[string]string (crypto.SealCredentials's shape); these are the keys
// this package expects to find in it.
const (
	credFieldMode            = "mode" // "apikey" | "bearer"
	credFieldAPIKeyHeader    = "api_key_header"
	credFieldAPIKeyValue     = "api_key_value"
	credFieldBearerToken     = "bearer_token"
	credFieldIdentityHeaders = "identity_headers" // JSON-encoded map[string]string
	credFieldBetaFlags       = "beta_flags"       // JSON-encoded []string
)

// CredStore resolves the real upstream credential from a passphrase-
// encrypted blob on disk (common/crypto.EncryptedBlob), decrypting it once
// at Open and holding the plaintext in memory thereafter. It implements
// CredentialSource.
type CredStore struct {
	cred Credential
}

// OpenCredStore reads and decrypts the blob file at path using passphrase,
// then parses its well-known fields into a Credential.
func OpenCredStore(path, passphrase string) (*CredStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("proxy: read credential store: %w", err)
	}
	var blob crypto.EncryptedBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("proxy: parse credential store: %w", err)
	}
	fields, err := crypto.OpenCredentials(passphrase, &blob)
	if err != nil {
		return nil, fmt.Errorf("proxy: decrypt credential store: %w", err)
	}

	cred := Credential{APIKeyHeader: fields[credFieldAPIKeyHeader]}
	switch fields[credFieldMode] {
	case "bearer":
		cred.Mode = AuthModeBearer
		cred.BearerToken = fields[credFieldBearerToken]
		if raw, ok := fields[credFieldIdentityHeaders]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &cred.IdentityHeaders); err != nil {
				return nil, fmt.Errorf("proxy: parse identity_headers: %w", err)
			}
		}
		if raw, ok := fields[credFieldBetaFlags]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &cred.BetaFlags); err != nil {
				return nil, fmt.Errorf("proxy: parse beta_flags: %w", err)
			}
		}
	default:
		cred.Mode = AuthModeAPIKey
		cred.APIKeyValue = fields[credFieldAPIKeyValue]
	}

	return &CredStore{cred: cred}, nil
}

// Credential implements CredentialSource.
func (c *CredStore) Credential() (Credential, bool) {
	if c == nil {
		return Credential{}, false
	}
	return c.cred, true
}

// SaveCredStore encrypts cred's fields into the common/crypto wire format
// and writes them to path, so OpenCredStore can reverse the operation.
func SaveCredStore(path, passphrase string, cred Credential) error {
	fields := map[string]string{
		credFieldAPIKeyHeader: cred.APIKeyHeader,
	}
	switch cred.Mode {
	case AuthModeBearer:
		fields[credFieldMode] = "bearer"
		fields[credFieldBearerToken] = cred.BearerToken
		if len(cred.IdentityHeaders) > 0 {
			raw, err := json.Marshal(cred.IdentityHeaders)
			if err != nil {
				return fmt.Errorf("proxy: marshal identity_headers: %w", err)
			}
			fields[credFieldIdentityHeaders] = string(raw)
		}
		if len(cred.BetaFlags) > 0 {
			raw, err := json.Marshal(cred.BetaFlags)
			if err != nil {
				return fmt.Errorf("proxy: marshal beta_flags: %w", err)
			}
			fields[credFieldBetaFlags] = string(raw)
		}
	default:
		fields[credFieldMode] = "apikey"
		fields[credFieldAPIKeyValue] = cred.APIKeyValue
	}

	blob, err := crypto.SealCredentials(passphrase, fields)
	if err != nil {
		return fmt.Errorf("proxy: seal credential store: %w", err)
	}
	raw, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("proxy: marshal credential store: %w", err)
	}
	return os.WriteFile(path, raw, 0o600)
}
