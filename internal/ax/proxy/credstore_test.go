package proxy_test

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/axrun/ax/internal/ax/proxy"
)

func TestSaveAndOpenCredStore_APIKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	want := proxy.Credential{
		Mode:         proxy.AuthModeAPIKey,
		APIKeyHeader: "x-api-key",
		APIKeyValue:  "sk-test-123",
	}
	if err := proxy.SaveCredStore(path, "correct horse battery staple", want); err != nil {
		t.Fatalf("SaveCredStore: %v", err)
	}

	store, err := proxy.OpenCredStore(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("OpenCredStore: %v", err)
	}
	got, ok := store.Credential()
	if !ok {
		t.Fatal("Credential() ok = false, want true")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Credential() = %+v, want %+v", got, want)
	}
}

func TestSaveAndOpenCredStore_BearerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	want := proxy.Credential{
		Mode:            proxy.AuthModeBearer,
		BearerToken:     "token-abc",
		IdentityHeaders: map[string]string{"X-Identity": "agent-1"},
		BetaFlags:       []string{"feature-a", "feature-b"},
	}
	if err := proxy.SaveCredStore(path, "passphrase", want); err != nil {
		t.Fatalf("SaveCredStore: %v", err)
	}

	store, err := proxy.OpenCredStore(path, "passphrase")
	if err != nil {
		t.Fatalf("OpenCredStore: %v", err)
	}
	got, ok := store.Credential()
	if !ok {
		t.Fatal("Credential() ok = false, want true")
	}
	if got.Mode != want.Mode || got.BearerToken != want.BearerToken {
		t.Fatalf("Credential() = %+v, want %+v", got, want)
	}
	if got.IdentityHeaders["X-Identity"] != "agent-1" {
		t.Fatalf("IdentityHeaders = %+v", got.IdentityHeaders)
	}
	if len(got.BetaFlags) != 2 || got.BetaFlags[0] != "feature-a" {
		t.Fatalf("BetaFlags = %+v", got.BetaFlags)
	}
}

func TestOpenCredStore_WrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	cred := proxy.Credential{Mode: proxy.AuthModeAPIKey, APIKeyValue: "sk-test"}
	if err := proxy.SaveCredStore(path, "right-passphrase", cred); err != nil {
		t.Fatalf("SaveCredStore: %v", err)
	}

	if _, err := proxy.OpenCredStore(path, "wrong-passphrase"); err == nil {
		t.Fatal("OpenCredStore with wrong passphrase succeeded, want error")
	}
}

func TestNilCredStore_CredentialReportsAbsent(t *testing.T) {
	var store *proxy.CredStore
	_, ok := store.Credential()
	if ok {
		t.Fatal("nil CredStore.Credential() ok = true, want false")
	}
}
