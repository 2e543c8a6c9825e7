package store

import (
	"fmt"

	"github.com/dukerupert/dosekeeper/internal/vault"
)

const credentialKey = "token"

// CredentialStore persists the session token, sealed when a passphrase is set.
type CredentialStore struct {
	kv     *KVStore
	sealer *vault.Sealer
}

func NewCredentialStore(kv *KVStore, sealer *vault.Sealer) *CredentialStore {
	return &CredentialStore{kv: kv, sealer: sealer}
}

// Load returns the stored token, or "" if none is stored.
func (s *CredentialStore) Load() (string, error) {
	sealed, ok, err := s.kv.Get(NamespaceCredential, credentialKey)
	if err != nil || !ok {
		return "", err
	}
	token, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	return string(token), nil
}

func (s *CredentialStore) Save(token string) error {
	sealed, err := s.sealer.Seal([]byte(token))
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	return s.kv.Put(NamespaceCredential, credentialKey, sealed)
}

func (s *CredentialStore) Clear() error {
	return s.kv.Delete(NamespaceCredential, credentialKey)
}
