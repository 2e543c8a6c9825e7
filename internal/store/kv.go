package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Namespaces owned by the reminder engine.
const (
	NamespaceCredential  = "credential"
	NamespaceOverrides   = "overrides"
	NamespaceLinkedCache = "linked_cache"
	NamespaceStandalone  = "standalone"
)

// SessionNamespaces hold state that is only valid under the current session.
// Logout purges all of them in one transaction.
var SessionNamespaces = []string{
	NamespaceCredential,
	NamespaceOverrides,
	NamespaceLinkedCache,
}

// KVStore is the local key-value persistence, partitioned by namespace.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

// Get returns the value and whether it exists.
func (s *KVStore) Get(namespace, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func (s *KVStore) Put(namespace, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *KVStore) Delete(namespace, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// List returns every key/value in a namespace.
func (s *KVStore) List(namespace string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM kv WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// Replace atomically swaps the whole content of a namespace.
func (s *KVStore) Replace(namespace string, values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", namespace, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM kv WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("clear %s: %w", namespace, err)
	}
	now := time.Now().UTC()
	for key, value := range values {
		if _, err := tx.Exec(
			`INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)`,
			namespace, key, value, now,
		); err != nil {
			return fmt.Errorf("insert %s/%s: %w", namespace, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", namespace, err)
	}
	return nil
}

// Purge deletes every key in the given namespaces as one transaction.
// Either all namespaces are emptied or none are.
func (s *KVStore) Purge(namespaces ...string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	for _, ns := range namespaces {
		if _, err := tx.Exec(`DELETE FROM kv WHERE namespace = ?`, ns); err != nil {
			return fmt.Errorf("purge %s: %w", ns, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}
