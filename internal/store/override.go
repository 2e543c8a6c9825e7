package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// OverrideStore persists the local status-override map.
type OverrideStore struct {
	kv *KVStore
}

func NewOverrideStore(kv *KVStore) *OverrideStore {
	return &OverrideStore{kv: kv}
}

func (s *OverrideStore) Load() (map[model.Key]model.Override, error) {
	values, err := s.kv.List(NamespaceOverrides)
	if err != nil {
		return nil, err
	}

	out := make(map[model.Key]model.Override, len(values))
	var errs []error
	for raw, value := range values {
		kind, id, ok := strings.Cut(raw, ":")
		if !ok {
			errs = append(errs, fmt.Errorf("malformed override key %q", raw))
			continue
		}
		var o model.Override
		if err := json.Unmarshal([]byte(value), &o); err != nil {
			errs = append(errs, fmt.Errorf("decode override %q: %w", raw, err))
			continue
		}
		out[model.Key{Kind: model.SourceKind(kind), ID: id}] = o
	}
	return out, errors.Join(errs...)
}

func (s *OverrideStore) Put(key model.Key, o model.Override) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode override %s: %w", key, err)
	}
	return s.kv.Put(NamespaceOverrides, key.String(), string(data))
}

func (s *OverrideStore) Delete(key model.Key) error {
	return s.kv.Delete(NamespaceOverrides, key.String())
}

func (s *OverrideStore) Clear() error {
	return s.kv.Purge(NamespaceOverrides)
}
