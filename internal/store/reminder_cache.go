package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// ReminderCache stores reminders of one source as JSON records keyed by id.
type ReminderCache struct {
	kv        *KVStore
	namespace string
}

func NewReminderCache(kv *KVStore, namespace string) *ReminderCache {
	return &ReminderCache{kv: kv, namespace: namespace}
}

// Load returns every decodable record. Records that fail to decode are
// skipped and reported through a joined error wrapping model.ErrMalformed,
// alongside the good ones.
func (c *ReminderCache) Load() ([]model.Reminder, error) {
	values, err := c.kv.List(c.namespace)
	if err != nil {
		return nil, err
	}

	var (
		out  []model.Reminder
		errs []error
	)
	for key, value := range values {
		var r model.Reminder
		if err := json.Unmarshal([]byte(value), &r); err != nil {
			errs = append(errs, fmt.Errorf("decode %s/%s: %w: %v", c.namespace, key, model.ErrMalformed, err))
			continue
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

// Get returns one record and whether it exists.
func (c *ReminderCache) Get(id string) (model.Reminder, bool, error) {
	value, ok, err := c.kv.Get(c.namespace, id)
	if err != nil || !ok {
		return model.Reminder{}, false, err
	}
	var r model.Reminder
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return model.Reminder{}, false, fmt.Errorf("decode %s/%s: %w: %v", c.namespace, id, model.ErrMalformed, err)
	}
	return r, true, nil
}

func (c *ReminderCache) Put(r model.Reminder) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reminder %s: %w", r.ID, err)
	}
	return c.kv.Put(c.namespace, r.ID, string(data))
}

func (c *ReminderCache) Delete(id string) error {
	return c.kv.Delete(c.namespace, id)
}

// Replace swaps the cache content for the given records.
func (c *ReminderCache) Replace(reminders []model.Reminder) error {
	values := make(map[string]string, len(reminders))
	for _, r := range reminders {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode reminder %s: %w", r.ID, err)
		}
		values[r.ID] = string(data)
	}
	return c.kv.Replace(c.namespace, values)
}

func (c *ReminderCache) Clear() error {
	return c.kv.Purge(c.namespace)
}
