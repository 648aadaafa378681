// Package kvstore implements the shared state store every tab instance of one
// origin reads and writes. There is no locking across writers: the last write
// to a key wins.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps backend failures (quota, disabled storage, closed db).
	ErrUnavailable = errors.New("kvstore: unavailable")
	// ErrMalformed is returned when a stored value cannot be decoded.
	ErrMalformed = errors.New("kvstore: malformed value")
)

// Store is a string key-value store shared by every tab instance.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}

// GetJSON decodes the value stored at key into v. It reports false when the
// key is absent. A value that is not valid JSON yields ErrMalformed.
func GetJSON(s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

func unavailable(op, key string, cause error) error {
	return fmt.Errorf("%w: %s %q: %v", ErrUnavailable, op, key, cause)
}
