package cache

import (
	"context"
	"encoding/json"
	"time"
)

type Cache interface {
	// Get returns the value under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key until ttl elapses. A zero ttl never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// SetJSON stores v as json.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, string(value), ttl)
}

// GetJSON loads a json value into v and reports whether key was present.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	value, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, err
	}
	return true, nil
}
