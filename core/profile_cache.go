package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	DefaultProfileKey     = "user"
	DefaultPreferencesKey = "preferences"
)

// ProfileCache persists the last signed-in user for optimistic startup.
type ProfileCache struct {
	store KVStore
	key   string
}

func NewProfileCache(store KVStore, key string) *ProfileCache {
	if key == "" {
		key = DefaultProfileKey
	}
	return &ProfileCache{store: store, key: key}
}

// Load returns nil, nil when nothing is cached.
func (c *ProfileCache) Load(ctx context.Context) (*User, error) {
	data, err := c.store.Get(ctx, c.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached profile: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode cached profile: %w", err)
	}
	return &user, nil
}

func (c *ProfileCache) Store(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := c.store.Set(ctx, c.key, data); err != nil {
		return fmt.Errorf("failed to write cached profile: %w", err)
	}
	if err := c.store.Save(ctx); err != nil {
		return fmt.Errorf("failed to persist cached profile: %w", err)
	}
	return nil
}

func (c *ProfileCache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("failed to delete cached profile: %w", err)
	}
	if err := c.store.Save(ctx); err != nil {
		return fmt.Errorf("failed to persist cached profile deletion: %w", err)
	}
	return nil
}

// LoadPreferences returns the defaults overlaid with whatever is stored.
func LoadPreferences(ctx context.Context, store KVStore) (Preferences, error) {
	prefs := DefaultPreferences()

	data, err := store.Get(ctx, DefaultPreferencesKey)
	if errors.Is(err, ErrNotFound) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	return prefs, nil
}

func SavePreferences(ctx context.Context, store KVStore, prefs Preferences) error {
	if prefs.Level < 1 {
		prefs.Level = 1
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if err := store.Set(ctx, DefaultPreferencesKey, data); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return store.Save(ctx)
}
