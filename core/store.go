package core

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// KVStore is a key-value store with an explicit persist step.
// Set and Delete take effect for Get immediately; Save makes them durable.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error) // ErrNotFound on missing key
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Save(ctx context.Context) error
}

// AccountRepository upserts the remote rows behind a linked account.
// All operations are idempotent upserts.
type AccountRepository interface {
	UpsertProfile(ctx context.Context, profile *Profile) error

	// UpsertLinkedAccount conflicts on (provider, profile_id).
	UpsertLinkedAccount(ctx context.Context, account *LinkedAccount) error

	// UpsertSteamAccount conflicts on id.
	UpsertSteamAccount(ctx context.Context, account *SteamAccount) error
}

// SteamDetector finds the local Steam user and looks up their public profile.
type SteamDetector interface {
	DetectSteamID(ctx context.Context) (string, error)
	FetchProfile(ctx context.Context, steamID string) (*SteamProfile, error)
}

// GameLibrary enumerates and launches locally installed games.
type GameLibrary interface {
	Scan(ctx context.Context) ([]Game, error)
	Launch(ctx context.Context, appID string) error
}

// URLOpener hands a URL to the operating system.
type URLOpener interface {
	Open(ctx context.Context, url string) error
}
