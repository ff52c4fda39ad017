package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"juxction/core"
)

var ErrRemoteWrite = errors.New("remote write rejected")

// PostgRESTRepository upserts account rows through the Supabase REST API,
// authenticated as the signed-in user.
type PostgRESTRepository struct {
	baseURL string
	anonKey string
	client  *http.Client
}

func NewPostgRESTRepository(baseURL, anonKey string, timeout time.Duration) *PostgRESTRepository {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostgRESTRepository{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *PostgRESTRepository) UpsertProfile(ctx context.Context, p *core.Profile) error {
	return r.upsert(ctx, "profiles", "id", p)
}

func (r *PostgRESTRepository) UpsertLinkedAccount(ctx context.Context, a *core.LinkedAccount) error {
	return r.upsert(ctx, "linked_accounts", "provider,profile_id", a)
}

func (r *PostgRESTRepository) UpsertSteamAccount(ctx context.Context, a *core.SteamAccount) error {
	return r.upsert(ctx, "steam_accounts", "id", a)
}

func (r *PostgRESTRepository) upsert(ctx context.Context, table, onConflict string, row interface{}) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", table, err)
	}

	endpoint := r.baseURL + "/rest/v1/" + table + "?" + url.Values{"on_conflict": {onConflict}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	bearer, ok := core.AccessTokenFrom(ctx)
	if !ok || bearer == "" {
		bearer = r.anonKey
	}
	req.Header.Set("apikey", r.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: upsert %s: status %d: %s", ErrRemoteWrite, table, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
