package providers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"juxction/core"
	"juxction/logger"

	"go.uber.org/zap"
)

const (
	sessionKey  = "session"
	verifierKey = "pkce_verifier"
)

// SupabaseAuth talks to the GoTrue API of a Supabase project and keeps the
// session in a local KVStore.
type SupabaseAuth struct {
	config     *SupabaseConfig
	httpClient *http.Client
	store      core.KVStore
	crypto     *core.CryptoService
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *core.Session
	loaded  bool

	subMu    sync.Mutex
	handlers map[int]core.AuthStateHandler
	nextID   int

	events    chan authChange
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type authChange struct {
	event   core.AuthEvent
	session *core.Session
}

// NewSupabaseAuth starts the event dispatcher; call Close to stop it.
// crypto may be nil, in which case the session is stored in clear.
func NewSupabaseAuth(config *SupabaseConfig, store core.KVStore, crypto *core.CryptoService) *SupabaseAuth {
	cfg := config.withDefaults()
	a := &SupabaseAuth{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		store:      store,
		crypto:     crypto,
		log:        logger.Named("supabase"),
		now:        time.Now,
		handlers:   make(map[int]core.AuthStateHandler),
		events:     make(chan authChange, 32),
		done:       make(chan struct{}),
	}

	a.wg.Add(1)
	go a.dispatch()
	return a
}

type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         *core.User `json:"user"`
}

func (a *SupabaseAuth) toSession(gs *gotrueSession) *core.Session {
	s := &core.Session{
		AccessToken:  gs.AccessToken,
		RefreshToken: gs.RefreshToken,
		TokenType:    gs.TokenType,
		ExpiresIn:    gs.ExpiresIn,
		ExpiresAt:    gs.ExpiresAt,
		User:         gs.User,
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = a.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	return s
}

// GetSession returns the stored session, refreshing it when it is about to
// expire. A rejected refresh token means signed out.
func (a *SupabaseAuth) GetSession(ctx context.Context) (*core.Session, error) {
	a.mu.Lock()

	if err := a.ensureLoaded(ctx); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	if a.session == nil {
		a.mu.Unlock()
		return nil, nil
	}
	if !a.session.ExpiresWithin(a.now(), a.config.RefreshMargin) {
		s := *a.session
		a.mu.Unlock()
		return &s, nil
	}

	refreshed, err := a.refreshLocked(ctx)
	a.mu.Unlock()

	if err != nil {
		if errors.Is(err, core.ErrRefreshRejected) {
			a.log.Info("stored session no longer valid")
			return nil, nil
		}
		return nil, err
	}

	a.emit(core.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// SetSession adopts tokens delivered to the OAuth callback.
func (a *SupabaseAuth) SetSession(ctx context.Context, accessToken, refreshToken string) (*core.Session, error) {
	claims, err := core.ParseAccessToken(accessToken, a.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	var user core.User
	if _, err := a.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, accessToken, &user); err != nil {
		return nil, err
	}

	session := &core.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    claims.ExpiresAtUnix(),
		User:         &user,
	}
	if session.ExpiresAt > 0 {
		session.ExpiresIn = int(time.Unix(session.ExpiresAt, 0).Sub(a.now()).Seconds())
	}

	if err := a.replaceSession(ctx, session); err != nil {
		return nil, err
	}
	a.emit(core.EventSignedIn, session)
	return session, nil
}

// ExchangeCodeForSession completes the PKCE flow started by SignInWithOAuth.
func (a *SupabaseAuth) ExchangeCodeForSession(ctx context.Context, code string) (*core.Session, error) {
	verifier, err := a.store.Get(ctx, verifierKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrMissingVerifier
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCE verifier: %w", err)
	}

	body := map[string]string{
		"auth_code":     code,
		"code_verifier": string(verifier),
	}
	query := url.Values{"grant_type": {"pkce"}}

	var gs gotrueSession
	if _, err := a.do(ctx, http.MethodPost, "/auth/v1/token", query, body, "", &gs); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCodeExchange, err)
	}

	if err := a.store.Delete(ctx, verifierKey); err != nil {
		a.log.Warn("failed to drop PKCE verifier", zap.Error(err))
	}

	session := a.toSession(&gs)
	if err := a.replaceSession(ctx, session); err != nil {
		return nil, err
	}
	a.emit(core.EventSignedIn, session)
	return session, nil
}

// SignInWithOAuth stores a fresh PKCE verifier and returns the authorize URL.
func (a *SupabaseAuth) SignInWithOAuth(ctx context.Context, provider core.Provider, redirectTo string) (string, error) {
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return "", err
	}

	if err := a.store.Set(ctx, verifierKey, []byte(verifier)); err != nil {
		return "", fmt.Errorf("failed to store PKCE verifier: %w", err)
	}
	if err := a.store.Save(ctx); err != nil {
		return "", fmt.Errorf("failed to store PKCE verifier: %w", err)
	}

	params := url.Values{}
	params.Set("provider", string(provider))
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "s256")

	return strings.TrimRight(a.config.URL, "/") + "/auth/v1/authorize?" + params.Encode(), nil
}

// RefreshSession forces a token refresh.
func (a *SupabaseAuth) RefreshSession(ctx context.Context) (*core.Session, error) {
	a.mu.Lock()
	if err := a.ensureLoaded(ctx); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	refreshed, err := a.refreshLocked(ctx)
	a.mu.Unlock()

	if err != nil {
		if errors.Is(err, core.ErrRefreshRejected) {
			a.emit(core.EventSignedOut, nil)
		}
		return nil, err
	}
	a.emit(core.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

// SignOut drops the local session and revokes it remotely. The local part
// always happens; the remote error, if any, is returned.
func (a *SupabaseAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	if err := a.ensureLoaded(ctx); err != nil {
		a.log.Warn("stored session unreadable during sign-out", zap.Error(err))
	}
	previous := a.session
	a.session = nil
	a.loaded = true
	persistErr := a.persistLocked(ctx, nil)
	a.mu.Unlock()

	var remoteErr error
	if previous != nil {
		query := url.Values{"scope": {"local"}}
		status, err := a.do(ctx, http.MethodPost, "/auth/v1/logout", query, nil, previous.AccessToken, nil)
		// an already revoked session is signed out all the same
		if err != nil && status != http.StatusUnauthorized && status != http.StatusNotFound {
			remoteErr = err
		}
	}

	a.emit(core.EventSignedOut, nil)

	if persistErr != nil {
		return persistErr
	}
	return remoteErr
}

// Run refreshes the session ahead of expiry until ctx is done.
func (a *SupabaseAuth) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *SupabaseAuth) tick(ctx context.Context) {
	a.mu.Lock()
	if err := a.ensureLoaded(ctx); err != nil {
		a.mu.Unlock()
		a.log.Warn("stored session unreadable", zap.Error(err))
		return
	}
	if a.session == nil || !a.session.ExpiresWithin(a.now(), a.config.RefreshMargin) {
		a.mu.Unlock()
		return
	}
	refreshed, err := a.refreshLocked(ctx)
	a.mu.Unlock()

	switch {
	case err == nil:
		a.emit(core.EventTokenRefreshed, refreshed)
	case errors.Is(err, core.ErrRefreshRejected):
		a.log.Info("refresh token rejected, signing out")
		a.emit(core.EventSignedOut, nil)
	default:
		a.log.Warn("token refresh failed", zap.Error(err))
	}
}

// OnAuthStateChange registers handler. Handlers run one at a time, in
// registration order, on the dispatcher goroutine.
func (a *SupabaseAuth) OnAuthStateChange(handler core.AuthStateHandler) core.Subscription {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextID
	a.nextID++
	a.handlers[id] = handler
	return &subscription{release: func() {
		a.subMu.Lock()
		delete(a.handlers, id)
		a.subMu.Unlock()
	}}
}

// Close stops event delivery. Pending events are dropped.
func (a *SupabaseAuth) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

func (a *SupabaseAuth) emit(event core.AuthEvent, session *core.Session) {
	select {
	case a.events <- authChange{event: event, session: session}:
	case <-a.done:
	}
}

func (a *SupabaseAuth) dispatch() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case change := <-a.events:
			for _, h := range a.snapshotHandlers() {
				h(context.Background(), change.event, change.session)
			}
		}
	}
}

func (a *SupabaseAuth) snapshotHandlers() []core.AuthStateHandler {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	ids := make([]int, 0, len(a.handlers))
	for id := range a.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]core.AuthStateHandler, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.handlers[id])
	}
	return out
}

func (a *SupabaseAuth) ensureLoaded(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	session, err := a.loadSession(ctx)
	if err != nil {
		return err
	}
	a.session = session
	a.loaded = true
	return nil
}

func (a *SupabaseAuth) loadSession(ctx context.Context) (*core.Session, error) {
	data, err := a.store.Get(ctx, sessionKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}

	if a.crypto != nil {
		if data, err = a.crypto.Decrypt(string(data)); err != nil {
			return nil, fmt.Errorf("failed to decrypt stored session: %w", err)
		}
	}

	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode stored session: %w", err)
	}
	return &session, nil
}

func (a *SupabaseAuth) replaceSession(ctx context.Context, session *core.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.persistLocked(ctx, session); err != nil {
		return err
	}
	a.session = session
	a.loaded = true
	return nil
}

func (a *SupabaseAuth) persistLocked(ctx context.Context, session *core.Session) error {
	if session == nil {
		if err := a.store.Delete(ctx, sessionKey); err != nil {
			return fmt.Errorf("failed to delete stored session: %w", err)
		}
		return a.store.Save(ctx)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if a.crypto != nil {
		sealed, err := a.crypto.Encrypt(data)
		if err != nil {
			return err
		}
		data = []byte(sealed)
	}

	if err := a.store.Set(ctx, sessionKey, data); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return a.store.Save(ctx)
}

// refreshLocked must be called with a.mu held.
func (a *SupabaseAuth) refreshLocked(ctx context.Context) (*core.Session, error) {
	if a.session == nil {
		return nil, core.ErrNoSession
	}

	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": a.session.RefreshToken}

	var gs gotrueSession
	status, err := a.do(ctx, http.MethodPost, "/auth/v1/token", query, body, "", &gs)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			a.session = nil
			if perr := a.persistLocked(ctx, nil); perr != nil {
				a.log.Warn("failed to clear rejected session", zap.Error(perr))
			}
			return nil, fmt.Errorf("%w: %v", core.ErrRefreshRejected, err)
		}
		return nil, err
	}

	refreshed := a.toSession(&gs)
	if refreshed.User == nil {
		refreshed.User = a.session.User
	}
	if err := a.persistLocked(ctx, refreshed); err != nil {
		return nil, err
	}
	a.session = refreshed

	s := *refreshed
	return &s, nil
}

// do performs one GoTrue request. The returned status is 0 when no response
// was received.
func (a *SupabaseAuth) do(ctx context.Context, method, path string, query url.Values, body interface{}, bearer string, out interface{}) (int, error) {
	endpoint := strings.TrimRight(a.config.URL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", core.ErrAuthRequest, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrAuthRequest, err)
	}

	req.Header.Set("apikey", a.config.AnonKey)
	if bearer == "" {
		bearer = a.config.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrAuthRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%w: status %d: %s", core.ErrAuthRequest, resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: %v", core.ErrAuthRequest, err)
		}
	}
	return resp.StatusCode, nil
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.release)
}

func newPKCEPair() (verifier, challenge string, err error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
