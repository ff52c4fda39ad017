package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"juxction/logger"

	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("reconciler already started")
	ErrClosed         = errors.New("reconciler closed")
	ErrNoOpener       = errors.New("no URL opener configured")
)

// LinkedAccountSyncer upserts the remote linked-account record for a session.
type LinkedAccountSyncer interface {
	Sync(ctx context.Context, session *Session) error
}

type ReconcilerOption func(*Reconciler)

func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = l }
}

func WithErrorReporter(rep ErrorReporter) ReconcilerOption {
	return func(r *Reconciler) { r.reporter = rep }
}

func WithMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

func WithURLOpener(o URLOpener) ReconcilerOption {
	return func(r *Reconciler) { r.opener = o }
}

// WithOAuth fixes the provider and callback target used by Login.
func WithOAuth(provider Provider, redirectTo string) ReconcilerOption {
	return func(r *Reconciler) {
		r.provider = provider
		r.redirectTo = redirectTo
	}
}

// WithInitialFetchTimeout bounds the startup session fetch. Zero means no bound.
func WithInitialFetchTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.fetchTimeout = d }
}

// Reconciler keeps UserState, the profile cache and the linked account in
// step with the auth service.
//
// Auth events are ignored until the initial session fetch has resolved, so an
// early event cannot clobber the optimistically loaded profile.
type Reconciler struct {
	auth     AuthClient
	cache    *ProfileCache
	syncer   LinkedAccountSyncer
	state    *UserState
	opener   URLOpener
	reporter ErrorReporter
	metrics  *Metrics
	log      *zap.Logger

	provider     Provider
	redirectTo   string
	fetchTimeout time.Duration

	// initialized goes false -> true once and never back.
	initialized atomic.Bool
	// mu orders flag transitions against state writes.
	mu sync.Mutex

	subMu     sync.Mutex
	sub       Subscription
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewReconciler(auth AuthClient, cache *ProfileCache, syncer LinkedAccountSyncer, state *UserState, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		auth:     auth,
		cache:    cache,
		syncer:   syncer,
		state:    state,
		provider: ProviderDiscord,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("reconciler")
	}
	if r.reporter == nil {
		r.reporter = NewLogReporter(r.log)
	}
	return r
}

// Start subscribes to auth changes and launches the cache read and the initial
// session fetch. It does not wait for either.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	sub := r.auth.OnAuthStateChange(r.HandleAuthStateChange)
	r.subMu.Lock()
	r.sub = sub
	r.subMu.Unlock()

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.LoadCachedProfile(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.FetchInitialSession(ctx)
	}()
	return nil
}

// Wait blocks until the startup tasks launched by Start have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) Initialized() bool {
	return r.initialized.Load()
}

// LoadCachedProfile paints the cached user, unless the authoritative session
// has already been applied.
func (r *Reconciler) LoadCachedProfile(ctx context.Context) {
	user, err := r.cache.Load(ctx)
	if err != nil {
		r.report(ctx, OpLoadCache, err)
		return
	}
	if user == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized.Load() {
		r.log.Debug("cached profile arrived after initial session, ignored")
		return
	}
	r.state.Set(user)
}

// FetchInitialSession asks the auth service once. A failure counts as signed out.
func (r *Reconciler) FetchInitialSession(ctx context.Context) {
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}

	session, err := r.auth.GetSession(ctx)
	if err != nil {
		r.report(ctx, OpFetchSession, err)
		session = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized.Store(true)
	r.state.Set(session.user())
	r.log.Info("initial session resolved", zap.Bool("signed_in", session.user() != nil))
}

// HandleAuthStateChange applies one auth transition.
func (r *Reconciler) HandleAuthStateChange(ctx context.Context, event AuthEvent, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized.Load() {
		r.metrics.event(event, outcomeDiscarded)
		r.log.Debug("auth event before initial session, discarded", zap.String("event", string(event)))
		return
	}
	r.metrics.event(event, outcomeApplied)

	if session == nil || session.User == nil {
		r.state.Set(nil)
		if err := r.cache.Clear(ctx); err != nil {
			r.report(ctx, OpClearCache, err)
		}
		return
	}

	r.state.Set(session.User)
	if r.syncer != nil {
		if err := r.syncer.Sync(ctx, session); err != nil {
			r.report(ctx, OpSyncAccount, err)
		}
	}
	if err := r.cache.Store(ctx, session.User); err != nil {
		r.report(ctx, OpWriteCache, err)
	}
}

// Login opens the OAuth authorize page. State changes arrive later as events.
func (r *Reconciler) Login(ctx context.Context) (string, error) {
	authURL, err := r.auth.SignInWithOAuth(ctx, r.provider, r.redirectTo)
	if err != nil {
		return "", fmt.Errorf("failed to start sign-in: %w", err)
	}
	if r.opener == nil {
		return authURL, ErrNoOpener
	}
	if err := r.opener.Open(ctx, authURL); err != nil {
		return authURL, fmt.Errorf("failed to open sign-in page: %w", err)
	}
	return authURL, nil
}

// Logout clears the shell and the cache before telling the auth service, so
// the resulting SIGNED_OUT event only confirms what is already shown.
func (r *Reconciler) Logout(ctx context.Context) error {
	r.state.Set(nil)
	if err := r.cache.Clear(ctx); err != nil {
		r.report(ctx, OpClearCache, err)
	}
	if err := r.auth.SignOut(ctx); err != nil {
		r.report(ctx, OpSignOut, err)
		return err
	}
	return nil
}

// Close releases the auth subscription. Safe to call more than once.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if r.sub != nil {
			r.sub.Unsubscribe()
		}
	})
}

func (r *Reconciler) report(ctx context.Context, op string, err error) {
	r.metrics.failure(op)
	r.reporter.Report(ctx, op, err)
}
