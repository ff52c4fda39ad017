package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"juxction/core"
	"juxction/core/providers"
	"juxction/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	novaID = uuid.MustParse("6f1c2a9e-3b7d-4c1e-9a52-0d8e4f6b7c21")
	nova   = &core.User{ID: novaID, Email: "nova@example.com", Metadata: core.UserMetadata{FullName: "Nova"}}
)

func novaSession() *core.Session {
	return &core.Session{AccessToken: "access-nova", RefreshToken: "refresh-nova", User: nova}
}

type recordingSyncer struct {
	mu    sync.Mutex
	calls []*core.Session
	err   error
}

func (s *recordingSyncer) Sync(ctx context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, session)
	return s.err
}

func (s *recordingSyncer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingReporter struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingReporter) Report(ctx context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingReporter) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakeOpener) Open(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.err
}

type reconcilerFixture struct {
	auth     *providers.MockAuth
	store    *storage.MemoryStore
	cache    *core.ProfileCache
	state    *core.UserState
	syncer   *recordingSyncer
	reporter *recordingReporter
	reg      *prometheus.Registry
	rec      *core.Reconciler
}

func newReconcilerFixture(t *testing.T, opts ...core.ReconcilerOption) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		auth:     providers.NewMockAuth(),
		store:    storage.NewMemoryStore(),
		state:    core.NewUserState(),
		syncer:   &recordingSyncer{},
		reporter: &recordingReporter{},
		reg:      prometheus.NewRegistry(),
	}
	f.cache = core.NewProfileCache(f.store, "")
	opts = append([]core.ReconcilerOption{
		core.WithErrorReporter(f.reporter),
		core.WithMetrics(core.NewMetrics(f.reg)),
	}, opts...)
	f.rec = core.NewReconciler(f.auth, f.cache, f.syncer, f.state, opts...)
	t.Cleanup(f.rec.Close)
	return f
}

func (f *reconcilerFixture) seedCache(t *testing.T, u *core.User) {
	t.Helper()
	require.NoError(t, f.cache.Store(context.Background(), u))
}

func (f *reconcilerFixture) cached(t *testing.T) *core.User {
	t.Helper()
	u, err := f.cache.Load(context.Background())
	require.NoError(t, err)
	return u
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestReconciler_EventsBeforeInitializationAreDiscarded(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCache(t, nova)
	f.rec.LoadCachedProfile(ctx)

	gen := f.state.Generation()
	_, sets, deletes, saves := f.store.Counts()

	f.rec.HandleAuthStateChange(ctx, core.EventSignedOut, nil)
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, &core.Session{User: &core.User{ID: uuid.New()}})
	f.rec.HandleAuthStateChange(ctx, core.EventTokenRefreshed, novaSession())

	assert.False(t, f.rec.Initialized())
	assert.Equal(t, gen, f.state.Generation(), "no UI state change")
	assert.Equal(t, nova, f.state.Current())
	_, sets2, deletes2, saves2 := f.store.Counts()
	assert.Equal(t, []int{sets, deletes, saves}, []int{sets2, deletes2, saves2}, "no cache mutation")
	assert.Zero(t, f.syncer.Calls(), "no synchronizer call")

	assert.Equal(t, float64(1), counterValue(t, f.reg, "juxction_auth_events_total",
		map[string]string{"event": "SIGNED_OUT", "outcome": "discarded"}))
}

func TestReconciler_LoginTwiceCachesSameUser(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.rec.FetchInitialSession(ctx)

	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())

	assert.Equal(t, nova, f.cached(t))
	assert.Equal(t, nova, f.state.Current())
	assert.Equal(t, 2, f.syncer.Calls())

	persisted, ok := f.store.Persisted(core.DefaultProfileKey)
	require.True(t, ok)
	assert.Contains(t, string(persisted), novaID.String())
}

func TestReconciler_LogoutEventClearsCache(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.rec.FetchInitialSession(ctx)
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())
	require.NotNil(t, f.cached(t))

	f.rec.HandleAuthStateChange(ctx, core.EventSignedOut, nil)

	assert.Nil(t, f.cached(t))
	assert.Nil(t, f.state.Current())
	_, ok := f.store.Persisted(core.DefaultProfileKey)
	assert.False(t, ok, "deletion is persisted")
	assert.Equal(t, 1, f.syncer.Calls(), "no sync on logout")
}

func TestReconciler_SessionWithoutUserIsLogout(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.rec.FetchInitialSession(ctx)
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())

	f.rec.HandleAuthStateChange(ctx, core.EventUserUpdated, &core.Session{AccessToken: "a"})

	assert.Nil(t, f.state.Current())
	assert.Nil(t, f.cached(t))
}

func TestReconciler_OptimisticLoadBeforeFetchResolves(t *testing.T) {
	f := newReconcilerFixture(t)
	f.seedCache(t, nova)
	f.auth.SetInitialSession(novaSession(), nil)
	release := f.auth.HoldGetSession()

	require.NoError(t, f.rec.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.state.Current() != nil
	}, 500*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, "Nova", f.state.Current().DisplayName())
	assert.False(t, f.rec.Initialized())

	release()
	f.rec.Wait()
	assert.True(t, f.rec.Initialized())
	assert.Equal(t, nova, f.state.Current())
}

func TestReconciler_EarlySignOutDoesNotClobberCachedProfile(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.seedCache(t, &core.User{ID: novaID})
	release := f.auth.HoldGetSession()

	require.NoError(t, f.rec.Start(ctx))
	require.Eventually(t, func() bool {
		return f.state.Current() != nil
	}, time.Second, 5*time.Millisecond)

	f.auth.Emit(ctx, core.EventSignedOut, nil)

	assert.Equal(t, novaID, f.cached(t).ID, "cache untouched")
	assert.Equal(t, novaID, f.state.Current().ID)

	f.auth.SetInitialSession(&core.Session{AccessToken: "a", User: &core.User{ID: novaID}}, nil)
	release()
	f.rec.Wait()

	assert.True(t, f.rec.Initialized())
	require.NotNil(t, f.state.Current())
	assert.Equal(t, novaID, f.state.Current().ID)
}

func TestReconciler_LateCacheLoadIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	f.rec.FetchInitialSession(ctx)
	require.True(t, f.rec.Initialized())

	f.seedCache(t, nova)
	f.rec.LoadCachedProfile(ctx)

	assert.Nil(t, f.state.Current())
}

func TestReconciler_InitialFetchFailureMeansSignedOut(t *testing.T) {
	f := newReconcilerFixture(t)
	f.auth.SetInitialSession(novaSession(), errors.New("network unreachable"))

	f.rec.FetchInitialSession(context.Background())

	assert.True(t, f.rec.Initialized())
	assert.Nil(t, f.state.Current())
	assert.Equal(t, []string{core.OpFetchSession}, f.reporter.Ops())
	assert.Equal(t, 1, f.auth.GetSessionCalls)
}

func TestReconciler_InitialFetchTimeout(t *testing.T) {
	f := newReconcilerFixture(t, core.WithInitialFetchTimeout(20*time.Millisecond))
	release := f.auth.HoldGetSession()
	defer release()

	f.rec.FetchInitialSession(context.Background())

	assert.True(t, f.rec.Initialized())
	assert.Equal(t, []string{core.OpFetchSession}, f.reporter.Ops())
}

func TestReconciler_CacheReadFailureLeavesStateUnset(t *testing.T) {
	f := newReconcilerFixture(t)
	f.store.FailGet = errors.New("corrupt store")

	f.rec.LoadCachedProfile(context.Background())

	assert.Nil(t, f.state.Current())
	assert.Zero(t, f.state.Generation())
	assert.Equal(t, []string{core.OpLoadCache}, f.reporter.Ops())
}

func TestReconciler_SyncFailureStillWritesCache(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.syncer.err = errors.New("rls violation")
	f.rec.FetchInitialSession(ctx)

	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())

	assert.Equal(t, nova, f.state.Current())
	assert.Equal(t, nova, f.cached(t))
	_, ok := f.store.Persisted(core.DefaultProfileKey)
	assert.True(t, ok)
	assert.Equal(t, []string{core.OpSyncAccount}, f.reporter.Ops())
	assert.Equal(t, float64(1), counterValue(t, f.reg, "juxction_best_effort_failures_total",
		map[string]string{"op": core.OpSyncAccount}))
}

func TestReconciler_CacheWriteFailureStillSyncs(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.store.FailSave = errors.New("read-only filesystem")
	f.rec.FetchInitialSession(ctx)

	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())

	assert.Equal(t, nova, f.state.Current())
	assert.Equal(t, 1, f.syncer.Calls())
	assert.Equal(t, []string{core.OpWriteCache}, f.reporter.Ops())
}

func TestReconciler_LogoutClearsBeforeSignOut(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx))
	f.rec.Wait()
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())
	require.NotNil(t, f.state.Current())

	var stateAtSignOut *core.User
	var cachedAtSignOut *core.User
	f.auth.OnSignOut = func() {
		stateAtSignOut = f.state.Current()
		cachedAtSignOut = f.cached(t)
	}

	require.NoError(t, f.rec.Logout(ctx))

	assert.Equal(t, 1, f.auth.SignOutCalls)
	assert.Nil(t, stateAtSignOut)
	assert.Nil(t, cachedAtSignOut)
	assert.Nil(t, f.state.Current())
}

func TestReconciler_LogoutReportsSignOutFailure(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.rec.FetchInitialSession(ctx)
	f.rec.HandleAuthStateChange(ctx, core.EventSignedIn, novaSession())
	f.auth.SignOutErr = errors.New("502")

	err := f.rec.Logout(ctx)

	assert.Error(t, err)
	assert.Nil(t, f.state.Current())
	assert.Nil(t, f.cached(t))
	assert.Contains(t, f.reporter.Ops(), core.OpSignOut)
}

func TestReconciler_Login(t *testing.T) {
	opener := &fakeOpener{}
	f := newReconcilerFixture(t,
		core.WithURLOpener(opener),
		core.WithOAuth(core.ProviderGitHub, "http://127.0.0.1:5719/auth/callback"),
	)
	gen := f.state.Generation()

	url, err := f.rec.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, providers.DefaultMockAuthorizeURL+"?provider=github", url)
	assert.Equal(t, []string{url}, opener.urls)
	assert.Equal(t, core.ProviderGitHub, f.auth.LastProvider)
	assert.Equal(t, "http://127.0.0.1:5719/auth/callback", f.auth.LastRedirectTo)
	assert.Equal(t, gen, f.state.Generation(), "login does not touch local state")
}

func TestReconciler_LoginWithoutOpener(t *testing.T) {
	f := newReconcilerFixture(t)

	url, err := f.rec.Login(context.Background())

	assert.ErrorIs(t, err, core.ErrNoOpener)
	assert.NotEmpty(t, url)
	assert.Equal(t, core.ProviderDiscord, f.auth.LastProvider)
}

func TestReconciler_Lifecycle(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.Start(ctx))
	assert.ErrorIs(t, f.rec.Start(ctx), core.ErrAlreadyStarted)
	f.rec.Wait()
	assert.Equal(t, 1, f.auth.Subscribers())

	f.rec.Close()
	f.rec.Close()

	assert.Equal(t, 0, f.auth.Subscribers())
	assert.Equal(t, 1, f.auth.UnsubscribeCalls)
}

func TestReconciler_StartAfterClose(t *testing.T) {
	f := newReconcilerFixture(t)
	f.rec.Close()

	assert.ErrorIs(t, f.rec.Start(context.Background()), core.ErrClosed)
	assert.Equal(t, 0, f.auth.Subscribers())
}

func TestReconciler_EventsAfterCloseAreNotDelivered(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Start(ctx))
	f.rec.Wait()
	f.rec.Close()

	f.auth.Emit(ctx, core.EventSignedIn, novaSession())

	assert.Nil(t, f.state.Current())
	assert.Zero(t, f.syncer.Calls())
}
