package providers

import (
	"context"
	"sort"
	"sync"

	"juxction/core"
)

const DefaultMockAuthorizeURL = "https://auth.mock.test/authorize"

// MockAuth is a scripted core.AuthClient. Emit delivers synchronously on the
// caller's goroutine.
type MockAuth struct {
	mu sync.Mutex

	session    *core.Session
	sessionErr error
	release    chan struct{}

	SignOutErr error
	// OnSignOut runs at the start of SignOut, before the event is raised.
	OnSignOut func()

	handlers map[int]core.AuthStateHandler
	nextID   int

	// track method calls for verification
	GetSessionCalls  int
	SignInCalls      int
	SignOutCalls     int
	UnsubscribeCalls int
	LastProvider     core.Provider
	LastRedirectTo   string
}

func NewMockAuth() *MockAuth {
	return &MockAuth{handlers: make(map[int]core.AuthStateHandler)}
}

// SetInitialSession scripts the GetSession result.
func (m *MockAuth) SetInitialSession(session *core.Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
	m.sessionErr = err
}

// HoldGetSession makes GetSession block until the returned func is called.
func (m *MockAuth) HoldGetSession() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.release = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (m *MockAuth) GetSession(ctx context.Context) (*core.Session, error) {
	m.mu.Lock()
	m.GetSessionCalls++
	release := m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.sessionErr
}

func (m *MockAuth) OnAuthStateChange(handler core.AuthStateHandler) core.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return &subscription{release: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.UnsubscribeCalls++
		delete(m.handlers, id)
	}}
}

func (m *MockAuth) SignInWithOAuth(ctx context.Context, provider core.Provider, redirectTo string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignInCalls++
	m.LastProvider = provider
	m.LastRedirectTo = redirectTo
	return DefaultMockAuthorizeURL + "?provider=" + string(provider), nil
}

func (m *MockAuth) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.SignOutCalls++
	hook := m.OnSignOut
	err := m.SignOutErr
	m.session = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	m.Emit(ctx, core.EventSignedOut, nil)
	return err
}

func (m *MockAuth) SetSession(ctx context.Context, accessToken, refreshToken string) (*core.Session, error) {
	if accessToken == "" {
		return nil, core.ErrInvalidToken
	}
	session := &core.Session{AccessToken: accessToken, RefreshToken: refreshToken}
	m.mu.Lock()
	if m.session != nil && m.session.User != nil {
		session.User = m.session.User
	}
	m.session = session
	m.mu.Unlock()

	m.Emit(ctx, core.EventSignedIn, session)
	return session, nil
}

func (m *MockAuth) ExchangeCodeForSession(ctx context.Context, code string) (*core.Session, error) {
	if code == "" {
		return nil, core.ErrCodeExchange
	}
	return m.SetSession(ctx, "mock_access_"+code, "mock_refresh_"+code)
}

// Emit delivers an auth event to every subscriber, in registration order.
func (m *MockAuth) Emit(ctx context.Context, event core.AuthEvent, session *core.Session) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.handlers))
	for id := range m.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]core.AuthStateHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, m.handlers[id])
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ctx, event, session)
	}
}

func (m *MockAuth) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}
