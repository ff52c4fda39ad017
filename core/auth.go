package core

import (
	"context"
	"errors"
)

var (
	ErrNoSession        = errors.New("no session")
	ErrAuthRequest      = errors.New("auth service request failed")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrCodeExchange     = errors.New("auth code exchange failed")
	ErrMissingVerifier  = errors.New("no pending PKCE verifier")
)

// AuthStateHandler receives auth transitions. session is nil after sign-out.
type AuthStateHandler func(ctx context.Context, event AuthEvent, session *Session)

// Subscription is released exactly once; extra calls are no-ops.
type Subscription interface {
	Unsubscribe()
}

// AuthClient is the remote auth service as seen by the reconciler.
type AuthClient interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)

	// OnAuthStateChange registers handler. Deliveries are serial.
	OnAuthStateChange(handler AuthStateHandler) Subscription

	// SignInWithOAuth returns the authorize URL for provider.
	SignInWithOAuth(ctx context.Context, provider Provider, redirectTo string) (string, error)

	// SignOut ends the session; it raises a SIGNED_OUT event.
	SignOut(ctx context.Context) error
}

// SessionSetter completes a sign-in from the OAuth callback.
type SessionSetter interface {
	SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)
}

type accessTokenKey struct{}

// WithAccessToken scopes remote data calls to the user's token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

func AccessTokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey{}).(string)
	return token, ok && token != ""
}
