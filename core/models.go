package core

import (
	"time"

	"github.com/google/uuid"
)

// Provider is an OAuth provider name understood by the auth service.
type Provider string

const (
	ProviderDiscord Provider = "discord"
	ProviderGoogle  Provider = "google"
	ProviderGitHub  Provider = "github"
)

// LinkedProviderSteam is the provider recorded on Steam linked accounts.
const LinkedProviderSteam = "steam"

// UserMetadata carries the display fields the OAuth provider filled in.
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// User is the identity part of a session and the shape of the cached profile.
type User struct {
	ID       uuid.UUID    `json:"id"`
	Email    string       `json:"email,omitempty"`
	Metadata UserMetadata `json:"user_metadata"`
}

// DisplayName falls back to the email when the provider sent no name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Metadata.FullName != "" {
		return u.Metadata.FullName
	}
	return u.Email
}

// Session is issued by the auth service; this module only observes it.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	User         *User  `json:"user"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
// A session without a known expiry never expires locally.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(margin).Before(time.Unix(s.ExpiresAt, 0))
}

func (s *Session) user() *User {
	if s == nil {
		return nil
	}
	return s.User
}

// AuthEvent is the kind of an auth state transition.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Profile is the remote `profiles` row.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// LinkedAccount ties a third-party identity to a profile.
// Unique on (Provider, ProfileID).
type LinkedAccount struct {
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	ProfileID      uuid.UUID `json:"profile_id"`
}

// SteamAccount is the remote `steam_accounts` row, keyed by the profile id.
type SteamAccount struct {
	ID             uuid.UUID  `json:"id"`
	ProfileID      uuid.UUID  `json:"profile_id"`
	SteamID        string     `json:"steam_id"`
	Username       string     `json:"steam_username,omitempty"`
	AvatarURL      string     `json:"steam_avatar,omitempty"`
	ProfileURL     string     `json:"steam_profile_url,omitempty"`
	SteamCreatedAt *time.Time `json:"steam_created_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SteamProfile is the public summary returned by the Steam Web API.
type SteamProfile struct {
	SteamID     string
	PersonaName string
	AvatarFull  string
	ProfileURL  string
	TimeCreated int64
}

// Game is an entry of the local Steam library.
type Game struct {
	AppID      string `json:"app_id"`
	Name       string `json:"name"`
	InstallDir string `json:"install_dir"`
	Installed  bool   `json:"installed"`
}

// Preferences are the shell settings kept next to the cached profile.
type Preferences struct {
	DarkMode bool   `json:"darkMode"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Level    int    `json:"level"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		DarkMode: true,
		Username: "Player One",
		Bio:      "Achievement Hunter",
		Level:    1,
	}
}
