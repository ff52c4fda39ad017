package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"juxction/logger"

	"go.uber.org/zap"
)

var (
	ErrMissingUser    = errors.New("session has no user")
	ErrInvalidSteamID = errors.New("invalid steam id")
)

// LinkedAccountSync mirrors the signed-in user into the remote profile tables
// and links the Steam account found on this machine.
type LinkedAccountSync struct {
	repo     AccountRepository
	steam    SteamDetector
	reporter ErrorReporter
	now      func() time.Time
	log      *zap.Logger
}

// NewLinkedAccountSync accepts a nil detector, in which case only the profile
// row is written.
func NewLinkedAccountSync(repo AccountRepository, steam SteamDetector, reporter ErrorReporter) *LinkedAccountSync {
	log := logger.Named("linked_accounts")
	if reporter == nil {
		reporter = NewLogReporter(log)
	}
	return &LinkedAccountSync{
		repo:     repo,
		steam:    steam,
		reporter: reporter,
		now:      time.Now,
		log:      log,
	}
}

// Sync upserts the profile row and, when a local Steam user is found, the
// linked account and Steam rows. Steam lookups are best-effort.
func (s *LinkedAccountSync) Sync(ctx context.Context, session *Session) error {
	if session == nil || session.User == nil {
		return ErrMissingUser
	}
	ctx = WithAccessToken(ctx, session.AccessToken)
	user := session.User

	if err := s.repo.UpsertProfile(ctx, &Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.Metadata.FullName,
		AvatarURL: user.Metadata.AvatarURL,
	}); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if s.steam == nil {
		return nil
	}

	steamID, err := s.steam.DetectSteamID(ctx)
	if err != nil {
		s.reporter.Report(ctx, OpSteamID, err)
		return nil
	}

	var steamProfile *SteamProfile
	if steamProfile, err = s.steam.FetchProfile(ctx, steamID); err != nil {
		s.reporter.Report(ctx, OpSteamProfile, err)
		steamProfile = nil
	}

	return s.link(ctx, user, steamID, steamProfile)
}

// LinkSteam links an explicitly supplied Steam ID to the session's user.
func (s *LinkedAccountSync) LinkSteam(ctx context.Context, session *Session, steamID string) error {
	if session == nil || session.User == nil {
		return ErrMissingUser
	}
	if !IsSteamID(steamID) {
		return fmt.Errorf("%w: %q", ErrInvalidSteamID, steamID)
	}
	return s.link(WithAccessToken(ctx, session.AccessToken), session.User, steamID, nil)
}

func (s *LinkedAccountSync) link(ctx context.Context, user *User, steamID string, profile *SteamProfile) error {
	if err := s.repo.UpsertLinkedAccount(ctx, &LinkedAccount{
		Provider:       LinkedProviderSteam,
		ProviderUserID: steamID,
		ProfileID:      user.ID,
	}); err != nil {
		return fmt.Errorf("failed to upsert linked account: %w", err)
	}

	account := &SteamAccount{
		ID:        user.ID,
		ProfileID: user.ID,
		SteamID:   steamID,
		UpdatedAt: s.now().UTC(),
	}
	if profile != nil {
		account.Username = profile.PersonaName
		account.AvatarURL = profile.AvatarFull
		account.ProfileURL = profile.ProfileURL
		if profile.TimeCreated > 0 {
			created := time.Unix(profile.TimeCreated, 0).UTC()
			account.SteamCreatedAt = &created
		}
	}
	if err := s.repo.UpsertSteamAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to upsert steam account: %w", err)
	}

	s.log.Debug("steam account linked", zap.String("profile_id", user.ID.String()), zap.String("steam_id", steamID))
	return nil
}

// IsSteamID reports whether id looks like a 64-bit Steam ID (17 digits).
func IsSteamID(id string) bool {
	if len(id) != 17 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}
