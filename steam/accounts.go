package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"juxction/core"
	"juxction/logger"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var (
	ErrSteamIDNotFound = errors.New("steam id not found")
	ErrNoAPIKey        = errors.New("steam web api key not configured")
	ErrProfileNotFound = errors.New("steam profile not found")
	ErrAPIRequest      = errors.New("steam web api request failed")
)

var steamIDPattern = regexp.MustCompile(`\d{17}`)

// Accounts finds the Steam user signed in on this machine and looks up their
// public profile. It implements core.SteamDetector.
type Accounts struct {
	cfg    Config
	client *http.Client
	cache  *gocache.Cache
	log    *zap.Logger
}

func NewAccounts(cfg Config) *Accounts {
	cfg = cfg.withDefaults()
	return &Accounts{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  gocache.New(cfg.ProfileTTL, cfg.ProfileTTL*2),
		log:    logger.Named("steam.accounts"),
	}
}

// DetectSteamID returns the first 64-bit Steam ID in the first readable
// loginusers.vdf candidate.
func (a *Accounts) DetectSteamID(ctx context.Context) (string, error) {
	for _, path := range a.cfg.loginUsersCandidates() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := steamIDPattern.Find(data); id != nil {
			return string(id), nil
		}
	}
	return "", ErrSteamIDNotFound
}

type playerSummaries struct {
	Response struct {
		Players []struct {
			SteamID     string `json:"steamid"`
			PersonaName string `json:"personaname"`
			ProfileURL  string `json:"profileurl"`
			AvatarFull  string `json:"avatarfull"`
			TimeCreated int64  `json:"timecreated"`
		} `json:"players"`
	} `json:"response"`
}

// FetchProfile calls ISteamUser/GetPlayerSummaries. Results are cached for
// ProfileTTL.
func (a *Accounts) FetchProfile(ctx context.Context, steamID string) (*core.SteamProfile, error) {
	if a.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if !core.IsSteamID(steamID) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidSteamID, steamID)
	}

	if cached, ok := a.cache.Get(steamID); ok {
		p := cached.(core.SteamProfile)
		return &p, nil
	}

	q := url.Values{
		"key":      {a.cfg.APIKey},
		"steamids": {steamID},
	}
	endpoint := strings.TrimRight(a.cfg.APIBaseURL, "/") + "/ISteamUser/GetPlayerSummaries/v0002/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPIRequest, resp.StatusCode)
	}

	var body playerSummaries
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIRequest, err)
	}

	for _, p := range body.Response.Players {
		if p.SteamID != steamID {
			continue
		}
		profile := core.SteamProfile{
			SteamID:     p.SteamID,
			PersonaName: p.PersonaName,
			AvatarFull:  p.AvatarFull,
			ProfileURL:  p.ProfileURL,
			TimeCreated: p.TimeCreated,
		}
		a.cache.Set(steamID, profile, gocache.DefaultExpiration)
		a.log.Debug("steam profile fetched", zap.String("steam_id", steamID))
		return &profile, nil
	}
	return nil, ErrProfileNotFound
}
