package steam

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"juxction/core"
	"juxction/logger"

	"go.uber.org/zap"
)

var (
	ErrSteamNotFound = fmt.Errorf("%w: no steamapps directory", core.ErrLibraryNotFound)
	ErrNoOpener      = errors.New("no opener configured for steam links")
)

// Library reads the locally installed games and launches them through the
// steam:// protocol.
type Library struct {
	cfg    Config
	opener core.URLOpener
	log    *zap.Logger
}

func NewLibrary(cfg Config, opener core.URLOpener) *Library {
	return &Library{
		cfg:    cfg.withDefaults(),
		opener: opener,
		log:    logger.Named("steam.library"),
	}
}

// Scan returns the games with an app manifest, sorted by name.
func (l *Library) Scan(ctx context.Context) ([]core.Game, error) {
	root, err := l.findRoot()
	if err != nil {
		return nil, err
	}
	steamapps := filepath.Join(root, "steamapps")

	manifests, err := filepath.Glob(filepath.Join(steamapps, "appmanifest_*.acf"))
	if err != nil {
		return nil, err
	}

	games := make([]core.Game, 0, len(manifests))
	for _, path := range manifests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := readManifest(path, "appid", "name", "installdir")
		if err != nil {
			l.log.Warn("skipping unreadable manifest", zap.String("path", path), zap.Error(err))
			continue
		}
		if values["appid"] == "" {
			continue
		}

		installDir := filepath.Join(steamapps, "common", values["installdir"])
		_, statErr := os.Stat(installDir)
		games = append(games, core.Game{
			AppID:      values["appid"],
			Name:       values["name"],
			InstallDir: installDir,
			Installed:  values["installdir"] != "" && statErr == nil,
		})
	}

	sort.SliceStable(games, func(i, j int) bool {
		return strings.ToLower(games[i].Name) < strings.ToLower(games[j].Name)
	})
	return games, nil
}

// Launch hands steam://rungameid/<appID> to the OS.
func (l *Library) Launch(ctx context.Context, appID string) error {
	if !isDigits(appID) {
		return fmt.Errorf("%w: %q", core.ErrInvalidAppID, appID)
	}
	if l.opener == nil {
		return ErrNoOpener
	}
	if err := l.opener.Open(ctx, "steam://rungameid/"+appID); err != nil {
		return fmt.Errorf("failed to launch %s: %w", appID, err)
	}
	l.log.Info("game launched", zap.String("app_id", appID))
	return nil
}

func (l *Library) findRoot() (string, error) {
	for _, root := range l.cfg.roots() {
		info, err := os.Stat(filepath.Join(root, "steamapps"))
		if err == nil && info.IsDir() {
			return root, nil
		}
	}
	return "", ErrSteamNotFound
}

// readManifest pulls top-level "key" "value" pairs out of an ACF file. Only
// the first occurrence of each wanted key counts.
func readManifest(path string, keys ...string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	values := make(map[string]string, len(keys))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseKeyValue(scanner.Text())
		if !ok || !wanted[key] {
			continue
		}
		if _, seen := values[key]; !seen {
			values[key] = value
		}
	}
	return values, scanner.Err()
}

// parseKeyValue splits a `"key"		"value"` line.
func parseKeyValue(line string) (string, string, bool) {
	parts := strings.Split(strings.TrimSpace(line), `"`)
	if len(parts) < 5 || parts[0] != "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
