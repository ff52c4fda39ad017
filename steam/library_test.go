package steam

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"juxction/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	urls []string
	err  error
}

func (f *fakeOpener) Open(ctx context.Context, url string) error {
	f.urls = append(f.urls, url)
	return f.err
}

func writeManifest(t *testing.T, steamapps, appID, name, installDir string) {
	t.Helper()
	content := "\"AppState\"\n{\n" +
		"\t\"appid\"\t\t\"" + appID + "\"\n" +
		"\t\"Universe\"\t\t\"1\"\n" +
		"\t\"name\"\t\t\"" + name + "\"\n" +
		"\t\"installdir\"\t\t\"" + installDir + "\"\n" +
		"\t\"UserConfig\"\n\t{\n\t\t\"name\"\t\t\"ignored\"\n\t}\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(steamapps, "appmanifest_"+appID+".acf"), []byte(content), 0o644))
}

func setupLibrary(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	steamapps := filepath.Join(root, "steamapps")
	require.NoError(t, os.MkdirAll(filepath.Join(steamapps, "common"), 0o755))
	return root, steamapps
}

func TestLibrary_Scan(t *testing.T) {
	root, steamapps := setupLibrary(t)

	writeManifest(t, steamapps, "620", "Portal 2", "Portal 2")
	writeManifest(t, steamapps, "440", "Team Fortress 2", "Team Fortress 2")
	writeManifest(t, steamapps, "228980", "Steamworks Common Redistributables", "Steamworks Shared")
	require.NoError(t, os.MkdirAll(filepath.Join(steamapps, "common", "Portal 2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(steamapps, "appmanifest_bad.acf"), []byte("\"AppState\"\n{\n}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(steamapps, "libraryfolders.vdf"), []byte("{}"), 0o644))

	lib := NewLibrary(Config{Root: root}, nil)
	games, err := lib.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 3)

	assert.Equal(t, "Portal 2", games[0].Name)
	assert.Equal(t, "620", games[0].AppID)
	assert.True(t, games[0].Installed)
	assert.Equal(t, filepath.Join(steamapps, "common", "Portal 2"), games[0].InstallDir)

	assert.Equal(t, "Steamworks Common Redistributables", games[1].Name)
	assert.Equal(t, "Team Fortress 2", games[2].Name)
	assert.False(t, games[2].Installed)
}

func TestLibrary_ScanWithoutSteam(t *testing.T) {
	lib := NewLibrary(Config{Root: t.TempDir()}, nil)

	_, err := lib.Scan(context.Background())
	assert.ErrorIs(t, err, ErrSteamNotFound)
	assert.ErrorIs(t, err, core.ErrLibraryNotFound)
}

func TestLibrary_Launch(t *testing.T) {
	opener := &fakeOpener{}
	lib := NewLibrary(Config{Root: t.TempDir()}, opener)

	require.NoError(t, lib.Launch(context.Background(), "620"))
	assert.Equal(t, []string{"steam://rungameid/620"}, opener.urls)
}

func TestLibrary_LaunchRejectsBadAppID(t *testing.T) {
	opener := &fakeOpener{}
	lib := NewLibrary(Config{Root: t.TempDir()}, opener)

	for _, id := range []string{"", "abc", "620; rm -rf /", "-1"} {
		err := lib.Launch(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrInvalidAppID, id)
	}
	assert.Empty(t, opener.urls)
}

func TestLibrary_LaunchOpenerFailure(t *testing.T) {
	boom := errors.New("no handler for steam://")
	lib := NewLibrary(Config{Root: t.TempDir()}, &fakeOpener{err: boom})

	assert.ErrorIs(t, lib.Launch(context.Background(), "620"), boom)
}

func TestParseKeyValue(t *testing.T) {
	key, value, ok := parseKeyValue("\t\"installdir\"\t\t\"Portal 2\"")
	assert.True(t, ok)
	assert.Equal(t, "installdir", key)
	assert.Equal(t, "Portal 2", value)

	_, _, ok = parseKeyValue("\t\"UserConfig\"")
	assert.False(t, ok)

	_, _, ok = parseKeyValue("{")
	assert.False(t, ok)
}
