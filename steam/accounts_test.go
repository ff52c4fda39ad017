package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSteamID = "76561197960287930"

const loginUsersVDF = `"users"
{
	"76561197960287930"
	{
		"AccountName"		"gaben"
		"PersonaName"		"Gabe"
		"MostRecent"		"1"
	}
}
`

func TestAccounts_DetectSteamID(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing", "loginusers.vdf")
	present := filepath.Join(dir, "loginusers.vdf")
	require.NoError(t, os.WriteFile(present, []byte(loginUsersVDF), 0o644))

	accounts := NewAccounts(Config{LoginUsers: []string{missing, present}})
	id, err := accounts.DetectSteamID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSteamID, id)
}

func TestAccounts_DetectSteamIDNotFound(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "loginusers.vdf")
	require.NoError(t, os.WriteFile(empty, []byte(`"users" {}`), 0o644))

	accounts := NewAccounts(Config{LoginUsers: []string{empty}})
	_, err := accounts.DetectSteamID(context.Background())
	assert.ErrorIs(t, err, ErrSteamIDNotFound)
}

func TestAccounts_DetectFromRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config", "loginusers.vdf"), []byte(loginUsersVDF), 0o644))

	id, err := NewAccounts(Config{Root: root}).DetectSteamID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSteamID, id)
}

func newSteamAPI(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/ISteamUser/GetPlayerSummaries/v0002/" || r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Query().Get("steamids") != testSteamID {
			w.Write([]byte(`{"response":{"players":[]}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":{"players":[{"steamid":"76561197960287930","personaname":"Rabscuttle","profileurl":"https://steamcommunity.com/id/gabelogannewell/","avatarfull":"https://avatars.example.com/full.jpg","timecreated":1063407589}]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccounts_FetchProfileCached(t *testing.T) {
	var calls int32
	srv := newSteamAPI(t, &calls)

	accounts := NewAccounts(Config{APIKey: "test-key", APIBaseURL: srv.URL})

	profile, err := accounts.FetchProfile(context.Background(), testSteamID)
	require.NoError(t, err)
	assert.Equal(t, "Rabscuttle", profile.PersonaName)
	assert.Equal(t, "https://avatars.example.com/full.jpg", profile.AvatarFull)
	assert.Equal(t, int64(1063407589), profile.TimeCreated)

	_, err = accounts.FetchProfile(context.Background(), testSteamID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAccounts_FetchProfileErrors(t *testing.T) {
	var calls int32
	srv := newSteamAPI(t, &calls)

	_, err := NewAccounts(Config{APIBaseURL: srv.URL}).FetchProfile(context.Background(), testSteamID)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewAccounts(Config{APIKey: "wrong", APIBaseURL: srv.URL}).FetchProfile(context.Background(), testSteamID)
	assert.ErrorIs(t, err, ErrAPIRequest)

	_, err = NewAccounts(Config{APIKey: "test-key", APIBaseURL: srv.URL}).FetchProfile(context.Background(), "76561197960287931")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}
