package integration_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type MeResponse struct {
	User *struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			FullName string `json:"full_name"`
		} `json:"user_metadata"`
	} `json:"user"`
	Initialized bool `json:"initialized"`
}

type LoginResponse struct {
	URL string `json:"url"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning"`
}

type LibraryResponse struct {
	Games []struct {
		AppID     string `json:"app_id"`
		Name      string `json:"name"`
		Installed bool   `json:"installed"`
	} `json:"games"`
}

var client = &http.Client{Timeout: 5 * time.Second}

// noRedirect stops at the first redirect so the callback can be driven by hand.
var noRedirect = &http.Client{
	Timeout: 5 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func postJSON(url string, body interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	return client.Post(url, "application/json", &buf)
}

func putJSON(url string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func decode[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func getMe(baseURL string) (*MeResponse, error) {
	resp, err := client.Get(baseURL + "/me")
	if err != nil {
		return nil, err
	}
	return decode[MeResponse](resp)
}

// completeAuthorize plays the browser: it visits the authorize URL and then
// the callback the auth server redirects to.
func completeAuthorize(authorizeURL string) (*http.Response, error) {
	resp, err := noRedirect.Get(authorizeURL)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("authorize returned %d", resp.StatusCode)
	}
	return client.Get(resp.Header.Get("Location"))
}

func waitFor(timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("condition not met in time")
}

func readKV(dbPath, key string) ([]byte, bool, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, false, err
	}
	defer db.Close()

	var value []byte
	err = db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	return value, err == nil, err
}

func countKV(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&count)
	return count, err
}

// writeSteamFixture lays out a minimal Steam install under root.
func writeSteamFixture(root string) error {
	steamapps := filepath.Join(root, "steamapps")
	if err := os.MkdirAll(filepath.Join(steamapps, "common", "Hades"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(root, "config"), 0o755); err != nil {
		return err
	}

	manifests := map[string][2]string{
		"1145360": {"Hades", "Hades"},
		"228980":  {"Steamworks Common Redistributables", "Steamworks Shared"},
	}
	for appID, m := range manifests {
		content := fmt.Sprintf("\"AppState\"\n{\n\t\"appid\"\t\t\"%s\"\n\t\"name\"\t\t\"%s\"\n\t\"installdir\"\t\t\"%s\"\n}\n", appID, m[0], m[1])
		if err := os.WriteFile(filepath.Join(steamapps, "appmanifest_"+appID+".acf"), []byte(content), 0o644); err != nil {
			return err
		}
	}

	users := fmt.Sprintf("\"users\"\n{\n\t\"%s\"\n\t{\n\t\t\"AccountName\"\t\t\"nova\"\n\t}\n}\n", mockSteamID)
	return os.WriteFile(filepath.Join(root, "config", "loginusers.vdf"), []byte(users), 0o644)
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) Open(ctx context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *recordingOpener) URLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}
