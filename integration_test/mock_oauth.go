package integration_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	mockAnonKey   = "mock-anon-key"
	mockJWTSecret = "mock-jwt-secret-with-enough-length-for-hs256"
	mockUserID    = "9a4b0c1d-2e3f-4a5b-8c6d-7e8f9a0b1c2d"
	mockSteamID   = "76561198000000001"
)

type mockUser struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata"`
}

var novaUser = mockUser{
	ID:    mockUserID,
	Email: "nova@example.com",
	Metadata: map[string]string{
		"full_name":  "Nova",
		"avatar_url": "https://cdn.discordapp.com/avatars/nova.png",
	},
}

// MockSupabaseServer fakes the GoTrue and PostgREST halves of a Supabase
// project plus the Steam Web API.
type MockSupabaseServer struct {
	server *httptest.Server

	mu         sync.Mutex
	challenges map[string]string // auth code -> PKCE challenge
	refresh    map[string]bool   // live refresh tokens
	rows       map[string]map[string]map[string]interface{}
	bearers    map[string][]string
	logouts    int
	issued     int
}

func NewMockSupabaseServer() *MockSupabaseServer {
	m := &MockSupabaseServer{
		challenges: make(map[string]string),
		refresh:    make(map[string]bool),
		rows:       make(map[string]map[string]map[string]interface{}),
		bearers:    make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/authorize", m.handleAuthorize)
	mux.HandleFunc("/auth/v1/token", m.requireKey(m.handleToken))
	mux.HandleFunc("/auth/v1/user", m.requireKey(m.handleUser))
	mux.HandleFunc("/auth/v1/logout", m.requireKey(m.handleLogout))
	mux.HandleFunc("/rest/v1/", m.requireKey(m.handleRest))
	mux.HandleFunc("/ISteamUser/GetPlayerSummaries/v0002/", m.handlePlayerSummaries)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockSupabaseServer) URL() string {
	return m.server.URL
}

func (m *MockSupabaseServer) Close() {
	m.server.Close()
}

func (m *MockSupabaseServer) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != mockAnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "No API key found in request"})
			return
		}
		next(w, r)
	}
}

func (m *MockSupabaseServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectTo := q.Get("redirect_to")
	if q.Get("provider") == "" || redirectTo == "" || q.Get("code_challenge_method") != "s256" {
		http.Error(w, "bad authorize request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	code := fmt.Sprintf("code-%d", len(m.challenges)+1)
	m.challenges[code] = q.Get("code_challenge")
	m.mu.Unlock()

	http.Redirect(w, r, redirectTo+"?code="+url.QueryEscape(code), http.StatusFound)
}

func (m *MockSupabaseServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "pkce":
		challenge, ok := m.challenges[body["auth_code"]]
		sum := sha256.Sum256([]byte(body["code_verifier"]))
		if !ok || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(m.challenges, body["auth_code"])
	case "refresh_token":
		if !m.refresh[body["refresh_token"]] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(m.refresh, body["refresh_token"])
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	writeJSON(w, http.StatusOK, m.issueLocked())
}

func (m *MockSupabaseServer) issueLocked() map[string]interface{} {
	m.issued++
	exp := time.Now().Add(time.Hour)
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           novaUser.ID,
		"email":         novaUser.Email,
		"user_metadata": novaUser.Metadata,
		"role":          "authenticated",
		"exp":           exp.Unix(),
	}).SignedString([]byte(mockJWTSecret))

	refresh := fmt.Sprintf("refresh-%d", m.issued)
	m.refresh[refresh] = true

	return map[string]interface{}{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    exp.Unix(),
		"refresh_token": refresh,
		"user":          novaUser,
	}
}

func (m *MockSupabaseServer) handleUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, novaUser)
}

func (m *MockSupabaseServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.logouts++
	m.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockSupabaseServer) handleRest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates") {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "upserts only"})
		return
	}
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	conflict := strings.Split(r.URL.Query().Get("on_conflict"), ",")

	var row map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	keyParts := make([]string, 0, len(conflict))
	for _, col := range conflict {
		keyParts = append(keyParts, fmt.Sprint(row[col]))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[table] == nil {
		m.rows[table] = make(map[string]map[string]interface{})
	}
	m.rows[table][strings.Join(keyParts, "|")] = row
	m.bearers[table] = append(m.bearers[table], r.Header.Get("Authorization"))
	w.WriteHeader(http.StatusCreated)
}

func (m *MockSupabaseServer) handlePlayerSummaries(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("steamids") != mockSteamID {
		writeJSON(w, http.StatusOK, map[string]interface{}{"response": map[string]interface{}{"players": []interface{}{}}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": map[string]interface{}{
			"players": []map[string]interface{}{{
				"steamid":     mockSteamID,
				"personaname": "nova_plays",
				"profileurl":  "https://steamcommunity.com/id/nova_plays/",
				"avatarfull":  "https://avatars.steamstatic.com/nova_full.jpg",
				"timecreated": 1262304000,
			}},
		},
	})
}

// Rows returns a copy of the upserted rows of table.
func (m *MockSupabaseServer) Rows(table string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(m.rows[table]))
	for _, row := range m.rows[table] {
		out = append(out, row)
	}
	return out
}

func (m *MockSupabaseServer) Bearers(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.bearers[table]...)
}

func (m *MockSupabaseServer) Logouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
