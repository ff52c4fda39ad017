package core

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"juxction/logger"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	ErrLibraryNotFound = errors.New("game library not found")
	ErrInvalidAppID    = errors.New("invalid app id")
)

// steamworksAppID is the redistributables package, never shown as a game.
const steamworksAppID = "228980"

type ServerDeps struct {
	Reconciler *Reconciler
	State      *UserState
	Sessions   SessionSetter
	Library    GameLibrary
	Settings   KVStore
	Gatherer   prometheus.Gatherer // optional, enables /metrics
}

// Server is the loopback API the desktop shell talks to.
type Server struct {
	deps ServerDeps
	log  *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, log: logger.Named("server")}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.HandleHealth)
	r.Get("/me", s.HandleMe)
	r.Post("/login", s.HandleLogin)
	r.Post("/logout", s.HandleLogout)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/callback", s.HandleCallback)
		r.Post("/session", s.HandleSetSession)
	})

	r.Route("/library", func(r chi.Router) {
		r.Get("/", s.HandleLibrary)
		r.Post("/{appID}/launch", s.HandleLaunch)
	})

	r.Get("/preferences", s.HandleGetPreferences)
	r.Put("/preferences", s.HandlePutPreferences)

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":        s.deps.State.Current(),
		"initialized": s.deps.Reconciler.Initialized(),
	})
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.deps.Reconciler.Login(r.Context())
	if err != nil && !errors.Is(err, ErrNoOpener) {
		if authURL == "" {
			s.log.Error("sign-in failed", zap.Error(err))
			respondError(w, http.StatusBadGateway, "login_failed", "Could not start sign-in")
			return
		}
		// the shell can still open the URL itself
		s.log.Warn("could not open browser", zap.Error(err))
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"url": authURL,
	})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status": "logged_out",
	}
	if err := s.deps.Reconciler.Logout(r.Context()); err != nil {
		resp["warning"] = "remote sign-out failed"
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		s.log.Warn("oauth callback error", zap.String("error", errCode), zap.String("description", q.Get("error_description")))
		renderPage(w, http.StatusBadRequest, "Sign-in failed", q.Get("error_description"), false)
		return
	}

	if code := q.Get("code"); code != "" {
		if _, err := s.deps.Sessions.ExchangeCodeForSession(r.Context(), code); err != nil {
			s.log.Error("code exchange failed", zap.Error(err))
			renderPage(w, http.StatusUnauthorized, "Sign-in failed", "The sign-in link could not be verified.", false)
			return
		}
		renderPage(w, http.StatusOK, "Signed in", "You can close this window.", false)
		return
	}

	// implicit flow: tokens live in the fragment, which only the browser sees
	renderPage(w, http.StatusOK, "Authenticating...", "Please wait while we sign you in.", true)
}

func (s *Server) HandleSetSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	if req.AccessToken == "" || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "access_token and refresh_token are required")
		return
	}

	session, err := s.deps.Sessions.SetSession(r.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		s.log.Warn("set session failed", zap.Error(err))
		respondError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user": session.User,
	})
}

func (s *Server) HandleLibrary(w http.ResponseWriter, r *http.Request) {
	games, err := s.deps.Library.Scan(r.Context())
	if err != nil {
		if errors.Is(err, ErrLibraryNotFound) {
			respondError(w, http.StatusNotFound, "library_not_found", "Steam library not found")
			return
		}
		s.log.Error("library scan failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to scan library")
		return
	}

	visible := make([]Game, 0, len(games))
	for _, g := range games {
		if g.AppID == steamworksAppID {
			continue
		}
		visible = append(visible, g)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"games": visible,
	})
}

func (s *Server) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	if err := s.deps.Library.Launch(r.Context(), appID); err != nil {
		if errors.Is(err, ErrInvalidAppID) {
			respondError(w, http.StatusBadRequest, "invalid_app_id", "Invalid app id")
			return
		}
		s.log.Error("launch failed", zap.String("app_id", appID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "launch_failed", "Failed to launch game")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "launching",
		"app_id": appID,
	})
}

func (s *Server) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := LoadPreferences(r.Context(), s.deps.Settings)
	if err != nil {
		// defaults are still usable
		s.log.Warn("preferences unreadable", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, prefs)
}

func (s *Server) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	prefs := DefaultPreferences()
	if !decodeJSON(w, r, &prefs) {
		return
	}

	if err := SavePreferences(r.Context(), s.deps.Settings, prefs); err != nil {
		s.log.Error("failed to save preferences", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to save preferences")
		return
	}

	saved, _ := LoadPreferences(r.Context(), s.deps.Settings)
	respondJSON(w, http.StatusOK, saved)
}

// Helper functions

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="background:#0a0a0a;color:#e0e0e0;font-family:system-ui;text-align:center;margin-top:50px">
<h1>{{.Title}}</h1>
<p id="message">{{.Message}}</p>
{{if .Relay}}<script>
(function () {
  var params = new URLSearchParams(window.location.hash.substring(1));
  var access = params.get("access_token"), refresh = params.get("refresh_token");
  var message = document.getElementById("message");
  if (!access || !refresh) { message.textContent = "No tokens found in the callback URL."; return; }
  fetch("/auth/session", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({access_token: access, refresh_token: refresh})
  }).then(function (resp) {
    message.textContent = resp.ok ? "Signed in. You can close this window." : "Sign-in failed.";
    history.replaceState(null, "", window.location.pathname);
  });
})();
</script>{{end}}
</body></html>`))

func renderPage(w http.ResponseWriter, statusCode int, title, message string, relay bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	callbackPage.Execute(w, struct {
		Title   string
		Message string
		Relay   bool
	}{title, message, relay})
}
