// Package api serves the HTTP surface around the matchmaking engine: public
// stats and ban-status probes, the token-authenticated admin endpoints, and
// the health and metrics probes. It reads coordinator, guard, settings and
// session state but never mutates matching logic.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paircast/chat-app/internal/abuse"
	"github.com/paircast/chat-app/internal/hub"
	"github.com/paircast/chat-app/internal/metrics"
	"github.com/paircast/chat-app/internal/settings"
	"github.com/paircast/chat-app/internal/ws"
)

// tokenTTL is how long an admin login token stays valid.
const tokenTTL = 24 * time.Hour

// Credentials are the admin login credentials, taken from the environment
// by the composition root.
type Credentials struct {
	Username string
	Password string
}

// Server mounts the HTTP API. Session aggregates are read through the
// coordinator so handler goroutines never touch hub-owned state unlocked.
type Server struct {
	coordinator *hub.Coordinator
	guard       *abuse.Guard
	settings    *settings.Store
	wsServer    *ws.Server
	creds       Credentials

	tokenMu sync.Mutex
	tokens  map[string]time.Time // token -> expiry
}

// NewServer creates an API server over the engine's read surfaces.
func NewServer(coordinator *hub.Coordinator, guard *abuse.Guard, st *settings.Store, wsServer *ws.Server, creds Credentials) *Server {
	return &Server{
		coordinator: coordinator,
		guard:       guard,
		settings:    st,
		wsServer:    wsServer,
		creds:       creds,
		tokens:      make(map[string]time.Time),
	}
}

// Routes registers all endpoints on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/check-ban-status", s.handleCheckBanStatus)
	mux.HandleFunc("POST /api/admin/login", s.handleLogin)

	mux.HandleFunc("GET /api/admin/bans", s.authed(s.handleListBans))
	mux.HandleFunc("POST /api/admin/bans", s.authed(s.handleCreateBan))
	mux.HandleFunc("DELETE /api/admin/bans/{ip}", s.authed(s.handleDeleteBan))
	mux.HandleFunc("GET /api/admin/reports", s.authed(s.handleListReports))
	mux.HandleFunc("GET /api/admin/countries", s.authed(s.handleListCountries))
	mux.HandleFunc("POST /api/admin/countries", s.authed(s.handleBlockCountry))
	mux.HandleFunc("DELETE /api/admin/countries/{code}", s.authed(s.handleUnblockCountry))
	mux.HandleFunc("GET /api/admin/interests", s.authed(s.handleGetInterests))
	mux.HandleFunc("PUT /api/admin/interests", s.authed(s.handleSetInterests))
	mux.HandleFunc("GET /api/admin/maintenance", s.authed(s.handleGetMaintenance))
	mux.HandleFunc("PUT /api/admin/maintenance", s.authed(s.handleSetMaintenance))
	mux.HandleFunc("GET /api/admin/bots", s.authed(s.handleGetBots))
	mux.HandleFunc("PUT /api/admin/bots", s.authed(s.handleSetBots))
	mux.HandleFunc("GET /api/admin/fake-user-count", s.authed(s.handleGetFakeUsers))
	mux.HandleFunc("PUT /api/admin/fake-user-count", s.authed(s.handleSetFakeUsers))
	mux.HandleFunc("GET /api/admin/analytics", s.authed(s.handleAnalytics))

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ---------------------------------------------------------------------------
// Public endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.coordinator.CurrentStats()
	// The displayed total may be inflated per the fake-user-count settings.
	stats.TotalOnline = s.settings.DisplayUserCount(stats.TotalOnline)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCheckBanStatus(w http.ResponseWriter, r *http.Request) {
	ip := ws.ClientIP(r)

	type banStatus struct {
		IsBanned      bool   `json:"isBanned"`
		Reason        string `json:"reason,omitempty"`
		TimeRemaining string `json:"timeRemaining,omitempty"`
	}

	ban := s.guard.CheckIP(ip)
	if ban == nil {
		writeJSON(w, http.StatusOK, banStatus{IsBanned: false})
		return
	}

	status := banStatus{IsBanned: true, Reason: ban.Reason}
	if !ban.ExpiresAt.IsZero() {
		status.TimeRemaining = time.Until(ban.ExpiresAt).Round(time.Second).String()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.wsServer.Connections().Count(),
		Uptime:      s.wsServer.Uptime().Round(time.Second).String(),
	})
}

// ---------------------------------------------------------------------------
// Admin auth
// ---------------------------------------------------------------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := ws.ClientIP(r)

	// The permanent admin IP bypasses the login throttle, not the
	// credential check.
	exempt := ip == s.settings.PermanentAdminIP() && ip != ""

	if !exempt {
		if locked, remaining := s.guard.LoginLockedOut(ip); locked {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":      "too many failed attempts",
				"retryAfter": remaining.Round(time.Second).String(),
			})
			return
		}
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Username != s.creds.Username || req.Password != s.creds.Password {
		if !exempt {
			s.guard.RecordLoginFailure(ip)
		}
		log.Printf("[api] failed admin login ip=%s user=%q", ip, req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.guard.RecordLoginSuccess(ip)

	token := uuid.New().String()
	s.tokenMu.Lock()
	s.tokens[token] = time.Now().Add(tokenTTL)
	s.tokenMu.Unlock()

	log.Printf("[api] admin login ip=%s", ip)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// authed wraps a handler with bearer-token authentication.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !s.validToken(token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(token string) bool {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Admin endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleListBans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.BannedIPs())
}

func (s *Server) handleCreateBan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IPAddress       string `json:"ipAddress"`
		Reason          string `json:"reason"`
		DurationMinutes int    `json:"durationMinutes"` // 0 = permanent
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IPAddress == "" {
		writeError(w, http.StatusBadRequest, "ipAddress is required")
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	ban := s.coordinator.BanIP(req.IPAddress, req.Reason, s.creds.Username, duration)
	writeJSON(w, http.StatusCreated, ban)
}

func (s *Server) handleDeleteBan(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	s.guard.UnbanIP(ip)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Reports())
}

func (s *Server) handleListCountries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.BlockedCountries())
}

func (s *Server) handleBlockCountry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountryCode string `json:"countryCode"`
		CountryName string `json:"countryName"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CountryCode == "" {
		writeError(w, http.StatusBadRequest, "countryCode is required")
		return
	}

	s.guard.BlockCountry(req.CountryCode, req.CountryName, req.Reason, s.creds.Username)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleUnblockCountry(w http.ResponseWriter, r *http.Request) {
	s.guard.UnblockCountry(r.PathValue("code"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetInterests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"interests": s.settings.Interests()})
}

func (s *Server) handleSetInterests(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interests []string `json:"interests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.settings.SetInterests(req.Interests)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Maintenance())
}

func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req settings.Maintenance
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.settings.SetMaintenance(req.Enabled, req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.settings.BotsEnabled()})
}

func (s *Server) handleSetBots(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.settings.SetBotsEnabled(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFakeUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.FakeUsers())
}

func (s *Server) handleSetFakeUsers(w http.ResponseWriter, r *http.Request) {
	var req settings.FakeUserCount
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MinUsers < 0 || req.MaxUsers < req.MinUsers {
		writeError(w, http.StatusBadRequest, "invalid fake-user-count range")
		return
	}
	s.settings.SetFakeUsers(req.MinUsers, req.MaxUsers, req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	stats := s.coordinator.CurrentStats()
	sessionStats := s.coordinator.SessionAnalytics()

	writeJSON(w, http.StatusOK, struct {
		TotalOnline        int   `json:"totalOnline"`
		Waiting            int   `json:"waiting"`
		InChat             int   `json:"inChat"`
		TotalSessions      int   `json:"totalSessions"`
		ActiveSessions     int   `json:"activeSessions"`
		AvgSessionDuration int64 `json:"avgSessionDurationSeconds"`
		TotalReports       int   `json:"totalReports"`
		TotalBans          int   `json:"totalBans"`
	}{
		TotalOnline:        stats.TotalOnline,
		Waiting:            stats.Waiting,
		InChat:             stats.InChat,
		TotalSessions:      sessionStats.TotalSessions,
		ActiveSessions:     sessionStats.ActiveSessions,
		AvgSessionDuration: sessionStats.AvgSessionDuration,
		TotalReports:       len(s.guard.Reports()),
		TotalBans:          s.guard.TotalBans(),
	})
}
