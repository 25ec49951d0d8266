// Package api exposes the daemon over HTTP. GET endpoints are public
// read-only views; POST endpoints act on behalf of agents and share a
// per-IP rate budget. Admin endpoints require a bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/combat"
	"github.com/sacaslabs/sacas-daemon/internal/engine"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/persistence"
	"github.com/sacaslabs/sacas-daemon/internal/radar"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

// Server serves the simulation over HTTP.
type Server struct {
	Core     *engine.Core
	DB       *persistence.DB
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	// Agent actions share one per-IP budget.
	actionLimiter := NewRateLimiter(120, time.Minute)
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		return RateLimitMiddleware(actionLimiter, h)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/weather", s.handleWeather)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentState)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Agent actions.
	mux.HandleFunc("/api/v1/agents/register", limited(s.handleRegister))
	mux.HandleFunc("/api/v1/points/purchase", limited(s.handlePurchase))
	mux.HandleFunc("/api/v1/defense/configure", limited(s.handleConfigureDefense))
	mux.HandleFunc("/api/v1/scan", limited(s.handleScan))
	mux.HandleFunc("/api/v1/scan/deep", limited(s.handleDeepScan))
	mux.HandleFunc("/api/v1/radar/sweep", limited(s.handleSweep))
	mux.HandleFunc("/api/v1/battle/attack", limited(s.handleAttack))
	mux.HandleFunc("/api/v1/battle/simulate", limited(s.handleSimulate))
	mux.HandleFunc("/api/v1/parasite/ransom", limited(s.handleRansom))
	mux.HandleFunc("/api/v1/parasite/resist", limited(s.handleResist))
	mux.HandleFunc("/api/v1/parasite/harvest", limited(s.handleHarvest))

	// Admin control plane.
	mux.HandleFunc("/api/v1/admin/save", s.adminOnly(s.handleSave))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins. Set
// CORS_ORIGINS to a comma-separated list; localhost dev servers are
// always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			writeError(w, http.StatusForbidden, "E_ADMIN_DISABLED", "admin endpoints disabled (no SACAS_ADMIN_KEY set)")
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.AdminKey {
			writeError(w, http.StatusUnauthorized, "E_UNAUTHORIZED", "unauthorized")
			return
		}
		next(w, r)
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "E_METHOD", "POST required")
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Core.Weather.Current()
	writeJSON(w, map[string]any{
		"name":      "sacas-daemon",
		"agents":    s.Core.Registry.Len(),
		"contracts": len(s.Core.Ledger.All()),
		"weather": map[string]any{
			"regime":    st.Regime.String(),
			"since":     st.Since,
			"next_roll": st.NextRoll,
		},
	})
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	st := s.Core.Weather.Current()
	mods := st.Mods()
	writeJSON(w, map[string]any{
		"regime":      st.Regime.String(),
		"description": weather.Description(st.Regime),
		"since":       st.Since,
		"next_roll":   st.NextRoll,
		"region":      st.Region,
		"modifiers": map[string]any{
			"production": mods.Production,
			"visibility": mods.Visibility,
			"threshold":  mods.Threshold,
			"l1_bypass":  mods.L1Bypass,
		},
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.Core.Events.Recent(limit)
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

// handleAgentState serves GET /api/v1/agent/:id.
func (s *Server) handleAgentState(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", "missing agent id")
		return
	}

	st, err := s.Core.GetState(registry.AgentID(id))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Karma uint64  `json:"karma"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	if err := decodeBody(r, registerSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	a, err := s.Core.RegisterAgent(req.Karma, topology.Coord{X: req.X, Y: req.Y})
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Agent  string `json:"agent"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeBody(r, purchaseSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	cost, err := s.Core.PurchasePoints(registry.AgentID(req.Agent), req.Amount)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"points": req.Amount, "cost": cost})
}

func (s *Server) handleConfigureDefense(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Agent string `json:"agent"`
		L1    uint64 `json:"l1"`
		L2    uint64 `json:"l2"`
		L3    uint64 `json:"l3"`
	}
	if err := decodeBody(r, defenseSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	def := registry.DefenseArray{L1: req.L1, L2: req.L2, L3: req.L3}
	if err := s.Core.ConfigureDefense(registry.AgentID(req.Agent), def); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"defense": def})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Observer string `json:"observer"`
		Target   string `json:"target"`
	}
	if err := decodeBody(r, scanSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	report, err := s.Core.Scan(registry.AgentID(req.Observer), registry.AgentID(req.Target))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleDeepScan(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Observer string `json:"observer"`
		Target   string `json:"target"`
	}
	if err := decodeBody(r, scanSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	report, err := s.Core.DeepScan(registry.AgentID(req.Observer), registry.AgentID(req.Target))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Observer string `json:"observer"`
	}
	if err := decodeBody(r, sweepSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	reports, err := s.Core.RadarSweep(registry.AgentID(req.Observer))
	if err != nil {
		writeOpError(w, err)
		return
	}
	if reports == nil {
		reports = []radar.Report{}
	}
	writeJSON(w, reports)
}

type battleRequest struct {
	Attacker string `json:"attacker"`
	Target   string `json:"target"`
	X1       uint64 `json:"x1"`
	X2       uint64 `json:"x2"`
	X3       uint64 `json:"x3"`
}

func (b battleRequest) plan() combat.Plan {
	return combat.Plan{X1: b.X1, X2: b.X2, X3: b.X3}
}

func decodeBattle(w http.ResponseWriter, r *http.Request) (battleRequest, bool) {
	var req battleRequest
	if err := decodeBody(r, battleSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return battleRequest{}, false
	}
	return req, true
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	req, ok := decodeBattle(w, r)
	if !ok {
		return
	}

	report, err := s.Core.Attack(registry.AgentID(req.Attacker), registry.AgentID(req.Target), req.plan())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	req, ok := decodeBattle(w, r)
	if !ok {
		return
	}

	sim, err := s.Core.SimulateBattle(registry.AgentID(req.Attacker), registry.AgentID(req.Target), req.plan())
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, sim)
}

func (s *Server) handleRansom(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Victim string `json:"victim"`
	}
	if err := decodeBody(r, ransomSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	cost, err := s.Core.Ransom(registry.AgentID(req.Victim))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"cost": cost, "freed": true})
}

func (s *Server) handleResist(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Victim     string `json:"victim"`
		Investment uint64 `json:"investment"`
	}
	if err := decodeBody(r, resistSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	report, err := s.Core.Resist(registry.AgentID(req.Victim), req.Investment)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Master string `json:"master"`
		Victim string `json:"victim"`
	}
	if err := decodeBody(r, harvestSchema, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
		return
	}

	amount, err := s.Core.Harvest(registry.AgentID(req.Master), registry.AgentID(req.Victim))
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"amount": amount})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "E_NO_DB", "persistence not configured")
		return
	}
	if err := s.DB.SaveWorld(s.Core); err != nil {
		writeError(w, http.StatusInternalServerError, "E_INTERNAL", err.Error())
		return
	}
	writeJSON(w, map[string]any{"saved": true})
}

// writeOpError maps engine errors onto HTTP status codes.
func writeOpError(w http.ResponseWriter, err error) {
	if ce, ok := engine.AsCooldown(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(ce.Remaining.Seconds())+1))
		writeError(w, http.StatusTooManyRequests, "E_COOLDOWN", ce.Error())
		return
	}

	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "E_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "E_INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, engine.ErrNotLocked):
		writeError(w, http.StatusForbidden, "E_NOT_LOCKED", err.Error())
	case errors.Is(err, parasite.ErrNoContract):
		writeError(w, http.StatusConflict, "E_NO_CONTRACT", err.Error())
	case errors.Is(err, parasite.ErrAlreadyParasitized):
		writeError(w, http.StatusConflict, "E_ALREADY_PARASITIZED", err.Error())
	case errors.Is(err, engine.ErrInvalidAllocation),
		errors.Is(err, engine.ErrSelfTarget),
		errors.Is(err, registry.ErrExists):
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", err.Error())
	default:
		slog.Error("operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "E_INTERNAL", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}
