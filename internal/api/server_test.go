package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
	"github.com/sacaslabs/sacas-daemon/internal/engine"
	"github.com/sacaslabs/sacas-daemon/internal/entropy"
	"github.com/sacaslabs/sacas-daemon/internal/parasite"
	"github.com/sacaslabs/sacas-daemon/internal/persistence"
	"github.com/sacaslabs/sacas-daemon/internal/registry"
	"github.com/sacaslabs/sacas-daemon/internal/topology"
	"github.com/sacaslabs/sacas-daemon/internal/weather"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	core := engine.NewCore(
		registry.NewStore(),
		cooldown.NewManager(),
		weather.NewController(entropy.NewSeeded(1)),
		parasite.NewLedger(),
		nil,
		entropy.NewSeeded(2),
	)
	s := &Server{Core: core, Port: 0}
	return s, s.Handler()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRegisterAndFetchState(t *testing.T) {
	_, h := newTestServer(t)

	rec := postJSON(t, h, "/api/v1/agents/register", map[string]any{"karma": 2000, "x": 3, "y": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	a := decode[registry.Agent](t, rec)
	if a.ID == "" || a.Karma != 2000 {
		t.Fatalf("agent = %+v", a)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent/"+string(a.ID), nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("agent state status = %d", rec2.Code)
	}
	st := decode[engine.AgentState](t, rec2)
	if st.Agent.ID != a.ID || st.Capacity != 200_000 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSchemaRejectsUnknownFields(t *testing.T) {
	_, h := newTestServer(t)

	rec := postJSON(t, h, "/api/v1/agents/register", map[string]any{"karma": 100, "bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, h, "/api/v1/points/purchase", map[string]any{"agent": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing amount: status = %d, want 400", rec.Code)
	}

	rec = postJSON(t, h, "/api/v1/points/purchase", map[string]any{"agent": "x", "amount": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero amount: status = %d, want 400", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s, h := newTestServer(t)
	s.Core.Registry.Create("a", 1000, topology.Coord{})
	s.Core.Registry.Create("b", 1000, topology.Coord{X: 1})

	// Unknown agent.
	rec := postJSON(t, h, "/api/v1/scan", map[string]any{"observer": "a", "target": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target: status = %d, want 404", rec.Code)
	}

	// Self target.
	rec = postJSON(t, h, "/api/v1/scan", map[string]any{"observer": "a", "target": "a"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self scan: status = %d, want 400", rec.Code)
	}

	// No entropy to pay the scan fee.
	rec = postJSON(t, h, "/api/v1/scan", map[string]any{"observer": "a", "target": "b"})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("broke observer: status = %d, want 402", rec.Code)
	}

	// Ransom with no contract.
	rec = postJSON(t, h, "/api/v1/parasite/ransom", map[string]any{"victim": "a"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("no contract: status = %d, want 409", rec.Code)
	}
}

func TestCooldownSetsRetryAfter(t *testing.T) {
	s, h := newTestServer(t)
	s.Core.Registry.Create("obs", 1000, topology.Coord{})
	s.Core.Registry.Create("tgt", 1000, topology.Coord{X: 2})
	s.Core.Registry.Mutate("obs", func(a *registry.Agent) error {
		a.Entropy = 1000
		return nil
	})

	rec := postJSON(t, h, "/api/v1/scan", map[string]any{"observer": "obs", "target": "tgt"})
	if rec.Code != http.StatusOK {
		t.Fatalf("first scan: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h, "/api/v1/scan", map[string]any{"observer": "obs", "target": "tgt"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second scan: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestAdminAuth(t *testing.T) {
	s, h := newTestServer(t)

	// No admin key configured.
	rec := postJSON(t, h, "/api/v1/admin/save", map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("disabled admin: status = %d, want 403", rec.Code)
	}

	s.AdminKey = "sekrit"
	h = s.Handler()

	rec = postJSON(t, h, "/api/v1/admin/save", map[string]any{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", rec.Code)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	s.DB = db
	h = s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/save", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer sekrit")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("authorized save: status = %d, body %s", rec2.Code, rec2.Body.String())
	}
}

func TestMethodGating(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/register", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET register: status = %d, want 405", rec.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s, h := newTestServer(t)
	s.Core.Events.Emit("combat", "a", "first blood")
	s.Core.Events.Emit("economy", "b", "tick")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?category=combat", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events: status = %d", rec.Code)
	}
	events := decode[[]engine.Event](t, rec)
	if len(events) != 1 || events[0].Description != "first blood" {
		t.Fatalf("events = %+v", events)
	}
}

func TestBattleFlowOverHTTP(t *testing.T) {
	s, h := newTestServer(t)
	s.Core.Registry.Create("att", 1000, topology.Coord{})
	s.Core.Registry.Mutate("att", func(a *registry.Agent) error {
		a.Reserve = 1000
		return nil
	})
	s.Core.Registry.Create("tgt", 9000, topology.Coord{X: 10})
	s.Core.Registry.Mutate("tgt", func(a *registry.Agent) error {
		a.Entropy = 500_000
		a.Defense = registry.DefenseArray{L1: 100, L2: 100, L3: 100}
		return nil
	})

	rec := postJSON(t, h, "/api/v1/battle/simulate", map[string]any{
		"attacker": "att", "target": "tgt", "x1": 300, "x2": 300, "x3": 300,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, h, "/api/v1/battle/attack", map[string]any{
		"attacker": "att", "target": "tgt", "x1": 300, "x2": 300, "x3": 300,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("attack: status = %d, body %s", rec.Code, rec.Body.String())
	}
	report := decode[engine.AttackReport](t, rec)
	if report.BattleID == "" || report.Outcome == "" {
		t.Fatalf("report = %+v", report)
	}
}
