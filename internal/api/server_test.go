package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/serialhome/serialhome-core/internal/automation"
	"github.com/serialhome/serialhome-core/internal/hardware"
	"github.com/serialhome/serialhome-core/internal/infrastructure/config"
	"github.com/serialhome/serialhome-core/internal/infrastructure/database"
	"github.com/serialhome/serialhome-core/internal/infrastructure/logging"
	"github.com/serialhome/serialhome-core/internal/infrastructure/metrics"
	"github.com/serialhome/serialhome-core/internal/scheduler"
	_ "github.com/serialhome/serialhome-core/migrations"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type pulseCall struct {
	ActorID int64
	Req     automation.PulseRequest
}

// mockEngine records API calls into the automation engine.
type mockEngine struct {
	mu         sync.Mutex
	reading    hardware.Reading
	pollErr    error
	controlErr error
	pulses     []pulseCall
	polled     []int64
	tasks      []scheduler.TaskInfo
}

func (m *mockEngine) PollNow(_ context.Context, sensorID int64) (hardware.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polled = append(m.polled, sensorID)
	if m.pollErr != nil {
		return hardware.Reading{}, m.pollErr
	}
	rd := m.reading
	rd.SensorID = sensorID
	return rd, nil
}

func (m *mockEngine) Control(_ context.Context, actorID int64, req automation.PulseRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controlErr != nil {
		return "", m.controlErr
	}
	m.pulses = append(m.pulses, pulseCall{ActorID: actorID, Req: req})
	return fmt.Sprintf("req-%d", len(m.pulses)), nil
}

func (m *mockEngine) Tasks() []scheduler.TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks
}

type mockChecker struct{ err error }

func (c mockChecker) HealthCheck(context.Context) error { return c.err }

// ─── Helpers ───────────────────────────────────────────────────────

type testEnv struct {
	srv      *Server
	registry *hardware.Registry
	engine   *mockEngine
	metrics  *metrics.Metrics
	router   http.Handler
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// newTestEnv creates a Server backed by a real registry on a migrated
// SQLite file.
func newTestEnv(t *testing.T, checks map[string]HealthChecker) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry := hardware.NewRegistry(hardware.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	engine := &mockEngine{}
	m := metrics.New()
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   testLogger(),
		Registry: registry,
		Engine:   engine,
		Metrics:  m,
		Checks:   checks,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(hubCtx)
	t.Cleanup(cancel)

	return &testEnv{srv: srv, registry: registry, engine: engine, metrics: m, router: srv.buildRouter()}
}

// do sends a request through the router. body is JSON-encoded unless it is
// a string.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

// ─── Server Tests ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: env.registry, Engine: env.engine}},
		{"no registry", Deps{Logger: testLogger(), Engine: env.engine}},
		{"no engine", Deps{Logger: testLogger(), Registry: env.registry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v, want nil", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			checks:     map[string]HealthChecker{"database": mockChecker{}, "serial": mockChecker{}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "serial down",
			checks:     map[string]HealthChecker{"database": mockChecker{}, "serial": mockChecker{err: errors.New("port gone")}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.checks)
			w := env.do(t, http.MethodGet, "/api/v1/health", nil)
			expectStatus(t, w, tt.wantCode)

			resp := decodeBody[struct {
				Status     string            `json:"status"`
				Version    string            `json:"version"`
				Components map[string]string `json:"components"`
			}](t, w)
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != "test" {
				t.Errorf("version = %q, want test", resp.Version)
			}
			for name := range tt.checks {
				if _, ok := resp.Components[name]; !ok {
					t.Errorf("component %q missing from %v", name, resp.Components)
				}
			}
			if tt.wantCode != http.StatusOK && resp.Components["serial"] != "port gone" {
				t.Errorf("serial component = %q, want the check error", resp.Components["serial"])
			}
		})
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)

	id := w.Header().Get("X-Request-ID")
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sensors", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestRecovery_PanicReturns500(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	expectStatus(t, w, http.StatusInternalServerError)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/sensors/42", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, w, http.StatusOK)
	body := w.Body.String()

	if !strings.Contains(body, `serialhome_http_requests_total{route="/api/v1/sensors/{id}/",status="404"} 1`) &&
		!strings.Contains(body, `serialhome_http_requests_total{route="/api/v1/sensors/{id}",status="404"} 1`) {
		t.Errorf("metrics output lacks the sensor route counter:\n%s", body)
	}
	if strings.Contains(body, `route="/api/v1/sensors/42"`) {
		t.Error("metrics label carries a concrete id")
	}
}

// ─── System & Scheduler Tests ──────────────────────────────────────

func TestSystem(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.registry.CreateSensor(ctx, &hardware.Sensor{Name: "soil", IntervalSec: 5}); err != nil {
		t.Fatal(err)
	}
	env.engine.tasks = []scheduler.TaskInfo{
		{Key: scheduler.Key{Kind: scheduler.KindSensor, ID: 1}, Interval: 5 * time.Second},
		{Key: scheduler.Key{Kind: scheduler.KindControl, ID: 1}, OneShot: true},
	}

	w := env.do(t, http.MethodGet, "/api/v1/system", nil)
	expectStatus(t, w, http.StatusOK)

	status := decodeBody[SystemStatus](t, w)
	if status.Registry.Sensors != 1 {
		t.Errorf("registry.sensors = %d, want 1", status.Registry.Sensors)
	}
	if status.Scheduler.Tasks != 2 || status.Scheduler.ByKind[scheduler.KindSensor] != 1 {
		t.Errorf("scheduler = %+v", status.Scheduler)
	}
	if status.Serial != nil {
		t.Errorf("serial = %+v, want omitted without a gateway", status.Serial)
	}
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[map[string]any](t, w)["count"]; got != float64(0) {
		t.Errorf("count = %v, want 0", got)
	}

	env.engine.tasks = []scheduler.TaskInfo{{
		Key:      scheduler.Key{Kind: scheduler.KindActor, ID: 3},
		Interval: 30 * time.Second,
		Runs:     2,
	}}
	w = env.do(t, http.MethodGet, "/api/v1/scheduler/tasks", nil)
	resp := decodeBody[struct {
		Tasks []scheduler.TaskInfo `json:"tasks"`
		Count int                  `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.Tasks[0].Key.Kind != scheduler.KindActor || resp.Tasks[0].Runs != 2 {
		t.Errorf("tasks = %+v", resp)
	}
}
