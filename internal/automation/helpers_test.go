package automation

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/serialhome/serialhome-core/internal/gateway"
	"github.com/serialhome/serialhome-core/internal/hardware"
	"github.com/serialhome/serialhome-core/internal/scheduler"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type gwCall struct {
	Op    string
	Addr  gateway.Address
	Value int
	At    time.Duration
}

// mockGateway answers reads from a table and records every exchange.
type mockGateway struct {
	clock clockwork.Clock

	mu       sync.Mutex
	values   map[gateway.Address]float64
	writeErr error
	// hangValue, when nonzero, makes writes of that value block until
	// their context ends, like a device that never acknowledges.
	hangValue int
	calls     chan gwCall
}

func newMockGateway(clock clockwork.Clock) *mockGateway {
	return &mockGateway{
		clock:  clock,
		values: make(map[gateway.Address]float64),
		calls:  make(chan gwCall, 64),
	}
}

func (m *mockGateway) setValue(channel, pin int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[gateway.Address{Channel: channel, Pin: pin}] = v
}

func (m *mockGateway) ReadSensor(_ context.Context, addr gateway.Address) (float64, error) {
	m.mu.Lock()
	v, ok := m.values[addr]
	m.mu.Unlock()
	if !ok {
		v = math.NaN()
	}
	m.calls <- gwCall{Op: gateway.OpRead, Addr: addr, At: m.clock.Since(epoch)}
	return v, nil
}

func (m *mockGateway) WriteActor(ctx context.Context, addr gateway.Address, value int) (string, error) {
	m.mu.Lock()
	err, hang := m.writeErr, m.hangValue
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	m.calls <- gwCall{Op: gateway.OpWrite, Addr: addr, Value: value, At: m.clock.Since(epoch)}
	if hang != 0 && value == hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "ok", nil
}

func (m *mockGateway) hangOn(value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hangValue = value
}

// mockRegistry is an in-memory Registry.
type mockRegistry struct {
	mu       sync.Mutex
	sensors  map[int64]hardware.Sensor
	actors   map[int64]hardware.Actor
	rules    []hardware.Rule
	readings []hardware.Reading
	prunedAt []time.Time
	recorded chan hardware.Reading
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		sensors:  make(map[int64]hardware.Sensor),
		actors:   make(map[int64]hardware.Actor),
		recorded: make(chan hardware.Reading, 64),
	}
}

func (m *mockRegistry) addSensor(s hardware.Sensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[s.ID] = s
}

func (m *mockRegistry) addActor(a hardware.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = a
}

func (m *mockRegistry) addRule(r hardware.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

func (m *mockRegistry) EnabledSensors(context.Context) ([]hardware.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []hardware.Sensor
	for _, s := range m.sensors {
		if s.Enabled() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRegistry) EnabledActors(context.Context) ([]hardware.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []hardware.Actor
	for _, a := range m.actors {
		if a.Enabled() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRegistry) GetSensor(_ context.Context, id int64) (*hardware.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sensors[id]
	if !ok {
		return nil, hardware.ErrSensorNotFound
	}
	return &s, nil
}

func (m *mockRegistry) GetActor(_ context.Context, id int64) (*hardware.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, hardware.ErrActorNotFound
	}
	return &a, nil
}

func (m *mockRegistry) RulesForSensor(_ context.Context, sensorID int64) ([]hardware.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []hardware.Rule
	for _, r := range m.rules {
		if r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRegistry) RecordReading(_ context.Context, rd hardware.Reading) error {
	m.mu.Lock()
	m.readings = append(m.readings, rd)
	m.mu.Unlock()
	m.recorded <- rd
	return nil
}

func (m *mockRegistry) PruneReadings(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunedAt = append(m.prunedAt, before)
	return 0, nil
}

// mockHub captures all broadcasts.
type mockHub struct {
	mu         sync.Mutex
	broadcasts []string
}

func (m *mockHub) Broadcast(channel string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, channel)
}

func (m *mockHub) channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.broadcasts...)
}

// mockPublisher captures published readings and actuations.
type mockPublisher struct {
	mu         sync.Mutex
	readings   []hardware.Reading
	actuations []hardware.Actuation
}

func (m *mockPublisher) PublishReading(rd hardware.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, rd)
	return nil
}

func (m *mockPublisher) PublishActuation(act hardware.Actuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actuations = append(m.actuations, act)
	return errors.New("broker offline")
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type harness struct {
	clock  clockwork.FakeClock
	sched  *scheduler.Scheduler
	gw     *mockGateway
	reg    *mockRegistry
	engine *Engine
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	cfg.Clock = clock
	sched := scheduler.New(clock)
	gw := newMockGateway(clock)
	reg := newMockRegistry()
	h := &harness{
		clock:  clock,
		sched:  sched,
		gw:     gw,
		reg:    reg,
		engine: NewEngine(cfg, sched, gw, reg, nil),
	}
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) nextCall(t *testing.T) gwCall {
	t.Helper()
	select {
	case c := <-h.gw.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no gateway exchange")
		return gwCall{}
	}
}

func (h *harness) expectWrite(t *testing.T, at time.Duration, value int) {
	t.Helper()
	c := h.nextCall(t)
	if c.Op != gateway.OpWrite || c.At != at || c.Value != value {
		t.Fatalf("exchange = %+v, want write %d at %v", c, value, at)
	}
}

func (h *harness) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.gw.calls:
		t.Fatalf("unexpected exchange %+v", c)
	case <-time.After(20 * time.Millisecond):
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}
