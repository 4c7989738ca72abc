package hardware

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeHandler is told about every committed sensor or actor mutation.
// Calls happen after the cache is updated, in mutation order, and never
// while the cache lock is held.
type ChangeHandler interface {
	SensorChanged(s Sensor)
	SensorRemoved(id int64)
	ActorChanged(a Actor)
	ActorRemoved(id int64)
}

// Registry caches definitions from a Repository and forwards reading
// history calls to it.
//
// All public methods are thread-safe. Mutations are serialised so that
// change notifications for one entity can never arrive out of order.
type Registry struct {
	repo Repository

	writeMu sync.Mutex // serialises mutations and their notifications

	cacheMu sync.RWMutex
	sensors map[int64]Sensor
	actors  map[int64]Actor
	rules   map[int64]Rule

	handler ChangeHandler
	logger  Logger
}

// NewRegistry creates a registry over repo. Call RefreshCache before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		sensors: make(map[int64]Sensor),
		actors:  make(map[int64]Actor),
		rules:   make(map[int64]Rule),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetChangeHandler installs the mutation observer. Must be called before
// the registry is shared between goroutines.
func (r *Registry) SetChangeHandler(h ChangeHandler) {
	r.handler = h
}

// RefreshCache reloads every definition from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	sensors, err := r.repo.ListSensors(ctx)
	if err != nil {
		return fmt.Errorf("loading sensors: %w", err)
	}
	actors, err := r.repo.ListActors(ctx)
	if err != nil {
		return fmt.Errorf("loading actors: %w", err)
	}
	rules, err := r.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	r.cacheMu.Lock()
	r.sensors = make(map[int64]Sensor, len(sensors))
	for _, s := range sensors {
		r.sensors[s.ID] = s
	}
	r.actors = make(map[int64]Actor, len(actors))
	for _, a := range actors {
		r.actors[a.ID] = a
	}
	r.rules = make(map[int64]Rule, len(rules))
	for _, rl := range rules {
		r.rules[rl.ID] = rl
	}
	r.cacheMu.Unlock()

	r.logger.Info("hardware cache refreshed",
		"sensors", len(sensors), "actors", len(actors), "rules", len(rules))
	return nil
}

// ---- sensors ----

// ListSensors returns all sensors ordered by id.
func (r *Registry) ListSensors(context.Context) ([]Sensor, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return sortedValues(r.sensors, func(s Sensor) int64 { return s.ID }), nil
}

// EnabledSensors returns sensors with a positive interval, ordered by id.
func (r *Registry) EnabledSensors(ctx context.Context) ([]Sensor, error) {
	all, err := r.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, s := range all {
		if s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	return enabled, nil
}

// GetSensor returns ErrSensorNotFound for an unknown id.
func (r *Registry) GetSensor(_ context.Context, id int64) (*Sensor, error) {
	r.cacheMu.RLock()
	s, ok := r.sensors[id]
	r.cacheMu.RUnlock()
	if !ok {
		return nil, ErrSensorNotFound
	}
	return &s, nil
}

// CreateSensor validates, persists and caches s, then notifies the handler.
func (r *Registry) CreateSensor(ctx context.Context, s *Sensor) error {
	if err := ValidateSensor(s); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.CreateSensor(ctx, s); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.sensors[s.ID] = *s
	r.cacheMu.Unlock()

	r.logger.Info("sensor created", "id", s.ID, "name", s.Name)
	if r.handler != nil {
		r.handler.SensorChanged(*s)
	}
	return nil
}

// UpdateSensor replaces a sensor definition and notifies the handler.
func (r *Registry) UpdateSensor(ctx context.Context, s *Sensor) error {
	if err := ValidateSensor(s); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.UpdateSensor(ctx, s); err != nil {
		return err
	}
	r.cacheMu.Lock()
	if prev, ok := r.sensors[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
	}
	r.sensors[s.ID] = *s
	r.cacheMu.Unlock()

	r.logger.Info("sensor updated", "id", s.ID, "interval_sec", s.IntervalSec)
	if r.handler != nil {
		r.handler.SensorChanged(*s)
	}
	return nil
}

// DeleteSensor removes a sensor together with its readings and rules.
func (r *Registry) DeleteSensor(ctx context.Context, id int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.DeleteSensor(ctx, id); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.sensors, id)
	dropped := 0
	for ruleID, rl := range r.rules {
		if rl.SensorID == id {
			delete(r.rules, ruleID)
			dropped++
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("sensor deleted", "id", id, "rules_removed", dropped)
	if r.handler != nil {
		r.handler.SensorRemoved(id)
	}
	return nil
}

// ---- actors ----

// ListActors returns all actors ordered by id.
func (r *Registry) ListActors(context.Context) ([]Actor, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return sortedValues(r.actors, func(a Actor) int64 { return a.ID }), nil
}

// EnabledActors returns actors with a positive interval, ordered by id.
func (r *Registry) EnabledActors(ctx context.Context) ([]Actor, error) {
	all, err := r.ListActors(ctx)
	if err != nil {
		return nil, err
	}
	enabled := all[:0]
	for _, a := range all {
		if a.Enabled() {
			enabled = append(enabled, a)
		}
	}
	return enabled, nil
}

// GetActor returns ErrActorNotFound for an unknown id.
func (r *Registry) GetActor(_ context.Context, id int64) (*Actor, error) {
	r.cacheMu.RLock()
	a, ok := r.actors[id]
	r.cacheMu.RUnlock()
	if !ok {
		return nil, ErrActorNotFound
	}
	return &a, nil
}

// CreateActor validates, persists and caches a, then notifies the handler.
func (r *Registry) CreateActor(ctx context.Context, a *Actor) error {
	if err := ValidateActor(a); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.CreateActor(ctx, a); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.actors[a.ID] = *a
	r.cacheMu.Unlock()

	r.logger.Info("actor created", "id", a.ID, "name", a.Name)
	if r.handler != nil {
		r.handler.ActorChanged(*a)
	}
	return nil
}

// UpdateActor replaces an actor definition and notifies the handler.
func (r *Registry) UpdateActor(ctx context.Context, a *Actor) error {
	if err := ValidateActor(a); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.UpdateActor(ctx, a); err != nil {
		return err
	}
	r.cacheMu.Lock()
	if prev, ok := r.actors[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	}
	r.actors[a.ID] = *a
	r.cacheMu.Unlock()

	r.logger.Info("actor updated", "id", a.ID, "interval_sec", a.IntervalSec, "duration_sec", a.DurationSec)
	if r.handler != nil {
		r.handler.ActorChanged(*a)
	}
	return nil
}

// DeleteActor removes an actor. Rules that reference it stay in place.
func (r *Registry) DeleteActor(ctx context.Context, id int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.DeleteActor(ctx, id); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.actors, id)
	r.cacheMu.Unlock()

	r.logger.Info("actor deleted", "id", id)
	if r.handler != nil {
		r.handler.ActorRemoved(id)
	}
	return nil
}

// ---- rules ----

// ListRules returns all rules ordered by id.
func (r *Registry) ListRules(context.Context) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return sortedValues(r.rules, func(rl Rule) int64 { return rl.ID }), nil
}

// RulesForSensor returns the rules bound to a sensor, ordered by id.
func (r *Registry) RulesForSensor(_ context.Context, sensorID int64) ([]Rule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var rules []Rule
	for _, rl := range r.rules {
		if rl.SensorID == sensorID {
			rules = append(rules, rl)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// GetRule returns ErrRuleNotFound for an unknown id.
func (r *Registry) GetRule(_ context.Context, id int64) (*Rule, error) {
	r.cacheMu.RLock()
	rl, ok := r.rules[id]
	r.cacheMu.RUnlock()
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &rl, nil
}

// CreateRule validates rl and its references, then persists it.
func (r *Registry) CreateRule(ctx context.Context, rl *Rule) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.checkRule(rl); err != nil {
		return err
	}
	if err := r.repo.CreateRule(ctx, rl); err != nil {
		return err
	}
	r.cacheMu.Lock()
	r.rules[rl.ID] = *rl
	r.cacheMu.Unlock()

	r.logger.Info("rule created", "id", rl.ID, "name", rl.Name, "sensor_id", rl.SensorID, "actor_id", rl.ActorID)
	return nil
}

// UpdateRule replaces a whole rule.
func (r *Registry) UpdateRule(ctx context.Context, rl *Rule) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.checkRule(rl); err != nil {
		return err
	}
	if err := r.repo.UpdateRule(ctx, rl); err != nil {
		return err
	}
	r.cacheMu.Lock()
	if prev, ok := r.rules[rl.ID]; ok {
		rl.CreatedAt = prev.CreatedAt
	}
	r.rules[rl.ID] = *rl
	r.cacheMu.Unlock()

	r.logger.Info("rule updated", "id", rl.ID, "name", rl.Name)
	return nil
}

// DeleteRule removes a rule.
func (r *Registry) DeleteRule(ctx context.Context, id int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	r.cacheMu.Lock()
	delete(r.rules, id)
	r.cacheMu.Unlock()

	r.logger.Info("rule deleted", "id", id)
	return nil
}

func (r *Registry) checkRule(rl *Rule) error {
	if err := ValidateRule(rl); err != nil {
		return err
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	if _, ok := r.sensors[rl.SensorID]; !ok {
		return ErrSensorNotFound
	}
	if _, ok := r.actors[rl.ActorID]; !ok {
		return ErrActorNotFound
	}
	return nil
}

// ---- readings ----

// RecordReading appends a reading for a known sensor.
func (r *Registry) RecordReading(ctx context.Context, rd Reading) error {
	return r.repo.RecordReading(ctx, rd)
}

// ReadingsSince returns the sensor's readings from since onwards.
func (r *Registry) ReadingsSince(ctx context.Context, sensorID int64, since time.Time) ([]Reading, error) {
	if _, err := r.GetSensor(ctx, sensorID); err != nil {
		return nil, err
	}
	return r.repo.ReadingsSince(ctx, sensorID, since)
}

// LastReading returns the sensor's newest reading.
func (r *Registry) LastReading(ctx context.Context, sensorID int64) (*Reading, error) {
	if _, err := r.GetSensor(ctx, sensorID); err != nil {
		return nil, err
	}
	return r.repo.LastReading(ctx, sensorID)
}

// PruneReadings deletes readings older than before.
func (r *Registry) PruneReadings(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.repo.PruneReadings(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Debug("readings pruned", "count", n, "before", before)
	}
	return n, nil
}

// Counts returns the number of cached sensors, actors and rules.
func (r *Registry) Counts() (sensors, actors, rules int) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.sensors), len(r.actors), len(r.rules)
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
