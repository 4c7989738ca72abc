package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/serialhome/serialhome-core/internal/hardware"
	"github.com/serialhome/serialhome-core/internal/scheduler"
)

const (
	defaultOffTimeout = 5 * time.Second

	// Maintenance task ids.
	bootTaskID      = 1
	retentionTaskID = 2
)

// Config holds engine settings.
type Config struct {
	// StartupStagger is the pause between successive task start-ups at boot.
	StartupStagger time.Duration

	// OffTimeout bounds the off command sent when a task is cancelled while
	// its actor is driven.
	OffTimeout time.Duration

	// Retention is how long readings are kept; 0 disables pruning.
	Retention time.Duration

	// PruneInterval is how often old readings are pruned.
	PruneInterval time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// Engine runs sensor polling, actor duty cycles and control pulses on a
// scheduler, and keeps them in step with registry changes.
//
// Thread Safety: all methods are safe for concurrent use. Optional sinks
// (SetPublisher, SetTimeSeries, SetHub, SetObserver) must be installed
// before Start.
type Engine struct {
	cfg       Config
	clock     clockwork.Clock
	sched     *scheduler.Scheduler
	gw        Gateway
	reg       Registry
	evaluator *Evaluator
	logger    Logger

	publisher  Publisher
	timeSeries TimeSeries
	hub        WSHub
	observer   Observer

	// scheduleMu orders boot start-ups against change notifications so a
	// stale definition is never scheduled over a fresher one.
	scheduleMu sync.Mutex
}

// NewEngine creates an engine. logger may be nil.
func NewEngine(cfg Config, sched *scheduler.Scheduler, gw Gateway, reg Registry, logger Logger) *Engine {
	if cfg.OffTimeout <= 0 {
		cfg.OffTimeout = defaultOffTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		cfg:       cfg,
		clock:     cfg.Clock,
		sched:     sched,
		gw:        gw,
		reg:       reg,
		evaluator: NewEvaluator(reg, logger),
		logger:    logger,
	}
}

// SetPublisher installs the MQTT publisher.
func (e *Engine) SetPublisher(p Publisher) { e.publisher = p }

// SetTimeSeries installs the time-series writer.
func (e *Engine) SetTimeSeries(ts TimeSeries) { e.timeSeries = ts }

// SetHub installs the WebSocket hub.
func (e *Engine) SetHub(h WSHub) { e.hub = h }

// SetObserver installs the metrics observer.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Start launches the engine's maintenance tasks and returns immediately.
//
// The start-up sequence:
//  1. A single-shot boot task schedules every enabled sensor, then every
//     enabled actor, pausing StartupStagger between start-ups
//  2. When Retention and PruneInterval are set, a recurring task prunes
//     readings older than Retention
//
// Registry changes arriving during boot are applied immediately; boot
// re-reads each entity before scheduling it.
//
// Returns:
//   - error: ErrStopped if the scheduler has already been stopped
func (e *Engine) Start() error {
	if !e.sched.Launch(scheduler.Key{Kind: scheduler.KindMaintenance, ID: bootTaskID}, e.boot) {
		return ErrStopped
	}
	if e.cfg.Retention > 0 && e.cfg.PruneInterval > 0 {
		e.sched.Schedule(scheduler.Key{Kind: scheduler.KindMaintenance, ID: retentionTaskID}, e.cfg.PruneInterval, e.prune)
	}
	return nil
}

// Stop cancels every task and waits for them to exit.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// Tasks lists the live scheduler handles.
func (e *Engine) Tasks() []scheduler.TaskInfo {
	return e.sched.Tasks()
}

func (e *Engine) boot(ctx context.Context) error {
	sensors, err := e.reg.EnabledSensors(ctx)
	if err != nil {
		return fmt.Errorf("listing sensors: %w", err)
	}
	actors, err := e.reg.EnabledActors(ctx)
	if err != nil {
		return fmt.Errorf("listing actors: %w", err)
	}

	e.logger.Info("starting tasks",
		"sensors", len(sensors),
		"actors", len(actors),
		"stagger", e.cfg.StartupStagger,
	)

	started := 0
	pause := func() bool {
		started++
		if started == 1 || e.cfg.StartupStagger <= 0 {
			return ctx.Err() == nil
		}
		return e.sleep(ctx, e.cfg.StartupStagger)
	}

	for _, s := range sensors {
		if !pause() {
			return ctx.Err()
		}
		e.startSensor(ctx, s.ID)
	}
	for _, a := range actors {
		if !pause() {
			return ctx.Err()
		}
		e.startActor(ctx, a.ID)
	}

	e.logger.Info("all tasks started")
	return nil
}

// startSensor schedules the current definition of a sensor at boot.
func (e *Engine) startSensor(ctx context.Context, id int64) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()

	s, err := e.reg.GetSensor(ctx, id)
	if err != nil {
		// removed since the boot listing
		return
	}
	e.scheduleSensor(*s)
}

// startActor schedules the current definition of an actor at boot.
func (e *Engine) startActor(ctx context.Context, id int64) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()

	a, err := e.reg.GetActor(ctx, id)
	if err != nil {
		return
	}
	e.scheduleActor(*a)
}

func (e *Engine) scheduleSensor(s hardware.Sensor) {
	key := scheduler.Key{Kind: scheduler.KindSensor, ID: s.ID}
	if !s.Enabled() {
		e.sched.Cancel(key)
		return
	}
	e.sched.Schedule(key, s.Interval(), func(ctx context.Context) error {
		return e.pollSensor(ctx, s)
	})
}

func (e *Engine) scheduleActor(a hardware.Actor) {
	key := scheduler.Key{Kind: scheduler.KindActor, ID: a.ID}
	if !a.Enabled() {
		e.sched.Cancel(key)
		return
	}
	e.sched.Schedule(key, a.Interval(), func(ctx context.Context) error {
		return e.runCycle(ctx, a)
	})
}

// SensorChanged implements hardware.ChangeHandler.
func (e *Engine) SensorChanged(s hardware.Sensor) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()
	e.scheduleSensor(s)
}

// SensorRemoved implements hardware.ChangeHandler.
func (e *Engine) SensorRemoved(id int64) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()
	e.sched.Cancel(scheduler.Key{Kind: scheduler.KindSensor, ID: id})
}

// ActorChanged implements hardware.ChangeHandler.
func (e *Engine) ActorChanged(a hardware.Actor) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()
	e.scheduleActor(a)
}

// ActorRemoved implements hardware.ChangeHandler.
func (e *Engine) ActorRemoved(id int64) {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()
	e.sched.Cancel(scheduler.Key{Kind: scheduler.KindActor, ID: id})
}

// pollSensor is one sensor cycle: read, record, evaluate rules, drive.
func (e *Engine) pollSensor(ctx context.Context, s hardware.Sensor) error {
	rd, err := e.sample(ctx, s)
	if err != nil {
		return err
	}
	if rd.NoData() {
		return nil
	}

	rules, err := e.reg.RulesForSensor(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("loading rules for sensor %d: %w", s.ID, err)
	}

	var errs []error
	for _, t := range e.evaluator.Evaluate(ctx, rd.Value, rules) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.drive(ctx, t.Actor, t.Value, hardware.SourceRule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", t.RuleID, err))
		}
	}
	return errors.Join(errs...)
}

// PollNow reads and records a sensor outside its schedule. Rules are not
// evaluated.
func (e *Engine) PollNow(ctx context.Context, sensorID int64) (hardware.Reading, error) {
	s, err := e.reg.GetSensor(ctx, sensorID)
	if err != nil {
		return hardware.Reading{}, err
	}
	return e.sample(ctx, *s)
}

// sample reads a sensor and records the result. A timed-out read is
// recorded as a no-data reading; a transport failure records nothing.
func (e *Engine) sample(ctx context.Context, s hardware.Sensor) (hardware.Reading, error) {
	value, err := e.gw.ReadSensor(ctx, addressOf(s.Channel, s.Pin))
	if err != nil {
		return hardware.Reading{}, fmt.Errorf("reading sensor %d: %w", s.ID, err)
	}

	rd := hardware.Reading{SensorID: s.ID, Timestamp: e.clock.Now().UTC(), Value: value}
	if err := e.reg.RecordReading(ctx, rd); err != nil {
		e.logger.Error("failed to record reading", "sensor_id", s.ID, "error", err)
	}

	if rd.NoData() {
		e.logger.Warn("sensor did not answer", "sensor_id", s.ID, "name", s.Name)
	} else {
		e.logger.Debug("sensor read", "sensor_id", s.ID, "value", rd.Value)
	}
	e.fanOutReading(rd)
	return rd, nil
}

// Control starts a single-shot pulse on an actor and returns its request id.
func (e *Engine) Control(ctx context.Context, actorID int64, req PulseRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	a, err := e.reg.GetActor(ctx, actorID)
	if err != nil {
		return "", err
	}

	requestID := uuid.NewString()
	actor := *a
	launched := e.sched.Launch(e.sched.NextControlKey(), func(ctx context.Context) error {
		return e.runPulse(ctx, actor, req)
	})
	if !launched {
		return "", ErrStopped
	}

	e.logger.Info("control pulse started",
		"request_id", requestID,
		"actor_id", actorID,
		"value", req.Value,
		"delay", req.Delay,
		"duration", req.Duration,
	)
	return requestID, nil
}

func (e *Engine) prune(ctx context.Context) error {
	before := e.clock.Now().Add(-e.cfg.Retention)
	n, err := e.reg.PruneReadings(ctx, before)
	if err != nil {
		return fmt.Errorf("pruning readings: %w", err)
	}
	if n > 0 {
		e.logger.Info("pruned old readings", "count", n, "before", before)
	}
	return nil
}

func (e *Engine) fanOutReading(rd hardware.Reading) {
	if e.observer != nil {
		e.observer.ObserveReading(rd.NoData())
	}
	if e.timeSeries != nil {
		e.timeSeries.WriteReading(rd)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishReading(rd); err != nil {
			e.logger.Warn("failed to publish reading", "sensor_id", rd.SensorID, "error", err)
		}
	}
	if e.hub != nil {
		e.hub.Broadcast(EventSensorReading, rd)
	}
}

func (e *Engine) fanOutActuation(act hardware.Actuation) {
	if e.observer != nil {
		e.observer.ObserveActuation(act.Source)
	}
	if e.timeSeries != nil {
		e.timeSeries.WriteActuation(act)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishActuation(act); err != nil {
			e.logger.Warn("failed to publish actuation", "actor_id", act.ActorID, "error", err)
		}
	}
	if e.hub != nil {
		e.hub.Broadcast(EventActorActuated, act)
	}
}
