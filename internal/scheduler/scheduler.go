package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Kind is the category of entity a task belongs to.
type Kind string

const (
	KindSensor      Kind = "sensor"
	KindActor       Kind = "actor"
	KindControl     Kind = "control"
	KindMaintenance Kind = "maintenance"
)

// Key identifies a task handle.
type Key struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// Body is one run of a task. It should return promptly once ctx is done.
type Body func(ctx context.Context) error

// TaskInfo describes a live handle.
type TaskInfo struct {
	Key       Key           `json:"key"`
	Interval  time.Duration `json:"interval"`
	OneShot   bool          `json:"one_shot"`
	StartedAt time.Time     `json:"started_at"`
	Runs      uint64        `json:"runs"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Logger defines the logging interface used by the Scheduler.
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

type handle struct {
	key       Key
	interval  time.Duration
	oneShot   bool
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	runs atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

func (h *handle) info() TaskInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	ti := TaskInfo{
		Key:       h.key,
		Interval:  h.interval,
		OneShot:   h.oneShot,
		StartedAt: h.startedAt,
		Runs:      h.runs.Load(),
		LastRun:   h.lastRun,
	}
	if h.lastErr != nil {
		ti.LastError = h.lastErr.Error()
	}
	return ti
}

// Scheduler owns every task handle.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock  clockwork.Clock
	logger Logger

	root     context.Context
	stopRoot context.CancelFunc

	mu    sync.Mutex
	tasks map[Key]*handle
	// last is the most recently attached handle per key until its
	// goroutine exits. It outlives Cancel so that a later chain for the
	// same key still waits for the cancelled one.
	last    map[Key]*handle
	stopped bool

	wg  sync.WaitGroup
	seq atomic.Int64
}

// New creates a scheduler. A nil clock means the real clock.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    clock,
		logger:   noopLogger{},
		root:     root,
		stopRoot: cancel,
		tasks:    make(map[Key]*handle),
		last:     make(map[Key]*handle),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Schedule replaces the handle for key with a recurring chain.
//
// The chain runs body immediately and then again interval after each run
// returns, so a slow body delays the next run instead of overlapping it.
// The first run waits until every earlier chain for key has exited,
// including chains already removed by Cancel.
//
// Parameters:
//   - key: task identity; at most one live handle exists per key
//   - interval: period between runs; <= 0 only cancels the existing handle
//   - body: work for one run, called with the handle's context
//
// Returns:
//   - bool: true if a chain was started
func (s *Scheduler) Schedule(key Key, interval time.Duration, body Body) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := s.detach(key)
	if s.stopped || interval <= 0 {
		if replaced != nil {
			s.logger.Debug("task cancelled", "key", key.String())
		}
		return false
	}

	h, prev := s.attach(key, interval, false)
	s.wg.Add(1)
	go s.recurring(h, prev, body)

	s.logger.Debug("task scheduled", "key", key.String(), "interval", interval, "replaced", replaced != nil)
	return true
}

// Launch replaces the handle for key with a single-shot task. The handle
// removes itself when body returns.
func (s *Scheduler) Launch(key Key, body Body) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detach(key)
	if s.stopped {
		return false
	}

	h, prev := s.attach(key, 0, true)
	s.wg.Add(1)
	go s.once(h, prev, body)
	return true
}

// NextControlKey returns a fresh key for a single-shot control task.
func (s *Scheduler) NextControlKey() Key {
	return Key{Kind: KindControl, ID: s.seq.Add(1)}
}

// Cancel stops and discards the handle for key. It reports whether one
// existed; cancelling an unknown key is a no-op.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detach(key) != nil
}

// Active reports whether a handle is registered for key.
func (s *Scheduler) Active(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of live handles.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tasks returns a snapshot of the live handles ordered by kind and id.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.tasks))
	for _, h := range s.tasks {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key.Kind != infos[j].Key.Kind {
			return infos[i].Key.Kind < infos[j].Key.Kind
		}
		return infos[i].Key.ID < infos[j].Key.ID
	})
	return infos
}

// Stop cancels every handle and waits for all chains to exit. Later calls
// to Schedule and Launch do nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key := range s.tasks {
		s.detach(key)
	}
	s.mu.Unlock()

	s.stopRoot()
	s.wg.Wait()
}

// detach cancels and unregisters the handle for key. Caller holds s.mu.
func (s *Scheduler) detach(key Key) *handle {
	h, ok := s.tasks[key]
	if !ok {
		return nil
	}
	h.cancel()
	delete(s.tasks, key)
	return h
}

// attach registers a fresh handle and returns it together with the previous
// handle for key that has not exited yet, if any. Caller holds s.mu.
func (s *Scheduler) attach(key Key, interval time.Duration, oneShot bool) (*handle, *handle) {
	ctx, cancel := context.WithCancel(s.root)
	h := &handle{
		key:       key,
		interval:  interval,
		oneShot:   oneShot,
		startedAt: s.clock.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.tasks[key] = h
	prev := s.last[key]
	s.last[key] = h
	return h, prev
}

// release unregisters h and marks it exited. Each handle waits for its
// predecessor before exiting, so a closed done means every earlier chain
// for the key has exited too.
func (s *Scheduler) release(h *handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[h.key] == h {
		delete(s.tasks, h.key)
	}
	if s.last[h.key] == h {
		delete(s.last, h.key)
	}
	h.cancel()
	close(h.done)
}

// waitPrevious blocks until the previous chain has exited, even when h is
// cancelled meanwhile, so that chains for one key never overlap.
func waitPrevious(h, prev *handle) bool {
	if prev != nil {
		<-prev.done
	}
	return h.ctx.Err() == nil
}

func (s *Scheduler) recurring(h, prev *handle, body Body) {
	defer s.wg.Done()
	defer s.release(h)

	if !waitPrevious(h, prev) {
		return
	}

	for h.ctx.Err() == nil {
		s.run(h, body)
		if !s.wait(h.ctx, h.interval) {
			return
		}
	}
}

func (s *Scheduler) once(h, prev *handle, body Body) {
	defer s.wg.Done()
	defer s.release(h)

	if !waitPrevious(h, prev) {
		return
	}
	s.run(h, body)
}

// wait sleeps d on the scheduler clock; false means ctx ended first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (s *Scheduler) run(h *handle, body Body) {
	err := safeRun(h.ctx, body)
	h.runs.Add(1)

	h.mu.Lock()
	h.lastRun = s.clock.Now()
	h.lastErr = err
	h.mu.Unlock()

	if err != nil && h.ctx.Err() == nil {
		s.logger.Warn("task run failed", "key", h.key.String(), "error", err)
	}
}

func safeRun(ctx context.Context, body Body) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return body(ctx)
}
