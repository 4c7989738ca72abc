package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// firings returns a body that reports the fake-clock offset of each run.
func firings(clock clockwork.Clock) (Body, <-chan time.Duration) {
	ch := make(chan time.Duration, 16)
	return func(context.Context) error {
		ch <- clock.Since(epoch)
		return nil
	}, ch
}

func expectFire(t *testing.T, ch <-chan time.Duration, want time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("fired at %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no firing, want one at %v", want)
	}
}

func expectSilence(t *testing.T, ch <-chan time.Duration) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected firing at %v", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSchedule_RunsThenRearms(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	body, fired := firings(clock)
	if !s.Schedule(Key{KindSensor, 1}, 10*time.Second, body) {
		t.Fatal("Schedule() = false, want true")
	}

	expectFire(t, fired, 0)
	for _, at := range []time.Duration{10 * time.Second, 20 * time.Second} {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		expectFire(t, fired, at)
	}
}

func TestSchedule_SlowBodyDelaysNextCycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	fired := make(chan time.Duration, 4)
	body := func(ctx context.Context) error {
		fired <- clock.Since(epoch)
		// the body itself takes 7s
		select {
		case <-clock.After(7 * time.Second):
		case <-ctx.Done():
		}
		return nil
	}
	s.Schedule(Key{KindActor, 3}, 10*time.Second, body)

	expectFire(t, fired, 0)
	clock.BlockUntil(1)
	clock.Advance(7 * time.Second)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	expectFire(t, fired, 17*time.Second)
}

func TestSchedule_ReplaceKeepsSingleChain(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	key := Key{KindSensor, 7}
	body, fired := firings(clock)

	s.Schedule(key, 5*time.Second, body)
	expectFire(t, fired, 0)
	clock.BlockUntil(1)

	s.Schedule(key, 10*time.Second, body)
	expectFire(t, fired, 0)
	clock.BlockUntil(1)

	if n := s.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	if tasks := s.Tasks(); tasks[0].Interval != 10*time.Second {
		t.Fatalf("Interval = %v, want 10s", tasks[0].Interval)
	}

	clock.Advance(5 * time.Second)
	expectSilence(t, fired)
	clock.Advance(5 * time.Second)
	expectFire(t, fired, 10*time.Second)

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)
	expectSilence(t, fired)
	clock.Advance(5 * time.Second)
	expectFire(t, fired, 20*time.Second)
}

func TestSchedule_ReplacementWaitsForPreviousChain(t *testing.T) {
	s := New(clockwork.NewFakeClockAt(epoch))
	defer s.Stop()

	key := Key{KindActor, 1}
	release := make(chan struct{})
	oldRunning := make(chan struct{})
	var oldDone atomic.Bool

	s.Schedule(key, time.Minute, func(ctx context.Context) error {
		close(oldRunning)
		<-ctx.Done()
		<-release // e.g. an off command still in flight
		oldDone.Store(true)
		return nil
	})
	<-oldRunning

	newRan := make(chan bool, 1)
	s.Schedule(key, time.Minute, func(context.Context) error {
		newRan <- oldDone.Load()
		return nil
	})

	select {
	case <-newRan:
		t.Fatal("replacement ran while the previous chain was still exiting")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case sawOldDone := <-newRan:
		if !sawOldDone {
			t.Error("replacement started before the previous body returned")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replacement never ran")
	}
}

func TestSchedule_AfterCancelWaitsForCancelledChain(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(s *Scheduler, key Key)
	}{
		{"cancel", func(s *Scheduler, key Key) { s.Cancel(key) }},
		{"zero interval", func(s *Scheduler, key Key) { s.Schedule(key, 0, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(clockwork.NewFakeClockAt(epoch))
			defer s.Stop()

			key := Key{KindActor, 7}
			release := make(chan struct{})
			oldRunning := make(chan struct{})
			var oldDone atomic.Bool

			s.Schedule(key, time.Minute, func(ctx context.Context) error {
				close(oldRunning)
				<-ctx.Done()
				<-release // off command still on the wire
				oldDone.Store(true)
				return nil
			})
			<-oldRunning

			tt.cancel(s, key)
			if s.Active(key) {
				t.Fatal("Active() = true after cancel")
			}

			newRan := make(chan bool, 1)
			if !s.Schedule(key, time.Minute, func(context.Context) error {
				newRan <- oldDone.Load()
				return nil
			}) {
				t.Fatal("Schedule() = false")
			}

			select {
			case <-newRan:
				t.Fatal("new chain ran while the cancelled chain was still running")
			case <-time.After(20 * time.Millisecond):
			}

			close(release)
			select {
			case sawOldDone := <-newRan:
				if !sawOldDone {
					t.Error("new chain started before the cancelled body returned")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("new chain never ran")
			}
		})
	}
}

func TestLaunch_AfterCancelWaitsForCancelledChain(t *testing.T) {
	s := New(clockwork.NewFakeClockAt(epoch))
	defer s.Stop()

	key := Key{KindActor, 8}
	release := make(chan struct{})
	oldRunning := make(chan struct{})

	s.Schedule(key, time.Minute, func(ctx context.Context) error {
		close(oldRunning)
		<-ctx.Done()
		<-release
		return nil
	})
	<-oldRunning
	s.Cancel(key)

	ran := make(chan struct{})
	s.Launch(key, func(context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
		t.Fatal("single-shot ran while the cancelled chain was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("single-shot never ran")
	}
}

func TestSchedule_ZeroIntervalOnlyCancels(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	key := Key{KindSensor, 2}
	body, fired := firings(clock)
	s.Schedule(key, time.Second, body)
	expectFire(t, fired, 0)

	if s.Schedule(key, 0, body) {
		t.Error("Schedule(0) = true, want false")
	}
	if s.Active(key) {
		t.Error("Active() = true after Schedule(0)")
	}
	clock.Advance(time.Hour)
	expectSilence(t, fired)
}

func TestCancel_Idempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	key := Key{KindActor, 9}
	body, fired := firings(clock)
	s.Schedule(key, time.Second, body)
	expectFire(t, fired, 0)

	if !s.Cancel(key) {
		t.Error("first Cancel() = false, want true")
	}
	if s.Cancel(key) {
		t.Error("second Cancel() = true, want false")
	}
	if s.Cancel(Key{KindSensor, 404}) {
		t.Error("Cancel() of unknown key = true")
	}

	clock.Advance(10 * time.Second)
	expectSilence(t, fired)
}

func TestLaunch_RunsOnceAndRemovesItself(t *testing.T) {
	s := New(clockwork.NewFakeClockAt(epoch))
	defer s.Stop()

	var runs atomic.Int32
	done := make(chan struct{})
	key := s.NextControlKey()
	if key.Kind != KindControl || key.ID != 1 {
		t.Fatalf("NextControlKey() = %v", key)
	}

	s.Launch(key, func(context.Context) error {
		runs.Add(1)
		close(done)
		return nil
	})
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for s.Active(key) {
		if time.Now().After(deadline) {
			t.Fatal("single-shot handle was not removed")
		}
		time.Sleep(time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if next := s.NextControlKey(); next.ID != 2 {
		t.Errorf("NextControlKey() = %v, want id 2", next)
	}
}

func TestRun_ErrorsAndPanicsKeepChainAlive(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	s := New(clock)
	defer s.Stop()

	key := Key{KindSensor, 5}
	var calls atomic.Int32
	ran := make(chan struct{}, 4)
	s.Schedule(key, time.Second, func(context.Context) error {
		defer func() { ran <- struct{}{} }()
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("port gone")
	})

	<-ran
	clock.BlockUntil(1)
	if info := s.Tasks()[0]; !strings.Contains(info.LastError, "panicked") {
		t.Errorf("LastError = %q, want panic recorded", info.LastError)
	}

	clock.Advance(time.Second)
	<-ran
	clock.BlockUntil(1)
	info := s.Tasks()[0]
	if info.Runs != 2 || info.LastError != "port gone" {
		t.Errorf("TaskInfo = %+v, want 2 runs and last error", info)
	}
}

func TestStop_WaitsForChains(t *testing.T) {
	s := New(clockwork.NewFakeClockAt(epoch))

	started := make(chan struct{})
	var exited atomic.Bool
	s.Schedule(Key{KindActor, 1}, time.Minute, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		exited.Store(true)
		return ctx.Err()
	})
	<-started

	s.Stop()
	if !exited.Load() {
		t.Error("Stop() returned before the running body exited")
	}
	if s.Len() != 0 {
		t.Errorf("Len() after Stop = %d", s.Len())
	}
	if s.Schedule(Key{KindActor, 2}, time.Second, func(context.Context) error { return nil }) {
		t.Error("Schedule() after Stop = true")
	}
	if s.Launch(Key{KindControl, 1}, func(context.Context) error { return nil }) {
		t.Error("Launch() after Stop = true")
	}
}

func TestSchedule_NoOverlapUnderChurn(t *testing.T) {
	s := New(clockwork.NewRealClock())

	keys := []Key{{KindSensor, 1}, {KindSensor, 2}, {KindActor, 1}}
	var inFlight [3]atomic.Int32
	var overlap atomic.Bool

	bodyFor := func(i int) Body {
		return func(ctx context.Context) error {
			if inFlight[i].Add(1) > 1 {
				overlap.Store(true)
			}
			defer inFlight[i].Add(-1)
			select {
			case <-time.After(200 * time.Microsecond):
			case <-ctx.Done():
			}
			return nil
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for n := 0; n < 200; n++ {
				i := rng.Intn(len(keys))
				switch rng.Intn(3) {
				case 0:
					s.Cancel(keys[i])
				case 1:
					s.Launch(keys[i], bodyFor(i))
				default:
					s.Schedule(keys[i], time.Millisecond, bodyFor(i))
				}
				if s.Len() > len(keys) {
					overlap.Store(true)
				}
			}
		}(int64(w))
	}
	wg.Wait()
	s.Stop()

	if overlap.Load() {
		t.Error("two bodies ran concurrently for the same key")
	}
}
