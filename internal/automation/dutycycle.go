package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/serialhome/serialhome-core/internal/hardware"
)

// runCycle is one duty cycle of an actor: drive Value, and when the actor
// has a duration, drive 0 once it has elapsed. The scheduler supplies the
// pause between cycles.
func (e *Engine) runCycle(ctx context.Context, a hardware.Actor) error {
	if err := e.driveOn(ctx, a, a.Value, a.Duration(), hardware.SourceCycle); err != nil {
		return err
	}
	if a.Duration() <= 0 {
		return nil
	}
	if !e.sleep(ctx, a.Duration()) {
		e.forceOff(a, hardware.SourceCycle)
		return ctx.Err()
	}
	return e.drive(ctx, a, 0, hardware.SourceCycle)
}

// runPulse performs a single-shot control request.
func (e *Engine) runPulse(ctx context.Context, a hardware.Actor, req PulseRequest) error {
	if req.Delay > 0 && !e.sleep(ctx, req.Delay) {
		return ctx.Err()
	}
	if err := e.driveOn(ctx, a, req.Value, req.Duration, hardware.SourceControl); err != nil {
		return err
	}
	if req.Duration <= 0 {
		return nil
	}
	if !e.sleep(ctx, req.Duration) {
		e.forceOff(a, hardware.SourceControl)
		return ctx.Err()
	}
	return e.drive(ctx, a, 0, hardware.SourceControl)
}

// driveOn drives a to value. If the task is cancelled while that write is
// in flight the frame may already have reached the device, so an actor
// with an off phase is switched off before returning.
func (e *Engine) driveOn(ctx context.Context, a hardware.Actor, value int, duration time.Duration, source string) error {
	err := e.drive(ctx, a, value, source)
	if err != nil && ctx.Err() != nil && duration > 0 && value != 0 {
		e.forceOff(a, source)
	}
	return err
}

// forceOff drives a to 0 after its task was cancelled mid-drive. The task
// context is already done, so the command gets its own short deadline.
func (e *Engine) forceOff(a hardware.Actor, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OffTimeout)
	defer cancel()

	if err := e.drive(ctx, a, 0, source); err != nil {
		e.logger.Error("failed to switch off actor after cancellation",
			"actor_id", a.ID,
			"error", err,
		)
	}
}

// sleep waits d on the engine clock; false means ctx ended first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := e.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (e *Engine) drive(ctx context.Context, a hardware.Actor, value int, source string) error {
	ack, err := e.gw.WriteActor(ctx, addressOf(a.Channel, a.Pin), value)
	if err != nil {
		return fmt.Errorf("driving actor %d to %d: %w", a.ID, value, err)
	}

	act := hardware.Actuation{
		ActorID:   a.ID,
		Value:     value,
		Source:    source,
		Ack:       ack,
		Timestamp: e.clock.Now().UTC(),
	}
	e.logger.Debug("actor driven",
		"actor_id", a.ID,
		"value", value,
		"source", source,
		"ack", ack,
	)
	e.fanOutActuation(act)
	return nil
}
