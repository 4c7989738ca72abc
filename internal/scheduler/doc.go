// Package scheduler runs the recurring and single-shot tasks that drive the
// hardware: one polling chain per enabled sensor, one duty-cycle chain per
// enabled actor, and transient control pulses.
//
// Tasks are keyed by (Kind, ID). The scheduler holds at most one live
// handle per key: Schedule and Launch cancel whatever is registered under
// the key before starting the replacement, and the replacement does not run
// its first body until the previous chain has exited. Two chains for the
// same entity can therefore never overlap.
//
// A recurring chain runs its body, then waits the interval, then repeats.
// A slow body delays the next cycle instead of overlapping it. Cancelling a
// handle cancels the context passed to the body and stops the wait.
//
// All waiting goes through an injected clockwork.Clock.
package scheduler
