// Package automation turns the hardware definitions into running work.
//
// The Engine keeps one scheduler chain per enabled sensor and per enabled
// actor, and reschedules them whenever the hardware registry reports a
// change:
//
//	┌──────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                  │
//	│                                                      │
//	│  sensor chain:  read ─▶ record ─▶ evaluate ─▶ drive  │
//	│  actor chain:   drive value ─▶ wait duration ─▶ off  │
//	│  control task:  wait delay ─▶ drive ─▶ wait ─▶ off   │
//	│                                                      │
//	│  Registry ──ChangeHandler──▶ Engine ──▶ Scheduler    │
//	└──────────────────────────────────────────────────────┘
//
// Every reading is persisted through the registry and fanned out to the
// optional MQTT publisher, time-series writer, WebSocket hub and metrics
// observer. A reading with no data (the device timed out) is recorded but
// never evaluated against rules.
//
// # Usage
//
//	engine := automation.NewEngine(automation.Config{
//	    StartupStagger: cfg.Scheduler.StartupStagger,
//	    OffTimeout:     cfg.Scheduler.OffTimeout,
//	}, sched, gw, registry, log)
//	registry.SetChangeHandler(engine)
//	engine.Start()
//	defer engine.Stop()
package automation
