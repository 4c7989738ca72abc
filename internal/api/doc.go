// Package api implements the HTTP REST API and WebSocket feed for SerialHome
// Core.
//
// Routes, all under /api/v1 except /metrics:
//
//	GET    /health                      component health, 503 when degraded
//	GET    /system                      runtime, registry, scheduler and serial counters
//	GET    /sensors                     list / POST create
//	GET    /sensors/{id}                get / PUT replace / DELETE (readings and rules too)
//	GET    /sensors/{id}/readings       ?minutes=N window, oldest first
//	GET    /sensors/{id}/readings/latest
//	POST   /sensors/{id}/poll           read now, no rule evaluation
//	GET    /actors                      list / POST create
//	GET    /actors/{id}                 get / PUT replace / DELETE
//	POST   /actors/{id}/control         {value, delay_s, duration_s}, 202 + request_id
//	GET    /rules                       ?sensor_id=N / POST create
//	GET    /rules/{id}                  get / PUT replace / DELETE
//	GET    /scheduler/tasks             live task handles
//	GET    /ws                          sensor.reading and actor.actuated events
//	GET    /metrics                     Prometheus exposition
//
// Sensor and actor mutations go through hardware.Registry, whose change
// handler reschedules the affected task; the API never touches the
// scheduler directly.
package api
