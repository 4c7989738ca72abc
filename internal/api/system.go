package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/serialhome/serialhome-core/internal/scheduler"
)

// SystemStatus is the /system snapshot.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeStatus   `json:"runtime"`
	WebSocket     WSStatus        `json:"websocket"`
	Registry      RegistryStatus  `json:"registry"`
	Scheduler     SchedulerStatus `json:"scheduler"`
	Serial        *SerialStatus   `json:"serial,omitempty"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStatus contains WebSocket hub statistics.
type WSStatus struct {
	ConnectedClients int `json:"connected_clients"`
}

// RegistryStatus counts the cached definitions.
type RegistryStatus struct {
	Sensors int `json:"sensors"`
	Actors  int `json:"actors"`
	Rules   int `json:"rules"`
}

// SchedulerStatus counts live task handles by kind.
type SchedulerStatus struct {
	Tasks  int                    `json:"tasks"`
	ByKind map[scheduler.Kind]int `json:"by_kind"`
}

// SerialStatus mirrors gateway.Stats.
type SerialStatus struct {
	PortOpen       bool   `json:"port_open"`
	Exchanges      uint64 `json:"exchanges"`
	NoData         uint64 `json:"no_data"`
	LinesDiscarded uint64 `json:"lines_discarded"`
	Errors         uint64 `json:"errors"`
	Reopens        uint64 `json:"reopens"`
	QueueDepth     int    `json:"queue_depth"`
	LastActivity   string `json:"last_activity,omitempty"`
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	tasks := s.engine.Tasks()
	byKind := make(map[scheduler.Kind]int)
	for _, t := range tasks {
		byKind[t.Key.Kind]++
	}
	sensors, actors, rules := s.registry.Counts()

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSStatus{ConnectedClients: s.hub.ClientCount()},
		Registry:  RegistryStatus{Sensors: sensors, Actors: actors, Rules: rules},
		Scheduler: SchedulerStatus{Tasks: len(tasks), ByKind: byKind},
	}

	if s.gateway != nil {
		st := s.gateway.Stats()
		status.Serial = &SerialStatus{
			PortOpen:       st.PortOpen,
			Exchanges:      st.Exchanges,
			NoData:         st.NoData,
			LinesDiscarded: st.LinesDiscarded,
			Errors:         st.Errors,
			Reopens:        st.Reopens,
			QueueDepth:     st.QueueDepth,
		}
		if !st.LastActivity.IsZero() {
			status.Serial.LastActivity = st.LastActivity.UTC().Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, status)
}

// handleListTasks lists the live scheduler handles.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.engine.Tasks()
	if tasks == nil {
		tasks = []scheduler.TaskInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}
