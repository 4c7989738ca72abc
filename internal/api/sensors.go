package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/serialhome/serialhome-core/internal/gateway"
	"github.com/serialhome/serialhome-core/internal/hardware"
)

const (
	defaultReadingsMinutes = 60
	maxReadingsMinutes     = 60 * 24 * 31
)

// sensorRequest is the writable part of a sensor.
type sensorRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Channel     int    `json:"channel"`
	Pin         int    `json:"pin"`
	IntervalSec int    `json:"interval_sec"`
}

func (req sensorRequest) apply(s *hardware.Sensor) {
	s.Name = req.Name
	s.Description = req.Description
	s.Channel = req.Channel
	s.Pin = req.Pin
	s.IntervalSec = req.IntervalSec
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.registry.ListSensors(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list sensors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors, "count": len(sensors)})
}

func (s *Server) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}
	sensor, err := s.registry.GetSensor(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get sensor")
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// handleCreateSensor creates a sensor. A positive interval_sec starts
// polling immediately.
func (s *Server) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var sensor hardware.Sensor
	req.apply(&sensor)
	if err := s.registry.CreateSensor(r.Context(), &sensor); err != nil {
		s.writeRegistryError(w, err, "failed to create sensor")
		return
	}
	writeJSON(w, http.StatusCreated, sensor)
}

// handleUpdateSensor replaces a sensor definition and reschedules it.
func (s *Server) handleUpdateSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}
	var req sensorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	existing, err := s.registry.GetSensor(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get sensor")
		return
	}
	req.apply(existing)
	if err := s.registry.UpdateSensor(r.Context(), existing); err != nil {
		s.writeRegistryError(w, err, "failed to update sensor")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteSensor removes a sensor with its readings and rules.
func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}
	if err := s.registry.DeleteSensor(r.Context(), id); err != nil {
		s.writeRegistryError(w, err, "failed to delete sensor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListReadings returns the readings of the last ?minutes=N minutes,
// oldest first. No-data readings carry a null value.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}

	minutes := defaultReadingsMinutes
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxReadingsMinutes {
			writeBadRequest(w, "minutes must be a positive integer no larger than "+strconv.Itoa(maxReadingsMinutes))
			return
		}
		minutes = n
	}

	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	readings, err := s.registry.ReadingsSince(r.Context(), id, since)
	if err != nil {
		s.writeRegistryError(w, err, "failed to load readings")
		return
	}
	if readings == nil {
		readings = []hardware.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sensor_id": id,
		"minutes":   minutes,
		"readings":  readings,
		"count":     len(readings),
	})
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}
	rd, err := s.registry.LastReading(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to load reading")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// handlePollSensor reads a sensor now and records the result. Rules are not
// evaluated.
func (s *Server) handlePollSensor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid sensor id")
		return
	}
	rd, err := s.engine.PollNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, gateway.ErrPortUnavailable) || errors.Is(err, gateway.ErrTransport) || errors.Is(err, gateway.ErrClosed) {
			s.logger.Warn("on-demand poll failed", "sensor_id", id, "error", err)
			writeUnavailable(w, "serial link unavailable")
			return
		}
		s.writeRegistryError(w, err, "failed to poll sensor")
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// writeRegistryError maps hardware errors onto HTTP responses.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, hardware.ErrSensorNotFound):
		writeNotFound(w, "sensor not found")
	case errors.Is(err, hardware.ErrActorNotFound):
		writeNotFound(w, "actor not found")
	case errors.Is(err, hardware.ErrRuleNotFound):
		writeNotFound(w, "rule not found")
	case errors.Is(err, hardware.ErrNoReadings):
		writeNotFound(w, "no readings")
	case errors.Is(err, hardware.ErrRuleExists):
		writeConflict(w, "rule name already exists")
	case errors.Is(err, hardware.ErrInvalidSensor),
		errors.Is(err, hardware.ErrInvalidActor),
		errors.Is(err, hardware.ErrInvalidRule):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
