package api

import (
	"errors"
	"net/http"

	"github.com/serialhome/serialhome-core/internal/automation"
	"github.com/serialhome/serialhome-core/internal/hardware"
)

// actorRequest is the writable part of an actor. Value and duration default
// to 0.
type actorRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Channel     int    `json:"channel"`
	Pin         int    `json:"pin"`
	IntervalSec int    `json:"interval_sec"`
	Value       int    `json:"value"`
	DurationSec int    `json:"duration_sec"`
}

func (req actorRequest) apply(a *hardware.Actor) {
	a.Name = req.Name
	a.Description = req.Description
	a.Channel = req.Channel
	a.Pin = req.Pin
	a.IntervalSec = req.IntervalSec
	a.Value = req.Value
	a.DurationSec = req.DurationSec
}

// controlRequest starts a single-shot pulse: wait delay_s, drive value, and
// drive 0 again after duration_s when it is positive.
type controlRequest struct {
	Value       int     `json:"value"`
	DelaySec    float64 `json:"delay_s"`
	DurationSec float64 `json:"duration_s"`
}

func (s *Server) handleListActors(w http.ResponseWriter, r *http.Request) {
	actors, err := s.registry.ListActors(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list actors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actors": actors, "count": len(actors)})
}

func (s *Server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid actor id")
		return
	}
	actor, err := s.registry.GetActor(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get actor")
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var actor hardware.Actor
	req.apply(&actor)
	if err := s.registry.CreateActor(r.Context(), &actor); err != nil {
		s.writeRegistryError(w, err, "failed to create actor")
		return
	}
	writeJSON(w, http.StatusCreated, actor)
}

// handleUpdateActor replaces an actor definition. A running duty cycle is
// restarted with the new settings.
func (s *Server) handleUpdateActor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid actor id")
		return
	}
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	existing, err := s.registry.GetActor(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get actor")
		return
	}
	req.apply(existing)
	if err := s.registry.UpdateActor(r.Context(), existing); err != nil {
		s.writeRegistryError(w, err, "failed to update actor")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteActor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid actor id")
		return
	}
	if err := s.registry.DeleteActor(r.Context(), id); err != nil {
		s.writeRegistryError(w, err, "failed to delete actor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleControlActor schedules a pulse and answers 202 with its request id.
func (s *Server) handleControlActor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid actor id")
		return
	}
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	pulse, err := automation.NewPulseRequest(req.Value, req.DelaySec, req.DurationSec)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	reqID, err := s.engine.Control(r.Context(), id, pulse)
	switch {
	case errors.Is(err, automation.ErrInvalidPulse):
		writeValidationError(w, err.Error())
		return
	case errors.Is(err, automation.ErrStopped):
		writeUnavailable(w, "scheduler stopped")
		return
	case err != nil:
		s.writeRegistryError(w, err, "failed to start control")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": reqID,
		"actor_id":   id,
		"value":      req.Value,
		"delay_s":    req.DelaySec,
		"duration_s": req.DurationSec,
	})
}
