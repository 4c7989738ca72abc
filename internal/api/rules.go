package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/serialhome/serialhome-core/internal/hardware"
)

type ruleRequest struct {
	Name       string              `json:"name"`
	SensorID   int64               `json:"sensor_id"`
	Threshold  float64             `json:"threshold"`
	Comparison hardware.Comparison `json:"comparison"`
	ActorID    int64               `json:"actor_id"`
	ActorValue int                 `json:"actor_value"`
}

func (req ruleRequest) apply(rl *hardware.Rule) {
	rl.Name = req.Name
	rl.SensorID = req.SensorID
	rl.Threshold = req.Threshold
	rl.Comparison = req.Comparison
	rl.ActorID = req.ActorID
	rl.ActorValue = req.ActorValue
}

// handleListRules returns all rules, or those of ?sensor_id=N.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		rules []hardware.Rule
		err   error
	)
	if v := r.URL.Query().Get("sensor_id"); v != "" {
		sensorID, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || sensorID <= 0 {
			writeBadRequest(w, "invalid sensor_id")
			return
		}
		rules, err = s.registry.RulesForSensor(ctx, sensorID)
	} else {
		rules, err = s.registry.ListRules(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []hardware.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid rule id")
		return
	}
	rl, err := s.registry.GetRule(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var rl hardware.Rule
	req.apply(&rl)
	if err := s.registry.CreateRule(r.Context(), &rl); err != nil {
		s.writeRuleError(w, err, "failed to create rule")
		return
	}
	writeJSON(w, http.StatusCreated, rl)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid rule id")
		return
	}
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	existing, err := s.registry.GetRule(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to get rule")
		return
	}
	req.apply(existing)
	if err := s.registry.UpdateRule(r.Context(), existing); err != nil {
		s.writeRuleError(w, err, "failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeBadRequest(w, "invalid rule id")
		return
	}
	if err := s.registry.DeleteRule(r.Context(), id); err != nil {
		s.writeRegistryError(w, err, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRuleError reports a dangling sensor or actor reference in the body as
// a validation error rather than a missing resource.
func (s *Server) writeRuleError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, hardware.ErrSensorNotFound):
		writeValidationError(w, "sensor_id does not reference a sensor")
	case errors.Is(err, hardware.ErrActorNotFound):
		writeValidationError(w, "actor_id does not reference an actor")
	default:
		s.writeRegistryError(w, err, fallback)
	}
}
