package automation

import (
	"context"
	"math"

	"github.com/serialhome/serialhome-core/internal/hardware"
)

// evaluateRules maps a reading onto drive commands. A rule whose condition
// holds asks for its ActorValue, otherwise for 0. A NaN reading yields no
// commands.
func evaluateRules(value float64, rules []hardware.Rule) []Command {
	if math.IsNaN(value) || len(rules) == 0 {
		return nil
	}
	cmds := make([]Command, 0, len(rules))
	for _, r := range rules {
		cmd := Command{RuleID: r.ID, ActorID: r.ActorID}
		if r.Comparison.Holds(value, r.Threshold) {
			cmd.Value = r.ActorValue
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// Evaluator resolves rule commands against the current actor set.
type Evaluator struct {
	actors ActorLookup
	logger Logger
}

// NewEvaluator creates an evaluator. logger may be nil.
func NewEvaluator(actors ActorLookup, logger Logger) *Evaluator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Evaluator{actors: actors, logger: logger}
}

// Evaluate returns the actors to drive for value. Commands whose actor no
// longer exists are skipped with a warning.
func (ev *Evaluator) Evaluate(ctx context.Context, value float64, rules []hardware.Rule) []Target {
	cmds := evaluateRules(value, rules)
	if len(cmds) == 0 {
		return nil
	}

	targets := make([]Target, 0, len(cmds))
	for _, cmd := range cmds {
		actor, err := ev.actors.GetActor(ctx, cmd.ActorID)
		if err != nil {
			ev.logger.Warn("rule target unavailable, skipping",
				"rule_id", cmd.RuleID,
				"actor_id", cmd.ActorID,
				"error", err,
			)
			continue
		}
		targets = append(targets, Target{RuleID: cmd.RuleID, Actor: *actor, Value: cmd.Value})
	}
	return targets
}
