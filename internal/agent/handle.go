package agent

import (
	"context"
	"errors"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

// HandleState runs perceive, plan, execute and validate for state, up to
// MaxRetries attempts. It returns the validated new state, or UNKNOWN when
// no attempt made progress. Only configuration problems and cancellation
// are returned as errors.
func (a *Agent) HandleState(ctx context.Context, state flow.State) (flow.State, error) {
	a.ClearHistory()
	goal := flow.GoalFor(state)
	log := a.log.With().Str("state", string(state)).Logger()

	var (
		// the execution that lastVal judged, kept together for self-correction
		lastValExec ExecutionResult
		lastVal     *ValidationResult
		tried       []action.Strategy
	)
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		sum, err := a.Perceive(ctx)
		if err != nil {
			return flow.Unknown, err
		}

		var plan action.Plan
		if attempt == 1 || lastVal == nil {
			plan, err = a.Plan(ctx, sum, goal.Description)
		} else {
			plan, err = a.SelfCorrect(ctx, state, sum, Failure{Execution: lastValExec, Validation: lastVal, Tried: tried}, attempt)
		}
		if errors.Is(err, ErrNoPlanner) {
			return flow.Unknown, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return flow.Unknown, ctx.Err()
			}
			a.recordError(string(KindPlanningFailed), err.Error(), "")
			log.Warn().Err(err).Int("attempt", attempt).Msg("planning failed")
			continue
		}
		if _, ok := plan.ExpectedState(); !ok {
			plan = plan.WithExpectedState(goal.Expected)
		}

		exec := a.Execute(ctx, plan)
		tried = append(tried, exec.Tried()...)
		if !exec.Success {
			if exec.Kind == KindCancelled {
				return flow.Unknown, ctx.Err()
			}
			log.Info().Int("attempt", attempt).Str("error", exec.Error).Msg("execution failed")
			continue
		}

		val := a.Validate(ctx, exec)
		if val.Success {
			log.Info().Int("attempt", attempt).Str("next", string(val.Actual)).Msg("state handled")
			return val.Actual, nil
		}
		lastVal, lastValExec = &val, exec
	}
	log.Warn().Int("attempts", a.cfg.MaxRetries).Msg("no progress")
	return flow.Unknown, nil
}
