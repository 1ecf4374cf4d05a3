package agent

import (
	"context"
	"errors"

	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/snapshot"
)

// Step is the single-shot variant of HandleState: detect the page state and,
// if it is still state, plan and execute one action without validating.
func (a *Agent) Step(ctx context.Context, state flow.State) (flow.State, error) {
	sum, err := a.Perceive(ctx)
	if err != nil {
		return state, err
	}
	detected, conf, reason := a.detectState(ctx, sum)
	a.log.Debug().Str("detected", string(detected)).Float64("confidence", conf).Str("reason", reason).Msg("state detected")
	if detected != flow.Unknown && detected != state {
		return detected, nil
	}

	plan, err := a.Plan(ctx, sum, a.goalText(state, true))
	if errors.Is(err, ErrNoPlanner) {
		return state, err
	}
	if err != nil {
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
		a.recordError(string(KindPlanningFailed), err.Error(), "")
		return state, nil
	}
	if _, ok := plan.ExpectedState(); !ok {
		plan = plan.WithExpectedState(flow.GoalFor(state).Expected)
	}
	if exec := a.Execute(ctx, plan); exec.Kind == KindCancelled {
		return state, ctx.Err()
	}
	return state, nil
}

// detectState asks the heuristic first. Below the confidence threshold a
// planner that can detect states is consulted too, and the more confident
// answer wins.
func (a *Agent) detectState(ctx context.Context, sum snapshot.Summary) (flow.State, float64, string) {
	state, conf, reason := flow.Unknown, 0.0, "no heuristic attached"
	if a.heuristic != nil {
		state, conf, reason = a.heuristic.Interpret(sum.URL, sum.VisibleText)
	}
	if conf >= a.cfg.HeuristicThreshold {
		return state, conf, reason
	}
	det, ok := a.planner.(StateDetector)
	if !ok {
		return state, conf, reason
	}
	pState, pConf, pReason, err := det.DetectState(ctx, sum)
	if err != nil {
		a.log.Debug().Err(err).Msg("planner state detection failed")
		return state, conf, reason
	}
	if pConf > conf {
		return pState, pConf, pReason
	}
	return state, conf, reason
}
