package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/snapshot"
)

// Failure is what went wrong in the previous attempt.
type Failure struct {
	Execution  ExecutionResult
	Validation *ValidationResult
	// Tried holds every strategy attempted so far for this state.
	Tried []action.Strategy
}

// SelfCorrect asks the planner for a new plan for state that avoids every
// strategy in failure.Tried and moves to a targeting method not yet used.
func (a *Agent) SelfCorrect(ctx context.Context, state flow.State, sum snapshot.Summary, failure Failure, attempt int) (action.Plan, error) {
	if a.planner == nil {
		return action.Plan{}, ErrNoPlanner
	}
	goal := a.goalText(state, a.cfg.Mode == ModeStep)
	prompt := correctionPrompt(failure, attempt, a.cfg.MaxRetries)
	a.log.Debug().Int("attempt", attempt).Str("state", string(state)).Msg("self-correcting")
	return a.planner.PlanAction(ctx, sum, goal, prompt)
}

func correctionPrompt(f Failure, attempt, maxRetries int) string {
	var b strings.Builder
	plan := f.Execution.Plan
	fmt.Fprintf(&b, "Attempt %d of %d. The previous attempt failed.\n", attempt, maxRetries)
	fmt.Fprintf(&b, "Failed action: %s targeting %s", plan.ActionType(), plan.Primary().Describe())
	if plan.Value() != "" {
		fmt.Fprintf(&b, " with value %q", plan.Value())
	}
	b.WriteString("\n")
	if used := f.Execution.StrategyUsed; used != nil {
		fmt.Fprintf(&b, "Strategy used: %s. The action ran but the page did not move on as expected.\n", used.Describe())
	} else if f.Execution.Error != "" {
		fmt.Fprintf(&b, "Strategy used: none (%s).\n", f.Execution.Error)
	}
	if v := f.Validation; v != nil && !v.Success {
		fmt.Fprintf(&b, "Validation: %s\n", v.Message)
	}

	tried := f.Tried
	if len(tried) == 0 {
		tried = f.Execution.Tried()
	}
	used := map[action.Method]bool{}
	if len(tried) > 0 {
		b.WriteString("Previously attempted strategies (do NOT repeat any of them):\n")
		seen := map[string]bool{}
		for _, s := range tried {
			used[s.Method()] = true
			d := s.Describe()
			if seen[d] {
				continue
			}
			seen[d] = true
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	var usedNames []string
	next := action.Method("")
	for _, m := range action.Escalation {
		if used[m] {
			usedNames = append(usedNames, string(m))
		} else if next == "" {
			next = m
		}
	}
	order := make([]string, 0, len(action.Escalation))
	for _, m := range action.Escalation {
		order = append(order, string(m))
	}
	if len(usedNames) > 0 {
		fmt.Fprintf(&b, "Methods already used: %s.\n", strings.Join(usedNames, ", "))
	}
	fmt.Fprintf(&b, "Pick a DIFFERENT targeting method, escalating in this order: %s.\n", strings.Join(order, " -> "))
	if next != "" {
		fmt.Fprintf(&b, "Use %s for primary_target.", next)
	} else {
		b.WriteString("Every method has been used; use coordinates at the centre of a different element's bounding box.")
	}
	return b.String()
}
