package agent

import (
	"context"
	"fmt"

	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

// ValidationResult compares the state a plan expected with the one observed.
type ValidationResult struct {
	Success    bool
	Expected   flow.State
	Actual     flow.State
	Confidence float64
	Message    string
	Kind       FailureKind
}

// Validate re-reads the page after result and checks the observed state
// against the plan's expectation with flow.IsValidProgression.
func (a *Agent) Validate(ctx context.Context, result ExecutionResult) ValidationResult {
	expected, ok := result.Plan.ExpectedState()
	if !ok {
		expected = flow.Unknown
	}
	val := ValidationResult{Expected: expected, Actual: flow.Unknown}
	if !result.Success {
		val.Kind = KindAllStrategiesFailed
		val.Message = "nothing to validate: execution failed"
		return val
	}

	url, err := a.browser.URL(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("validate: read url")
	}
	text, err := a.browser.TextContent(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("validate: read text")
	}

	reason := "no heuristic attached"
	if a.heuristic != nil {
		val.Actual, val.Confidence, reason = a.heuristic.Interpret(url, text)
	}

	val.Success = flow.IsValidProgression(expected, val.Actual)
	if val.Success {
		val.Message = fmt.Sprintf("reached %s (expected %s): %s", val.Actual, expected, reason)
		a.log.Info().Str("expected", string(expected)).Str("actual", string(val.Actual)).Msg("validation passed")
		return val
	}

	val.Kind = KindStateMismatch
	val.Message = fmt.Sprintf("expected %s but observed %s (confidence %.2f): %s", expected, val.Actual, val.Confidence, reason)
	strategy := ""
	if result.StrategyUsed != nil {
		strategy = result.StrategyUsed.Describe()
	}
	a.recordError(string(KindStateMismatch), val.Message, strategy)
	a.log.Warn().Str("expected", string(expected)).Str("actual", string(val.Actual)).Msg("validation failed")
	return val
}
