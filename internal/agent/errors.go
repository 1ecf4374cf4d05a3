package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/polzovatel/cancel-flow-agent/internal/browser"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

var (
	// ErrNoPlanner is returned when an operation needs a planner and none is attached.
	ErrNoPlanner     = errors.New("no planner attached")
	ErrInvalidConfig = errors.New("invalid agent configuration")
)

// HumanInterventionError reports a checkpoint that cannot proceed without a
// person. It is the only error Run returns.
type HumanInterventionError struct {
	State  flow.State
	Reason string
}

func (e *HumanInterventionError) Error() string {
	return fmt.Sprintf("human intervention required at %s: %s", e.State, e.Reason)
}

// FailureKind tags why an execution or validation did not succeed.
type FailureKind string

const (
	KindNone                FailureKind = ""
	KindAllStrategiesFailed FailureKind = "AllStrategiesFailed"
	KindElementNotFound     FailureKind = "ElementNotFound"
	KindTransport           FailureKind = "Transport"
	KindUnsupported         FailureKind = "Unsupported"
	KindStateMismatch       FailureKind = "StateMismatch"
	KindPlanningFailed      FailureKind = "PlanningFailed"
	KindCancelled           FailureKind = "Cancelled"
)

// classify maps a browser error onto a FailureKind.
func classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, browser.ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, browser.ErrUnsupported):
		return KindUnsupported
	default:
		return KindTransport
	}
}
