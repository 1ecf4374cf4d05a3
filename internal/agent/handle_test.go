package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

var nonEmpty = mock.MatchedBy(func(s string) bool { return s != "" })

func TestHandleStateReturnsValidatedState(t *testing.T) {
	b := newFakeBrowser("bbox:css #cancel")
	h := new(mockHeuristic)
	h.sees(flow.RetentionOffer, 0.9)
	p := new(mockPlanner)
	goal := flow.GoalFor(flow.AccountActive).Description
	p.On("PlanAction", mock.Anything, mock.Anything, goal, "").Return(clickPlan(t, css("#cancel")), nil).Once()
	a := newTestAgent(t, testConfig(), b, WithPlanner(p), WithHeuristic(h))

	next, err := a.HandleState(context.Background(), flow.AccountActive)

	require.NoError(t, err)
	assert.Equal(t, flow.RetentionOffer, next)
	p.AssertExpectations(t)
}

func TestHandleStateSelfCorrectsOnAttemptsAfterTheFirst(t *testing.T) {
	b := newFakeBrowser("bbox:css #cancel", `bbox:text "Cancel membership"`)
	h := new(mockHeuristic)
	h.sees(flow.AccountActive, 0.9) // page never moves on
	p := new(mockPlanner)
	var corrections []string
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").
		Return(clickPlan(t, css("#cancel")), nil).Once()
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, nonEmpty).
		Run(func(args mock.Arguments) { corrections = append(corrections, args.String(3)) }).
		Return(clickPlan(t, text("Cancel membership")), nil).Twice()

	cfg := testConfig()
	cfg.MaxRetries = 3
	a := newTestAgent(t, cfg, b, WithPlanner(p), WithHeuristic(h))

	next, err := a.HandleState(context.Background(), flow.AccountActive)

	require.NoError(t, err)
	assert.Equal(t, flow.Unknown, next)
	p.AssertNumberOfCalls(t, "PlanAction", 3)
	p.AssertExpectations(t)
	require.Len(t, corrections, 2)
	assert.Contains(t, corrections[0], "css=#cancel")
	assert.Contains(t, corrections[0], "Use aria for primary_target")
	assert.Contains(t, corrections[1], `text="Cancel membership"`)
	assert.Contains(t, corrections[1], "css=#cancel", "every earlier strategy stays listed")
	assert.Len(t, a.History().Errors(), 3, "one state mismatch per attempt")
}

func TestHandleStateReplansWhenExecutionFails(t *testing.T) {
	b := newFakeBrowser()
	p := new(mockPlanner)
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").Return(clickPlan(t, css("#missing")), nil).Times(3)
	a := newTestAgent(t, testConfig(), b, WithPlanner(p), WithHeuristic(new(mockHeuristic)))

	next, err := a.HandleState(context.Background(), flow.RetentionOffer)

	require.NoError(t, err)
	assert.Equal(t, flow.Unknown, next)
	p.AssertExpectations(t)
	errs := a.History().Errors()
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, "AllStrategiesFailed", e.Type)
	}
}

func TestHandleStateStampsExpectedStateFromGoal(t *testing.T) {
	b := newFakeBrowser("bbox:css #decline")
	h := new(mockHeuristic)
	h.sees(flow.RetentionOffer, 0.9)
	p := new(mockPlanner)
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(clickPlan(t, css("#decline")), nil)
	cfg := testConfig()
	cfg.MaxRetries = 1
	a := newTestAgent(t, cfg, b, WithPlanner(p), WithHeuristic(h))

	// RETENTION_OFFER expects EXIT_SURVEY; staying put is not progress
	next, err := a.HandleState(context.Background(), flow.RetentionOffer)

	require.NoError(t, err)
	assert.Equal(t, flow.Unknown, next)
	errs := a.History().Errors()
	require.Len(t, errs, 1)
	assert.True(t, strings.Contains(errs[0].Message, "expected EXIT_SURVEY"), errs[0].Message)
}

func TestHandleStateKeepsGoingAfterPlanningErrors(t *testing.T) {
	b := newFakeBrowser("bbox:css #next")
	h := new(mockHeuristic)
	h.sees(flow.FinalConfirmation, 0.9)
	p := new(mockPlanner)
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").Return(action.Plan{}, errors.New("malformed")).Once()
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").Return(clickPlan(t, css("#next")), nil).Once()
	a := newTestAgent(t, testConfig(), b, WithPlanner(p), WithHeuristic(h))

	next, err := a.HandleState(context.Background(), flow.ExitSurvey)

	require.NoError(t, err)
	assert.Equal(t, flow.FinalConfirmation, next)
	assert.Equal(t, "PlanningFailed", a.History().Errors()[0].Type)
}

func TestHandleStateWithoutPlanner(t *testing.T) {
	a := newTestAgent(t, testConfig(), newFakeBrowser())

	_, err := a.HandleState(context.Background(), flow.AccountActive)

	assert.ErrorIs(t, err, ErrNoPlanner)
}

func TestHandleStateClearsSessionHistory(t *testing.T) {
	b := newFakeBrowser("bbox:css #x")
	h := new(mockHeuristic)
	h.sees(flow.ExitSurvey, 0.9)
	p := new(mockPlanner)
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(clickPlan(t, css("#x")), nil)
	a := newTestAgent(t, testConfig(), b, WithPlanner(p), WithHeuristic(h))
	a.recordError("Earlier", "from a previous state", "")

	_, err := a.HandleState(context.Background(), flow.RetentionOffer)

	require.NoError(t, err)
	assert.Empty(t, a.History().Errors())
	assert.Len(t, a.History().Actions(), 1)
	assert.Len(t, a.History().RunErrors(), 1, "run log keeps everything")
}

func TestHandleStateStartWithoutHeuristicPlansOnce(t *testing.T) {
	b := newFakeBrowser("bbox:css #account")
	p := new(mockPlanner)
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").Return(clickPlan(t, css("#account")), nil).Once()
	a := newTestAgent(t, testConfig(), b, WithPlanner(p))

	// nothing can classify the page, so UNKNOWN matches START's UNKNOWN expectation
	next, err := a.HandleState(context.Background(), flow.Start)

	require.NoError(t, err)
	assert.Equal(t, flow.Unknown, next)
	p.AssertNumberOfCalls(t, "PlanAction", 1)
	assert.Empty(t, a.History().Errors())
}

func TestHandleStateCorrectionPairsValidationWithItsExecution(t *testing.T) {
	b := newFakeBrowser("bbox:css #cancel")
	h := new(mockHeuristic)
	h.sees(flow.AccountActive, 0.9)
	p := new(mockPlanner)
	var corrections []string
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, "").
		Return(clickPlan(t, css("#cancel")), nil).Once()
	p.On("PlanAction", mock.Anything, mock.Anything, mock.Anything, nonEmpty).
		Run(func(args mock.Arguments) { corrections = append(corrections, args.String(3)) }).
		Return(clickPlan(t, css("#missing")), nil).Twice()
	a := newTestAgent(t, testConfig(), b, WithPlanner(p), WithHeuristic(h))

	next, err := a.HandleState(context.Background(), flow.AccountActive)

	require.NoError(t, err)
	assert.Equal(t, flow.Unknown, next)
	require.Len(t, corrections, 2)
	// attempt 2 failed to execute; attempt 3 still explains the validated click
	last := corrections[1]
	assert.Contains(t, last, "Strategy used: css=#cancel.")
	assert.NotContains(t, last, "Strategy used: none")
	assert.Contains(t, last, "Validation: expected RETENTION_OFFER but observed ACCOUNT_ACTIVE")
	assert.Contains(t, last, "- css=#missing")
}
