package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
)

func fourTargetPlan(t *testing.T) action.Plan {
	return clickPlan(t, css("#a"), aria("button", "B"), text("C"), coords(5, 6))
}

// call key that lands the click for each target of fourTargetPlan
var fourTargetKeys = []string{"bbox:css #a", `bbox:role button name="B"`, `bbox:text "C"`, "coords:5,6"}

func TestExecuteStopsAtFirstWorkingTarget(t *testing.T) {
	for k, key := range fourTargetKeys {
		b := newFakeBrowser(key)
		a := newTestAgent(t, testConfig(), b)
		plan := fourTargetPlan(t)

		res := a.Execute(context.Background(), plan)

		require.True(t, res.Success, "target %d", k)
		require.NotNil(t, res.StrategyUsed)
		assert.Equal(t, plan.AllTargets()[k], *res.StrategyUsed)
		assert.Len(t, res.Attempts, k+1)
		for _, later := range fourTargetKeys[k+1:] {
			assert.NotContains(t, b.calls, later, "target %d must stop the loop", k)
		}
		require.Len(t, a.History().Actions(), 1)
		assert.Equal(t, plan.AllTargets()[k].Describe(), a.History().Actions()[0].Target)
		assert.Empty(t, a.History().Errors())
	}
}

func TestExecuteAllStrategiesFailed(t *testing.T) {
	b := newFakeBrowser()
	a := newTestAgent(t, testConfig(), b)
	plan := fourTargetPlan(t)

	res := a.Execute(context.Background(), plan)

	assert.False(t, res.Success)
	assert.Nil(t, res.StrategyUsed)
	assert.Equal(t, "All strategies failed", res.Error)
	assert.Equal(t, KindAllStrategiesFailed, res.Kind)
	require.Len(t, res.Attempts, 4)
	for _, at := range res.Attempts {
		assert.Equal(t, KindElementNotFound, at.Kind)
	}
	assert.Empty(t, a.History().Actions())
	errs := a.History().Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "AllStrategiesFailed", errs[0].Type)
	for _, s := range plan.AllTargets() {
		assert.Contains(t, errs[0].Strategy, s.Describe())
	}
}

func TestExecuteCSSRaisesARIAFallbackSucceeds(t *testing.T) {
	b := newFakeBrowser(`bbox:role button name="Cancel"`)
	b.panics["bbox:css #cancel"] = true
	a := newTestAgent(t, testConfig(), b)

	res := a.Execute(context.Background(), clickPlan(t, css("#cancel"), aria("button", "Cancel")))

	require.True(t, res.Success)
	assert.Equal(t, action.MethodARIA, res.StrategyUsed.Method())
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Err, "recovered panic")
}

func TestExecutePrefersBoundingBoxClick(t *testing.T) {
	b := newFakeBrowser("bbox:css #a", "click:#a")
	a := newTestAgent(t, testConfig(), b)

	res := a.Execute(context.Background(), clickPlan(t, css("#a")))

	require.True(t, res.Success)
	assert.Equal(t, []string{"bbox:css #a"}, b.calls)
}

func TestExecuteMissingElementSkipsDirectClick(t *testing.T) {
	b := newFakeBrowser("click:#a")
	a := newTestAgent(t, testConfig(), b)

	res := a.Execute(context.Background(), clickPlan(t, css("#a")))

	assert.False(t, res.Success)
	assert.Equal(t, KindElementNotFound, res.Attempts[0].Kind)
	assert.Equal(t, []string{"bbox:css #a"}, b.calls)
}

func TestExecuteDirectClickAfterBoundingBoxTransportError(t *testing.T) {
	b := newFakeBrowser("role:button|Go")
	b.errs[`bbox:role button name="Go"`] = errors.New("playwright: target closed")
	a := newTestAgent(t, testConfig(), b)

	res := a.Execute(context.Background(), clickPlan(t, aria("button", "Go")))

	require.True(t, res.Success)
	assert.Equal(t, []string{`bbox:role button name="Go"`, "role:button|Go"}, b.calls)
}

func TestExecuteCoordinatesSkipBoundingBox(t *testing.T) {
	b := newFakeBrowser("coords:5,6")
	a := newTestAgent(t, testConfig(), b)

	res := a.Execute(context.Background(), clickPlan(t, coords(5, 6)))

	require.True(t, res.Success)
	assert.Equal(t, []string{"coords:5,6"}, b.calls)
}

func TestExecuteFillFallsBackToCSS(t *testing.T) {
	b := newFakeBrowser("fill:#email=me@example.com")
	a := newTestAgent(t, testConfig(), b)
	plan, err := action.NewPlan(action.PlanSpec{
		ActionType:      "fill",
		PrimaryTarget:   aria("textbox", "Email"),
		FallbackTargets: []action.StrategySpec{css("#email")},
		Value:           "me@example.com",
	})
	require.NoError(t, err)

	res := a.Execute(context.Background(), plan)

	require.True(t, res.Success)
	assert.Equal(t, action.MethodCSS, res.StrategyUsed.Method())
	assert.Equal(t, KindUnsupported, res.Attempts[0].Kind)
	assert.Equal(t, []string{"fill:#email=me@example.com"}, b.calls, "fill never goes through the bounding box")
}

func TestExecuteWaitAndNone(t *testing.T) {
	b := newFakeBrowser()
	a := newTestAgent(t, testConfig(), b)

	for _, typ := range []string{"wait", "none"} {
		plan, err := action.NewPlan(action.PlanSpec{ActionType: typ, PrimaryTarget: css("body")})
		require.NoError(t, err)
		res := a.Execute(context.Background(), plan)
		assert.True(t, res.Success, typ)
		assert.Nil(t, res.StrategyUsed, typ)
	}
	assert.Empty(t, b.calls)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	b := newFakeBrowser("click:#a")
	a := newTestAgent(t, testConfig(), b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Execute(ctx, fourTargetPlan(t))

	assert.False(t, res.Success)
	assert.Equal(t, KindCancelled, res.Kind)
	assert.Empty(t, b.calls)
	assert.Empty(t, a.History().Errors())
}
