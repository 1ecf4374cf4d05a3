package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/browser"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/snapshot"
)

// fakeBrowser succeeds only for the call keys listed in succeed; keys in errs
// fail with that error and every other interaction fails with
// browser.ErrElementNotFound. Keys look like
// "bbox:css #a", "click:#a", "role:button|Cancel", "text:Cancel",
// "coords:5,6", "fill:#a=value" and "select:#a=value".
type fakeBrowser struct {
	url       string
	text      string
	succeed   map[string]bool
	panics    map[string]bool
	errs      map[string]error
	launchErr error

	calls     []string
	navigated []string
	launched  int
	closed    int
}

var _ browser.Controller = (*fakeBrowser)(nil)

func newFakeBrowser(succeed ...string) *fakeBrowser {
	f := &fakeBrowser{url: "http://svc.test/account", succeed: map[string]bool{}, panics: map[string]bool{}, errs: map[string]error{}}
	for _, k := range succeed {
		f.succeed[k] = true
	}
	return f
}

func (f *fakeBrowser) do(key string) error {
	f.calls = append(f.calls, key)
	if f.panics[key] {
		panic("driver crashed on " + key)
	}
	if f.succeed[key] {
		return nil
	}
	if err, ok := f.errs[key]; ok {
		return err
	}
	return fmt.Errorf("%w: %s", browser.ErrElementNotFound, key)
}

// clicks counts every click-like call, successful or not.
func (f *fakeBrowser) clicks() int {
	n := 0
	for _, c := range f.calls {
		for _, p := range []string{"bbox:", "click:", "role:", "text:", "coords:"} {
			if strings.HasPrefix(c, p) {
				n++
			}
		}
	}
	return n
}

func (f *fakeBrowser) Launch(context.Context) error {
	f.launched++
	return f.launchErr
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	f.url = url
	return nil
}

func (f *fakeBrowser) Click(_ context.Context, selectors []string, _ *browser.AriaTarget) error {
	return f.do("click:" + strings.Join(selectors, ","))
}

func (f *fakeBrowser) Fill(_ context.Context, selector, value string) error {
	return f.do("fill:" + selector + "=" + value)
}

func (f *fakeBrowser) SelectOption(_ context.Context, selector, value string) error {
	return f.do("select:" + selector + "=" + value)
}

func (f *fakeBrowser) Screenshot(context.Context) ([]byte, error)            { return []byte{0x89}, nil }
func (f *fakeBrowser) URL(context.Context) (string, error)                   { return f.url, nil }
func (f *fakeBrowser) TextContent(context.Context) (string, error)           { return f.text, nil }
func (f *fakeBrowser) AccessibilitySnapshot(context.Context) (string, error) { return "{}", nil }
func (f *fakeBrowser) Evaluate(context.Context, string, ...any) (any, error) { return nil, nil }
func (f *fakeBrowser) ViewportSize(context.Context) (browser.Size, error) {
	return browser.Size{Width: 1280, Height: 800}, nil
}
func (f *fakeBrowser) ScrollPosition(context.Context) (browser.Point, error) {
	return browser.Point{}, nil
}

func (f *fakeBrowser) ClickByRole(_ context.Context, role, name string) error {
	return f.do("role:" + role + "|" + name)
}

func (f *fakeBrowser) ClickByText(_ context.Context, text string) error {
	return f.do("text:" + text)
}

func (f *fakeBrowser) ClickCoordinates(_ context.Context, x, y float64) error {
	return f.do(fmt.Sprintf("coords:%g,%g", x, y))
}

func (f *fakeBrowser) ClickByBoundingBox(_ context.Context, q browser.Query) error {
	return f.do("bbox:" + q.String())
}

func (f *fakeBrowser) Close(context.Context) error {
	f.closed++
	return nil
}

type mockPlanner struct {
	mock.Mock
}

func (m *mockPlanner) PlanAction(ctx context.Context, sum snapshot.Summary, goal, errorContext string) (action.Plan, error) {
	args := m.Called(ctx, sum, goal, errorContext)
	return args.Get(0).(action.Plan), args.Error(1)
}

func (m *mockPlanner) DetectState(ctx context.Context, sum snapshot.Summary) (flow.State, float64, string, error) {
	args := m.Called(ctx, sum)
	return args.Get(0).(flow.State), args.Get(1).(float64), args.String(2), args.Error(3)
}

type mockHeuristic struct {
	mock.Mock
}

func (m *mockHeuristic) Interpret(url, text string) (flow.State, float64, string) {
	args := m.Called(url, text)
	return args.Get(0).(flow.State), args.Get(1).(float64), args.String(2)
}

// sees makes h report state with conf for every page.
func (m *mockHeuristic) sees(state flow.State, conf float64) *mock.Call {
	return m.On("Interpret", mock.Anything, mock.Anything).Return(state, conf, "test")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WaitDuration = 1
	return cfg
}

func newTestAgent(t *testing.T, cfg Config, b *fakeBrowser, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, b, opts...)
	require.NoError(t, err)
	return a
}

func clickPlan(t *testing.T, targets ...action.StrategySpec) action.Plan {
	t.Helper()
	require.NotEmpty(t, targets)
	p, err := action.NewPlan(action.PlanSpec{
		ActionType:      "click",
		PrimaryTarget:   targets[0],
		FallbackTargets: targets[1:],
		Confidence:      0.8,
	})
	require.NoError(t, err)
	return p
}

func css(sel string) action.StrategySpec {
	return action.StrategySpec{Method: "css", CSSSelector: sel}
}

func aria(role, name string) action.StrategySpec {
	return action.StrategySpec{Method: "aria", AriaRole: role, AriaName: name}
}

func text(s string) action.StrategySpec {
	return action.StrategySpec{Method: "text", TextContent: s}
}

func coords(x, y float64) action.StrategySpec {
	return action.StrategySpec{Method: "coordinates", X: &x, Y: &y}
}
