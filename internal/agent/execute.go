package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/browser"
)

const allStrategiesFailed = "All strategies failed"

// Attempt is the outcome of one target strategy.
type Attempt struct {
	Strategy action.Strategy
	Kind     FailureKind
	Err      string
}

// ExecutionResult is the outcome of one Execute call.
type ExecutionResult struct {
	Success      bool
	Plan         action.Plan
	StrategyUsed *action.Strategy
	Attempts     []Attempt
	Error        string
	Kind         FailureKind
	Elapsed      time.Duration
}

// Tried returns the strategies in the order they were attempted.
func (r ExecutionResult) Tried() []action.Strategy {
	out := make([]action.Strategy, 0, len(r.Attempts))
	for _, at := range r.Attempts {
		out = append(out, at.Strategy)
	}
	return out
}

// Execute runs plan against the browser, trying plan.AllTargets() in order
// and stopping at the first strategy that works. Strategy failures, panics
// included, never escape; they are reported in the result.
func (a *Agent) Execute(ctx context.Context, plan action.Plan) (res ExecutionResult) {
	start := time.Now()
	res = ExecutionResult{Plan: plan}
	defer func() { res.Elapsed = time.Since(start) }()

	switch plan.ActionType() {
	case action.None:
		res.Success = true
		return res
	case action.Wait:
		select {
		case <-ctx.Done():
			res.Error, res.Kind = ctx.Err().Error(), KindCancelled
		case <-time.After(a.cfg.WaitDuration):
			res.Success = true
		}
		return res
	}

	for i, s := range plan.AllTargets() {
		err := a.tryStrategy(ctx, plan, s)
		if err == nil {
			used := s
			res.Success = true
			res.StrategyUsed = &used
			res.Attempts = append(res.Attempts, Attempt{Strategy: s})
			a.history.AddAction(action.Record{
				ActionType: plan.ActionType(),
				Target:     s.Describe(),
				Success:    true,
				Timestamp:  time.Now(),
			})
			a.log.Info().
				Str("action", string(plan.ActionType())).
				Str("strategy", s.Describe()).
				Int("index", i).
				Msg("action executed")
			return res
		}
		kind := classify(err)
		res.Attempts = append(res.Attempts, Attempt{Strategy: s, Kind: kind, Err: err.Error()})
		a.log.Debug().Err(err).Str("strategy", s.Describe()).Str("kind", string(kind)).Msg("strategy failed")
		if kind == KindCancelled {
			res.Error, res.Kind = err.Error(), KindCancelled
			return res
		}
	}

	res.Error = allStrategiesFailed
	res.Kind = KindAllStrategiesFailed
	msg := allStrategiesFailed
	if n := len(res.Attempts); n > 0 {
		msg = fmt.Sprintf("%s: %s", allStrategiesFailed, res.Attempts[n-1].Err)
	}
	a.recordError(string(KindAllStrategiesFailed), msg, describeAll(res.Tried()))
	a.log.Warn().Str("action", plan.String()).Msg(msg)
	return res
}

// tryStrategy performs plan's action with one strategy. Clicks first go
// through the element's bounding box centre; the method's own operation runs
// only when that fails for a reason other than a missing element.
func (a *Agent) tryStrategy(ctx context.Context, plan action.Plan, s action.Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered panic in %s: %v", s.Describe(), r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	if plan.ActionType() == action.Click {
		if q, ok := boundingBoxQuery(s); ok {
			bbErr := a.browser.ClickByBoundingBox(ctx, q)
			if bbErr == nil {
				return nil
			}
			// same locator as the direct click, which would wait out the timeout again
			if errors.Is(bbErr, browser.ErrElementNotFound) {
				return bbErr
			}
			a.log.Debug().Err(bbErr).Str("strategy", s.Describe()).Msg("bounding box click failed")
		}
	}
	return a.perform(ctx, plan, s)
}

func (a *Agent) perform(ctx context.Context, plan action.Plan, s action.Strategy) error {
	typ := plan.ActionType()
	switch s.Method() {
	case action.MethodCSS:
		switch typ {
		case action.Click:
			return a.browser.Click(ctx, []string{s.Selector()}, nil)
		case action.Fill:
			return a.browser.Fill(ctx, s.Selector(), plan.Value())
		case action.Select:
			return a.browser.SelectOption(ctx, s.Selector(), plan.Value())
		}
	case action.MethodARIA:
		if typ == action.Click {
			return a.browser.ClickByRole(ctx, s.Role(), s.Name())
		}
	case action.MethodText:
		if typ == action.Click {
			return a.browser.ClickByText(ctx, s.Text())
		}
	case action.MethodCoordinates:
		if typ == action.Click {
			x, y := s.Point()
			return a.browser.ClickCoordinates(ctx, x, y)
		}
	}
	return fmt.Errorf("%w: %s with %s", browser.ErrUnsupported, typ, s.Method())
}

func boundingBoxQuery(s action.Strategy) (browser.Query, bool) {
	switch s.Method() {
	case action.MethodCSS:
		return browser.Query{Kind: browser.QueryCSS, Selector: s.Selector()}, true
	case action.MethodARIA:
		return browser.Query{Kind: browser.QueryRole, Role: s.Role(), Name: s.Name()}, true
	case action.MethodText:
		return browser.Query{Kind: browser.QueryText, Text: s.Text()}, true
	default:
		return browser.Query{}, false
	}
}
