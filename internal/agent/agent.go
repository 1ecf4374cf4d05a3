package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/browser"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/service"
	"github.com/polzovatel/cancel-flow-agent/internal/snapshot"
)

// Mode selects how non-checkpoint states are advanced.
type Mode string

const (
	// ModeAdaptive runs the full plan/execute/validate/correct loop per state.
	ModeAdaptive Mode = "adaptive"
	// ModeStep detects the state and performs at most one action per step.
	ModeStep Mode = "step"
)

type Config struct {
	MaxSteps           int
	MaxRetries         int
	DryRun             bool
	Mode               Mode
	HeuristicThreshold float64
	// WaitDuration is how long a "wait" plan pauses.
	WaitDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:           25,
		MaxRetries:         3,
		Mode:               ModeAdaptive,
		HeuristicThreshold: 0.7,
		WaitDuration:       time.Second,
	}
}

func (c Config) validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be >= 1, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("%w: max steps must be >= 1, got %d", ErrInvalidConfig, c.MaxSteps)
	}
	if c.HeuristicThreshold < 0 || c.HeuristicThreshold > 1 {
		return fmt.Errorf("%w: heuristic threshold %g outside [0,1]", ErrInvalidConfig, c.HeuristicThreshold)
	}
	if c.Mode != ModeAdaptive && c.Mode != ModeStep {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// Planner proposes the next action for a goal.
type Planner interface {
	PlanAction(ctx context.Context, sum snapshot.Summary, goal, errorContext string) (action.Plan, error)
}

// StateDetector is implemented by planners that can also classify a page.
type StateDetector interface {
	DetectState(ctx context.Context, sum snapshot.Summary) (flow.State, float64, string, error)
}

// Heuristic classifies a page from its URL and visible text.
type Heuristic interface {
	Interpret(url, text string) (flow.State, float64, string)
}

// InputFunc asks the human a question and returns the answer.
type InputFunc func(ctx context.Context, prompt string) (string, error)

type Option func(*Agent)

func WithPlanner(p Planner) Option     { return func(a *Agent) { a.planner = p } }
func WithHeuristic(h Heuristic) Option { return func(a *Agent) { a.heuristic = h } }
func WithInput(fn InputFunc) Option    { return func(a *Agent) { a.input = fn } }
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithService sets the site whose entry URL Run opens and whose selectors
// seed step-mode prompts.
func WithService(s service.Service) Option {
	return func(a *Agent) { a.svc = &s }
}

// WithHistory injects the history log; New creates a fresh one otherwise.
func WithHistory(h *History) Option { return func(a *Agent) { a.history = h } }

// Agent drives one browser through the cancellation flow. It is not safe for
// concurrent use; every operation runs strictly in sequence.
type Agent struct {
	cfg       Config
	browser   browser.Controller
	planner   Planner
	heuristic Heuristic
	input     InputFunc
	svc       *service.Service
	history   *History
	collector *snapshot.Collector
	log       zerolog.Logger

	state flow.State
}

func New(cfg Config, ctrl browser.Controller, opts ...Option) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, fmt.Errorf("%w: browser is required", ErrInvalidConfig)
	}
	if cfg.WaitDuration <= 0 {
		cfg.WaitDuration = time.Second
	}
	a := &Agent{
		cfg:     cfg,
		browser: ctrl,
		log:     zerolog.Nop(),
		state:   flow.Start,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.history == nil {
		a.history = NewHistory()
	}
	a.log = a.log.With().Str("comp", "agent").Logger()
	a.collector = snapshot.NewCollector(a.log)
	return a, nil
}

// State is the current flow state.
func (a *Agent) State() flow.State { return a.state }

func (a *Agent) History() *History { return a.history }

// ClearHistory starts a new state-handling session.
func (a *Agent) ClearHistory() { a.history.Clear() }

// Perceive captures the page together with a copy of the session history.
func (a *Agent) Perceive(ctx context.Context) (snapshot.Summary, error) {
	return a.collector.Collect(ctx, a.browser, a.history.Actions(), a.history.Errors())
}

// Plan asks the planner for the next action toward goal.
func (a *Agent) Plan(ctx context.Context, sum snapshot.Summary, goal string) (action.Plan, error) {
	return a.planWith(ctx, sum, goal, "")
}

func (a *Agent) planWith(ctx context.Context, sum snapshot.Summary, goal, errorContext string) (action.Plan, error) {
	if a.planner == nil {
		return action.Plan{}, ErrNoPlanner
	}
	return a.planner.PlanAction(ctx, sum, goal, errorContext)
}

// goalText is the goal for state, plus the service's known selectors when
// withHints is set.
func (a *Agent) goalText(state flow.State, withHints bool) string {
	goal := flow.GoalFor(state).Description
	if !withHints || a.svc == nil {
		return goal
	}
	if hints := a.svc.Hints(state); hints != "" {
		return goal + "\n" + hints
	}
	return goal
}

func (a *Agent) recordError(typ, msg, strategy string) {
	a.history.AddError(action.ErrorRecord{
		Type:      typ,
		Message:   msg,
		Strategy:  strategy,
		Timestamp: time.Now(),
	})
}

func describeAll(ss []action.Strategy) string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, s.Describe())
	}
	return strings.Join(parts, "; ")
}
