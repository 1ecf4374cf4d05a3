package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

// Type is the kind of interaction a plan performs.
type Type string

const (
	Click  Type = "click"
	Fill   Type = "fill"
	Select Type = "select"
	Wait   Type = "wait"
	None   Type = "none"
)

// MaxFallbacks bounds the fallback targets carried by one plan.
const MaxFallbacks = 3

var ErrInvalidPlan = errors.New("invalid action plan")

// PlanSpec is the loose, wire-friendly form of a Plan.
type PlanSpec struct {
	ActionType      string         `json:"action_type"`
	PrimaryTarget   StrategySpec   `json:"primary_target"`
	FallbackTargets []StrategySpec `json:"fallback_targets,omitempty"`
	Value           string         `json:"value,omitempty"`
	Reasoning       string         `json:"reasoning,omitempty"`
	Confidence      float64        `json:"confidence"`
	ExpectedState   string         `json:"expected_state,omitempty"`
}

// Plan is one proposed interaction plus the ordered targets to try.
type Plan struct {
	actionType Type
	primary    Strategy
	fallbacks  []Strategy
	value      string
	reasoning  string
	confidence float64
	expected   flow.State
}

// NewPlan validates spec and builds a Plan.
func NewPlan(spec PlanSpec) (Plan, error) {
	typ := Type(strings.ToLower(strings.TrimSpace(spec.ActionType)))
	switch typ {
	case Click, Fill, Select, Wait, None:
	default:
		return Plan{}, fmt.Errorf("%w: unknown action type %q", ErrInvalidPlan, spec.ActionType)
	}
	if (typ == Fill || typ == Select) && strings.TrimSpace(spec.Value) == "" {
		return Plan{}, fmt.Errorf("%w: %s needs a value", ErrInvalidPlan, typ)
	}
	if len(spec.FallbackTargets) > MaxFallbacks {
		return Plan{}, fmt.Errorf("%w: %d fallback targets, at most %d allowed", ErrInvalidPlan, len(spec.FallbackTargets), MaxFallbacks)
	}
	if spec.Confidence < 0 || spec.Confidence > 1 {
		return Plan{}, fmt.Errorf("%w: confidence %g outside [0,1]", ErrInvalidPlan, spec.Confidence)
	}
	primary, err := NewStrategy(spec.PrimaryTarget)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: primary target: %w", ErrInvalidPlan, err)
	}
	fallbacks := make([]Strategy, 0, len(spec.FallbackTargets))
	for i, fs := range spec.FallbackTargets {
		s, err := NewStrategy(fs)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: fallback %d: %w", ErrInvalidPlan, i+1, err)
		}
		fallbacks = append(fallbacks, s)
	}
	var expected flow.State
	if strings.TrimSpace(spec.ExpectedState) != "" {
		expected, err = flow.Parse(spec.ExpectedState)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
	}
	return Plan{
		actionType: typ,
		primary:    primary,
		fallbacks:  fallbacks,
		value:      spec.Value,
		reasoning:  strings.TrimSpace(spec.Reasoning),
		confidence: spec.Confidence,
		expected:   expected,
	}, nil
}

func (p Plan) ActionType() Type    { return p.actionType }
func (p Plan) Primary() Strategy   { return p.primary }
func (p Plan) Value() string       { return p.value }
func (p Plan) Reasoning() string   { return p.reasoning }
func (p Plan) Confidence() float64 { return p.confidence }

// Fallbacks returns a copy of the fallback targets.
func (p Plan) Fallbacks() []Strategy {
	return append([]Strategy(nil), p.fallbacks...)
}

// AllTargets is the primary target followed by the fallbacks, in the order
// the executor must try them.
func (p Plan) AllTargets() []Strategy {
	out := make([]Strategy, 0, 1+len(p.fallbacks))
	out = append(out, p.primary)
	return append(out, p.fallbacks...)
}

// ExpectedState returns the state the plan should lead to, if it names one.
func (p Plan) ExpectedState() (flow.State, bool) {
	return p.expected, p.expected != ""
}

// WithExpectedState returns a copy of p expecting s.
func (p Plan) WithExpectedState(s flow.State) Plan {
	p.fallbacks = p.Fallbacks()
	p.expected = s
	return p
}

// Spec converts the plan back to its wire form.
func (p Plan) Spec() PlanSpec {
	spec := PlanSpec{
		ActionType:    string(p.actionType),
		PrimaryTarget: p.primary.Spec(),
		Value:         p.value,
		Reasoning:     p.reasoning,
		Confidence:    p.confidence,
		ExpectedState: string(p.expected),
	}
	for _, f := range p.fallbacks {
		spec.FallbackTargets = append(spec.FallbackTargets, f.Spec())
	}
	return spec
}

func (p Plan) String() string {
	return fmt.Sprintf("%s %s (+%d fallbacks)", p.actionType, p.primary.Describe(), len(p.fallbacks))
}
