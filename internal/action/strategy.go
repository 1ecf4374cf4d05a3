package action

import (
	"errors"
	"fmt"
	"strings"
)

// Method is a way of locating an element.
type Method string

const (
	MethodCSS         Method = "css"
	MethodARIA        Method = "aria"
	MethodText        Method = "text"
	MethodCoordinates Method = "coordinates"
)

// Escalation is the order in which self-correction moves through methods.
var Escalation = []Method{MethodCSS, MethodARIA, MethodText, MethodCoordinates}

// ErrInvalidStrategy is returned when a strategy misses the field its method needs.
var ErrInvalidStrategy = errors.New("invalid target strategy")

// StrategySpec is the loose, wire-friendly form of a Strategy.
type StrategySpec struct {
	Method      string   `json:"method"`
	CSSSelector string   `json:"css_selector,omitempty"`
	AriaRole    string   `json:"aria_role,omitempty"`
	AriaName    string   `json:"aria_name,omitempty"`
	TextContent string   `json:"text_content,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
}

// Strategy describes one way to find one element. It cannot be changed after
// construction.
type Strategy struct {
	method   Method
	selector string
	role     string
	name     string
	text     string
	x, y     float64
}

// NewStrategy validates spec and builds a Strategy.
func NewStrategy(spec StrategySpec) (Strategy, error) {
	switch Method(strings.ToLower(strings.TrimSpace(spec.Method))) {
	case MethodCSS:
		return CSS(spec.CSSSelector)
	case MethodARIA:
		return ARIA(spec.AriaRole, spec.AriaName)
	case MethodText:
		return Text(spec.TextContent)
	case MethodCoordinates:
		if spec.X == nil || spec.Y == nil {
			return Strategy{}, fmt.Errorf("%w: coordinates need x and y", ErrInvalidStrategy)
		}
		return Coordinates(*spec.X, *spec.Y)
	default:
		return Strategy{}, fmt.Errorf("%w: unknown method %q", ErrInvalidStrategy, spec.Method)
	}
}

func CSS(selector string) (Strategy, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return Strategy{}, fmt.Errorf("%w: css needs css_selector", ErrInvalidStrategy)
	}
	return Strategy{method: MethodCSS, selector: selector}, nil
}

// ARIA targets by role and, optionally, accessible name.
func ARIA(role, name string) (Strategy, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return Strategy{}, fmt.Errorf("%w: aria needs aria_role", ErrInvalidStrategy)
	}
	return Strategy{method: MethodARIA, role: role, name: strings.TrimSpace(name)}, nil
}

func Text(text string) (Strategy, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Strategy{}, fmt.Errorf("%w: text needs text_content", ErrInvalidStrategy)
	}
	return Strategy{method: MethodText, text: text}, nil
}

// Coordinates targets a viewport pixel.
func Coordinates(x, y float64) (Strategy, error) {
	if x < 0 || y < 0 {
		return Strategy{}, fmt.Errorf("%w: negative coordinates (%g,%g)", ErrInvalidStrategy, x, y)
	}
	return Strategy{method: MethodCoordinates, x: x, y: y}, nil
}

func (s Strategy) Method() Method     { return s.method }
func (s Strategy) Selector() string   { return s.selector }
func (s Strategy) Role() string       { return s.role }
func (s Strategy) Name() string       { return s.name }
func (s Strategy) Text() string       { return s.text }

// Point is the click position of a coordinates strategy.
func (s Strategy) Point() (x, y float64) { return s.x, s.y }

// Spec converts the strategy back to its wire form.
func (s Strategy) Spec() StrategySpec {
	spec := StrategySpec{Method: string(s.method)}
	switch s.method {
	case MethodCSS:
		spec.CSSSelector = s.selector
	case MethodARIA:
		spec.AriaRole, spec.AriaName = s.role, s.name
	case MethodText:
		spec.TextContent = s.text
	case MethodCoordinates:
		x, y := s.x, s.y
		spec.X, spec.Y = &x, &y
	}
	return spec
}

// Describe renders the strategy for logs, history and prompts.
func (s Strategy) Describe() string {
	switch s.method {
	case MethodCSS:
		return "css=" + s.selector
	case MethodARIA:
		if s.name == "" {
			return "aria=" + s.role
		}
		return fmt.Sprintf("aria=%s[name=%q]", s.role, s.name)
	case MethodText:
		return fmt.Sprintf("text=%q", s.text)
	case MethodCoordinates:
		return fmt.Sprintf("coordinates=(%g,%g)", s.x, s.y)
	default:
		return "invalid"
	}
}

func (s Strategy) String() string { return s.Describe() }
