package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrElementNotFound means no strategy could resolve the element. The agent
	// treats it as a retryable miss, unlike transport failures.
	ErrElementNotFound = errors.New("element not found")
	// ErrUnsupported is returned for an operation the target kind cannot do.
	ErrUnsupported = errors.New("operation not supported")
	ErrNotLaunched = errors.New("browser not launched")
)

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point is a page offset in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AriaTarget is the optional role fallback for Click.
type AriaTarget struct {
	Role string
	Name string
}

// QueryKind selects how a Query resolves an element.
type QueryKind string

const (
	QueryCSS  QueryKind = "css"
	QueryRole QueryKind = "role"
	QueryText QueryKind = "text"
)

// Query locates one element for ClickByBoundingBox.
type Query struct {
	Kind     QueryKind
	Selector string
	Role     string
	Name     string
	Text     string
}

func (q Query) String() string {
	switch q.Kind {
	case QueryCSS:
		return "css " + q.Selector
	case QueryRole:
		if q.Name == "" {
			return "role " + q.Role
		}
		return fmt.Sprintf("role %s name=%q", q.Role, q.Name)
	case QueryText:
		return fmt.Sprintf("text %q", q.Text)
	default:
		return "query " + string(q.Kind)
	}
}

// Controller exposes the browser operations the agent needs.
type Controller interface {
	Launch(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	// Click tries each selector in order, then the optional ARIA target.
	Click(ctx context.Context, selectors []string, aria *AriaTarget) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	// AccessibilitySnapshot returns a JSON tree of interactive nodes.
	AccessibilitySnapshot(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	ViewportSize(ctx context.Context) (Size, error)
	ScrollPosition(ctx context.Context) (Point, error)
	ClickByRole(ctx context.Context, role, name string) error
	ClickByText(ctx context.Context, text string) error
	ClickCoordinates(ctx context.Context, x, y float64) error
	// ClickByBoundingBox resolves q, then clicks the centre of its box with the mouse.
	ClickByBoundingBox(ctx context.Context, q Query) error
	Close(ctx context.Context) error
}

// Reader is the read-only part of Controller used for perception.
type Reader interface {
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	AccessibilitySnapshot(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	ViewportSize(ctx context.Context) (Size, error)
	ScrollPosition(ctx context.Context) (Point, error)
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrElementNotFound, strings.TrimSpace(what))
}
