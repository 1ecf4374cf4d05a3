package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/browser"
)

const (
	MaxHTMLChars = 5000
	MaxTextChars = 2000
	maxElements  = 40
	// historyInPrompt bounds how much history ToMap exposes.
	historyInPrompt = 5
)

// Element describes one visible interactive node.
type Element struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
	BBox     string `json:"bbox"`
	HTML     string `json:"html,omitempty"`
}

// Summary is one perception of the page. It is built by Collect and treated
// as read-only afterwards; history slices are copies taken at capture time.
type Summary struct {
	URL               string
	Screenshot        []byte
	AccessibilityTree string
	InteractiveHTML   string
	VisibleText       string
	Elements          []Element
	Viewport          browser.Size
	Scroll            browser.Point
	Actions           []action.Record
	Errors            []action.ErrorRecord
	CapturedAt        time.Time
}

// ToMap returns the summary as a JSON-friendly map for prompts. Screenshot
// bytes are left out; planners attach them separately.
func (s Summary) ToMap() map[string]any {
	return map[string]any{
		"url":                s.URL,
		"viewport":           s.Viewport,
		"scroll":             s.Scroll,
		"accessibility_tree": s.AccessibilityTree,
		"interactive_html":   s.InteractiveHTML,
		"visible_text":       s.VisibleText,
		"elements":           s.Elements,
		"recent_actions":     tail(s.Actions, historyInPrompt),
		"recent_errors":      tail(s.Errors, historyInPrompt),
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nVIEWPORT: %dx%d SCROLL: %g,%g\nTEXT: %s\nELEMENTS:\n",
		s.URL, s.Viewport.Width, s.Viewport.Height, s.Scroll.X, s.Scroll.Y, s.VisibleText)
	for i, el := range s.Elements {
		fmt.Fprintf(&b, "%d) role=%s text=%s selector=%s bbox=%s\n", i+1, el.Role, el.Text, el.Selector, el.BBox)
	}
	return b.String()
}

// Collector builds summaries from a browser.
type Collector struct {
	log zerolog.Logger
}

func NewCollector(log zerolog.Logger) *Collector {
	return &Collector{log: log.With().Str("comp", "perceive").Logger()}
}

// Collect reads the page once. Individual read failures degrade the matching
// field (an empty accessibility tree becomes "{}", missing HTML becomes "")
// and are logged; only context cancellation is returned as an error.
func (c *Collector) Collect(ctx context.Context, r browser.Reader, actions []action.Record, errs []action.ErrorRecord) (Summary, error) {
	sum := Summary{
		Actions:    append([]action.Record(nil), actions...),
		Errors:     append([]action.ErrorRecord(nil), errs...),
		CapturedAt: time.Now(),
	}

	shot, err := r.Screenshot(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("screenshot failed")
	}
	sum.Screenshot = shot

	if sum.URL, err = r.URL(ctx); err != nil {
		c.log.Warn().Err(err).Msg("read url")
	}

	tree, err := r.AccessibilitySnapshot(ctx)
	if err != nil || strings.TrimSpace(tree) == "" {
		c.log.Debug().Err(err).Msg("accessibility snapshot unavailable")
		tree = "{}"
	}
	sum.AccessibilityTree = tree

	elems, err := collectInteractive(ctx, r)
	if err != nil {
		c.log.Debug().Err(err).Msg("interactive html unavailable")
	}
	sum.Elements = rankElements(elems, maxElements)
	sum.InteractiveHTML = interactiveHTML(sum.Elements)

	text, err := r.TextContent(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("read visible text")
	}
	sum.VisibleText = Truncate(strings.TrimSpace(text), MaxTextChars)

	if sum.Viewport, err = r.ViewportSize(ctx); err != nil {
		c.log.Debug().Err(err).Msg("viewport size")
	}
	if sum.Scroll, err = r.ScrollPosition(ctx); err != nil {
		c.log.Debug().Err(err).Msg("scroll position")
	}

	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

const interactiveScript = `(limit) => {
	const pick = [];
	const nodes = document.querySelectorAll("a,button,input,select,textarea,[role],[tabindex],[data-testid],[onclick]");
	for (const el of nodes) {
		if (pick.length >= limit) break;
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 && rect.height === 0) continue;
		const bbox = [Math.round(rect.x), Math.round(rect.y), Math.round(rect.width), Math.round(rect.height)].join(",");
		const role = el.getAttribute("role") || el.tagName.toLowerCase();
		const text = (el.innerText || el.textContent || el.value || el.getAttribute("aria-label") || "").trim().replace(/\s+/g, " ").slice(0, 120);
		let sel = "";
		if (el.id) {
			sel = "#" + el.id;
		} else if (el.getAttribute("data-testid")) {
			sel = "[data-testid=\"" + el.getAttribute("data-testid") + "\"]";
		} else if (el.getAttribute("name")) {
			sel = el.tagName.toLowerCase() + "[name=\"" + el.getAttribute("name") + "\"]";
		} else {
			const siblings = Array.from(el.parentElement ? el.parentElement.children : []);
			const idx = siblings.filter(c => c.tagName === el.tagName).indexOf(el) + 1;
			if (idx > 0) sel = el.tagName.toLowerCase() + ":nth-of-type(" + idx + ")";
		}
		pick.push({role, text, selector: sel, bbox, html: el.outerHTML.slice(0, 600)});
	}
	return pick;
}`

func collectInteractive(ctx context.Context, r browser.Reader) ([]Element, error) {
	val, err := r.Evaluate(ctx, interactiveScript, 300)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var elems []Element
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	return elems, nil
}

func interactiveHTML(elems []Element) string {
	var b strings.Builder
	for _, el := range elems {
		if el.HTML == "" {
			continue
		}
		b.WriteString(el.HTML)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return ""
	}
	return PruneHTML(b.String(), MaxHTMLChars)
}

// rankElements keeps the maxCount elements most likely to matter for a
// cancellation flow, preserving page order among equal scores.
func rankElements(elems []Element, maxCount int) []Element {
	type scored struct {
		el    Element
		score int
	}
	list := make([]scored, 0, len(elems))
	for _, el := range elems {
		if s := scoreElement(el); s > 0 {
			list = append(list, scored{el, s})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	out := make([]Element, 0, min(len(list), maxCount))
	for i := 0; i < len(list) && i < maxCount; i++ {
		out = append(out, list[i].el)
	}
	return out
}

var flowWords = []string{
	"cancel", "end membership", "stop", "decline", "no thanks", "no, thanks",
	"continue", "confirm", "finish", "skip", "submit", "next", "reason",
}

func scoreElement(el Element) int {
	score := 0
	text := strings.ToLower(el.Text)
	switch el.Role {
	case "", "generic", "presentation", "div", "span":
	default:
		score += 5
	}
	if el.Text != "" {
		score += 3
	}
	for _, w := range flowWords {
		if strings.Contains(text, w) {
			score += 10
			break
		}
	}
	if el.Selector != "" {
		score += 2
	}
	if el.Text == "" && el.Role == "" {
		score -= 5
	}
	if len(el.Text) > 200 {
		score -= 3
	}
	return score
}

// Truncate cuts s to at most n characters.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func tail[T any](items []T, n int) []T {
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]T(nil), items...)
}
