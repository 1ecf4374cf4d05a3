package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultActionTimeout = 5 * time.Second
)

// Options configures the Playwright controller.
type Options struct {
	Headless bool
	// StoragePath seeds the context with cookies when the file exists and
	// receives the updated state on Close.
	StoragePath        string
	NavTimeout         time.Duration
	ActionTimeout      time.Duration
	ScreenshotMaxWidth int
	Viewport           Size
}

// Playwright is the Controller backed by a Chromium instance.
type Playwright struct {
	opts Options
	log  zerolog.Logger

	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

var _ Controller = (*Playwright)(nil)

func NewPlaywright(opts Options, log zerolog.Logger) *Playwright {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = defaultNavTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = Size{Width: 1280, Height: 800}
	}
	return &Playwright{opts: opts, log: log.With().Str("comp", "browser").Logger()}
}

func (p *Playwright) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.opts.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}
	ctxOpts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport:          &playwright.Size{Width: p.opts.Viewport.Width, Height: p.opts.Viewport.Height},
	}
	if path := strings.TrimSpace(p.opts.StoragePath); path != "" {
		if _, err := os.Stat(path); err == nil {
			ctxOpts.StorageStatePath = playwright.String(path)
			p.log.Debug().Str("path", path).Msg("loading storage state")
		}
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(p.opts.ActionTimeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(p.opts.NavTimeout.Milliseconds()))

	p.pw, p.browser, p.context, p.page = pw, browser, bctx, page
	p.log.Info().Bool("headless", p.opts.Headless).Msg("browser launched")
	return nil
}

func (p *Playwright) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.page == nil {
		return ErrNotLaunched
	}
	return nil
}

func (p *Playwright) Navigate(ctx context.Context, url string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(p.opts.NavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (p *Playwright) Click(ctx context.Context, selectors []string, aria *AriaTarget) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	var lastErr error
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		loc, err := p.visible(p.page.Locator(sel), "css "+sel)
		if err == nil {
			if err = wrap(loc.Click()); err == nil {
				return nil
			}
		}
		p.log.Debug().Err(err).Str("selector", sel).Msg("selector click failed")
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if aria != nil {
		err := p.ClickByRole(ctx, aria.Role, aria.Name)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return notFound("no selector given")
	}
	return lastErr
}

func (p *Playwright) Fill(ctx context.Context, selector, value string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	loc, err := p.visible(p.page.Locator(selector), "css "+selector)
	if err != nil {
		return err
	}
	return wrap(loc.Fill(value))
}

func (p *Playwright) SelectOption(ctx context.Context, selector, value string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	loc, err := p.visible(p.page.Locator(selector), "css "+selector)
	if err != nil {
		return err
	}
	values := []string{value}
	chosen, err := loc.SelectOption(playwright.SelectOptionValues{Values: &values})
	if err != nil {
		return wrap(err)
	}
	if len(chosen) == 0 {
		return notFound(fmt.Sprintf("option %q in %s", value, selector))
	}
	return nil
}

func (p *Playwright) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	raw, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, wrap(err)
	}
	return Downscale(raw, p.opts.ScreenshotMaxWidth)
}

func (p *Playwright) URL(ctx context.Context) (string, error) {
	if err := p.ready(ctx); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

// TextContent returns the visible body text, falling back to the first
// non-empty iframe when the main frame has none.
func (p *Playwright) TextContent(ctx context.Context) (string, error) {
	if err := p.ready(ctx); err != nil {
		return "", err
	}
	val, err := p.page.InnerText("body")
	if err == nil && strings.TrimSpace(val) != "" {
		return val, nil
	}
	for _, frame := range p.page.Frames() {
		if frame == p.page.MainFrame() {
			continue
		}
		if t, ferr := frame.InnerText("body"); ferr == nil && strings.TrimSpace(t) != "" {
			return t, nil
		}
	}
	return val, wrap(err)
}

const accessibilityScript = `() => {
	const interactive = 'a,button,input,select,textarea,[role],[tabindex]';
	const nameOf = (el) => (el.getAttribute('aria-label') || el.getAttribute('title') ||
		el.getAttribute('placeholder') || el.innerText || el.value || '').trim().slice(0, 80);
	const roleOf = (el) => {
		const explicit = el.getAttribute('role');
		if (explicit) return explicit;
		const tag = el.tagName.toLowerCase();
		if (tag === 'a') return 'link';
		if (tag === 'select') return 'combobox';
		if (tag === 'textarea') return 'textbox';
		if (tag === 'input') {
			const t = (el.getAttribute('type') || 'text').toLowerCase();
			if (t === 'checkbox' || t === 'radio') return t;
			if (t === 'submit' || t === 'button') return 'button';
			return 'textbox';
		}
		return tag;
	};
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	};
	const children = [];
	for (const el of document.querySelectorAll(interactive)) {
		if (!visible(el)) continue;
		const node = {role: roleOf(el), name: nameOf(el)};
		if (el.disabled) node.disabled = true;
		if (el.checked) node.checked = true;
		children.push(node);
		if (children.length >= 150) break;
	}
	return JSON.stringify({role: 'document', name: document.title, children});
}`

func (p *Playwright) AccessibilitySnapshot(ctx context.Context) (string, error) {
	val, err := p.Evaluate(ctx, accessibilityScript)
	if err != nil {
		return "", err
	}
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("accessibility snapshot: unexpected %T", val)
	}
	return s, nil
}

func (p *Playwright) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	if err := p.ready(ctx); err != nil {
		return nil, err
	}
	val, err := p.page.Evaluate(script, args...)
	return val, wrap(err)
}

func (p *Playwright) ViewportSize(ctx context.Context) (Size, error) {
	if err := p.ready(ctx); err != nil {
		return Size{}, err
	}
	if vs := p.page.ViewportSize(); vs != nil {
		return Size{Width: vs.Width, Height: vs.Height}, nil
	}
	val, err := p.Evaluate(ctx, `() => ({x: window.innerWidth, y: window.innerHeight})`)
	if err != nil {
		return Size{}, err
	}
	pt := toPoint(val)
	return Size{Width: int(pt.X), Height: int(pt.Y)}, nil
}

func (p *Playwright) ScrollPosition(ctx context.Context) (Point, error) {
	val, err := p.Evaluate(ctx, `() => ({x: window.scrollX, y: window.scrollY})`)
	if err != nil {
		return Point{}, err
	}
	return toPoint(val), nil
}

func (p *Playwright) ClickByRole(ctx context.Context, role, name string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	q := Query{Kind: QueryRole, Role: role, Name: name}
	loc, err := p.visible(p.locator(q), q.String())
	if err != nil {
		return err
	}
	return wrap(loc.Click())
}

func (p *Playwright) ClickByText(ctx context.Context, text string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	q := Query{Kind: QueryText, Text: text}
	loc, err := p.visible(p.locator(q), q.String())
	if err != nil {
		return err
	}
	_ = loc.ScrollIntoViewIfNeeded()
	return wrap(loc.Click())
}

func (p *Playwright) ClickCoordinates(ctx context.Context, x, y float64) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	return wrap(p.page.Mouse().Click(x, y))
}

func (p *Playwright) ClickByBoundingBox(ctx context.Context, q Query) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	loc := p.locator(q)
	if loc == nil {
		return fmt.Errorf("%w: bounding box for %s", ErrUnsupported, q)
	}
	loc, err := p.visible(loc, q.String())
	if err != nil {
		return err
	}
	_ = loc.ScrollIntoViewIfNeeded()
	box, err := loc.BoundingBox()
	if err != nil {
		return wrap(err)
	}
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return notFound("empty bounding box for " + q.String())
	}
	x, y := box.X+box.Width/2, box.Y+box.Height/2
	p.log.Debug().Str("query", q.String()).Float64("x", x).Float64("y", y).Msg("bounding box click")
	return wrap(p.page.Mouse().Click(x, y))
}

// Close persists the storage state when a path is configured, then tears
// down the page, context, browser and driver. Safe to call more than once.
func (p *Playwright) Close(ctx context.Context) error {
	if p.context != nil && strings.TrimSpace(p.opts.StoragePath) != "" {
		if err := p.saveState(p.opts.StoragePath); err != nil {
			p.log.Warn().Err(err).Msg("save storage state")
		}
	}
	var errs []error
	if p.page != nil {
		_ = p.page.Close()
		p.page = nil
	}
	if p.context != nil {
		errs = append(errs, p.context.Close())
		p.context = nil
	}
	if p.browser != nil {
		errs = append(errs, p.browser.Close())
		p.browser = nil
	}
	if p.pw != nil {
		errs = append(errs, p.pw.Stop())
		p.pw = nil
	}
	return wrap(errors.Join(errs...))
}

func (p *Playwright) saveState(path string) error {
	state, err := p.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (p *Playwright) locator(q Query) playwright.Locator {
	switch q.Kind {
	case QueryCSS:
		return p.page.Locator(q.Selector)
	case QueryRole:
		opts := playwright.PageGetByRoleOptions{}
		if q.Name != "" {
			opts.Name = q.Name
		}
		return p.page.GetByRole(playwright.AriaRole(strings.ToLower(strings.TrimSpace(q.Role))), opts)
	case QueryText:
		return p.page.GetByText(q.Text, playwright.PageGetByTextOptions{Exact: playwright.Bool(false)})
	default:
		return nil
	}
}

// visible narrows loc to its first match and waits for it. A timeout means
// the element is not there.
func (p *Playwright) visible(loc playwright.Locator, what string) (playwright.Locator, error) {
	first := loc.First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(p.opts.ActionTimeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, notFound(what)
		}
		return nil, wrap(err)
	}
	return first, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func toPoint(val any) Point {
	m, ok := val.(map[string]any)
	if !ok {
		return Point{}
	}
	return Point{X: toFloat(m["x"]), Y: toFloat(m["y"])}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
