package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// LaunchOptions configures how RodBackend launches a browser binary. A zero
// value launches the bundled Chromium rod downloads on demand.
type LaunchOptions struct {
	Bin      string
	Launch   []string // extra launcher flags, "name" or "name=value"
	Headless bool
}

// RodBackend is the concrete Backend implementation wrapping go-rod,
// grounded on the launcher construction and Connect sequence used in the
// reference session manager this server's session layer replaces.
type RodBackend struct {
	Options LaunchOptions
}

// NewRodBackend constructs a RodBackend with the given launch options.
func NewRodBackend(opts LaunchOptions) *RodBackend {
	return &RodBackend{Options: opts}
}

func (b *RodBackend) Launch(ctx context.Context, kind BrowserKind, headless bool) (BrowserHandle, error) {
	switch kind {
	case Chromium, Firefox, WebKit:
		// rod only drives Chromium-family targets over CDP; firefox/webkit
		// kinds are accepted at this layer (kind validation lives in
		// internal/session per the spec) and launched via the same CDP
		// binary path, since swapping drivers per kind is out of scope for
		// this narrow interface.
	default:
		return nil, fmt.Errorf("backend: unsupported browser kind %q", kind)
	}

	l := launcher.New().Headless(headless)
	if b.Options.Bin != "" {
		l = l.Bin(b.Options.Bin)
	}
	for _, raw := range b.Options.Launch {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(launcher.Flag(name), val)
		} else {
			l = l.Set(launcher.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("backend: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("backend: connect to browser: %w", err)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("backend: create incognito context: %w", err)
	}

	return &rodHandle{browser: browser, context: incognito}, nil
}

type rodHandle struct {
	browser *rod.Browser
	context *rod.Browser
}

func (h *rodHandle) NewPage(ctx context.Context, url string) (Page, error) {
	page, err := h.context.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("backend: create page: %w", err)
	}
	return &rodPage{page: page.Context(ctx)}, nil
}

func (h *rodHandle) Close(ctx context.Context) error {
	if err := h.browser.Close(); err != nil {
		return fmt.Errorf("backend: close browser: %w", err)
	}
	return nil
}

// rodPage implements Page over a single *rod.Page.
type rodPage struct {
	page   *rod.Page
	mu     sync.Mutex
	closed atomic.Bool
}

func (p *rodPage) withTimeout(ctx context.Context, timeout time.Duration) *rod.Page {
	if timeout <= 0 {
		return p.page.Context(ctx)
	}
	return p.page.Context(ctx).Timeout(timeout)
}

func (p *rodPage) Goto(ctx context.Context, url string, waitUntil string) (string, error) {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return "", fmt.Errorf("backend: navigate: %w", err)
	}
	if err := waitForLoadState(pg, waitUntil); err != nil {
		return "", err
	}
	return pg.MustInfo().URL, nil
}

func waitForLoadState(pg *rod.Page, state string) error {
	switch state {
	case "networkidle":
		return pg.WaitIdle(2 * time.Second)
	default: // "load", "domcontentloaded", or unset
		return pg.WaitLoad()
	}
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	pg := p.page.Context(ctx)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("backend: element not found %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("backend: click: %w", err)
	}
	return nil
}

func (p *rodPage) ClickXY(ctx context.Context, x, y float64) error {
	pg := p.page.Context(ctx)
	if err := pg.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("backend: mouse move: %w", err)
	}
	if err := pg.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("backend: mouse click: %w", err)
	}
	return nil
}

func (p *rodPage) Fill(ctx context.Context, selector, value string) error {
	pg := p.page.Context(ctx)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("backend: element not found %q: %w", selector, err)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("backend: fill: %w", err)
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	pg := p.page.Context(ctx)
	if selector == "" {
		if err := pg.InsertText(text); err != nil {
			return fmt.Errorf("backend: type into focused element: %w", err)
		}
		return nil
	}
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("backend: element not found %q: %w", selector, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("backend: type: %w", err)
	}
	return nil
}

func (p *rodPage) Press(ctx context.Context, selector, key string) error {
	pg := p.page.Context(ctx)
	if selector != "" {
		el, err := pg.Element(selector)
		if err != nil {
			return fmt.Errorf("backend: element not found %q: %w", selector, err)
		}
		if err := el.Focus(); err != nil {
			return fmt.Errorf("backend: focus: %w", err)
		}
	}
	if k, ok := namedKeys[strings.ToLower(key)]; ok {
		if err := pg.Keyboard.Type(k); err != nil {
			return fmt.Errorf("backend: press %q: %w", key, err)
		}
		return nil
	}
	// Not a named key (Enter, Tab, ...): treat it as literal text, which
	// covers the single-character case the spec names ("press selector,
	// key (or key-only)").
	if err := pg.InsertText(key); err != nil {
		return fmt.Errorf("backend: press %q: %w", key, err)
	}
	return nil
}

func (p *rodPage) SelectOption(ctx context.Context, selector, value string) error {
	pg := p.page.Context(ctx)
	el, err := pg.Element(selector)
	if err != nil {
		return fmt.Errorf("backend: element not found %q: %w", selector, err)
	}
	if _, err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		if _, err2 := el.Select([]string{value}, true, rod.SelectorTypeValue); err2 != nil {
			return fmt.Errorf("backend: select_option: %w", err)
		}
	}
	return nil
}

func (p *rodPage) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error {
	pg := p.withTimeout(ctx, timeout)
	switch state {
	case "hidden", "detached":
		el, err := pg.Element(selector)
		if err != nil {
			// Not present at all satisfies "hidden"/"detached".
			return nil
		}
		return el.WaitInvisible()
	default: // "visible" or unset
		el, err := pg.Element(selector)
		if err != nil {
			return fmt.Errorf("backend: wait_for_selector: %w", err)
		}
		return el.WaitVisible()
	}
}

func (p *rodPage) WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error {
	pg := p.withTimeout(ctx, timeout)
	return waitForLoadState(pg, state)
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool, format string, quality int) ([]byte, error) {
	pg := p.page.Context(ctx)
	fmtProto := proto.PageCaptureScreenshotFormatPng
	if strings.EqualFold(format, "jpeg") {
		fmtProto = proto.PageCaptureScreenshotFormatJpeg
	}
	req := &proto.PageCaptureScreenshot{Format: fmtProto}
	if quality > 0 {
		q := quality
		req.Quality = &q
	}
	var data []byte
	var err error
	if fullPage {
		data, err = pg.Screenshot(true, req)
	} else {
		data, err = pg.Screenshot(false, req)
	}
	if err != nil {
		return nil, fmt.Errorf("backend: screenshot: %w", err)
	}
	return data, nil
}

func (p *rodPage) Evaluate(ctx context.Context, expression string, argument any) (any, error) {
	pg := p.page.Context(ctx)
	opts := &rod.EvalOptions{
		JS:           expression,
		ByValue:      true,
		AwaitPromise: true,
	}
	if argument != nil {
		opts.JSArgs = []any{argument}
	}
	res, err := pg.Evaluate(opts)
	if err != nil {
		return nil, fmt.Errorf("backend: evaluate: %w", err)
	}
	var out any
	if res.Value.Nil() {
		return nil, nil
	}
	if err := json.Unmarshal(res.Value.JSON(), &out); err != nil {
		// Best-effort: return the raw string form if it doesn't decode as
		// JSON (e.g. expression evaluated to undefined).
		return res.Value.String(), nil
	}
	return out, nil
}

func (p *rodPage) GetInfo(ctx context.Context) (string, string, Viewport, error) {
	pg := p.page.Context(ctx)
	info, err := pg.Info()
	if err != nil {
		return "", "", Viewport{}, fmt.Errorf("backend: get_info: %w", err)
	}
	vp := Viewport{Width: 1920, Height: 1080}
	if res, err := pg.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`); err == nil && res != nil {
		var dims struct {
			W int `json:"w"`
			H int `json:"h"`
		}
		if err := json.Unmarshal(res.Value.JSON(), &dims); err == nil && dims.W > 0 && dims.H > 0 {
			vp.Width, vp.Height = dims.W, dims.H
		}
	}
	return info.URL, info.Title, vp, nil
}

func (p *rodPage) Reload(ctx context.Context) (string, error) {
	pg := p.page.Context(ctx)
	if err := pg.Reload(); err != nil {
		return "", fmt.Errorf("backend: reload: %w", err)
	}
	_ = pg.WaitLoad()
	return pg.MustInfo().URL, nil
}

func (p *rodPage) Back(ctx context.Context) (string, error) {
	pg := p.page.Context(ctx)
	if err := pg.NavigateBack(); err != nil {
		return "", fmt.Errorf("backend: back: %w", err)
	}
	_ = pg.WaitLoad()
	return pg.MustInfo().URL, nil
}

func (p *rodPage) Forward(ctx context.Context) (string, error) {
	pg := p.page.Context(ctx)
	if err := pg.NavigateForward(); err != nil {
		return "", fmt.Errorf("backend: forward: %w", err)
	}
	_ = pg.WaitLoad()
	return pg.MustInfo().URL, nil
}

// Subscribe wires console/network CDP events into typed channels per page,
// grounded on the reference EachEvent wiring this server's capture layer
// replaces (there the callbacks fed a Datalog fact sink; here they feed
// ring buffers by way of internal/capture). Delivery does not end when ctx
// is cancelled, only when Cancel is called; both channels are closed once
// the event loop has returned.
func (p *rodPage) Subscribe(ctx context.Context) (Subscription, error) {
	consoleCh := make(chan ConsoleEvent, 256)
	networkCh := make(chan NetworkEvent, 256)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pg := p.page.Context(subCtx)

	wait := pg.EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			select {
			case consoleCh <- ConsoleEvent{
				Type: consoleKindFromProto(ev.Type),
				Text: stringifyConsoleArgs(ev.Args),
				At:   time.Now(),
			}:
			default:
				// Drop under sustained backpressure rather than block the
				// CDP event loop; the ring buffer already drops oldest on
				// overflow so this only trades which tail gets lost.
			}
		},
		func(ev *proto.NetworkRequestWillBeSent) {
			method, url := "", ""
			if ev.Request != nil {
				method, url = ev.Request.Method, ev.Request.URL
			}
			select {
			case networkCh <- NetworkEvent{
				RequestID: string(ev.RequestID),
				Method:    method,
				URL:       url,
				Direction: "request",
				At:        time.Now(),
			}:
			default:
			}
		},
		func(ev *proto.NetworkResponseReceived) {
			status, url := 0, ""
			if ev.Response != nil {
				status, url = ev.Response.Status, ev.Response.URL
			}
			select {
			case networkCh <- NetworkEvent{
				RequestID: string(ev.RequestID),
				URL:       url,
				Direction: "response",
				Status:    status,
				At:        time.Now(),
			}:
			default:
			}
		},
		func(ev *proto.NetworkLoadingFailed) {
			select {
			case networkCh <- NetworkEvent{
				RequestID: string(ev.RequestID),
				Direction: "failed",
				Failure:   ev.ErrorText,
				At:        time.Now(),
			}:
			default:
			}
		},
	)
	go func() {
		wait()
		close(consoleCh)
		close(networkCh)
	}()

	return Subscription{
		Console: consoleCh,
		Network: networkCh,
		Cancel: func() {
			cancel()
		},
	}, nil
}

func (p *rodPage) Closed() bool {
	if p.closed.Load() {
		return true
	}
	if _, err := p.page.Info(); err != nil {
		p.closed.Store(true)
		return true
	}
	return false
}

func (p *rodPage) Close(ctx context.Context) error {
	p.closed.Store(true)
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("backend: close page: %w", err)
	}
	return nil
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// namedKeys maps the non-printable key names the dispatcher accepts (see
// internal/dispatch) to rod's input.Key constants. Single printable
// characters are not listed here; Press falls back to InsertText for those.
var namedKeys = map[string]input.Key{
	"enter":     input.Enter,
	"return":    input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"space":     input.Space,
	"arrowup":   input.ArrowUp,
	"arrowdown": input.ArrowDown,
	"arrowleft": input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":      input.Home,
	"end":       input.End,
	"pageup":    input.PageUp,
	"pagedown":  input.PageDown,
}

// base64Image decodes a data-URL or bare-base64 screenshot payload. Nothing
// calls it; internal/httpapi decodes screenshot payloads with its own
// decodeScreenshotField.
func base64Image(s string) ([]byte, error) {
	if idx := strings.Index(s, ","); strings.HasPrefix(s, "data:") && idx >= 0 {
		s = s[idx+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}
