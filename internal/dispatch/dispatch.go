package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"browserd/internal/apperr"
	"browserd/internal/backend"
	"browserd/internal/session"
)

// Result is the thin JSON-shaped map returned to the HTTP surface. It is
// never shared in shape with apperr's error body.
type Result map[string]any

// Dispatcher looks commands up in the fixed table and invokes the backend,
// serializing per page via the page's own mutex.
type Dispatcher struct {
	Sessions        *session.Manager
	DefaultTimeout  time.Duration
	AllowJSFallback bool
	Log             *zap.Logger
}

// New constructs a Dispatcher.
func New(sessions *session.Manager, defaultTimeout time.Duration, allowJSFallback bool, log *zap.Logger) *Dispatcher {
	return &Dispatcher{Sessions: sessions, DefaultTimeout: defaultTimeout, AllowJSFallback: allowJSFallback, Log: log}
}

// ExecuteLine parses line as a one-line command form and executes it. If
// parsing fails and AllowJSFallback is set, line is wrapped in an async
// IIFE that returns it and run via Evaluate instead of failing outright — the
// fallback path the spec's Open Question decided in favor of.
func (d *Dispatcher) ExecuteLine(ctx context.Context, pageID string, line string) (Result, error) {
	cmd, err := ParseLine(line)
	if err == nil {
		return d.Execute(ctx, pageID, cmd)
	}
	if !d.AllowJSFallback {
		return nil, err
	}
	fallback := Command{Name: Evaluate, Expression: jsIIFE(line)}
	return d.Execute(ctx, pageID, fallback)
}

func jsIIFE(line string) string {
	return "(async () => { return " + line + "; })()"
}

// Execute runs cmd against pageID's backend page, serialized by the page's
// mutex, and touches the parent session on success.
func (d *Dispatcher) Execute(ctx context.Context, pageID string, cmd Command) (Result, error) {
	h, err := d.Sessions.LookupPage(pageID)
	if err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	log := d.Log
	if log != nil {
		log = log.With(zap.String("command_id", correlationID), zap.String("page_id", pageID), zap.String("command", string(cmd.Name)))
	}

	h.Mutex.Lock()
	defer h.Mutex.Unlock()

	timeout := d.DefaultTimeout
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := d.invoke(cctx, h.Backend, cmd)
	if err != nil {
		translated := translateBackendError(err)
		if log != nil {
			log.Warn("command failed", zap.String("kind", string(translated.Kind)), zap.Error(err))
		}
		return nil, translated
	}

	d.Sessions.TouchSession(h.SessionID)
	if log != nil {
		log.Debug("command succeeded")
	}
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, page backend.Page, cmd Command) (Result, error) {
	switch cmd.Name {
	case Goto:
		if cmd.URL == "" {
			return nil, apperr.New(apperr.BadArguments, "goto requires url").WithDetails(map[string]any{"field": "url"})
		}
		url, err := page.Goto(ctx, cmd.URL, cmd.WaitUntil)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "url": url}, nil

	case Click:
		if cmd.HasPosition {
			if err := page.ClickXY(ctx, cmd.X, cmd.Y); err != nil {
				return nil, err
			}
			return Result{"status": "success", "message": fmt.Sprintf("Clicked at position (%v, %v)", cmd.X, cmd.Y)}, nil
		}
		if cmd.Selector == "" {
			return nil, apperr.New(apperr.BadArguments, "click requires selector or position").WithDetails(map[string]any{"field": "selector"})
		}
		if err := page.Click(ctx, cmd.Selector); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case Fill:
		if cmd.Selector == "" || cmd.Value == "" {
			return nil, apperr.New(apperr.BadArguments, "fill requires selector and value").WithDetails(map[string]any{"field": "selector/value"})
		}
		if err := page.Fill(ctx, cmd.Selector, cmd.Value); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case Type:
		if cmd.Text == "" {
			return nil, apperr.New(apperr.BadArguments, "type requires text").WithDetails(map[string]any{"field": "text"})
		}
		if err := page.Type(ctx, cmd.Selector, cmd.Text); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case Press:
		if cmd.Key == "" {
			return nil, apperr.New(apperr.BadArguments, "press requires key").WithDetails(map[string]any{"field": "key"})
		}
		if err := page.Press(ctx, cmd.Selector, cmd.Key); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case SelectOption:
		if cmd.Selector == "" || cmd.Value == "" {
			return nil, apperr.New(apperr.BadArguments, "select_option requires selector and value").WithDetails(map[string]any{"field": "selector/value"})
		}
		if err := page.SelectOption(ctx, cmd.Selector, cmd.Value); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case WaitForSelector:
		if cmd.Selector == "" {
			return nil, apperr.New(apperr.BadArguments, "wait_for_selector requires selector").WithDetails(map[string]any{"field": "selector"})
		}
		if err := page.WaitForSelector(ctx, cmd.Selector, cmd.State, msDuration(cmd.TimeoutMs)); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case WaitForLoadState:
		if err := page.WaitForLoadState(ctx, cmd.State, msDuration(cmd.TimeoutMs)); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	case Wait:
		select {
		case <-time.After(time.Duration(cmd.WaitMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return Result{"status": "success"}, nil

	case Screenshot:
		data, err := page.Screenshot(ctx, cmd.FullPage, cmd.Format, cmd.Quality)
		if err != nil {
			return nil, err
		}
		if cmd.Path != "" {
			if err := writeScreenshot(cmd.Path, data); err != nil {
				return nil, apperr.Wrap(apperr.BackendError, err, "write screenshot")
			}
			return Result{"status": "success", "path": cmd.Path}, nil
		}
		return Result{"status": "success", "data": encodeBase64(data)}, nil

	case Evaluate:
		if cmd.Expression == "" {
			return nil, apperr.New(apperr.BadArguments, "evaluate requires expression").WithDetails(map[string]any{"field": "expression"})
		}
		res, err := page.Evaluate(ctx, cmd.Expression, cmd.Argument)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "result": res}, nil

	case GetInfo:
		url, title, vp, err := page.GetInfo(ctx)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "info": map[string]any{"url": url, "title": title, "viewport": map[string]any{"width": vp.Width, "height": vp.Height}}}, nil

	case Reload:
		url, err := page.Reload(ctx)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "url": url}, nil

	case Back:
		url, err := page.Back(ctx)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "url": url}, nil

	case Forward:
		url, err := page.Forward(ctx)
		if err != nil {
			return nil, err
		}
		return Result{"status": "success", "url": url}, nil

	case MouseClickXY:
		if err := page.ClickXY(ctx, cmd.X, cmd.Y); err != nil {
			return nil, err
		}
		return Result{"status": "success"}, nil

	default:
		return nil, apperr.Newf(apperr.UnknownCommand, "unknown command %q", cmd.Name)
	}
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// translateBackendError maps a raw backend error to the taxonomy, per the
// spec's "Backend-raised timeout/no-such-element/navigation-interrupted are
// surfaced as typed errors; anything else is BackendError" rule. Backend
// errors arrive as plain wrapped Go errors (not already apperr), so this is
// a substring classification mirroring the reference implementation's
// exception-message matching.
func translateBackendError(err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Timeout, err, "command timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return apperr.Wrap(apperr.Timeout, err, "command timed out")
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such element") || strings.Contains(msg, "could not find"):
		return apperr.Wrap(apperr.ElementNotFound, err, "element not found")
	case strings.Contains(msg, "navigation") && (strings.Contains(msg, "interrupt") || strings.Contains(msg, "cancel")):
		return apperr.Wrap(apperr.NavigationInterrupted, err, "navigation interrupted")
	default:
		return apperr.Wrap(apperr.BackendError, err, err.Error())
	}
}
