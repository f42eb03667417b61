// Package backend defines the narrow interface the rest of the server is
// written against, and a concrete implementation wrapping go-rod. Tests
// elsewhere stub Backend and Page deterministically instead of driving a
// real browser.
package backend

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// BrowserKind is one of the three browser families the spec names.
type BrowserKind string

const (
	Chromium BrowserKind = "chromium"
	Firefox  BrowserKind = "firefox"
	WebKit   BrowserKind = "webkit"
)

// Viewport describes a page's current rendered size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ConsoleEvent is the backend-native shape produced by console subscriptions
// before internal/capture converts it into a ring buffer entry.
type ConsoleEvent struct {
	Type     string
	Text     string
	Args     []string
	Location string
	At       time.Time
}

// NetworkEvent is the backend-native shape produced by network subscriptions.
type NetworkEvent struct {
	RequestID string
	Method    string
	URL       string
	Direction string // request, response, failed
	Status    int
	Failure   string
	At        time.Time
}

// Subscription is returned by Page.Subscribe; cancel stops delivery and
// releases backend resources. Events are delivered on the returned channels
// until Cancel is called or the page closes; both channels are closed once
// delivery stops, which is what lets a consumer draining them exit.
type Subscription struct {
	Console <-chan ConsoleEvent
	Network <-chan NetworkEvent
	Cancel  func()
}

// Backend launches browsers and creates isolated contexts. The ~15-method
// Page interface below is where the bulk of the command dispatcher's work
// happens; Backend itself only needs to get a Page into existence.
type Backend interface {
	// Launch starts (or attaches to) a browser of kind, honoring headless,
	// and returns a handle usable to create pages. It does not create any
	// page itself.
	Launch(ctx context.Context, kind BrowserKind, headless bool) (BrowserHandle, error)
}

// BrowserHandle represents one launched browser + isolated context pairing,
// owned exclusively by a single session.
type BrowserHandle interface {
	NewPage(ctx context.Context, url string) (Page, error)
	Close(ctx context.Context) error
}

// Page is the narrow (~15 method) surface the command dispatcher and event
// capture are written against.
type Page interface {
	Goto(ctx context.Context, url string, waitUntil string) (currentURL string, err error)
	Click(ctx context.Context, selector string) error
	ClickXY(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	SelectOption(ctx context.Context, selector, value string) error
	WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error
	WaitForLoadState(ctx context.Context, state string, timeout time.Duration) error
	Screenshot(ctx context.Context, fullPage bool, format string, quality int) ([]byte, error)
	Evaluate(ctx context.Context, expression string, argument any) (any, error)
	GetInfo(ctx context.Context) (url, title string, viewport Viewport, err error)
	Reload(ctx context.Context) (string, error)
	Back(ctx context.Context) (string, error)
	Forward(ctx context.Context) (string, error)

	// Subscribe installs console/network hooks and must be called once per
	// page by internal/capture immediately after creation.
	Subscribe(ctx context.Context) (Subscription, error)

	// Closed reports whether the backend has observed this page close out
	// from under us (tab closed, crash, etc). Checked lazily before
	// dispatching a command.
	Closed() bool

	Close(ctx context.Context) error
}

// consoleKindFromProto maps a CDP console API call type to the spec's
// console kind vocabulary.
func consoleKindFromProto(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeLog:
		return "log"
	case proto.RuntimeConsoleAPICalledTypeInfo:
		return "info"
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return "warning"
	case proto.RuntimeConsoleAPICalledTypeError:
		return "error"
	case proto.RuntimeConsoleAPICalledTypeDebug:
		return "debug"
	case proto.RuntimeConsoleAPICalledTypeTrace:
		return "trace"
	default:
		return string(t)
	}
}
