// Package capture installs console/network event subscriptions on a page
// and feeds two bounded ring buffers from one consumer goroutine per page
// that drains both channels, so callbacks never block the HTTP surface and
// never take the page's command mutex.
package capture

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"browserd/internal/backend"
	"browserd/internal/ringbuffer"
)

const (
	ConsoleCapacity = 1000
	NetworkCapacity = 500
)

// ConsoleEntry is one console ring buffer element.
type ConsoleEntry struct {
	At       time.Time
	Kind     string // log, info, warning, error, debug, trace
	Text     string
	Location string
	Args     []string
}

func (e ConsoleEntry) Timestamp() time.Time { return e.At }

// NetworkEntry is one network ring buffer element.
type NetworkEntry struct {
	At        time.Time
	Method    string
	URL       string
	Direction string // request, response, failed
	Status    int
	Failure   string
}

func (e NetworkEntry) Timestamp() time.Time { return e.At }

// Recorder owns the two ring buffers for a single page and the goroutines
// draining its backend subscription.
type Recorder struct {
	Console *ringbuffer.Buffer[ConsoleEntry]
	Network *ringbuffer.Buffer[NetworkEntry]

	cancel func()
	done   chan struct{}
}

// Start subscribes to sub's channels and begins consuming them. Call Stop
// when the owning page closes.
func Start(sub backend.Subscription, log *zap.Logger) *Recorder {
	r := &Recorder{
		Console: ringbuffer.New[ConsoleEntry](ConsoleCapacity),
		Network: ringbuffer.New[NetworkEntry](NetworkCapacity),
		cancel:  sub.Cancel,
		done:    make(chan struct{}),
	}

	go r.consume(sub, log)
	return r
}

func (r *Recorder) consume(sub backend.Subscription, log *zap.Logger) {
	defer close(r.done)

	consoleCh := sub.Console
	networkCh := sub.Network
	for consoleCh != nil || networkCh != nil {
		select {
		case ev, ok := <-consoleCh:
			if !ok {
				consoleCh = nil
				continue
			}
			r.Console.Append(toConsoleEntry(ev))
		case ev, ok := <-networkCh:
			if !ok {
				networkCh = nil
				continue
			}
			r.Network.Append(toNetworkEntry(ev))
		}
	}
	if log != nil {
		log.Debug("capture: consumer stopped")
	}
}

func toConsoleEntry(ev backend.ConsoleEvent) ConsoleEntry {
	entry := ConsoleEntry{
		At:       ev.At,
		Kind:     ev.Type,
		Text:     ev.Text,
		Location: ev.Location,
	}
	if len(ev.Args) > 0 {
		entry.Args = ev.Args
	} else if ev.Text != "" {
		// Best-effort argument capture: if the raw text parses as a JSON
		// value it is recorded as the single argument; otherwise Args stays
		// empty and the raw text is kept only in Text.
		var probe any
		if json.Unmarshal([]byte(ev.Text), &probe) == nil {
			entry.Args = []string{ev.Text}
		}
	}
	return entry
}

func toNetworkEntry(ev backend.NetworkEvent) NetworkEntry {
	return NetworkEntry{
		At:        ev.At,
		Method:    ev.Method,
		URL:       ev.URL,
		Direction: ev.Direction,
		Status:    ev.Status,
		Failure:   ev.Failure,
	}
}

// Stop cancels the backend subscription and waits for the consumer
// goroutine to drain and exit.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}
