package capture

import (
	"strings"
	"time"

	"browserd/internal/ringbuffer"
)

// ConsoleQuery is the conjunction of filters the console endpoints accept.
type ConsoleQuery struct {
	Kinds        map[string]struct{} // nil/empty means any kind
	Since, Until time.Time           // zero means unbounded
	TextContains string
	Limit int
}

// QueryConsole runs q against the console ring buffer.
func (r *Recorder) QueryConsole(q ConsoleQuery) []ConsoleEntry {
	filter := ringbuffer.Filter[ConsoleEntry]{Match: func(e ConsoleEntry) bool {
		if len(q.Kinds) > 0 {
			if _, ok := q.Kinds[e.Kind]; !ok {
				return false
			}
		}
		if !q.Since.IsZero() && e.At.Before(q.Since) {
			return false
		}
		if !q.Until.IsZero() && e.At.After(q.Until) {
			return false
		}
		if q.TextContains != "" && !strings.Contains(e.Text, q.TextContains) {
			return false
		}
		return true
	}}
	return r.Console.Query(filter, q.Limit)
}

// TotalConsoleCaptured returns the number of console events ever appended,
// including ones since evicted by ring-buffer overflow.
func (r *Recorder) TotalConsoleCaptured() int64 {
	return r.Console.TotalAdded()
}

// NetworkQuery is the conjunction of filters the network endpoints accept.
type NetworkQuery struct {
	Since, Until time.Time
	URLContains  string
	Limit        int
}

// QueryNetwork runs q against the network ring buffer.
func (r *Recorder) QueryNetwork(q NetworkQuery) []NetworkEntry {
	filter := ringbuffer.Filter[NetworkEntry]{Match: func(e NetworkEntry) bool {
		if !q.Since.IsZero() && e.At.Before(q.Since) {
			return false
		}
		if !q.Until.IsZero() && e.At.After(q.Until) {
			return false
		}
		if q.URLContains != "" && !strings.Contains(e.URL, q.URLContains) {
			return false
		}
		return true
	}}
	return r.Network.Query(filter, q.Limit)
}

// QueryErrors is a thin specialization of QueryConsole used by the
// /pages/{pid}/errors endpoint: kinds restricted to {error, warning}.
func (r *Recorder) QueryErrors(limit int) []ConsoleEntry {
	return r.QueryConsole(ConsoleQuery{
		Kinds: map[string]struct{}{"error": {}, "warning": {}},
		Limit: limit,
	})
}
