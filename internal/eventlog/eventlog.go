// Package eventlog records what happened during a session: transport and
// signaling traffic, engine state changes and lifecycle transitions.
package eventlog

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind groups events by the component that produced them.
type Kind int

const (
	KindWebSocket Kind = iota
	KindSignaling
	KindPeerConnection
	KindMediaStream
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "WebSocket"
	case KindSignaling:
		return "Signaling"
	case KindPeerConnection:
		return "PeerConnection"
	case KindMediaStream:
		return "MediaStream"
	case KindSession:
		return "Session"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one log entry.
type Event struct {
	Time    time.Time
	Kind    Kind
	Comment string
}

func (e Event) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Time.Format("15:04:05.000"), e.Kind, e.Comment)
}

// DefaultLimit is the number of events kept by New(0).
const DefaultLimit = 500

// Log keeps the most recent events in memory. A nil *Log discards
// everything, so components can mark unconditionally.
type Log struct {
	mu     sync.Mutex
	limit  int
	events []Event
	onMark func(Event)
	trace  *zerolog.Logger
	now    func() time.Time
}

// New creates a log holding at most limit events (DefaultLimit if limit <= 0).
func New(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit, now: time.Now}
}

// SetTrace additionally writes every event as a JSON line to w. A nil w
// turns tracing off.
func (l *Log) SetTrace(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		l.trace = nil
		return
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	l.trace = &logger
}

// OnMark registers fn to be called after each event is recorded. It
// replaces any previous hook.
func (l *Log) OnMark(fn func(Event)) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.onMark = fn
	l.mu.Unlock()
}

// Mark records an event.
func (l *Log) Mark(kind Kind, format string, args ...any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	ev := Event{Time: l.now(), Kind: kind, Comment: fmt.Sprintf(format, args...)}
	l.events = append(l.events, ev)
	if over := len(l.events) - l.limit; over > 0 {
		l.events = slices.Delete(l.events, 0, over)
	}
	fn := l.onMark
	trace := l.trace
	l.mu.Unlock()

	if trace != nil {
		trace.Info().Str("kind", kind.String()).Msg(ev.Comment)
	}
	if fn != nil {
		fn(ev)
	}
}

// Events returns a copy of the recorded events, oldest first.
func (l *Log) Events() []Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Filter returns the recorded events of the given kind.
func (l *Log) Filter(kind Kind) []Event {
	var out []Event
	for _, ev := range l.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Clear drops every recorded event.
func (l *Log) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
