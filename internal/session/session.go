// Package session is the owner-facing API of one signaling session. It
// wraps a conn.Machine with blocking, context-aware calls and the coarse
// connection state applications care about.
package session

import (
	"context"
	"sync"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

// State is the coarse connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// project maps a machine state onto the coarse state.
func project(s conn.State) State {
	switch {
	case s >= conn.TransportConnecting && s < conn.Connected:
		return Connecting
	case s == conn.Connected || s == conn.UpdateOffered:
		return Connected
	case s == conn.Disconnecting:
		return Disconnecting
	default:
		return Disconnected
	}
}

// Options configures a Session.
type Options struct {
	Config       conn.Config
	NewTransport conn.TransportFactory
	Engine       conn.Engine
	Capturer     conn.Capturer
	// Events receives the session event log. Nil disables it.
	Events *eventlog.Log
}

// Session is one publish or subscribe session.
//
// Handlers run on the session's event loop: they must return quickly and
// must not call the blocking methods of the same session.
type Session struct {
	cfg    conn.Config
	m      *conn.Machine
	events *eventlog.Log

	mu              sync.Mutex
	last            State
	onStateChange   func(State)
	onFailure       func(error)
	onStreamAdded   func(conn.Stream)
	onStreamRemoved func(conn.Stream)
	onNotify        func(conn.Notification)
	onStatistics    func(conn.Statistics)
}

// New creates a disconnected session.
func New(opts Options) *Session {
	s := &Session{cfg: opts.Config, events: opts.Events}
	s.m = conn.New(conn.Options{
		NewTransport: opts.NewTransport,
		Engine:       opts.Engine,
		Capturer:     opts.Capturer,
		Owner:        owner{s},
		Events:       opts.Events,
	})
	return s
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect runs a connect attempt and waits until it is Connected or has
// failed. Cancelling ctx aborts the attempt; the returned error then wraps
// ctx.Err().
func (s *Session) Connect(ctx context.Context) error {
	ch := make(chan error, 1)
	s.m.Connect(s.cfg, func(err error) { ch <- err })

	select {
	case err := <-ch:
		s.settle()
		return err
	case <-s.m.Done():
		return conn.ErrReleased
	case <-ctx.Done():
		s.m.Abort(ctx.Err())
	}

	select {
	case err := <-ch:
		s.settle()
		return err
	case <-s.m.Done():
		return conn.ErrReleased
	}
}

// Disconnect tears the connection down and waits for the teardown to
// finish. It returns the aggregated teardown error, if any. Cancelling ctx
// stops the wait, not the teardown.
func (s *Session) Disconnect(ctx context.Context) error {
	ch := make(chan error, 1)
	s.m.Disconnect(func(err error) { ch <- err })

	select {
	case err := <-ch:
		s.settle()
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.m.Done():
		return conn.ErrReleased
	}
}

// Send writes msg to the server. It fails unless the session is connected.
func (s *Session) Send(ctx context.Context, msg signaling.Message) error {
	ch := make(chan error, 1)
	s.m.Send(msg, func(err error) { ch <- err })

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.m.Done():
		return conn.ErrReleased
	}
}

// settle waits for the machine to finish handling the event that completed
// a call, so State reflects its outcome.
func (s *Session) settle() {
	ch := make(chan struct{})
	if !s.m.Barrier(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-s.m.Done():
	}
}

// Release closes everything without reporting it. The session is unusable
// afterwards.
func (s *Session) Release() {
	s.events.Mark(eventlog.KindSession, "released")
	s.m.Release()
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// State returns the coarse connection state.
func (s *Session) State() State { return project(s.m.State()) }

// MachineState returns the detailed lifecycle state.
func (s *Session) MachineState() conn.State { return s.m.State() }

// Config returns the configuration the session connects with.
func (s *Session) Config() conn.Config { return s.cfg }

// ClientID returns the id the server assigned to this client.
func (s *Session) ClientID() string { return s.m.ClientID() }

// Streams returns the remote streams currently received.
func (s *Session) Streams() []conn.Stream { return s.m.Streams() }

// Events returns the session event log, possibly nil.
func (s *Session) Events() *eventlog.Log { return s.events }

// Transport, Signaling and Engine expose the lower-level handler registries.
func (s *Session) Transport() *conn.TransportHandlers { return s.m.TransportHandlers() }
func (s *Session) Signaling() *conn.SignalingHandlers { return s.m.SignalingHandlers() }
func (s *Session) Engine() *conn.EngineHandlers       { return s.m.EngineHandlers() }

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// OnConnectStateChange registers fn for coarse state changes.
func (s *Session) OnConnectStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnFailure registers fn for session failures: the aggregated teardown
// error, or an *conn.UpdateError when renegotiation failed and the
// connection was kept.
func (s *Session) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

func (s *Session) OnStreamAdded(fn func(conn.Stream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStreamAdded = fn
}

func (s *Session) OnStreamRemoved(fn func(conn.Stream)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStreamRemoved = fn
}

func (s *Session) OnNotify(fn func(conn.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotify = fn
}

func (s *Session) OnStatistics(fn func(conn.Statistics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatistics = fn
}

// OnConnect and OnDisconnect are shorthands for the signaling handlers.
func (s *Session) OnConnect(fn func())             { s.m.SignalingHandlers().OnConnect(fn) }
func (s *Session) OnDisconnect(fn func(err error)) { s.m.SignalingHandlers().OnDisconnect(fn) }

// ---------------------------------------------------------------------------
// Machine owner
// ---------------------------------------------------------------------------

// owner receives machine events on the machine's loop.
type owner struct{ s *Session }

var _ conn.Owner = owner{}

func (o owner) StateChanged(st conn.State) {
	coarse := project(st)

	o.s.mu.Lock()
	changed := coarse != o.s.last
	o.s.last = coarse
	fn := o.s.onStateChange
	o.s.mu.Unlock()

	if !changed {
		return
	}
	o.s.events.Mark(eventlog.KindSession, "state %s", coarse)
	if fn != nil {
		fn(coarse)
	}
}

func (o owner) Failed(err error) {
	o.s.events.Mark(eventlog.KindSession, "failure: %v", err)
	util.LogDebug("session: failure: %v", err)

	o.s.mu.Lock()
	fn := o.s.onFailure
	o.s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (o owner) StreamAdded(st conn.Stream) {
	o.s.mu.Lock()
	fn := o.s.onStreamAdded
	o.s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (o owner) StreamRemoved(st conn.Stream) {
	o.s.mu.Lock()
	fn := o.s.onStreamRemoved
	o.s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (o owner) Notified(n conn.Notification) {
	o.s.mu.Lock()
	fn := o.s.onNotify
	o.s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (o owner) StatsReceived(st conn.Statistics) {
	o.s.mu.Lock()
	fn := o.s.onStatistics
	o.s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
