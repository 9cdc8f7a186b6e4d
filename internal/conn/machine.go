// Package conn implements the connection lifecycle of a signaling session:
// transport connect, signaling connect, offer/answer, candidate exchange,
// renegotiation and teardown, coordinating a WebSocket transport with a
// negotiation engine.
package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/registry"
	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

// Options wires a Machine to its collaborators.
type Options struct {
	NewTransport TransportFactory
	Engine       Engine
	// Capturer supplies local media for upstream sessions. An upstream
	// connect without a capturer fails with ErrMediaCapturerFailed.
	Capturer Capturer
	Owner    Owner
	Events   *eventlog.Log
}

// Machine is the connection state machine of one session. Every state
// change happens on its loop goroutine; the exported methods only post work
// to it and never block.
type Machine struct {
	opts  Options
	owner Owner
	log   *eventlog.Log
	loop  *loop

	transportHandlers TransportHandlers
	signalingHandlers SignalingHandlers
	engineHandlers    EngineHandlers

	state    atomic.Int32
	released atomic.Bool

	mu       sync.Mutex
	clientID string

	// Loop-owned.
	st              State
	cfg             Config
	attempt         uint64
	round           uint64
	updating        bool
	transport       Transport
	transportClosed bool
	engine          EngineSession
	local           LocalMedia
	streams         *registry.Registry[Stream]
	connectDone     func(error)
	disconnectDone  func(error)
	errs            []error
	watchdog        *time.Timer
}

// New creates a Disconnected machine and starts its loop.
func New(opts Options) *Machine {
	owner := opts.Owner
	if owner == nil {
		owner = nopOwner{}
	}
	return &Machine{
		opts:    opts,
		owner:   owner,
		log:     opts.Events,
		loop:    newLoop(),
		streams: registry.New[Stream](),
	}
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Connect starts a connect attempt. done is called exactly once: with nil
// when Connected is reached, or with the error that ended the attempt. A
// machine that is not Disconnected rejects the call with ErrBusy.
func (m *Machine) Connect(cfg Config, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if !m.post(func() { m.handleConnect(cfg, done) }) {
		done(ErrReleased)
	}
}

// Disconnect tears the connection down. done receives the aggregated error
// of the teardown, ErrBusy while connecting or already disconnecting, or
// ErrAlreadyDisconnected.
func (m *Machine) Disconnect(done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if !m.post(func() { m.handleDisconnect(done) }) {
		done(ErrReleased)
	}
}

// Abort tears down whatever attempt is in progress, including one still
// opening its transport, recording cause as the first error. It is a no-op
// while Disconnected or Disconnecting.
func (m *Machine) Abort(cause error) {
	m.post(func() { m.beginTeardown(cause) })
}

// Send writes a signaling message while Connected.
func (m *Machine) Send(msg signaling.Message, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if !m.post(func() { m.handleSend(msg, done) }) {
		done(ErrReleased)
	}
}

// State returns the current state. Once the owner has released a machine
// that was not Disconnected, it reports Terminated.
func (m *Machine) State() State {
	s := State(m.state.Load())
	if m.released.Load() && s != Disconnected {
		return Terminated
	}
	return s
}

// ClientID returns the id the server assigned in its last offer.
func (m *Machine) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Streams returns the remote streams currently registered.
func (m *Machine) Streams() []Stream {
	return m.streams.Handles()
}

// TransportHandlers returns the transport-level handler registry.
func (m *Machine) TransportHandlers() *TransportHandlers { return &m.transportHandlers }

// SignalingHandlers returns the signaling-level handler registry.
func (m *Machine) SignalingHandlers() *SignalingHandlers { return &m.signalingHandlers }

// EngineHandlers returns the engine-level handler registry.
func (m *Machine) EngineHandlers() *EngineHandlers { return &m.engineHandlers }

// Release detaches the owner. Collaborators still open are closed without
// reporting anything, no callback fires afterwards and the loop stops.
func (m *Machine) Release() {
	if !m.released.CompareAndSwap(false, true) {
		return
	}
	m.loop.post(func() {
		m.stopWatchdog()
		m.round++
		if m.engine != nil {
			if err := m.engine.Close(); err != nil {
				util.LogDebug("engine close on release: %v", err)
			}
		}
		if m.transport != nil {
			m.transport.Close()
		}
		m.releaseHandles()
		m.connectDone = nil
		m.disconnectDone = nil
		m.log.Mark(eventlog.KindSession, "released in state %s", m.st)
		m.loop.stop()
	})
}

// Barrier runs fn on the loop once everything posted before it has been
// handled. It reports false, and never runs fn, after Release.
func (m *Machine) Barrier(fn func()) bool {
	return m.post(fn)
}

// Done is closed once a released machine has stopped its loop.
func (m *Machine) Done() <-chan struct{} {
	return m.loop.Done()
}

// ---------------------------------------------------------------------------
// Loop plumbing
// ---------------------------------------------------------------------------

// post runs fn on the loop unless the machine has been released.
func (m *Machine) post(fn func()) bool {
	if m.released.Load() {
		return false
	}
	return m.loop.post(func() {
		if m.released.Load() {
			return
		}
		fn()
	})
}

// postFor runs fn on the loop only if attempt is still the current one.
func (m *Machine) postFor(attempt uint64, fn func()) {
	m.post(func() {
		if attempt != m.attempt {
			return
		}
		fn()
	})
}

func (m *Machine) setState(s State) {
	if m.st == s {
		return
	}
	util.LogDebug("conn: %s -> %s", m.st, s)
	m.log.Mark(eventlog.KindSession, "state %s -> %s", m.st, s)
	m.st = s
	m.state.Store(int32(s))
	m.owner.StateChanged(s)
}

func (m *Machine) setClientID(id string) {
	m.mu.Lock()
	m.clientID = id
	m.mu.Unlock()
}

// sendMessage encodes and writes msg to the current transport.
func (m *Machine) sendMessage(msg signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	if m.transport == nil {
		return ErrAlreadyDisconnected
	}
	if err := m.transport.Send(data); err != nil {
		return &TransportError{Err: err}
	}
	m.log.Mark(eventlog.KindSignaling, "send %s", msg.Type())
	return nil
}

// reportFailure delivers a non-fatal error to the owner.
func (m *Machine) reportFailure(err error) {
	util.LogWarning("%v", err)
	m.owner.Failed(err)
	m.signalingHandlers.fireFailure(err)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (m *Machine) handleConnect(cfg Config, done func(error)) {
	if m.st != Disconnected || m.connectDone != nil {
		done(ErrBusy)
		return
	}
	if err := cfg.validate(); err != nil {
		done(err)
		return
	}

	m.cfg = cfg
	m.attempt++
	m.connectDone = done
	m.errs = nil
	m.updating = false
	m.transportClosed = false
	m.setClientID("")
	m.setState(TransportConnecting)

	if cfg.Timeout > 0 {
		attempt := m.attempt
		m.watchdog = time.AfterFunc(cfg.Timeout, func() {
			m.postFor(attempt, m.handleTimeout)
		})
	}

	m.log.Mark(eventlog.KindWebSocket, "open %s", cfg.URL)
	m.transport = m.opts.NewTransport(transportSink{m: m, attempt: m.attempt})
	m.transport.Open(cfg.URL)
}

func (m *Machine) handleDisconnect(done func(error)) {
	switch {
	case m.st == Disconnected:
		done(ErrAlreadyDisconnected)
	case m.st == TransportConnecting, m.st == Disconnecting:
		done(ErrBusy)
	default:
		m.disconnectDone = done
		m.beginTeardown(nil)
	}
}

func (m *Machine) handleSend(msg signaling.Message, done func(error)) {
	switch {
	case m.st == Disconnected:
		done(ErrAlreadyDisconnected)
	case !m.st.live():
		done(ErrBusy)
	default:
		done(m.sendMessage(msg))
	}
}

func (m *Machine) handleTimeout() {
	if m.st.live() || !m.st.active() {
		return
	}
	util.LogWarning("conn: connection wait timeout in %s", m.st)
	m.beginTeardown(ErrConnectionWaitTimeout)
}

func (m *Machine) stopWatchdog() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
}

type nopOwner struct{}

func (nopOwner) StateChanged(State)       {}
func (nopOwner) Failed(error)             {}
func (nopOwner) StreamAdded(Stream)       {}
func (nopOwner) StreamRemoved(Stream)     {}
func (nopOwner) Notified(Notification)    {}
func (nopOwner) StatsReceived(Statistics) {}
