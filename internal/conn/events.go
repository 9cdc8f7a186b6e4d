package conn

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

// transportSink and engineSink bind collaborator events to the connect
// attempt that created the collaborator; events from an older attempt are
// dropped on the loop.

type transportSink struct {
	m       *Machine
	attempt uint64
}

func (s transportSink) TransportOpened() {
	s.m.postFor(s.attempt, s.m.onTransportOpened)
}

func (s transportSink) TransportMessage(text []byte) {
	s.m.postFor(s.attempt, func() { s.m.onTransportMessage(text) })
}

func (s transportSink) TransportClosed(code int, reason string, clean bool) {
	s.m.postFor(s.attempt, func() { s.m.onTransportClosed(code, reason, clean) })
}

func (s transportSink) TransportFailed(err error) {
	s.m.postFor(s.attempt, func() { s.m.onTransportFailed(err) })
}

func (s transportSink) TransportPong(payload []byte) {
	s.m.postFor(s.attempt, func() { s.m.transportHandlers.firePong(payload) })
}

type engineSink struct {
	m       *Machine
	attempt uint64
}

func (s engineSink) SignalingStateChanged(state webrtc.SignalingState) {
	s.m.postFor(s.attempt, func() { s.m.onSignalingState(state) })
}

func (s engineSink) ICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	s.m.postFor(s.attempt, func() { s.m.onICEConnectionState(state) })
}

func (s engineSink) ICEGatheringStateChanged(state webrtc.ICEGatheringState) {
	s.m.postFor(s.attempt, func() {
		s.m.log.Mark(eventlog.KindPeerConnection, "ice gathering %s", state)
		s.m.engineHandlers.fireGatheringState(state)
	})
}

func (s engineSink) StreamAdded(stream Stream) {
	// A stream reported after teardown still has to be released.
	if !s.m.post(func() { s.m.onStreamAdded(s.attempt, stream) }) {
		stream.Release()
	}
}

func (s engineSink) StreamRemoved(id string) {
	s.m.postFor(s.attempt, func() { s.m.onStreamRemoved(id) })
}

func (s engineSink) CandidateGenerated(candidate webrtc.ICECandidateInit) {
	s.m.postFor(s.attempt, func() { s.m.onCandidateGenerated(candidate) })
}

func (s engineSink) CandidatesRemoved(n int) {
	s.m.postFor(s.attempt, func() {
		s.m.log.Mark(eventlog.KindPeerConnection, "%d candidates removed", n)
		s.m.engineHandlers.fireCandidatesRemoved(n)
	})
}

func (s engineSink) NegotiationNeeded() {
	s.m.postFor(s.attempt, func() {
		s.m.log.Mark(eventlog.KindPeerConnection, "negotiation needed")
		s.m.engineHandlers.fireNegotiationNeeded()
	})
}

// DataChannelOpened is ignored; the protocol carries no data channels.
func (s engineSink) DataChannelOpened(label string) {
	util.LogDebug("conn: ignoring data channel %q", label)
}

// ---------------------------------------------------------------------------
// Transport events
// ---------------------------------------------------------------------------

func (m *Machine) onTransportOpened() {
	m.log.Mark(eventlog.KindWebSocket, "opened")
	m.transportHandlers.fireOpen()
	if m.st != TransportConnecting {
		return
	}
	m.setState(TransportConnected)

	engine, err := m.opts.Engine.NewSession(m.cfg.Media.ICE, engineSink{m: m, attempt: m.attempt})
	if err != nil {
		m.beginTeardown(&NegotiationError{Stage: StageCreateSession, Err: err})
		return
	}
	m.engine = engine

	if m.cfg.Role == signaling.RoleUpstream {
		if err := m.attachLocalMedia(); err != nil {
			m.beginTeardown(err)
			return
		}
	}

	if err := m.sendMessage(m.cfg.connectMessage()); err != nil {
		m.beginTeardown(err)
		return
	}
	m.setState(NegotiationReady)
}

// attachLocalMedia acquires capture for a publishing session and hands the
// tracks to the engine.
func (m *Machine) attachLocalMedia() error {
	if m.opts.Capturer == nil {
		return ErrMediaCapturerFailed
	}
	media, err := m.opts.Capturer.Acquire(m.cfg.Media)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaCapturerFailed, err)
	}
	m.local = media
	if err := m.engine.AddLocalMedia(media); err != nil {
		return fmt.Errorf("%w: %w", ErrMediaCapturerFailed, err)
	}
	m.log.Mark(eventlog.KindMediaStream, "local stream %s attached", media.StreamID())
	return nil
}

func (m *Machine) onTransportMessage(text []byte) {
	m.transportHandlers.fireMessage(text)

	msg, err := signaling.Decode(text)
	if err != nil {
		if signaling.IsUnknownType(err) {
			util.LogDebug("conn: ignoring message: %v", err)
		} else {
			util.LogWarning("conn: dropping malformed message: %v", err)
		}
		return
	}
	m.log.Mark(eventlog.KindSignaling, "receive %s", msg.Type())

	switch msg := msg.(type) {
	case *signaling.Offer:
		m.onOffer(msg)
	case *signaling.UpdateOffer:
		m.onUpdate(msg)
	case *signaling.Candidate:
		m.onRemoteCandidate(msg)
	case *signaling.Ping:
		m.onPing()
	case *signaling.Notify:
		n := newNotification(msg)
		m.owner.Notified(n)
		m.signalingHandlers.fireNotify(n)
	case *signaling.Stats:
		m.owner.StatsReceived(newStatistics(msg))
	default:
		util.LogDebug("conn: ignoring inbound %s", msg.Type())
	}
}

func (m *Machine) onTransportClosed(code int, reason string, clean bool) {
	m.log.Mark(eventlog.KindWebSocket, "closed code=%d reason=%q clean=%v", code, reason, clean)
	m.transportHandlers.fireClose(code, reason, clean)
	m.transportClosed = true

	switch {
	case m.st == Disconnecting:
		if code != websocket.CloseNormalClosure && code != websocket.CloseGoingAway {
			m.errs = append(m.errs, &TransportClosedError{Code: code, Reason: reason})
		}
		m.checkGate()
	case m.st.active():
		m.beginTeardown(&TransportClosedError{Code: code, Reason: reason})
	}
}

func (m *Machine) onTransportFailed(err error) {
	m.log.Mark(eventlog.KindWebSocket, "failed: %v", err)
	m.transportHandlers.fireFailure(err)
	m.transportClosed = true

	switch {
	case m.st == Disconnecting:
		m.errs = append(m.errs, &TransportError{Err: err})
		m.checkGate()
	case m.st.active():
		m.beginTeardown(&TransportError{Err: err})
	}
}

// ---------------------------------------------------------------------------
// Signaling messages
// ---------------------------------------------------------------------------

func (m *Machine) onOffer(offer *signaling.Offer) {
	switch {
	case !m.st.active():
		return
	case m.st != NegotiationReady:
		util.LogWarning("conn: offer received in %s", m.st)
		m.beginTeardown(fmt.Errorf("%w: offer received in %s", ErrConnectionTerminated, m.st))
		return
	}

	m.setClientID(offer.ClientID)

	if offer.Config != nil {
		conf, err := applyOfferConfig(m.cfg.Media.ICE, offer.Config)
		if err != nil {
			m.beginTeardown(err)
			return
		}
		if err := m.engine.SetConfiguration(conf); err != nil {
			m.beginTeardown(&NegotiationError{Stage: StageSetConfiguration, Err: err})
			return
		}
	}

	m.setState(OfferReceived)
	m.startRound(initialRound, offer.SDP)
}

func (m *Machine) onUpdate(update *signaling.UpdateOffer) {
	if !m.cfg.Multistream {
		util.LogDebug("conn: ignoring update, multistream disabled")
		return
	}
	if m.st != Connected || m.updating {
		util.LogWarning("conn: ignoring update received in %s", m.st)
		return
	}

	m.setState(UpdateOffered)
	m.signalingHandlers.fireUpdate(update.SDP)
	m.startRound(updateRound, update.SDP)
}

func (m *Machine) onRemoteCandidate(c *signaling.Candidate) {
	if m.engine == nil || !m.st.active() {
		return
	}
	if err := m.engine.AddICECandidate(webrtc.ICECandidateInit{Candidate: c.Candidate}); err != nil {
		util.LogWarning("conn: remote candidate rejected: %v", err)
	}
}

func (m *Machine) onPing() {
	m.signalingHandlers.firePing()
	if m.st != Connected {
		return
	}
	if err := m.sendMessage(&signaling.Pong{}); err != nil {
		m.reportFailure(err)
	}
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

func (m *Machine) onSignalingState(state webrtc.SignalingState) {
	m.log.Mark(eventlog.KindPeerConnection, "signaling %s", state)
	m.engineHandlers.fireSignalingState(state)
	if m.st == Disconnecting {
		m.checkGate()
	}
}

func (m *Machine) onICEConnectionState(state webrtc.ICEConnectionState) {
	m.log.Mark(eventlog.KindPeerConnection, "ice connection %s", state)
	m.engineHandlers.fireICEState(state)

	if m.st == Disconnecting {
		m.checkGate()
		return
	}
	if !m.st.active() {
		return
	}

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		switch {
		case m.st == Answered:
			m.onConnected()
		case m.st.live():
			// Completed after Connected, or a repeat report.
		default:
			util.LogWarning("conn: ice %s in %s", state, m.st)
			m.beginTeardown(ErrIceConnectionFailed)
		}
	case webrtc.ICEConnectionStateFailed:
		m.beginTeardown(ErrIceConnectionFailed)
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateClosed:
		m.beginTeardown(ErrIceConnectionDisconnected)
	}
}

func (m *Machine) onConnected() {
	m.stopWatchdog()
	m.setState(Connected)
	util.LogInfo("conn: connected to channel %s as %s", m.cfg.ChannelID, m.cfg.Role)

	if done := m.connectDone; done != nil {
		m.connectDone = nil
		done(nil)
	}
	m.signalingHandlers.fireConnect()
}

func (m *Machine) onStreamAdded(attempt uint64, stream Stream) {
	if attempt != m.attempt || !m.st.active() {
		stream.Release()
		return
	}
	if !m.streams.Add(stream.ID(), stream) {
		return
	}
	m.log.Mark(eventlog.KindMediaStream, "stream %s added", stream.ID())
	m.owner.StreamAdded(stream)
	m.engineHandlers.fireStreamAdded(stream)
}

func (m *Machine) onStreamRemoved(id string) {
	stream, ok := m.streams.Remove(id)
	if !ok {
		return
	}
	m.log.Mark(eventlog.KindMediaStream, "stream %s removed", id)
	m.owner.StreamRemoved(stream)
	m.engineHandlers.fireStreamRemoved(stream)
	stream.Release()
}

func (m *Machine) onCandidateGenerated(candidate webrtc.ICECandidateInit) {
	m.engineHandlers.fireCandidate(candidate)
	if !m.st.active() || m.transport == nil {
		return
	}
	if err := m.sendMessage(&signaling.Candidate{Candidate: candidate.Candidate}); err != nil {
		m.beginTeardown(err)
	}
}
