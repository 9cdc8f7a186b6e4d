package conn

import (
	"github.com/pion/webrtc/v4"
)

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// Transport carries signaling text to the server. Open and Close must not
// block. After Open, the transport emits exactly one terminal event
// (TransportClosed or TransportFailed), including when Close is called
// before the connection finished opening.
type Transport interface {
	Open(url string)
	Send(text []byte) error
	Close()
}

// TransportSink receives transport events. Implementations may be called
// from any goroutine.
type TransportSink interface {
	TransportOpened()
	TransportMessage(text []byte)
	TransportClosed(code int, reason string, clean bool)
	TransportFailed(err error)
	TransportPong(payload []byte)
}

// TransportFactory builds a transport bound to sink for one connect attempt.
type TransportFactory func(sink TransportSink) Transport

// ---------------------------------------------------------------------------
// Negotiation engine
// ---------------------------------------------------------------------------

// Engine creates negotiation sessions.
type Engine interface {
	NewSession(config webrtc.Configuration, sink EngineSink) (EngineSession, error)
}

// EngineSession is one negotiation session (a peer connection). Its methods
// may block; the machine never calls the negotiation steps on its own loop.
//
// Close must eventually drive both SignalingState and ICEConnectionState to
// Closed and report those transitions to the sink.
type EngineSession interface {
	SetConfiguration(config webrtc.Configuration) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddLocalMedia(media LocalMedia) error
	SignalingState() webrtc.SignalingState
	ICEConnectionState() webrtc.ICEConnectionState
	Close() error
}

// EngineSink receives negotiation engine events. Implementations may be
// called from any goroutine.
type EngineSink interface {
	SignalingStateChanged(state webrtc.SignalingState)
	ICEConnectionStateChanged(state webrtc.ICEConnectionState)
	ICEGatheringStateChanged(state webrtc.ICEGatheringState)
	StreamAdded(stream Stream)
	StreamRemoved(id string)
	CandidateGenerated(candidate webrtc.ICECandidateInit)
	CandidatesRemoved(n int)
	NegotiationNeeded()
	DataChannelOpened(label string)
}

// Stream is a remote media stream handed out by the engine.
type Stream interface {
	ID() string
	// Release frees the stream source. It is called once, during teardown
	// or when the engine removes the stream.
	Release()
}

// ---------------------------------------------------------------------------
// Local media
// ---------------------------------------------------------------------------

// LocalMedia is a set of local tracks published by an upstream session.
type LocalMedia interface {
	StreamID() string
	Tracks() []webrtc.TrackLocal
	Release()
}

// Capturer hands out local media for publishing sessions.
type Capturer interface {
	Acquire(opt MediaOption) (LocalMedia, error)
}

// ---------------------------------------------------------------------------
// Owner
// ---------------------------------------------------------------------------

// Owner receives the machine's session-level events. Calls are made on the
// machine's loop and must not block.
type Owner interface {
	StateChanged(state State)
	Failed(err error)
	StreamAdded(stream Stream)
	StreamRemoved(stream Stream)
	Notified(n Notification)
	StatsReceived(s Statistics)
}
