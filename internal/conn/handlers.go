package conn

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Handler registries for observing a Machine. Each event holds at most one
// handler; registering again replaces the previous one and nil unregisters.
// Handlers run synchronously on the machine's loop, in the order the
// underlying events were observed, and must not block.

// TransportHandlers observes transport-level events.
type TransportHandlers struct {
	mu      sync.Mutex
	open    func()
	message func(text []byte)
	close   func(code int, reason string, clean bool)
	failure func(err error)
	pong    func(payload []byte)
}

func (h *TransportHandlers) OnOpen(fn func()) {
	h.mu.Lock()
	h.open = fn
	h.mu.Unlock()
}

func (h *TransportHandlers) OnMessage(fn func(text []byte)) {
	h.mu.Lock()
	h.message = fn
	h.mu.Unlock()
}

func (h *TransportHandlers) OnClose(fn func(code int, reason string, clean bool)) {
	h.mu.Lock()
	h.close = fn
	h.mu.Unlock()
}

func (h *TransportHandlers) OnFailure(fn func(err error)) {
	h.mu.Lock()
	h.failure = fn
	h.mu.Unlock()
}

func (h *TransportHandlers) OnPong(fn func(payload []byte)) {
	h.mu.Lock()
	h.pong = fn
	h.mu.Unlock()
}

func (h *TransportHandlers) fireOpen() {
	h.mu.Lock()
	fn := h.open
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *TransportHandlers) fireMessage(text []byte) {
	h.mu.Lock()
	fn := h.message
	h.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (h *TransportHandlers) fireClose(code int, reason string, clean bool) {
	h.mu.Lock()
	fn := h.close
	h.mu.Unlock()
	if fn != nil {
		fn(code, reason, clean)
	}
}

func (h *TransportHandlers) fireFailure(err error) {
	h.mu.Lock()
	fn := h.failure
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *TransportHandlers) firePong(payload []byte) {
	h.mu.Lock()
	fn := h.pong
	h.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// ---------------------------------------------------------------------------

// SignalingHandlers observes the signaling session.
type SignalingHandlers struct {
	mu         sync.Mutex
	connect    func()
	disconnect func(err error)
	update     func(sdp string)
	failure    func(err error)
	notify     func(n Notification)
	ping       func()
}

// OnConnect fires when the machine reaches Connected.
func (h *SignalingHandlers) OnConnect(fn func()) {
	h.mu.Lock()
	h.connect = fn
	h.mu.Unlock()
}

// OnDisconnect fires when teardown completes, with the aggregated error.
func (h *SignalingHandlers) OnDisconnect(fn func(err error)) {
	h.mu.Lock()
	h.disconnect = fn
	h.mu.Unlock()
}

// OnUpdate fires when an update offer is accepted for renegotiation.
func (h *SignalingHandlers) OnUpdate(fn func(sdp string)) {
	h.mu.Lock()
	h.update = fn
	h.mu.Unlock()
}

func (h *SignalingHandlers) OnFailure(fn func(err error)) {
	h.mu.Lock()
	h.failure = fn
	h.mu.Unlock()
}

func (h *SignalingHandlers) OnNotify(fn func(n Notification)) {
	h.mu.Lock()
	h.notify = fn
	h.mu.Unlock()
}

func (h *SignalingHandlers) OnPing(fn func()) {
	h.mu.Lock()
	h.ping = fn
	h.mu.Unlock()
}

func (h *SignalingHandlers) fireConnect() {
	h.mu.Lock()
	fn := h.connect
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *SignalingHandlers) fireDisconnect(err error) {
	h.mu.Lock()
	fn := h.disconnect
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *SignalingHandlers) fireUpdate(sdp string) {
	h.mu.Lock()
	fn := h.update
	h.mu.Unlock()
	if fn != nil {
		fn(sdp)
	}
}

func (h *SignalingHandlers) fireFailure(err error) {
	h.mu.Lock()
	fn := h.failure
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (h *SignalingHandlers) fireNotify(n Notification) {
	h.mu.Lock()
	fn := h.notify
	h.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (h *SignalingHandlers) firePing() {
	h.mu.Lock()
	fn := h.ping
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ---------------------------------------------------------------------------

// EngineHandlers observes the negotiation engine.
type EngineHandlers struct {
	mu                sync.Mutex
	signalingState    func(webrtc.SignalingState)
	iceState          func(webrtc.ICEConnectionState)
	gatheringState    func(webrtc.ICEGatheringState)
	streamAdded       func(Stream)
	streamRemoved     func(Stream)
	candidate         func(webrtc.ICECandidateInit)
	candidatesRemoved func(n int)
	negotiationNeeded func()
}

func (h *EngineHandlers) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	h.mu.Lock()
	h.signalingState = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	h.mu.Lock()
	h.iceState = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	h.mu.Lock()
	h.gatheringState = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnStreamAdded(fn func(Stream)) {
	h.mu.Lock()
	h.streamAdded = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnStreamRemoved(fn func(Stream)) {
	h.mu.Lock()
	h.streamRemoved = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	h.mu.Lock()
	h.candidate = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnCandidatesRemoved(fn func(n int)) {
	h.mu.Lock()
	h.candidatesRemoved = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) OnNegotiationNeeded(fn func()) {
	h.mu.Lock()
	h.negotiationNeeded = fn
	h.mu.Unlock()
}

func (h *EngineHandlers) fireSignalingState(s webrtc.SignalingState) {
	h.mu.Lock()
	fn := h.signalingState
	h.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (h *EngineHandlers) fireICEState(s webrtc.ICEConnectionState) {
	h.mu.Lock()
	fn := h.iceState
	h.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (h *EngineHandlers) fireGatheringState(s webrtc.ICEGatheringState) {
	h.mu.Lock()
	fn := h.gatheringState
	h.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (h *EngineHandlers) fireStreamAdded(s Stream) {
	h.mu.Lock()
	fn := h.streamAdded
	h.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (h *EngineHandlers) fireStreamRemoved(s Stream) {
	h.mu.Lock()
	fn := h.streamRemoved
	h.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (h *EngineHandlers) fireCandidate(c webrtc.ICECandidateInit) {
	h.mu.Lock()
	fn := h.candidate
	h.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (h *EngineHandlers) fireCandidatesRemoved(n int) {
	h.mu.Lock()
	fn := h.candidatesRemoved
	h.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (h *EngineHandlers) fireNegotiationNeeded() {
	h.mu.Lock()
	fn := h.negotiationNeeded
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
