package conn

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

// Compile-time interface checks.
var (
	_ Transport     = (*fakeTransport)(nil)
	_ Engine        = (*fakeEngine)(nil)
	_ EngineSession = (*fakeSession)(nil)
	_ Capturer      = (*fakeCapturer)(nil)
	_ Owner         = (*fakeOwner)(nil)
	_ Stream        = (*fakeStream)(nil)
)

const waitTimeout = 2 * time.Second

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// fakeTransport records what the machine sends. With autoOpen it reports
// open as soon as Open is called; with closeOnClose it reports a normal
// close from Close.
type fakeTransport struct {
	mu           sync.Mutex
	sink         TransportSink
	autoOpen     bool
	closeOnClose bool
	sendErr      map[signaling.MessageType]error
	urls         []string
	sent         []signaling.Message
	closes       int
	terminal     bool
}

func (f *fakeTransport) Open(url string) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	open := f.autoOpen
	f.mu.Unlock()
	if open {
		f.sink.TransportOpened()
	}
}

func (f *fakeTransport) Send(text []byte) error {
	msg, err := decodeOutbound(text)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[msg.Type()]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closes++
	emit := f.closeOnClose && !f.terminal
	if emit {
		f.terminal = true
	}
	f.mu.Unlock()
	if emit {
		f.sink.TransportClosed(1000, "", true)
	}
}

// deliver feeds an inbound message to the machine.
func (f *fakeTransport) deliver(t *testing.T, msg signaling.Message) {
	t.Helper()
	data, err := signaling.Encode(msg)
	if err != nil {
		t.Fatalf("encode %T: %v", msg, err)
	}
	f.sink.TransportMessage(data)
}

func (f *fakeTransport) setSendErr(typ signaling.MessageType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr == nil {
		f.sendErr = make(map[signaling.MessageType]error)
	}
	f.sendErr[typ] = err
}

func (f *fakeTransport) sentOfType(typ signaling.MessageType) []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signaling.Message
	for _, m := range f.sent {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// decodeOutbound decodes what the machine wrote, telling an outbound update
// answer apart from an inbound update offer.
func decodeOutbound(text []byte) (signaling.Message, error) {
	var env struct {
		Type signaling.MessageType `json:"type"`
		SDP  string                `json:"sdp"`
	}
	if err := json.Unmarshal(text, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case signaling.MsgTypeUpdate:
		return &signaling.UpdateAnswer{SDP: env.SDP}, nil
	case signaling.MsgTypePong:
		return &signaling.Pong{}, nil
	}
	return signaling.Decode(text)
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

type fakeEngine struct {
	mu       sync.Mutex
	newErr   error
	setup    func(*fakeSession)
	sessions []*fakeSession
}

func (e *fakeEngine) NewSession(config webrtc.Configuration, sink EngineSink) (EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	s := &fakeSession{
		sink:       sink,
		config:     config,
		sigState:   webrtc.SignalingStateStable,
		iceState:   webrtc.ICEConnectionStateNew,
		emitClosed: true,
	}
	if e.setup != nil {
		e.setup(s)
	}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) session(t *testing.T) *fakeSession {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		n := len(e.sessions)
		var s *fakeSession
		if n > 0 {
			s = e.sessions[n-1]
		}
		e.mu.Unlock()
		if s != nil {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no engine session created")
	return nil
}

type fakeSession struct {
	mu         sync.Mutex
	sink       EngineSink
	config     webrtc.Configuration
	configs    []webrtc.Configuration
	remoteErr  error
	answerErr  error
	localErr   error
	closeErr   error
	emitClosed bool
	remotes    []webrtc.SessionDescription
	locals     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	media      []LocalMedia
	sigState   webrtc.SignalingState
	iceState   webrtc.ICEConnectionState
	closes     int
}

func (s *fakeSession) SetConfiguration(config webrtc.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, config)
	return nil
}

func (s *fakeSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteErr != nil {
		return s.remoteErr
	}
	s.remotes = append(s.remotes, desc)
	return nil
}

func (s *fakeSession) CreateAnswer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answerErr != nil {
		return webrtc.SessionDescription{}, s.answerErr
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%d", len(s.remotes)),
	}, nil
}

func (s *fakeSession) SetLocalDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localErr != nil {
		return s.localErr
	}
	s.locals = append(s.locals, desc)
	return nil
}

func (s *fakeSession) AddICECandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *fakeSession) AddLocalMedia(media LocalMedia) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = append(s.media, media)
	return nil
}

func (s *fakeSession) SignalingState() webrtc.SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sigState
}

func (s *fakeSession) ICEConnectionState() webrtc.ICEConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iceState
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	emit := s.emitClosed
	if emit {
		s.sigState = webrtc.SignalingStateClosed
		s.iceState = webrtc.ICEConnectionStateClosed
	}
	err := s.closeErr
	s.mu.Unlock()

	if emit {
		s.sink.SignalingStateChanged(webrtc.SignalingStateClosed)
		s.sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateClosed)
	}
	return err
}

// finishClose reports closed states for a session built with emitClosed off.
func (s *fakeSession) finishClose() {
	s.mu.Lock()
	s.sigState = webrtc.SignalingStateClosed
	s.iceState = webrtc.ICEConnectionStateClosed
	s.mu.Unlock()
	s.sink.SignalingStateChanged(webrtc.SignalingStateClosed)
	s.sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateClosed)
}

func (s *fakeSession) setErrs(remote, answer, local error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteErr, s.answerErr, s.localErr = remote, answer, local
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

type fakeStream struct {
	id       string
	mu       sync.Mutex
	released int
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeMedia struct {
	fakeStream
}

func (m *fakeMedia) StreamID() string            { return m.id }
func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

type fakeCapturer struct {
	err      error
	acquired []*fakeMedia
}

func (c *fakeCapturer) Acquire(opt MediaOption) (LocalMedia, error) {
	if c.err != nil {
		return nil, c.err
	}
	m := &fakeMedia{fakeStream{id: "local"}}
	c.acquired = append(c.acquired, m)
	return m, nil
}

// ---------------------------------------------------------------------------
// Owner
// ---------------------------------------------------------------------------

type fakeOwner struct {
	mu       sync.Mutex
	states   []State
	failures []error
	added    []Stream
	removed  []Stream
	notes    []Notification
	stats    []Statistics
	failed   chan error
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{failed: make(chan error, 16)}
}

func (o *fakeOwner) StateChanged(s State) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *fakeOwner) Failed(err error) {
	o.mu.Lock()
	o.failures = append(o.failures, err)
	o.mu.Unlock()
	o.failed <- err
}

func (o *fakeOwner) StreamAdded(s Stream) {
	o.mu.Lock()
	o.added = append(o.added, s)
	o.mu.Unlock()
}

func (o *fakeOwner) StreamRemoved(s Stream) {
	o.mu.Lock()
	o.removed = append(o.removed, s)
	o.mu.Unlock()
}

func (o *fakeOwner) Notified(n Notification) {
	o.mu.Lock()
	o.notes = append(o.notes, n)
	o.mu.Unlock()
}

func (o *fakeOwner) StatsReceived(s Statistics) {
	o.mu.Lock()
	o.stats = append(o.stats, s)
	o.mu.Unlock()
}

func (o *fakeOwner) failureCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.failures)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	m         *Machine
	owner     *fakeOwner
	engine    *fakeEngine
	capturer  *fakeCapturer
	mu        sync.Mutex
	factory   int
	transport *fakeTransport
	// tune adjusts each new transport before Open is called.
	tune func(*fakeTransport)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		owner:    newFakeOwner(),
		engine:   &fakeEngine{},
		capturer: &fakeCapturer{},
	}
	h.m = New(Options{
		NewTransport: func(sink TransportSink) Transport {
			ft := &fakeTransport{sink: sink, autoOpen: true, closeOnClose: true}
			h.mu.Lock()
			h.factory++
			h.transport = ft
			tune := h.tune
			h.mu.Unlock()
			if tune != nil {
				tune(ft)
			}
			return ft
		},
		Engine:   h.engine,
		Capturer: h.capturer,
		Owner:    h.owner,
	})
	t.Cleanup(h.m.Release)
	return h
}

func (h *harness) tr() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

func (h *harness) factoryCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.factory
}

func testConfig() Config {
	return Config{
		URL:       "wss://sora.example/signaling",
		ChannelID: "room1",
		Role:      signaling.RoleDownstream,
		Media:     DefaultMediaOption(),
		Timeout:   10 * time.Second,
	}
}

// connect starts a connect attempt and returns the channel its completion
// is delivered on.
func (h *harness) connect(cfg Config) chan error {
	ch := make(chan error, 4)
	h.m.Connect(cfg, func(err error) { ch <- err })
	return ch
}

func (h *harness) disconnect() chan error {
	ch := make(chan error, 4)
	h.m.Disconnect(func(err error) { ch <- err })
	return ch
}

// connectFully drives a connect attempt to Connected.
func (h *harness) connectFully(t *testing.T, cfg Config) (chan error, *fakeSession) {
	t.Helper()
	done := h.connect(cfg)
	waitState(t, h.m, NegotiationReady)
	h.tr().deliver(t, &signaling.Offer{ClientID: "client-1", SDP: "offer-sdp"})
	waitState(t, h.m, Answered)
	s := h.engine.session(t)
	s.sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateConnected)
	if err := waitErr(t, done); err != nil {
		t.Fatalf("connect completion: %v", err)
	}
	waitState(t, h.m, Connected)
	return done, s
}

// flush waits until everything posted to the loop so far has run.
func flush(t *testing.T, m *Machine) {
	t.Helper()
	ch := make(chan struct{})
	if !m.loop.post(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("loop did not drain")
	}
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("completion not delivered")
		return nil
	}
}

// expectNone checks that ch stays empty for a short while.
func expectNone(t *testing.T, ch <-chan error, what string) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("unexpected %s: %v", what, err)
	case <-time.After(50 * time.Millisecond):
	}
}
