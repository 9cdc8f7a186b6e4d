package session

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

var (
	_ conn.Transport     = (*fakeTransport)(nil)
	_ conn.Engine        = (*fakeEngine)(nil)
	_ conn.EngineSession = (*fakeSession)(nil)
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeTransport plays a cooperative server: it opens at once, answers the
// connect message with an offer and acknowledges Close with a normal close.
// With silent set it never opens. onAnswer runs once the answer is sent.
type fakeTransport struct {
	sink     conn.TransportSink
	silent   bool
	onAnswer func()

	mu   sync.Mutex
	sent []string
	done bool
}

func (f *fakeTransport) Open(string) {
	if !f.silent {
		go f.sink.TransportOpened()
	}
}

func (f *fakeTransport) Send(text []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, string(text))
	f.mu.Unlock()

	if strings.Contains(string(text), `"type":"connect"`) {
		go f.deliver(&signaling.Offer{ClientID: "client-7", SDP: "offer"})
	}
	if strings.Contains(string(text), `"type":"answer"`) && f.onAnswer != nil {
		go f.onAnswer()
	}
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	emit := !f.done
	f.done = true
	f.mu.Unlock()
	if emit {
		go f.sink.TransportClosed(1000, "", true)
	}
}

func (f *fakeTransport) deliver(msg signaling.Message) {
	data, _ := signaling.Encode(msg)
	f.sink.TransportMessage(data)
}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeEngine struct {
	mu      sync.Mutex
	session *fakeSession
}

func (e *fakeEngine) NewSession(_ webrtc.Configuration, sink conn.EngineSink) (conn.EngineSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = &fakeSession{sink: sink}
	return e.session, nil
}

func (e *fakeEngine) current() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

type fakeSession struct {
	sink   conn.EngineSink
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) SetConfiguration(webrtc.Configuration) error          { return nil }
func (s *fakeSession) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (s *fakeSession) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (s *fakeSession) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (s *fakeSession) AddLocalMedia(conn.LocalMedia) error                  { return nil }

func (s *fakeSession) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (s *fakeSession) SignalingState() webrtc.SignalingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return webrtc.SignalingStateClosed
	}
	return webrtc.SignalingStateStable
}

func (s *fakeSession) ICEConnectionState() webrtc.ICEConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return webrtc.ICEConnectionStateClosed
	}
	return webrtc.ICEConnectionStateConnected
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.sink.SignalingStateChanged(webrtc.SignalingStateClosed)
	s.sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateClosed)
	return nil
}

type fakeStream struct{ id string }

func (s fakeStream) ID() string { return s.id }
func (s fakeStream) Release()   {}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type fixture struct {
	s      *Session
	engine *fakeEngine
	events *eventlog.Log

	mu     sync.Mutex
	tr     *fakeTransport
	silent bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{engine: &fakeEngine{}, events: eventlog.New(0)}
	f.s = New(Options{
		Config: conn.Config{
			URL:       "wss://sora.example/signaling",
			ChannelID: "room1",
			Role:      signaling.RoleDownstream,
			Media:     conn.DefaultMediaOption(),
			Timeout:   5 * time.Second,
		},
		NewTransport: func(sink conn.TransportSink) conn.Transport {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.tr = &fakeTransport{sink: sink, silent: f.silent, onAnswer: func() {
				f.engine.current().sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateConnected)
			}}
			return f.tr
		},
		Engine: f.engine,
		Events: f.events,
	})
	t.Cleanup(f.s.Release)
	return f
}

func (f *fixture) transport() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	var mu sync.Mutex
	var states []State
	f.s.OnConnectStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	if err := f.s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if f.s.State() != Connected || f.s.MachineState() != conn.Connected {
		t.Errorf("state = %s / %s", f.s.State(), f.s.MachineState())
	}
	if f.s.ClientID() != "client-7" {
		t.Errorf("client id = %q", f.s.ClientID())
	}

	if err := f.s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if f.s.State() != Disconnected {
		t.Errorf("state after disconnect = %s", f.s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Disconnecting, Disconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestConnectCancelled(t *testing.T) {
	f := newFixture(t)
	f.silent = true

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.s.Connect(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}
	if f.s.State() != Disconnected {
		t.Errorf("state = %s, want disconnected", f.s.State())
	}
}

func TestDisconnectWhileDisconnected(t *testing.T) {
	f := newFixture(t)
	if err := f.s.Disconnect(testContext(t)); !errors.Is(err, conn.ErrAlreadyDisconnected) {
		t.Errorf("err = %v, want ErrAlreadyDisconnected", err)
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	if err := f.s.Send(ctx, &signaling.Pong{}); !errors.Is(err, conn.ErrAlreadyDisconnected) {
		t.Errorf("send while disconnected = %v", err)
	}
	if err := f.s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.s.Send(ctx, &signaling.Pong{}); err != nil {
		t.Errorf("send while connected = %v", err)
	}

	msgs := f.transport().sentMessages()
	if last := msgs[len(msgs)-1]; last != `{"type":"pong"}` {
		t.Errorf("last sent = %s", last)
	}
}

func TestFailureReported(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	failures := make(chan error, 1)
	f.s.OnFailure(func(err error) { failures <- err })

	if err := f.s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f.engine.current().sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateFailed)

	select {
	case err := <-failures:
		if !errors.Is(err, conn.ErrIceConnectionFailed) {
			t.Errorf("failure = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no failure reported")
	}
}

func TestNotifyStatsAndStreams(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	notes := make(chan conn.Notification, 1)
	stats := make(chan conn.Statistics, 1)
	added := make(chan conn.Stream, 1)
	removed := make(chan conn.Stream, 1)
	f.s.OnNotify(func(n conn.Notification) { notes <- n })
	f.s.OnStatistics(func(s conn.Statistics) { stats <- s })
	f.s.OnStreamAdded(func(s conn.Stream) { added <- s })
	f.s.OnStreamRemoved(func(s conn.Stream) { removed <- s })

	if err := f.s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr := f.transport()
	tr.deliver(&signaling.Notify{Message: "DISCONNECTED-UPSTREAM"})
	up, down := 1, 3
	tr.deliver(&signaling.Stats{UpstreamConnections: &up, DownstreamConnections: &down})

	sink := f.engine.current().sink
	sink.StreamAdded(fakeStream{id: "remote-1"})

	if n := <-notes; n.Kind != conn.NotificationDisconnectedUpstream {
		t.Errorf("notification = %+v", n)
	}
	if s := <-stats; s.UpstreamConnections != 1 || s.DownstreamConnections != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s := <-added; s.ID() != "remote-1" {
		t.Errorf("added = %s", s.ID())
	}
	if len(f.s.Streams()) != 1 {
		t.Errorf("streams = %d", len(f.s.Streams()))
	}

	sink.StreamRemoved("remote-1")
	if s := <-removed; s.ID() != "remote-1" {
		t.Errorf("removed = %s", s.ID())
	}
}

func TestEventLogMarks(t *testing.T) {
	f := newFixture(t)
	if err := f.s.Connect(testContext(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var sawConnected bool
	for _, e := range f.events.Filter(eventlog.KindSession) {
		if e.Comment == "state connected" {
			sawConnected = true
		}
	}
	if !sawConnected {
		t.Errorf("session events = %v", f.events.Filter(eventlog.KindSession))
	}
	if len(f.events.Filter(eventlog.KindSignaling)) == 0 {
		t.Error("no signaling events logged")
	}
}

func TestReleaseUnblocks(t *testing.T) {
	f := newFixture(t)
	f.s.Release()

	if err := f.s.Connect(testContext(t)); !errors.Is(err, conn.ErrReleased) {
		t.Errorf("Connect after release = %v", err)
	}
}

func TestProject(t *testing.T) {
	testCases := []struct {
		in   conn.State
		want State
	}{
		{conn.Disconnected, Disconnected},
		{conn.TransportConnecting, Connecting},
		{conn.Answered, Connecting},
		{conn.Connected, Connected},
		{conn.UpdateOffered, Connected},
		{conn.Disconnecting, Disconnecting},
		{conn.Terminated, Disconnected},
	}
	for _, tc := range testCases {
		if got := project(tc.in); got != tc.want {
			t.Errorf("project(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
