package engine

import (
	"errors"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/util"
)

// Session wraps a single PeerConnection. Remote tracks are grouped into
// streams by their msid stream id.
//
// pion does not report its own shutdown through the state callbacks, so
// Close emits the closed signaling and ICE states itself, and the getters
// answer Closed from then on.
type Session struct {
	pc   *webrtc.PeerConnection
	sink conn.EngineSink

	mu      sync.Mutex
	streams map[string]*Stream
	senders []*webrtc.RTPSender
	closed  bool
}

var _ conn.EngineSession = (*Session)(nil)

func newSession(pc *webrtc.PeerConnection, sink conn.EngineSink) *Session {
	s := &Session{
		pc:      pc,
		sink:    sink,
		streams: make(map[string]*Stream),
	}

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		if s.isClosed() {
			return
		}
		sink.SignalingStateChanged(state)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if s.isClosed() {
			return
		}
		sink.ICEConnectionStateChanged(state)
	})

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		sink.ICEGatheringStateChanged(state)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering; nothing is sent for it.
		if c == nil {
			return
		}
		sink.CandidateGenerated(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		util.LogDebug("engine: remote %s track %s (stream %s)", track.Kind(), track.ID(), track.StreamID())
		if st, created := s.attachTrack(track); created {
			sink.StreamAdded(st)
		}
	})

	pc.OnNegotiationNeeded(func() { sink.NegotiationNeeded() })

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { sink.DataChannelOpened(dc.Label()) })
	})

	return s
}

// ---------------------------------------------------------------------------
// Negotiation steps
// ---------------------------------------------------------------------------

func (s *Session) SetConfiguration(config webrtc.Configuration) error {
	return s.pc.SetConfiguration(config)
}

// SetRemoteDescription applies desc and drops the streams the new
// description no longer carries.
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.reconcile(desc)
	return nil
}

func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

func (s *Session) SetLocalDescription(desc webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(desc)
}

func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// AddLocalMedia adds every track of media to the connection.
func (s *Session) AddLocalMedia(media conn.LocalMedia) error {
	for _, track := range media.Tracks() {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.senders = append(s.senders, sender)
		s.mu.Unlock()

		// RTCP has to be drained for interceptors to run.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func (s *Session) SignalingState() webrtc.SignalingState {
	if s.isClosed() {
		return webrtc.SignalingStateClosed
	}
	return s.pc.SignalingState()
}

func (s *Session) ICEConnectionState() webrtc.ICEConnectionState {
	if s.isClosed() {
		return webrtc.ICEConnectionStateClosed
	}
	return s.pc.ICEConnectionState()
}

// Close shuts the PeerConnection down and reports the closed states.
// Remote streams are not released here; their owner does that.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	senders := s.senders
	s.senders = nil
	s.mu.Unlock()

	var errs []error
	for _, sender := range senders {
		errs = append(errs, sender.Stop())
	}
	errs = append(errs, s.pc.Close())

	s.sink.SignalingStateChanged(webrtc.SignalingStateClosed)
	s.sink.ICEConnectionStateChanged(webrtc.ICEConnectionStateClosed)

	return errors.Join(errs...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

// attachTrack files track under its stream, creating the stream on first
// sight.
func (s *Session) attachTrack(track *webrtc.TrackRemote) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := track.StreamID()
	st, ok := s.streams[id]
	if !ok {
		st = newStream(id)
		s.streams[id] = st
	}
	st.addTrack(track)
	return st, !ok
}

// reconcile removes streams whose id is absent from every receiving media
// section of desc.
func (s *Session) reconcile(desc webrtc.SessionDescription) {
	live, err := activeStreamIDs(desc)
	if err != nil {
		util.LogDebug("engine: parse remote description: %v", err)
		return
	}

	s.mu.Lock()
	var gone []string
	for id := range s.streams {
		if !live[id] {
			gone = append(gone, id)
			delete(s.streams, id)
		}
	}
	s.mu.Unlock()

	for _, id := range gone {
		util.LogDebug("engine: remote stream %s removed", id)
		s.sink.StreamRemoved(id)
	}
}

// activeStreamIDs collects the msid stream ids of the media sections in
// desc that still send media.
func activeStreamIDs(desc webrtc.SessionDescription) (map[string]bool, error) {
	parsed, err := desc.Unmarshal()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Port.Value == 0 {
			continue
		}
		if _, ok := md.Attribute("inactive"); ok {
			continue
		}
		if _, ok := md.Attribute("recvonly"); ok {
			continue
		}
		for _, a := range md.Attributes {
			if a.Key != "msid" {
				continue
			}
			if id, _, _ := strings.Cut(a.Value, " "); id != "" && id != "-" {
				ids[id] = true
			}
		}
	}
	return ids, nil
}
