package engine

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/conn"
)

// Stream is a remote media stream: the tracks sharing one msid stream id.
// Its tracks are drained in the background until the stream is released or
// the track ends; rendering is left to whoever reads Tracks.
type Stream struct {
	id string

	mu       sync.Mutex
	tracks   []*webrtc.TrackRemote
	released bool

	packets atomic.Int64
	bytes   atomic.Int64
}

var _ conn.Stream = (*Stream)(nil)

func newStream(id string) *Stream {
	return &Stream{id: id}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns a copy of the stream's tracks.
func (s *Stream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

// Received reports the RTP packets and payload bytes read so far.
func (s *Stream) Received() (packets, bytes int64) {
	return s.packets.Load(), s.bytes.Load()
}

// Release stops draining the stream's tracks.
func (s *Stream) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

func (s *Stream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Stream) addTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	go s.drain(track)
}

func (s *Stream) drain(track *webrtc.TrackRemote) {
	for !s.isReleased() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		s.packets.Add(1)
		s.bytes.Add(int64(len(pkt.Payload)))
	}
}
