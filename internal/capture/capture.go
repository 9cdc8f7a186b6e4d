// Package capture hands out local media tracks for publishing sessions.
//
// Devices are out of scope: tracks are pion sample tracks the application
// feeds through WriteVideo and WriteAudio. Sessions asking for the same
// media share one set of tracks, released when the last holder lets go.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/util"
)

// ErrNothingToCapture is returned when both video and audio are disabled.
var ErrNothingToCapture = errors.New("capture: video and audio are both disabled")

// ErrReleased is returned when writing to a released handle.
var ErrReleased = errors.New("capture: media released")

type sourceKey struct {
	video, audio     bool
	videoCodec       conn.VideoCodec
	audioCodec       conn.AudioCodec
	videoID, audioID string
}

type source struct {
	key      sourceKey
	streamID string
	video    *webrtc.TrackLocalStaticSample
	audio    *webrtc.TrackLocalStaticSample
	refs     int
}

// Manager owns the shared capture sources. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	sources map[sourceKey]*source
}

var _ conn.Capturer = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{sources: make(map[sourceKey]*source)}
}

// Acquire returns a handle on the source matching opt, creating it on first
// use.
func (m *Manager) Acquire(opt conn.MediaOption) (conn.LocalMedia, error) {
	if !opt.VideoEnabled && !opt.AudioEnabled {
		return nil, ErrNothingToCapture
	}

	key := sourceKey{
		video:      opt.VideoEnabled,
		audio:      opt.AudioEnabled,
		videoCodec: opt.VideoCodec,
		audioCodec: opt.AudioCodec,
		videoID:    orDefault(opt.VideoTrackID, conn.DefaultVideoTrackID),
		audioID:    orDefault(opt.AudioTrackID, conn.DefaultAudioTrackID),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[key]
	if !ok {
		var err error
		if src, err = newSource(key); err != nil {
			return nil, err
		}
		m.sources[key] = src
		util.LogDebug("capture: source %s created", src.streamID)
	}
	src.refs++
	return &Media{m: m, src: src}, nil
}

// Active reports how many sources are held.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

func (m *Manager) release(src *source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src.refs--
	if src.refs > 0 {
		return
	}
	delete(m.sources, src.key)
	util.LogDebug("capture: source %s stopped", src.streamID)
}

func newSource(key sourceKey) (*source, error) {
	src := &source{key: key, streamID: uuid.NewString()}

	if key.video {
		track, err := webrtc.NewTrackLocalStaticSample(videoCapability(key.videoCodec), key.videoID, src.streamID)
		if err != nil {
			return nil, fmt.Errorf("capture: video track: %w", err)
		}
		src.video = track
	}
	if key.audio {
		track, err := webrtc.NewTrackLocalStaticSample(audioCapability(key.audioCodec), key.audioID, src.streamID)
		if err != nil {
			return nil, fmt.Errorf("capture: audio track: %w", err)
		}
		src.audio = track
	}
	return src, nil
}

func videoCapability(c conn.VideoCodec) webrtc.RTPCodecCapability {
	switch c {
	case conn.VideoCodecVP9:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
	case conn.VideoCodecH264:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}
	default:
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
}

func audioCapability(c conn.AudioCodec) webrtc.RTPCodecCapability {
	if c == conn.AudioCodecPCMU {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ---------------------------------------------------------------------------
// Media handle
// ---------------------------------------------------------------------------

// Media is one holder's view of a shared source.
type Media struct {
	m    *Manager
	src  *source
	once sync.Once

	mu       sync.Mutex
	released bool
}

var _ conn.LocalMedia = (*Media)(nil)

func (h *Media) StreamID() string { return h.src.streamID }

func (h *Media) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if h.src.video != nil {
		tracks = append(tracks, h.src.video)
	}
	if h.src.audio != nil {
		tracks = append(tracks, h.src.audio)
	}
	return tracks
}

// WriteVideo pushes an encoded video frame to every session sharing the
// source.
func (h *Media) WriteVideo(s media.Sample) error {
	return h.write(h.src.video, s)
}

// WriteAudio pushes an encoded audio frame.
func (h *Media) WriteAudio(s media.Sample) error {
	return h.write(h.src.audio, s)
}

func (h *Media) write(track *webrtc.TrackLocalStaticSample, s media.Sample) error {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()

	if released {
		return ErrReleased
	}
	if track == nil {
		return fmt.Errorf("capture: track disabled")
	}
	return track.WriteSample(s)
}

// Release drops this holder. Further calls are no-ops.
func (h *Media) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		h.m.release(h.src)
	})
}
