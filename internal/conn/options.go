package conn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/signaling"
)

// MaxBitRate is the upper bound of MediaOption.BitRate, in kbps.
const MaxBitRate = 5000

// DefaultSTUNServers are used when no ICE servers are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
}

const (
	DefaultVideoTrackID = "mainVideoCaptureTrack"
	DefaultAudioTrackID = "mainAudioCaptureTrack"
)

// VideoCodec is the video codec requested from the server. The zero value
// leaves the choice to the server.
type VideoCodec string

const (
	VideoCodecDefault VideoCodec = ""
	VideoCodecVP8     VideoCodec = "VP8"
	VideoCodecVP9     VideoCodec = "VP9"
	VideoCodecH264    VideoCodec = "H264"
)

// AudioCodec is the audio codec requested from the server.
type AudioCodec string

const (
	AudioCodecDefault AudioCodec = ""
	AudioCodecOpus    AudioCodec = "OPUS"
	AudioCodecPCMU    AudioCodec = "PCMU"
)

// MediaOption describes the media a session sends or receives.
type MediaOption struct {
	VideoEnabled bool
	AudioEnabled bool
	VideoCodec   VideoCodec
	AudioCodec   AudioCodec
	BitRate      int // kbps, 0 means unspecified

	// ICE is the base engine configuration. Server-supplied configuration
	// carried by the offer is applied on top of it.
	ICE webrtc.Configuration

	VideoTrackID string
	AudioTrackID string
}

// DefaultMediaOption enables audio and video with server-chosen codecs and
// the default STUN server.
func DefaultMediaOption() MediaOption {
	return MediaOption{
		VideoEnabled: true,
		AudioEnabled: true,
		ICE: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: DefaultSTUNServers}},
		},
		VideoTrackID: DefaultVideoTrackID,
		AudioTrackID: DefaultAudioTrackID,
	}
}

// ClampBitRate bounds a bit rate to [0, MaxBitRate].
func ClampBitRate(kbps int) int {
	return max(0, min(kbps, MaxBitRate))
}

// Config describes one connect attempt.
type Config struct {
	URL         string
	ChannelID   string
	Role        signaling.Role
	AccessToken string
	Multistream bool
	Media       MediaOption

	// Timeout bounds the time from Connect to Connected. Zero disables the
	// watchdog.
	Timeout time.Duration
}

func (c Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("conn: missing url")
	}
	if c.ChannelID == "" {
		return fmt.Errorf("conn: missing channel id")
	}
	if c.Role != signaling.RoleUpstream && c.Role != signaling.RoleDownstream {
		return fmt.Errorf("conn: invalid role %q", c.Role)
	}
	return nil
}

// connectMessage builds the signaling connect message for c.
func (c Config) connectMessage() *signaling.Connect {
	msg := &signaling.Connect{
		Role:        c.Role,
		ChannelID:   c.ChannelID,
		AccessToken: c.AccessToken,
		Multistream: c.Multistream,
	}

	m := c.Media
	bitRate := ClampBitRate(m.BitRate)
	switch {
	case !m.VideoEnabled:
		msg.Video = &signaling.MediaSpec{Disabled: true}
	case m.VideoCodec != VideoCodecDefault || bitRate > 0:
		msg.Video = &signaling.MediaSpec{CodecType: string(m.VideoCodec), BitRate: bitRate}
	}
	switch {
	case !m.AudioEnabled:
		msg.Audio = &signaling.MediaSpec{Disabled: true}
	case m.AudioCodec != AudioCodecDefault:
		msg.Audio = &signaling.MediaSpec{CodecType: string(m.AudioCodec)}
	}
	return msg
}

// applyOfferConfig merges the server-supplied configuration of an offer into
// base. Every server in the list is kept.
func applyOfferConfig(base webrtc.Configuration, oc *signaling.OfferConfig) (webrtc.Configuration, error) {
	conf := base
	if oc == nil {
		return conf, nil
	}

	switch oc.ICETransportPolicy {
	case "":
	case "relay":
		conf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	case "all":
		conf.ICETransportPolicy = webrtc.ICETransportPolicyAll
	default:
		return conf, &UnsupportedConfigurationError{
			Detail: fmt.Sprintf("iceTransportPolicy %q", oc.ICETransportPolicy),
		}
	}

	if len(oc.ICEServers) > 0 {
		servers := make([]webrtc.ICEServer, 0, len(oc.ICEServers))
		for i, s := range oc.ICEServers {
			if len(s.URLs) == 0 {
				return conf, &UnsupportedConfigurationError{
					Detail: fmt.Sprintf("iceServers[%d] has no urls", i),
				}
			}
			servers = append(servers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
		conf.ICEServers = servers
	}
	return conf, nil
}

// ---------------------------------------------------------------------------
// Server push
// ---------------------------------------------------------------------------

// NotificationKind classifies a server notification.
type NotificationKind int

const (
	NotificationOther NotificationKind = iota
	NotificationDisconnectedUpstream
)

// Notification is a decoded "notify" message.
type Notification struct {
	Kind    NotificationKind
	Message string
	Raw     json.RawMessage
}

func newNotification(n *signaling.Notify) Notification {
	kind := NotificationOther
	if n.Message == "DISCONNECTED-UPSTREAM" {
		kind = NotificationDisconnectedUpstream
	}
	return Notification{Kind: kind, Message: n.Message, Raw: n.Raw}
}

// Statistics holds the server's connection counts for the channel. Counts
// the server did not send are zero.
type Statistics struct {
	ChannelConnections    int
	UpstreamConnections   int
	DownstreamConnections int
}

func newStatistics(s *signaling.Stats) Statistics {
	deref := func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	}
	return Statistics{
		ChannelConnections:    deref(s.ChannelConnections),
		UpstreamConnections:   deref(s.UpstreamConnections),
		DownstreamConnections: deref(s.DownstreamConnections),
	}
}
