// Package signaling defines the JSON messages exchanged with the media server
// over the WebSocket, and the codec that turns them into wire text and back.
package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType identifies the kind of signaling message (the "type" field).
type MessageType string

const (
	MsgTypeConnect   MessageType = "connect"
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeUpdate    MessageType = "update" // inbound update-offer and outbound update-answer
	MsgTypeCandidate MessageType = "candidate"
	MsgTypePing      MessageType = "ping"
	MsgTypePong      MessageType = "pong"
	MsgTypeNotify    MessageType = "notify"
	MsgTypeStats     MessageType = "stats"
)

// Message is implemented by every signaling message variant.
type Message interface {
	Type() MessageType
}

// Role is the wire value of the client's role in the channel.
type Role string

const (
	RoleUpstream   Role = "upstream"   // publisher
	RoleDownstream Role = "downstream" // subscriber
)

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Connect asks the server to join a channel.
type Connect struct {
	Role        Role       `json:"role"`
	ChannelID   string     `json:"channel_id"`
	AccessToken string     `json:"access_token,omitempty"`
	Multistream bool       `json:"multistream,omitempty"`
	Video       *MediaSpec `json:"video,omitempty"`
	Audio       *MediaSpec `json:"audio,omitempty"`
}

// Answer carries the local SDP answer to the initial offer.
type Answer struct {
	SDP string `json:"sdp"`
}

// UpdateAnswer carries the local SDP answer to an update offer. It shares the
// "update" type tag with the inbound update offer.
type UpdateAnswer struct {
	SDP string `json:"sdp"`
}

// Candidate carries one ICE candidate line.
type Candidate struct {
	Candidate string `json:"candidate"`
}

// Pong answers a server ping.
type Pong struct{}

// MediaSpec is the "video" / "audio" entry of a connect message. A disabled
// spec is encoded as the literal false.
type MediaSpec struct {
	Disabled  bool
	CodecType string
	BitRate   int
}

type mediaSpecWire struct {
	CodecType string `json:"codec_type,omitempty"`
	BitRate   int    `json:"bit_rate,omitempty"`
}

// MarshalJSON encodes the spec as false or as an object.
func (m MediaSpec) MarshalJSON() ([]byte, error) {
	if m.Disabled {
		return []byte("false"), nil
	}
	return json.Marshal(mediaSpecWire{CodecType: m.CodecType, BitRate: m.BitRate})
}

// UnmarshalJSON accepts true, false or an object.
func (m *MediaSpec) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "false":
		*m = MediaSpec{Disabled: true}
		return nil
	case "true", "null":
		*m = MediaSpec{}
		return nil
	}

	var w mediaSpecWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("media spec: %w", err)
	}
	*m = MediaSpec{CodecType: w.CodecType, BitRate: w.BitRate}
	return nil
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// Offer is the server's initial SDP offer.
type Offer struct {
	ClientID string       `json:"client_id"`
	SDP      string       `json:"sdp"`
	Config   *OfferConfig `json:"config,omitempty"`
}

// OfferConfig is the optional transport configuration pushed with an offer.
type OfferConfig struct {
	ICEServers         []ICEServer `json:"iceServers,omitempty"`
	ICETransportPolicy string      `json:"iceTransportPolicy,omitempty"`
}

// ICEServer describes one STUN/TURN server.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UpdateOffer is a renegotiation offer sent by the server in multistream mode.
type UpdateOffer struct {
	SDP string `json:"sdp"`
}

// Ping is a server keepalive request.
type Ping struct{}

// Notify is a server push notification. Raw keeps the full payload for
// fields this package does not model.
type Notify struct {
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Stats carries the server's connection counters for the channel.
type Stats struct {
	ChannelConnections    *int `json:"channel_connections,omitempty"`
	UpstreamConnections   *int `json:"upstream_connections,omitempty"`
	DownstreamConnections *int `json:"downstream_connections,omitempty"`
}

func (*Connect) Type() MessageType      { return MsgTypeConnect }
func (*Answer) Type() MessageType       { return MsgTypeAnswer }
func (*UpdateAnswer) Type() MessageType { return MsgTypeUpdate }
func (*Candidate) Type() MessageType    { return MsgTypeCandidate }
func (*Pong) Type() MessageType         { return MsgTypePong }
func (*Offer) Type() MessageType        { return MsgTypeOffer }
func (*UpdateOffer) Type() MessageType  { return MsgTypeUpdate }
func (*Ping) Type() MessageType         { return MsgTypePing }
func (*Notify) Type() MessageType       { return MsgTypeNotify }
func (*Stats) Type() MessageType        { return MsgTypeStats }
