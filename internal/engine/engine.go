// Package engine adapts pion's PeerConnection to the negotiation engine the
// connection machine drives.
package engine

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/conn"
)

// Engine builds PeerConnections from one shared pion API so every session
// uses the same codecs and the pterm-backed logger.
type Engine struct {
	api *webrtc.API
}

var _ conn.Engine = (*Engine)(nil)

// New registers pion's default codecs and returns an Engine.
func New() (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{api: api}, nil
}

// NewSession creates a PeerConnection for config and reports its events to
// sink.
func (e *Engine) NewSession(config webrtc.Configuration, sink conn.EngineSink) (conn.EngineSession, error) {
	pc, err := e.api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	return newSession(pc, sink), nil
}
