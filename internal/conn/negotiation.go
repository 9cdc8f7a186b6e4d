package conn

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/signaling"
	"github.com/1ureka/sorasig/internal/util"
)

type roundKind int

const (
	initialRound roundKind = iota
	updateRound
)

// A negotiation round applies the remote offer, creates an answer, installs
// it and sends it. Each engine step runs on its own goroutine and posts its
// result back to the loop, so the loop never waits on the engine. Results
// carrying a stale round number (teardown bumps it) are dropped.
//
// Only one round runs at a time: an initial round owns OfferReceived through
// Answered, and an update round is only started from Connected with no other
// round in flight.

func (m *Machine) startRound(kind roundKind, sdp string) {
	m.round++
	if kind == updateRound {
		m.updating = true
	}

	engine, round := m.engine, m.round
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	go func() {
		err := engine.SetRemoteDescription(offer)
		m.postRound(round, func() { m.remoteApplied(kind, err) })
	}()
}

func (m *Machine) postRound(round uint64, fn func()) {
	m.post(func() {
		if round != m.round {
			return
		}
		fn()
	})
}

func (m *Machine) remoteApplied(kind roundKind, err error) {
	if err != nil {
		m.roundFailed(kind, &NegotiationError{Stage: StageSetRemote, Err: err})
		return
	}
	if kind == initialRound {
		m.setState(AnsweringInProgress)
	}

	engine, round := m.engine, m.round
	go func() {
		answer, err := engine.CreateAnswer()
		m.postRound(round, func() { m.answerCreated(kind, answer, err) })
	}()
}

func (m *Machine) answerCreated(kind roundKind, answer webrtc.SessionDescription, err error) {
	if err != nil {
		m.roundFailed(kind, &NegotiationError{Stage: StageCreateAnswer, Err: err})
		return
	}

	engine, round := m.engine, m.round
	go func() {
		err := engine.SetLocalDescription(answer)
		m.postRound(round, func() { m.localApplied(kind, answer, err) })
	}()
}

func (m *Machine) localApplied(kind roundKind, answer webrtc.SessionDescription, err error) {
	if err != nil {
		m.roundFailed(kind, &NegotiationError{Stage: StageSetLocal, Err: err})
		return
	}

	var msg signaling.Message = &signaling.Answer{SDP: answer.SDP}
	if kind == updateRound {
		msg = &signaling.UpdateAnswer{SDP: answer.SDP}
	}
	if err := m.sendMessage(msg); err != nil {
		m.roundFailed(kind, &NegotiationError{Stage: StageSend, Err: err})
		return
	}

	switch kind {
	case initialRound:
		m.setState(Answered)
	case updateRound:
		m.updating = false
		m.setState(Connected)
		util.LogDebug("conn: update answered")
	}
}

// roundFailed ends a round. The initial round tears the connection down; an
// update round reports the failure and returns to Connected.
func (m *Machine) roundFailed(kind roundKind, err error) {
	if kind == initialRound {
		m.beginTeardown(err)
		return
	}
	m.updating = false
	m.setState(Connected)
	m.reportFailure(&UpdateError{Err: err})
}
