package conn

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sorasig/internal/eventlog"
	"github.com/1ureka/sorasig/internal/util"
)

// beginTeardown moves to Disconnecting and asks both collaborators to close.
// cause, if any, is the first error of the teardown. Calling it again while
// Disconnecting only records cause.
func (m *Machine) beginTeardown(cause error) {
	if cause != nil {
		if m.st == Disconnecting || m.st.active() {
			m.errs = append(m.errs, cause)
		}
		util.LogDebug("conn: teardown cause: %v", cause)
	}
	if !m.st.active() {
		return
	}

	m.stopWatchdog()
	m.round++
	m.updating = false
	m.setState(Disconnecting)

	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			m.errs = append(m.errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if m.transport != nil {
		m.transport.Close()
	} else {
		m.transportClosed = true
	}
	m.checkGate()
}

// checkGate completes the teardown once the transport has reported its
// terminal event and the engine reports both signaling and ICE closed.
func (m *Machine) checkGate() {
	if m.st != Disconnecting || !m.transportClosed {
		return
	}
	if e := m.engine; e != nil {
		if e.SignalingState() != webrtc.SignalingStateClosed ||
			e.ICEConnectionState() != webrtc.ICEConnectionStateClosed {
			return
		}
	}
	m.finishTeardown()
}

func (m *Machine) finishTeardown() {
	err := Aggregate(m.errs)
	m.errs = nil

	connectDone, disconnectDone := m.connectDone, m.disconnectDone
	m.connectDone, m.disconnectDone = nil, nil

	if err != nil {
		util.LogError("conn: disconnected: %v", err)
		m.owner.Failed(err)
		m.signalingHandlers.fireFailure(err)
	}
	if connectDone != nil {
		if err != nil {
			connectDone(err)
		} else {
			connectDone(ErrConnectCanceled)
		}
	}
	if disconnectDone != nil {
		disconnectDone(err)
	}

	m.releaseHandles()
	m.log.Mark(eventlog.KindSession, "teardown complete")
	m.setState(Disconnected)
	m.signalingHandlers.fireDisconnect(err)
}

// releaseHandles drops the collaborators in a fixed order: stream sources
// first, then the engine, then the transport.
func (m *Machine) releaseHandles() {
	for _, s := range m.streams.Clear() {
		s.Release()
	}
	if m.local != nil {
		m.local.Release()
		m.local = nil
	}
	m.engine = nil
	m.transport = nil
}
