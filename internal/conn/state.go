package conn

import "fmt"

// State is the lifecycle state of a Machine.
type State int32

const (
	Disconnected State = iota
	TransportConnecting
	TransportConnected
	NegotiationReady
	OfferReceived
	AnsweringInProgress
	Answered
	Connected
	UpdateOffered
	Disconnecting
	// Terminated is only ever reported by Machine.State, once the owner has
	// released a machine that was not Disconnected.
	Terminated
)

var stateNames = [...]string{
	Disconnected:        "Disconnected",
	TransportConnecting: "TransportConnecting",
	TransportConnected:  "TransportConnected",
	NegotiationReady:    "NegotiationReady",
	OfferReceived:       "OfferReceived",
	AnsweringInProgress: "AnsweringInProgress",
	Answered:            "Answered",
	Connected:           "Connected",
	UpdateOffered:       "UpdateOffered",
	Disconnecting:       "Disconnecting",
	Terminated:          "Terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// negotiating reports whether an initial offer/answer round is in flight.
func (s State) negotiating() bool {
	return s >= OfferReceived && s <= Answered
}

// live reports whether the connection is up, possibly renegotiating.
func (s State) live() bool {
	return s == Connected || s == UpdateOffered
}

// active reports whether the machine owns open collaborators and has not
// begun tearing them down.
func (s State) active() bool {
	return s >= TransportConnecting && s <= UpdateOffered
}
