package peersync

import (
	"fmt"
	"time"
)

// ExchangeState is the position of one offered article in the
// offer/decision/transfer handshake.
type ExchangeState int

const (
	Offered ExchangeState = iota
	Accepted
	Rejected
	TimedOut
	Stored
	Failed
)

var stateNames = [...]string{
	Offered:  "offered",
	Accepted: "accepted",
	Rejected: "rejected",
	TimedOut: "timed-out",
	Stored:   "stored",
	Failed:   "failed",
}

func (s ExchangeState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s ExchangeState) Terminal() bool {
	switch s {
	case Rejected, TimedOut, Stored, Failed:
		return true
	}
	return false
}

var transitions = map[ExchangeState][]ExchangeState{
	Offered:  {Accepted, Rejected, TimedOut},
	Accepted: {Stored, Failed, TimedOut},
}

// PeerProtocolError means a peer broke the offer/accept/transfer sequence.
// It ends that exchange only.
type PeerProtocolError struct {
	Peer      string
	MessageID string
	Reason    string
}

func (e *PeerProtocolError) Error() string {
	return fmt.Sprintf("peer %s: %s: %s", e.Peer, e.MessageID, e.Reason)
}

// Exchange tracks one article through the handshake.
type Exchange struct {
	MessageID string
	State     ExchangeState
	Started   time.Time
}

func newExchange(id string, now time.Time) *Exchange {
	return &Exchange{MessageID: id, State: Offered, Started: now}
}

// Advance moves the exchange to next, refusing transitions the handshake
// does not allow.
func (x *Exchange) Advance(next ExchangeState) error {
	for _, allowed := range transitions[x.State] {
		if allowed == next {
			x.State = next
			return nil
		}
	}
	return &PeerProtocolError{
		MessageID: x.MessageID,
		Reason:    fmt.Sprintf("transition %s -> %s not allowed", x.State, next),
	}
}

// Expired reports whether an exchange awaiting transfer outlived timeout.
func (x *Exchange) Expired(now time.Time, timeout time.Duration) bool {
	return x.State == Accepted && timeout > 0 && now.Sub(x.Started) > timeout
}
