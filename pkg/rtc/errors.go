package rtc

import "errors"

var (
	// ErrSessionClosed indicates the peer session has been closed
	ErrSessionClosed = errors.New("peer session is closed")

	// ErrSessionExists indicates a session for the peer already exists
	ErrSessionExists = errors.New("peer session already exists")

	// ErrSessionNotFound indicates no session exists for the peer
	ErrSessionNotFound = errors.New("peer session not found")

	// ErrNegotiatorClosed indicates the negotiator has been closed
	ErrNegotiatorClosed = errors.New("negotiator is closed")

	// ErrInvalidSDP indicates a malformed session description
	ErrInvalidSDP = errors.New("invalid SDP")

	// ErrInvalidTransition indicates an offer/answer arrived in a state
	// that cannot accept it
	ErrInvalidTransition = errors.New("invalid negotiation state transition")

	// ErrICEFailed indicates ICE connectivity failed
	ErrICEFailed = errors.New("ICE connection failed")
)
