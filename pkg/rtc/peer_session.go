/*
 * PeerSession - one negotiated connection to one remote participant.
 *
 * Exactly one session exists per (remote participant, feature) pair,
 * owned by the feature that created it. The state machine is
 * New -> Offering/Answering -> Connected -> Closed; ICE candidates
 * that arrive before the remote description are buffered in FIFO order
 * and applied the moment it lands. No candidate is ever discarded just
 * because negotiation is incomplete.
 */
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/utils"
)

// SessionState is a peer session's negotiation state.
type SessionState int32

const (
	SessionNew SessionState = iota
	SessionOffering
	SessionAnswering
	SessionConnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionOffering:
		return "offering"
	case SessionAnswering:
		return "answering"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerSession wraps one PeerConnection and its negotiation state.
type PeerSession struct {
	mu sync.Mutex

	peerID string
	pc     *webrtc.PeerConnection
	logger *utils.Logger

	state     SessionState
	remoteSet bool

	// Candidates received before the remote description, flushed in
	// arrival order as soon as it is set.
	pendingCandidates []webrtc.ICECandidateInit

	// Outbound tracks added to this session.
	senders []*webrtc.RTPSender

	closed bool
}

func newPeerSession(peerID string, pc *webrtc.PeerConnection, logger *utils.Logger) *PeerSession {
	return &PeerSession{
		peerID: peerID,
		pc:     pc,
		logger: logger,
		state:  SessionNew,
	}
}

// ID returns the remote participant's id.
func (s *PeerSession) ID() string { return s.peerID }

// State returns the current negotiation state.
func (s *PeerSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingCandidateCount reports how many candidates are buffered.
func (s *PeerSession) PendingCandidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingCandidates)
}

// AddTrack attaches an outbound track to this session.
func (s *PeerSession) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	s.senders = append(s.senders, sender)
	return sender, nil
}

// CreateOffer moves New -> Offering and returns the local description
// to send to the peer.
func (s *PeerSession) CreateOffer() (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return webrtc.SessionDescription{}, ErrSessionClosed
	}
	if s.state != SessionNew {
		return webrtc.SessionDescription{}, ErrInvalidTransition
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	s.state = SessionOffering
	return offer, nil
}

// HandleOffer moves New -> Answering: applies the remote offer, flushes
// any buffered candidates, and returns the local answer.
func (s *PeerSession) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return webrtc.SessionDescription{}, ErrSessionClosed
	}
	if s.state != SessionNew {
		return webrtc.SessionDescription{}, ErrInvalidTransition
	}
	if offer.SDP == "" {
		return webrtc.SessionDescription{}, ErrInvalidSDP
	}

	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.remoteSet = true
	s.flushPendingLocked()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	s.state = SessionAnswering
	return answer, nil
}

// HandleAnswer completes an offer we initiated: applies the remote
// answer and flushes any buffered candidates.
func (s *PeerSession) HandleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != SessionOffering {
		return ErrInvalidTransition
	}
	if answer.SDP == "" {
		return ErrInvalidSDP
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	s.remoteSet = true
	s.flushPendingLocked()

	s.state = SessionConnected
	return nil
}

// AddRemoteCandidate applies a candidate from the peer, buffering it
// when the remote description has not landed yet.
func (s *PeerSession) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	if !s.remoteSet {
		s.pendingCandidates = append(s.pendingCandidates, candidate)
		return nil
	}
	return s.pc.AddICECandidate(candidate)
}

// flushPendingLocked applies buffered candidates in arrival order.
// Callers hold s.mu and have just set the remote description.
func (s *PeerSession) flushPendingLocked() {
	for _, candidate := range s.pendingCandidates {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("[rtc] peer %s: buffered candidate rejected: %v", s.peerID, err)
		}
	}
	s.pendingCandidates = nil
}

// markConnected records ICE-level connectivity and reports whether the
// session transitioned. Answering sessions reach Connected through
// here rather than through an answer message; offering sessions are
// already Connected by the time ICE completes.
func (s *PeerSession) markConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == SessionClosed || s.state == SessionConnected {
		return false
	}
	s.state = SessionConnected
	return true
}

// Close tears the session down. Idempotent; any state may transition
// to Closed.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = SessionClosed
	s.pendingCandidates = nil
	s.senders = nil
	pc := s.pc
	s.mu.Unlock()

	if pc != nil {
		return pc.Close()
	}
	return nil
}

// IsClosed returns whether the session is closed.
func (s *PeerSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
