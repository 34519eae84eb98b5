/*
 * Negotiator - the offer/answer/ICE exchange primitive shared by the
 * screen share and voice chat features. Each feature owns one
 * negotiator; sessions are never shared across features.
 *
 * The negotiator stays wire-agnostic: the owning feature supplies send
 * functions, because the payload shapes differ per feature. Local ICE
 * candidates are sent the moment they are produced, independent of how
 * far the remote side has progressed.
 */
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/utils"
)

// Callbacks connects a negotiator to its feature's wire format.
type Callbacks struct {
	SendOffer     func(peerID string, offer webrtc.SessionDescription) error
	SendAnswer    func(peerID string, answer webrtc.SessionDescription) error
	SendCandidate func(peerID string, candidate webrtc.ICECandidateInit) error

	// OnTrack fires when the remote side adds a media track.
	OnTrack func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	// OnSessionState fires on negotiation state changes.
	OnSessionState func(peerID string, state SessionState)
}

// maxEarlyCandidates bounds the per-peer buffer of candidates that
// arrive before any session exists for that peer.
const maxEarlyCandidates = 64

// Negotiator drives per-peer negotiation state machines for one
// feature.
type Negotiator struct {
	mu sync.RWMutex

	engine    *Engine
	feature   string
	callbacks Callbacks
	logger    *utils.Logger

	sessions map[string]*PeerSession

	// Candidates can outrun the offer that belongs to them: the sender
	// forwards them the moment pion produces them, while the offer waits
	// on CreateOffer/SetLocalDescription. Candidates for a peer with no
	// session yet are held here in arrival order and flushed into the
	// session the moment it is created.
	early map[string][]webrtc.ICECandidateInit

	closed bool
}

// NewNegotiator creates a negotiator for one feature ("screen-share",
// "voice-chat").
func NewNegotiator(engine *Engine, feature string, callbacks Callbacks) *Negotiator {
	return &Negotiator{
		engine:    engine,
		feature:   feature,
		callbacks: callbacks,
		logger:    utils.GetLogger(),
		sessions:  make(map[string]*PeerSession),
		early:     make(map[string][]webrtc.ICECandidateInit),
	}
}

// Offer creates a session toward peerID, attaches the given outbound
// tracks, and sends the offer. The session must not already exist;
// renegotiation is teardown-then-Offer.
func (n *Negotiator) Offer(peerID string, tracks ...webrtc.TrackLocal) error {
	session, err := n.createSession(peerID)
	if err != nil {
		return err
	}

	for _, track := range tracks {
		if _, err := session.AddTrack(track); err != nil {
			n.removeSession(peerID)
			return err
		}
	}

	offer, err := session.CreateOffer()
	if err != nil {
		n.removeSession(peerID)
		return err
	}
	n.emitState(peerID, SessionOffering)

	if err := n.callbacks.SendOffer(peerID, offer); err != nil {
		n.removeSession(peerID)
		return err
	}
	return nil
}

// HandleOffer answers a remote offer. An existing session for the peer
// is torn down first: an unexpected offer means the remote side
// restarted negotiation.
func (n *Negotiator) HandleOffer(peerID string, offer webrtc.SessionDescription, tracks ...webrtc.TrackLocal) error {
	if _, ok := n.Session(peerID); ok {
		n.logger.Info("[%s] peer %s re-offered, recreating session", n.feature, peerID)
		n.removeSession(peerID)
	}

	session, err := n.createSession(peerID)
	if err != nil {
		return err
	}

	for _, track := range tracks {
		if _, err := session.AddTrack(track); err != nil {
			n.removeSession(peerID)
			return err
		}
	}

	answer, err := session.HandleOffer(offer)
	if err != nil {
		n.removeSession(peerID)
		return err
	}
	n.emitState(peerID, SessionAnswering)

	if err := n.callbacks.SendAnswer(peerID, answer); err != nil {
		n.removeSession(peerID)
		return err
	}
	return nil
}

// HandleAnswer completes an offer we initiated.
func (n *Negotiator) HandleAnswer(peerID string, answer webrtc.SessionDescription) error {
	session, ok := n.Session(peerID)
	if !ok {
		return ErrSessionNotFound
	}
	if err := session.HandleAnswer(answer); err != nil {
		return err
	}
	n.emitState(peerID, SessionConnected)
	return nil
}

// HandleCandidate routes a remote candidate to the peer's session,
// which buffers it when negotiation is still in flight. A candidate
// that beats the peer's offer is held until the session exists.
func (n *Negotiator) HandleCandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	n.mu.Lock()
	session, ok := n.sessions[peerID]
	if !ok {
		if n.closed {
			n.mu.Unlock()
			return ErrNegotiatorClosed
		}
		if len(n.early[peerID]) >= maxEarlyCandidates {
			n.mu.Unlock()
			n.logger.Warn("[%s] early candidate buffer full for peer %s, dropping", n.feature, peerID)
			return nil
		}
		n.early[peerID] = append(n.early[peerID], candidate)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return session.AddRemoteCandidate(candidate)
}

// Session returns the session for a peer.
func (n *Negotiator) Session(peerID string) (*PeerSession, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.sessions[peerID]
	return s, ok
}

// SessionIDs returns the ids of all live sessions.
func (n *Negotiator) SessionIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.sessions))
	for id := range n.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live sessions.
func (n *Negotiator) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// CloseSession closes and removes one peer's session. A negotiation
// failure never spreads: sibling sessions are untouched.
func (n *Negotiator) CloseSession(peerID string) {
	n.removeSession(peerID)
}

// CloseAll closes every session. Sessions are gone from the map before
// any network close completes.
func (n *Negotiator) CloseAll() {
	n.mu.Lock()
	sessions := n.sessions
	n.sessions = make(map[string]*PeerSession)
	n.early = make(map[string][]webrtc.ICECandidateInit)
	n.mu.Unlock()

	for id, s := range sessions {
		_ = s.Close()
		n.emitState(id, SessionClosed)
	}
}

// Close closes all sessions and refuses further use.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.CloseAll()
}

func (n *Negotiator) createSession(peerID string) (*PeerSession, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNegotiatorClosed
	}
	if _, exists := n.sessions[peerID]; exists {
		n.mu.Unlock()
		return nil, ErrSessionExists
	}
	n.mu.Unlock()

	pc, err := n.engine.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	session := newPeerSession(peerID, pc, n.logger)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || n.callbacks.SendCandidate == nil {
			return
		}
		// Fire-and-forward: probing must not wait on the offer/answer
		// round trip.
		if err := n.callbacks.SendCandidate(peerID, c.ToJSON()); err != nil {
			n.logger.Warn("[%s] sending candidate to %s failed: %v", n.feature, peerID, err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if n.callbacks.OnTrack != nil {
			n.callbacks.OnTrack(peerID, track, receiver)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected:
			if session.markConnected() {
				n.emitState(peerID, SessionConnected)
			}
		case webrtc.ICEConnectionStateFailed:
			n.logger.Warn("[%s] ICE failed for peer %s: %v", n.feature, peerID, ErrICEFailed)
			n.removeSession(peerID)
		}
	})

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = session.Close()
		return nil, ErrNegotiatorClosed
	}
	if _, exists := n.sessions[peerID]; exists {
		n.mu.Unlock()
		_ = session.Close()
		return nil, ErrSessionExists
	}
	n.sessions[peerID] = session
	held := n.early[peerID]
	delete(n.early, peerID)
	n.mu.Unlock()

	// Candidates that arrived ahead of the session go in first, in
	// arrival order. The session buffers them again until the remote
	// description lands.
	for _, candidate := range held {
		if err := session.AddRemoteCandidate(candidate); err != nil {
			n.logger.Warn("[%s] early candidate for peer %s rejected: %v", n.feature, peerID, err)
		}
	}

	return session, nil
}

func (n *Negotiator) removeSession(peerID string) {
	n.mu.Lock()
	session, ok := n.sessions[peerID]
	if ok {
		delete(n.sessions, peerID)
	}
	n.mu.Unlock()

	if ok {
		_ = session.Close()
		n.emitState(peerID, SessionClosed)
	}
}

func (n *Negotiator) emitState(peerID string, state SessionState) {
	if n.callbacks.OnSessionState != nil {
		n.callbacks.OnSessionState(peerID, state)
	}
}
