package rtc

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// recorder captures everything a negotiator sends.
type recorder struct {
	mu         sync.Mutex
	offers     map[string]webrtc.SessionDescription
	answers    map[string]webrtc.SessionDescription
	candidates map[string][]webrtc.ICECandidateInit
	states     []string
}

func newRecorder() *recorder {
	return &recorder{
		offers:     make(map[string]webrtc.SessionDescription),
		answers:    make(map[string]webrtc.SessionDescription),
		candidates: make(map[string][]webrtc.ICECandidateInit),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		SendOffer: func(peerID string, offer webrtc.SessionDescription) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.offers[peerID] = offer
			return nil
		},
		SendAnswer: func(peerID string, answer webrtc.SessionDescription) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.answers[peerID] = answer
			return nil
		},
		SendCandidate: func(peerID string, candidate webrtc.ICECandidateInit) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.candidates[peerID] = append(r.candidates[peerID], candidate)
			return nil
		},
		OnSessionState: func(peerID string, state SessionState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, peerID+":"+state.String())
		},
	}
}

func (r *recorder) offerFor(peerID string) (webrtc.SessionDescription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[peerID]
	return offer, ok
}

func (r *recorder) answerFor(peerID string) (webrtc.SessionDescription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	answer, ok := r.answers[peerID]
	return answer, ok
}


func testTrack(t *testing.T) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "test-stream")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

func TestOfferCreatesSessionAndSends(t *testing.T) {
	engine := newTestEngine(t)
	rec := newRecorder()
	n := NewNegotiator(engine, "test-feature", rec.callbacks())
	defer n.Close()

	if err := n.Offer("u2", testTrack(t)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	if n.Count() != 1 {
		t.Fatalf("Count = %d, want 1", n.Count())
	}
	offer, ok := rec.offerFor("u2")
	if !ok || offer.SDP == "" {
		t.Fatalf("no offer sent to u2")
	}
	s, ok := n.Session("u2")
	if !ok || s.State() != SessionOffering {
		t.Fatalf("session state = %v, want offering", s.State())
	}

	if err := n.Offer("u2", testTrack(t)); err != ErrSessionExists {
		t.Fatalf("duplicate Offer = %v, want ErrSessionExists", err)
	}
}

func TestOfferAnswerBetweenNegotiators(t *testing.T) {
	engine := newTestEngine(t)
	recA := newRecorder()
	recB := newRecorder()
	a := NewNegotiator(engine, "test-feature", recA.callbacks())
	b := NewNegotiator(engine, "test-feature", recB.callbacks())
	defer a.Close()
	defer b.Close()

	if err := a.Offer("peer-b", testTrack(t)); err != nil {
		t.Fatalf("a.Offer: %v", err)
	}
	offer, _ := recA.offerFor("peer-b")

	if err := b.HandleOffer("peer-a", offer); err != nil {
		t.Fatalf("b.HandleOffer: %v", err)
	}
	answer, ok := recB.answerFor("peer-a")
	if !ok || answer.SDP == "" {
		t.Fatalf("no answer sent to peer-a")
	}
	if s, _ := b.Session("peer-a"); s.State() != SessionAnswering {
		t.Fatalf("b session state = %v, want answering", s.State())
	}

	if err := a.HandleAnswer("peer-b", answer); err != nil {
		t.Fatalf("a.HandleAnswer: %v", err)
	}
	if s, _ := a.Session("peer-b"); s.State() != SessionConnected {
		t.Fatalf("a session state = %v, want connected", s.State())
	}
}

func TestReofferRecreatesSession(t *testing.T) {
	engine := newTestEngine(t)
	recA := newRecorder()
	recB := newRecorder()
	a := NewNegotiator(engine, "test-feature", recA.callbacks())
	b := NewNegotiator(engine, "test-feature", recB.callbacks())
	defer a.Close()
	defer b.Close()

	if err := a.Offer("peer-b", testTrack(t)); err != nil {
		t.Fatalf("a.Offer: %v", err)
	}
	offer1, _ := recA.offerFor("peer-b")
	if err := b.HandleOffer("peer-a", offer1); err != nil {
		t.Fatalf("b.HandleOffer: %v", err)
	}
	first, _ := b.Session("peer-a")

	// The remote side restarting negotiation replaces the session
	// instead of failing.
	a.CloseSession("peer-b")
	if err := a.Offer("peer-b", testTrack(t)); err != nil {
		t.Fatalf("a.Offer (second): %v", err)
	}
	offer2, _ := recA.offerFor("peer-b")
	if err := b.HandleOffer("peer-a", offer2); err != nil {
		t.Fatalf("b.HandleOffer (re-offer): %v", err)
	}

	if b.Count() != 1 {
		t.Fatalf("Count = %d after re-offer, want 1", b.Count())
	}
	second, _ := b.Session("peer-a")
	if first == second {
		t.Fatal("session not recreated on re-offer")
	}
	if !first.IsClosed() {
		t.Fatal("old session left open after re-offer")
	}
}

func TestCandidateBeforeSessionIsHeld(t *testing.T) {
	engine := newTestEngine(t)
	n := NewNegotiator(engine, "test-feature", newRecorder().callbacks())
	defer n.Close()

	// Local candidates are forwarded the moment pion produces them, so
	// they can reach the other side before the offer does. They must
	// survive until the session exists.
	if err := n.HandleCandidate("u2", hostCandidate(40000)); err != nil {
		t.Fatalf("HandleCandidate before session: %v", err)
	}
	if err := n.HandleCandidate("u2", hostCandidate(40001)); err != nil {
		t.Fatalf("HandleCandidate before session: %v", err)
	}

	if err := n.Offer("u2", testTrack(t)); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	s, ok := n.Session("u2")
	if !ok {
		t.Fatal("no session for u2")
	}
	if got := s.PendingCandidateCount(); got != 2 {
		t.Fatalf("PendingCandidateCount = %d, want 2 held candidates", got)
	}
}

func TestEarlyCandidateAppliedAfterRemoteOffer(t *testing.T) {
	engine := newTestEngine(t)
	recA := newRecorder()
	recB := newRecorder()
	a := NewNegotiator(engine, "test-feature", recA.callbacks())
	b := NewNegotiator(engine, "test-feature", recB.callbacks())
	defer a.Close()
	defer b.Close()

	// B sees A's candidate before A's offer.
	if err := b.HandleCandidate("peer-a", hostCandidate(41000)); err != nil {
		t.Fatalf("b.HandleCandidate: %v", err)
	}

	if err := a.Offer("peer-b", testTrack(t)); err != nil {
		t.Fatalf("a.Offer: %v", err)
	}
	offer, _ := recA.offerFor("peer-b")
	if err := b.HandleOffer("peer-a", offer); err != nil {
		t.Fatalf("b.HandleOffer: %v", err)
	}

	s, ok := b.Session("peer-a")
	if !ok {
		t.Fatal("no session for peer-a")
	}
	if got := s.PendingCandidateCount(); got != 0 {
		t.Fatalf("%d candidates still pending after remote description", got)
	}
	if _, ok := recB.answerFor("peer-a"); !ok {
		t.Fatal("no answer sent to peer-a")
	}
}

func TestEarlyCandidateBufferClearedOnCloseAll(t *testing.T) {
	engine := newTestEngine(t)
	n := NewNegotiator(engine, "test-feature", newRecorder().callbacks())
	defer n.Close()

	if err := n.HandleCandidate("u2", hostCandidate(42000)); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	n.CloseAll()

	if err := n.Offer("u2", testTrack(t)); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	s, _ := n.Session("u2")
	if got := s.PendingCandidateCount(); got != 0 {
		t.Fatalf("stale candidate survived CloseAll: %d pending", got)
	}
}

func TestHandleAnswerUnknownPeer(t *testing.T) {
	engine := newTestEngine(t)
	n := NewNegotiator(engine, "test-feature", newRecorder().callbacks())
	defer n.Close()

	err := n.HandleAnswer("nobody", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	if err != ErrSessionNotFound {
		t.Fatalf("HandleAnswer unknown = %v, want ErrSessionNotFound", err)
	}
}

func TestCloseSessionIsIsolated(t *testing.T) {
	engine := newTestEngine(t)
	rec := newRecorder()
	n := NewNegotiator(engine, "test-feature", rec.callbacks())
	defer n.Close()

	if err := n.Offer("u2", testTrack(t)); err != nil {
		t.Fatalf("Offer u2: %v", err)
	}
	if err := n.Offer("u3", testTrack(t)); err != nil {
		t.Fatalf("Offer u3: %v", err)
	}

	n.CloseSession("u2")
	if n.Count() != 1 {
		t.Fatalf("Count = %d, want 1", n.Count())
	}
	if s, ok := n.Session("u3"); !ok || s.IsClosed() {
		t.Fatal("sibling session affected by CloseSession")
	}
}

func TestCloseAllSynchronous(t *testing.T) {
	engine := newTestEngine(t)
	n := NewNegotiator(engine, "test-feature", newRecorder().callbacks())

	for _, id := range []string{"u2", "u3", "u4"} {
		if err := n.Offer(id, testTrack(t)); err != nil {
			t.Fatalf("Offer %s: %v", id, err)
		}
	}
	sessions := make([]*PeerSession, 0, 3)
	for _, id := range n.SessionIDs() {
		s, _ := n.Session(id)
		sessions = append(sessions, s)
	}

	n.CloseAll()
	// Zero sessions the moment the call returns, not eventually.
	if n.Count() != 0 {
		t.Fatalf("Count = %d after CloseAll, want 0", n.Count())
	}
	for _, s := range sessions {
		if !s.IsClosed() {
			t.Fatalf("session %s still open after CloseAll", s.ID())
		}
	}

	n.Close()
	if err := n.Offer("u5", testTrack(t)); err != ErrNegotiatorClosed {
		t.Fatalf("Offer after Close = %v, want ErrNegotiatorClosed", err)
	}
}
