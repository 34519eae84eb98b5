package rtc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/utils"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	// No STUN: these tests never leave the process.
	engine, err := NewEngine(Config{}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func newTestSession(t *testing.T, engine *Engine, peerID string) *PeerSession {
	t.Helper()
	pc, err := engine.NewPeerConnection()
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	s := newPeerSession(peerID, pc, utils.GetLogger())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hostCandidate(port int) webrtc.ICECandidateInit {
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:1 1 udp 2130706431 192.0.2.1 %d typ host", port),
		SDPMLineIndex: &idx,
	}
}

func TestCreateOfferTransitions(t *testing.T) {
	engine := newTestEngine(t)
	s := newTestSession(t, engine, "u2")

	if s.State() != SessionNew {
		t.Fatalf("initial state = %v, want new", s.State())
	}

	offer, err := s.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.SDP == "" {
		t.Fatal("empty offer SDP")
	}
	if s.State() != SessionOffering {
		t.Fatalf("state = %v after CreateOffer, want offering", s.State())
	}

	if _, err := s.CreateOffer(); err != ErrInvalidTransition {
		t.Fatalf("second CreateOffer = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.HandleOffer(offer); err != ErrInvalidTransition {
		t.Fatalf("HandleOffer while offering = %v, want ErrInvalidTransition", err)
	}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	offerer := newTestSession(t, engine, "u2")
	answerer := newTestSession(t, engine, "u1")

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	answer, err := answerer.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if answer.SDP == "" {
		t.Fatal("empty answer SDP")
	}
	if answerer.State() != SessionAnswering {
		t.Fatalf("answerer state = %v, want answering", answerer.State())
	}

	if err := offerer.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if offerer.State() != SessionConnected {
		t.Fatalf("offerer state = %v, want connected", offerer.State())
	}
}

func TestHandleAnswerGuards(t *testing.T) {
	engine := newTestEngine(t)
	s := newTestSession(t, engine, "u2")

	if err := s.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}); err != ErrInvalidTransition {
		t.Fatalf("HandleAnswer in new = %v, want ErrInvalidTransition", err)
	}

	if _, err := s.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := s.HandleAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}); err != ErrInvalidSDP {
		t.Fatalf("HandleAnswer empty SDP = %v, want ErrInvalidSDP", err)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	engine := newTestEngine(t)
	offerer := newTestSession(t, engine, "u2")
	answerer := newTestSession(t, engine, "u1")

	const burst = 50
	for i := 0; i < burst; i++ {
		if err := answerer.AddRemoteCandidate(hostCandidate(40000 + i)); err != nil {
			t.Fatalf("AddRemoteCandidate %d: %v", i, err)
		}
	}
	if got := answerer.PendingCandidateCount(); got != burst {
		t.Fatalf("pending = %d, want %d", got, burst)
	}

	// Arrival order is preserved while buffered.
	answerer.mu.Lock()
	for i, c := range answerer.pendingCandidates {
		want := fmt.Sprintf(" %d typ host", 40000+i)
		if !strings.Contains(c.Candidate, want) {
			answerer.mu.Unlock()
			t.Fatalf("candidate %d out of order: %q", i, c.Candidate)
		}
	}
	answerer.mu.Unlock()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := answerer.HandleOffer(offer); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	// The buffer drains the moment the remote description lands.
	if got := answerer.PendingCandidateCount(); got != 0 {
		t.Fatalf("pending = %d after remote description, want 0", got)
	}

	// Late candidates apply directly, no re-buffering.
	if err := answerer.AddRemoteCandidate(hostCandidate(41000)); err != nil {
		t.Fatalf("AddRemoteCandidate after remote description: %v", err)
	}
	if got := answerer.PendingCandidateCount(); got != 0 {
		t.Fatalf("pending = %d for post-description candidate, want 0", got)
	}
}

func TestZeroCandidateBurst(t *testing.T) {
	engine := newTestEngine(t)
	offerer := newTestSession(t, engine, "u2")
	answerer := newTestSession(t, engine, "u1")

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := answerer.HandleOffer(offer); err != nil {
		t.Fatalf("HandleOffer with empty buffer: %v", err)
	}
	if got := answerer.PendingCandidateCount(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	engine := newTestEngine(t)
	s := newTestSession(t, engine, "u2")

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.State() != SessionClosed {
		t.Fatalf("state = %v after Close, want closed", s.State())
	}

	if _, err := s.CreateOffer(); err != ErrSessionClosed {
		t.Fatalf("CreateOffer after Close = %v, want ErrSessionClosed", err)
	}
	if err := s.AddRemoteCandidate(hostCandidate(40000)); err != ErrSessionClosed {
		t.Fatalf("AddRemoteCandidate after Close = %v, want ErrSessionClosed", err)
	}
}

func TestMarkConnectedReportsTransitionOnce(t *testing.T) {
	engine := newTestEngine(t)
	s := newTestSession(t, engine, "u2")

	if !s.markConnected() {
		t.Fatal("first markConnected = false, want true")
	}
	// ICE completing after the answer already moved the session to
	// Connected must not look like a second connect.
	if s.markConnected() {
		t.Fatal("second markConnected = true, want false")
	}
	if s.State() != SessionConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}

	_ = s.Close()
	if s.markConnected() {
		t.Fatal("markConnected after Close = true, want false")
	}
}
