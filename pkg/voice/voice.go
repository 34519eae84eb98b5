/*
 * VoiceChatSession - full mesh voice for one room.
 *
 * Every pair of voice participants holds exactly one peer session.
 * The lexicographically smaller participant id always initiates, so a
 * pair never races to two simultaneous offers, including when both
 * sides join at the same moment.
 */
package voice

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/media"
	"github.com/streamroom/rtc_core/pkg/rtc"
	"github.com/streamroom/rtc_core/pkg/session"
	"github.com/streamroom/rtc_core/pkg/signaling"
	"github.com/streamroom/rtc_core/pkg/utils"
)

var (
	// ErrAlreadyConnected indicates voice chat is already active
	ErrAlreadyConnected = errors.New("voice chat already connected")

	// ErrNotConnected indicates voice chat is not active
	ErrNotConnected = errors.New("voice chat not connected")

	// ErrNotInRoom indicates the room membership is gone
	ErrNotInRoom = errors.New("not joined to a room")

	// ErrSessionClosed indicates the session was closed
	ErrSessionClosed = errors.New("voice session is closed")
)

const featureName = "voice-chat"

// Session drives this participant's voice chat in one room.
type Session struct {
	mu sync.Mutex

	room       *session.Room
	negotiator *rtc.Negotiator
	provider   media.CaptureProvider
	logger     *utils.Logger

	connected bool
	capture   *media.Capture
	muted     bool
	deafened  bool

	captureGen uint64

	vad *detector

	jitterConfig media.JitterBufferConfig
	stats        *rtc.TrafficStats

	onSpeaking func(speaking bool)
	sink       func(peerID string, pcm *PlaybackFrame)

	closed bool
}

// Option configures a voice session.
type Option func(*Session)

// WithJitterBuffer enables the receive-side jitter buffer.
func WithJitterBuffer(config media.JitterBufferConfig) Option {
	return func(s *Session) { s.jitterConfig = config }
}

// NewSession wires a voice chat session onto the room.
func NewSession(room *session.Room, engine *rtc.Engine, provider media.CaptureProvider, opts ...Option) *Session {
	s := &Session{
		room:         room,
		provider:     provider,
		logger:       utils.GetLogger(),
		jitterConfig: media.DefaultJitterBufferConfig(),
		stats:        rtc.NewTrafficStats(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.negotiator = rtc.NewNegotiator(engine, featureName, rtc.Callbacks{
		SendOffer: func(peerID string, offer webrtc.SessionDescription) error {
			return room.Send(signaling.MessageTypeVoiceOffer, signaling.VoiceOffer{
				Offer:   offer,
				From:    room.LocalID(),
				To:      peerID,
				PartyID: s.partyID(),
			})
		},
		SendAnswer: func(peerID string, answer webrtc.SessionDescription) error {
			return room.Send(signaling.MessageTypeVoiceAnswer, signaling.VoiceAnswer{
				Answer:  answer,
				From:    room.LocalID(),
				To:      peerID,
				PartyID: s.partyID(),
			})
		},
		SendCandidate: func(peerID string, candidate webrtc.ICECandidateInit) error {
			return room.Send(signaling.MessageTypeVoiceICECandidate, signaling.VoiceCandidate{
				Candidate: candidate,
				From:      room.LocalID(),
				To:        peerID,
				PartyID:   s.partyID(),
			})
		},
		OnTrack: func(peerID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if !media.IsAudioMime(track.Codec().MimeType) {
				s.logger.Warn("[%s] ignoring non-audio track from %s (%s)", featureName, peerID, track.Codec().MimeType)
				return
			}
			go s.receiveTrack(peerID, track)
		},
		OnSessionState: func(peerID string, state rtc.SessionState) {
			switch state {
			case rtc.SessionConnected:
				s.stats.SessionOpened()
			case rtc.SessionClosed:
				s.stats.SessionClosed()
			}
		},
	})

	room.Register(signaling.MessageTypeVoiceUserJoined, s.handleUserJoined)
	room.Register(signaling.MessageTypeVoiceUserLeft, s.handleUserLeft)
	room.Register(signaling.MessageTypeVoiceOffer, s.handleOffer)
	room.Register(signaling.MessageTypeVoiceAnswer, s.handleAnswer)
	room.Register(signaling.MessageTypeVoiceICECandidate, s.handleCandidate)
	room.Register(signaling.MessageTypeVoiceMuteUser, s.handleMuteUser)

	room.OnLeave(func(string) {
		s.teardown(false)
	})

	return s
}

// SetOnSpeaking registers the voice activity consumer. It fires on
// every speaking/silent transition of the local capture.
func (s *Session) SetOnSpeaking(fn func(speaking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeaking = fn
}

// SetPlaybackSink registers the consumer for received audio. Frames
// stop flowing while deafened.
func (s *Session) SetPlaybackSink(fn func(peerID string, frame *PlaybackFrame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = fn
}

// Connect acquires the microphone and joins the voice mesh. One peer
// session is created toward every currently-connected participant this
// side is responsible for initiating to; the rest will offer to us.
func (s *Session) Connect(opts media.MicrophoneOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.provider == nil {
		s.mu.Unlock()
		return media.ErrNoProvider
	}
	s.mu.Unlock()

	member, ok := s.room.Membership()
	if !ok {
		return ErrNotInRoom
	}

	source, err := s.provider.CaptureMicrophone(opts)
	if err != nil {
		return err
	}

	// The room may have been left while the permission prompt was up.
	if current, ok := s.room.Membership(); !ok || current.RoomID != member.RoomID {
		source.Close()
		return ErrNotInRoom
	}

	capture, err := media.NewCapture(source, media.VoiceAudioCodec(), "voice-"+s.room.LocalID())
	if err != nil {
		source.Close()
		return err
	}
	capture.SetWriteObserver(s.stats.AddOut)

	s.mu.Lock()
	if s.closed || s.connected {
		s.mu.Unlock()
		capture.Stop()
		if s.connected {
			return ErrAlreadyConnected
		}
		return ErrSessionClosed
	}
	s.connected = true
	s.capture = capture
	s.captureGen++
	gen := s.captureGen

	// The detector only runs when the source exposes raw PCM.
	if pcm, ok := source.(media.PCMSource); ok {
		s.vad = newDetector(pcm, s.isMuted, s.emitSpeaking)
		s.vad.start()
	}
	s.mu.Unlock()

	s.room.SetLocalVoice(signaling.VoiceState{Connected: true})

	if err := s.room.Send(signaling.MessageTypeVoiceUserJoined, signaling.VoiceUserEvent{
		UserID: s.room.LocalID(),
	}); err != nil {
		s.logger.Warn("[%s] join notice not sent: %v", featureName, err)
	}

	for _, peerID := range s.room.VoiceParticipants() {
		if !initiates(s.room.LocalID(), peerID) {
			continue
		}
		if err := s.negotiator.Offer(peerID, capture.Track()); err != nil {
			s.logger.Warn("[%s] offer to %s failed: %v", featureName, peerID, err)
		}
	}

	go func() {
		<-capture.Done()
		s.mu.Lock()
		stale := s.captureGen != gen || !s.connected
		s.mu.Unlock()
		if !stale {
			s.logger.Info("[%s] microphone ended, disconnecting", featureName)
			s.Disconnect()
		}
	}()

	return nil
}

// Disconnect leaves the voice mesh. The detector loop, the capture and
// every peer session are stopped before Disconnect returns.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	s.teardown(true)
	return nil
}

// ToggleMute flips the outbound mute gate. No renegotiation happens;
// the peer sessions and their states are untouched. Peers learn about
// it through a presence update only.
func (s *Session) ToggleMute() (muted bool, err error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false, ErrNotConnected
	}
	s.muted = !s.muted
	muted = s.muted
	capture := s.capture
	deafened := s.deafened
	s.mu.Unlock()

	if capture != nil {
		capture.SetMuted(muted)
	}
	s.room.SetLocalVoice(signaling.VoiceState{Connected: true, Muted: muted, Deafened: deafened})

	if err := s.room.Send(signaling.MessageTypeVoiceToggleMute, signaling.VoiceToggleMute{
		PartyID: s.partyID(),
		IsMuted: muted,
	}); err != nil {
		s.logger.Warn("[%s] mute notice not sent: %v", featureName, err)
	}
	return muted, nil
}

// ToggleDeafen flips local playback. Nothing is renegotiated and
// nothing changes in what peers receive from us.
func (s *Session) ToggleDeafen() (deafened bool, err error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false, ErrNotConnected
	}
	s.deafened = !s.deafened
	deafened = s.deafened
	muted := s.muted
	s.mu.Unlock()

	s.room.SetLocalVoice(signaling.VoiceState{Connected: true, Muted: muted, Deafened: deafened})
	return deafened, nil
}

// MuteUser asks the relay to mute another participant. The relay enforces
// that only the room host may do this.
func (s *Session) MuteUser(userID string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	return s.room.Send(signaling.MessageTypeVoiceMuteUser, signaling.VoiceMuteUser{
		UserID:  userID,
		PartyID: s.partyID(),
	})
}

// Connected reports whether voice chat is active.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Muted reports the outbound mute gate.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Deafened reports the local playback gate.
func (s *Session) Deafened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deafened
}

// SessionCount returns the number of open peer sessions.
func (s *Session) SessionCount() int {
	return s.negotiator.Count()
}

// TrackCount returns the number of live local capture tracks.
func (s *Session) TrackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return 1
	}
	return 0
}

// Stats returns receive/send traffic counters.
func (s *Session) Stats() rtc.StatsSnapshot {
	return s.stats.Snapshot()
}

// Close tears the session down and detaches it from the room.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown(false)
	s.negotiator.Close()

	s.room.Unregister(signaling.MessageTypeVoiceUserJoined)
	s.room.Unregister(signaling.MessageTypeVoiceUserLeft)
	s.room.Unregister(signaling.MessageTypeVoiceOffer)
	s.room.Unregister(signaling.MessageTypeVoiceAnswer)
	s.room.Unregister(signaling.MessageTypeVoiceICECandidate)
	s.room.Unregister(signaling.MessageTypeVoiceMuteUser)
}

// teardown stops the detector, the capture and all peer sessions
// synchronously. announce controls the outbound leave notice.
func (s *Session) teardown(announce bool) {
	s.mu.Lock()
	capture := s.capture
	vad := s.vad
	wasConnected := s.connected
	s.capture = nil
	s.vad = nil
	s.connected = false
	s.muted = false
	s.deafened = false
	s.mu.Unlock()

	if vad != nil {
		vad.stop()
	}
	if capture != nil {
		capture.Stop()
	}
	s.negotiator.CloseAll()

	if wasConnected {
		s.room.SetLocalVoice(signaling.VoiceState{})
		if announce {
			if err := s.room.Send(signaling.MessageTypeVoiceUserLeft, signaling.VoiceUserEvent{
				UserID: s.room.LocalID(),
			}); err != nil {
				s.logger.Warn("[%s] leave notice not sent: %v", featureName, err)
			}
		}
	}
}

func (s *Session) partyID() string {
	if member, ok := s.room.Membership(); ok {
		return member.RoomID
	}
	return ""
}

func (s *Session) isMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) emitSpeaking(speaking bool) {
	s.mu.Lock()
	fn := s.onSpeaking
	s.mu.Unlock()
	if fn != nil {
		fn(speaking)
	}
}

// initiates reports whether local is the offering side of the pair.
// The smaller id always initiates, so both sides agree without
// coordination.
func initiates(localID, peerID string) bool {
	return localID < peerID
}

func (s *Session) handleUserJoined(env signaling.Envelope) {
	var ev signaling.VoiceUserEvent
	if err := env.Decode(&ev); err != nil || ev.UserID == "" {
		return
	}
	if ev.UserID == s.room.LocalID() {
		return
	}

	s.mu.Lock()
	connected := s.connected
	var track webrtc.TrackLocal
	if s.capture != nil {
		track = s.capture.Track()
	}
	s.mu.Unlock()

	if !connected || track == nil {
		return
	}
	if !initiates(s.room.LocalID(), ev.UserID) {
		// The joiner offers to us.
		return
	}
	if _, ok := s.negotiator.Session(ev.UserID); ok {
		return
	}
	if err := s.negotiator.Offer(ev.UserID, track); err != nil {
		s.logger.Warn("[%s] offer to %s failed: %v", featureName, ev.UserID, err)
	}
}

func (s *Session) handleUserLeft(env signaling.Envelope) {
	var ev signaling.VoiceUserEvent
	if err := env.Decode(&ev); err != nil || ev.UserID == "" {
		return
	}
	s.negotiator.CloseSession(ev.UserID)
}

func (s *Session) handleOffer(env signaling.Envelope) {
	var offer signaling.VoiceOffer
	if err := env.Decode(&offer); err != nil || offer.From == "" {
		s.logger.Warn("[%s] bad offer: %v", featureName, err)
		return
	}
	if offer.To != "" && offer.To != s.room.LocalID() {
		return
	}

	s.mu.Lock()
	var track webrtc.TrackLocal
	if s.capture != nil {
		track = s.capture.Track()
	}
	s.mu.Unlock()

	var err error
	if track != nil {
		err = s.negotiator.HandleOffer(offer.From, offer.Offer, track)
	} else {
		err = s.negotiator.HandleOffer(offer.From, offer.Offer)
	}
	if err != nil {
		s.logger.Warn("[%s] answer to %s failed: %v", featureName, offer.From, err)
	}
}

func (s *Session) handleAnswer(env signaling.Envelope) {
	var answer signaling.VoiceAnswer
	if err := env.Decode(&answer); err != nil || answer.From == "" {
		s.logger.Warn("[%s] bad answer: %v", featureName, err)
		return
	}
	if answer.To != "" && answer.To != s.room.LocalID() {
		return
	}
	if err := s.negotiator.HandleAnswer(answer.From, answer.Answer); err != nil {
		s.logger.Warn("[%s] answer from %s rejected: %v", featureName, answer.From, err)
	}
}

func (s *Session) handleCandidate(env signaling.Envelope) {
	var cand signaling.VoiceCandidate
	if err := env.Decode(&cand); err != nil || cand.From == "" {
		s.logger.Warn("[%s] bad candidate: %v", featureName, err)
		return
	}
	if cand.To != "" && cand.To != s.room.LocalID() {
		return
	}
	if err := s.negotiator.HandleCandidate(cand.From, cand.Candidate); err != nil {
		s.logger.Warn("[%s] candidate from %s rejected: %v", featureName, cand.From, err)
	}
}

// handleMuteUser applies a host-initiated mute aimed at this
// participant.
func (s *Session) handleMuteUser(env signaling.Envelope) {
	var ev signaling.VoiceMuteUser
	if err := env.Decode(&ev); err != nil || ev.UserID != s.room.LocalID() {
		return
	}

	s.mu.Lock()
	if !s.connected || s.muted {
		s.mu.Unlock()
		return
	}
	s.muted = true
	capture := s.capture
	deafened := s.deafened
	s.mu.Unlock()

	if capture != nil {
		capture.SetMuted(true)
	}
	s.room.SetLocalVoice(signaling.VoiceState{Connected: true, Muted: true, Deafened: deafened})

	if err := s.room.Send(signaling.MessageTypeVoiceToggleMute, signaling.VoiceToggleMute{
		PartyID: s.partyID(),
		IsMuted: true,
	}); err != nil {
		s.logger.Warn("[%s] mute notice not sent: %v", featureName, err)
	}
}
