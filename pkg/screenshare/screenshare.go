/*
 * ScreenShareSession - one sharer broadcasting to every other
 * participant (star topology).
 *
 * The sharer owns one peer session per viewer and fans the same local
 * track out to all of them; viewers hold exactly one receiving session
 * toward the sharer. The room presence roster, not local state, is the
 * source of truth for the single-sharer rule.
 */
package screenshare

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
	// ErrAlreadySharing indicates another participant (or this one) is
	// already the active sharer
	ErrAlreadySharing = errors.New("another participant is already sharing")

	// ErrNotSharing indicates Stop was called without an active share
	ErrNotSharing = errors.New("not currently sharing")

	// ErrNotInRoom indicates the room membership is gone
	ErrNotInRoom = errors.New("not joined to a room")

	// ErrSessionClosed indicates the session was closed
	ErrSessionClosed = errors.New("screen share session is closed")
)

const featureName = "screen-share"

// Session drives screen sharing for one room, as sharer or viewer.
type Session struct {
	mu sync.Mutex

	room       *session.Room
	negotiator *rtc.Negotiator
	provider   media.CaptureProvider
	logger     *utils.Logger

	sharing bool
	capture *media.Capture

	// captureGen invalidates the Done watcher of a replaced capture.
	captureGen uint64

	onRemoteTrack func(peerID string, track *webrtc.TrackRemote)
	onStarted     func(notice signaling.ScreenShareNotice)
	onStopped     func(notice signaling.ScreenShareNotice)

	closed bool
}

// NewSession wires a screen share session onto the room. provider may
// be nil for receive-only participants.
func NewSession(room *session.Room, engine *rtc.Engine, provider media.CaptureProvider) *Session {
	s := &Session{
		room:     room,
		provider: provider,
		logger:   utils.GetLogger(),
	}
	s.negotiator = rtc.NewNegotiator(engine, featureName, rtc.Callbacks{
		SendOffer: func(peerID string, offer webrtc.SessionDescription) error {
			return room.Send(signaling.MessageTypeScreenShareOffer, signaling.ScreenShareOffer{
				Offer:   offer,
				PartyID: s.partyID(),
				To:      peerID,
			})
		},
		SendAnswer: func(peerID string, answer webrtc.SessionDescription) error {
			return room.Send(signaling.MessageTypeScreenShareAnswer, signaling.ScreenShareAnswer{
				Answer:  answer,
				PartyID: s.partyID(),
				To:      peerID,
			})
		},
		SendCandidate: func(peerID string, candidate webrtc.ICECandidateInit) error {
			return room.Send(signaling.MessageTypeScreenShareICECandidate, signaling.ScreenShareCandidate{
				Candidate: candidate,
				PartyID:   s.partyID(),
				To:        peerID,
			})
		},
		OnTrack: func(peerID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if !media.IsVideoMime(track.Codec().MimeType) {
				s.logger.Warn("[%s] ignoring non-video track from %s (%s)", featureName, peerID, track.Codec().MimeType)
				return
			}
			s.mu.Lock()
			fn := s.onRemoteTrack
			s.mu.Unlock()
			if fn != nil {
				fn(peerID, track)
			}
		},
	})

	room.Register(signaling.MessageTypeScreenShareStarted, s.handleStarted)
	room.Register(signaling.MessageTypeScreenShareStopped, s.handleStopped)
	room.Register(signaling.MessageTypeScreenShareOffer, s.handleOffer)
	room.Register(signaling.MessageTypeScreenShareAnswer, s.handleAnswer)
	room.Register(signaling.MessageTypeScreenShareICECandidate, s.handleCandidate)

	// Leaving the room tears the feature down whether or not the relay
	// is reachable; the relay announces the departure to peers itself.
	room.OnLeave(func(string) {
		s.teardown(false)
	})

	// An active sharer fans out to participants that appear after the
	// share began.
	room.OnParticipantSeen(func(id string) {
		s.mu.Lock()
		sharing := s.sharing && !s.closed
		var track webrtc.TrackLocal
		if s.capture != nil {
			track = s.capture.Track()
		}
		s.mu.Unlock()
		if !sharing || track == nil {
			return
		}
		if _, ok := s.negotiator.Session(id); ok {
			return
		}
		if err := s.negotiator.Offer(id, track); err != nil {
			s.logger.Warn("[%s] late-join offer to %s failed: %v", featureName, id, err)
		}
	})

	return s
}

// SetOnRemoteTrack registers the consumer for the sharer's inbound
// video track (viewer side).
func (s *Session) SetOnRemoteTrack(fn func(peerID string, track *webrtc.TrackRemote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteTrack = fn
}

// SetOnShareStarted registers a callback for remote share start
// notices.
func (s *Session) SetOnShareStarted(fn func(notice signaling.ScreenShareNotice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStarted = fn
}

// SetOnShareStopped registers a callback for remote share stop
// notices.
func (s *Session) SetOnShareStopped(fn func(notice signaling.ScreenShareNotice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStopped = fn
}

// Start acquires the screen capture and begins broadcasting to every
// current participant. Policy checks run before any device
// acquisition; the membership is re-checked afterwards because the
// room may have been left while the capture prompt was up.
func (s *Session) Start(opts media.ScreenCaptureOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.sharing {
		s.mu.Unlock()
		return ErrAlreadySharing
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
	if sharer, active := s.room.ActiveSharer(); active && sharer != s.room.LocalID() {
		return ErrAlreadySharing
	}

	// Blocking acquisition: the user may sit on the capture prompt for
	// a long time.
	source, err := s.provider.CaptureScreen(opts)
	if err != nil {
		return err
	}

	// Re-check everything that may have changed during acquisition.
	if current, ok := s.room.Membership(); !ok || current.RoomID != member.RoomID {
		source.Close()
		return ErrNotInRoom
	}
	if sharer, active := s.room.ActiveSharer(); active && sharer != s.room.LocalID() {
		source.Close()
		return ErrAlreadySharing
	}

	capture, err := media.NewCapture(source, media.ScreenVideoCodec(opts.CodecMime), "screen-"+s.room.LocalID())
	if err != nil {
		source.Close()
		return err
	}

	s.mu.Lock()
	if s.closed || s.sharing {
		s.mu.Unlock()
		capture.Stop()
		if s.sharing {
			return ErrAlreadySharing
		}
		return ErrSessionClosed
	}
	s.sharing = true
	s.capture = capture
	s.captureGen++
	gen := s.captureGen
	s.mu.Unlock()

	s.room.SetLocalScreenSharing(true)

	wireOpts := signaling.ScreenShareOptions{
		Quality:   string(opts.Quality),
		FrameRate: opts.FrameRate,
	}
	if err := s.room.Send(signaling.MessageTypeScreenShareStart, signaling.ScreenShareControl{
		PartyID: member.RoomID,
		Options: &wireOpts,
	}); err != nil {
		s.logger.Warn("[%s] start notice not sent: %v", featureName, err)
	}

	for _, peerID := range s.room.RemoteParticipants() {
		if err := s.negotiator.Offer(peerID, capture.Track()); err != nil {
			s.logger.Warn("[%s] offer to %s failed: %v", featureName, peerID, err)
		}
	}

	// The capture source ending on its own (OS-level stop sharing UI)
	// runs the same teardown as an explicit Stop.
	go func() {
		<-capture.Done()
		s.mu.Lock()
		stale := s.captureGen != gen || !s.sharing
		s.mu.Unlock()
		if !stale {
			s.logger.Info("[%s] capture source ended, stopping share", featureName)
			s.Stop()
		}
	}()

	return nil
}

// Stop ends the local share: the capture and every viewer session are
// closed before Stop returns, then peers are told to release theirs.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return ErrNotSharing
	}
	s.mu.Unlock()

	s.teardown(true)
	return nil
}

// teardown releases the capture and all peer sessions synchronously.
// announce controls the outbound stop notice; on room leave the relay
// notifies peers itself.
func (s *Session) teardown(announce bool) {
	s.mu.Lock()
	capture := s.capture
	wasSharing := s.sharing
	s.capture = nil
	s.sharing = false
	s.mu.Unlock()

	if capture != nil {
		capture.Stop()
	}
	s.negotiator.CloseAll()

	if wasSharing {
		s.room.SetLocalScreenSharing(false)
		if announce {
			if err := s.room.Send(signaling.MessageTypeScreenShareStop, signaling.ScreenShareControl{
				PartyID: s.partyID(),
			}); err != nil {
				s.logger.Warn("[%s] stop notice not sent: %v", featureName, err)
			}
		}
	}
}

// Sharing reports whether this participant is the active sharer.
func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
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

	s.room.Unregister(signaling.MessageTypeScreenShareStarted)
	s.room.Unregister(signaling.MessageTypeScreenShareStopped)
	s.room.Unregister(signaling.MessageTypeScreenShareOffer)
	s.room.Unregister(signaling.MessageTypeScreenShareAnswer)
	s.room.Unregister(signaling.MessageTypeScreenShareICECandidate)
}

func (s *Session) partyID() string {
	if member, ok := s.room.Membership(); ok {
		return member.RoomID
	}
	return ""
}

func (s *Session) handleStarted(env signaling.Envelope) {
	var notice signaling.ScreenShareNotice
	if err := env.Decode(&notice); err != nil {
		s.logger.Warn("[%s] bad started notice: %v", featureName, err)
		return
	}
	if notice.UserID == s.room.LocalID() {
		return
	}
	s.mu.Lock()
	fn := s.onStarted
	s.mu.Unlock()
	if fn != nil {
		fn(notice)
	}
}

func (s *Session) handleStopped(env signaling.Envelope) {
	var notice signaling.ScreenShareNotice
	if err := env.Decode(&notice); err != nil {
		s.logger.Warn("[%s] bad stopped notice: %v", featureName, err)
		return
	}
	if notice.UserID == s.room.LocalID() {
		return
	}

	// Release the receiving session toward the departed sharer.
	s.negotiator.CloseSession(notice.UserID)

	s.mu.Lock()
	fn := s.onStopped
	s.mu.Unlock()
	if fn != nil {
		fn(notice)
	}
}

func (s *Session) handleOffer(env signaling.Envelope) {
	var offer signaling.ScreenShareOffer
	if err := env.Decode(&offer); err != nil || offer.From == "" {
		s.logger.Warn("[%s] bad offer: %v", featureName, err)
		return
	}
	if err := s.negotiator.HandleOffer(offer.From, offer.Offer); err != nil {
		s.logger.Warn("[%s] answer to %s failed: %v", featureName, offer.From, err)
	}
}

func (s *Session) handleAnswer(env signaling.Envelope) {
	var answer signaling.ScreenShareAnswer
	if err := env.Decode(&answer); err != nil || answer.From == "" {
		s.logger.Warn("[%s] bad answer: %v", featureName, err)
		return
	}
	if err := s.negotiator.HandleAnswer(answer.From, answer.Answer); err != nil {
		s.logger.Warn("[%s] answer from %s rejected: %v", featureName, answer.From, err)
	}
}

func (s *Session) handleCandidate(env signaling.Envelope) {
	var cand signaling.ScreenShareCandidate
	if err := env.Decode(&cand); err != nil || cand.From == "" {
		s.logger.Warn("[%s] bad candidate: %v", featureName, err)
		return
	}
	if err := s.negotiator.HandleCandidate(cand.From, cand.Candidate); err != nil {
		s.logger.Warn("[%s] candidate from %s rejected: %v", featureName, cand.From, err)
	}
}
