/*
 * Bridge - optional SFU offload for large rooms.
 *
 * The peer-to-peer star tops out at small parties. When a bridge is
 * configured, the sharer publishes its screen track to a LiveKit room
 * instead and viewers subscribe there, so the sharer uploads one
 * stream no matter how many viewers join.
 */
package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/media"
	"github.com/streamroom/rtc_core/pkg/utils"
)

var (
	// ErrBridgeClosed indicates the bridge was closed
	ErrBridgeClosed = errors.New("bridge is closed")

	// ErrAlreadyConnected indicates Connect was called twice
	ErrAlreadyConnected = errors.New("bridge already connected")

	// ErrNotConnected indicates no SFU connection exists
	ErrNotConnected = errors.New("bridge not connected")
)

// State is the bridge connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PacketSink consumes RTP packets pulled from the SFU.
type PacketSink func(participantID string, isVideo bool, packet *rtp.Packet)

// Bridge connects one room to a LiveKit SFU.
type Bridge struct {
	mu sync.RWMutex

	roomID string
	room   *lksdk.Room
	logger *utils.Logger

	state State

	pub *lksdk.LocalTrackPublication

	videoPackets     atomic.Uint64
	audioPackets     atomic.Uint64
	tracksSubscribed atomic.Int32

	onStateChanged func(roomID string, state State)
	onError        func(roomID string, err error)
	sink           PacketSink

	closed bool
}

// NewBridge creates a bridge for one room.
func NewBridge(roomID string) *Bridge {
	return &Bridge{
		roomID: roomID,
		logger: utils.GetLogger(),
		state:  StateIdle,
	}
}

// SetCallbacks registers state and error observers.
func (b *Bridge) SetCallbacks(
	onStateChanged func(roomID string, state State),
	onError func(roomID string, err error),
) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChanged = onStateChanged
	b.onError = onError
}

// SetPacketSink registers the consumer for subscribed tracks.
func (b *Bridge) SetPacketSink(sink PacketSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Connect joins the SFU room with auto-subscribe on.
func (b *Bridge) Connect(url, token string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	if b.room != nil {
		b.mu.Unlock()
		return ErrAlreadyConnected
	}
	b.state = StateConnecting
	b.mu.Unlock()

	b.emitStateChanged(StateConnecting)

	roomCB := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed:   b.onTrackSubscribed,
			OnTrackUnsubscribed: b.onTrackUnsubscribed,
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if !pub.IsSubscribed() {
					pub.SetSubscribed(true)
				}
			},
		},
		OnDisconnected: func() {
			b.handleDisconnected()
		},
		OnReconnecting: func() {
			b.emitStateChanged(StateConnecting)
		},
		OnReconnected: func() {
			b.emitStateChanged(StateConnected)
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, roomCB, lksdk.WithAutoSubscribe(true))
	if err != nil {
		b.mu.Lock()
		b.state = StateFailed
		b.mu.Unlock()
		b.emitStateChanged(StateFailed)
		b.emitError(err)
		return err
	}

	b.mu.Lock()
	b.room = room
	b.state = StateConnected
	b.mu.Unlock()

	b.emitStateChanged(StateConnected)
	return nil
}

// PublishScreen publishes the sharer's local screen track.
func (b *Bridge) PublishScreen(track webrtc.TrackLocal, opts media.ScreenCaptureOptions) error {
	b.mu.Lock()
	room := b.room
	b.mu.Unlock()
	if room == nil {
		return ErrNotConnected
	}

	width, height := opts.Quality.Resolution()
	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:        "screen",
		Source:      livekit.TrackSource_SCREEN_SHARE,
		VideoWidth:  width,
		VideoHeight: height,
	})
	if err != nil {
		b.emitError(err)
		return err
	}

	b.mu.Lock()
	b.pub = pub
	b.mu.Unlock()
	return nil
}

// Unpublish removes the published screen track, if any.
func (b *Bridge) Unpublish() {
	b.mu.Lock()
	room := b.room
	pub := b.pub
	b.pub = nil
	b.mu.Unlock()

	if room != nil && pub != nil {
		if err := room.LocalParticipant.UnpublishTrack(pub.SID()); err != nil {
			b.logger.Warn("[bridge] unpublish failed: %v", err)
		}
	}
}

func (b *Bridge) onTrackSubscribed(
	track *webrtc.TrackRemote,
	pub *lksdk.RemoteTrackPublication,
	rp *lksdk.RemoteParticipant,
) {
	b.tracksSubscribed.Add(1)

	isVideo := track.Kind() == webrtc.RTPCodecTypeVideo
	if isVideo {
		// Screen content needs the top simulcast layer; ask again after
		// the SFU settles, the first request can arrive too early.
		pub.SetVideoQuality(livekit.VideoQuality_HIGH)
		go func() {
			time.Sleep(500 * time.Millisecond)
			pub.SetVideoQuality(livekit.VideoQuality_HIGH)
		}()
	}

	go b.readLoop(track, isVideo, string(rp.Identity()))
}

func (b *Bridge) onTrackUnsubscribed(
	track *webrtc.TrackRemote,
	pub *lksdk.RemoteTrackPublication,
	rp *lksdk.RemoteParticipant,
) {
	b.tracksSubscribed.Add(-1)
}

func (b *Bridge) readLoop(track *webrtc.TrackRemote, isVideo bool, participantID string) {
	for {
		b.mu.RLock()
		closed := b.closed
		sink := b.sink
		b.mu.RUnlock()
		if closed {
			return
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			b.logger.Debug("[bridge] track %s ended: %v", track.ID(), err)
			return
		}

		if isVideo {
			b.videoPackets.Add(1)
		} else {
			b.audioPackets.Add(1)
		}
		if sink != nil {
			sink(participantID, isVideo, pkt)
		}
	}
}

func (b *Bridge) handleDisconnected() {
	b.mu.Lock()
	b.state = StateDisconnected
	b.room = nil
	b.pub = nil
	b.mu.Unlock()

	b.emitStateChanged(StateDisconnected)
}

// Disconnect leaves the SFU room and stops all read loops.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// Mark closed first so read loops exit before the room tears down.
	b.closed = true
	room := b.room
	b.room = nil
	b.pub = nil
	b.state = StateDisconnected
	b.mu.Unlock()

	if room != nil {
		room.Disconnect()
	}

	b.emitStateChanged(StateDisconnected)
}

// State returns the current bridge state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns packet and subscription counters.
func (b *Bridge) Stats() (videoPackets, audioPackets uint64, tracks int32) {
	return b.videoPackets.Load(), b.audioPackets.Load(), b.tracksSubscribed.Load()
}

func (b *Bridge) emitStateChanged(state State) {
	b.mu.RLock()
	fn := b.onStateChanged
	b.mu.RUnlock()
	if fn != nil {
		fn(b.roomID, state)
	}
}

func (b *Bridge) emitError(err error) {
	b.mu.RLock()
	fn := b.onError
	b.mu.RUnlock()
	if fn != nil {
		fn(b.roomID, err)
	}
}
