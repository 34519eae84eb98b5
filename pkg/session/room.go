/*
 * RoomSession - binds the signaling transport to a single room.
 *
 * Owns the room membership (at most one), re-asserts it whenever the
 * transport comes back up, and routes inbound envelopes by type to the
 * feature that registered for them. Presence for the room's
 * participants is mirrored here from relay notifications; features read
 * it, only inbound messages mutate it.
 */
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/streamroom/rtc_core/pkg/signaling"
	"github.com/streamroom/rtc_core/pkg/transport"
	"github.com/streamroom/rtc_core/pkg/utils"
)

var (
	// ErrAlreadyJoined indicates a membership already exists
	ErrAlreadyJoined = errors.New("already joined a room")

	// ErrNotJoined indicates there is no active membership
	ErrNotJoined = errors.New("not joined to a room")
)

// Handler consumes inbound envelopes of one message type.
type Handler func(env signaling.Envelope)

// Membership records the single active room membership.
type Membership struct {
	RoomID   string
	JoinedAt time.Time
}

// Channel is the transport surface the room session needs. Satisfied
// by *transport.Transport.
type Channel interface {
	Send(msgType signaling.MessageType, payload interface{}) error
	Subscribe(fn func(signaling.Envelope)) func()
	SubscribeState(fn func(transport.ConnectionState)) func()
	State() transport.ConnectionState
}

// Room is a signaling session scoped to one room id.
type Room struct {
	mu      sync.RWMutex
	channel Channel
	logger  *utils.Logger

	localID   string
	localName string

	membership *Membership

	// One handler per message type; chat, presence and media signaling
	// each claim their own set of types.
	handlers map[signaling.MessageType]Handler

	// Teardown hooks run on every Leave, connected or not.
	onLeave []func(roomID string)

	presence map[string]*signaling.ParticipantPresence
	onSeen   []func(id string)
	onChat   func(msg signaling.ChatMessage)

	unsubEnv   func()
	unsubState func()
	closed     bool
}

// NewRoom creates a room session on the shared transport. localID and
// localName identify this participant to the relay.
func NewRoom(channel Channel, localID, localName string) *Room {
	r := &Room{
		channel:   channel,
		logger:    utils.GetLogger(),
		localID:   localID,
		localName: localName,
		handlers:  make(map[signaling.MessageType]Handler),
		presence:  make(map[string]*signaling.ParticipantPresence),
	}
	r.unsubEnv = channel.Subscribe(r.route)
	r.unsubState = channel.SubscribeState(r.onTransportState)
	return r
}

// LocalID returns this participant's id.
func (r *Room) LocalID() string { return r.localID }

// LocalName returns this participant's display name.
func (r *Room) LocalName() string { return r.localName }

// Join sets the membership and announces it to the relay. When the
// transport is not yet connected the join is deferred and fires on the
// next Connected transition.
func (r *Room) Join(roomID string) error {
	r.mu.Lock()
	if r.membership != nil {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	r.membership = &Membership{RoomID: roomID, JoinedAt: time.Now()}
	connected := r.channel.State() == transport.StateConnected
	r.mu.Unlock()

	if connected {
		return r.channel.Send(signaling.MessageTypeJoinRoom, signaling.RoomMessage{RoomID: roomID})
	}
	r.logger.Info("[room] join %s deferred until transport connects", roomID)
	return nil
}

// Leave clears the membership, notifies the relay when possible, and
// always runs the registered teardown hooks. Local cleanup never waits
// on the network.
func (r *Room) Leave(roomID string) error {
	r.mu.Lock()
	if r.membership == nil || r.membership.RoomID != roomID {
		r.mu.Unlock()
		return ErrNotJoined
	}
	r.membership = nil
	r.presence = make(map[string]*signaling.ParticipantPresence)
	hooks := make([]func(string), len(r.onLeave))
	copy(hooks, r.onLeave)
	connected := r.channel.State() == transport.StateConnected
	r.mu.Unlock()

	// Feature sessions tear down their peer sessions here, whether or
	// not the relay is reachable.
	for _, hook := range hooks {
		hook(roomID)
	}

	if connected {
		return r.channel.Send(signaling.MessageTypeLeaveRoom, signaling.RoomMessage{RoomID: roomID})
	}
	return nil
}

// Membership returns the active membership, if any.
func (r *Room) Membership() (Membership, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.membership == nil {
		return Membership{}, false
	}
	return *r.membership, true
}

// Send forwards a payload through the shared transport.
func (r *Room) Send(msgType signaling.MessageType, payload interface{}) error {
	return r.channel.Send(msgType, payload)
}

// Register claims a message type for a handler. Later registrations
// replace earlier ones: each type has exactly one consumer.
func (r *Room) Register(msgType signaling.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// Unregister removes the handler for a message type.
func (r *Room) Unregister(msgType signaling.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, msgType)
}

// OnLeave registers a teardown hook that runs on every Leave.
func (r *Room) OnLeave(hook func(roomID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = append(r.onLeave, hook)
}

// OnParticipantSeen registers a hook that fires the first time a
// remote participant appears in the presence roster. An active sharer
// uses it to fan out to late joiners.
func (r *Room) OnParticipantSeen(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSeen = append(r.onSeen, fn)
}

// OnChat registers the consumer for inbound chat messages.
func (r *Room) OnChat(fn func(msg signaling.ChatMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChat = fn
}

// SendChat sends a chat line to the room.
func (r *Room) SendChat(body string) error {
	r.mu.RLock()
	member := r.membership != nil
	r.mu.RUnlock()
	if !member {
		return ErrNotJoined
	}
	return r.channel.Send(signaling.MessageTypeChatMessage, signaling.ChatMessage{
		UserID:   r.localID,
		Username: r.localName,
		Body:     body,
	})
}

// Close detaches the session from the transport.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubEnv, unsubState := r.unsubEnv, r.unsubState
	r.mu.Unlock()

	if unsubEnv != nil {
		unsubEnv()
	}
	if unsubState != nil {
		unsubState()
	}
}

// onTransportState re-asserts the membership on every transition into
// Connected (the auto-rejoin invariant).
func (r *Room) onTransportState(state transport.ConnectionState) {
	if state != transport.StateConnected {
		return
	}
	r.mu.RLock()
	membership := r.membership
	r.mu.RUnlock()
	if membership == nil {
		return
	}
	r.logger.Info("[room] transport reconnected, re-joining %s", membership.RoomID)
	_ = r.channel.Send(signaling.MessageTypeJoinRoom, signaling.RoomMessage{RoomID: membership.RoomID})
}

// route dispatches one inbound envelope. Presence-affecting messages
// update the roster before the claiming handler runs; unknown types
// are ignored, not errors.
func (r *Room) route(env signaling.Envelope) {
	r.applyPresence(env)

	if env.Type == signaling.MessageTypeChatMessage {
		var msg signaling.ChatMessage
		if err := env.Decode(&msg); err != nil {
			r.logger.Warn("[room] bad chat payload: %v", err)
			return
		}
		r.mu.RLock()
		fn := r.onChat
		r.mu.RUnlock()
		if fn != nil {
			fn(msg)
		}
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("[room] ignoring unhandled message type %q", env.Type)
		return
	}
	h(env)
}
