/*
 * Signaling wire format.
 * Every frame on the relay connection is an Envelope: a type tag, a
 * JSON payload and a send-time timestamp. Payload shapes below mirror
 * what the relay expects verbatim; changing a field name here is a
 * protocol change.
 */
package signaling

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// MessageType represents the type of signaling message
type MessageType string

const (
	// Room membership
	MessageTypeJoinRoom  MessageType = "join_room"
	MessageTypeLeaveRoom MessageType = "leave_room"

	// Chat
	MessageTypeChatMessage MessageType = "chat-message"

	// Screen share control
	MessageTypeScreenShareStart   MessageType = "screen-share-start"
	MessageTypeScreenShareStop    MessageType = "screen-share-stop"
	MessageTypeScreenShareStarted MessageType = "screen-share-started"
	MessageTypeScreenShareStopped MessageType = "screen-share-stopped"

	// Screen share negotiation
	MessageTypeScreenShareOffer        MessageType = "screen-share-offer"
	MessageTypeScreenShareAnswer       MessageType = "screen-share-answer"
	MessageTypeScreenShareICECandidate MessageType = "screen-share-ice-candidate"

	// Voice chat presence
	MessageTypeVoiceUserJoined MessageType = "voice-chat-user-joined"
	MessageTypeVoiceUserLeft   MessageType = "voice-chat-user-left"
	MessageTypeVoiceToggleMute MessageType = "voice-chat-toggle-mute"
	MessageTypeVoiceMuteUser   MessageType = "voice-chat-mute-user"

	// Voice chat negotiation
	MessageTypeVoiceOffer        MessageType = "voice-chat-offer"
	MessageTypeVoiceAnswer       MessageType = "voice-chat-answer"
	MessageTypeVoiceICECandidate MessageType = "voice-chat-ice-candidate"
)

// Envelope is one frame on the signaling connection. Envelopes are
// constructed at send time and never mutated afterwards.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// NewEnvelope builds an envelope for the given payload, stamped with
// the current time in ISO-8601.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// RoomMessage is the payload for join_room / leave_room.
type RoomMessage struct {
	RoomID string `json:"room_id"`
}

// ChatMessage is a room chat line. History is not persisted here; the
// envelope is the only copy in flight.
type ChatMessage struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Body     string `json:"body"`
}

// ScreenShareOptions describes the sharer's capture settings.
type ScreenShareOptions struct {
	Quality   string `json:"quality"` // "low" | "medium" | "high"
	FrameRate int    `json:"frameRate"`
}

// ScreenShareControl is the payload for screen-share-start / -stop
// (outbound, sharer to relay).
type ScreenShareControl struct {
	PartyID string              `json:"party_id"`
	Options *ScreenShareOptions `json:"options,omitempty"`
}

// ScreenShareNotice is the payload for screen-share-started / -stopped
// (inbound, relay to everyone else).
type ScreenShareNotice struct {
	UserID   string             `json:"userId"`
	Username string             `json:"username"`
	Options  ScreenShareOptions `json:"options"`
}

// ScreenShareOffer carries the sharer's SDP offer to one viewer.
// From/To are filled in by the relay on delivery.
type ScreenShareOffer struct {
	Offer   webrtc.SessionDescription `json:"offer"`
	PartyID string                    `json:"partyId"`
	From    string                    `json:"from,omitempty"`
	To      string                    `json:"to,omitempty"`
}

// ScreenShareAnswer carries a viewer's SDP answer back to the sharer.
type ScreenShareAnswer struct {
	Answer  webrtc.SessionDescription `json:"answer"`
	PartyID string                    `json:"partyId"`
	From    string                    `json:"from,omitempty"`
	To      string                    `json:"to,omitempty"`
}

// ScreenShareCandidate carries one ICE candidate for the share session.
type ScreenShareCandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	PartyID   string                  `json:"partyId"`
	From      string                  `json:"from,omitempty"`
	To        string                  `json:"to,omitempty"`
}

// VoiceUserEvent is the payload for voice-chat-user-joined / -left.
type VoiceUserEvent struct {
	UserID string `json:"userId"`
}

// VoiceOffer carries an SDP offer between two voice peers.
type VoiceOffer struct {
	Offer   webrtc.SessionDescription `json:"offer"`
	From    string                    `json:"from"`
	To      string                    `json:"to"`
	PartyID string                    `json:"partyId"`
}

// VoiceAnswer carries an SDP answer between two voice peers.
type VoiceAnswer struct {
	Answer  webrtc.SessionDescription `json:"answer"`
	From    string                    `json:"from"`
	To      string                    `json:"to"`
	PartyID string                    `json:"partyId"`
}

// VoiceCandidate carries one ICE candidate between two voice peers.
type VoiceCandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	PartyID   string                  `json:"partyId"`
}

// VoiceToggleMute is the payload for voice-chat-toggle-mute (outbound).
type VoiceToggleMute struct {
	PartyID string `json:"partyId"`
	IsMuted bool   `json:"isMuted"`
}

// VoiceMuteUser is the payload for voice-chat-mute-user (outbound,
// host only; the relay enforces the role).
type VoiceMuteUser struct {
	UserID  string `json:"userId"`
	PartyID string `json:"partyId"`
}

// VoiceState is a participant's voice presence.
type VoiceState struct {
	Connected bool `json:"connected"`
	Muted     bool `json:"muted"`
	Deafened  bool `json:"deafened"`
}

// ParticipantPresence is one participant's room presence as mirrored
// from relay notifications.
type ParticipantPresence struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	IsScreenSharing bool       `json:"isScreenSharing"`
	Voice           VoiceState `json:"voice"`
}
