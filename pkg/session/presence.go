package session

import (
	"github.com/streamroom/rtc_core/pkg/signaling"
)

// applyPresence folds a relay notification into the presence roster.
// Only inbound envelopes mutate presence; feature sessions and the UI
// read snapshots.
func (r *Room) applyPresence(env signaling.Envelope) {
	var seen []string

	switch env.Type {
	case signaling.MessageTypeScreenShareStarted:
		var n signaling.ScreenShareNotice
		if err := env.Decode(&n); err != nil {
			return
		}
		r.mu.Lock()
		// Star topology: the relay guarantees a single sharer, mirror
		// that here by clearing everyone else.
		for _, p := range r.presence {
			p.IsScreenSharing = false
		}
		p := r.noteLocked(n.UserID, &seen)
		p.Username = n.Username
		p.IsScreenSharing = true
		r.mu.Unlock()

	case signaling.MessageTypeScreenShareStopped:
		var n signaling.ScreenShareNotice
		if err := env.Decode(&n); err != nil {
			return
		}
		r.mu.Lock()
		r.noteLocked(n.UserID, &seen).IsScreenSharing = false
		r.mu.Unlock()

	case signaling.MessageTypeVoiceUserJoined:
		var ev signaling.VoiceUserEvent
		if err := env.Decode(&ev); err != nil {
			return
		}
		r.mu.Lock()
		r.noteLocked(ev.UserID, &seen).Voice.Connected = true
		r.mu.Unlock()

	case signaling.MessageTypeVoiceUserLeft:
		var ev signaling.VoiceUserEvent
		if err := env.Decode(&ev); err != nil {
			return
		}
		r.mu.Lock()
		r.noteLocked(ev.UserID, &seen).Voice = signaling.VoiceState{}
		r.mu.Unlock()

	case signaling.MessageTypeVoiceToggleMute:
		var ev struct {
			UserID  string `json:"userId"`
			IsMuted bool   `json:"isMuted"`
		}
		if err := env.Decode(&ev); err != nil || ev.UserID == "" {
			return
		}
		r.mu.Lock()
		r.noteLocked(ev.UserID, &seen).Voice.Muted = ev.IsMuted
		r.mu.Unlock()
	}

	if len(seen) > 0 {
		r.mu.RLock()
		hooks := make([]func(string), len(r.onSeen))
		copy(hooks, r.onSeen)
		r.mu.RUnlock()
		for _, id := range seen {
			for _, hook := range hooks {
				hook(id)
			}
		}
	}
}

// noteLocked returns (creating if needed) the entry for a participant,
// recording first sightings of remote participants for the seen hooks.
// Callers hold r.mu.
func (r *Room) noteLocked(id string, seen *[]string) *signaling.ParticipantPresence {
	if _, ok := r.presence[id]; !ok && id != r.localID {
		*seen = append(*seen, id)
	}
	return r.presenceLocked(id)
}

// presenceLocked returns (creating if needed) the entry for a
// participant. Callers hold r.mu.
func (r *Room) presenceLocked(id string) *signaling.ParticipantPresence {
	p, ok := r.presence[id]
	if !ok {
		p = &signaling.ParticipantPresence{ID: id}
		r.presence[id] = p
	}
	return p
}

// Participants returns a snapshot of the presence roster.
func (r *Room) Participants() []signaling.ParticipantPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]signaling.ParticipantPresence, 0, len(r.presence))
	for _, p := range r.presence {
		out = append(out, *p)
	}
	return out
}

// Participant returns one participant's presence.
func (r *Room) Participant(id string) (signaling.ParticipantPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presence[id]
	if !ok {
		return signaling.ParticipantPresence{}, false
	}
	return *p, true
}

// ActiveSharer returns the participant currently screen sharing, if
// any. Room presence, not local state, is the source of truth for the
// single-sharer check.
func (r *Room) ActiveSharer() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.presence {
		if p.IsScreenSharing {
			return id, true
		}
	}
	return "", false
}

// RemoteParticipants returns the ids of all known remote participants.
func (r *Room) RemoteParticipants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.presence))
	for id := range r.presence {
		if id != r.localID {
			out = append(out, id)
		}
	}
	return out
}

// VoiceParticipants returns the ids of participants currently in voice
// chat, excluding the local participant.
func (r *Room) VoiceParticipants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.presence))
	for id, p := range r.presence {
		if p.Voice.Connected && id != r.localID {
			out = append(out, id)
		}
	}
	return out
}

// SetLocalVoice records the local participant's voice presence flags.
// This is the one roster entry a feature session writes directly: the
// relay does not echo our own notifications back.
func (r *Room) SetLocalVoice(state signaling.VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.presenceLocked(r.localID)
	p.Username = r.localName
	p.Voice = state
}

// SetLocalScreenSharing records the local participant's sharer flag.
func (r *Room) SetLocalScreenSharing(sharing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.presenceLocked(r.localID)
	p.Username = r.localName
	p.IsScreenSharing = sharing
}
