/*
 * Stats - per-feature traffic counters.
 * The capture pumps and receive loops feed these; the hosting
 * application polls snapshots for its dashboards.
 */
package rtc

import (
	"sync/atomic"
	"time"
)

// TrafficStats accumulates media traffic counters for one feature
// session. All mutators are atomic; Snapshot is safe at any time.
type TrafficStats struct {
	started time.Time

	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	packetsIn   atomic.Uint64
	packetsOut  atomic.Uint64
	dropsIn     atomic.Uint64
	sessionsUp  atomic.Uint64
	sessionsEnd atomic.Uint64
}

// NewTrafficStats creates a stats accumulator.
func NewTrafficStats() *TrafficStats {
	return &TrafficStats{started: time.Now()}
}

// AddIn records one received media payload.
func (s *TrafficStats) AddIn(bytes int) {
	s.bytesIn.Add(uint64(bytes))
	s.packetsIn.Add(1)
}

// AddOut records one sent media payload.
func (s *TrafficStats) AddOut(bytes int) {
	s.bytesOut.Add(uint64(bytes))
	s.packetsOut.Add(1)
}

// AddDropIn records one inbound payload discarded before playback.
func (s *TrafficStats) AddDropIn() {
	s.dropsIn.Add(1)
}

// SessionOpened records a peer session reaching Connected.
func (s *TrafficStats) SessionOpened() {
	s.sessionsUp.Add(1)
}

// SessionClosed records a peer session closing.
func (s *TrafficStats) SessionClosed() {
	s.sessionsEnd.Add(1)
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Uptime         time.Duration `json:"uptime"`
	BytesIn        uint64        `json:"bytes_in"`
	BytesOut       uint64        `json:"bytes_out"`
	PacketsIn      uint64        `json:"packets_in"`
	PacketsOut     uint64        `json:"packets_out"`
	DropsIn        uint64        `json:"drops_in"`
	SessionsOpened uint64        `json:"sessions_opened"`
	SessionsClosed uint64        `json:"sessions_closed"`
}

// Snapshot returns a copy of the counters.
func (s *TrafficStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Uptime:         time.Since(s.started),
		BytesIn:        s.bytesIn.Load(),
		BytesOut:       s.bytesOut.Load(),
		PacketsIn:      s.packetsIn.Load(),
		PacketsOut:     s.packetsOut.Load(),
		DropsIn:        s.dropsIn.Load(),
		SessionsOpened: s.sessionsUp.Load(),
		SessionsClosed: s.sessionsEnd.Load(),
	}
}
