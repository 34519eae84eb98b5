/*
 * Jitter buffer - smooths inter-arrival jitter on received audio.
 *
 * Optional on the voice receive path; disabled by default so the
 * common case stays at minimum latency. Packets are held in a heap
 * ordered by RTP sequence number and released once they have aged to
 * the adaptive target delay.
 */
package media

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// opusClockRate is the RTP timestamp clock for voice chat audio.
const opusClockRate = 48000

// JitterBufferConfig bounds the adaptive playout delay.
type JitterBufferConfig struct {
	Enabled     bool
	MinDelay    time.Duration
	MaxDelay    time.Duration
	TargetDelay time.Duration
	MaxPackets  int
}

// DefaultJitterBufferConfig returns the disabled default.
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{
		Enabled:     false,
		MinDelay:    20 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
		TargetDelay: 50 * time.Millisecond,
		MaxPackets:  100,
	}
}

type bufferedPacket struct {
	packet   *rtp.Packet
	received time.Time
	index    int
}

// packetHeap orders packets by sequence number. Comparison goes
// through a signed 16-bit difference so sequence wraparound sorts
// correctly.
type packetHeap []*bufferedPacket

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	return int16(h[i].packet.SequenceNumber-h[j].packet.SequenceNumber) < 0
}

func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *packetHeap) Push(x interface{}) {
	p := x.(*bufferedPacket)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}

// JitterBuffer reorders and delays received RTP packets.
type JitterBuffer struct {
	mu     sync.Mutex
	config JitterBufferConfig

	packets packetHeap

	lastSeq     uint16
	initialized bool
	received    uint64
	dropped     uint64
	reordered   uint64

	currentDelay  time.Duration
	jitter        time.Duration
	lastArrival   time.Time
	lastTimestamp uint32

	outputCh chan *rtp.Packet
	stopCh   chan struct{}
	closed   bool
}

// NewJitterBuffer creates a buffer with the given config.
func NewJitterBuffer(config JitterBufferConfig) *JitterBuffer {
	jb := &JitterBuffer{
		config:       config,
		packets:      make(packetHeap, 0, config.MaxPackets),
		currentDelay: config.TargetDelay,
		outputCh:     make(chan *rtp.Packet, config.MaxPackets),
		stopCh:       make(chan struct{}),
	}
	heap.Init(&jb.packets)
	return jb
}

// Push accepts a received packet. When the buffer is disabled the
// packet passes straight through to the output channel.
func (jb *JitterBuffer) Push(packet *rtp.Packet) {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.closed {
		return
	}

	if !jb.config.Enabled {
		select {
		case jb.outputCh <- packet:
		default:
		}
		return
	}

	now := time.Now()
	jb.received++

	// RFC 3550 interarrival jitter estimate, smoothed by 1/16.
	if jb.initialized && !jb.lastArrival.IsZero() {
		arrivalDiff := now.Sub(jb.lastArrival)
		timestampDiff := time.Duration(packet.Timestamp-jb.lastTimestamp) * time.Second / opusClockRate
		d := arrivalDiff - timestampDiff
		if d < 0 {
			d = -d
		}
		jb.jitter = jb.jitter + (d-jb.jitter)/16

		target := jb.jitter * 3
		if target < jb.config.MinDelay {
			target = jb.config.MinDelay
		}
		if target > jb.config.MaxDelay {
			target = jb.config.MaxDelay
		}
		jb.currentDelay = jb.currentDelay + (target-jb.currentDelay)/8
	}
	jb.lastArrival = now
	jb.lastTimestamp = packet.Timestamp

	if jb.initialized {
		diff := int16(packet.SequenceNumber - jb.lastSeq)
		if diff < -100 {
			// Too stale to play, drop.
			jb.dropped++
			return
		}
		if diff < 0 {
			jb.reordered++
		}
	}

	if len(jb.packets) >= jb.config.MaxPackets {
		heap.Pop(&jb.packets)
		jb.dropped++
	}

	heap.Push(&jb.packets, &bufferedPacket{packet: packet, received: now})
}

// Start launches the timed output loop. No-op when disabled.
func (jb *JitterBuffer) Start() {
	if !jb.config.Enabled {
		return
	}
	go jb.outputLoop()
}

func (jb *JitterBuffer) outputLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-jb.stopCh:
			return
		case <-ticker.C:
			jb.release()
		}
	}
}

// release moves every packet older than the current delay to the
// output channel, in sequence order.
func (jb *JitterBuffer) release() {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.closed {
		return
	}

	now := time.Now()
	for len(jb.packets) > 0 {
		oldest := jb.packets[0]
		if now.Sub(oldest.received) < jb.currentDelay {
			break
		}
		p := heap.Pop(&jb.packets).(*bufferedPacket)
		if !jb.initialized || int16(p.packet.SequenceNumber-jb.lastSeq) > 0 {
			jb.lastSeq = p.packet.SequenceNumber
			jb.initialized = true
		}
		select {
		case jb.outputCh <- p.packet:
		default:
			jb.dropped++
		}
	}
}

// Output returns the ordered packet stream.
func (jb *JitterBuffer) Output() <-chan *rtp.Packet {
	return jb.outputCh
}

// Close stops the output loop, discards buffered packets and closes
// the output channel so consumers ranging over it terminate.
func (jb *JitterBuffer) Close() {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	if jb.closed {
		return
	}
	jb.closed = true
	close(jb.stopCh)
	close(jb.outputCh)
	jb.packets = jb.packets[:0]
}

// JitterStats reports buffer behaviour for diagnostics.
type JitterStats struct {
	Enabled         bool  `json:"enabled"`
	BufferedPackets int   `json:"buffered_packets"`
	CurrentDelayMs  int64 `json:"current_delay_ms"`
	JitterMs        int64 `json:"jitter_ms"`

	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	PacketsReordered uint64 `json:"packets_reordered"`
}

// Stats returns a snapshot of the buffer counters.
func (jb *JitterBuffer) Stats() JitterStats {
	jb.mu.Lock()
	defer jb.mu.Unlock()

	return JitterStats{
		Enabled:          jb.config.Enabled,
		BufferedPackets:  len(jb.packets),
		CurrentDelayMs:   jb.currentDelay.Milliseconds(),
		JitterMs:         jb.jitter.Milliseconds(),
		PacketsReceived:  jb.received,
		PacketsDropped:   jb.dropped,
		PacketsReordered: jb.reordered,
	}
}
