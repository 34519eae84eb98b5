package media

import (
	"testing"
	"time"

	"github.com/pion/rtp"
)

func rtpPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: uint32(seq) * 960},
		Payload: []byte{0xde, 0xad},
	}
}

func collectPackets(t *testing.T, jb *JitterBuffer, n int) []uint16 {
	t.Helper()
	seqs := make([]uint16, 0, n)
	deadline := time.After(2 * time.Second)
	for len(seqs) < n {
		select {
		case p, ok := <-jb.Output():
			if !ok {
				t.Fatalf("output closed after %d packets, want %d", len(seqs), n)
			}
			seqs = append(seqs, p.SequenceNumber)
		case <-deadline:
			t.Fatalf("timed out after %d packets, want %d", len(seqs), n)
		}
	}
	return seqs
}

func TestJitterBufferDisabledPassesThrough(t *testing.T) {
	jb := NewJitterBuffer(DefaultJitterBufferConfig())
	jb.Start()

	jb.Push(rtpPacket(7))
	select {
	case p := <-jb.Output():
		if p.SequenceNumber != 7 {
			t.Fatalf("seq = %d, want 7", p.SequenceNumber)
		}
	case <-time.After(time.Second):
		t.Fatal("passthrough packet never arrived")
	}

	jb.Close()
	if _, ok := <-jb.Output(); ok {
		t.Fatal("output still open after Close")
	}

	// Push after Close is a no-op, not a panic.
	jb.Push(rtpPacket(8))
}

func TestJitterBufferReordersAcrossWraparound(t *testing.T) {
	config := JitterBufferConfig{
		Enabled:     true,
		MinDelay:    time.Millisecond,
		MaxDelay:    time.Millisecond,
		TargetDelay: time.Millisecond,
		MaxPackets:  100,
	}
	jb := NewJitterBuffer(config)
	defer jb.Close()

	for _, seq := range []uint16{65534, 1, 65533, 0, 65535} {
		jb.Push(rtpPacket(seq))
	}
	time.Sleep(10 * time.Millisecond)
	jb.Start()

	got := collectPackets(t, jb, 5)
	want := []uint16{65533, 65534, 65535, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("release order %v, want %v", got, want)
		}
	}

	stats := jb.Stats()
	if stats.PacketsReceived != 5 {
		t.Fatalf("PacketsReceived = %d, want 5", stats.PacketsReceived)
	}
	if stats.BufferedPackets != 0 {
		t.Fatalf("BufferedPackets = %d, want 0", stats.BufferedPackets)
	}
}

func TestJitterBufferDropsStalePackets(t *testing.T) {
	config := JitterBufferConfig{
		Enabled:     true,
		MinDelay:    time.Millisecond,
		MaxDelay:    time.Millisecond,
		TargetDelay: time.Millisecond,
		MaxPackets:  100,
	}
	jb := NewJitterBuffer(config)
	defer jb.Close()
	jb.Start()

	jb.Push(rtpPacket(500))
	got := collectPackets(t, jb, 1)
	if got[0] != 500 {
		t.Fatalf("seq = %d, want 500", got[0])
	}

	// A packet far behind the last released sequence is too late to
	// play and must be discarded, not reordered.
	jb.Push(rtpPacket(200))
	time.Sleep(30 * time.Millisecond)
	select {
	case p := <-jb.Output():
		t.Fatalf("stale packet %d was released", p.SequenceNumber)
	default:
	}
	if stats := jb.Stats(); stats.PacketsDropped == 0 {
		t.Fatal("stale packet not counted as dropped")
	}
}

func TestJitterBufferEvictsWhenFull(t *testing.T) {
	config := JitterBufferConfig{
		Enabled:     true,
		MinDelay:    time.Hour,
		MaxDelay:    time.Hour,
		TargetDelay: time.Hour,
		MaxPackets:  10,
	}
	jb := NewJitterBuffer(config)
	defer jb.Close()

	for seq := uint16(0); seq < 15; seq++ {
		jb.Push(rtpPacket(seq))
	}
	stats := jb.Stats()
	if stats.BufferedPackets != 10 {
		t.Fatalf("BufferedPackets = %d, want 10", stats.BufferedPackets)
	}
	if stats.PacketsDropped != 5 {
		t.Fatalf("PacketsDropped = %d, want 5", stats.PacketsDropped)
	}
}
