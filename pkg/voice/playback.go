package voice

import (
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/streamroom/rtc_core/pkg/media"
	"github.com/streamroom/rtc_core/pkg/utils"
)

// receiveMTU bounds one RTP read.
const receiveMTU = 1500

// PlaybackFrame is one received audio packet handed to the playback
// sink, still Opus-encoded. Decoding is the host application's
// concern.
type PlaybackFrame struct {
	Packet  *rtp.Packet
	Payload []byte
}

// receiveTrack pumps one remote audio track through the optional
// jitter buffer and into the playback sink. It exits when the peer
// session closes. Deafen gates delivery here; packets are still read
// so RTCP feedback keeps flowing.
func (s *Session) receiveTrack(peerID string, track *webrtc.TrackRemote) {
	jb := media.NewJitterBuffer(s.jitterConfig)
	jb.Start()
	defer jb.Close()

	go s.drainPlayback(peerID, jb.Output())

	// Reads go through the shared buffer pool; packets arrive at
	// 20ms cadence per peer and per-read allocations add up in a
	// full mesh.
	for {
		buf := utils.GetBuffer(receiveMTU)
		n, _, err := track.Read(buf)
		if err != nil {
			utils.PutBuffer(buf)
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("[%s] track from %s ended: %v", featureName, peerID, err)
			}
			return
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			utils.PutBuffer(buf)
			s.logger.Debug("[%s] bad packet from %s: %v", featureName, peerID, err)
			continue
		}
		// Unmarshal aliases the read buffer; detach the payload
		// before the buffer goes back to the pool.
		payload := make([]byte, len(packet.Payload))
		copy(payload, packet.Payload)
		packet.Payload = payload
		utils.PutBuffer(buf)

		s.stats.AddIn(len(packet.Payload))
		jb.Push(packet)
	}
}

func (s *Session) drainPlayback(peerID string, packets <-chan *rtp.Packet) {
	for packet := range packets {
		s.mu.Lock()
		deafened := s.deafened
		sink := s.sink
		s.mu.Unlock()

		if deafened || sink == nil {
			s.stats.AddDropIn()
			continue
		}
		sink(peerID, &PlaybackFrame{Packet: packet, Payload: packet.Payload})
	}
}
