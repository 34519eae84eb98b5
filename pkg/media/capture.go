/*
 * Capture - local media acquisition
 *
 * The host application supplies a CaptureProvider; this package wraps
 * its sources into pion local tracks and pumps samples until the
 * source ends or the capture is stopped.
 */
package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/streamroom/rtc_core/pkg/utils"
)

// Source delivers encoded media samples from a capture device.
// ReadSample blocks until a sample is available and returns io.EOF
// (or any other error) once the source has ended.
type Source interface {
	ReadSample() (pionmedia.Sample, error)
	Close() error
}

// PCMSource is an optional extension of Source for audio captures
// that can also expose raw mono PCM frames for local analysis.
type PCMSource interface {
	Source
	ReadPCM() ([]int16, error)
}

// CaptureProvider is implemented by the host application and bridges
// platform capture APIs into sources this package can pump.
type CaptureProvider interface {
	// CaptureScreen acquires a screen capture source. Implementations
	// return ErrPermissionDenied when the user refuses the prompt and
	// ErrDeviceBusy when the screen is held elsewhere.
	CaptureScreen(opts ScreenCaptureOptions) (Source, error)

	// CaptureMicrophone acquires a microphone source with the given
	// audio processing constraints.
	CaptureMicrophone(opts MicrophoneOptions) (Source, error)
}

// Capture owns one running capture source and the local track fed
// from it. Stop is synchronous: when it returns the pump goroutine
// has exited and the source is closed.
type Capture struct {
	mu      sync.Mutex
	source  Source
	track   *webrtc.TrackLocalStaticSample
	stopped bool

	muted atomic.Bool

	// onWrite observes every sample written to the track. Guarded by mu.
	onWrite func(bytes int)

	// done closes when the pump exits for any reason, including the
	// source ending out-of-band. stopDone closes only after Stop has
	// fully torn the capture down.
	done     chan struct{}
	pumpDone chan struct{}

	samples atomic.Uint64
	bytes   atomic.Uint64
}

// NewCapture wraps a source into a local track and starts pumping.
// streamID groups tracks belonging to the same logical stream.
func NewCapture(source Source, codec CodecInfo, streamID string) (*Capture, error) {
	if source == nil {
		return nil, ErrCaptureClosed
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec.Capability(), uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}

	c := &Capture{
		source:   source,
		track:    track,
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

// Track returns the local track fed by this capture.
func (c *Capture) Track() *webrtc.TrackLocalStaticSample {
	return c.track
}

// Done closes when the capture has ended for any reason. Callers use
// it to observe out-of-band revocation (e.g. the OS stop-sharing UI)
// and run the same teardown as an explicit stop.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// SetMuted gates sample delivery without touching negotiation. While
// muted the pump keeps draining the source so the device stays live,
// but writes nothing to the track.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports the current mute gate.
func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// SetWriteObserver registers fn to be called with the payload size of
// every sample written to the track. Muted samples never reach it.
func (c *Capture) SetWriteObserver(fn func(bytes int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// Stats returns the number of samples and payload bytes written.
func (c *Capture) Stats() (samples, bytes uint64) {
	return c.samples.Load(), c.bytes.Load()
}

// Stop closes the source and waits for the pump to exit. It is
// idempotent and safe to call after the source ended on its own.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	src := c.source
	c.mu.Unlock()

	if src != nil {
		src.Close()
	}
	<-c.pumpDone
}

func (c *Capture) pump() {
	defer func() {
		close(c.pumpDone)
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}()

	for {
		sample, err := c.source.ReadSample()
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			if !stopped && !errors.Is(err, io.EOF) {
				utils.Warn("capture source ended: %v", err)
			}
			return
		}
		if c.muted.Load() {
			continue
		}
		if err := c.track.WriteSample(sample); err != nil {
			utils.Warn("track write failed: %v", err)
			return
		}
		c.samples.Add(1)
		c.bytes.Add(uint64(len(sample.Data)))

		c.mu.Lock()
		observe := c.onWrite
		c.mu.Unlock()
		if observe != nil {
			observe(len(sample.Data))
		}
	}
}
