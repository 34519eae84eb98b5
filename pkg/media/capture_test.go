package media

import (
	"io"
	"sync"
	"testing"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// scriptedSource feeds samples from a channel; closing it makes
// ReadSample return io.EOF, the same way a real device ends.
type scriptedSource struct {
	mu      sync.Mutex
	samples chan pionmedia.Sample
	closed  bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{samples: make(chan pionmedia.Sample, 16)}
}

func (s *scriptedSource) ReadSample() (pionmedia.Sample, error) {
	sample, ok := <-s.samples
	if !ok {
		return pionmedia.Sample{}, io.EOF
	}
	return sample, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.samples)
	}
	return nil
}

func (s *scriptedSource) feed(t *testing.T, payloads ...[]byte) {
	t.Helper()
	for _, p := range payloads {
		select {
		case s.samples <- pionmedia.Sample{Data: p, Duration: 20 * time.Millisecond}:
		case <-time.After(time.Second):
			t.Fatal("source feed stalled")
		}
	}
}

func waitForCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCapturePumpCountsSamples(t *testing.T) {
	src := newScriptedSource()
	c, err := NewCapture(src, VoiceAudioCodec(), "stream-1")
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	defer c.Stop()

	if c.Track() == nil {
		t.Fatal("capture has no track")
	}

	src.feed(t, []byte{1, 2, 3}, []byte{4, 5}, []byte{6})
	waitForCond(t, "samples pumped", func() bool {
		samples, _ := c.Stats()
		return samples == 3
	})
	if _, bytes := c.Stats(); bytes != 6 {
		t.Fatalf("bytes = %d, want 6", bytes)
	}
}

func TestCaptureMuteGateSkipsWrites(t *testing.T) {
	src := newScriptedSource()
	c, err := NewCapture(src, VoiceAudioCodec(), "stream-1")
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	defer c.Stop()

	src.feed(t, []byte{1}, []byte{2})
	waitForCond(t, "initial samples", func() bool {
		samples, _ := c.Stats()
		return samples == 2
	})

	c.SetMuted(true)
	if !c.Muted() {
		t.Fatal("Muted() = false after SetMuted(true)")
	}
	src.feed(t, []byte{3}, []byte{4}, []byte{5})
	// The pump keeps draining while muted but writes nothing.
	waitForCond(t, "muted samples drained", func() bool {
		return len(src.samples) == 0
	})
	if samples, _ := c.Stats(); samples != 2 {
		t.Fatalf("samples = %d while muted, want 2", samples)
	}

	c.SetMuted(false)
	src.feed(t, []byte{6})
	waitForCond(t, "unmuted sample", func() bool {
		samples, _ := c.Stats()
		return samples == 3
	})
}

func TestCaptureStopIsSynchronousAndIdempotent(t *testing.T) {
	src := newScriptedSource()
	c, err := NewCapture(src, ScreenVideoCodec(""), "stream-2")
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}

	c.Stop()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Stop returned")
	}
	c.Stop()
}

func TestCaptureDoneClosesOnSourceEnd(t *testing.T) {
	src := newScriptedSource()
	c, err := NewCapture(src, ScreenVideoCodec(""), "stream-3")
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}

	// Out-of-band end, e.g. the user revoking the capture from the OS.
	src.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after source ended")
	}
	c.Stop()
}

func TestNewCaptureRejectsNilSource(t *testing.T) {
	if _, err := NewCapture(nil, VoiceAudioCodec(), "stream-4"); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestCaptureWriteObserverSeesOnlyDeliveredSamples(t *testing.T) {
	src := newScriptedSource()
	c, err := NewCapture(src, VoiceAudioCodec(), "stream-5")
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	defer c.Stop()

	var mu sync.Mutex
	var calls, bytes int
	c.SetWriteObserver(func(n int) {
		mu.Lock()
		calls++
		bytes += n
		mu.Unlock()
	})

	src.feed(t, []byte{1, 2, 3}, []byte{4, 5})
	waitForCond(t, "observed samples", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	})
	mu.Lock()
	if bytes != 5 {
		t.Fatalf("observed bytes = %d, want 5", bytes)
	}
	mu.Unlock()

	c.SetMuted(true)
	src.feed(t, []byte{6}, []byte{7})
	waitForCond(t, "muted samples drained", func() bool {
		return len(src.samples) == 0
	})
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("observer called %d times, muted samples leaked through", calls)
	}
}
