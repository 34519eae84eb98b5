package media

// Quality selects the capture resolution tier for screen sharing.
type Quality string

const (
	QualityLow    Quality = "low"    // 1280x720
	QualityMedium Quality = "medium" // 1920x1080
	QualityHigh   Quality = "high"   // 2560x1440
)

// Resolution returns the pixel dimensions for a quality tier. Unknown
// tiers fall back to medium.
func (q Quality) Resolution() (width, height int) {
	switch q {
	case QualityLow:
		return 1280, 720
	case QualityHigh:
		return 2560, 1440
	default:
		return 1920, 1080
	}
}

// ScreenCaptureOptions describes the requested screen capture.
type ScreenCaptureOptions struct {
	Quality   Quality `json:"quality"`
	FrameRate int     `json:"frameRate"`

	// CodecMime selects the capture encoder. Empty means VP8.
	CodecMime string `json:"codecMime,omitempty"`
}

// DefaultScreenCaptureOptions returns 1080p at 30fps.
func DefaultScreenCaptureOptions() ScreenCaptureOptions {
	return ScreenCaptureOptions{
		Quality:   QualityMedium,
		FrameRate: 30,
	}
}

// MicrophoneOptions describes audio processing constraints applied at
// the capture source. All three default to enabled.
type MicrophoneOptions struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

// DefaultMicrophoneOptions returns the standard voice chat constraints.
func DefaultMicrophoneOptions() MicrophoneOptions {
	return MicrophoneOptions{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}
