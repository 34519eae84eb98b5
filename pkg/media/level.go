package media

import "math"

// SpeakingThreshold is the average spectrum magnitude, on a 0-255
// scale, above which a PCM frame counts as speech.
const SpeakingThreshold = 20

// spectrumBins is how many low-frequency DFT bins feed the average.
// Speech energy concentrates well below bin 32 at 48kHz frames.
const spectrumBins = 32

// AudioLevel returns the average absolute magnitude of a PCM frame
// scaled to 0-255. An empty frame is silence.
func AudioLevel(frame []int16) uint8 {
	if len(frame) == 0 {
		return 0
	}
	var sum uint64
	for _, s := range frame {
		if s < 0 {
			if s == math.MinInt16 {
				s = math.MaxInt16
			} else {
				s = -s
			}
		}
		sum += uint64(s)
	}
	avg := sum / uint64(len(frame))
	return uint8(avg >> 7) // 0..32767 down to 0..255
}

// Decibel range mapped onto the 0-255 bin scale. Matches the range
// audio analysers commonly use for byte frequency data.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// SpectrumLevel returns the average of the low-frequency spectrum
// bins, each mapped from its decibel magnitude onto 0-255. Frames
// longer than 1024 samples are truncated; the DFT cost stays bounded.
func SpectrumLevel(frame []int16) uint8 {
	n := len(frame)
	if n == 0 {
		return 0
	}
	if n > 1024 {
		frame = frame[:1024]
		n = 1024
	}

	var total float64
	for k := 1; k <= spectrumBins; k++ {
		var re, im float64
		w := 2 * math.Pi * float64(k) / float64(n)
		for t, s := range frame {
			re += float64(s) * math.Cos(w*float64(t))
			im -= float64(s) * math.Sin(w*float64(t))
		}
		// Component amplitude relative to full scale.
		amp := 2 * math.Hypot(re, im) / float64(n) / 32768
		if amp <= 0 {
			continue
		}
		db := 20 * math.Log10(amp)
		v := (db - minDecibels) / (maxDecibels - minDecibels) * 255
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		total += v
	}

	level := total / spectrumBins
	if level > 255 {
		level = 255
	}
	return uint8(level)
}

// IsSpeech reports whether a frame's spectrum level crosses the
// speaking threshold.
func IsSpeech(frame []int16) bool {
	return SpectrumLevel(frame) > SpeakingThreshold
}
