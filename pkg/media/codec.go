package media

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// CodecInfo describes a negotiable codec preset.
type CodecInfo struct {
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
}

// Capability converts the preset into a pion RTP codec capability.
func (c CodecInfo) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  c.SDPFmtpLine,
		RTCPFeedback: nil,
	}
}

// Codec presets. Screen sharing offers VP8 first with H264 as the
// interop fallback; voice chat is Opus only.
var (
	CodecVP8 = CodecInfo{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
	CodecH264 = CodecInfo{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	}
	CodecOpus = CodecInfo{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
)

// ScreenVideoCodec returns the codec preset for a capture encoder mime
// type. VP8 is the default; platforms with hardware H264 encoders pass
// webrtc.MimeTypeH264.
func ScreenVideoCodec(mimeType string) CodecInfo {
	if strings.EqualFold(mimeType, webrtc.MimeTypeH264) {
		return CodecH264
	}
	return CodecVP8
}

// VoiceAudioCodec returns the codec used for voice chat tracks.
func VoiceAudioCodec() CodecInfo { return CodecOpus }

// IsVideoMime reports whether a mime type names a video codec.
func IsVideoMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "video/")
}

// IsAudioMime reports whether a mime type names an audio codec.
func IsAudioMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "audio/")
}
