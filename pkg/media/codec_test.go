package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestScreenVideoCodecSelection(t *testing.T) {
	cases := []struct {
		mime string
		want string
	}{
		{"", webrtc.MimeTypeVP8},
		{webrtc.MimeTypeVP8, webrtc.MimeTypeVP8},
		{webrtc.MimeTypeH264, webrtc.MimeTypeH264},
		{"video/H264", webrtc.MimeTypeH264},
		{"video/unknown", webrtc.MimeTypeVP8},
	}
	for _, c := range cases {
		if got := ScreenVideoCodec(c.mime).MimeType; got != c.want {
			t.Errorf("ScreenVideoCodec(%q) = %s, want %s", c.mime, got, c.want)
		}
	}

	if ScreenVideoCodec(webrtc.MimeTypeH264).SDPFmtpLine == "" {
		t.Error("H264 preset missing fmtp constraints")
	}
}

func TestMimeClassification(t *testing.T) {
	if !IsVideoMime(webrtc.MimeTypeVP8) || !IsVideoMime("VIDEO/H264") {
		t.Error("video mime not recognized")
	}
	if IsVideoMime(webrtc.MimeTypeOpus) {
		t.Error("audio mime classified as video")
	}
	if !IsAudioMime(webrtc.MimeTypeOpus) || !IsAudioMime("AUDIO/PCMU") {
		t.Error("audio mime not recognized")
	}
	if IsAudioMime(webrtc.MimeTypeVP8) {
		t.Error("video mime classified as audio")
	}
}
