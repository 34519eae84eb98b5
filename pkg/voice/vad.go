package voice

import (
	"time"

	"github.com/streamroom/rtc_core/pkg/media"
	"github.com/streamroom/rtc_core/pkg/utils"
)

// vadInterval approximates animation-frame cadence.
const vadInterval = 33 * time.Millisecond

// detector samples the local microphone PCM and reports
// speaking/silent transitions. While muted it always reports silence.
// stop is synchronous: when it returns the loop has exited and no
// further callbacks fire.
type detector struct {
	source  media.PCMSource
	muted   func() bool
	onState func(speaking bool)

	stopCh chan struct{}
	doneCh chan struct{}
}

func newDetector(source media.PCMSource, muted func() bool, onState func(bool)) *detector {
	return &detector{
		source:  source,
		muted:   muted,
		onState: onState,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (d *detector) start() {
	go d.loop()
}

func (d *detector) stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	<-d.doneCh
}

func (d *detector) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(vadInterval)
	defer ticker.Stop()

	speaking := false
	for {
		select {
		case <-d.stopCh:
			if speaking {
				d.onState(false)
			}
			return
		case <-ticker.C:
			frame, err := d.source.ReadPCM()
			if err != nil {
				utils.Debug("[voice-chat] vad source ended: %v", err)
				if speaking {
					d.onState(false)
				}
				return
			}
			now := !d.muted() && media.IsSpeech(frame)
			if now != speaking {
				speaking = now
				d.onState(speaking)
			}
		}
	}
}
