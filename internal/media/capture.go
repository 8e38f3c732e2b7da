package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
)

const (
	FrameDuration   = 20 * time.Millisecond
	samplesPerFrame = int(SampleRate * FrameDuration / time.Second)
)

var ErrCaptureStarted = errors.New("capture already started")

// Capture creates PCMU audio tracks fed from a Source. It implements negotiation.MediaCapture.
type Capture struct {
	logger *slog.Logger
	source Source
}

func NewCapture(source Source, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		logger: logger,
		source: source,
	}
}

func (c *Capture) NewTrack() (negotiation.CaptureTrack, error) {
	id := uuid.New()
	sample, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate, Channels: NumChannels},
		fmt.Sprintf("%s audio", id),
		fmt.Sprintf("%s audio stream", id),
	)
	if err != nil {
		return nil, err
	}

	return &Track{
		TrackLocalStaticSample: sample,
		logger:                 c.logger.With("track uuid", id),
		source:                 c.source,
	}, nil
}

// A local audio track. Samples are only written once capture has started.
type Track struct {
	*webrtc.TrackLocalStaticSample

	logger *slog.Logger
	source Source

	startOnce  sync.Once
	framesSent atomic.Int64
}

// StartCapture starts writing one frame from the source every FrameDuration until ctx is done.
func (t *Track) StartCapture(ctx context.Context) error {
	err := ErrCaptureStarted
	t.startOnce.Do(func() {
		err = nil
		go t.capture(ctx)
	})
	return err
}

func (t *Track) capture(ctx context.Context) {
	t.logger.Info("audio capture started")

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	pcm := make([]int16, samplesPerFrame)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("audio capture stopped", "frames", t.framesSent.Load())
			return
		case <-ticker.C:
		}

		if err := t.source.ReadFrame(pcm); err != nil {
			t.logger.Error("error reading audio frame", "err", err)
			return
		}

		mulawData := make([]byte, len(pcm))
		for i, sample := range pcm {
			mulawData[i] = linearToMulaw(sample)
		}

		if err := t.WriteSample(media.Sample{
			Data:     mulawData,
			Duration: FrameDuration,
		}); err != nil {
			t.logger.Debug("error writing audio sample", "err", err)
			continue
		}

		// Log periodically
		if n := t.framesSent.Add(1); n%250 == 0 {
			t.logger.Debug("sent audio frames", "frames", n)
		}
	}
}

func (t *Track) FramesSent() int64 {
	return t.framesSent.Load()
}
