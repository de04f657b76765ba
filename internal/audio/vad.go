package audio

import (
	"log/slog"
	"time"

	"github.com/sebas/voicegate/internal/metrics"
)

// Utterance is one contiguous span of detected speech bounded by silence.
type Utterance struct {
	PCM      []byte
	Start    time.Time
	Duration time.Duration
}

// SegmenterConfig tunes the energy-based voice-activity segmenter.
type SegmenterConfig struct {
	// SilenceThresholdDB classifies frames: RMS below this dBFS level
	// is silence.
	SilenceThresholdDB float64
	// SilenceDuration is the trailing silence that closes an utterance.
	SilenceDuration time.Duration
	// MinUtteranceDuration discards shorter utterances as noise blips.
	MinUtteranceDuration time.Duration
	// MaxUtteranceDuration force-closes an utterance mid-speech.
	// Zero means unlimited.
	MaxUtteranceDuration time.Duration
}

// Segmenter consumes a PCM frame stream and emits complete utterances by
// detecting silence gaps. Short silence inside speech is folded back into
// the utterance so transitions are not clipped. One segmenter serves one
// stream; it is not safe for concurrent use.
type Segmenter struct {
	cfg    SegmenterConfig
	onUtt  func(Utterance)
	active bool
	start  time.Time
	voice  []byte
	gap    []byte
}

// NewSegmenter creates a segmenter delivering utterances to onUtterance.
func NewSegmenter(cfg SegmenterConfig, onUtterance func(Utterance)) *Segmenter {
	return &Segmenter{cfg: cfg, onUtt: onUtterance}
}

// Ingest classifies one frame and advances the segmentation state.
func (s *Segmenter) Ingest(frame []byte) {
	voiced := RMSdB(frame) >= s.cfg.SilenceThresholdDB

	if voiced {
		if !s.active {
			s.active = true
			s.start = time.Now()
			s.voice = s.voice[:0]
		} else if len(s.gap) > 0 {
			// Speech resumed before the gap closed the utterance:
			// fold the buffered silence back in so nothing is clipped.
			s.voice = append(s.voice, s.gap...)
		}
		s.gap = s.gap[:0]
		s.voice = append(s.voice, frame...)

		if s.cfg.MaxUtteranceDuration > 0 && Duration(s.voice) >= s.cfg.MaxUtteranceDuration {
			s.close("max duration")
		}
		return
	}

	if !s.active {
		return
	}

	s.gap = append(s.gap, frame...)
	if Duration(s.gap) >= s.cfg.SilenceDuration {
		s.close("silence gap")
	}
}

// Flush force-closes whatever speech is pending.
func (s *Segmenter) Flush() {
	if s.active {
		s.close("flush")
	}
}

// close emits the buffered utterance if it meets the minimum duration,
// else discards it, then resets for the next one.
func (s *Segmenter) close(cause string) {
	dur := Duration(s.voice)
	if dur >= s.cfg.MinUtteranceDuration {
		pcm := make([]byte, len(s.voice))
		copy(pcm, s.voice)
		metrics.UtterancesTotal.Inc()
		slog.Debug("[VAD] Utterance closed", "duration", dur, "cause", cause)
		if s.onUtt != nil {
			s.onUtt(Utterance{PCM: pcm, Start: s.start, Duration: dur})
		}
	} else {
		slog.Debug("[VAD] Utterance discarded", "duration", dur, "min", s.cfg.MinUtteranceDuration)
	}

	s.active = false
	s.voice = s.voice[:0]
	s.gap = s.gap[:0]
}
