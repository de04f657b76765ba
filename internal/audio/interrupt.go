package audio

import (
	"sync"
	"time"
)

// BargeInConfig tunes speech-interrupts-playback detection.
type BargeInConfig struct {
	// SilenceThresholdDB classifies incoming frames; voiced frames
	// accumulate toward the interrupt threshold.
	SilenceThresholdDB float64
	// Cooldown ignores voice for this long after playback starts,
	// avoiding false triggers from audio generated during synthesis.
	Cooldown time.Duration
	// Threshold is the accumulated voiced audio that aborts playback.
	Threshold time.Duration
}

// BargeIn watches inbound audio during playback and decides when the
// caller's speech should abort it. One monitor serves one dialog.
type BargeIn struct {
	cfg BargeInConfig

	mu        sync.Mutex
	playing   bool
	playStart time.Time
	voiced    time.Duration
	fired     bool
}

// NewBargeIn creates a monitor with the given tuning.
func NewBargeIn(cfg BargeInConfig) *BargeIn {
	return &BargeIn{cfg: cfg}
}

// PlaybackStarted arms the monitor and starts the cooldown window.
func (b *BargeIn) PlaybackStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = true
	b.playStart = time.Now()
	b.voiced = 0
	b.fired = false
}

// PlaybackStopped disarms the monitor.
func (b *BargeIn) PlaybackStopped() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playing = false
}

// Feed inspects one inbound frame. It returns true exactly once per
// playback when enough voice has accumulated past the cooldown; the
// caller must then cancel playback and hand control back to capture.
func (b *BargeIn) Feed(frame []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.playing || b.fired {
		return false
	}
	if time.Since(b.playStart) < b.cfg.Cooldown {
		return false
	}
	if RMSdB(frame) < b.cfg.SilenceThresholdDB {
		return false
	}

	b.voiced += Duration(frame)
	if b.voiced >= b.cfg.Threshold {
		b.fired = true
		b.playing = false
		return true
	}
	return false
}
