package audio

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Denoiser suppresses noise in fixed-size blocks of float32 samples at
// its own sample rate. Implementations may keep per-stream state and are
// not safe for concurrent use.
type Denoiser interface {
	// SampleRate is the rate the denoiser operates at.
	SampleRate() int
	// BlockSize is the fixed number of samples per Process call.
	BlockSize() int
	// Process denoises one block in place.
	Process(block []float32) error
}

// NoopDenoiser passes audio through unchanged at the telephony rate, so
// the pipeline skips resampling entirely. Use it to disable suppression
// without branching at call sites.
type NoopDenoiser struct{}

// SampleRate implements Denoiser.
func (NoopDenoiser) SampleRate() int { return TelephonyRate }

// BlockSize implements Denoiser.
func (NoopDenoiser) BlockSize() int { return TelephonyRate / 50 }

// Process implements Denoiser.
func (NoopDenoiser) Process(block []float32) error { return nil }

// GateQuality selects how aggressively the spectral gate attenuates.
type GateQuality int

const (
	// GateLow attenuates gently, preserving faint speech onsets.
	GateLow GateQuality = iota
	// GateMedium is the default tier.
	GateMedium
	// GateHigh suppresses hardest; may dull very quiet speech.
	GateHigh
)

// ParseGateQuality maps a config string to a quality tier.
func ParseGateQuality(s string) GateQuality {
	switch s {
	case "low":
		return GateLow
	case "high":
		return GateHigh
	default:
		return GateMedium
	}
}

// GateDenoiser is an energy-gate noise suppressor operating on 10ms
// blocks at 48kHz, the block geometry neural suppressors use, so a
// heavier backend can drop in behind the same interface. It tracks a
// running noise floor and attenuates blocks close to it.
type GateDenoiser struct {
	floor float64 // running noise-floor estimate (mean square)
	atten float32
}

// NewGateDenoiser creates a gate with the given quality tier.
func NewGateDenoiser(q GateQuality) *GateDenoiser {
	atten := float32(0.3)
	switch q {
	case GateLow:
		atten = 0.5
	case GateHigh:
		atten = 0.1
	}
	return &GateDenoiser{floor: 1e-4, atten: atten}
}

// SampleRate implements Denoiser.
func (d *GateDenoiser) SampleRate() int { return 48000 }

// BlockSize implements Denoiser.
func (d *GateDenoiser) BlockSize() int { return 480 }

// Process implements Denoiser.
func (d *GateDenoiser) Process(block []float32) error {
	if len(block) != d.BlockSize() {
		return fmt.Errorf("audio: gate block size %d, want %d", len(block), d.BlockSize())
	}

	var energy float64
	for _, s := range block {
		energy += float64(s) * float64(s)
	}
	energy /= float64(len(block))

	// Slow rise, fast fall keeps the floor tracking background noise
	// without chasing speech.
	if energy < d.floor {
		d.floor = 0.9*d.floor + 0.1*energy
	} else {
		d.floor = 0.999*d.floor + 0.001*energy
	}

	// Attenuate blocks within 6 dB of the estimated floor.
	if energy < d.floor*4 {
		for i := range block {
			block[i] *= d.atten
		}
	}
	return nil
}

// Pipeline makes per-frame denoising allocation-free. All scratch is
// sized once in the constructor from the telephony rate, the denoiser
// rate and the frame duration, and reused for the stream's life. On any
// internal failure the original unprocessed frame is returned; the
// pipeline never raises.
type Pipeline struct {
	den          Denoiser
	frameSamples int
	denSamples   int
	up           *Resampler
	down         *Resampler
	fbuf         []float32
	ibuf         []byte
}

// NewPipeline builds a denoising pipeline for 20ms telephony frames.
func NewPipeline(den Denoiser) *Pipeline {
	frameSamples := TelephonyRate * int(FrameDuration/time.Millisecond) / 1000
	denSamples := den.SampleRate() * int(FrameDuration/time.Millisecond) / 1000

	return &Pipeline{
		den:          den,
		frameSamples: frameSamples,
		denSamples:   denSamples,
		up:           NewResampler(denSamples),
		down:         NewResampler(frameSamples),
		fbuf:         make([]float32, denSamples),
		ibuf:         make([]byte, denSamples*2),
	}
}

// ProcessFrame denoises one 20ms PCM frame and returns it at the
// original size. The returned slice is valid until the next call.
func (p *Pipeline) ProcessFrame(pcm []byte) []byte {
	if len(pcm)/2 != p.frameSamples {
		return pcm
	}

	wide := p.up.Resample(pcm, TelephonyRate, p.den.SampleRate())
	n := len(wide) / 2
	if n > len(p.fbuf) {
		return pcm
	}

	for i := 0; i < n; i++ {
		p.fbuf[i] = float32(sampleAt(wide, i)) / 32768.0
	}

	block := p.den.BlockSize()
	for off := 0; off+block <= n; off += block {
		if err := p.den.Process(p.fbuf[off : off+block]); err != nil {
			// Degrade to the unprocessed frame rather than surfacing
			// a mid-stream error.
			slog.Debug("[Denoise] Falling back to unprocessed audio", "error", err)
			return pcm
		}
	}

	out := p.ibuf[:n*2]
	for i := 0; i < n; i++ {
		v := p.fbuf[i] * 32768.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		putSampleAt(out, i, int16(v))
	}

	return p.down.Resample(out, p.den.SampleRate(), TelephonyRate)
}
