package rtp

import (
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// Codec represents an immutable audio codec specification.
// Use the pre-defined codec values (CodecPCMU, CodecPCMA) for RTP streaming.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	FrameDur    time.Duration // Duration per frame (20ms)
	Channels    int           // Number of channels (1 for mono)
}

// Pre-defined codecs for narrowband telephony.
var (
	// CodecPCMU is G.711 µ-law (North America, Japan)
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond, 1}

	// CodecPCMA is G.711 A-law (Europe, rest of world)
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond, 1}

	// CodecTelephoneEvent is RFC 4733 DTMF events. Advertised in every
	// offer/answer but never decoded; see the design notes.
	CodecTelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond, 1}
)

// CodecByPayloadType returns the codec for a negotiated payload type.
func CodecByPayloadType(pt uint8) (Codec, error) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, nil
	case CodecPCMA.PayloadType:
		return CodecPCMA, nil
	default:
		return Codec{}, fmt.Errorf("unsupported payload type: %d", pt)
	}
}

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.FrameDur) / int(time.Second)
}

// PayloadBytesPerFrame returns the encoded payload bytes per frame.
// G.711 encodes one byte per sample.
func (c Codec) PayloadBytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// PCMBytesPerFrame returns the raw 16-bit PCM bytes per frame.
func (c Codec) PCMBytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels * 2
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// SilenceByte returns the companded byte encoding a zero-amplitude sample.
func (c Codec) SilenceByte() byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return 0xD5
	}
	return 0xFF
}

// Encode compands 16-bit little-endian PCM to the codec's 8-bit law.
func (c Codec) Encode(pcm []byte) []byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return g711.EncodeAlaw(pcm)
	}
	return g711.EncodeUlaw(pcm)
}

// Decode expands the codec's 8-bit law to 16-bit little-endian PCM.
func (c Codec) Decode(payload []byte) []byte {
	if c.PayloadType == CodecPCMA.PayloadType {
		return g711.DecodeAlaw(payload)
	}
	return g711.DecodeUlaw(payload)
}
