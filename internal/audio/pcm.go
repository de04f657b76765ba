// Package audio provides the PCM processing stages between RTP endpoints
// and the conversation layer: voice-activity segmentation, sample-rate
// conversion, noise suppression and barge-in detection. All PCM is 16-bit
// little-endian mono unless stated otherwise.
package audio

import (
	"math"
	"time"
)

// TelephonyRate is the narrowband sample rate all dialog audio uses.
const TelephonyRate = 8000

// FrameDuration is the packetization interval for dialog audio.
const FrameDuration = 20 * time.Millisecond

// sampleAt reads the i-th 16-bit little-endian sample.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

// putSampleAt writes the i-th 16-bit little-endian sample.
func putSampleAt(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(s >> 8)
}

// RMSdB returns the frame's RMS energy in dBFS. An all-zero frame
// reports the floor value of -96 dB.
func RMSdB(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return -96
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 1 {
		return -96
	}
	return 20 * math.Log10(rms/32768.0)
}

// Duration returns the playing time of a PCM buffer at the telephony rate.
func Duration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / TelephonyRate
}
