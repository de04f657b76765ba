package rtp

import (
	"crypto/rand"
	"encoding/binary"
)

// randomSSRC returns a cryptographically random 32-bit SSRC. Per RFC 3550
// the SSRC is chosen randomly to minimize collisions in multi-party sessions.
func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively impossible on supported platforms
		return 0x766F6963
	}
	return binary.BigEndian.Uint32(b[:])
}

// randomSequenceStart returns a random initial sequence number per RFC 3550.
func randomSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// randomTimestampStart returns a random initial timestamp per RFC 3550.
func randomTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// SequenceTracker follows inbound RTP sequence numbers with rollover
// handling. Sequence numbers are 16-bit and wrap at 65535; the tracker
// keeps an extended 32-bit counter so loss stays accurate across wraps.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	received    uint64
}

// Update records a received sequence number. It returns the extended
// 32-bit sequence (rollover count in the upper bits) and packets lost
// since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// uint16 arithmetic gives the forward distance; interpreting it as
	// signed tells us direction. Negative means out-of-order or a late
	// packet from before a rollover.
	diff := int16(seq - s.lastSeq)
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}

	if s.lastSeq > 0xF000 && seq < 0x1000 {
		s.cycles++
	}

	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Stats returns cumulative received/lost counts.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	if s.received == 0 && s.lost == 0 {
		return 0.0
	}
	total := s.received + s.lost
	return float64(s.lost) / float64(total)
}

// Reset clears all tracking state.
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}
