// Package b2bua bridges pairs of SIP dialogs into full-duplex sessions.
// Each session owns a mixer joining the two legs and an audio chain that
// watches the caller leg for utterances and barge-in.
package b2bua

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/sebas/voicegate/internal/audio"
	"github.com/sebas/voicegate/internal/mixer"
)

// Session states.
const (
	StateConnecting  = "connecting"
	StateEstablished = "established"
	StateTerminating = "terminating"
	StateTerminated  = "terminated"
)

// Session is one bridged call: an established inbound leg (A) and an
// outbound leg (B) dialed on its behalf.
type Session struct {
	ID   string
	LegA string

	mu        sync.RWMutex
	legB      string
	machine   *fsm.FSM
	mix       *mixer.Mixer
	seg       *audio.Segmenter
	denoise   *audio.Pipeline
	bargeIn   *audio.BargeIn
	createdAt time.Time
}

func newSession(id, legA string, mix *mixer.Mixer) *Session {
	return &Session{
		ID:        id,
		LegA:      legA,
		mix:       mix,
		createdAt: time.Now(),
		machine: fsm.NewFSM(
			StateConnecting,
			fsm.Events{
				{Name: "establish", Src: []string{StateConnecting}, Dst: StateEstablished},
				{Name: "terminate", Src: []string{StateConnecting, StateEstablished}, Dst: StateTerminating},
				{Name: "finish", Src: []string{StateTerminating}, Dst: StateTerminated},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current session state.
func (s *Session) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.machine.Current()
}

// LegB returns the outbound dialog's call ID, empty until dialing started.
func (s *Session) LegB() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.legB
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) setLegB(callID string) {
	s.mu.Lock()
	s.legB = callID
	s.mu.Unlock()
}

func (s *Session) event(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Event(context.Background(), name)
}

// PlaybackStarted arms the barge-in detector for an active prompt.
func (s *Session) PlaybackStarted() {
	s.mu.RLock()
	b := s.bargeIn
	s.mu.RUnlock()
	if b != nil {
		b.PlaybackStarted()
	}
}

// PlaybackStopped disarms the barge-in detector.
func (s *Session) PlaybackStopped() {
	s.mu.RLock()
	b := s.bargeIn
	s.mu.RUnlock()
	if b != nil {
		b.PlaybackStopped()
	}
}
