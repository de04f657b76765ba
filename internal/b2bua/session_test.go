package b2bua

import (
	"testing"

	"github.com/sebas/voicegate/internal/mixer"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	mix := mixer.New("s1", func(legID string, pcm []byte) {})
	return newSession("s1", "leg-a", mix)
}

func TestSessionStartsConnecting(t *testing.T) {
	s := newTestSession(t)
	if got := s.State(); got != StateConnecting {
		t.Errorf("State() = %q, want %q", got, StateConnecting)
	}
}

func TestSessionEstablish(t *testing.T) {
	s := newTestSession(t)

	if err := s.event("establish"); err != nil {
		t.Fatalf("establish failed: %v", err)
	}
	if got := s.State(); got != StateEstablished {
		t.Errorf("State() = %q, want %q", got, StateEstablished)
	}
}

func TestSessionTerminateFromConnecting(t *testing.T) {
	s := newTestSession(t)

	if err := s.event("terminate"); err != nil {
		t.Fatalf("terminate from connecting failed: %v", err)
	}
	if got := s.State(); got != StateTerminating {
		t.Errorf("State() = %q, want %q", got, StateTerminating)
	}
	if err := s.event("finish"); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if got := s.State(); got != StateTerminated {
		t.Errorf("State() = %q, want %q", got, StateTerminated)
	}
}

func TestSessionTerminateFromEstablished(t *testing.T) {
	s := newTestSession(t)

	if err := s.event("establish"); err != nil {
		t.Fatalf("establish failed: %v", err)
	}
	if err := s.event("terminate"); err != nil {
		t.Fatalf("terminate from established failed: %v", err)
	}
	if got := s.State(); got != StateTerminating {
		t.Errorf("State() = %q, want %q", got, StateTerminating)
	}
}

func TestSessionDoubleTerminateRejected(t *testing.T) {
	s := newTestSession(t)

	if err := s.event("terminate"); err != nil {
		t.Fatalf("first terminate failed: %v", err)
	}
	// Second terminate must fail; teardown relies on this for idempotency
	if err := s.event("terminate"); err == nil {
		t.Error("second terminate should fail")
	}
	if got := s.State(); got != StateTerminating {
		t.Errorf("State() = %q, want %q", got, StateTerminating)
	}
}

func TestSessionEstablishAfterTerminateRejected(t *testing.T) {
	s := newTestSession(t)

	if err := s.event("terminate"); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if err := s.event("establish"); err == nil {
		t.Error("establish after terminate should fail")
	}
}

func TestSessionLegB(t *testing.T) {
	s := newTestSession(t)

	if got := s.LegB(); got != "" {
		t.Errorf("LegB() = %q before dialing, want empty", got)
	}
	s.setLegB("leg-b")
	if got := s.LegB(); got != "leg-b" {
		t.Errorf("LegB() = %q, want leg-b", got)
	}
}

func TestSessionPlaybackWithoutAudioChain(t *testing.T) {
	s := newTestSession(t)
	// Audio chain attaches only on establishment; must not panic before then
	s.PlaybackStarted()
	s.PlaybackStopped()
}
