package b2bua

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/voicegate/internal/audio"
	"github.com/sebas/voicegate/internal/events"
	"github.com/sebas/voicegate/internal/metrics"
	"github.com/sebas/voicegate/internal/mixer"
	"github.com/sebas/voicegate/internal/sipua"
)

// Config tunes session creation and the per-session audio chain.
type Config struct {
	// DialTimeout bounds how long leg B may ring before the session fails.
	DialTimeout time.Duration

	Segmenter audio.SegmenterConfig
	BargeIn   audio.BargeInConfig

	DenoiseEnabled bool
	DenoiseQuality audio.GateQuality
}

// Manager creates and tears down bridged sessions. It watches dialog
// lifecycle events so a hangup on either leg tears the whole session down.
type Manager struct {
	engine *sipua.Engine
	bus    *events.Bus
	cfg    Config

	mu       sync.RWMutex
	sessions map[string]*Session
	byDialog map[string]string

	endedToken  int
	failedToken int
}

// NewManager wires a session manager onto the engine and event bus.
func NewManager(engine *sipua.Engine, bus *events.Bus, cfg Config) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 60 * time.Second
	}
	m := &Manager{
		engine:   engine,
		bus:      bus,
		cfg:      cfg,
		sessions: make(map[string]*Session),
		byDialog: make(map[string]string),
	}

	m.endedToken = bus.Subscribe(events.DialogEnded, func(ev events.Event) {
		if e, ok := ev.(events.DialogEndedEvent); ok {
			m.onDialogGone(e.DialogID, e.Reason)
		}
	})
	m.failedToken = bus.Subscribe(events.DialogFailed, func(ev events.Event) {
		if e, ok := ev.(events.DialogFailedEvent); ok {
			m.onDialogGone(e.DialogID, e.Reason)
		}
	})

	return m
}

// SessionOptions controls one bridged session.
type SessionOptions struct {
	// DestinationURI is the SIP URI dialed for leg B.
	DestinationURI string
	// DisplayName is the caller name presented on leg B, may be empty.
	DisplayName string
	// EnableTranscription wires the mixer's tagged audio tap onto the bus.
	EnableTranscription bool
	// Timeout bounds the leg B dial; zero falls back to Config.DialTimeout.
	Timeout time.Duration
}

// CreateSession bridges the established inbound dialog onto a new outbound
// call. It blocks until leg B answers or fails.
func (m *Manager) CreateSession(ctx context.Context, inboundCallID string, opts SessionOptions) (*Session, error) {
	legAEndpoint := m.engine.Endpoint(inboundCallID)
	if legAEndpoint == nil {
		return nil, fmt.Errorf("no active dialog %s to bridge", inboundCallID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.cfg.DialTimeout
	}

	sessionID := uuid.New().String()

	var tap mixer.TapFunc
	if opts.EnableTranscription {
		tap = func(legID string, pcm []byte) {
			m.bus.Publish(events.TranscriptionAudioEvent{
				SessionID: sessionID,
				LegID:     legID,
				PCM:       pcm,
			})
		}
	}
	mix := mixer.New(sessionID, tap)

	s := newSession(sessionID, inboundCallID, mix)
	m.mu.Lock()
	m.sessions[sessionID] = s
	m.byDialog[inboundCallID] = sessionID
	m.mu.Unlock()

	mix.AddLeg(inboundCallID, legAEndpoint)

	// Watch outcomes before dialing so the answer cannot race the
	// subscription. The handlers filter to this session's legs so
	// unrelated dialog traffic cannot fill the buffer.
	outcomes := make(chan events.Event, 8)
	var (
		legBMu sync.Mutex
		legBID string
	)
	relevantDialog := func(dialogID string) bool {
		legBMu.Lock()
		defer legBMu.Unlock()
		return legBID == "" || dialogID == legBID
	}
	enqueue := func(ev events.Event) {
		select {
		case outcomes <- ev:
		default:
		}
	}
	startedToken := m.bus.Subscribe(events.DialogStarted, func(ev events.Event) {
		if e, ok := ev.(events.DialogStartedEvent); ok && relevantDialog(e.DialogID) {
			enqueue(ev)
		}
	})
	failedToken := m.bus.Subscribe(events.DialogFailed, func(ev events.Event) {
		if e, ok := ev.(events.DialogFailedEvent); ok && relevantDialog(e.DialogID) {
			enqueue(ev)
		}
	})
	// A hangup on leg A mid-dial tears the session down; waking on the
	// termination event beats sitting out the dial timeout.
	terminatedToken := m.bus.Subscribe(events.SessionTerminated, func(ev events.Event) {
		if e, ok := ev.(events.SessionTerminatedEvent); ok && e.SessionID == sessionID {
			enqueue(ev)
		}
	})
	defer m.bus.Unsubscribe(events.DialogStarted, startedToken)
	defer m.bus.Unsubscribe(events.DialogFailed, failedToken)
	defer m.bus.Unsubscribe(events.SessionTerminated, terminatedToken)

	legB, err := m.engine.InitiateCall(ctx, opts.DestinationURI, opts.DisplayName)
	if err != nil {
		m.abortSession(s, fmt.Sprintf("dial failed: %v", err))
		return nil, fmt.Errorf("failed to dial %s: %w", opts.DestinationURI, err)
	}
	legBMu.Lock()
	legBID = legB
	legBMu.Unlock()
	s.setLegB(legB)
	m.mu.Lock()
	m.byDialog[legB] = sessionID
	m.mu.Unlock()

	if err := awaitOutcome(ctx, outcomes, legB, sessionID, opts.Timeout); err != nil {
		m.abortSession(s, err.Error())
		return nil, err
	}
	return m.establish(s, inboundCallID, legB)
}

// awaitOutcome blocks until leg B answers (nil), leg B fails, the session
// is torn down underneath the dial, the timeout elapses, or ctx is
// canceled.
func awaitOutcome(ctx context.Context, outcomes <-chan events.Event, legB, sessionID string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev := <-outcomes:
			switch e := ev.(type) {
			case events.DialogStartedEvent:
				if e.DialogID == legB {
					return nil
				}
			case events.DialogFailedEvent:
				if e.DialogID == legB {
					return fmt.Errorf("outbound leg failed: %d %s", e.Status, e.Reason)
				}
			case events.SessionTerminatedEvent:
				if e.SessionID == sessionID {
					return fmt.Errorf("session terminated while dialing: %s", e.Reason)
				}
			}

		case <-deadline.C:
			return fmt.Errorf("outbound leg did not answer within %s", timeout)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// establish joins leg B into the mixer and attaches the caller-side audio
// chain.
func (m *Manager) establish(s *Session, legA, legB string) (*Session, error) {
	legBEndpoint := m.engine.Endpoint(legB)
	if legBEndpoint == nil {
		m.abortSession(s, "leg B vanished")
		return nil, fmt.Errorf("outbound leg %s vanished before bridging", legB)
	}

	if err := s.event("establish"); err != nil {
		m.abortSession(s, "terminated while dialing")
		return nil, fmt.Errorf("session ended during dial: %w", err)
	}

	s.mix.AddLeg(legB, legBEndpoint)
	m.attachAudioChain(s)

	metrics.ActiveSessions.Inc()
	slog.Info("[B2BUA] Session established", "session_id", s.ID, "leg_a", legA, "leg_b", legB)
	m.bus.Publish(events.SessionEstablishedEvent{
		SessionID: s.ID,
		LegA:      legA,
		LegB:      legB,
	})
	return s, nil
}

// attachAudioChain taps the caller leg for denoising, utterance detection,
// and barge-in, feeding results onto the bus.
func (m *Manager) attachAudioChain(s *Session) {
	endpoint := m.engine.Endpoint(s.LegA)
	if endpoint == nil {
		return
	}

	var den audio.Denoiser = audio.NoopDenoiser{}
	if m.cfg.DenoiseEnabled {
		den = audio.NewGateDenoiser(m.cfg.DenoiseQuality)
	}
	pipeline := audio.NewPipeline(den)

	seg := audio.NewSegmenter(m.cfg.Segmenter, func(u audio.Utterance) {
		m.bus.Publish(events.UtteranceEvent{
			DialogID: s.LegA,
			PCM:      u.PCM,
			Start:    u.Start,
			Duration: u.Duration,
		})
	})
	barge := audio.NewBargeIn(m.cfg.BargeIn)

	s.mu.Lock()
	s.denoise = pipeline
	s.seg = seg
	s.bargeIn = barge
	s.mu.Unlock()

	// Frames arrive on the endpoint's receive goroutine, one at a time,
	// so the chain needs no locking of its own.
	endpoint.Subscribe("audio:"+s.ID, func(pcm []byte) {
		clean := pipeline.ProcessFrame(pcm)
		seg.Ingest(clean)
		if barge.Feed(clean) {
			slog.Info("[B2BUA] Barge-in detected", "session_id", s.ID, "leg", s.LegA)
			m.bus.Publish(events.BargeInEvent{
				SessionID: s.ID,
				DialogID:  s.LegA,
			})
		}
	})
}

// Session returns the session with the given ID, or nil.
func (m *Manager) Session(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Sessions returns a snapshot of all active sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// TerminateSession tears a session down: both legs are hung up
// independently so one failing never leaks the other. Idempotent: an
// unknown or already-terminated id is a no-op, never an error.
func (m *Manager) TerminateSession(id, reason string) {
	m.mu.RLock()
	s := m.sessions[id]
	m.mu.RUnlock()
	if s == nil {
		slog.Debug("[B2BUA] Terminate for unknown session", "session_id", id)
		return
	}
	m.teardown(s, reason)
}

// teardown is the single teardown path shared by explicit termination,
// dialog-driven termination, and shutdown.
func (m *Manager) teardown(s *Session, reason string) {
	// The FSM is the source of truth for whether the established gauge
	// was incremented; the audio chain may be absent either way.
	wasEstablished := s.State() == StateEstablished
	if err := s.event("terminate"); err != nil {
		// Already terminating or terminated.
		return
	}

	if endpoint := m.engine.Endpoint(s.LegA); endpoint != nil {
		endpoint.Unsubscribe("audio:" + s.ID)
	}
	s.mu.RLock()
	if s.seg != nil {
		s.seg.Flush()
	}
	s.mu.RUnlock()

	s.mix.Stop()

	legB := s.LegB()
	if err := m.engine.TerminateCall(s.LegA); err != nil {
		slog.Debug("[B2BUA] Leg A already gone", "session_id", s.ID, "error", err)
	}
	if legB != "" {
		if err := m.engine.TerminateCall(legB); err != nil {
			slog.Debug("[B2BUA] Leg B already gone", "session_id", s.ID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	delete(m.byDialog, s.LegA)
	if legB != "" {
		delete(m.byDialog, legB)
	}
	m.mu.Unlock()

	if wasEstablished {
		metrics.ActiveSessions.Dec()
	}
	_ = s.event("finish")

	slog.Info("[B2BUA] Session terminated", "session_id", s.ID, "reason", reason)
	m.bus.Publish(events.SessionTerminatedEvent{
		SessionID: s.ID,
		Reason:    reason,
	})
}

// abortSession cleans up a session that never established.
func (m *Manager) abortSession(s *Session, reason string) {
	m.teardown(s, reason)
}

// onDialogGone terminates any session containing a dialog that ended or
// failed underneath it.
func (m *Manager) onDialogGone(dialogID, reason string) {
	m.mu.RLock()
	sessionID, ok := m.byDialog[dialogID]
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || s == nil {
		return
	}
	slog.Info("[B2BUA] Leg ended, tearing down session", "session_id", sessionID, "dialog_id", dialogID, "reason", reason)
	m.teardown(s, "leg ended: "+reason)
}

// Close terminates all sessions and detaches from the bus.
func (m *Manager) Close() {
	for _, s := range m.Sessions() {
		m.teardown(s, "shutdown")
	}
	m.bus.Unsubscribe(events.DialogEnded, m.endedToken)
	m.bus.Unsubscribe(events.DialogFailed, m.failedToken)
}
