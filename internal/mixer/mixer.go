// Package mixer routes audio among the legs of a bridged call.
package mixer

import (
	"log/slog"
	"sync"
)

// Leg is the endpoint surface the mixer needs: inbound PCM subscription
// and immediate outbound frame writes. *rtp.Endpoint satisfies it.
type Leg interface {
	Subscribe(id string, fn func(pcm []byte))
	Unsubscribe(id string)
	WriteFrame(pcm []byte) error
}

// TapFunc receives every inbound frame tagged by its source leg,
// typically feeding transcription.
type TapFunc func(legID string, pcm []byte)

// Mixer forwards each leg's inbound audio verbatim to every other
// registered leg, never back to the source. With fewer than two legs
// audio is only tapped, never forwarded.
//
// TODO: true N-way PCM summation once more than two simultaneous
// speakers matters; verbatim forwarding is correct for two-party
// bridges and keeps the path allocation-free.
type Mixer struct {
	id  string
	tap TapFunc

	mu      sync.RWMutex
	legs    map[string]Leg
	stopped bool
}

// New creates a mixer for one session. tap may be nil.
func New(id string, tap TapFunc) *Mixer {
	return &Mixer{
		id:   id,
		tap:  tap,
		legs: make(map[string]Leg),
	}
}

// AddLeg registers a leg and subscribes to its inbound audio.
func (m *Mixer) AddLeg(id string, leg Leg) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.legs[id] = leg
	m.mu.Unlock()

	leg.Subscribe("mixer:"+m.id, func(pcm []byte) {
		m.route(id, pcm)
	})
	slog.Debug("[Mixer] Leg added", "mixer", m.id, "leg", id)
}

// RemoveLeg unsubscribes and unregisters a leg. Unknown ids are ignored.
func (m *Mixer) RemoveLeg(id string) {
	m.mu.Lock()
	leg, ok := m.legs[id]
	if ok {
		delete(m.legs, id)
	}
	m.mu.Unlock()

	if ok {
		leg.Unsubscribe("mixer:" + m.id)
		slog.Debug("[Mixer] Leg removed", "mixer", m.id, "leg", id)
	}
}

// Legs returns the currently registered leg ids.
func (m *Mixer) Legs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.legs))
	for id := range m.legs {
		ids = append(ids, id)
	}
	return ids
}

// Stop unsubscribes all legs. Idempotent.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	legs := m.legs
	m.legs = make(map[string]Leg)
	m.mu.Unlock()

	for _, leg := range legs {
		leg.Unsubscribe("mixer:" + m.id)
	}
	slog.Debug("[Mixer] Stopped", "mixer", m.id)
}

// route delivers one inbound frame from src to the tap and to every
// other leg.
func (m *Mixer) route(src string, pcm []byte) {
	if m.tap != nil {
		m.tap(src, pcm)
	}

	m.mu.RLock()
	targets := make([]Leg, 0, len(m.legs))
	for id, leg := range m.legs {
		if id != src {
			targets = append(targets, leg)
		}
	}
	m.mu.RUnlock()

	for _, leg := range targets {
		if err := leg.WriteFrame(pcm); err != nil {
			slog.Debug("[Mixer] Forward failed", "mixer", m.id, "src", src, "error", err)
		}
	}
}
