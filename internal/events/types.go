// Package events defines the typed notification payloads flowing out of
// the telephony core, and an in-process bus for delivering them.
package events

import "time"

// Kind identifies an event type on the bus.
type Kind string

const (
	// DialogStarted fires when a dialog reaches the established state.
	DialogStarted Kind = "dialog.started"
	// DialogRinging fires on a 180/183 provisional response for an outbound dialog.
	DialogRinging Kind = "dialog.ringing"
	// DialogEnded fires when a dialog terminates normally (BYE, local hangup).
	DialogEnded Kind = "dialog.ended"
	// DialogFailed fires when an outbound dialog fails to establish.
	DialogFailed Kind = "dialog.failed"
	// SessionEstablished fires when a bridged session has both legs answered.
	SessionEstablished Kind = "session.established"
	// SessionTerminated fires when a bridged session is fully torn down.
	SessionTerminated Kind = "session.terminated"
	// TranscriptionAudio carries tagged per-leg audio from a mixer.
	TranscriptionAudio Kind = "audio.transcription"
	// UtteranceDetected carries a complete speech segment from the segmenter.
	UtteranceDetected Kind = "audio.utterance"
	// BargeInDetected fires when a caller talks over active playback.
	BargeInDetected Kind = "audio.barge_in"
)

// Event is implemented by all bus payloads.
type Event interface {
	EventKind() Kind
}

// AudioSink is the handle exposed with a started dialog: enough of the RTP
// endpoint for upper layers to play audio and subscribe to inbound frames,
// without depending on the concrete type.
type AudioSink interface {
	Subscribe(id string, fn func(pcm []byte))
	Unsubscribe(id string)
}

// DialogStartedEvent announces an established dialog and its media endpoint.
type DialogStartedEvent struct {
	DialogID string
	Remote   string
	Endpoint AudioSink
}

func (DialogStartedEvent) EventKind() Kind { return DialogStarted }

// DialogRingingEvent announces ringing on an outbound dialog.
type DialogRingingEvent struct {
	DialogID string
	Status   int
}

func (DialogRingingEvent) EventKind() Kind { return DialogRinging }

// DialogEndedEvent announces a terminated dialog.
type DialogEndedEvent struct {
	DialogID string
	Reason   string
}

func (DialogEndedEvent) EventKind() Kind { return DialogEnded }

// DialogFailedEvent announces an outbound dialog that never established.
type DialogFailedEvent struct {
	DialogID string
	Status   int
	Reason   string
}

func (DialogFailedEvent) EventKind() Kind { return DialogFailed }

// SessionEstablishedEvent announces a bridged session with both legs up.
type SessionEstablishedEvent struct {
	SessionID string
	LegA      string
	LegB      string
}

func (SessionEstablishedEvent) EventKind() Kind { return SessionEstablished }

// SessionTerminatedEvent announces a fully torn down session.
type SessionTerminatedEvent struct {
	SessionID string
	Reason    string
}

func (SessionTerminatedEvent) EventKind() Kind { return SessionTerminated }

// TranscriptionAudioEvent carries one inbound frame tagged by source leg.
type TranscriptionAudioEvent struct {
	SessionID string
	LegID     string
	PCM       []byte
}

func (TranscriptionAudioEvent) EventKind() Kind { return TranscriptionAudio }

// UtteranceEvent carries one detected speech segment.
type UtteranceEvent struct {
	DialogID string
	PCM      []byte
	Start    time.Time
	Duration time.Duration
}

func (UtteranceEvent) EventKind() Kind { return UtteranceDetected }

// BargeInEvent announces a caller interrupting playback on a session leg.
type BargeInEvent struct {
	SessionID string
	DialogID  string
}

func (BargeInEvent) EventKind() Kind { return BargeInDetected }
