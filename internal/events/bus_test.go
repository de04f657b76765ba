package events

import "testing"

func TestBusDeliversToSubscriber(t *testing.T) {
	b := NewBus()

	var got []Event
	b.Subscribe(DialogStarted, func(ev Event) {
		got = append(got, ev)
	})

	b.Publish(DialogStartedEvent{DialogID: "call-1", Remote: "sip:alice@example.com"})

	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	ev, ok := got[0].(DialogStartedEvent)
	if !ok {
		t.Fatalf("delivered %T, want DialogStartedEvent", got[0])
	}
	if ev.DialogID != "call-1" {
		t.Errorf("DialogID = %q, want call-1", ev.DialogID)
	}
}

func TestBusFiltersByKind(t *testing.T) {
	b := NewBus()

	endedCount := 0
	b.Subscribe(DialogEnded, func(Event) { endedCount++ })

	b.Publish(DialogStartedEvent{DialogID: "call-1"})
	b.Publish(DialogEndedEvent{DialogID: "call-1", Reason: "LocalBYE"})

	if endedCount != 1 {
		t.Errorf("ended handler ran %d times, want 1", endedCount)
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := NewBus()

	count := 0
	b.Subscribe(SessionEstablished, func(Event) { count++ })
	b.Subscribe(SessionEstablished, func(Event) { count++ })

	b.Publish(SessionEstablishedEvent{SessionID: "s1"})

	if count != 2 {
		t.Errorf("handlers ran %d times, want 2", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()

	count := 0
	token := b.Subscribe(DialogFailed, func(Event) { count++ })

	b.Publish(DialogFailedEvent{DialogID: "c1", Status: 486})
	b.Unsubscribe(DialogFailed, token)
	b.Publish(DialogFailedEvent{DialogID: "c2", Status: 503})

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	b := NewBus()
	// Must not panic
	b.Publish(UtteranceEvent{DialogID: "c1"})
}

func TestBusSubscribeDuringPublish(t *testing.T) {
	b := NewBus()

	// A handler subscribing mid-delivery must not deadlock
	b.Subscribe(DialogEnded, func(Event) {
		b.Subscribe(DialogStarted, func(Event) {})
	})
	b.Publish(DialogEndedEvent{DialogID: "c1"})
}

func TestEventKinds(t *testing.T) {
	tests := []struct {
		ev   Event
		want Kind
	}{
		{DialogStartedEvent{}, DialogStarted},
		{DialogRingingEvent{}, DialogRinging},
		{DialogEndedEvent{}, DialogEnded},
		{DialogFailedEvent{}, DialogFailed},
		{SessionEstablishedEvent{}, SessionEstablished},
		{SessionTerminatedEvent{}, SessionTerminated},
		{TranscriptionAudioEvent{}, TranscriptionAudio},
		{UtteranceEvent{}, UtteranceDetected},
		{BargeInEvent{}, BargeInDetected},
	}

	for _, tt := range tests {
		if got := tt.ev.EventKind(); got != tt.want {
			t.Errorf("%T.EventKind() = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
