package audio

import (
	"testing"
	"time"
)

func testSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceThresholdDB:   -40,
		SilenceDuration:      500 * time.Millisecond,
		MinUtteranceDuration: 300 * time.Millisecond,
	}
}

func feedFrames(s *Segmenter, frame []byte, count int) {
	for i := 0; i < count; i++ {
		s.Ingest(frame)
	}
}

func TestSegmenterEmitsUtterance(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	// 300ms of speech followed by 600ms of silence
	feedFrames(s, toneFrame(8000), 15)
	feedFrames(s, silenceFrame(), 30)

	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	if got[0].Duration != 300*time.Millisecond {
		t.Errorf("Duration = %v, want 300ms", got[0].Duration)
	}
	if len(got[0].PCM) != 15*320 {
		t.Errorf("PCM length = %d, want %d", len(got[0].PCM), 15*320)
	}
}

func TestSegmenterDiscardsShortBlip(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	// 200ms of speech is below the 300ms minimum
	feedFrames(s, toneFrame(8000), 10)
	feedFrames(s, silenceFrame(), 30)

	if len(got) != 0 {
		t.Errorf("utterances = %d, want 0", len(got))
	}
}

func TestSegmenterFoldsShortGapBackIn(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	// Speech, a 200ms pause shorter than the closing gap, then more speech
	feedFrames(s, toneFrame(8000), 10)
	feedFrames(s, silenceFrame(), 10)
	feedFrames(s, toneFrame(8000), 10)
	feedFrames(s, silenceFrame(), 30)

	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	// 10 + 10 + 10 frames: the pause is part of the utterance
	if got[0].Duration != 600*time.Millisecond {
		t.Errorf("Duration = %v, want 600ms", got[0].Duration)
	}
}

func TestSegmenterMaxDurationForceClose(t *testing.T) {
	cfg := testSegmenterConfig()
	cfg.MaxUtteranceDuration = 400 * time.Millisecond

	var got []Utterance
	s := NewSegmenter(cfg, func(u Utterance) {
		got = append(got, u)
	})

	// One second of continuous speech splits at the 400ms cap
	feedFrames(s, toneFrame(8000), 50)

	if len(got) != 2 {
		t.Fatalf("utterances = %d, want 2", len(got))
	}
	for i, u := range got {
		if u.Duration != 400*time.Millisecond {
			t.Errorf("utterance %d Duration = %v, want 400ms", i, u.Duration)
		}
	}
}

func TestSegmenterFlush(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	feedFrames(s, toneFrame(8000), 20)
	if len(got) != 0 {
		t.Fatalf("utterances before flush = %d, want 0", len(got))
	}

	s.Flush()
	if len(got) != 1 {
		t.Fatalf("utterances after flush = %d, want 1", len(got))
	}
	if got[0].Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", got[0].Duration)
	}

	// Flush with nothing pending is a no-op
	s.Flush()
	if len(got) != 1 {
		t.Errorf("utterances after second flush = %d, want 1", len(got))
	}
}

func TestSegmenterSilenceOnlyEmitsNothing(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	feedFrames(s, silenceFrame(), 100)
	s.Flush()

	if len(got) != 0 {
		t.Errorf("utterances = %d, want 0", len(got))
	}
}

func TestSegmenterCopiesPCM(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(testSegmenterConfig(), func(u Utterance) {
		got = append(got, u)
	})

	feedFrames(s, toneFrame(8000), 15)
	feedFrames(s, silenceFrame(), 30)

	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	want := got[0].PCM[0]

	// A following utterance must not clobber the delivered buffer
	feedFrames(s, toneFrame(2000), 20)
	feedFrames(s, silenceFrame(), 30)

	if got[0].PCM[0] != want {
		t.Error("delivered PCM was mutated by later segmentation")
	}
}
