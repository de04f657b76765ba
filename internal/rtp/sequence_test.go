package rtp

import "testing"

func TestSequenceTrackerInOrder(t *testing.T) {
	var tr SequenceTracker

	for seq := uint16(100); seq < 110; seq++ {
		_, lost := tr.Update(seq)
		if lost != 0 {
			t.Errorf("Update(%d) lost = %d, want 0", seq, lost)
		}
	}

	received, lost := tr.Stats()
	if received != 10 || lost != 0 {
		t.Errorf("Stats = (%d, %d), want (10, 0)", received, lost)
	}
}

func TestSequenceTrackerDetectsGap(t *testing.T) {
	var tr SequenceTracker

	tr.Update(100)
	_, lost := tr.Update(103)
	if lost != 2 {
		t.Errorf("gap lost = %d, want 2", lost)
	}

	if rate := tr.LossRate(); rate <= 0 {
		t.Errorf("LossRate = %v, want > 0", rate)
	}
}

func TestSequenceTrackerRollover(t *testing.T) {
	var tr SequenceTracker

	ext1, _ := tr.Update(0xFFFE)
	ext2, _ := tr.Update(0xFFFF)
	ext3, lost := tr.Update(0x0000)

	if lost != 0 {
		t.Errorf("rollover lost = %d, want 0", lost)
	}
	if ext3 <= ext2 || ext2 <= ext1 {
		t.Errorf("extended sequence not monotonic across rollover: %d, %d, %d", ext1, ext2, ext3)
	}
	if ext3 != 0x10000 {
		t.Errorf("extended after rollover = %#x, want 0x10000", ext3)
	}
}

func TestSequenceTrackerRolloverWithLoss(t *testing.T) {
	var tr SequenceTracker

	tr.Update(0xFFFE)
	_, lost := tr.Update(0x0001)
	if lost != 2 {
		t.Errorf("lost across rollover = %d, want 2", lost)
	}
}

func TestSequenceTrackerOutOfOrderNotCountedLost(t *testing.T) {
	var tr SequenceTracker

	tr.Update(100)
	tr.Update(102) // 101 counted lost here
	_, lost := tr.Update(101)
	if lost != 0 {
		t.Errorf("late packet lost = %d, want 0", lost)
	}
}

func TestSequenceTrackerReset(t *testing.T) {
	var tr SequenceTracker

	tr.Update(50)
	tr.Update(53)
	tr.Reset()

	received, lost := tr.Stats()
	if received != 0 || lost != 0 {
		t.Errorf("Stats after Reset = (%d, %d), want (0, 0)", received, lost)
	}
	if rate := tr.LossRate(); rate != 0 {
		t.Errorf("LossRate after Reset = %v, want 0", rate)
	}
}

func TestRandomIdentifiersVary(t *testing.T) {
	// Colliding twice in a few draws would mean the generator is broken
	a, b := randomSSRC(), randomSSRC()
	if a == b {
		c := randomSSRC()
		if a == c {
			t.Error("randomSSRC returned the same value three times")
		}
	}
}
