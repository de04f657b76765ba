package rtp

import (
	"errors"
	"testing"
)

func TestPortAllocatorSequential(t *testing.T) {
	p, err := NewPortAllocator(10000, 10004)
	if err != nil {
		t.Fatalf("NewPortAllocator: %v", err)
	}

	for want := 10000; want <= 10004; want++ {
		got, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if got != want {
			t.Errorf("Allocate = %d, want %d", got, want)
		}
	}
}

func TestPortAllocatorReleasedPortWaitsForWraparound(t *testing.T) {
	p, _ := NewPortAllocator(10000, 10002)

	first, _ := p.Allocate()  // 10000
	second, _ := p.Allocate() // 10001
	p.Release(first)

	// The cursor has not wrapped yet, so the next lease is 10002,
	// not the just-released 10000.
	third, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if third != 10002 {
		t.Errorf("Allocate after release = %d, want 10002", third)
	}

	// Now the cursor wraps and the released port comes back.
	fourth, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if fourth != first {
		t.Errorf("Allocate after wraparound = %d, want %d", fourth, first)
	}
	_ = second
}

func TestPortAllocatorExhaustion(t *testing.T) {
	p, _ := NewPortAllocator(10000, 10001)

	if _, err := p.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	_, err := p.Allocate()
	if err == nil {
		t.Fatal("Allocate on full range should fail")
	}
	if !errors.Is(err, ErrPortsExhausted) {
		t.Errorf("error = %v, want ErrPortsExhausted", err)
	}
}

func TestPortAllocatorRecoversAfterRelease(t *testing.T) {
	p, _ := NewPortAllocator(10000, 10000)

	port, _ := p.Allocate()
	if _, err := p.Allocate(); !errors.Is(err, ErrPortsExhausted) {
		t.Fatalf("error = %v, want ErrPortsExhausted", err)
	}

	p.Release(port)
	got, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
	if got != port {
		t.Errorf("Allocate = %d, want %d", got, port)
	}
}

func TestPortAllocatorNoDuplicateLeases(t *testing.T) {
	p, _ := NewPortAllocator(20000, 20019)

	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		port, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if seen[port] {
			t.Fatalf("port %d leased twice", port)
		}
		seen[port] = true
	}
	if p.Leased() != 20 {
		t.Errorf("Leased = %d, want 20", p.Leased())
	}
}

func TestPortAllocatorInvalidRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
	}{
		{"max below min", 10010, 10000},
		{"zero min", 0, 100},
		{"negative", -5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPortAllocator(tt.min, tt.max); err == nil {
				t.Errorf("NewPortAllocator(%d, %d) should fail", tt.min, tt.max)
			}
		})
	}
}

func TestPortAllocatorReleaseUnleased(t *testing.T) {
	p, _ := NewPortAllocator(10000, 10001)
	p.Release(10000)
	p.Release(99999)

	if p.Leased() != 0 {
		t.Errorf("Leased = %d, want 0", p.Leased())
	}
}
