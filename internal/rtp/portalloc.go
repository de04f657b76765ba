package rtp

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPortsExhausted is returned when every port in the configured range
// is leased to a live dialog.
var ErrPortsExhausted = errors.New("rtp: port range exhausted")

// PortAllocator leases UDP media ports from a configured range. Ports are
// handed out sequentially with wraparound: a released port becomes a
// candidate again only once the cursor wraps past it. No two live dialogs
// ever hold the same port.
type PortAllocator struct {
	mu     sync.Mutex
	min    int
	max    int
	next   int
	leased map[int]bool
}

// NewPortAllocator creates an allocator over [min, max] inclusive.
func NewPortAllocator(min, max int) (*PortAllocator, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("rtp: invalid port range %d-%d", min, max)
	}
	return &PortAllocator{
		min:    min,
		max:    max,
		next:   min,
		leased: make(map[int]bool),
	}, nil
}

// Allocate leases the next free port. It scans sequentially from the
// cursor, wrapping once; if the whole range is leased it fails loudly
// with ErrPortsExhausted.
func (p *PortAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.max - p.min + 1
	for i := 0; i < size; i++ {
		candidate := p.next
		p.next++
		if p.next > p.max {
			p.next = p.min
		}
		if !p.leased[candidate] {
			p.leased[candidate] = true
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("%w (range %d-%d)", ErrPortsExhausted, p.min, p.max)
}

// Release returns a leased port to the pool. Releasing an unleased port
// is a no-op.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, port)
}

// Leased returns the number of currently leased ports.
func (p *PortAllocator) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased)
}
