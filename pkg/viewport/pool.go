package viewport

import (
	"errors"
	"fmt"
)

// ErrInvalidPoolSize is returned when a pool is configured with fewer than one slot.
var ErrInvalidPoolSize = errors.New("pool size must be at least 1")

// Assignment pairs an owned slot with its owner.
type Assignment struct {
	Index  int    `json:"index"`
	PeerID string `json:"peerId"`
}

// Pool hands out a fixed number of viewport slots.
//
// With rotation enabled, a cursor remembers the last assigned index and
// each acquisition scans forward from the slot after it, wrapping around.
// Released slots become eligible again only when the cursor reaches them,
// which spreads assignments over all slots as peers come and go. Without
// rotation the lowest free index is always taken.
type Pool struct {
	owners []string       // slot index -> peer id, "" when free
	slots  map[string]int // peer id -> slot index
	cursor int            // last assigned index
	rotate bool
}

// NewPool creates a pool of size free slots
func NewPool(size int, rotate bool) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}
	return &Pool{
		owners: make([]string, size),
		slots:  make(map[string]int),
		// Start "just before" slot 0 so the first acquisition gets index 0.
		cursor: size - 1,
		rotate: rotate,
	}, nil
}

// Size returns the number of slots
func (p *Pool) Size() int {
	return len(p.owners)
}

// Rotating reports whether the round-robin cursor is in use
func (p *Pool) Rotating() bool {
	return p.rotate
}

// Acquire assigns a slot to peerID and returns its index. A peer that
// already owns a slot gets the same index back. ok is false when every
// slot is taken.
func (p *Pool) Acquire(peerID string) (index int, ok bool) {
	if peerID == "" {
		return -1, false
	}
	if index, owned := p.slots[peerID]; owned {
		return index, true
	}

	n := len(p.owners)
	start := 0
	if p.rotate {
		start = p.cursor + 1
	}
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if p.owners[i] != "" {
			continue
		}
		p.owners[i] = peerID
		p.slots[peerID] = i
		p.cursor = i
		return i, true
	}
	return -1, false
}

// Release frees the slot owned by peerID. The cursor does not move.
func (p *Pool) Release(peerID string) (index int, ok bool) {
	index, owned := p.slots[peerID]
	if !owned {
		return -1, false
	}
	delete(p.slots, peerID)
	p.owners[index] = ""
	return index, true
}

// SlotOf returns the slot owned by peerID
func (p *Pool) SlotOf(peerID string) (int, bool) {
	index, owned := p.slots[peerID]
	return index, owned
}

// Owner returns the peer owning slot index
func (p *Pool) Owner(index int) (string, bool) {
	if index < 0 || index >= len(p.owners) || p.owners[index] == "" {
		return "", false
	}
	return p.owners[index], true
}

// Free returns the number of unowned slots
func (p *Pool) Free() int {
	return len(p.owners) - len(p.slots)
}

// Assignments returns the owned slots in index order.
func (p *Pool) Assignments() []Assignment {
	out := make([]Assignment, 0, len(p.slots))
	for i, owner := range p.owners {
		if owner != "" {
			out = append(out, Assignment{Index: i, PeerID: owner})
		}
	}
	return out
}
