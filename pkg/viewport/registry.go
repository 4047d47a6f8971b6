package viewport

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePeer is returned when a peer id is opened twice.
	ErrDuplicatePeer = errors.New("peer already registered")
	// ErrInvalidPeerID is returned for an empty peer id.
	ErrInvalidPeerID = errors.New("invalid peer id")
)

// Registry tracks connected peers by id. Slot ownership lives in the Pool.
type Registry struct {
	peers map[string]struct{}
}

// NewRegistry creates an empty peer registry
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]struct{})}
}

// Open registers a new peer.
func (r *Registry) Open(peerID string) error {
	if peerID == "" {
		return ErrInvalidPeerID
	}
	if _, exists := r.peers[peerID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePeer, peerID)
	}
	r.peers[peerID] = struct{}{}
	return nil
}

// Close removes a peer. It reports whether the peer was registered;
// closing an unknown peer is a no-op.
func (r *Registry) Close(peerID string) bool {
	if _, exists := r.peers[peerID]; !exists {
		return false
	}
	delete(r.peers, peerID)
	return true
}

// Has reports whether the peer is registered
func (r *Registry) Has(peerID string) bool {
	_, exists := r.peers[peerID]
	return exists
}

// Len returns the number of registered peers
func (r *Registry) Len() int {
	return len(r.peers)
}
