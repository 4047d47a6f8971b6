package viewport

import (
	"fmt"
	"log/slog"
	"sync"
)

// Config is the static startup configuration of a Server.
type Config struct {
	PoolSize int
	Rotate   bool
}

// Server is the single exclusion domain for peers, slots, the grab and
// the image. All methods are safe for concurrent use.
type Server struct {
	mu          sync.Mutex
	peers       *Registry
	pool        *Pool
	grab        *Grab
	image       *Image
	broadcaster *Broadcaster
	logger      *slog.Logger

	// waiting holds slotless peers in arrival order.
	waiting []string
}

// NewServer creates a server whose updates are delivered through sender.
func NewServer(cfg Config, sender Sender, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewPool(cfg.PoolSize, cfg.Rotate)
	if err != nil {
		return nil, err
	}
	image := NewImage()
	return &Server{
		peers:       NewRegistry(),
		pool:        pool,
		grab:        NewGrab(pool, image),
		image:       image,
		broadcaster: NewBroadcaster(sender, logger),
		logger:      logger,
	}, nil
}

// Open registers a newly connected peer and tries to give it a viewport.
// A peer that finds the pool full stays connected without a slot.
func (s *Server) Open(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.peers.Open(peerID); err != nil {
		return fmt.Errorf("open peer: %w", err)
	}

	if !s.acquireLocked(peerID) {
		s.waiting = append(s.waiting, peerID)
		s.logger.Info("peer waiting for viewport, pool full",
			"peer", peerID, "pool_size", s.pool.Size(), "waiting", len(s.waiting))
	}
	return nil
}

// acquireLocked gives peerID a viewport and tells it which one.
func (s *Server) acquireLocked(peerID string) bool {
	index, ok := s.pool.Acquire(peerID)
	if !ok {
		return false
	}
	s.logger.Info("peer acquired viewport", "peer", peerID, "slot", index)
	_ = s.notifyLocked(Assignment{Index: index, PeerID: peerID})
	return true
}

// promoteLocked hands free slots to waiting peers, oldest first.
func (s *Server) promoteLocked() {
	for len(s.waiting) > 0 && s.pool.Free() > 0 {
		next := s.waiting[0]
		s.waiting = s.waiting[1:]
		s.acquireLocked(next)
	}
}

func (s *Server) dropWaitingLocked(peerID string) bool {
	for i, id := range s.waiting {
		if id == peerID {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Close forgets a peer, freeing its slot and any grab it holds. Closing
// an unknown or already closed peer is a no-op.
func (s *Server) Close(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := s.peers.Close(peerID)
	s.dropWaitingLocked(peerID)
	index, hadSlot := s.pool.Release(peerID)
	hadGrab := s.grab.Release(peerID)

	if !known && !hadSlot && !hadGrab {
		return
	}
	if hadSlot {
		s.logger.Info("peer released viewport", "peer", peerID, "slot", index)
	} else {
		s.logger.Info("peer left", "peer", peerID)
	}
	if hadGrab {
		s.logger.Info("grab released by departing peer", "peer", peerID)
		_ = s.broadcastLocked()
	}
	if hadSlot {
		s.promoteLocked()
	}
}

// ReplaceImage installs new image content and broadcasts it. It returns
// false when the content is unchanged.
func (s *Server) ReplaceImage(blob []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.image.Replace(blob) {
		return false
	}
	state := s.image.State()
	s.logger.Debug("image replaced", "version", state.Version, "bytes", len(blob))
	_ = s.broadcastLocked()
	return true
}

// BroadcastAll pushes the current state to every viewport owner.
func (s *Server) BroadcastAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broadcastLocked()
}

// NotifyOne pushes the current state to a single peer. Peers without a
// viewport get nothing.
func (s *Server) NotifyOne(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.pool.SlotOf(peerID)
	if !ok {
		return nil
	}
	return s.notifyLocked(Assignment{Index: index, PeerID: peerID})
}

// Image returns the current image snapshot.
func (s *Server) Image() ImageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image.State()
}

// SlotOf returns the viewport owned by peerID.
func (s *Server) SlotOf(peerID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.SlotOf(peerID)
}

// Holder returns the peer holding the grab.
func (s *Server) Holder() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grab.Holder()
}

// Status is a point-in-time view of the server.
type Status struct {
	PoolSize int          `json:"poolSize"`
	Rotate   bool         `json:"rotate"`
	Peers    int          `json:"peers"`
	Slots    []Assignment `json:"slots"`
	Waiting  []string     `json:"waiting,omitempty"`
	Holder   string       `json:"holder,omitempty"`
	Image    ImageState   `json:"image"`
	Bytes    int          `json:"bytes"`
}

// Status returns a consistent snapshot for dashboards and the status endpoint.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, _ := s.grab.Holder()
	state := s.image.State()
	return Status{
		PoolSize: s.pool.Size(),
		Rotate:   s.pool.Rotating(),
		Peers:    s.peers.Len(),
		Slots:    s.pool.Assignments(),
		Waiting:  append([]string(nil), s.waiting...),
		Holder:   holder,
		Image:    state,
		Bytes:    len(state.Blob),
	}
}

func (s *Server) broadcastLocked() error {
	holder, _ := s.grab.Holder()
	return s.broadcaster.BroadcastAll(s.pool.Assignments(), s.image.State(), holder)
}

func (s *Server) notifyLocked(a Assignment) error {
	holder, _ := s.grab.Holder()
	return s.broadcaster.NotifyOne(a, s.image.State(), holder)
}
