package viewport

import "github.com/tomaslejdung/viewshare/pkg/protocol"

// GrabResult is the outcome of a grab request.
type GrabResult int

const (
	// GrabRejected means the requester has no slot or another peer holds the grab.
	GrabRejected GrabResult = iota
	// GrabGranted means the requester now holds the grab.
	GrabGranted
	// GrabAlreadyHeld means the requester was already the holder. Nothing changed.
	GrabAlreadyHeld
)

// Grab is the exclusive right to manipulate the shared image. At most one
// peer holds it at a time and a held grab is never pre-empted.
type Grab struct {
	pool   *Pool
	image  *Image
	holder string
}

// NewGrab creates a free grab lock over image, granted only to slot owners in pool
func NewGrab(pool *Pool, image *Image) *Grab {
	return &Grab{pool: pool, image: image}
}

// Holder returns the current holder
func (g *Grab) Holder() (string, bool) {
	return g.holder, g.holder != ""
}

// HeldBy reports whether peerID holds the grab
func (g *Grab) HeldBy(peerID string) bool {
	return peerID != "" && g.holder == peerID
}

// Grab hands the grab to peerID if it owns a slot and the grab is free.
// On success target becomes the image position. A non-finite target is
// rejected.
func (g *Grab) Grab(peerID string, target protocol.Vector) GrabResult {
	if _, owned := g.pool.SlotOf(peerID); !owned {
		return GrabRejected
	}
	switch g.holder {
	case "":
		if !g.image.SetPosition(target) {
			return GrabRejected
		}
		g.holder = peerID
		return GrabGranted
	case peerID:
		return GrabAlreadyHeld
	default:
		return GrabRejected
	}
}

// Ungrab frees the grab if peerID holds it.
func (g *Grab) Ungrab(peerID string) bool {
	if !g.HeldBy(peerID) {
		return false
	}
	g.holder = ""
	return true
}

// Move translates the image by delta if peerID holds the grab. It
// reports false when the resulting position would not be finite.
func (g *Grab) Move(peerID string, delta protocol.Vector) bool {
	if !g.HeldBy(peerID) {
		return false
	}
	return g.image.Translate(delta)
}

// Release drops the grab held by a departing peer. Same as Ungrab but
// named for the close path.
func (g *Grab) Release(peerID string) bool {
	return g.Ungrab(peerID)
}
