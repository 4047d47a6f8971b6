package signal

import (
	"github.com/google/uuid"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
	"github.com/tomaslejdung/viewshare/pkg/viewport"
)

// Handler receives peer lifecycle events and commands from the transport.
// *viewport.Server implements it.
type Handler interface {
	// Open is called once a peer is connected and able to receive.
	Open(peerID string) error

	// Close is called exactly once when the peer goes away.
	Close(peerID string)

	// Dispatch handles one decoded command.
	Dispatch(peerID string, msg protocol.Message)

	// Status and Image back the HTTP status and image routes.
	Status() viewport.Status
	Image() viewport.ImageState
}

// NewPeerID returns a fresh connection identifier
func NewPeerID() string {
	return uuid.NewString()
}
