package viewport

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

// Sender delivers a message to one peer. Implementations must not block.
type Sender interface {
	Send(peerID string, msg protocol.Message) error
}

// Update is the payload of an "update" message.
type Update struct {
	Index   int     `json:"index"`   // recipient's viewport slot
	Version uint64  `json:"version"` // image version
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Digest  string  `json:"digest,omitempty"`
	Grabbed bool    `json:"grabbed"` // some peer holds the grab
	Holder  bool    `json:"holder"`  // the recipient holds the grab
}

// Broadcaster pushes image updates to slot owners.
type Broadcaster struct {
	sender Sender
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster delivering through sender
func NewBroadcaster(sender Sender, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{sender: sender, logger: logger}
}

// BroadcastAll sends the current state to every owner, in slot order.
// A failed send is logged and does not stop delivery to the rest; the
// failures are returned joined.
func (b *Broadcaster) BroadcastAll(owners []Assignment, state ImageState, holder string) error {
	var errs []error
	for _, a := range owners {
		if err := b.NotifyOne(a, state, holder); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyOne sends the current state to a single owner.
func (b *Broadcaster) NotifyOne(a Assignment, state ImageState, holder string) error {
	msg := protocol.NewMessage(protocol.CmdUpdate, newUpdate(a, state, holder))
	if err := b.sender.Send(a.PeerID, msg); err != nil {
		b.logger.Warn("update delivery failed",
			"peer", a.PeerID,
			"slot", a.Index,
			"version", state.Version,
			"error", err,
		)
		return fmt.Errorf("send to %s: %w", a.PeerID, err)
	}
	return nil
}

func newUpdate(a Assignment, state ImageState, holder string) Update {
	return Update{
		Index:   a.Index,
		Version: state.Version,
		X:       state.Position.X,
		Y:       state.Position.Y,
		Digest:  state.Digest,
		Grabbed: holder != "",
		Holder:  holder != "" && holder == a.PeerID,
	}
}
