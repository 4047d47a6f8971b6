package viewport

import (
	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

// Receive decodes a JSON text frame from peerID and dispatches it.
// Undecodable input is dropped.
func (s *Server) Receive(peerID string, raw []byte) {
	msg, err := protocol.JSON.Decode(raw)
	if err != nil {
		s.logger.Debug("dropping malformed message", "peer", peerID, "error", err)
		return
	}
	s.Dispatch(peerID, msg)
}

// Dispatch routes a decoded command from peerID. Unknown commands, bad
// arguments and operations the peer is not entitled to are ignored.
func (s *Server) Dispatch(peerID string, msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.peers.Has(peerID) {
		s.logger.Debug("dropping message from unknown peer", "peer", peerID, "command", msg.Name)
		return
	}

	switch msg.Name {
	case protocol.CmdRequestUpdate:
		if index, ok := s.pool.SlotOf(peerID); ok {
			_ = s.notifyLocked(Assignment{Index: index, PeerID: peerID})
		}

	case protocol.CmdGrab:
		target, err := protocol.ParseVector(msg.Arg(0))
		if err != nil {
			s.logger.Debug("dropping grab", "peer", peerID, "error", err)
			return
		}
		if s.grab.Grab(peerID, target) == GrabGranted {
			s.logger.Info("image grabbed", "peer", peerID, "x", target.X, "y", target.Y)
			_ = s.broadcastLocked()
		}

	case protocol.CmdUngrab:
		if s.grab.Ungrab(peerID) {
			s.logger.Info("image ungrabbed", "peer", peerID)
			_ = s.broadcastLocked()
		}

	case protocol.CmdMove:
		delta, err := protocol.ParseVector(msg.Arg(0))
		if err != nil {
			s.logger.Debug("dropping move", "peer", peerID, "error", err)
			return
		}
		if s.grab.Move(peerID, delta) {
			_ = s.broadcastLocked()
		}

	default:
		s.logger.Debug("dropping unknown command", "peer", peerID, "command", msg.Name)
	}
}
