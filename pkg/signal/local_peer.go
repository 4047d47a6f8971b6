package signal

import (
	"context"
	"fmt"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

// LocalPeer is an in-process peer. It takes part in slot allocation and
// grabbing exactly like a websocket peer.
type LocalPeer struct {
	client *Client
	server *Server
}

// ConnectLocal attaches a new in-process peer
func (s *Server) ConnectLocal() (*LocalPeer, error) {
	client := s.newClient(nil, protocol.JSON)
	if err := s.attach(client); err != nil {
		return nil, fmt.Errorf("connect local peer: %w", err)
	}
	return &LocalPeer{client: client, server: s}, nil
}

// ID returns the peer id
func (p *LocalPeer) ID() string {
	return p.client.id
}

// Send dispatches a command as if it arrived over the wire
func (p *LocalPeer) Send(msg protocol.Message) {
	select {
	case <-p.client.done:
		return
	default:
	}
	p.server.handler.Dispatch(p.client.id, msg)
}

// Recv waits for the next message pushed to this peer.
func (p *LocalPeer) Recv(ctx context.Context) (protocol.Message, error) {
	select {
	case data := <-p.client.send:
		return p.client.codec.Decode(data)
	case <-p.client.done:
		return protocol.Message{}, ErrPeerClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Close disconnects the peer
func (p *LocalPeer) Close() {
	p.server.removeClient(p.client)
}
