package signal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

// RemotePeer is a client connection to a viewport server.
type RemotePeer struct {
	conn         *websocket.Conn
	connMu       sync.Mutex
	codec        protocol.Codec
	msgChan      chan protocol.Message
	done         chan struct{}
	onDisconnect func()
	closed       bool
	closeMu      sync.Mutex
	logger       *slog.Logger
}

// Dial connects to the websocket endpoint at url, negotiating codec.
func Dial(ctx context.Context, url string, codec protocol.Codec, logger *slog.Logger) (*RemotePeer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		Proxy:        http.ProxyFromEnvironment,
		Subprotocols: []string{codec.Name()},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	// A server that ignores the subprotocol speaks JSON.
	negotiated := protocol.ForSubprotocol(conn.Subprotocol())

	rp := &RemotePeer{
		conn:    conn,
		codec:   negotiated,
		msgChan: make(chan protocol.Message, 100),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go rp.readLoop()
	return rp, nil
}

func (rp *RemotePeer) readLoop() {
	defer func() {
		close(rp.msgChan)
		rp.closeMu.Lock()
		if rp.onDisconnect != nil && !rp.closed {
			rp.onDisconnect()
		}
		rp.closeMu.Unlock()
	}()

	for {
		_, data, err := rp.conn.ReadMessage()
		if err != nil {
			rp.logger.Debug("websocket read ended", "error", err)
			return
		}
		msg, err := rp.codec.Decode(data)
		if err != nil {
			rp.logger.Debug("dropping malformed frame from server", "error", err)
			continue
		}
		select {
		case rp.msgChan <- msg:
		case <-rp.done:
			return
		}
	}
}

// Codec returns the negotiated codec
func (rp *RemotePeer) Codec() protocol.Codec {
	return rp.codec
}

// Send writes a command to the server
func (rp *RemotePeer) Send(msg protocol.Message) error {
	rp.closeMu.Lock()
	closed := rp.closed
	rp.closeMu.Unlock()
	if closed {
		return ErrPeerClosed
	}

	data, err := rp.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Name, err)
	}
	frameType := websocket.TextMessage
	if rp.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	rp.connMu.Lock()
	defer rp.connMu.Unlock()
	return rp.conn.WriteMessage(frameType, data)
}

// SendRaw writes an unencoded text frame, bypassing the codec
func (rp *RemotePeer) SendRaw(data []byte) error {
	rp.connMu.Lock()
	defer rp.connMu.Unlock()
	return rp.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the channel of decoded server messages. It is closed
// when the connection ends.
func (rp *RemotePeer) Messages() <-chan protocol.Message {
	return rp.msgChan
}

// SetDisconnectHandler sets callback for when connection is lost
func (rp *RemotePeer) SetDisconnectHandler(handler func()) {
	rp.closeMu.Lock()
	rp.onDisconnect = handler
	rp.closeMu.Unlock()
}

// Close shuts down the connection
func (rp *RemotePeer) Close() {
	rp.closeMu.Lock()
	defer rp.closeMu.Unlock()
	if !rp.closed {
		rp.closed = true
		close(rp.done)
		rp.connMu.Lock()
		rp.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		rp.connMu.Unlock()
		rp.conn.Close()
	}
}
