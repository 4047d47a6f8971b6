package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
)

var (
	// ErrUnknownPeer is returned when sending to a peer that is not connected.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrSendQueueFull is returned when a peer is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrPeerClosed is returned when sending to a peer that is disconnecting.
	ErrPeerClosed = errors.New("peer closed")
)

// Defaults for Options fields left zero
const (
	DefaultPongTimeout = 15 * time.Second
	DefaultReadLimit   = 64 * 1024
	DefaultSendBuffer  = 256
	writeWait          = 10 * time.Second
)

// Options tunes the websocket transport.
type Options struct {
	// PongTimeout is how long a peer may stay silent before it is dropped.
	// Pings go out at 9/10 of this interval.
	PongTimeout time.Duration
	// ReadLimit caps the size of an incoming frame in bytes.
	ReadLimit int64
	// SendBuffer is the number of queued outgoing frames per peer.
	SendBuffer int
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PongTimeout <= 0 {
		o.PongTimeout = DefaultPongTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is one connected peer.
type Client struct {
	id     string
	conn   *websocket.Conn // nil for in-process peers
	codec  protocol.Codec
	send   chan []byte
	done   chan struct{}
	server *Server
	once   sync.Once
}

// ID returns the peer id
func (c *Client) ID() string {
	return c.id
}

func (c *Client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrPeerClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Server accepts websocket peers and relays between them and a Handler.
type Server struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	handler  Handler
	opts     Options
	logger   *slog.Logger
}

// NewServer creates a transport. SetHandler must be called before serving.
func NewServer(opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    protocol.Subprotocols(),
			CheckOrigin: func(r *http.Request) bool {
				return true // peers are anonymous
			},
		},
		opts:   opts,
		logger: opts.Logger,
	}
}

// SetHandler sets the receiver of peer events
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// Send encodes msg with the peer's codec and queues it without blocking.
func (s *Server) Send(peerID string, msg protocol.Message) error {
	s.mu.RLock()
	client, exists := s.clients[peerID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}

	data, err := client.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Name, err)
	}
	return client.enqueue(data)
}

// PeerCount returns the number of connected peers
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) newClient(conn *websocket.Conn, codec protocol.Codec) *Client {
	return &Client{
		id:     NewPeerID(),
		conn:   conn,
		codec:  codec,
		send:   make(chan []byte, s.opts.SendBuffer),
		done:   make(chan struct{}),
		server: s,
	}
}

// attach registers the client and opens it with the handler.
func (s *Server) attach(client *Client) error {
	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	if err := s.handler.Open(client.id); err != nil {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		close(client.done)
		return err
	}
	return nil
}

// removeClient detaches a client and reports the close to the handler.
// Safe to call more than once.
func (s *Server) removeClient(client *Client) {
	client.once.Do(func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()

		close(client.done)
		s.handler.Close(client.id)
		s.logger.Debug("peer disconnected", "peer", client.id, "remaining", s.PeerCount())
	})
}

// HandleWebSocket upgrades a request into a peer connection
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	codec := protocol.ForSubprotocol(conn.Subprotocol())
	client := s.newClient(conn, codec)
	if err := s.attach(client); err != nil {
		s.logger.Error("rejecting peer", "peer", client.id, "error", err)
		conn.Close()
		return
	}
	s.logger.Debug("peer connected", "peer", client.id, "remote", r.RemoteAddr, "codec", codec.Name())

	go client.writePump()
	go client.readPump()
}

// HandleImage serves the current image content, tagged with its digest
func (s *Server) HandleImage(w http.ResponseWriter, r *http.Request) {
	state := s.handler.Image()
	if len(state.Blob) == 0 {
		http.Error(w, "No image", http.StatusNotFound)
		return
	}

	etag := `"` + state.Digest + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(state.Blob))
	w.Write(state.Blob)
}

// HandleStatus serves a JSON snapshot of the viewport server
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.handler.Status())
}

// HandleHealth is a liveness probe
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Routes returns the HTTP routes of the transport
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("GET /image", s.HandleImage)
	mux.HandleFunc("GET /status", s.HandleStatus)
	mux.HandleFunc("GET /health", s.HandleHealth)
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Info("viewport server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.closeAll()
	return nil
}

// closeAll drops every peer. Hijacked websocket connections are not
// tracked by http.Server.Shutdown.
func (s *Server) closeAll() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.Close()
		}
		s.removeClient(c)
	}
}
