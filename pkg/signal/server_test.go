package signal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/viewshare/pkg/protocol"
	"github.com/tomaslejdung/viewshare/pkg/viewport"
)

const testTimeout = 5 * time.Second

type testEnv struct {
	transport *Server
	core      *viewport.Server
	http      *httptest.Server
	wsURL     string
}

func newTestEnv(t *testing.T, poolSize int, opts Options) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Logger = logger

	transport := NewServer(opts)
	core, err := viewport.NewServer(viewport.Config{PoolSize: poolSize, Rotate: true}, transport, logger)
	require.NoError(t, err)
	transport.SetHandler(core)

	ts := httptest.NewServer(transport.Routes())
	t.Cleanup(func() {
		transport.closeAll()
		ts.Close()
	})
	return &testEnv{
		transport: transport,
		core:      core,
		http:      ts,
		wsURL:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T, codec protocol.Codec) *RemotePeer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	peer, err := Dial(ctx, e.wsURL, codec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(peer.Close)
	return peer
}

// nextUpdate waits for the next "update" message and decodes its payload.
func nextUpdate(t *testing.T, peer *RemotePeer) viewport.Update {
	t.Helper()
	select {
	case msg, ok := <-peer.Messages():
		require.True(t, ok, "connection closed while waiting for update")
		require.Equal(t, protocol.CmdUpdate, msg.Name)
		raw, err := json.Marshal(msg.Arg(0))
		require.NoError(t, err)
		var update viewport.Update
		require.NoError(t, json.Unmarshal(raw, &update))
		return update
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for update")
	}
	panic("unreachable")
}

func TestPeerReceivesViewportOnConnect(t *testing.T) {
	env := newTestEnv(t, 2, Options{})

	a := env.dial(t, protocol.JSON)
	assert.Equal(t, 0, nextUpdate(t, a).Index)

	b := env.dial(t, protocol.JSON)
	assert.Equal(t, 1, nextUpdate(t, b).Index)

	assert.Equal(t, 2, env.transport.PeerCount())
}

func TestGrabOverWebSocket(t *testing.T) {
	env := newTestEnv(t, 2, Options{})
	a := env.dial(t, protocol.JSON)
	b := env.dial(t, protocol.JSON)
	nextUpdate(t, a)
	nextUpdate(t, b)

	require.NoError(t, a.Send(protocol.NewMessage(protocol.CmdGrab, map[string]any{"x": 1, "y": 1})))
	update := nextUpdate(t, a)
	assert.True(t, update.Holder)
	assert.Equal(t, 1.0, update.X)
	update = nextUpdate(t, b)
	assert.True(t, update.Grabbed)
	assert.False(t, update.Holder)

	// b's grab is silently rejected; its resync shows a still holding.
	require.NoError(t, b.Send(protocol.NewMessage(protocol.CmdGrab, map[string]any{"x": 5, "y": 5})))
	require.NoError(t, b.Send(protocol.NewMessage(protocol.CmdRequestUpdate)))
	update = nextUpdate(t, b)
	assert.True(t, update.Grabbed)
	assert.False(t, update.Holder)
	assert.Equal(t, 1.0, update.X)

	holder, _ := env.core.Holder()
	slot, _ := env.core.SlotOf(holder)
	assert.Equal(t, 0, slot)
}

func TestCBORPeer(t *testing.T) {
	env := newTestEnv(t, 1, Options{})
	peer := env.dial(t, protocol.CBOR)
	assert.Equal(t, protocol.CBOR.Name(), peer.Codec().Name())
	nextUpdate(t, peer)

	require.NoError(t, peer.Send(protocol.NewMessage(protocol.CmdGrab, []any{2, 3})))
	update := nextUpdate(t, peer)
	assert.True(t, update.Holder)
	assert.Equal(t, 2.0, update.X)
	assert.Equal(t, 3.0, update.Y)

	require.NoError(t, peer.Send(protocol.NewMessage(protocol.CmdMove, map[string]any{"x": 0.5, "y": -1})))
	update = nextUpdate(t, peer)
	assert.Equal(t, 2.5, update.X)
	assert.Equal(t, 2.0, update.Y)
	assert.Equal(t, uint64(2), update.Version)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t, 1, Options{})
	peer := env.dial(t, protocol.JSON)
	nextUpdate(t, peer)

	require.NoError(t, peer.SendRaw([]byte(`this is not a command`)))
	require.NoError(t, peer.SendRaw([]byte(`["self-destruct"]`)))
	require.NoError(t, peer.Send(protocol.NewMessage(protocol.CmdRequestUpdate)))
	assert.Equal(t, 0, nextUpdate(t, peer).Index)
}

func TestDisconnectReleasesViewportAndGrab(t *testing.T) {
	env := newTestEnv(t, 1, Options{})
	a := env.dial(t, protocol.JSON)
	nextUpdate(t, a)
	require.NoError(t, a.Send(protocol.NewMessage(protocol.CmdGrab, map[string]any{"x": 0, "y": 0})))
	nextUpdate(t, a)

	b := env.dial(t, protocol.JSON)
	require.Eventually(t, func() bool {
		return len(env.core.Status().Waiting) == 1
	}, testTimeout, 10*time.Millisecond)

	a.Close()

	// b inherits the viewport; the grab is free again.
	update := nextUpdate(t, b)
	assert.Equal(t, 0, update.Index)
	assert.False(t, update.Grabbed)
	require.Eventually(t, func() bool {
		return env.core.Status().Peers == 1
	}, testTimeout, 10*time.Millisecond)
}

func TestSilentPeerIsDropped(t *testing.T) {
	env := newTestEnv(t, 1, Options{PongTimeout: 200 * time.Millisecond})

	// A raw connection that never reads never answers pings.
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.core.Status().Peers == 1
	}, testTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.core.Status().Peers == 0
	}, testTimeout, 20*time.Millisecond)
	assert.Zero(t, env.transport.PeerCount())
}

func TestSendErrors(t *testing.T) {
	env := newTestEnv(t, 2, Options{SendBuffer: 1})

	err := env.transport.Send("ghost", protocol.NewMessage(protocol.CmdUpdate))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	// The local peer's queue already holds its initial update.
	local, err := env.transport.ConnectLocal()
	require.NoError(t, err)
	err = env.transport.Send(local.ID(), protocol.NewMessage(protocol.CmdUpdate))
	assert.ErrorIs(t, err, ErrSendQueueFull)

	local.Close()
	err = env.transport.Send(local.ID(), protocol.NewMessage(protocol.CmdUpdate))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestLocalPeer(t *testing.T) {
	env := newTestEnv(t, 2, Options{})
	local, err := env.transport.ConnectLocal()
	require.NoError(t, err)
	defer local.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	msg, err := local.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdUpdate, msg.Name)

	local.Send(protocol.NewMessage(protocol.CmdGrab, map[string]any{"x": 4, "y": 4}))
	holder, held := env.core.Holder()
	require.True(t, held)
	assert.Equal(t, local.ID(), holder)

	local.Send(protocol.NewMessage(protocol.CmdMove, map[string]any{"x": 1, "y": 0}))
	assert.Equal(t, protocol.Vector{X: 5, Y: 4}, env.core.Image().Position)

	local.Close()
	_, held = env.core.Holder()
	assert.False(t, held)
	assert.Zero(t, env.core.Status().Peers)
}

func TestImageRoute(t *testing.T) {
	env := newTestEnv(t, 1, Options{})

	resp, err := http.Get(env.http.URL + "/image")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	blob := []byte("\x89PNG\r\n\x1a\nnot really a png")
	require.True(t, env.core.ReplaceImage(blob))

	resp, err = http.Get(env.http.URL + "/image")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, blob, body)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	etag := resp.Header.Get("ETag")
	assert.Equal(t, `"`+viewport.Digest(blob)+`"`, etag)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/image", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}

func TestStatusAndHealthRoutes(t *testing.T) {
	env := newTestEnv(t, 3, Options{})
	peer := env.dial(t, protocol.JSON)
	nextUpdate(t, peer)

	resp, err := http.Get(env.http.URL + "/status")
	require.NoError(t, err)
	var status viewport.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, 3, status.PoolSize)
	assert.Equal(t, 1, status.Peers)
	require.Len(t, status.Slots, 1)
	assert.Equal(t, 0, status.Slots[0].Index)

	resp, err = http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewServer(Options{Logger: logger})
	core, err := viewport.NewServer(viewport.Config{PoolSize: 1}, transport, logger)
	require.NoError(t, err)
	transport.SetHandler(core)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- transport.Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return after cancel")
	}
}
