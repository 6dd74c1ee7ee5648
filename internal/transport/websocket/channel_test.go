package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport"
)

// dialPair upgrades a test server connection and dials it, returning both ends.
func dialPair(t *testing.T) (server, client *ws.Conn) {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverConns := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return <-serverConns, client
}

type callbackRecorder struct {
	opens      atomic.Int32
	heartbeats atomic.Int32
	errors     atomic.Int32
	closes     atomic.Int32
}

func (r *callbackRecorder) callbacks() transport.Callbacks {
	return transport.Callbacks{
		OnOpen:      func() { r.opens.Add(1) },
		OnHeartbeat: func() { r.heartbeats.Add(1) },
		OnError:     func(error) { r.errors.Add(1) },
		OnClose:     func() { r.closes.Add(1) },
	}
}

func TestChannel_SendDeliversToClient(t *testing.T) {
	server, client := dialPair(t)
	recorder := &callbackRecorder{}

	ch := newChannel(server, clockwork.NewRealClock(), time.Minute, recorder.callbacks())
	defer func() { _ = ch.Close() }()

	assert.Equal(t, int32(1), recorder.opens.Load(), "OnOpen fires as soon as the channel is up")

	require.NoError(t, ch.Send([]byte(`{"hello":"world"}`)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	kind, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, kind)
	assert.JSONEq(t, `{"hello":"world"}`, string(payload))
}

func TestChannel_ClientFramesCountAsHeartbeat(t *testing.T) {
	server, client := dialPair(t)
	recorder := &callbackRecorder{}

	ch := newChannel(server, clockwork.NewRealClock(), time.Minute, recorder.callbacks())
	defer func() { _ = ch.Close() }()

	require.NoError(t, client.WriteMessage(ws.TextMessage, []byte("ping")))

	assert.Eventually(t, func() bool {
		return recorder.heartbeats.Load() >= 1
	}, time.Second, 5*time.Millisecond, "Any inbound frame refreshes liveness")
}

func TestChannel_CloseIsQuietAndSendsCloseFrame(t *testing.T) {
	server, client := dialPair(t)
	recorder := &callbackRecorder{}

	ch := newChannel(server, clockwork.NewRealClock(), time.Minute, recorder.callbacks())
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "Close is idempotent")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "Client should see a normal close frame, got: %v", err)

	// Local teardown must not be reported back as a failure.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), recorder.errors.Load())
	assert.Equal(t, int32(0), recorder.closes.Load())
}

func TestChannel_RemoteCloseReportsOnClose(t *testing.T) {
	server, client := dialPair(t)
	recorder := &callbackRecorder{}

	ch := newChannel(server, clockwork.NewRealClock(), time.Minute, recorder.callbacks())
	defer func() { _ = ch.Close() }()

	closeMsg := ws.FormatCloseMessage(ws.CloseNormalClosure, "bye")
	require.NoError(t, client.WriteMessage(ws.CloseMessage, closeMsg))

	assert.Eventually(t, func() bool {
		return recorder.closes.Load() == 1
	}, time.Second, 5*time.Millisecond, "Graceful client close reports OnClose, not OnError")
	assert.Equal(t, int32(0), recorder.errors.Load())
}

func TestChannel_AbruptDisconnectReportsOnError(t *testing.T) {
	server, client := dialPair(t)
	recorder := &callbackRecorder{}

	ch := newChannel(server, clockwork.NewRealClock(), time.Minute, recorder.callbacks())
	defer func() { _ = ch.Close() }()

	// Kill the TCP connection without a close handshake.
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return recorder.errors.Load() >= 1
	}, time.Second, 5*time.Millisecond, "An abrupt disconnect is a transport failure")
}

func TestFactory_OpenClaimsStagedConnection(t *testing.T) {
	server, client := dialPair(t)
	factory := NewFactory(clockwork.NewRealClock())

	factory.Stage("poll-1", "alice", server)

	ch, err := factory.Open(transport.OpenRequest{
		ConnectionID: "c1", TopicID: "poll-1", SubscriberID: "alice",
	}, transport.Callbacks{})
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	require.NoError(t, ch.Send([]byte("hi")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(payload))

	// The staged connection is single-use.
	_, err = factory.Open(transport.OpenRequest{
		ConnectionID: "c2", TopicID: "poll-1", SubscriberID: "alice",
	}, transport.Callbacks{})
	assert.ErrorIs(t, err, transport.ErrNoPendingConnection)
}

func TestFactory_OpenWithoutStagedConnection(t *testing.T) {
	factory := NewFactory(clockwork.NewRealClock())

	_, err := factory.Open(transport.OpenRequest{
		ConnectionID: "c1", TopicID: "poll-1", SubscriberID: "ghost",
	}, transport.Callbacks{})
	assert.ErrorIs(t, err, transport.ErrNoPendingConnection)
}

func TestFactory_StageCancelDiscards(t *testing.T) {
	server, _ := dialPair(t)
	factory := NewFactory(clockwork.NewRealClock())

	cancel := factory.Stage("poll-1", "alice", server)
	cancel()

	_, err := factory.Open(transport.OpenRequest{
		ConnectionID: "c1", TopicID: "poll-1", SubscriberID: "alice",
	}, transport.Callbacks{})
	assert.ErrorIs(t, err, transport.ErrNoPendingConnection)
}

func TestFactory_RestagingClosesPreviousConnection(t *testing.T) {
	server1, client1 := dialPair(t)
	server2, _ := dialPair(t)
	factory := NewFactory(clockwork.NewRealClock())

	factory.Stage("poll-1", "alice", server1)
	factory.Stage("poll-1", "alice", server2)

	require.NoError(t, client1.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := client1.ReadMessage()
	assert.Error(t, err, "The replaced connection should be closed")

	ch, err := factory.Open(transport.OpenRequest{
		ConnectionID: "c1", TopicID: "poll-1", SubscriberID: "alice",
	}, transport.Callbacks{})
	require.NoError(t, err)
	_ = ch.Close()
}
