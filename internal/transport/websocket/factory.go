// Package websocket implements the transport push channel over
// gorilla/websocket connections. The HTTP handler stages an upgraded
// connection for a subscription; the engine then claims it through Open.
package websocket

import (
	"sync"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport"
)

// Factory hands staged websocket connections to the engine. Staging and
// opening happen on different goroutines (HTTP handler vs. engine actor),
// hence the lock.
type Factory struct {
	clock  clockwork.Clock
	mu     sync.Mutex
	staged map[string]*ws.Conn
}

func NewFactory(clock clockwork.Clock) *Factory {
	return &Factory{
		clock:  clock,
		staged: make(map[string]*ws.Conn),
	}
}

func stageKey(topicID, subscriberID string) string {
	return topicID + "\x00" + subscriberID
}

// Stage deposits an upgraded connection for the given subscription. The
// returned cancel function discards it again; callers use it when the
// subsequent Subscribe call fails and nothing ever claims the connection.
func (f *Factory) Stage(topicID, subscriberID string, conn *ws.Conn) (cancel func()) {
	key := stageKey(topicID, subscriberID)

	f.mu.Lock()
	if old, ok := f.staged[key]; ok {
		_ = old.Close()
	}
	f.staged[key] = conn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.staged[key] == conn {
			delete(f.staged, key)
			_ = conn.Close()
		}
	}
}

// Open claims the staged connection for the subscription and wraps it in a
// push channel. Reconnection attempts for a client that has not redialled
// find nothing staged and fail with ErrNoPendingConnection.
func (f *Factory) Open(req transport.OpenRequest, cb transport.Callbacks) (transport.Channel, error) {
	key := stageKey(req.TopicID, req.SubscriberID)

	f.mu.Lock()
	conn, ok := f.staged[key]
	if ok {
		delete(f.staged, key)
	}
	f.mu.Unlock()

	if !ok {
		return nil, transport.ErrNoPendingConnection
	}
	return newChannel(conn, f.clock, req.HeartbeatInterval, cb), nil
}
