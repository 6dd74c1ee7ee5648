// Package transport defines the push channel primitive the engine uses to
// deliver updates to remote subscribers. Concrete implementations (such as
// the websocket one) live in subpackages; the engine only ever sees these
// interfaces.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrNoPendingConnection means Open was asked for a subscription no
	// physical connection has been staged for, e.g. a server-side
	// reconnection attempt for a client that has not redialled yet.
	ErrNoPendingConnection = errors.New("no pending connection for subscription")

	// ErrSendBufferFull means the channel's outbound buffer is full and
	// the payload was not queued.
	ErrSendBufferFull = errors.New("send buffer full")
)

// OpenRequest identifies the subscription a channel is being opened for.
type OpenRequest struct {
	ConnectionID      string
	TopicID           string
	SubscriberID      string
	HeartbeatInterval time.Duration
}

// Callbacks are invoked by the channel to report lifecycle events back to
// the engine. All callbacks must be safe to call from any goroutine.
type Callbacks struct {
	// OnOpen fires once the channel is ready to carry traffic.
	OnOpen func()
	// OnHeartbeat fires whenever the remote end shows signs of life.
	OnHeartbeat func()
	// OnError fires on a transport failure.
	OnError func(err error)
	// OnClose fires when the remote end closes the channel.
	OnClose func()
}

// Channel is one open push channel to a remote subscriber.
type Channel interface {
	// Send queues a payload for delivery. It must not block; a full
	// buffer returns ErrSendBufferFull and the payload is dropped.
	Send(payload []byte) error
	// Close tears the channel down. Callbacks do not fire after Close.
	Close() error
}

// Factory opens push channels on behalf of the engine.
type Factory interface {
	Open(req OpenRequest, cb Callbacks) (Channel, error)
}
