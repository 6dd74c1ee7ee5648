package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport"
)

const (
	writeDeadline       = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	sendBufferSize      = 16
	closeGracePeriod    = time.Second
)

// channel is one push channel over a websocket connection. A writer
// goroutine owns all writes (payloads, pings, close frame); a reader
// goroutine drains inbound frames so pongs are processed and disconnects
// are noticed.
type channel struct {
	conn         *ws.Conn
	clock        clockwork.Clock
	pingInterval time.Duration
	callbacks    transport.Callbacks

	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	closed      atomic.Bool
	wg          sync.WaitGroup
}

func newChannel(conn *ws.Conn, clock clockwork.Clock, pingInterval time.Duration, cb transport.Callbacks) *channel {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	c := &channel{
		conn:         conn,
		clock:        clock,
		pingInterval: pingInterval,
		callbacks:    cb,
		sendChannel:  make(chan []byte, sendBufferSize),
		doneChannel:  make(chan struct{}),
	}

	c.updateReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		c.heartbeat()
		return nil
	})

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	return c
}

// Send queues a payload without blocking. A full buffer means the client
// is not keeping up; the payload is dropped and the caller told so.
func (c *channel) Send(payload []byte) error {
	select {
	case c.sendChannel <- payload:
		return nil
	default:
		metrics.WebSocketSlowClientDrops.Inc()
		return transport.ErrSendBufferFull
	}
}

// Close tears the channel down. Lifecycle callbacks stop firing first so
// the engine does not see its own teardown as a transport failure.
func (c *channel) Close() error {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.doneChannel)

		// Unblock the reader; the writer exits via doneChannel.
		deadline := c.clock.Now().Add(closeGracePeriod)
		_ = c.conn.SetReadDeadline(c.clock.Now())

		go func() {
			c.wg.Wait()
			// Both loops have exited, safe to write the close frame.
			closeMsg := ws.FormatCloseMessage(ws.CloseNormalClosure, "subscription closed")
			_ = c.conn.SetWriteDeadline(deadline)
			_ = c.conn.WriteMessage(ws.CloseMessage, closeMsg)
			_ = c.conn.Close()
		}()
	})
	return nil
}

func (c *channel) writeLoop() {
	ticker := c.clock.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case payload := <-c.sendChannel:
			start := c.clock.Now()
			c.updateWriteDeadline()
			if err := c.conn.WriteMessage(ws.TextMessage, payload); err != nil {
				c.fail(err)
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(c.clock.Since(start).Seconds())
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				metrics.WebSocketPingFailures.Inc()
				c.fail(err)
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

// readLoop drains inbound frames. Any client frame counts as liveness.
func (c *channel) readLoop() {
	defer c.wg.Done()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				c.remoteClosed()
			} else {
				c.fail(err)
			}
			return
		}
		c.updateReadDeadline()
		c.heartbeat()
	}
}

func (c *channel) heartbeat() {
	if c.closed.Load() {
		return
	}
	if c.callbacks.OnHeartbeat != nil {
		c.callbacks.OnHeartbeat()
	}
}

func (c *channel) fail(err error) {
	if c.closed.Load() {
		return
	}
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

func (c *channel) remoteClosed() {
	if c.closed.Load() {
		return
	}
	if c.callbacks.OnClose != nil {
		c.callbacks.OnClose()
	}
}

func (c *channel) updateWriteDeadline() {
	_ = c.conn.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *channel) updateReadDeadline() {
	_ = c.conn.SetReadDeadline(c.clock.Now().Add(2 * c.pingInterval))
}
