package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport"
)

// connection is the registry's record of one subscription attempt. The
// transport layer only ever holds the connection ID; the record itself is
// owned by the engine actor.
type connection struct {
	id           string
	topicID      string
	subscriberID string
	config       SubscribeConfig
	status       ConnectionStatus
	channel      transport.Channel

	// Generation counters invalidate timer callbacks scheduled for a
	// previous life of this connection. A heartbeat tick or retry whose
	// generation no longer matches is stale and must be dropped.
	heartbeatGen uint64
	retryGen     uint64

	// retryPending is set while a backoff retry is scheduled, so duplicate
	// transport errors in the meantime do not burn extra attempts.
	retryPending bool
}

func (c *connection) statusUpdate(reason StatusReason) StatusUpdate {
	return StatusUpdate{
		ConnectionID: c.id,
		TopicID:      c.topicID,
		SubscriberID: c.subscriberID,
		Status:       c.status,
		Reason:       reason,
	}
}

// registry tracks every live connection, indexed both by connection ID and
// by (topic, subscriber). Not safe for concurrent use; the engine actor is
// the only caller.
type registry struct {
	byID    map[string]*connection
	byTopic map[string]map[string]*connection
}

func newRegistry() *registry {
	return &registry{
		byID:    make(map[string]*connection),
		byTopic: make(map[string]map[string]*connection),
	}
}

// newConnectionID derives a unique ID from the subscription identity and
// creation time. The random suffix keeps IDs distinct even when two
// subscriptions are created within the same clock tick.
func newConnectionID(topicID, subscriberID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d:%s", topicID, subscriberID, now.UnixNano(), uuid.NewString()[:8])
}

func (r *registry) add(conn *connection) {
	r.byID[conn.id] = conn
	subs, ok := r.byTopic[conn.topicID]
	if !ok {
		subs = make(map[string]*connection)
		r.byTopic[conn.topicID] = subs
	}
	subs[conn.subscriberID] = conn
	metrics.ActiveConnections.Set(float64(len(r.byID)))
}

func (r *registry) get(connectionID string) *connection {
	return r.byID[connectionID]
}

func (r *registry) find(topicID, subscriberID string) *connection {
	return r.byTopic[topicID][subscriberID]
}

// remove deletes a connection from both indexes.
func (r *registry) remove(conn *connection) {
	delete(r.byID, conn.id)
	if subs, ok := r.byTopic[conn.topicID]; ok {
		delete(subs, conn.subscriberID)
		if len(subs) == 0 {
			delete(r.byTopic, conn.topicID)
		}
	}
	metrics.ActiveConnections.Set(float64(len(r.byID)))
}

// topicConnections returns the connections subscribed to a topic.
func (r *registry) topicConnections(topicID string) []*connection {
	subs := r.byTopic[topicID]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*connection, 0, len(subs))
	for _, conn := range subs {
		out = append(out, conn)
	}
	return out
}

func (r *registry) hasSubscribers(topicID string) bool {
	return len(r.byTopic[topicID]) > 0
}

func (r *registry) subscriberCount(topicID string) int {
	return len(r.byTopic[topicID])
}

// statuses returns a copy of every connection's status keyed by ID.
func (r *registry) statuses() map[string]ConnectionStatus {
	out := make(map[string]ConnectionStatus, len(r.byID))
	for id, conn := range r.byID {
		out[id] = conn.status
	}
	return out
}

// stale returns connections whose last heartbeat is older than maxIdle.
func (r *registry) stale(now time.Time, maxIdle time.Duration) []*connection {
	var out []*connection
	for _, conn := range r.byID {
		if now.Sub(conn.status.LastHeartbeatAt) > maxIdle {
			out = append(out, conn)
		}
	}
	return out
}

// all returns every registered connection.
func (r *registry) all() []*connection {
	out := make([]*connection, 0, len(r.byID))
	for _, conn := range r.byID {
		out = append(out, conn)
	}
	return out
}

// reset drops every connection record.
func (r *registry) reset() {
	r.byID = make(map[string]*connection)
	r.byTopic = make(map[string]map[string]*connection)
	metrics.ActiveConnections.Set(0)
}
