package engine

import (
	"log/slog"
	"sync"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
)

const defaultListenerBuffer = 16

// Notifier fans engine notifications out to in-process listeners. Each
// listener gets its own buffered channel; a listener that cannot keep up
// has notifications dropped rather than stalling the engine.
type Notifier struct {
	mu         sync.Mutex
	nextID     int
	updateSubs map[int]chan TopicUpdate
	statusSubs map[int]chan StatusUpdate
}

func NewNotifier() *Notifier {
	return &Notifier{
		updateSubs: make(map[int]chan TopicUpdate),
		statusSubs: make(map[int]chan StatusUpdate),
	}
}

// SubscribeUpdates registers a listener for topic updates. The returned
// cancel function unregisters the listener and closes its channel.
func (n *Notifier) SubscribeUpdates() (<-chan TopicUpdate, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan TopicUpdate, defaultListenerBuffer)
	n.updateSubs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.updateSubs[id]; ok {
			delete(n.updateSubs, id)
			close(ch)
		}
	}
}

// SubscribeStatuses registers a listener for connection status changes.
func (n *Notifier) SubscribeStatuses() (<-chan StatusUpdate, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan StatusUpdate, defaultListenerBuffer)
	n.statusSubs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.statusSubs[id]; ok {
			delete(n.statusSubs, id)
			close(ch)
		}
	}
}

func (n *Notifier) publishUpdate(update TopicUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.updateSubs {
		select {
		case ch <- update:
		default:
			metrics.NotifierDroppedTotal.WithLabelValues("topic_update").Inc()
			slog.Debug("Dropping topic update for slow listener", "topic_id", update.Event.TopicID)
		}
	}
}

func (n *Notifier) publishStatus(update StatusUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.statusSubs {
		select {
		case ch <- update:
		default:
			metrics.NotifierDroppedTotal.WithLabelValues("connection_status").Inc()
			slog.Debug("Dropping status update for slow listener", "connection_id", update.ConnectionID)
		}
	}
}

// close shuts every listener channel down.
func (n *Notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.updateSubs {
		delete(n.updateSubs, id)
		close(ch)
	}
	for id, ch := range n.statusSubs {
		delete(n.statusSubs, id)
		close(ch)
	}
}
