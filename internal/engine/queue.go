package engine

// pendingQueue is a bounded FIFO of raw events awaiting consolidation.
// When full, the oldest entry is evicted to make room (drop-oldest
// backpressure). Owned exclusively by the engine actor.
type pendingQueue struct {
	events   []Event
	capacity int
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{capacity: capacity}
}

// push appends an event, evicting the oldest entry if the queue is full.
// Returns true if an entry was evicted.
func (q *pendingQueue) push(event Event) bool {
	evicted := false
	if len(q.events) >= q.capacity {
		copy(q.events, q.events[1:])
		q.events = q.events[:len(q.events)-1]
		evicted = true
	}
	q.events = append(q.events, event)
	return evicted
}

// drain removes and returns up to limit events from the front of the queue.
func (q *pendingQueue) drain(limit int) []Event {
	n := min(limit, len(q.events))
	if n == 0 {
		return nil
	}
	batch := make([]Event, n)
	copy(batch, q.events[:n])
	copy(q.events, q.events[n:])
	q.events = q.events[:len(q.events)-n]
	return batch
}

func (q *pendingQueue) len() int {
	return len(q.events)
}

// consolidate collapses a drained batch down to the last event per
// (topic, option) key, preserving the order in which keys first appeared.
// At most one update per option survives a batch no matter how many raw
// events were enqueued for it.
func consolidate(batch []Event) []Event {
	if len(batch) <= 1 {
		return batch
	}

	type key struct{ topicID, optionID string }
	index := make(map[key]int, len(batch))
	out := batch[:0:0]
	for _, event := range batch {
		k := key{event.TopicID, event.OptionID}
		if i, seen := index[k]; seen {
			out[i] = event
			continue
		}
		index[k] = len(out)
		out = append(out, event)
	}
	return out
}
