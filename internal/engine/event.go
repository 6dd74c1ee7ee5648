package engine

import "time"

// EventType classifies an incoming update event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
	EventUpdated EventType = "updated"
	EventEnded   EventType = "ended"
)

// Trend describes the direction of an option's most recent count change.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Event is a single update from the vote pipeline. Counts are absolute
// values, not deltas; the producer owns the arithmetic.
type Event struct {
	TopicID     string    `json:"topic_id"`
	OptionID    string    `json:"option_id"`
	OptionLabel string    `json:"option_label,omitempty"`
	NewCount    int       `json:"new_count"`
	TotalCount  int       `json:"total_count"`
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
}

// OptionState is the aggregated state of one poll option within a topic.
type OptionState struct {
	OptionID    string `json:"option_id"`
	Label       string `json:"label"`
	Count       int    `json:"count"`
	Percentage  int    `json:"percentage"`
	Trend       Trend  `json:"trend"`
	RecentDelta int    `json:"recent_delta"`
}

// Snapshot is the authoritative aggregate state for one topic.
// Once IsActive flips to false it never flips back.
type Snapshot struct {
	TopicID       string        `json:"topic_id"`
	Options       []OptionState `json:"options"`
	TotalCount    int           `json:"total_count"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
	IsActive      bool          `json:"is_active"`
}

// clone returns a deep copy safe to hand out across goroutines.
func (s *Snapshot) clone() Snapshot {
	out := *s
	out.Options = make([]OptionState, len(s.Options))
	copy(out.Options, s.Options)
	return out
}

// ConnectionStatus is the externally visible health state of one subscription.
type ConnectionStatus struct {
	Connected         bool      `json:"connected"`
	LastHeartbeatAt   time.Time `json:"last_heartbeat_at"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastError         string    `json:"last_error,omitempty"`
}

// SubscribeConfig carries per-connection tuning. Zero values fall back to
// the engine defaults.
type SubscribeConfig struct {
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

// TopicUpdate is emitted to listeners after an event has been applied.
type TopicUpdate struct {
	Event    Event    `json:"event"`
	Snapshot Snapshot `json:"snapshot"`
}

// StatusReason labels why a connection status notification was emitted.
type StatusReason string

const (
	ReasonConnected        StatusReason = "connected"
	ReasonHeartbeatTimeout StatusReason = "heartbeat_timeout"
	ReasonReconnecting     StatusReason = "reconnecting"
	ReasonFailed           StatusReason = "failed"
	ReasonSwept            StatusReason = "swept"
)

// StatusUpdate is emitted to listeners when a connection changes state.
type StatusUpdate struct {
	ConnectionID string           `json:"connection_id"`
	TopicID      string           `json:"topic_id"`
	SubscriberID string           `json:"subscriber_id"`
	Status       ConnectionStatus `json:"status"`
	Reason       StatusReason     `json:"reason"`
}
