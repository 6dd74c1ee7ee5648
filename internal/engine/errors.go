package engine

import "errors"

var (
	ErrEmptyTopicID   = errors.New("topic id must not be empty")
	ErrEngineStopped  = errors.New("engine stopped")
	ErrCommandTimeout = errors.New("engine command timed out")
	ErrChannelClosed  = errors.New("push channel closed")

	// ErrHeartbeatTimeout is the cause recorded on a connection whose
	// remote end went quiet past the heartbeat deadline.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)
