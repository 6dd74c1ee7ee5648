package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSweeper_RemovesIdleConnections(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})

	stop := e.StartSweeper(clock, time.Minute, 5*time.Minute)
	defer stop()

	_, err := e.Subscribe("poll-1", "alice", SubscribeConfig{})
	require.NoError(t, err)
	require.Equal(t, 1, e.SubscriberCount("poll-1"))

	// Past maxIdle; the next tick should sweep the connection.
	clock.Advance(6 * time.Minute)

	assert.Eventually(t, func() bool {
		return e.SubscriberCount("poll-1") == 0
	}, time.Second, 5*time.Millisecond, "Sweeper should remove the idle connection")
}

func TestStartSweeper_StopHaltsSweeping(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})

	stop := e.StartSweeper(clock, time.Minute, 5*time.Minute)
	stop()
	stop() // second call is a no-op

	_, err := e.Subscribe("poll-1", "alice", SubscribeConfig{})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, e.SubscriberCount("poll-1"), "Stopped sweeper must not touch connections")
}
