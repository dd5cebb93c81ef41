package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(100*time.Millisecond, time.Second, 5)

	var prev time.Duration
	for i := 0; i < 5; i++ {
		assert.True(t, r.shouldReconnect())
		attempt, delay := r.nextDelay()
		assert.Equal(t, i+1, attempt)
		assert.LessOrEqual(t, delay, time.Second)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		if delay < time.Second {
			assert.GreaterOrEqual(t, delay, prev/2, "delays should grow until capped")
		}
		prev = delay
	}

	assert.False(t, r.shouldReconnect())
}

func TestReconnectorReset(t *testing.T) {
	r := newReconnector(time.Millisecond, time.Second, 3)
	for i := 0; i < 3; i++ {
		r.nextDelay()
	}
	assert.False(t, r.shouldReconnect())

	r.reset()
	assert.True(t, r.shouldReconnect())
}

func TestReconnectorFirstConnectResetsAttempts(t *testing.T) {
	r := newReconnector(time.Millisecond, time.Second, 3)
	r.nextDelay()
	r.nextDelay()

	r.markConnected()
	assert.True(t, r.shouldReconnect())
	attempt, _ := r.nextDelay()
	assert.Equal(t, 1, attempt)
}

func TestRoomPhaseString(t *testing.T) {
	assert.Equal(t, "idle", roomIdle.String())
	assert.Equal(t, "joining", roomJoining.String())
	assert.Equal(t, "joined", roomJoined.String())
	assert.Equal(t, "leaving", roomLeaving.String())
}
