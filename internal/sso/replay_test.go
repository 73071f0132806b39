package sso

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestReplayGuard_RemembersOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewReplayGuard(10*time.Minute, clock)
	defer guard.Close()

	assert.True(t, guard.Remember("_assertion1"))
	assert.False(t, guard.Remember("_assertion1"))
	assert.True(t, guard.Remember("_assertion2"))
}

// A non-positive retention falls back to the default instead of feeding a
// zero interval to the sweeper's ticker.
func TestReplayGuard_ZeroRetentionDefaults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewReplayGuard(0, clock)
	defer guard.Close()

	assert.True(t, guard.Remember("_assertion1"))
	assert.False(t, guard.Remember("_assertion1"))
}

func TestReplayGuard_ForgetsAfterRetention(t *testing.T) {
	clock := clockwork.NewFakeClock()
	guard := NewReplayGuard(time.Minute, clock)
	defer guard.Close()

	assert.True(t, guard.Remember("_assertion1"))

	// Wait for the sweeper goroutine to register its ticker with the fake
	// clock; otherwise Advance fires before any waiter exists.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		return guard.Remember("_assertion1")
	}, time.Second, 5*time.Millisecond)
}
