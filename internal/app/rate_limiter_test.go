package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Sliding_Window(t *testing.T) {
	req := require.New(t)
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	req.True(rl.Allow("alice"))
	req.True(rl.Allow("alice"))
	req.False(rl.Allow("alice"))
	req.True(rl.Allow("bob"))

	now = now.Add(11 * time.Second)
	req.True(rl.Allow("alice"))

	rl.Forget("alice")
	req.Contains(rl.history, "alice")
	now = now.Add(11 * time.Second)
	rl.Forget("alice")
	req.NotContains(rl.history, "alice")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	require.Nil(t, rl)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("alice"))
	}
}
