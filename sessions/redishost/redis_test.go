package redishost

import (
	"testing"

	"github.com/NEARWEEK/MCP/sessions"
	"github.com/NEARWEEK/MCP/sessions/sessionhosttest"
)

func TestRedisStreamHost(t *testing.T) {
	// Skip gracefully in environments without Redis.
	h, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis stream host tests: %v", err)
		return
	}
	_ = h.Close()

	sessionhosttest.RunStreamHostTests(t, func(t *testing.T) sessions.StreamHost {
		hh, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}
