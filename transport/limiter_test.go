package transport

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcceptLimiterPerIP(t *testing.T) {
	now := time.Unix(1_000, 0)
	l := newAcceptLimiter(1, 2, func() time.Time { return now })

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.allow("10.0.0.2"), "other IPs have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"), "token refilled")
}

func TestAcceptLimiterDisabled(t *testing.T) {
	assert.Nil(t, newAcceptLimiter(0, 5, time.Now))
	assert.Nil(t, newAcceptLimiter(5, 0, time.Now))

	var l *acceptLimiter
	assert.True(t, l.allow("10.0.0.1"))
}

func TestAcceptLimiterEvictsIdle(t *testing.T) {
	now := time.Unix(1_000, 0)
	l := newAcceptLimiter(100, 100, func() time.Time { return now })

	l.allow("stale")
	now = now.Add(2 * limiterIdleTTL)
	for i := 0; i < 511; i++ {
		l.allow("10.0.0." + strconv.Itoa(i%4))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.byIP, "stale")
	assert.Len(t, l.byIP, 4)
}
