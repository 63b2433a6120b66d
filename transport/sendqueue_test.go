package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendQueueReportsBackpressure(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var written []byte

	q := newSendQueue(func(o outbound) error {
		<-release
		mu.Lock()
		written = append(written, o.payload...)
		mu.Unlock()
		return nil
	}, nil)
	defer q.close()

	n, err := q.enqueue(outbound{payload: make([]byte, 1000)})
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 1000)

	n, err = q.enqueue(outbound{payload: make([]byte, highWaterMark)})
	require.NoError(t, err)
	assert.Equal(t, FlushPending, n)

	close(release)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(written) == 1000+highWaterMark
	}, time.Second, 10*time.Millisecond)
}

func TestSendQueueReportsWriteErrors(t *testing.T) {
	boom := errors.New("broken pipe")
	errs := make(chan error, 1)
	q := newSendQueue(func(outbound) error { return boom }, func(err error) { errs <- err })
	defer q.close()

	_, err := q.enqueue(outbound{payload: []byte("x")})
	require.NoError(t, err)

	select {
	case got := <-errs:
		assert.ErrorIs(t, got, boom)
	case <-time.After(time.Second):
		t.Fatal("write error not reported")
	}
}

func TestSendQueueClosed(t *testing.T) {
	q := newSendQueue(func(outbound) error { return nil }, nil)
	q.close()
	q.close()

	_, err := q.enqueue(outbound{payload: []byte("x")})
	assert.ErrorIs(t, err, errQueueClosed)
}

func TestAcceptLimiter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newAcceptLimiter(1, 2, func() time.Time { return now })

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"))

	var disabled *acceptLimiter
	assert.True(t, disabled.allow("10.0.0.1"))
	assert.Nil(t, newAcceptLimiter(0, 1, time.Now))
}
