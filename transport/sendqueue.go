package transport

import (
	"math"
	"net"
	"sync"
)

const (
	// FlushPending is returned by SendTCP and SendUDP when the outbound
	// queue is above its high-water mark. Callers should slow down.
	FlushPending = math.MaxInt

	highWaterMark = 16 * 1024
)

type outbound struct {
	payload []byte
	to      net.Addr
}

// sendQueue serializes writes for one socket on a dedicated goroutine so
// Send calls never block on the network.
type sendQueue struct {
	mu      sync.Mutex
	items   []outbound
	pending int
	closed  bool

	wake chan struct{}
	done chan struct{}

	write   func(outbound) error
	onError func(error)
}

func newSendQueue(write func(outbound) error, onError func(error)) *sendQueue {
	q := &sendQueue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		write:   write,
		onError: onError,
	}
	go q.run()
	return q
}

// enqueue schedules o and reports the number of bytes waiting to be written,
// or FlushPending above the high-water mark.
func (q *sendQueue) enqueue(o outbound) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, errQueueClosed
	}
	q.items = append(q.items, o)
	q.pending += len(o.payload)
	pending := q.pending
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	if pending > highWaterMark {
		return FlushPending, nil
	}
	return pending, nil
}

func (q *sendQueue) run() {
	for {
		select {
		case <-q.wake:
		case <-q.done:
			return
		}

		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			batch := q.items
			q.items = nil
			q.mu.Unlock()

			for _, o := range batch {
				err := q.write(o)

				q.mu.Lock()
				q.pending -= len(o.payload)
				closed := q.closed
				q.mu.Unlock()

				if closed {
					return
				}
				if err != nil && q.onError != nil {
					q.onError(err)
				}
			}
		}
	}
}

// close stops the writer. Queued items that were not written are dropped.
func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}
