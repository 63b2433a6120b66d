package stream

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Pipe derives a stream that applies transform to every value of src. The
// transform is skipped entirely while the derived stream has no consumers.
// A transform error terminates the derived stream, not src.
func Pipe[T, U any](src Observable[T], transform func(T) (U, error)) Observable[U] {
	out := NewSubject[U]()
	out.onActive = func(active bool) {
		if active {
			src.retain()
		} else {
			src.release()
		}
	}

	src.tap(Observer[T]{
		OnData: func(v T) {
			if out.Consumers() == 0 {
				return
			}
			u, err := transform(v)
			if err != nil {
				out.Error(err)
				return
			}
			out.Next(u)
		},
		OnError:    out.Error,
		OnComplete: out.Complete,
	})

	return out
}

// Chan subscribes to src and returns a channel fed with its values. When the
// channel buffer is full the value is dropped and a warning logged, so a slow
// reader never stalls the publisher. The channel is closed on Unsubscribe or
// when src terminates.
func Chan[T any](src Observable[T], buffer int) (<-chan T, *Subscription) {
	ch := make(chan T, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	closeOnce := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	sub := src.Subscribe(Observer[T]{
		OnData: func(v T) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case ch <- v:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "Chan",
					"package":  "stream",
					"buffer":   buffer,
				}).Warn("Consumer channel full, dropping value")
			}
		},
		OnError:    func(error) { closeOnce() },
		OnComplete: closeOnce,
	})

	return ch, &Subscription{cancel: func() {
		sub.Unsubscribe()
		closeOnce()
	}}
}
