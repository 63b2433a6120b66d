package stream

import (
	"sync"
)

// Observer bundles the callbacks of a single subscriber. Any field may be nil.
type Observer[T any] struct {
	OnData     func(T)
	OnError    func(error)
	OnComplete func()
}

// Observable is the read side of a Subject.
type Observable[T any] interface {
	// Subscribe registers obs and returns a handle that removes it again.
	Subscribe(obs Observer[T]) *Subscription
	// SubscribeFunc is shorthand for Subscribe with only OnData set.
	SubscribeFunc(onData func(T)) *Subscription
	// Consumers reports the number of active downstream consumers.
	Consumers() int

	tap(obs Observer[T]) *Subscription
	retain()
	release()
}

// Subscription removes an observer from its subject. Unsubscribe is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe detaches the observer.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type entry[T any] struct {
	obs      Observer[T]
	consumer bool
}

// Subject is a multicast stream. The zero value is not usable; call NewSubject.
type Subject[T any] struct {
	mu        sync.Mutex
	observers map[uint64]entry[T]
	nextID    uint64
	consumers int

	// terminal state
	done bool
	err  error

	// upstream is notified when consumers goes 0->1 or 1->0
	onActive func(active bool)
}

// NewSubject creates an empty subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{observers: make(map[uint64]entry[T])}
}

// Subscribe registers a consumer. If the subject already terminated, the
// matching terminal callback fires before Subscribe returns and the returned
// subscription is inert.
func (s *Subject[T]) Subscribe(obs Observer[T]) *Subscription {
	return s.add(obs, true)
}

// SubscribeFunc registers a consumer interested only in data.
func (s *Subject[T]) SubscribeFunc(onData func(T)) *Subscription {
	return s.add(Observer[T]{OnData: onData}, true)
}

// tap registers an observer that does not count as a consumer. Pipe uses it
// to stay attached upstream without keeping the upstream producer active.
func (s *Subject[T]) tap(obs Observer[T]) *Subscription {
	return s.add(obs, false)
}

func (s *Subject[T]) add(obs Observer[T], consumer bool) *Subscription {
	s.mu.Lock()
	if s.done {
		err := s.err
		s.mu.Unlock()
		notifyTerminal(obs, err)
		return &Subscription{}
	}

	id := s.nextID
	s.nextID++
	s.observers[id] = entry[T]{obs: obs, consumer: consumer}
	activated := false
	if consumer {
		s.consumers++
		activated = s.consumers == 1
	}
	hook := s.onActive
	s.mu.Unlock()

	if activated && hook != nil {
		hook(true)
	}

	return &Subscription{cancel: func() { s.remove(id) }}
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	e, ok := s.observers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.observers, id)
	deactivated := false
	if e.consumer {
		s.consumers--
		deactivated = s.consumers == 0
	}
	hook := s.onActive
	s.mu.Unlock()

	if deactivated && hook != nil {
		hook(false)
	}
}

// Consumers reports the number of active consumers.
func (s *Subject[T]) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers
}

// retain and release let a derived stream count as a consumer of s while it
// has consumers of its own.
func (s *Subject[T]) retain() {
	s.mu.Lock()
	s.consumers++
	activated := s.consumers == 1
	hook := s.onActive
	s.mu.Unlock()
	if activated && hook != nil {
		hook(true)
	}
}

func (s *Subject[T]) release() {
	s.mu.Lock()
	if s.consumers > 0 {
		s.consumers--
	}
	deactivated := s.consumers == 0
	hook := s.onActive
	s.mu.Unlock()
	if deactivated && hook != nil {
		hook(false)
	}
}

func (s *Subject[T]) snapshot() []Observer[T] {
	out := make([]Observer[T], 0, len(s.observers))
	for _, e := range s.observers {
		out = append(out, e.obs)
	}
	return out
}

// Next delivers v to every current observer. It is a no-op after termination.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	observers := s.snapshot()
	s.mu.Unlock()

	for _, obs := range observers {
		if obs.OnData != nil {
			obs.OnData(v)
		}
	}
}

// Error terminates the subject with err. Current observers are notified and
// dropped; later subscribers receive err on subscription.
func (s *Subject[T]) Error(err error) {
	s.terminate(err)
}

// Complete terminates the subject without an error.
func (s *Subject[T]) Complete() {
	s.terminate(nil)
}

// Terminated reports whether Error or Complete was called.
func (s *Subject[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Subject[T]) terminate(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	observers := s.snapshot()
	hadConsumers := s.consumers > 0
	s.observers = make(map[uint64]entry[T])
	s.consumers = 0
	hook := s.onActive
	s.mu.Unlock()

	for _, obs := range observers {
		notifyTerminal(obs, err)
	}
	if hadConsumers && hook != nil {
		hook(false)
	}
}

func notifyTerminal[T any](obs Observer[T], err error) {
	if err != nil {
		if obs.OnError != nil {
			obs.OnError(err)
		}
		return
	}
	if obs.OnComplete != nil {
		obs.OnComplete()
	}
}
