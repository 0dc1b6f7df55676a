package event

import (
	"errors"
	"sync"
)

// Observable is a publish-subscribe cell with last-value caching. Late
// subscribers immediately receive the most recently published value, so
// UI-facing readers never miss the current state.
type Observable[T any] struct {
	mu sync.Mutex

	closed bool
	hasVal bool
	last   T
	subs   map[int]chan T
	nextID int
}

func NewObservable[T any]() *Observable[T] {
	return &Observable[T]{
		subs: make(map[int]chan T),
	}
}

// Publish caches v and delivers it to every subscriber. Slow subscribers that
// cannot keep up with their buffer drop intermediate values rather than block
// the publisher; Latest always reflects the newest value.
func (o *Observable[T]) Publish(v T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errors.New("cannot publish to closed observable")
	}

	o.hasVal = true
	o.last = v

	for _, ch := range o.subs {
		select {
		case ch <- v:
		default:
			// Drop the oldest buffered value to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}

	return nil
}

// Latest returns the cached value, if one has been published.
func (o *Observable[T]) Latest() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.last, o.hasVal
}

// Subscribe registers a new subscriber channel with the given buffer size
// (minimum 1). The cached value, if any, is delivered before returning.
// The returned cancel func unregisters and closes the channel.
func (o *Observable[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan T, buffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}

	id := o.nextID
	o.nextID++
	o.subs[id] = ch

	if o.hasVal {
		ch <- o.last
	}

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		if sub, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Close unregisters and closes all subscriber channels. Publishing after
// Close is an error; Close is idempotent.
func (o *Observable[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	o.closed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
