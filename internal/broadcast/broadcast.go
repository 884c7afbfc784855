// Package broadcast implements an append-only history with fan-out to
// subscribers.
//
// Every value published to a Channel is appended to its history and then
// forwarded to every attached Subscription. A new Subscription gets a copy of
// the history taken under the same lock that adds it to the live set, so
// replay followed by the live tail has neither gaps nor duplicates.
//
// The publisher never waits for a subscriber. Each Subscription has a bounded
// buffer; a subscriber which lets it fill up is detached and its Err returns
// ErrOverflow. One extra slot is reserved in every buffer for the final value
// passed to Close, so each subscriber still attached at that point receives
// it before its stream ends.
package broadcast

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
)

var (
	ErrClosed   = errors.New("broadcast channel closed")
	ErrOverflow = errors.New("subscriber buffer overflow")
)

const DefaultBuffer = 256

type options struct {
	buffer int
	onDrop func()
}

type Option func(*options)

// WithBuffer sets how many undelivered values a subscriber may hold.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithDropHook registers fn called each time a subscriber is detached due to
// an overflow. fn runs with the channel locked and must not call back.
func WithDropHook(fn func()) Option {
	return func(o *options) {
		o.onDrop = fn
	}
}

type Channel[T any] struct {
	opts options

	mx      sync.Mutex
	history []T
	subs    map[*Subscription[T]]struct{}
	closed  bool
}

func New[T any](opts ...Option) *Channel[T] {
	o := options{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Channel[T]{
		opts: o,
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish appends v to the history and forwards it to all subscribers.
// Returns ErrClosed after Close.
func (c *Channel[T]) Publish(v T) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.history = append(c.history, v)
	for s := range c.subs {
		if len(s.live) >= c.opts.buffer {
			c.drop(s)
			continue
		}
		s.live <- v
	}
	return nil
}

// Close publishes the final value and ends all current and future
// subscriptions after it.
func (c *Channel[T]) Close(last T) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.history = append(c.history, last)
	c.closed = true
	for s := range c.subs {
		s.live <- last
		c.detach(s)
	}
	return nil
}

// Attach creates a subscription. Its Replay holds the history published so
// far and Live delivers everything published afterwards.
func (c *Channel[T]) Attach() *Subscription[T] {
	c.mx.Lock()
	defer c.mx.Unlock()
	s := &Subscription[T]{
		ch:     c,
		replay: slices.Clone(c.history),
		live:   make(chan T, c.opts.buffer+1),
	}
	if c.closed {
		s.done = true
		close(s.live)
		return s
	}
	c.subs[s] = struct{}{}
	return s
}

// Detach removes s. It is safe to call more than once.
func (c *Channel[T]) Detach(s *Subscription[T]) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.detach(s)
}

func (c *Channel[T]) detach(s *Subscription[T]) {
	if s.done {
		return
	}
	s.done = true
	delete(c.subs, s)
	close(s.live)
}

func (c *Channel[T]) drop(s *Subscription[T]) {
	s.err = ErrOverflow
	c.detach(s)
	if c.opts.onDrop != nil {
		c.opts.onDrop()
	}
}

// History returns a copy of all published values.
func (c *Channel[T]) History() []T {
	c.mx.Lock()
	defer c.mx.Unlock()
	return slices.Clone(c.history)
}

// Tail returns a copy of at most n last published values.
func (c *Channel[T]) Tail(n int) []T {
	c.mx.Lock()
	defer c.mx.Unlock()
	if n > len(c.history) {
		n = len(c.history)
	}
	return slices.Clone(c.history[len(c.history)-n:])
}

// Size returns the number of published values.
func (c *Channel[T]) Size() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.history)
}

// Subscribers returns the number of attached subscriptions.
func (c *Channel[T]) Subscribers() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.subs)
}

func (c *Channel[T]) Closed() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.closed
}

// Subscription is a single observer of a Channel. It is owned by the
// consumer, which must call Close once it stops reading.
type Subscription[T any] struct {
	ch     *Channel[T]
	replay []T
	live   chan T

	// guarded by ch.mx
	done bool
	err  error
}

// Replay returns the history at the moment of Attach.
func (s *Subscription[T]) Replay() []T {
	return s.replay
}

// Live returns values published after Attach. The channel is closed after
// the final value, on Close or when the subscriber overflowed.
func (s *Subscription[T]) Live() <-chan T {
	return s.live
}

// Err returns ErrOverflow if the subscription was detached because it did
// not keep up, nil otherwise.
func (s *Subscription[T]) Err() error {
	s.ch.mx.Lock()
	defer s.ch.mx.Unlock()
	return s.err
}

func (s *Subscription[T]) Close() {
	s.ch.Detach(s)
}

// All yields the replay followed by the live tail. It stops when the live
// channel is closed, ctx is done or the consumer breaks the loop.
func (s *Subscription[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.replay {
			if !yield(v) {
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-s.live:
				if !ok || !yield(v) {
					return
				}
			}
		}
	}
}
