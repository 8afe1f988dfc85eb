// Package broadcast fans values out to registered callbacks.
package broadcast

import (
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Broadcaster delivers published values synchronously to every subscriber,
// in subscription order. A panicking callback is recovered and logged; the
// remaining subscribers still receive the value.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   *orderedmap.OrderedMap[string, func(T)]
	clone  func(T) T
	logger *logrus.Logger
}

// Option configures a Broadcaster
type Option[T any] func(*Broadcaster[T])

// WithClone gives every subscriber its own copy produced by fn
func WithClone[T any](fn func(T) T) Option[T] {
	return func(b *Broadcaster[T]) { b.clone = fn }
}

// New creates an empty broadcaster. A nil logger falls back to logrus.StandardLogger().
func New[T any](logger *logrus.Logger, opts ...Option[T]) *Broadcaster[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Broadcaster[T]{
		subs:   orderedmap.New[string, func(T)](),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is the handle returned by Subscribe
type Subscription struct {
	token  string
	once   sync.Once
	remove func(token string)
}

// Token is the unique identifier of the subscription
func (s *Subscription) Token() string { return s.token }

// Unsubscribe removes the callback. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.remove(s.token) })
}

// Subscribe registers fn and returns its handle
func (b *Broadcaster[T]) Subscribe(fn func(T)) *Subscription {
	token := uuid.NewString()

	b.mu.Lock()
	b.subs.Set(token, fn)
	n := b.subs.Len()
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"token":       token,
		"subscribers": n,
	}).Debug("Subscriber added")

	return &Subscription{token: token, remove: b.remove}
}

func (b *Broadcaster[T]) remove(token string) {
	b.mu.Lock()
	_, present := b.subs.Delete(token)
	b.mu.Unlock()

	if present {
		b.logger.WithField("token", token).Debug("Subscriber removed")
	}
}

// Publish delivers v to every current subscriber.
// Callbacks run without any broadcaster lock held, so they may subscribe,
// unsubscribe or publish again.
func (b *Broadcaster[T]) Publish(v T) {
	type entry struct {
		token string
		fn    func(T)
	}

	b.mu.RLock()
	targets := make([]entry, 0, b.subs.Len())
	for pair := b.subs.Oldest(); pair != nil; pair = pair.Next() {
		targets = append(targets, entry{token: pair.Key, fn: pair.Value})
	}
	b.mu.RUnlock()

	for _, t := range targets {
		value := v
		if b.clone != nil {
			value = b.clone(v)
		}
		b.deliver(t.token, t.fn, value)
	}
}

func (b *Broadcaster[T]) deliver(token string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"token": token,
				"panic": r,
			}).Errorf("Subscriber callback panic (recovered)\nStack:\n%s", debug.Stack())
		}
	}()
	fn(v)
}

// Len returns the number of subscribers
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs.Len()
}

// Clear removes all subscribers
func (b *Broadcaster[T]) Clear() {
	b.mu.Lock()
	b.subs = orderedmap.New[string, func(T)]()
	b.mu.Unlock()
}
