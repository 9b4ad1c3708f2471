package stream

import (
	"context"
	"time"
)

// Subscriber is a typed view of one kind. It yields the payload instead of
// the envelope.
type Subscriber[T any] struct {
	sub  *Subscription
	pick func(*Envelope) T
}

// NewSubscriber subscribes to kind and extracts payloads with pick.
func NewSubscriber[T any](r *Router, kind Kind, pick func(*Envelope) T) (*Subscriber[T], error) {
	sub, err := r.Subscribe(kind)
	if err != nil {
		return nil, err
	}
	return &Subscriber[T]{sub: sub, pick: pick}, nil
}

// AwaitNext waits up to timeout for the next payload. See
// Subscription.AwaitNext.
func (s *Subscriber[T]) AwaitNext(timeout time.Duration) (T, error) {
	env, err := s.sub.AwaitNext(timeout)
	return s.extract(env, err)
}

func (s *Subscriber[T]) Next(ctx context.Context) (T, error) {
	env, err := s.sub.Next(ctx)
	return s.extract(env, err)
}

func (s *Subscriber[T]) Dropped() uint64 { return s.sub.Dropped() }

func (s *Subscriber[T]) Close() { s.sub.Close() }

// Subscription exposes the underlying envelope subscription.
func (s *Subscriber[T]) Subscription() *Subscription { return s.sub }

func (s *Subscriber[T]) extract(env *Envelope, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return s.pick(env), nil
}

func mustSubscriber[T any](r *Router, kind Kind, pick func(*Envelope) T) *Subscriber[T] {
	s, err := NewSubscriber(r, kind, pick)
	if err != nil {
		panic(err)
	}
	return s
}

func Arbitrations(r *Router) *Subscriber[*ArbitrationUpdate] {
	return mustSubscriber(r, KindArbitration, func(e *Envelope) *ArbitrationUpdate { return e.Arbitration })
}

func Packets(r *Router) *Subscriber[*PacketIn] {
	return mustSubscriber(r, KindPacket, func(e *Envelope) *PacketIn { return e.Packet })
}

func Digests(r *Router) *Subscriber[*DigestList] {
	return mustSubscriber(r, KindDigest, func(e *Envelope) *DigestList { return e.Digest })
}

func IdleTimeouts(r *Router) *Subscriber[*IdleTimeoutNotification] {
	return mustSubscriber(r, KindIdleTimeout, func(e *Envelope) *IdleTimeoutNotification { return e.IdleTimeout })
}

func Errors(r *Router) *Subscriber[*StreamError] {
	return mustSubscriber(r, KindError, func(e *Envelope) *StreamError { return e.Error })
}
