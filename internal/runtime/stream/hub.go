package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
)

// OverflowPolicy decides what a full subscription buffer gives up.
type OverflowPolicy uint8

const (
	// DropOldest evicts the oldest buffered envelope to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest leaves the buffer untouched and skips the new envelope.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("overflow(%d)", uint8(p))
	}
}

// ParseOverflowPolicy accepts "drop_oldest" and "drop_newest". The empty
// string selects DropOldest.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", name)
	}
}

// hub fans envelopes of a single kind out to its subscriptions. Every
// subscription channel is sent to and closed only while mu is held.
type hub struct {
	kind   Kind
	size   int
	policy OverflowPolicy

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func newHub(kind Kind, size int, policy OverflowPolicy) *hub {
	return &hub{
		kind:   kind,
		size:   size,
		policy: policy,
		subs:   make(map[uint64]*Subscription),
	}
}

func (h *hub) subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		kind: h.kind,
		id:   h.nextID,
		hub:  h,
		ch:   make(chan *Envelope, h.size),
	}
	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// publish hands every subscription its own copy of env and never blocks.
func (h *hub) publish(env *Envelope) (delivered, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, 0
	}
	h.published.Add(1)

	for _, sub := range h.subs {
		ok, lost := sub.offer(env.Clone(), h.policy)
		if ok {
			delivered++
		}
		dropped += lost
	}
	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
	}
	return delivered, dropped
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	delete(h.subs, sub.id)
	sub.closed = true
	close(sub.ch)
}

// close ends every subscription. Buffered envelopes stay readable.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.closed = true
		close(sub.ch)
		delete(h.subs, id)
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscription is one consumer's ordered view of a single kind.
type Subscription struct {
	kind Kind
	id   uint64
	hub  *hub
	ch   chan *Envelope

	// closed is guarded by hub.mu.
	closed  bool
	dropped atomic.Uint64
}

// offer must be called with hub.mu held.
func (s *Subscription) offer(env *Envelope, policy OverflowPolicy) (delivered bool, lost int) {
	select {
	case s.ch <- env:
		return true, 0
	default:
	}

	if policy == DropNewest {
		s.dropped.Add(1)
		return false, 1
	}

	select {
	case <-s.ch:
		lost = 1
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- env:
		return true, lost
	default:
		s.dropped.Add(1)
		return false, lost + 1
	}
}

// Kind reports the kind this subscription receives.
func (s *Subscription) Kind() Kind { return s.kind }

// C exposes the buffer for use in select statements. It is closed once the
// router stops or Close is called.
func (s *Subscription) C() <-chan *Envelope { return s.ch }

// Dropped counts envelopes this subscription lost to overflow.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription. Already buffered envelopes can still be
// read.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// AwaitNext waits up to timeout for the next envelope. On ErrTimeout nothing
// is consumed, so a message arriving later is returned by the next call. A
// non-positive timeout only checks the buffer.
func (s *Subscription) AwaitNext(timeout time.Duration) (*Envelope, error) {
	if timeout <= 0 {
		select {
		case env, ok := <-s.ch:
			return received(env, ok)
		default:
			return nil, errspkg.ErrTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env, ok := <-s.ch:
		return received(env, ok)
	case <-timer.C:
		return nil, errspkg.ErrTimeout
	}
}

// Next waits for the next envelope until ctx is done.
func (s *Subscription) Next(ctx context.Context) (*Envelope, error) {
	select {
	case env, ok := <-s.ch:
		return received(env, ok)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func received(env *Envelope, ok bool) (*Envelope, error) {
	if !ok {
		return nil, errspkg.ErrClosed
	}
	return env, nil
}
