// Package stream routes the inbound half of a P4Runtime stream channel. A
// single Router reads envelopes from one Source and fans them out by kind to
// independent subscriptions, keeping per-kind order and never blocking on a
// slow consumer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	"github.com/drblury/p4flow/internal/runtime/ids"
	"github.com/drblury/p4flow/internal/runtime/logging"
)

// DefaultBufferSize is the per-subscription buffer used when Options leave it
// unset.
const DefaultBufferSize = 10000

// Source yields inbound envelopes. Recv returns io.EOF when the peer closed
// the stream. A Source that also implements io.Closer is closed when the
// router stops, which must unblock a pending Recv.
type Source interface {
	Recv() (*Envelope, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*Envelope, error)

func (f SourceFunc) Recv() (*Envelope, error) { return f() }

// Observer receives router events. Implementations must be fast and safe for
// use from the router goroutine.
type Observer interface {
	EnvelopePublished(kind Kind, delivered, dropped int)
	EnvelopeIgnored(description string)
	RouterStopped(state State, err error)
}

// State is the router lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	// StateClosed means the peer ended the stream gracefully.
	StateClosed
	// StateFailed means reading the stream failed; see Router.Err.
	StateFailed
	// StateCancelled means Quit was called or the run context ended.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState maps a state name (as produced by String) back to a State.
func ParseState(name string) (State, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for st := StateIdle; st <= StateCancelled; st++ {
		if st.String() == normalized {
			return st, nil
		}
	}
	return StateIdle, fmt.Errorf("%w: %q", errspkg.ErrUnknownState, name)
}

// Stopped reports whether the state is final.
func (s State) Stopped() bool { return s >= StateClosed }

type Options struct {
	// BufferSize bounds every subscription. Defaults to DefaultBufferSize.
	BufferSize int
	Overflow   OverflowPolicy
	Logger     logging.ServiceLogger
	Observer   Observer

	// Now and NewID stamp envelopes. They default to time.Now and a ULID.
	Now   func() time.Time
	NewID func(time.Time) string
}

type Router struct {
	opts Options
	log  logging.ServiceLogger
	hubs map[Kind]*hub

	started  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	state State
	err   error

	// seq is owned by the run loop.
	seq     map[Kind]uint64
	ignored atomic.Uint64
}

func NewRouter(opts Options) *Router {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = ids.CreateULIDAt
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	r := &Router{
		opts: opts,
		log:  logging.OrNop(opts.Logger).With(logging.LogFields{"component": "stream_router"}),
		hubs: make(map[Kind]*hub, len(Kinds)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		seq:  make(map[Kind]uint64, len(Kinds)),
	}
	for _, k := range Kinds {
		r.hubs[k] = newHub(k, opts.BufferSize, opts.Overflow)
	}
	return r
}

// Subscribe attaches a new subscription for kind. It only sees envelopes
// published after it was created. Subscribing after the router stopped
// returns a subscription that is already closed.
func (r *Router) Subscribe(kind Kind) (*Subscription, error) {
	h, ok := r.hubs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrUnknownKind, kind)
	}
	return h.subscribe(), nil
}

// Run routes envelopes from src until the stream ends, fails or is cancelled.
// It returns Err once the router stopped. If src is not an io.Closer and is
// blocked in Recv when the router stops, the reading goroutine stays parked
// in Recv until src returns.
func (r *Router) Run(ctx context.Context, src Source) error {
	if err := r.begin(src); err != nil {
		return err
	}
	return r.run(ctx, src)
}

// Start is Run on a background goroutine. Use Done and Err to follow it.
// The same io.Closer caveat applies.
func (r *Router) Start(ctx context.Context, src Source) error {
	if err := r.begin(src); err != nil {
		return err
	}
	go func() { _ = r.run(ctx, src) }()
	return nil
}

func (r *Router) begin(src Source) error {
	if src == nil {
		return errspkg.ErrSourceRequired
	}
	if !r.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}
	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()
	r.log.Info("Stream router started", logging.LogFields{
		"buffer_size": r.opts.BufferSize,
		"overflow":    r.opts.Overflow.String(),
	})
	return nil
}

// Quit stops the router. It is safe to call more than once and before Run.
func (r *Router) Quit() {
	r.quitOnce.Do(func() { close(r.quit) })
}

// Done is closed once the router reached a final state.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err is non-nil only in StateFailed and wraps ErrStreamFailed.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type KindStats struct {
	Kind        Kind   `json:"kind"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

type Stats struct {
	State   State       `json:"state"`
	Ignored uint64      `json:"ignored"`
	Kinds   []KindStats `json:"kinds"`
}

// Stats snapshots the per-kind counters.
func (r *Router) Stats() Stats {
	stats := Stats{
		State:   r.State(),
		Ignored: r.ignored.Load(),
		Kinds:   make([]KindStats, 0, len(Kinds)),
	}
	for _, k := range Kinds {
		h := r.hubs[k]
		stats.Kinds = append(stats.Kinds, KindStats{
			Kind:        k,
			Published:   h.published.Load(),
			Dropped:     h.dropped.Load(),
			Subscribers: h.subscriberCount(),
		})
	}
	return stats
}

type recvResult struct {
	env *Envelope
	err error
}

func (r *Router) run(ctx context.Context, src Source) error {
	results := make(chan recvResult)
	go r.pump(src, results)

	state, err := r.loop(ctx, results)

	r.Quit()
	if closer, ok := src.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			r.log.Debug("Closing stream source failed", logging.LogFields{"error": cerr.Error()})
		}
	}
	for _, k := range Kinds {
		r.hubs[k].close()
	}

	r.mu.Lock()
	r.state, r.err = state, err
	r.mu.Unlock()
	close(r.done)

	if err != nil {
		r.log.Error("Stream router stopped", err, logging.LogFields{"state": state.String()})
	} else {
		r.log.Info("Stream router stopped", logging.LogFields{"state": state.String()})
	}
	r.opts.Observer.RouterStopped(state, err)
	return err
}

// pump is the only reader of src.
func (r *Router) pump(src Source, out chan<- recvResult) {
	for {
		env, err := src.Recv()
		select {
		case out <- recvResult{env: env, err: err}:
		case <-r.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *Router) loop(ctx context.Context, results <-chan recvResult) (State, error) {
	for {
		select {
		case <-ctx.Done():
			return StateCancelled, nil
		case <-r.quit:
			return StateCancelled, nil
		case res := <-results:
			if res.err != nil {
				switch {
				case errors.Is(res.err, io.EOF):
					return StateClosed, nil
				case ctx.Err() != nil || r.quitting():
					return StateCancelled, nil
				default:
					return StateFailed, fmt.Errorf("%w: %w", errspkg.ErrStreamFailed, res.err)
				}
			}
			if ctx.Err() != nil || r.quitting() {
				return StateCancelled, nil
			}
			r.dispatch(res.env)
		}
	}
}

func (r *Router) quitting() bool {
	select {
	case <-r.quit:
		return true
	default:
		return false
	}
}

func (r *Router) dispatch(env *Envelope) {
	kind := env.Kind()
	h, ok := r.hubs[kind]
	if !ok {
		desc := env.Describe()
		r.ignored.Add(1)
		logging.Warn(r.log, "Ignoring unrecognised stream message", logging.LogFields{"message": desc})
		r.opts.Observer.EnvelopeIgnored(desc)
		return
	}

	r.seq[kind]++
	now := r.opts.Now()
	env.ID = r.opts.NewID(now)
	env.Seq = r.seq[kind]
	env.ReceivedAt = now

	delivered, dropped := h.publish(env)
	if dropped > 0 {
		r.log.Debug("Subscriber buffer overflow", logging.LogFields{
			"kind":    kind.String(),
			"dropped": dropped,
			"policy":  r.opts.Overflow.String(),
		})
	}
	r.opts.Observer.EnvelopePublished(kind, delivered, dropped)
}

type nopObserver struct{}

func (nopObserver) EnvelopePublished(Kind, int, int) {}
func (nopObserver) EnvelopeIgnored(string)           {}
func (nopObserver) RouterStopped(State, error)       {}
