package p4rt

import (
	"context"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/drblury/p4flow/internal/runtime/stream"
)

// Receiver is the receive half of p4v1.P4Runtime_StreamChannelClient.
type Receiver interface {
	Recv() (*p4v1.StreamMessageResponse, error)
}

// Source feeds a router from an established stream channel. It never dials
// and never performs arbitration.
type Source struct {
	recv   Receiver
	cancel context.CancelFunc
	once   sync.Once
}

// NewSource wraps recv. cancel should cancel the context the stream was
// opened with so Close unblocks a pending Recv. With a nil cancel a Recv
// blocked when the router stops keeps its goroutine until the stream itself
// returns.
func NewSource(recv Receiver, cancel context.CancelFunc) *Source {
	return &Source{recv: recv, cancel: cancel}
}

// Recv returns the next envelope. A response that cannot be converted is
// handed on as an unroutable envelope so the stream keeps flowing.
func (s *Source) Recv() (*stream.Envelope, error) {
	msg, err := s.recv.Recv()
	if err != nil {
		return nil, err
	}
	env, err := ToEnvelope(msg)
	if err != nil {
		return &stream.Envelope{Other: err.Error()}, nil
	}
	return env, nil
}

func (s *Source) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
