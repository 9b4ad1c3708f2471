package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	"github.com/drblury/p4flow/internal/runtime/stream"
)

// ErrOversize is reported to hooks for envelopes larger than the sink accepts.
var ErrOversize = errors.New("p4flow: envelope exceeds sink message size")

const bridgeTopicPrefix = "p4flow.bridge."

type forwarder struct {
	kind  stream.Kind
	topic string
	sub   *stream.Subscription
}

func forwardHandlerName(kind string) string {
	return "forward_" + kind
}

// Topic returns the sink topic envelopes of kind are published to.
func (s *Service) Topic(kind stream.Kind) string {
	return s.Conf.ForwardTopicPrefix + kind.String()
}

// ForwardedKinds lists the kinds exported to the sink, in config order.
func (s *Service) ForwardedKinds() []stream.Kind {
	kinds := make([]stream.Kind, len(s.forwards))
	for i, f := range s.forwards {
		kinds[i] = f.kind
	}
	return kinds
}

// addForwarders subscribes to every forwarded kind and adds its handler to
// the forward router. Envelopes travel forwarder -> bridge -> handler -> sink;
// the bridge blocks until the handler acked, which keeps per-kind order.
func (s *Service) addForwarders(names []string) error {
	if len(names) == 0 {
		return nil
	}

	s.bridge = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, s.wmLogger)

	for _, name := range names {
		kind, err := stream.ParseKind(name)
		if err != nil {
			return err
		}
		sub, err := s.stream.Subscribe(kind)
		if err != nil {
			return err
		}

		f := forwarder{kind: kind, topic: s.Topic(kind), sub: sub}
		s.forwards = append(s.forwards, f)
		s.router.AddNoPublisherHandler(
			forwardHandlerName(kind.String()),
			bridgeTopicPrefix+kind.String(),
			s.bridge,
			s.publishHandler(f.topic),
		)
	}
	return nil
}

// publishHandler publishes a fresh copy on every attempt so retries never
// hand an already acked message to the sink.
func (s *Service) publishHandler(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		out := msg.Copy()
		out.SetContext(msg.Context())
		return s.publisher.Publish(topic, out)
	}
}

// forward runs until the subscription is closed and drained or ctx is done.
func (s *Service) forward(ctx context.Context, f forwarder) {
	log := s.Logger.With(loggingpkg.LogFields{"kind": f.kind.String(), "topic": f.topic})
	defer f.sub.Close()

	for {
		env, err := f.sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, errspkg.ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Error("Forwarder stopped", err, nil)
			}
			return
		}

		msg, err := EnvelopeMessage(env, f.topic)
		if err != nil {
			log.Error("Failed to encode envelope", err, loggingpkg.LogFields{"seq": env.Seq})
			continue
		}
		msg.SetContext(ctx)

		if !s.sink.Capabilities.Accepts(len(msg.Payload)) {
			s.rejectOversize(log, msg, f)
			continue
		}

		if err := s.bridge.Publish(bridgeTopicPrefix+f.kind.String(), msg); err != nil {
			log.Error("Forward bridge closed", err, loggingpkg.LogFields{"seq": env.Seq})
			return
		}
	}
}

func (s *Service) rejectOversize(log loggingpkg.ServiceLogger, msg *message.Message, f forwarder) {
	err := fmt.Errorf("%w: %d > %d bytes", ErrOversize, len(msg.Payload), s.sink.Capabilities.MaxMessageSize)
	s.metrics.RecordForward(f.kind.String(), ForwardResultOversize, 0)
	log.Error("Dropping oversized envelope", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
	if s.hooks.OnForwardError != nil {
		s.hooks.OnForwardError(newForwardContext(msg, time.Now()), err)
	}
}
