package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	idspkg "github.com/drblury/p4flow/internal/runtime/ids"
	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/p4flow/internal/runtime/metadata"
	"github.com/drblury/p4flow/internal/runtime/stream"
)

// EnvelopeMessage encodes env as the JSON payload of a watermill message
// bound for topic. The message UUID is the envelope ID.
func EnvelopeMessage(env *stream.Envelope, topic string) (*message.Message, error) {
	if env == nil {
		return nil, errors.New("p4flow: nil envelope")
	}
	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Describe(), err)
	}

	id := env.ID
	if id == "" {
		id = idspkg.CreateULID()
	}
	msg := message.NewMessage(id, payload)
	msg.Metadata = metadatapkg.ToWatermill(metadatapkg.ForEnvelope(env, topic))
	return msg, nil
}

// DecodeEnvelope is the inverse of EnvelopeMessage.
func DecodeEnvelope(msg *message.Message) (*stream.Envelope, error) {
	if msg == nil {
		return nil, errors.New("p4flow: nil message")
	}
	var env stream.Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", msg.UUID, err)
	}
	return &env, nil
}

// PublishEnvelope encodes env and publishes it to topic, bypassing the
// forward router.
func PublishEnvelope(ctx context.Context, publisher message.Publisher, topic string, env *stream.Envelope) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	msg, err := EnvelopeMessage(env, topic)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishEnvelope publishes env to the forward topic of its kind on the
// sink, e.g. to replay a recorded envelope.
func (s *Service) PublishEnvelope(ctx context.Context, env *stream.Envelope) error {
	if s == nil {
		return errors.New("p4flow: service is nil")
	}
	kind := env.Kind()
	if kind == stream.KindUnknown {
		return fmt.Errorf("%w: %s", errspkg.ErrUnknownKind, env.Describe())
	}
	return PublishEnvelope(ctx, s.publisher, s.Topic(kind), env)
}

// SubscribeForwarded reads the forward topic of kind back from the sink.
// Only sinks with an in-process subscriber, such as "channel", support it.
func (s *Service) SubscribeForwarded(ctx context.Context, kind stream.Kind) (<-chan *message.Message, error) {
	if s.sink.Subscriber == nil {
		return nil, errspkg.ErrSubscriptionRequired
	}
	return s.sink.Subscriber.Subscribe(ctx, s.Topic(kind))
}
