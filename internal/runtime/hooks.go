package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	metadatapkg "github.com/drblury/p4flow/internal/runtime/metadata"
)

// ForwardContext describes one envelope being forwarded to the sink.
type ForwardContext struct {
	// HandlerName is the watermill handler, e.g. "forward_digest".
	HandlerName string
	Kind        string
	Topic       string
	MessageUUID string
	Seq         uint64
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only set in OnForwardDone and OnForwardError.
	Duration time.Duration
}

// ForwardHooks are optional callbacks around each forward attempt. Nil hooks
// are skipped.
type ForwardHooks struct {
	OnForwardStart func(ctx ForwardContext)
	OnForwardDone  func(ctx ForwardContext)
	// OnForwardError runs once per envelope that could not be delivered,
	// after retries are exhausted.
	OnForwardError func(ctx ForwardContext, err error)
}

// Merge combines two ForwardHooks. The hooks from other run after h.
func (h ForwardHooks) Merge(other ForwardHooks) ForwardHooks {
	return ForwardHooks{
		OnForwardStart: chainHooks(h.OnForwardStart, other.OnForwardStart),
		OnForwardDone:  chainHooks(h.OnForwardDone, other.OnForwardDone),
		OnForwardError: chainErrorHooks(h.OnForwardError, other.OnForwardError),
	}
}

func (h ForwardHooks) empty() bool {
	return h.OnForwardStart == nil && h.OnForwardDone == nil && h.OnForwardError == nil
}

func chainHooks(a, b func(ForwardContext)) func(ForwardContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ForwardContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(ForwardContext, error)) func(ForwardContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx ForwardContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func newForwardContext(msg *message.Message, started time.Time) ForwardContext {
	md := metadatapkg.Metadata(msg.Metadata)
	fc := ForwardContext{
		Kind:        msg.Metadata.Get(metadatapkg.KeyKind),
		Topic:       msg.Metadata.Get(metadatapkg.KeyTopic),
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     msg.Context(),
		StartedAt:   started,
	}
	if fc.Kind != "" {
		fc.HandlerName = forwardHandlerName(fc.Kind)
	}
	if seq, err := md.Seq(); err == nil {
		fc.Seq = seq
	}
	return fc
}

// ForwardHooksMiddleware calls OnForwardStart and OnForwardDone around the
// publish. OnForwardError is called by the failure middleware once retries
// are exhausted.
func ForwardHooksMiddleware(hooks ForwardHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "forward_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			s.hooks = s.hooks.Merge(ForwardHooks{OnForwardError: hooks.OnForwardError})
			return forwardHooksMiddleware(hooks), nil
		},
	}
}

func forwardHooksMiddleware(hooks ForwardHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			fc := newForwardContext(msg, time.Now())
			if hooks.OnForwardStart != nil {
				hooks.OnForwardStart(fc)
			}

			msgs, err := h(msg)

			fc.Duration = time.Since(fc.StartedAt)
			if err == nil && hooks.OnForwardDone != nil {
				hooks.OnForwardDone(fc)
			}
			return msgs, err
		}
	}
}

// LoggingHooks logs forward lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) ForwardHooks {
	logger = loggingpkg.OrNop(logger)
	return ForwardHooks{
		OnForwardStart: func(ctx ForwardContext) {
			logger.Debug("Forward started", loggingpkg.LogFields{
				"kind":         ctx.Kind,
				"topic":        ctx.Topic,
				"seq":          ctx.Seq,
				"message_uuid": ctx.MessageUUID,
			})
		},
		OnForwardDone: func(ctx ForwardContext) {
			logger.Debug("Forward completed", loggingpkg.LogFields{
				"kind":         ctx.Kind,
				"topic":        ctx.Topic,
				"seq":          ctx.Seq,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnForwardError: func(ctx ForwardContext, err error) {
			logger.Error("Forward failed", err, loggingpkg.LogFields{
				"kind":         ctx.Kind,
				"topic":        ctx.Topic,
				"seq":          ctx.Seq,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks forwards lifecycle events to simple counters keyed by kind
// and topic.
func MetricsHooks(onStart, onDone, onError func(kind, topic string)) ForwardHooks {
	return ForwardHooks{
		OnForwardStart: func(ctx ForwardContext) {
			if onStart != nil {
				onStart(ctx.Kind, ctx.Topic)
			}
		},
		OnForwardDone: func(ctx ForwardContext) {
			if onDone != nil {
				onDone(ctx.Kind, ctx.Topic)
			}
		},
		OnForwardError: func(ctx ForwardContext, err error) {
			if onError != nil {
				onError(ctx.Kind, ctx.Topic)
			}
		},
	}
}

// AlertingHooks only reacts to failed forwards.
func AlertingHooks(alertFunc func(ctx ForwardContext, err error)) ForwardHooks {
	return ForwardHooks{OnForwardError: alertFunc}
}
