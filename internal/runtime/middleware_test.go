package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/p4flow/internal/runtime/config"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	metadatapkg "github.com/drblury/p4flow/internal/runtime/metadata"
)

func okHandler(*message.Message) ([]*message.Message, error) { return nil, nil }

func TestDefaultMiddlewaresOrder(t *testing.T) {
	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{
		"forward_outcome",
		"correlation_id",
		"log_messages",
		"tracer",
		"metrics",
		"retry",
		"recoverer",
	}, names)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{})
	mw := s.correlationIDMiddleware()

	msg := forwardedMessage("digest", "1")
	var seen string
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		seen = m.Metadata.Get(metadatapkg.KeyCorrelationID)
		return nil, nil
	})(msg)
	require.NoError(t, err)
	assert.Len(t, seen, 26)

	msg = forwardedMessage("digest", "2")
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, "existing")
	_, err = mw(okHandler)(msg)
	require.NoError(t, err)
	assert.Equal(t, "existing", msg.Metadata.Get(metadatapkg.KeyCorrelationID))
}

func TestForwardOutcomeMiddleware(t *testing.T) {
	var failed []error
	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{
		Hooks: AlertingHooks(func(_ ForwardContext, err error) { failed = append(failed, err) }),
	})
	mw := s.forwardOutcomeMiddleware()

	_, err := mw(okHandler)(forwardedMessage("packet", "1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = mw(func(*message.Message) ([]*message.Message, error) { return nil, boom })(forwardedMessage("packet", "2"))
	require.NoError(t, err, "failures are acked")

	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], boom)
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.forwarded.WithLabelValues("packet", ForwardResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.forwarded.WithLabelValues("packet", ForwardResultFailed)))
}

func TestLogMessagesMiddleware(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{})

	mw, err := LogMessagesMiddleware(loggingpkg.NewWatermillServiceLogger(capture)).Builder(s)
	require.NoError(t, err)
	_, err = mw(okHandler)(forwardedMessage("digest", "1"))
	require.NoError(t, err)

	logs := capture.Captured()[watermill.DebugLogLevel]
	require.Len(t, logs, 1)
	assert.Equal(t, "Forwarding message", logs[0].Msg)
	assert.Equal(t, "uuid-1", logs[0].Fields["message_uuid"])
}

func TestLogMessagesMiddlewareRequiresLogger(t *testing.T) {
	_, err := LogMessagesMiddleware(nil).Builder(&Service{})
	assert.Error(t, err)
}

func TestRetryMiddleware(t *testing.T) {
	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{})

	t.Run("retries until success", func(t *testing.T) {
		mw := s.retryMiddlewareWithConfig(RetryMiddlewareConfig{MaxRetries: 3, InitialInterval: time.Millisecond})
		attempts := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("retry")
			}
			return nil, nil
		})(forwardedMessage("digest", "1"))
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		mw := s.retryMiddlewareWithConfig(RetryMiddlewareConfig{MaxRetries: 2, InitialInterval: time.Millisecond})
		attempts := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			attempts++
			return nil, errors.New("down")
		})(forwardedMessage("digest", "1"))
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("honours RetryIf", func(t *testing.T) {
		permanent := errors.New("permanent")
		mw := s.retryMiddlewareWithConfig(RetryMiddlewareConfig{
			MaxRetries:      5,
			InitialInterval: time.Millisecond,
			RetryIf:         func(err error) bool { return !errors.Is(err, permanent) },
		})
		attempts := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			attempts++
			return nil, permanent
		})(forwardedMessage("digest", "1"))
		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryMiddlewareConfigDefaults(t *testing.T) {
	cfg := RetryMiddlewareConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.MaxInterval)

	cfg = RetryMiddlewareConfig{InitialInterval: 10 * time.Second, MaxInterval: time.Second}.withDefaults()
	assert.Equal(t, 10*time.Second, cfg.MaxInterval)
}

func TestTracerMiddleware(t *testing.T) {
	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{})
	mw := s.tracerMiddleware()

	msg := forwardedMessage("digest", "1")
	msg.SetContext(context.Background())

	var observed trace.Span
	_, err := mw(func(m *message.Message) ([]*message.Message, error) {
		observed = trace.SpanFromContext(m.Context())
		return nil, errors.New("recorded")
	})(msg)
	require.Error(t, err)
	if observed == nil {
		t.Fatal("expected span to be attached to context")
	}
}

func TestRecovererMiddlewareTurnsPanicIntoError(t *testing.T) {
	reg := RecovererMiddleware()
	require.NotNil(t, reg.Middleware)

	_, err := reg.Middleware(func(*message.Message) ([]*message.Message, error) {
		panic("sink exploded")
	})(forwardedMessage("digest", "1"))
	assert.Error(t, err)
}

func TestRegisterMiddlewareValidations(t *testing.T) {
	t.Run("requires router", func(t *testing.T) {
		err := (&Service{}).RegisterMiddleware(MiddlewareRegistration{Middleware: func(h message.HandlerFunc) message.HandlerFunc { return h }})
		assert.Error(t, err)
	})

	s, _ := newTestService(t, emptyConfig(), ServiceDependencies{})

	t.Run("requires middleware or builder", func(t *testing.T) {
		assert.Error(t, s.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}))
	})

	t.Run("propagates builder error", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, boom },
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil middleware opts out", func(t *testing.T) {
		called := false
		err := s.RegisterMiddleware(MiddlewareRegistration{
			Builder: func(svc *Service) (message.HandlerMiddleware, error) {
				called = svc == s
				return nil, nil
			},
		})
		require.NoError(t, err)
		assert.True(t, called)
	})
}

func TestMetricsMiddleware(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		mw, err := MetricsMiddleware().Builder(&Service{Conf: &configpkg.Config{}})
		require.NoError(t, err)
		assert.Nil(t, mw)
	})

	t.Run("enabled decorates the publisher", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		s, pub := newTestService(t, &configpkg.Config{MetricsEnabled: true}, ServiceDependencies{
			Registry:                  reg,
			DisableDefaultMiddlewares: true,
		})
		require.Same(t, pub, s.publisher)

		mw, err := MetricsMiddleware().Builder(s)
		require.NoError(t, err)
		require.NotNil(t, mw)
		assert.True(t, s.publisher != message.Publisher(pub), "publisher was not decorated")

		require.NoError(t, s.publisher.Publish("p4flow.digest", forwardedMessage("digest", "1")))
		assert.Len(t, pub.Messages("p4flow.digest"), 1)

		families, err := reg.Gather()
		require.NoError(t, err)
		var publishMetrics int
		for _, mf := range families {
			if strings.HasPrefix(mf.GetName(), "p4flow_forward_publish") {
				publishMetrics++
			}
		}
		assert.Positive(t, publishMetrics, "no publisher metrics registered")
	})
}
