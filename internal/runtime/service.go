package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/p4flow/internal/runtime/config"
	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	"github.com/drblury/p4flow/internal/runtime/stream"
	transportpkg "github.com/drblury/p4flow/internal/runtime/transport"
)

// DefaultDrainTimeout bounds how long Start waits for forwarders to flush
// buffered envelopes after the stream ended.
const DefaultDrainTimeout = 30 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	Hooks                     ForwardHooks
	// Observer receives router events in addition to the Prometheus metrics.
	Observer stream.Observer
	// Registry collects the service metrics. A fresh registry is used when nil.
	Registry     *prometheus.Registry
	DrainTimeout time.Duration
	// DisableSignals skips the SIGINT/SIGTERM handler on the forward router.
	DisableSignals bool
}

// Service composes the stream router, the forwarders and the sink.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger watermill.LoggerAdapter
	stream   *stream.Router
	sink     transportpkg.Sink
	// publisher is the sink publisher, possibly decorated by middlewares.
	publisher message.Publisher

	forwards []forwarder
	bridge   *gochannel.GoChannel
	router   *message.Router

	registry *prometheus.Registry
	metrics  *RouterMetrics
	hooks    ForwardHooks

	drainTimeout  time.Duration
	forwardCtx    context.Context
	cancelForward context.CancelFunc
	started       atomic.Bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server
}

// NewService constructs a Service for the supplied configuration and panics
// on error. Use TryNewService to handle errors.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds the sink and wires the forward
// router. Subscriptions for forwarded kinds exist from here on, so nothing
// routed after Start is missed.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	policy, err := stream.ParseOverflowPolicy(c.OverflowPolicy)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating p4flow service", loggingpkg.LogFields{
		"pubsub_system": c.PubSubSystem,
		"forward_kinds": c.ForwardKinds,
		"config":        c.String(),
	})

	s := &Service{
		Conf:         &c,
		Logger:       log,
		wmLogger:     wmLogger,
		registry:     deps.Registry,
		hooks:        deps.Hooks,
		drainTimeout: deps.DrainTimeout,
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = DefaultDrainTimeout
	}

	s.metrics = NewRouterMetrics(s.registry)
	if c.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var observer stream.Observer = s.metrics
	if deps.Observer != nil {
		observer = multiObserver{s.metrics, deps.Observer}
	}
	s.stream = stream.NewRouter(stream.Options{
		BufferSize: c.ChannelBufferSize,
		Overflow:   policy,
		Logger:     log,
		Observer:   observer,
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	sink, err := factory.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return nil, err
	}
	if sink.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	s.sink = sink
	s.publisher = sink.Publisher

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: s.drainTimeout}, wmLogger)
	if err != nil {
		_ = sink.Publisher.Close()
		return nil, err
	}
	s.router = router
	if !deps.DisableSignals {
		s.router.AddPlugin(plugin.SignalsHandler)
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = sink.Publisher.Close()
		return nil, err
	}
	if err := s.addForwarders(c.ForwardKinds); err != nil {
		_ = sink.Publisher.Close()
		return nil, err
	}

	s.forwardCtx, s.cancelForward = context.WithCancel(context.WithoutCancel(ctx))
	return s, nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, defaults...)
	if !deps.Hooks.empty() {
		registrations = append(registrations, forwardHooksRegistration(deps.Hooks))
	}
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// forwardHooksRegistration wires start/done callbacks only; s.hooks already
// holds the error callback from the dependencies.
func forwardHooksRegistration(hooks ForwardHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "forward_hooks",
		Builder: func(*Service) (message.HandlerMiddleware, error) {
			return forwardHooksMiddleware(hooks), nil
		},
	}
}

// Start serves HTTP endpoints, starts the forwarders and routes envelopes
// from src until the stream ends, fails or ctx is cancelled. Buffered
// envelopes are then forwarded (bounded by the drain timeout) before the
// sink is closed. It returns the stream router's error, if any.
func (s *Service) Start(ctx context.Context, src stream.Source) error {
	if src == nil {
		return errspkg.ErrSourceRequired
	}
	if !s.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}

	s.StartWebUIServer()
	s.startMetricsServer()
	s.startHTTPServers()
	defer s.shutdownHTTPServers()
	defer s.cancelForward()

	var (
		wg        sync.WaitGroup
		routerErr chan error
	)
	if len(s.forwards) > 0 {
		routerErr = make(chan error, 1)
		go func() {
			routerErr <- routerRun(s.router, s.forwardCtx)
			// The forward router closing on its own, e.g. on SIGTERM, stops
			// the stream as well.
			s.stream.Quit()
		}()

		select {
		case <-s.router.Running():
		case err := <-routerErr:
			s.closeSink()
			return fmt.Errorf("start forward router: %w", err)
		}

		for _, f := range s.forwards {
			wg.Add(1)
			go func(f forwarder) {
				defer wg.Done()
				s.forward(s.forwardCtx, f)
			}(f)
		}
	}

	err := s.stream.Run(ctx, src)

	s.drain(&wg)
	if routerErr != nil {
		if cerr := s.router.Close(); cerr != nil {
			s.Logger.Error("Closing forward router failed", cerr, nil)
		}
		if rerr := <-routerErr; rerr != nil {
			s.Logger.Error("Forward router stopped with error", rerr, nil)
		}
	}
	s.closeSink()
	return err
}

// drain waits for the forwarders to flush what the stream buffered.
func (s *Service) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.Logger.Error("Forwarders did not drain in time", errspkg.ErrTimeout, loggingpkg.LogFields{
			"timeout": s.drainTimeout.String(),
		})
		s.cancelForward()
		// Forwarders blocked on an unacked bridge publish only return once
		// the bridge is closed.
		s.closeBridge()
		<-done
	}
}

func (s *Service) closeBridge() {
	if s.bridge == nil {
		return
	}
	if err := s.bridge.Close(); err != nil {
		s.Logger.Error("Closing forward bridge failed", err, nil)
	}
}

func (s *Service) closeSink() {
	s.closeBridge()
	if err := s.publisher.Close(); err != nil {
		s.Logger.Error("Closing sink failed", err, loggingpkg.LogFields{"sink": s.sink.Name})
	}
}

// Quit stops the stream router and abandons forwarding of buffered
// envelopes. Safe to call more than once and before Start.
func (s *Service) Quit() {
	s.stream.Quit()
	s.cancelForward()
}

// Router returns the stream router for direct subscriptions.
func (s *Service) Router() *stream.Router { return s.stream }

// Subscribe attaches an application subscription to kind.
func (s *Service) Subscribe(kind stream.Kind) (*stream.Subscription, error) {
	return s.stream.Subscribe(kind)
}

// Subscriber returns the sink's subscriber, which is only set for sinks that
// can be consumed in-process such as "channel".
func (s *Service) Subscriber() message.Subscriber { return s.sink.Subscriber }

// Sink describes the configured sink.
func (s *Service) Sink() transportpkg.Sink { return s.sink }

// Metrics exposes the Prometheus registry the service records into.
func (s *Service) Metrics() *prometheus.Registry { return s.registry }

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) shutdownHTTPServers() {
	s.httpServersMu.Lock()
	servers := s.running
	s.running = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}

type multiObserver []stream.Observer

func (m multiObserver) EnvelopePublished(kind stream.Kind, delivered, dropped int) {
	for _, o := range m {
		o.EnvelopePublished(kind, delivered, dropped)
	}
}

func (m multiObserver) EnvelopeIgnored(description string) {
	for _, o := range m {
		o.EnvelopeIgnored(description)
	}
}

func (m multiObserver) RouterStopped(state stream.State, err error) {
	for _, o := range m {
		o.RouterStopped(state, err)
	}
}
