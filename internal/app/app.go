// Package app wires a configured set of CEP endpoints to their sinks and
// input for the gopipe-cep command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/fxsml/gopipe-cep/cep"
	"github.com/fxsml/gopipe-cep/cep/memory"
	"github.com/fxsml/gopipe-cep/message"
	"github.com/fxsml/gopipe-cep/message/jsonschema"
)

// Option configures an App.
type Option func(*App)

// WithStdio replaces the stdin input source and the stdout sink target.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithRegistry replaces the prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) {
		a.registry = reg
	}
}

type endpoint struct {
	ep   *cep.Endpoint
	sink SinkConfig
}

// App runs endpoints on an in-memory engine.
type App struct {
	cfg      *Config
	logger   message.Logger
	stdin    io.Reader
	stdout   io.Writer
	registry *prometheus.Registry

	engine    *memory.Engine
	component *cep.Component
	endpoints []endpoint
	schemas   *jsonschema.Registry
}

// New validates cfg and registers its endpoints. No query is created until
// Run subscribes.
func New(cfg *Config, logger message.Logger, opts ...Option) (*App, error) {
	c := cfg.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:    &c,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	schemas, err := loadSchemas(c.Input.Schemas)
	if err != nil {
		return nil, err
	}
	a.schemas = schemas

	a.engine = memory.New(memory.Config{MaxPartials: c.Engine.MaxPartials, Logger: logger})
	a.component = cep.NewComponent(a.engine, cep.ComponentConfig{
		Logger:  logger,
		Metrics: cep.NewMetrics(a.registry),
	})

	for _, decl := range c.Endpoints {
		var ep *cep.Endpoint
		if decl.URI != "" {
			ep, err = a.component.Endpoint(decl.URI)
		} else {
			epCfg, _ := decl.endpointConfig()
			ep, err = a.component.Register(epCfg)
		}
		if err != nil {
			_ = a.component.Close()
			return nil, err
		}
		a.endpoints = append(a.endpoints, endpoint{ep: ep, sink: decl.Sink})
	}
	return a, nil
}

// Engine returns the engine shared by all endpoints.
func (a *App) Engine() *memory.Engine { return a.engine }

// Component returns the endpoint registry.
func (a *App) Component() *cep.Component { return a.component }

// Registry returns the prometheus registry served on the metrics path.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run subscribes every endpoint to its sink and feeds the input into the
// engine until the input ends or ctx is done. It then disposes every
// subscription, so each query is destroyed, and drains the sinks for up to
// the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	input, err := newInput(a.cfg.Input, a.stdin, a.logger)
	if err != nil {
		return err
	}
	producer := cep.NewProducer(a.inputEndpoint(), cep.ProducerConfig{
		Logger:   a.logger,
		Validate: validator(a.schemas),
	})

	subCtx, cancelSubs := context.WithCancel(ctx)
	defer cancelSubs()
	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()

	var (
		sinks []Sink
		group errgroup.Group
	)
	closeSinks := func() error {
		var err error
		for _, s := range sinks {
			err = multierr.Append(err, s.Close())
		}
		return err
	}

	for _, e := range a.endpoints {
		sink, err := newSink(ctx, e.ep.Name(), e.sink, a.stdout, a.logger)
		if err != nil {
			cancelSubs()
			return multierr.Combine(fmt.Errorf("endpoint %q: sink: %w", e.ep.Name(), err), closeSinks(), a.component.Close())
		}
		sinks = append(sinks, sink)

		msgs, err := e.ep.Subscribe(subCtx, cep.SubscribeConfig{})
		if err != nil {
			cancelSubs()
			return multierr.Combine(err, closeSinks(), a.component.Close())
		}
		group.Go(func() error {
			return sink.PublishAll(sinkCtx, msgs)
		})
		a.logger.Info("Endpoint started",
			"component", "app",
			"endpoint", e.ep.Name(),
			"sink", e.sink.Kind)
	}

	stopServer := a.serveMetrics()

	runErr := input.Run(ctx, producer)
	a.logger.Info("Shutting down", "component", "app")

	cancelSubs()
	sinkErr := a.drain(&group, cancelSinks)

	return multierr.Combine(runErr, sinkErr, closeSinks(), a.component.Close(), stopServer())
}

// drain waits for the sinks to publish what is buffered.
func (a *App) drain(group *errgroup.Group, cancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("Shutdown timeout reached, dropping buffered results",
			"component", "app",
			"timeout", a.cfg.ShutdownTimeout)
		cancel()
		err = <-done
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) inputEndpoint() *cep.Endpoint {
	if name := a.cfg.Input.Endpoint; name != "" {
		if ep, ok := a.component.Lookup(name); ok {
			return ep
		}
	}
	return a.endpoints[0].ep
}

// Check validates cfg and creates every endpoint's query once on a scratch
// engine, reporting all failures.
func Check(cfg *Config, logger message.Logger) error {
	c := cfg.applyDefaults()
	if err := c.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	_, err := loadSchemas(c.Input.Schemas)

	engine := memory.New(memory.Config{Logger: logger})
	for _, decl := range c.Endpoints {
		epCfg, _ := decl.endpointConfig()
		epCfg.Logger = logger
		ep, epErr := cep.NewEndpoint(engine, epCfg)
		if epErr != nil {
			err = multierr.Append(err, epErr)
			continue
		}
		if _, attachErr := ep.Attach(); attachErr != nil {
			err = multierr.Append(err, fmt.Errorf("endpoint %q: %w", epCfg.Name, attachErr))
			continue
		}
		err = multierr.Append(err, ep.Detach())
	}
	return err
}
