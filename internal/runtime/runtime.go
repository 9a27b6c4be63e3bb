package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/appcontext"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capability"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/delivery"
	"github.com/loqalabs/loqa-dictate/internal/dictionary"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/platform"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/store"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/transform"
	"github.com/nats-io/nats.go"
)

const pruneInterval = time.Hour

// Option customizes a Runtime before it opens.
type Option func(*Runtime)

// WithAutomation replaces platform detection with a fixed adapter.
func WithAutomation(auto platform.Automation) Option {
	return func(r *Runtime) { r.automation = auto }
}

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	promServer  *http.Server
	tracerClose func(context.Context) error
	metrics     http.Handler
	ready       atomic.Bool
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error

	ctx    context.Context
	cancel context.CancelFunc

	embedded     *natsserver.EmbeddedServer
	bus          *bus.Client
	store        *store.Store
	automation   platform.Automation
	detector     *appcontext.Detector
	delivery     *delivery.Multiplexer
	transformSvc *transform.Service
	completer    *pipeline.Completer
	controller   *session.Controller
	hub          *notify.Hub
	registry     *capability.Registry
	subs         []*nats.Subscription
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens every component, serves HTTP until ctx is cancelled, then shuts down in order.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Open(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := r.Close(closeCtx); closeErr != nil {
			r.logger.Error("cleanup after failed start", slog.String("error", closeErr.Error()))
		}
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.metrics != nil && r.cfg.Telemetry.PrometheusBind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		r.promServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.promServer, "metrics")
	}

	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	r.ready.Store(false)
	for _, srv := range []*http.Server{r.httpServer, r.promServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	return r.Close(shutdownCtx)
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// Open builds every component from config without serving HTTP.
func (r *Runtime) Open(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	cfg := r.cfg

	shutdownTelemetry, metricsHandler, err := setupTelemetry(cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if cfg.Bus.Enabled {
		if err := r.openBus(ctx); err != nil {
			return err
		}
	}

	st, err := store.Open(ctx, cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = st
	if cfg.Store.RetentionMode == store.RetentionPersistent {
		r.wg.Add(1)
		go r.runPruner()
	}

	if r.automation == nil {
		auto, err := platform.Detect(cfg.Platform, r.logger)
		if err != nil {
			return fmt.Errorf("platform automation: %w", err)
		}
		r.automation = auto
	}

	table, err := appcontext.LoadTable(cfg.Context.MappingsFile)
	if err != nil {
		return err
	}
	r.detector = appcontext.NewDetector(r.automation, appcontext.Options{
		Table:        table,
		TieBreak:     appcontext.TieBreak(cfg.Context.TieBreak),
		QueryTimeout: ms(cfg.Context.QueryTimeoutMS),
	}, r.logger)

	r.delivery = delivery.NewMultiplexer(r.automation, delivery.Options{
		Strategy:     delivery.Strategy(cfg.Delivery.Strategy),
		RestoreDelay: ms(cfg.Delivery.RestoreDelayMS),
		PasteSettle:  ms(cfg.Delivery.PasteSettleMS),
	}, r.logger)

	transformer, err := transform.New(cfg.Transform, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("transform backend: %w", err)
	}
	if cfg.Transform.Serve {
		r.transformSvc = transform.NewService(r.ctx, cfg.Transform, r.bus, transformer, r.logger)
		if err := r.transformSvc.Start(); err != nil {
			return err
		}
	}

	recognizer, err := stt.New(cfg.STT)
	if err != nil {
		return fmt.Errorf("speech recognizer: %w", err)
	}

	notifier := r.buildNotifier()

	var publisher pipeline.Publisher
	if r.bus != nil {
		publisher = r.bus
	}
	r.completer = pipeline.NewCompleter(r.store, publisher, ms(cfg.Session.CompletionTimeoutMS), r.logger)

	orchestrator := pipeline.NewOrchestrator(pipeline.Options{
		TargetLanguage:    cfg.Transform.TargetLanguage,
		InstructionMode:   cfg.Transform.InstructionMode,
		CustomInstruction: cfg.Transform.CustomInstruction,
		Model:             transform.ParamsFromConfig(cfg.Transform),
		TransformTimeout:  ms(cfg.Transform.TimeoutMS),
	}, pipeline.Deps{
		Context:     r.detector,
		Transformer: transformer,
		Dictionary:  dictionary.NewCache(&dictionary.FileSource{Path: cfg.Dictionary.Path}, r.logger),
		Delivery:    r.delivery,
		Notifier:    notifier,
		Completer:   r.completer,
	}, r.logger)

	r.controller = session.NewController(r.ctx, session.Options{
		Timeout:    ms(cfg.Session.TimeoutMS),
		MaxChunks:  cfg.Session.MaxChunks,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Thresholds: audio.ThresholdsFromConfig(cfg.Audio.Silence),
		Language:   cfg.STT.Language,
	}, session.Deps{
		Context:    r.detector,
		Recognizer: recognizer,
		Processor:  orchestrator,
		Notifier:   notifier,
		Observer:   r.observe,
	}, r.logger)

	if r.bus != nil {
		if err := r.subscribeControl(); err != nil {
			return err
		}
		registry, err := capability.NewRegistry(r.ctx, cfg.Node,
			capability.Describe(cfg, r.automation.Name(), r.automation.Capabilities()), r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("capability registry: %w", err)
		}
		r.registry = registry
	}

	r.ready.Store(true)
	return nil
}

func (r *Runtime) openBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.embedded = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	return nil
}

func (r *Runtime) buildNotifier() notify.Notifier {
	notifiers := notify.Multi{notify.NewLogNotifier(r.logger)}
	if r.cfg.Notify.Bus && r.bus != nil {
		notifiers = append(notifiers, notify.NewBusNotifier(r.bus, r.logger))
	}
	if r.cfg.Notify.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(r.cfg.Notify.AppName, r.logger))
	}
	if r.cfg.Notify.WebSocket {
		r.hub = notify.NewHub(r.logger)
		notifiers = append(notifiers, r.hub)
	}
	return notifiers
}

// Close drains background work and releases every component. It is safe after a partial Open
// and idempotent.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { r.closeErr = r.close(ctx) })
	return r.closeErr
}

func (r *Runtime) close(ctx context.Context) error {
	r.ready.Store(false)
	var errs []error

	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
	if r.controller != nil {
		r.controller.Close()
	}
	if r.completer != nil {
		if err := r.completer.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain completions: %w", err))
		}
	}
	if r.delivery != nil {
		r.delivery.Wait()
	}
	if r.transformSvc != nil {
		r.transformSvc.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.hub != nil {
		r.hub.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// observe fans every controller state change out to the bus, UI clients and the event log.
func (r *Runtime) observe(evt protocol.SessionEvent) {
	if r.bus != nil {
		if err := r.bus.PublishJSON(protocol.SessionSubject(evt.State), evt); err != nil {
			r.logger.Debug("publish session event failed", slog.String("error", err.Error()))
		}
	}
	if r.hub != nil {
		r.hub.Broadcast("session", evt)
	}
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()
	err := r.store.AppendEvent(ctx, store.Event{
		Token:     evt.Token,
		State:     domain.SessionState(evt.State),
		Outcome:   domain.Outcome(evt.Outcome),
		CreatedAt: evt.Timestamp,
	})
	if err != nil && !errors.Is(err, store.ErrClosed) {
		r.logger.Warn("append session event failed", slog.String("error", err.Error()))
	}
}

// awaitResult waits for a finalized session and announces it.
func (r *Runtime) awaitResult(results <-chan domain.SessionResult) domain.SessionResult {
	res := <-results
	if r.bus != nil {
		if err := r.bus.PublishJSON(protocol.SubjectSessionResult, res); err != nil {
			r.logger.Debug("publish session result failed", slog.String("error", err.Error()))
		}
	}
	if r.hub != nil {
		r.hub.Broadcast("result", res)
	}
	return res
}

func (r *Runtime) runPruner() {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(r.ctx); err != nil {
				r.logger.Warn("store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
