// Package pipeline assembles the ingestion stages into one running process:
// poller, transformer, materializer, query engine, alert dispatchers and
// sink exporters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/config"
	"github.com/roach88/parkflow/internal/dispatch"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/materialize"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/poller"
	"github.com/roach88/parkflow/internal/query"
	"github.com/roach88/parkflow/internal/rules"
	"github.com/roach88/parkflow/internal/store"
	"github.com/roach88/parkflow/internal/transform"
)

// Log names used in the store.
const (
	RawLog   = "raw"
	EventLog = "events"
)

const recentErrorLimit = 100

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	source   poller.Source
	alerter  dispatch.Deliverer
	exporter []dispatch.Deliverer
}

// WithSource replaces the HTTP feed source.
func WithSource(src poller.Source) Option {
	return func(o *options) { o.source = src }
}

// WithAlertDeliverer replaces the chat notifier used by alert rules.
func WithAlertDeliverer(d dispatch.Deliverer) Option {
	return func(o *options) { o.alerter = d }
}

// WithExporter adds a sink exporter alongside the configured ones.
func WithExporter(d dispatch.Deliverer) Option {
	return func(o *options) { o.exporter = append(o.exporter, d) }
}

// Pipeline owns every stage and the logs between them.
type Pipeline struct {
	store  *store.Store
	raw    *eventlog.Log[carpark.RawRecord]
	events *eventlog.Log[carpark.Event]

	poller       *poller.Poller
	transformer  *transform.Transformer
	materializer *materialize.Materializer
	engine       *query.Engine
	dispatchers  []*dispatch.Dispatcher

	recent  *errorRing
	closers []func()
	logger  *slog.Logger
}

// New builds a pipeline from cfg. An empty database path keeps every log in
// memory. m may be nil.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics, opts ...Option) (p *Pipeline, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p = &Pipeline{
		recent: newErrorRing(recentErrorLimit),
		logger: slog.Default().With("component", "pipeline"),
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	var checkpoints eventlog.Checkpoints
	var stateStore materialize.StateStore
	rawBackend, eventBackend := eventlog.Backend(eventlog.NewMemoryBackend()), eventlog.Backend(eventlog.NewMemoryBackend())
	if cfg.Database.Path != "" {
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return p, fmt.Errorf("open store: %w", err)
		}
		p.store = st
		checkpoints, stateStore = st, st
		rawBackend = eventlog.NewSQLiteBackend(st, RawLog)
		eventBackend = eventlog.NewSQLiteBackend(st, EventLog)
	} else {
		checkpoints = eventlog.NewMemoryCheckpoints()
	}

	partitions := eventlog.WithPartitions(cfg.Log.Partitions)
	if p.raw, err = eventlog.Open[carpark.RawRecord](ctx, RawLog, rawBackend, eventlog.JSONCodec[carpark.RawRecord]{}, partitions); err != nil {
		return p, err
	}
	if p.events, err = eventlog.Open[carpark.Event](ctx, EventLog, eventBackend, eventlog.JSONCodec[carpark.Event]{}, partitions); err != nil {
		return p, err
	}

	loc, err := transform.LoadLocation(cfg.Feed.TimeZone)
	if err != nil {
		return p, err
	}

	src := o.source
	if src == nil {
		src = poller.NewHTTPSource(cfg.Feed.URL, cfg.Feed.Timeout)
	}
	p.poller = poller.New(src, p.raw, poller.Config{Interval: cfg.Feed.Interval, Dedup: cfg.Feed.Dedup}, m)
	p.transformer = transform.New(p.raw, p.events, checkpoints, transform.Config{Location: loc, Source: cfg.Feed.Source}, m)
	p.materializer = materialize.New(p.events, materialize.NewTable(), stateStore, m)
	p.engine = query.New(p.events, p.materializer.Table(),
		query.WithQueueSize(cfg.Subscriptions.QueueSize),
		query.WithMetrics(m),
	)

	if err := p.buildAlerts(cfg, o, m); err != nil {
		return p, err
	}
	if err := p.buildExporters(ctx, cfg, o, m); err != nil {
		return p, err
	}
	return p, nil
}

func (p *Pipeline) buildAlerts(cfg config.Config, o options, m *metrics.Metrics) error {
	if cfg.Alerts.RulesFile == "" {
		return nil
	}
	rs, err := rules.Load(cfg.Alerts.RulesFile)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return nil
	}

	notifier := o.alerter
	if notifier == nil {
		if cfg.Alerts.ChatToken == "" {
			p.logger.Warn("alert rules loaded without a chat token; alerts disabled", "rules", len(rs))
			return nil
		}
		notifier = dispatch.NewChatNotifier(cfg.Alerts.ChatURL, cfg.Alerts.ChatToken, cfg.Alerts.ChatID,
			cfg.Alerts.RatePerSecond, cfg.Export.Timeout)
	}

	policy := dispatch.Policy{
		MaxAttempts:     cfg.Alerts.MaxAttempts,
		InitialInterval: cfg.Alerts.InitialBackoff,
		MaxInterval:     cfg.Alerts.MaxBackoff,
	}
	for _, r := range rs {
		p.dispatchers = append(p.dispatchers, dispatch.NewAlert(p.engine, r.Predicate(), notifier, policy, m))
		p.logger.Info("alert rule armed", "rule", r.Name, "carpark", r.Carpark, "min_empty", r.MinEmpty)
	}
	return nil
}

func (p *Pipeline) buildExporters(ctx context.Context, cfg config.Config, o options, m *metrics.Metrics) error {
	sinks := append([]dispatch.Deliverer(nil), o.exporter...)
	if cfg.Export.PostgresURL != "" {
		pg, err := dispatch.NewPostgresSink(ctx, cfg.Export.PostgresURL)
		if err != nil {
			return err
		}
		p.closers = append(p.closers, pg.Close)
		sinks = append(sinks, pg)
	}
	if cfg.Export.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.Export.WebhookURL, cfg.Export.Timeout))
	}

	policy := dispatch.DefaultExportPolicy
	policy.MaxAttempts = cfg.Export.MaxAttempts
	for _, s := range sinks {
		p.dispatchers = append(p.dispatchers, dispatch.NewExporter(p.engine, s, policy, m))
		p.logger.Info("exporter configured", "sink", s.Name())
	}
	return nil
}

// Query returns the query engine.
func (p *Pipeline) Query() *query.Engine {
	return p.engine
}

// RawLog returns the raw log.
func (p *Pipeline) RawLog() *eventlog.Log[carpark.RawRecord] {
	return p.raw
}

// EventLog returns the event log.
func (p *Pipeline) EventLog() *eventlog.Log[carpark.Event] {
	return p.events
}

// PollOnce runs a single poll outside the schedule.
func (p *Pipeline) PollOnce(ctx context.Context) (poller.Result, error) {
	return p.poller.PollOnce(ctx)
}

// Ping checks that the store is reachable. In-memory pipelines are always
// healthy.
func (p *Pipeline) Ping(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Ping(ctx); err != nil {
		return carpark.NewStorageError("ping store", err)
	}
	return nil
}

// RecentErrors returns the latest transform errors, oldest first.
func (p *Pipeline) RecentErrors() []string {
	return p.recent.List()
}

// Run starts every stage plus extra and blocks until ctx is cancelled or a
// stage fails. The first failure cancels the others.
func (p *Pipeline) Run(ctx context.Context, extra ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.poller.Run(ctx) })
	g.Go(func() error { return p.transformer.Run(ctx) })
	g.Go(func() error { return p.materializer.Run(ctx) })
	g.Go(func() error { return p.collectErrors(ctx) })
	for _, d := range p.dispatchers {
		g.Go(func() error { return d.Run(ctx) })
	}
	for _, fn := range extra {
		g.Go(func() error { return fn(ctx) })
	}

	p.logger.Info("pipeline running", "dispatchers", len(p.dispatchers))
	err := g.Wait()
	p.logger.Info("pipeline stopped", "error", err)
	return err
}

func (p *Pipeline) collectErrors(ctx context.Context) error {
	errs := p.transformer.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			p.recent.Add(err.Error())
		}
	}
}

// Close releases subscriptions, logs, sinks and the store.
func (p *Pipeline) Close() error {
	if p.engine != nil {
		p.engine.Close()
	}
	if p.events != nil {
		p.events.Close()
	}
	if p.raw != nil {
		p.raw.Close()
	}
	for _, c := range p.closers {
		c()
	}

	var errs []error
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
