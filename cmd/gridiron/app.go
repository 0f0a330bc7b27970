package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/agent/providers"
	"github.com/haasonsaas/gridiron/internal/checkpoint"
	"github.com/haasonsaas/gridiron/internal/config"
	"github.com/haasonsaas/gridiron/internal/credentials"
	"github.com/haasonsaas/gridiron/internal/fantasy"
	"github.com/haasonsaas/gridiron/internal/net/egress"
	"github.com/haasonsaas/gridiron/internal/observability"
	"github.com/haasonsaas/gridiron/internal/tools"
	"github.com/haasonsaas/gridiron/internal/tools/browser"
)

// app holds the collaborators built from one config. Fields are nil when
// the owning feature is disabled or was not requested.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	store      checkpoint.Store
	pool       *browser.Pool
	sweeper    *browser.Sweeper
	dispatcher *tools.Dispatcher
	engine     *agent.Engine

	closers []func(context.Context) error
}

type appOptions struct {
	// withEngine builds the model, tools and engine.
	withEngine bool
	// withBrowser builds the session pool even when no engine is needed.
	withBrowser bool
	// model replaces the configured provider.
	model agent.Model
	// logOutput overrides the configured log destination.
	logOutput io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.logger, err = buildLogger(cfg.Logging, opts.logOutput, a); err != nil {
		return nil, err
	}
	a.metrics = observability.NewMetrics(prometheus.NewRegistry())

	tc := cfg.Observability.Tracing
	_, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    tc.ServiceName,
		ServiceVersion: firstNonEmpty(tc.ServiceVersion, version),
		Environment:    tc.Environment,
		Endpoint:       tc.Endpoint,
		SamplingRate:   tc.SamplingRate,
		Attributes:     tc.Attributes,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	if a.store, err = openCheckpointStore(ctx, cfg.Checkpoint); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	if cfg.Browser.Enabled && (opts.withBrowser || opts.withEngine) {
		if err := a.buildBrowser(ctx); err != nil {
			return nil, err
		}
	}
	if opts.withEngine {
		if err := a.buildEngine(ctx, opts.model); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func buildLogger(cfg config.LoggingConfig, override io.Writer, a *app) (*slog.Logger, error) {
	out := override
	if out == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
		case "", "stderr":
			out = os.Stderr
		case "stdout":
			out = os.Stdout
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log output: %w", err)
			}
			a.closers = append(a.closers, func(context.Context) error { return f.Close() })
			out = f
		}
	}
	return observability.NewLogger(observability.LogConfig{
		Level:          cfg.Level,
		Format:         cfg.Format,
		Output:         out,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.Redact,
	}), nil
}

func openCheckpointStore(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "sqlite":
		return checkpoint.NewSQLiteStore(ctx, cfg.Path)
	case "postgres":
		pg := checkpoint.DefaultPostgresConfig()
		pg.DSN = cfg.DSN
		return checkpoint.NewPostgresStore(ctx, pg)
	case "bolt":
		return checkpoint.NewBoltStore(cfg.Path)
	case "redis":
		return checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

func (a *app) buildBrowser(ctx context.Context) error {
	bc := a.cfg.Browser
	var driver browser.Driver
	switch bc.Driver {
	case "chromedp":
		driver = browser.NewChromedpDriver(browser.ChromedpConfig{
			Headless:       bc.HeadlessOrDefault(),
			ExecPath:       bc.ExecPath,
			DebugURL:       bc.DebugURL,
			ViewportWidth:  bc.ViewportWidth,
			ViewportHeight: bc.ViewportHeight,
		})
	default:
		driver = browser.NewPlaywrightDriver(browser.PlaywrightConfig{
			Headless:       bc.HeadlessOrDefault(),
			Timeout:        bc.ActionTimeout,
			ViewportWidth:  bc.ViewportWidth,
			ViewportHeight: bc.ViewportHeight,
			BlockTrackers:  bc.BlockTrackersOrDefault(),
			Policy:         egress.NewPolicy(bc.AllowedDomains),
		})
	}

	var records browser.RecordStore = browser.NewMemoryRecords()
	if sqlStore, ok := a.store.(*checkpoint.SQLStore); ok {
		sqlRecords, err := browser.NewSQLRecords(ctx, sqlStore.DB(), sqlStore.Dialect())
		if err != nil {
			return err
		}
		records = sqlRecords
	}

	a.pool = browser.NewPool(driver, browser.Config{
		MaxSessions:      bc.MaxSessions,
		IdleTimeout:      bc.IdleTimeout,
		ActionTimeout:    bc.ActionTimeout,
		AllowedDomains:   bc.AllowedDomains,
		ActionsPerSecond: bc.ActionsPerSecond,
		MinActionDelay:   bc.MinActionDelay,
		MaxActionDelay:   bc.MaxActionDelay,
	},
		browser.WithRecordStore(records),
		browser.WithLogger(a.logger),
		browser.WithObserver(a.metrics),
	)
	a.closers = append(a.closers, a.pool.Shutdown)
	return nil
}

// startSweeper schedules idle session cleanup. Only long-running commands
// call it.
func (a *app) startSweeper() error {
	if a.pool == nil {
		return nil
	}
	sweeper, err := browser.NewSweeper(a.pool, a.cfg.Browser.SweepSchedule, a.cfg.Browser.IdleTimeout, a.logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	a.sweeper = sweeper
	return nil
}

func (a *app) screenshotSink(ctx context.Context) (browser.ScreenshotSink, error) {
	sc := a.cfg.Browser.Screenshots
	if sc.S3.Bucket != "" {
		return browser.NewS3Sink(ctx, browser.S3SinkConfig{
			Bucket:          sc.S3.Bucket,
			Region:          sc.S3.Region,
			Endpoint:        sc.S3.Endpoint,
			Prefix:          sc.S3.Prefix,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			UsePathStyle:    sc.S3.UsePathStyle,
		})
	}
	return browser.NewDirSink(sc.Dir), nil
}

func (a *app) buildEngine(ctx context.Context, model agent.Model) error {
	cfg := a.cfg
	if model == nil {
		var err error
		fallbacks := make([]providers.Config, 0, len(cfg.LLM.Fallbacks))
		for _, fb := range cfg.LLM.Fallbacks {
			fallbacks = append(fallbacks, providerConfig(fb))
		}
		model, err = providers.New(ctx, a.logger, providerConfig(cfg.LLM.LLMProviderConfig), fallbacks...)
		if err != nil {
			return fmt.Errorf("failed to create model: %w", err)
		}
	}

	registry := tools.NewRegistry()

	sleeper := fantasy.NewSleeper(fantasy.SleeperConfig{
		BaseURL:        cfg.Sleeper.BaseURL,
		ProjectionsURL: cfg.Sleeper.ProjectionsURL,
		Timeout:        cfg.Sleeper.Timeout,
		PlayersTTL:     cfg.Sleeper.PlayersTTL,
	}, fantasy.WithCache(a.sleeperCache()), fantasy.WithSleeperLogger(a.logger))
	schedule := fantasy.NewSchedule(fantasy.ScheduleConfig{BaseURL: cfg.Sleeper.ScheduleURL})
	news := fantasy.NewNews(fantasy.NewsConfig{APIKey: cfg.Sleeper.NewsAPIKey, BaseURL: cfg.Sleeper.NewsURL})
	if err := fantasy.NewToolset(sleeper, schedule, news, a.logger).Register(registry); err != nil {
		return err
	}

	if a.pool != nil {
		sink, err := a.screenshotSink(ctx)
		if err != nil {
			return err
		}
		secrets := credentials.Chain{credentials.NewEnvStore(cfg.Credentials.EnvPrefix)}
		if cfg.Credentials.File != "" {
			secrets = append(credentials.Chain{credentials.NewFileStore(cfg.Credentials.File)}, secrets...)
		}
		toolset := browser.NewToolset(a.pool, secrets,
			browser.WithScreenshots(sink),
			browser.WithToolLogger(a.logger),
		)
		if err := toolset.Register(registry); err != nil {
			return err
		}
	}

	a.dispatcher = tools.NewDispatcher(registry, tools.Config{
		DefaultTimeout: cfg.Tools.DefaultTimeout,
		MaxConcurrency: cfg.Tools.MaxConcurrency,
	}, tools.WithLogger(a.logger), tools.WithObserver(a.metrics))

	opts := []agent.Option{
		agent.WithContextProvider(fantasy.NewContextProvider(fantasy.NewSnapshots(sleeper))),
		agent.WithPrompt(fantasy.Prompt),
		agent.WithObserver(a.metrics),
		agent.WithLogger(a.logger),
	}
	if cfg.Engine.CompactAfter > 0 {
		opts = append(opts, agent.WithCompactor(agent.WindowCompactor{MaxMessages: cfg.Engine.CompactAfter}))
	}
	a.engine = agent.NewEngine(model, a.store, a.dispatcher, agent.Config{
		MaxTurns:     cfg.Engine.MaxTurns,
		EventBuffer:  cfg.Engine.EventBuffer,
		ModelTimeout: cfg.Engine.ModelTimeout,
	}, opts...)
	return nil
}

func (a *app) sleeperCache() fantasy.Cache {
	sc := a.cfg.Sleeper
	if sc.Cache != "redis" {
		return fantasy.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     sc.Redis.Addr,
		Password: sc.Redis.Password,
		DB:       sc.Redis.DB,
	})
	cache := fantasy.NewRedisCache(client, sc.Redis.Prefix)
	a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
	return cache
}

func providerConfig(c config.LLMProviderConfig) providers.Config {
	return providers.Config{
		Provider:   c.Provider,
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Model:      c.Model,
		Region:     c.Region,
		MaxTokens:  c.MaxTokens,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
	}
}

// Close releases resources in reverse construction order.
func (a *app) Close(ctx context.Context) error {
	if a.sweeper != nil {
		a.sweeper.Stop(ctx)
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
