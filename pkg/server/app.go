package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GridVol/internal/middleware"
	"GridVol/internal/service/ratelimit"
	"GridVol/internal/service/scheduler"
	"GridVol/internal/usecase"
	"GridVol/pkg/config"
	xhttp "GridVol/pkg/http"
	pkgkafka "GridVol/pkg/kafka"
	applogger "GridVol/pkg/logger"
	"GridVol/pkg/queue"
)

type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	fleet      *usecase.ZoneFleet
	handler    xhttp.Handler
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	buffer     *middleware.IngestBuffer
	jobs       *queue.RedisQueue
	sched      *scheduler.Scheduler
	limiter    *ratelimit.Limiter
	closers    []closer
	httpServer *xhttp.Server
}

// Option attaches an optional component.
type Option func(*App)

// WithConsumer runs the Kafka price feed through kh.
func WithConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.kh = kh
	}
}

func WithIngestBuffer(b *middleware.IngestBuffer) Option {
	return func(a *App) { a.buffer = b }
}

func WithQueue(q *queue.RedisQueue) Option {
	return func(a *App) { a.jobs = q }
}

func WithScheduler(s *scheduler.Scheduler) Option {
	return func(a *App) { a.sched = s }
}

// WithLimiter sweeps idle limiter keys while the app runs.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithCloser registers a resource released on shutdown, in reverse order.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, closer{name: name, fn: fn}) }
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, fleet *usecase.ZoneFleet, handler xhttp.Handler, opts ...Option) *App {
	if log == nil {
		log = applogger.Nop()
	}
	a := &App{cfg: cfg, log: log, fleet: fleet, handler: handler}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fleet exposes the zone pipelines to one-shot commands.
func (a *App) Fleet() *usecase.ZoneFleet { return a.fleet }

func (a *App) Logger() *applogger.Logger { return a.log }

// Run starts every component and blocks until ctx ends or the process is
// interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	a.shutdown()
	return nil
}

func (a *App) start(ctx context.Context) error {
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithCORS(a.cfg.Server.CORSOrigins),
		xhttp.WithLogger(a.log),
	)

	if a.buffer != nil {
		a.buffer.Start(ctx)
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
	}

	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return err
		}
	}

	if a.sched != nil {
		a.sched.Start()
		a.log.Info("scheduler started",
			applogger.String("forecast_cron", a.cfg.Scheduler.ForecastCron),
			applogger.String("backtest_cron", a.cfg.Scheduler.BacktestCron))
	}

	if a.limiter != nil {
		go a.sweepLimiter(ctx)
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("gridvol started",
		applogger.Strings("zones", a.fleet.Zones()),
		applogger.String("storage", a.cfg.Storage.Backend),
		applogger.Bool("kafka", a.consumer != nil),
		applogger.Bool("queue", a.jobs != nil))
	return nil
}

// shutdown stops intake first, then drains what was accepted, then releases
// infrastructure clients.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			a.log.Warn("scheduler stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.buffer != nil {
		if err := a.buffer.Stop(ctx); err != nil {
			a.log.Error("final price flush failed",
				applogger.Int("pending", a.buffer.Pending()),
				applogger.Error(err))
		}
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			a.log.Warn("job queue stop error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	if err := a.Close(); err != nil {
		a.log.Warn("resource close error", applogger.Error(err))
	}
}

// Close flushes the log collector and releases infrastructure clients. Run
// calls it on shutdown; one-shot commands call it directly.
func (a *App) Close() error {
	a.log.RemoveCollector()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, err)
			a.log.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.Sweep(); n > 0 {
				a.log.Debug("rate limiter swept", applogger.Int("keys", n))
			}
		}
	}
}
