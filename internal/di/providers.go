package di

import (
	"context"
	"fmt"
	"time"

	"GridVol/internal/domain/repository"
	domsvc "GridVol/internal/domain/service"
	"GridVol/internal/handler/api"
	mid "GridVol/internal/middleware"
	internalrepo "GridVol/internal/repository"
	svccache "GridVol/internal/service/cache"
	"GridVol/internal/service/ratelimit"
	"GridVol/internal/service/scheduler"
	"GridVol/internal/services/garch"
	"GridVol/internal/services/notify"
	"GridVol/internal/usecase"
	pkgcache "GridVol/pkg/cache"
	pkgch "GridVol/pkg/clickhouse"
	"GridVol/pkg/config"
	pkgkafka "GridVol/pkg/kafka"
	applogger "GridVol/pkg/logger"
	"GridVol/pkg/metrics"
	"GridVol/pkg/queue"
	"GridVol/pkg/server"
)

// Storage groups the two store roles. The memory backend serves both from
// one instance.
type Storage struct {
	Prices    repository.PriceStore
	Forecasts repository.ForecastStore
}

// ProvideLogger builds the app logger. With Kafka enabled, warn and error
// lines are also aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      internalrepo.NewKafkaLogPublisher(producer),
		})
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(nil)
}

// ProvideClickHouseClient creates a ClickHouse client. Nil with the memory
// backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Storage.Backend != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideStorage(ch *pkgch.Client, l *applogger.Logger) *Storage {
	if ch == nil {
		mem := internalrepo.NewMemoryStore()
		return &Storage{Prices: mem, Forecasts: mem}
	}
	prices := internalrepo.NewCHPriceStore(ch)
	prices.SetLogger(l)
	forecasts := internalrepo.NewCHForecastStore(ch)
	forecasts.SetLogger(l)
	return &Storage{Prices: prices, Forecasts: forecasts}
}

// ProvideRedis connects to Redis. Nil when disabled.
func ProvideRedis(cfg *config.Config) (*pkgcache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideRunLocker shares run locks through Redis so several replicas never
// forecast the same (zone, date) twice. Without Redis the lock is process
// local.
func ProvideRunLocker(rc *pkgcache.RedisCache) repository.RunLocker {
	if rc == nil {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryCleanup(time.Minute))
	}
	return rc
}

func ProvideResponseCache(cfg *config.Config, rc *pkgcache.RedisCache) svccache.BytesCache {
	if rc == nil {
		return svccache.NewTTLCache()
	}
	return svccache.NewRedisCache(rc.Client(), cfg.Redis.Prefix+":resp")
}

// ProvideKafkaProducer creates a Kafka producer. Nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRecordPublisher creates Kafka publisher repository.
func ProvideRecordPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.RecordPublisher {
	if producer == nil {
		return internalrepo.NopPublisher{}
	}
	return internalrepo.NewKafkaRecordPublisher(producer, cfg.Kafka.Topics.Forecasts, cfg.Kafka.Topics.Backtests)
}

// ProvideNotifier returns the dashboard webhook, or nil when disabled.
func ProvideNotifier(cfg *config.Config, l *applogger.Logger) (domsvc.Notifier, error) {
	if !cfg.Notify.Enabled {
		return nil, nil
	}
	w, err := notify.NewWebhook(notify.Config{
		URL:              cfg.Notify.URL,
		Token:            cfg.Notify.Token,
		FailureThreshold: cfg.Notify.FailureThreshold,
		OpenTimeout:      cfg.Notify.OpenTimeout,
		Timeout:          cfg.Notify.Timeout,
	}, l)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func ProvideEstimator(cfg *config.Config) domsvc.Estimator {
	ec := garch.DefaultEstimatorConfig()
	ec.Method = cfg.Estimator.Method
	ec.MaxIterations = cfg.Estimator.MaxIterations
	ec.MaxEvaluations = cfg.Estimator.MaxEvaluations
	ec.Timeout = cfg.Estimator.Timeout
	ec.GradientTolerance = cfg.Estimator.GradientTolerance
	ec.BoundaryTolerance = cfg.Estimator.BoundaryTolerance
	return garch.NewEstimator(ec)
}

// PipelineConfig maps the shared pipeline section onto one zone.
func PipelineConfig(cfg *config.Config, zone string) usecase.PipelineConfig {
	p := cfg.Pipeline
	return usecase.PipelineConfig{
		Zone:               zone,
		LookbackHours:      p.LookbackHours,
		MinObservations:    p.MinObservations,
		Horizon:            p.Horizon,
		Confidence:         p.Confidence,
		Staleness:          p.Staleness,
		ErrorWindowDays:    p.ErrorWindowDays,
		ErrorThreshold:     p.ErrorThreshold,
		AllowStaleFallback: p.AllowStaleFallback,
		BacktestOnRun:      p.BacktestOnRun,
		BacktestDays:       p.BacktestDays,
		ReuseDays:          p.ReuseDays,
		LockTTL:            p.LockTTL,
	}
}

// ProvideZoneFleet builds one pipeline per configured zone.
func ProvideZoneFleet(
	cfg *config.Config,
	storage *Storage,
	est domsvc.Estimator,
	pub repository.RecordPublisher,
	notifier domsvc.Notifier,
	locker repository.RunLocker,
	rec *metrics.Recorder,
	respCache svccache.BytesCache,
	l *applogger.Logger,
) (*usecase.ZoneFleet, error) {
	deps := usecase.PipelineDeps{
		Prices:    storage.Prices,
		Store:     storage.Forecasts,
		Estimator: est,
		Publisher: pub,
		Notifier:  notifier,
		Locker:    locker,
		Metrics:   rec,
		Cache:     respCache,
		Logger:    l,
	}
	pipes := make([]*usecase.ForecastPipeline, 0, len(cfg.Pipeline.Zones))
	for _, zone := range cfg.Pipeline.Zones {
		p, err := usecase.NewForecastPipeline(PipelineConfig(cfg, zone), deps)
		if err != nil {
			return nil, err
		}
		pipes = append(pipes, p)
	}
	return usecase.NewZoneFleet(pipes, cfg.Pipeline.Workers, l)
}

func ProvidePricesUseCase(storage *Storage) *usecase.PricesUseCase {
	return usecase.NewPricesUseCase(storage.Prices)
}

// ProvideIngestBuffer batches consumed prices into the price store.
func ProvideIngestBuffer(cfg *config.Config, storage *Storage, rec *metrics.Recorder, l *applogger.Logger) *mid.IngestBuffer {
	return mid.NewIngestBuffer(storage.Prices, rec, l,
		mid.WithBatchSize(cfg.Ingest.BatchSize),
		mid.WithFlushInterval(cfg.Ingest.FlushInterval),
		mid.WithMaxPending(cfg.Ingest.MaxPending),
		mid.WithMaxBackoff(cfg.Ingest.MaxBackoff),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. Nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewLoggingHook(l, time.Second))
	return consumer, nil
}

// ProvideKafkaPricesHandler registers handler for the hourly prices topic.
func ProvideKafkaPricesHandler(cfg *config.Config, buf *mid.IngestBuffer, rec *metrics.Recorder) *usecase.KafkaPricesHandler {
	return usecase.NewKafkaPricesHandler(cfg.Kafka.Topics.Prices, buf, rec)
}

// ProvideJobQueue creates the Redis job queue with the backtest and fleet
// jobs registered. Nil when the queue is disabled.
func ProvideJobQueue(cfg *config.Config, rc *pkgcache.RedisCache, fleet *usecase.ZoneFleet, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Queue.JobTimeout,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewBacktestJob(fleet))
	q.RegisterJob(usecase.NewFleetRunJob(fleet))
	return q
}

// ProvideScheduler registers the daily fleet run and the weekly backtest.
// Nil when disabled.
func ProvideScheduler(cfg *config.Config, fleet *usecase.ZoneFleet, l *applogger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	s := scheduler.New(scheduler.Config{Location: time.UTC, Timeout: cfg.Scheduler.Timeout}, l)

	// Runs shortly after midnight UTC, once the previous day's last hour
	// has been ingested.
	if err := s.Add("daily_forecast", cfg.Scheduler.ForecastCron, func(ctx context.Context, at time.Time) error {
		_, err := fleet.RunAll(ctx, at, usecase.RunOptions{})
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.Add("weekly_backtest", cfg.Scheduler.BacktestCron, func(ctx context.Context, _ time.Time) error {
		for _, zone := range fleet.Zones() {
			p, _ := fleet.Pipeline(zone)
			if _, _, err := p.BacktestHistorical(ctx, cfg.Pipeline.BacktestDays); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, 10*time.Minute)
}

// ProvideHTTPHandler wires the REST API with its health checks.
func ProvideHTTPHandler(
	l *applogger.Logger,
	fleet *usecase.ZoneFleet,
	prices *usecase.PricesUseCase,
	jobs *queue.RedisQueue,
	limiter *ratelimit.Limiter,
	storage *Storage,
	rc *pkgcache.RedisCache,
) *api.ForecastEchoHandler {
	h := api.NewForecastEchoHandler(l, fleet, prices)
	h.SetLimiter(limiter)
	if jobs != nil {
		h.SetJobs(jobs)
	}
	h.AddHealthCheck("prices", storage.Prices.Health)
	if rc != nil {
		h.AddHealthCheck("redis", func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() })
	}
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	fleet *usecase.ZoneFleet,
	h *api.ForecastEchoHandler,
	ch *pkgch.Client,
	rc *pkgcache.RedisCache,
	producer *pkgkafka.Producer,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaPricesHandler,
	buf *mid.IngestBuffer,
	jobs *queue.RedisQueue,
	sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
) *server.App {
	opts := []server.Option{server.WithLimiter(limiter)}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc.Close))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer.Close))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, kh), server.WithIngestBuffer(buf))
	}
	if jobs != nil {
		opts = append(opts, server.WithQueue(jobs))
	}
	if sched != nil {
		opts = append(opts, server.WithScheduler(sched))
	}
	return server.New(cfg, l, fleet, h, opts...)
}
