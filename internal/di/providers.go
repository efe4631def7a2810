package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	domrepo "PatternMemory/internal/domain/repository"
	"PatternMemory/internal/handler/api"
	"PatternMemory/internal/handler/ws"
	mid "PatternMemory/internal/middleware"
	internalrepo "PatternMemory/internal/repository"
	icache "PatternMemory/internal/service/cache"
	svcmetrics "PatternMemory/internal/service/metrics"
	"PatternMemory/internal/service/ratelimit"
	"PatternMemory/internal/services/memory"
	"PatternMemory/internal/usecase"
	pkgcache "PatternMemory/pkg/cache"
	pkgch "PatternMemory/pkg/clickhouse"
	"PatternMemory/pkg/config"
	xhttp "PatternMemory/pkg/http"
	pkgkafka "PatternMemory/pkg/kafka"
	applogger "PatternMemory/pkg/logger"
	"PatternMemory/pkg/metrics"
	"PatternMemory/pkg/server"
)

// Sinks are the buffered signal publishers the emitter fans out to.
type Sinks []*mid.BufferedPublisher

// KafkaHandlers are the topic handlers the consumer runs.
type KafkaHandlers []pkgkafka.MessageHandler

const initTimeout = 10 * time.Second

// ProvideLogger builds the application logger. With the collector enabled, repeated
// errors are aggregated and shipped to Kafka; children created later share it.
// The cleanup flushes the collector and runs before the producer is closed.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("env", cfg.Environment))
	if producer == nil || !cfg.Logging.Collector.Enabled {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   cfg.Logging.Collector.Interval,
		CountThreshold: cfg.Logging.Collector.Threshold,
		Topic:          cfg.Logging.Collector.Topic,
		Publisher:      logPublisher{p: producer},
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder, or a no-op one when metrics are off.
func ProvideMetrics(cfg *config.Config) domrepo.Metrics {
	if !cfg.Metrics.Enabled {
		return domrepo.NopMetrics{}
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedis connects to Redis when enabled. A nil cache means Redis is off.
func ProvideRedis(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client and the candles table.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, []string{internalrepo.CandlesSchema(cfg.ClickHouse.CandlesTable)}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates the producer shared by the signal sink and the log collector.
// Neither user closes it; the cleanup does, after both are done.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideKafkaConsumer creates a consumer for the candles and outcomes topics.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log.With(applogger.String("component", "kafka_consumer")),
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMemoryStore creates the in-process memory and exports its size as gauges.
func ProvideMemoryStore(cfg *config.Config, log *applogger.Logger) (*memory.Store, error) {
	store := memory.NewStore(cfg.Memory, cfg.Instruments, memory.WithLogger(log.With(applogger.String("component", "memory"))))
	if cfg.Metrics.Enabled {
		if err := prometheus.Register(svcmetrics.NewMemoryCollector(store.Stats)); err != nil {
			return nil, fmt.Errorf("memory collector: %w", err)
		}
	}
	return store, nil
}

// ProvideSnapshotStore picks the persistence backend. Backend "none" disables persistence.
func ProvideSnapshotStore(cfg *config.Config, rc *pkgcache.RedisCache, ch *pkgch.Client) (domrepo.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.Memory.Backend {
	case "file":
		return internalrepo.NewFileSnapshotStore(cfg.Memory.SnapshotPath), noop, nil
	case "redis":
		if rc == nil {
			return nil, nil, fmt.Errorf("memory backend redis: redis is not enabled")
		}
		return internalrepo.NewRedisSnapshotStore(rc), noop, nil
	case "clickhouse":
		if ch == nil {
			return nil, nil, fmt.Errorf("memory backend clickhouse: clickhouse is not enabled")
		}
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		st, err := internalrepo.NewCHSnapshotStore(ctx, ch)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse snapshot store: %w", err)
		}
		return st, noop, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Postgres.Timeout)
		defer cancel()
		st, closeFn, err := internalrepo.NewPGSnapshotStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = closeFn() }, nil
	default:
		return nil, noop, nil
	}
}

// ProvidePersister returns nil when persistence is disabled.
func ProvidePersister(cfg *config.Config, store *memory.Store, backend domrepo.SnapshotStore, log *applogger.Logger, m domrepo.Metrics) *memory.Persister {
	if backend == nil {
		return nil
	}
	return memory.NewPersister(store, backend, cfg.Memory.PersistTimeout,
		memory.WithPersisterLogger(log.With(applogger.String("component", "persister"))),
		memory.WithPersisterMetrics(m),
		memory.WithBreaker(cfg.Memory.Breaker.MaxFailures, cfg.Memory.Breaker.OpenTimeout),
	)
}

// ProvideClaimer dedupes across replicas through Redis when it is available.
func ProvideClaimer(rc *pkgcache.RedisCache) icache.Claimer {
	if rc != nil {
		return icache.NewRedisClaimer(rc)
	}
	return icache.NewTTLCache()
}

func ProvideHub(log *applogger.Logger) *ws.Hub {
	return ws.NewHub(log.With(applogger.String("component", "ws")))
}

// ProvideSinks wraps every configured signal destination in a retrying buffer.
func ProvideSinks(cfg *config.Config, producer *pkgkafka.Producer, hub *ws.Hub, log *applogger.Logger, m domrepo.Metrics) Sinks {
	wrap := func(name string, next domrepo.SignalPublisher) *mid.BufferedPublisher {
		return mid.NewBufferedPublisher(name, next, cfg.Emitter.QueueSize,
			mid.WithBufferLogger(log.With(applogger.String("sink", name))),
			mid.WithBufferMetrics(m))
	}
	sinks := Sinks{wrap("ws", hub)}
	if producer != nil {
		sinks = append(sinks, wrap("kafka", internalrepo.NewKafkaSignalPublisher(producer, cfg.Kafka.SignalsTopic)))
	}
	if cfg.Webhook.URL != "" {
		client := xhttp.NewClient(xhttp.WithTimeout(cfg.Webhook.Timeout))
		sinks = append(sinks, wrap("webhook", internalrepo.NewWebhookPublisher(client, cfg.Webhook.URL)))
	}
	return sinks
}

func ProvideEmitter(cfg *config.Config, claims icache.Claimer, sinks Sinks, log *applogger.Logger, m domrepo.Metrics) *usecase.Emitter {
	pubs := make([]domrepo.SignalPublisher, 0, len(sinks))
	for _, s := range sinks {
		pubs = append(pubs, s)
	}
	return usecase.NewEmitter(claims, cfg.Emitter.Window, log.With(applogger.String("component", "emitter")), m, pubs...)
}

func ProvideAnalyzeUseCase(cfg *config.Config, store *memory.Store, emitter *usecase.Emitter, log *applogger.Logger, m domrepo.Metrics) *usecase.AnalyzeUseCase {
	return usecase.NewAnalyzeUseCase(cfg, store, emitter,
		usecase.WithAnalyzeLogger(log.With(applogger.String("component", "analyze"))),
		usecase.WithAnalyzeMetrics(m))
}

// ProvideCandleStore returns nil when ClickHouse is off.
func ProvideCandleStore(cfg *config.Config, ch *pkgch.Client, log *applogger.Logger) (domrepo.CandleStore, error) {
	if ch == nil {
		return nil, nil
	}
	st, err := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.CandlesTable, log.With(applogger.String("component", "candles")))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ProvideScheduler returns nil without a candle store. It also backs the stored-analysis endpoint.
func ProvideScheduler(cfg *config.Config, candles domrepo.CandleStore, analyze *usecase.AnalyzeUseCase, log *applogger.Logger) *usecase.Scheduler {
	if candles == nil {
		return nil
	}
	return usecase.NewScheduler(candles, analyze, cfg.Analysis.Symbols, cfg.AnalysisTimeframes(),
		cfg.Analysis.Candles, cfg.Analysis.Interval, log.With(applogger.String("component", "scheduler")))
}

func ProvideKafkaHandlers(cfg *config.Config, analyze *usecase.AnalyzeUseCase, store *memory.Store, log *applogger.Logger, m domrepo.Metrics) KafkaHandlers {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return KafkaHandlers{
		usecase.NewKafkaCandlesHandler(cfg.Kafka.CandlesTopic, analyze, log, m),
		usecase.NewKafkaOutcomesHandler(cfg.Kafka.OutcomesTopic, store, log, m),
	}
}

// ProvideHTTPServer registers the engine, health and websocket routes.
func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	analyze *usecase.AnalyzeUseCase,
	store *memory.Store,
	scheduler *usecase.Scheduler,
	persister *memory.Persister,
	hub *ws.Hub,
	rc *pkgcache.RedisCache,
	ch *pkgch.Client,
) *xhttp.Server {
	var opts []api.EngineOption
	if scheduler != nil {
		opts = append(opts, api.WithStoredAnalyzer(scheduler))
	}
	if persister != nil {
		opts = append(opts, api.WithSnapshotSaver(persister))
	}
	if cfg.Server.RateLimit.Enabled {
		rl := ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond)
		opts = append(opts, api.WithRateLimit(rl.Middleware()))
	}
	engine := api.NewEngineHandler(log.With(applogger.String("component", "api")), analyze, store, opts...)

	var checks []api.Check
	if rc != nil {
		checks = append(checks, api.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}})
	}
	if ch != nil {
		checks = append(checks, api.Check{Name: "clickhouse", Fn: ch.Health})
	}

	srvOpts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
	}
	if cfg.Metrics.Enabled {
		srvOpts = append(srvOpts, xhttp.WithMetrics(cfg.Metrics.Path))
	}
	return xhttp.NewServer(log, []xhttp.Handler{engine, api.NewHealthHandler(checks...), hub}, srvOpts...)
}

// logPublisher lets the log collector ship aggregated errors through the Kafka producer.
type logPublisher struct{ p *pkgkafka.Producer }

func (l logPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return l.p.Publish(ctx, topic, nil, payload)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	httpSrv *xhttp.Server,
	emitter *usecase.Emitter,
	persister *memory.Persister,
	scheduler *usecase.Scheduler,
	consumer *pkgkafka.Consumer,
	handlers KafkaHandlers,
	sinks Sinks,
	producer *pkgkafka.Producer,
) *server.App {
	opts := []server.Option{server.WithSinks(sinks...)}
	if persister != nil {
		opts = append(opts, server.WithPersister(persister))
	}
	if scheduler != nil && cfg.Analysis.Schedule {
		opts = append(opts, server.WithScheduler(scheduler))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, handlers...))
	}
	if producer != nil && cfg.Logging.Collector.Enabled {
		// flush aggregated errors while the producer is still open
		opts = append(opts, server.WithDrain(log.RemoveCollector))
	}
	return server.New(cfg, log, httpSrv, emitter, opts...)
}
