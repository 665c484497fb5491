package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/handler/api"
	mid "QuoteFlow/internal/middleware"
	internalrepo "QuoteFlow/internal/repository"
	icache "QuoteFlow/internal/service/cache"
	svcmetrics "QuoteFlow/internal/service/metrics"
	"QuoteFlow/internal/service/ratelimit"
	"QuoteFlow/internal/service/stream"
	"QuoteFlow/internal/services/quote"
	"QuoteFlow/internal/services/risk"
	"QuoteFlow/internal/services/signal"
	"QuoteFlow/internal/usecase"
	pkgch "QuoteFlow/pkg/clickhouse"
	"QuoteFlow/pkg/config"
	xhttp "QuoteFlow/pkg/http"
	pkgkafka "QuoteFlow/pkg/kafka"
	"QuoteFlow/pkg/logger"
	"QuoteFlow/pkg/metrics"
	"QuoteFlow/pkg/server"
)

// ProvideLogger creates the root logger. With a producer and alerts enabled,
// warnings and errors are also aggregated and published to Kafka. The collector
// is attached here, before any component derives a child logger from it.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if a := cfg.Logging.Alerts; a.Enabled && producer != nil {
		l.EnableAlerts(&logger.AlertConfig{
			Topic:       a.Topic,
			Symbol:      cfg.Symbol,
			Interval:    a.Interval,
			MaxDistinct: a.CountThreshold,
			Publisher:   producer,
		})
	}
	return l.With(logger.String("symbol", cfg.Symbol)), nil
}

// ProvideRegistry creates the Prometheus registry shared by every collector.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideQuoteMetrics creates the signal, decision and inventory gauges.
func ProvideQuoteMetrics(reg *prometheus.Registry) repository.QuoteMetrics {
	return svcmetrics.NewQuoteMetrics(reg)
}

// ProvideSignalEngine creates the signal engine.
func ProvideSignalEngine(cfg *config.Config) (*signal.Engine, error) {
	s := cfg.Signal
	return signal.NewEngine(signal.Config{
		DecayTau:           s.DecayTau,
		VolatilityTau:      s.VolatilityTau,
		FillTau:            s.FillTau,
		TWAPWindow:         s.TWAPWindow,
		TWAPMaxSamples:     s.TWAPMaxSamples,
		MomentumWindow:     s.MomentumWindow,
		DepthLevels:        s.DepthLevels,
		NormVolScale:       s.NormVolScale,
		FillScale:          s.FillScale,
		AggressiveSlide:    s.AggressiveSlide,
		AggressiveFill:     s.AggressiveFill,
		DeviationThreshold: s.DeviationThreshold,
	})
}

// ProvideQuoteManager creates the quote layer manager.
func ProvideQuoteManager(cfg *config.Config) (*quote.Manager, error) {
	q := cfg.Quote
	return quote.NewManager(quote.Config{
		MinSpread:    q.MinSpread,
		VolSpreadK:   q.VolSpreadK,
		SkewFraction: q.SkewFraction,
		BaseSize:     q.BaseSize,
		VolSizeK:     q.VolSizeK,
		FillSizeK:    q.FillSizeK,
		MinSize:      q.MinSize,
		MaxSize:      q.MaxSize,
		TickSize:     q.TickSize,
	})
}

// ProvideRiskManager creates the risk manager and its ledger.
func ProvideRiskManager(cfg *config.Config) (*risk.Manager, error) {
	return risk.NewManager(risk.Config{
		MaxLong:    cfg.Risk.MaxLong,
		MaxShort:   cfg.Risk.MaxShort,
		MaxLoss:    cfg.Risk.MaxLoss,
		KillSwitch: cfg.Risk.KillSwitch,
	})
}

// ProvideMarketMaker assembles the quoting core.
func ProvideMarketMaker(
	cfg *config.Config,
	engine *signal.Engine,
	quotes *quote.Manager,
	rm *risk.Manager,
	log *logger.Logger,
	m repository.Metrics,
	qm repository.QuoteMetrics,
) *usecase.MarketMaker {
	return usecase.NewMarketMaker(cfg.Symbol, engine, quotes, rm, log, m, qm)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:          k.Brokers,
		RequiredAcks:     k.RequiredAcks,
		Compression:      k.Compression,
		MaxAttempts:      k.Producer.MaxAttempts,
		WriteTimeout:     k.Producer.WriteTimeout,
		ReadTimeout:      k.Producer.ReadTimeout,
		BatchSize:        k.Producer.BatchSize,
		BatchBytes:       int64(k.Producer.BatchBytes),
		Linger:           k.Producer.Linger,
		Async:            k.Producer.Async,
		AutoCreateTopics: k.AutoCreate,
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideQuotePublisher publishes quote sets to Kafka, or nil without a producer.
func ProvideQuotePublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.QuotePublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaQuotePublisher(producer, cfg.Kafka.Topics.Quotes, cfg.Symbol)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	c := cfg.ClickHouse
	client, err := pkgch.NewClient(pkgch.Config{
		Host:         c.Host,
		Port:         c.Port,
		Database:     c.Database,
		User:         c.User,
		Password:     c.Password,
		UseHTTP:      c.UseHTTP,
		AsyncInsert:  c.AsyncInsert,
		WaitForAsync: c.WaitForAsync,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		MaxExecTime:  c.MaxExecutionTime,
		PingWait:     c.PingWait,
		MaxOpenConns: c.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideJournal creates the ClickHouse journal and its tables.
func ProvideJournal(client *pkgch.Client) (repository.Journal, error) {
	if client == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", client.Database()),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	j := internalrepo.NewClickHouseJournal(client.DB(), client.Database())
	if err := j.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return j, nil
}

// ProvideJournalWriter batches journal rows, or nil without a journal.
func ProvideJournalWriter(cfg *config.Config, journal repository.Journal, m repository.Metrics, log *logger.Logger) *usecase.JournalWriter {
	if journal == nil {
		return nil
	}
	return usecase.NewJournalWriter(journal, cfg.Symbol, cfg.ClickHouse.BatchSize, cfg.ClickHouse.BatchTimeout, m, log)
}

// ProvideRedisCache connects to Redis, or returns nil when mirroring is disabled.
func ProvideRedisCache(cfg *config.Config) (*icache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc := icache.NewRedisCache(icache.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideStateMirror mirrors snapshot and ledger into Redis, or nil without Redis.
func ProvideStateMirror(cfg *config.Config, rc *icache.RedisCache) repository.StateMirror {
	if rc == nil {
		return nil
	}
	return icache.NewStateMirror(rc, cfg.Redis.Prefix, cfg.Symbol, cfg.Redis.SnapshotTTL)
}

// ProvideFillPolicy maps cycle.fill_policy.
func ProvideFillPolicy(cfg *config.Config) (usecase.FillPolicy, error) {
	return usecase.ParseFillPolicy(cfg.Cycle.FillPolicy)
}

// ProvideQuoteCycle creates the per-event quoting loop.
func ProvideQuoteCycle(
	cfg *config.Config,
	mm *usecase.MarketMaker,
	pub repository.QuotePublisher,
	jw *usecase.JournalWriter,
	mirror repository.StateMirror,
	policy usecase.FillPolicy,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.QuoteCycle {
	return usecase.NewQuoteCycle(mm, pub, jw, mirror, ratelimit.New(), policy, usecase.CycleConfig{
		PublishBurst:  cfg.Cycle.PublishBurst,
		PublishRate:   cfg.Cycle.PublishRate,
		RequoteOnly:   cfg.Cycle.RequoteOnly,
		SnapshotEvery: cfg.ClickHouse.SnapshotEvery,
	}, m, log)
}

// ProvideEventPipeline creates the single-consumer event queue in front of the cycle.
func ProvideEventPipeline(cfg *config.Config, cycle *usecase.QuoteCycle, m repository.Metrics, log *logger.Logger) *mid.EventPipeline {
	return mid.NewEventPipeline(cycle, m,
		mid.WithBufferSize(cfg.Cycle.QueueSize),
		mid.WithLogger(log),
	)
}

// ProvideMarketStream creates the websocket market data stream, or nil when disabled.
func ProvideMarketStream(cfg *config.Config, log *logger.Logger) repository.MarketStream {
	if !cfg.Stream.Enabled {
		return nil
	}
	return stream.New(stream.Config{
		URL:          cfg.Stream.URL,
		Subscribe:    cfg.Stream.Subscribe,
		PingInterval: cfg.Stream.PingInterval,
		ReadTimeout:  cfg.Stream.ReadTimeout,
		BufferSize:   cfg.Stream.BufferSize,
	}, log)
}

// ProvideFeedCollector drives the stream into the pipeline, or nil without a stream.
func ProvideFeedCollector(cfg *config.Config, ms repository.MarketStream, pipe *mid.EventPipeline, m repository.Metrics, log *logger.Logger) *usecase.FeedCollector {
	if ms == nil {
		return nil
	}
	return usecase.NewFeedCollector(ms, pipe, m, log, cfg.Stream.ReconnectInitial, cfg.Stream.ReconnectMax)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, m repository.Metrics, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     kc.GroupID,
		StartLatest: kc.AutoOffsetReset == "latest",
		MinBytes:    kc.MinBytes,
		MaxBytes:    kc.MaxBytes,
		DLQTopic:    kc.DLQTopic,
		Retry: pkgkafka.RetryPolicy{
			MaxRetries:      kc.RetryMax,
			InitialInterval: kc.BackoffMin,
			MaxInterval:     kc.BackoffMax,
			Retryable:       usecase.RetryableKafkaError,
		},
	},
		pkgkafka.WithConsumerLogger(log),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerHook(usecase.KafkaMetricsHook(m, log)),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideKafkaHandlers registers the market data and fill topics.
func ProvideKafkaHandlers(
	cfg *config.Config,
	pipe *mid.EventPipeline,
	cycle *usecase.QuoteCycle,
	m repository.Metrics,
	log *logger.Logger,
) server.KafkaHandlers {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return server.KafkaHandlers{
		usecase.NewKafkaEventsHandler(cfg.Kafka.Topics.Events, pipe, m, cfg.Kafka.Consumer.SubmitWait),
		usecase.NewKafkaFillsHandler(cfg.Kafka.Topics.Fills, cycle, m, log),
	}
}

// ProvideHTTPHandler creates the market maker API.
func ProvideHTTPHandler(
	log *logger.Logger,
	mm *usecase.MarketMaker,
	cycle *usecase.QuoteCycle,
	pipe *mid.EventPipeline,
	journal repository.Journal,
	collector *usecase.FeedCollector,
) *api.MarketMakerEchoHandler {
	var feed api.FeedStatusSource
	if collector != nil {
		feed = collector
	}
	return api.NewMarketMakerEchoHandler(log, mm, cycle, pipe, journal, feed)
}

// ProvideHTTPServer creates the Echo server, or nil when disabled.
func ProvideHTTPServer(cfg *config.Config, h *api.MarketMakerEchoHandler, reg *prometheus.Registry, log *logger.Logger) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithRegistry(reg),
		xhttp.WithMetricsEndpoint(cfg.Metrics.Enabled),
	}
	return xhttp.NewServer(h, log, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(c server.Components) *server.App {
	return server.New(c)
}
