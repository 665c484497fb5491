package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"QuoteFlow/internal/middleware"
	icache "QuoteFlow/internal/service/cache"
	"QuoteFlow/internal/usecase"
	pkgch "QuoteFlow/pkg/clickhouse"
	"QuoteFlow/pkg/config"
	xhttp "QuoteFlow/pkg/http"
	pkgkafka "QuoteFlow/pkg/kafka"
	applogger "QuoteFlow/pkg/logger"
)

// KafkaHandlers are the topic handlers registered on the consumer.
type KafkaHandlers []pkgkafka.MessageHandler

// Components is everything the app runs or closes. Optional parts are nil when disabled.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Pipeline   *middleware.EventPipeline
	Cycle      *usecase.QuoteCycle
	Collector  *usecase.FeedCollector
	Journal    *usecase.JournalWriter
	Consumer   *pkgkafka.Consumer
	Handlers   KafkaHandlers
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Redis      *icache.RedisCache
	HTTP       *xhttp.Server
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	log := c.Logger
	if log == nil {
		log = applogger.Nop()
	}
	return &App{c: c, log: log.With(applogger.String("component", "app"))}
}

// Run starts every component and blocks until interrupted or ctx is cancelled.
func (a *App) Run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ok, err := a.c.Cycle.RestoreLedger(ctx); err != nil {
		a.log.Warn("ledger restore failed, starting flat", applogger.Error(err))
	} else if !ok {
		a.log.Info("no mirrored ledger, starting flat")
	}

	// The pipeline and journal outlive the feeders so queued work drains on shutdown.
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()
	a.c.Pipeline.Start(pipeCtx)

	var journalWG conc.WaitGroup
	if a.c.Journal != nil {
		journalWG.Go(func() {
			_ = a.c.Journal.Run(pipeCtx)
		})
	}

	var lifecycle conc.WaitGroup
	if a.c.Collector != nil {
		lifecycle.Go(func() {
			if err := a.c.Collector.Run(ctx); err != nil {
				a.log.Error("feed collector stopped", applogger.Error(err))
			}
		})
		a.log.Info("feed collector started", applogger.String("symbol", a.c.Config.Symbol))
	}

	if a.c.Consumer != nil {
		for _, h := range a.c.Handlers {
			if err := a.c.Consumer.RegisterHandler(h); err != nil {
				return a.shutdown(&lifecycle, &journalWG, pipeCancel, err)
			}
		}
		if err := a.c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			return a.shutdown(&lifecycle, &journalWG, pipeCancel, fmt.Errorf("kafka consumer: %w", err))
		}
		a.log.Info("kafka consumer started", applogger.Int("topics", len(a.c.Handlers)))
	}

	if a.c.HTTP != nil {
		lifecycle.Go(func() {
			if err := a.c.HTTP.Run(ctx); err != nil {
				a.log.Error("http server error", applogger.Error(err))
				stop()
			}
		})
	}

	a.log.Info("quoteflow started", applogger.String("symbol", a.c.Config.Symbol), applogger.String("env", a.c.Config.Environment))
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(&lifecycle, &journalWG, pipeCancel, nil)
}

// shutdown stops feeders first, drains the pipeline, flushes the journal and
// closes the infrastructure clients.
func (a *App) shutdown(lifecycle, journalWG *conc.WaitGroup, pipeCancel context.CancelFunc, cause error) error {
	timeout := a.c.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	step := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			a.log.Warn("shutdown step failed", applogger.String("step", name), applogger.Error(err))
			return
		}
		a.log.Debug("shutdown step completed", applogger.String("step", name))
	}

	if a.c.Consumer != nil {
		step("kafka consumer", a.c.Consumer.Stop)
	}
	step("lifecycle goroutines", func(ctx context.Context) error {
		return waitCtx(ctx, lifecycle)
	})
	step("event pipeline", func(context.Context) error {
		a.c.Pipeline.Stop()
		return nil
	})
	pipeCancel()
	step("journal", func(ctx context.Context) error {
		return waitCtx(ctx, journalWG)
	})

	// flushes pending alerts through the producer, so it goes first
	if a.c.Logger != nil {
		a.c.Logger.CloseAlerts()
	}
	if a.c.Producer != nil {
		step("kafka producer", func(context.Context) error { return a.c.Producer.Close() })
	}
	if a.c.ClickHouse != nil {
		step("clickhouse", func(context.Context) error { return a.c.ClickHouse.Close() })
	}
	if a.c.Redis != nil {
		step("redis", func(context.Context) error { return a.c.Redis.Close() })
	}

	a.log.Info("shutdown complete")
	return cause
}

func waitCtx(ctx context.Context, wg *conc.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for goroutines: %w", ctx.Err())
	}
}
