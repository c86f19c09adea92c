package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"InferCore/internal/domain/repository"
	"InferCore/internal/service/cache"
	"InferCore/internal/service/feed"
	"InferCore/internal/services/features"
	"InferCore/internal/usecase"
	pkgch "InferCore/pkg/clickhouse"
	"InferCore/pkg/config"
	xhttp "InferCore/pkg/http"
	"InferCore/pkg/logger"
)

// Deps carries everything the application lifecycle owns.
type Deps struct {
	Config      *config.Config
	Log         *logger.Logger
	Handler     xhttp.Handler
	Metrics     repository.Metrics
	Aggregator  *usecase.BatchAggregator
	Pipeline    *usecase.Pipeline
	Features    *features.Engine
	Feed        *feed.Client // nil when disabled
	CacheEngine *cache.Engine
	Queue       repository.EventQueue
	Sink        repository.ResultSink
	Archive     repository.ResultArchive
	ClickHouse  *pkgch.Client // nil when disabled
}

// App encapsulates the application lifecycle: background loops, the HTTP
// server, and ordered shutdown.
type App struct {
	deps       Deps
	httpServer *xhttp.Server
}

func New(deps Deps) *App {
	return &App{deps: deps}
}

// Run starts everything and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := a.deps.Config
	log := a.deps.Log

	// Events accepted before the last shutdown resume batching here.
	if err := a.deps.Aggregator.Recover(ctx); err != nil {
		return err
	}

	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		if err := a.deps.Aggregator.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("aggregator stopped", logger.Error(err))
		}
	}()
	go func() {
		defer loops.Done()
		if err := a.deps.Pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("pipeline stopped", logger.Error(err))
		}
	}()
	go func() {
		defer loops.Done()
		if err := a.deps.Features.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("feature engine stopped", logger.Error(err))
		}
	}()
	if a.deps.Feed != nil {
		go a.runFeed(ctx)
	}
	loops.Add(1)
	go func() {
		defer loops.Done()
		a.publishCacheStats(ctx)
	}()

	a.httpServer = xhttp.NewServer(a.deps.Handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	log.Info("application started", logger.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	cancel()
	// The aggregator's final flush and the pipeline's in-flight dispatches
	// must finish before their stores close.
	loops.Wait()
	return a.shutdown()
}

// publishCacheStats refreshes the cache gauges on the cleanup cadence.
func (a *App) publishCacheStats(ctx context.Context) {
	ticker := time.NewTicker(a.deps.Config.Cache.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.deps.CacheEngine.Stats(ctx)
			a.deps.Metrics.SetCacheStats(s.HitRate, s.EntryCount, s.MemoryBytes)
		}
	}
}

// runFeed pumps upstream feed events into the aggregator, reconnecting on
// connection loss until the context ends.
func (a *App) runFeed(ctx context.Context) {
	log := a.deps.Log
	f := a.deps.Feed

	if err := f.Connect(ctx); err != nil {
		log.Error("feed connect failed", logger.Error(err))
	} else if err := f.Subscribe(ctx); err != nil {
		log.Error("feed subscribe failed", logger.Error(err))
	}

	for ctx.Err() == nil {
		if !f.IsConnected() {
			if err := f.Reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("feed reconnect failed", logger.Error(err))
				continue
			}
		}

		events, errs := f.Read(ctx)
		for e := range events {
			if _, err := a.deps.Aggregator.Enqueue(ctx, e); err != nil {
				log.Warn("feed event dropped", logger.Error(err))
				continue
			}
			a.deps.Features.Observe(e)
		}
		if err, ok := <-errs; ok && err != nil && ctx.Err() == nil {
			log.Warn("feed stream broke", logger.Error(err))
		}
		_ = f.Close()
	}
}

// shutdown stops components in dependency order: ingress first, sinks last.
func (a *App) shutdown() error {
	cfg := a.deps.Config
	log := a.deps.Log

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.Warn("http shutdown error", logger.Error(err))
	}
	if a.deps.Feed != nil {
		if err := a.deps.Feed.Close(); err != nil {
			log.Warn("feed close error", logger.Error(err))
		}
	}

	// The aggregator flushed its open batches when its context ended; sinks
	// and stores close after all producers are gone.
	if err := a.deps.Sink.Close(); err != nil {
		log.Warn("result sink close error", logger.Error(err))
	}
	if err := a.deps.Archive.Close(); err != nil {
		log.Warn("archive close error", logger.Error(err))
	}
	if a.deps.ClickHouse != nil {
		if err := a.deps.ClickHouse.Close(); err != nil {
			log.Warn("clickhouse close error", logger.Error(err))
		}
	}
	if err := a.deps.CacheEngine.Close(); err != nil {
		log.Warn("cache close error", logger.Error(err))
	}
	if err := a.deps.Queue.Close(); err != nil {
		log.Warn("event queue close error", logger.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}
