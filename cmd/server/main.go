package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"go-extractor/internal/config"
	"go-extractor/internal/extract"
	httppkg "go-extractor/internal/http"
	"go-extractor/internal/registry"
	"go-extractor/internal/scrape"
	"go-extractor/internal/service"
	"go-extractor/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	engine := extract.NewEngine(
		cfg.Workers,
		scrape.NewRobotsFetcher(cfg.FetchTimeout(), cfg.UserAgent),
		scrape.NewSitemapFinder(cfg.FetchTimeout(), cfg.UserAgent),
		scrape.NewSiteScraper(cfg.FetchTimeout(), cfg.UserAgent),
		scrape.NewKeywordPrefilter(cfg.FetchTimeout(), cfg.UserAgent),
		store,
		reg,
		log,
	)
	engine.Start(ctx)

	svc := service.New(ctx, reg, store, engine, cfg.PollInterval(), log)
	server := httppkg.NewServer(svc, log)

	go func() {
		log.Info("server listening", zap.String("addr", cfg.Listen))
		if err := server.Start(cfg.Listen); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	engine.Stop()
	cancel()
	log.Info("server exited")
}

// storeCloser is what main needs from either store implementation.
type storeCloser interface {
	service.Store
	extract.StatusStore
	Close() error
}

func openStore(cfg config.Config, log *zap.Logger) (storeCloser, error) {
	if cfg.DBPath == "" {
		log.Info("no db_path configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	return storage.Open(cfg.DBPath)
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return zapCfg.Build()
}
