package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mediafetch/internal/api"
	"mediafetch/internal/catalog"
	"mediafetch/internal/config"
	"mediafetch/internal/fetch"
	fileutil "mediafetch/internal/file"
	"mediafetch/internal/quota"
	"mediafetch/internal/task"
	"mediafetch/internal/upload"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	store, err := quota.OpenStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open usage store")
	}
	defer func() { _ = store.Close() }()

	ledger, err := quota.NewLedger(store, cfg.Limits())
	if err != nil {
		log.Fatal().Err(err).Msg("init quota ledger")
	}

	manager := buildTaskManager(cfg, ledger)
	uploader, err := upload.NewUploader(ledger, cfg.DataDir, cfg.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("init uploader")
	}

	router := setupRouter()
	apiHandler := api.NewAPI(manager, uploader, ledger, catalog.NewClient(cfg.CatalogBaseURL))
	apiHandler.RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("mediafetch listening")

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildTaskManager(cfg config.Config, ledger *quota.Ledger) *task.Manager {
	fetcher := fetch.NewService(fetch.Options{
		Dir:            cfg.DataDir,
		AttemptTimeout: cfg.FetchTimeout(),
	})
	m := task.NewManager(ledger, fetcher.Fetch, task.Options{
		DataDir:          cfg.DataDir,
		FetchConcurrency: cfg.FetchConcurrency,
		FetchAttempts:    cfg.FetchAttempts,
	})
	if err := m.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("restore task snapshots failed")
	}
	return m
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !m.WaitAll(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
