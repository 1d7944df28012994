package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gnom48/miabox-api/internal/broker"
	"github.com/gnom48/miabox-api/internal/completion"
	"github.com/gnom48/miabox-api/internal/config"
	"github.com/gnom48/miabox-api/internal/database"
	"github.com/gnom48/miabox-api/internal/engine"
	"github.com/gnom48/miabox-api/internal/httpserver"
	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/producer"
	"github.com/gnom48/miabox-api/internal/stages"
	"github.com/gnom48/miabox-api/internal/taskqueue"
	"github.com/gnom48/miabox-api/internal/types"
)

const legacyQueueCapacity = 64

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg := config.Load()
	cfg.RequireAPI()

	lg := logger.New("api", cfg.LogLevel)
	lg.Info("starting transcription api tier")

	db, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		lg.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	br, err := broker.NewClient(cfg.BrokerURL, cfg.Prefetch, config.DialTimeout)
	if err != nil {
		lg.WithError(err).Fatal("failed to connect to broker")
	}
	defer br.Close()

	// The legacy in-process variant shares the engine and completion store
	// with the broker pipeline.
	eng, err := engine.New(cfg.WhisperBin, cfg.ModelDir, cfg.ModelVariant)
	if err != nil {
		lg.WithError(err).Fatal("failed to initialize engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		lg.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
	}()

	tasks := taskqueue.New(legacyQueueCapacity, eng, db, lg)
	go func() {
		_ = tasks.Run(ctx)
	}()

	consumer := stages.NewConsumer(br, lg)
	completer := completion.New(db, lg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run(ctx, types.QueueComplete, completer)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpserver.NewServer(producer.New(br, lg), tasks, lg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	lg.WithField("addr", cfg.ListenAddr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.WithError(err).Fatal("http server error")
	}

	if err := <-errCh; err != nil && err != context.Canceled {
		lg.WithError(err).Fatal("completion consumer error")
	}

	lg.Info("api shutdown complete")
}
