package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gnom48/miabox-api/internal/broker"
	"github.com/gnom48/miabox-api/internal/config"
	"github.com/gnom48/miabox-api/internal/engine"
	"github.com/gnom48/miabox-api/internal/logger"
	"github.com/gnom48/miabox-api/internal/objectstore"
	"github.com/gnom48/miabox-api/internal/scratch"
	"github.com/gnom48/miabox-api/internal/stages"
	"github.com/gnom48/miabox-api/internal/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	cfg := config.Load()
	cfg.RequireWorker()

	lg := logger.New("worker", cfg.LogLevel)
	lg.WithField("model", cfg.ModelVariant).Info("starting transcription worker")

	br, err := broker.NewClient(cfg.BrokerURL, cfg.Prefetch, config.DialTimeout)
	if err != nil {
		lg.WithError(err).Fatal("failed to connect to broker")
	}
	defer br.Close()

	store, err := objectstore.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		lg.WithError(err).Fatal("failed to create object store client")
	}

	workspace, err := scratch.New(cfg.ScratchDir)
	if err != nil {
		lg.WithError(err).Fatal("failed to prepare scratch workspace")
	}

	// The model is resolved once for the whole process.
	eng, err := engine.New(cfg.WhisperBin, cfg.ModelDir, cfg.ModelVariant)
	if err != nil {
		lg.WithError(err).Fatal("failed to initialize engine")
	}
	lg.Info("engine ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		lg.WithField("signal", sig.String()).Info("received shutdown signal")
		cancel()
	}()

	retrieval := stages.NewRetrieval(store, workspace, br, lg)
	transcription := stages.NewTranscription(eng, workspace, br, cfg.MaxDeliveries, lg)
	consumer := stages.NewConsumer(br, lg)

	errCh := make(chan error, 2)
	go func() {
		errCh <- consumer.Run(ctx, types.QueueQueued, retrieval)
	}()
	go func() {
		errCh <- consumer.Run(ctx, types.QueueProcessing, transcription)
	}()

	if err := <-errCh; err != nil && err != context.Canceled {
		lg.WithError(err).Fatal("worker error")
	}

	lg.Info("worker shutdown complete")
}
