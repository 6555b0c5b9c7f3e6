package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/handler"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/pkg/metrics"
	"gitlab.com/transcodeuz/media-engine/pkg/rabbitmq"
	"gitlab.com/transcodeuz/media-engine/tools/ffmpeg"
	"gitlab.com/transcodeuz/media-engine/tools/ncm"
	"gitlab.com/transcodeuz/media-engine/tools/storage"
	"gitlab.com/transcodeuz/media-engine/tools/supervisor"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, "media_engine")
	defer func() { _ = log.Sync() }()

	log.Info("new configuration and logger is setup...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rbMQ, err := rabbitmq.New(&cfg, log)
	if err != nil {
		log.Error("Error while creating rabbitMq object...", logger.Error(err))
		return
	}

	// We need to close the channel if we have opened it
	defer rbMQ.Channel.Close()

	fileStorage := storage.NewFileStorage(&cfg, log)
	log.Info("storage is created...")

	ff := ffmpeg.NewFFmpeg(&cfg, log)
	if version, err := ff.CheckVersion(ctx); err != nil {
		log.Warn("ffmpeg is not usable, jobs will fail until it is installed", logger.Error(err))
	} else {
		log.Info("transcoder is created...", logger.String("version", version))
	}

	profiles := transcoder.NewProfileCache()
	metrics.RecordProfile(ff.RefreshProfile(ctx, profiles))

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", logger.String("addr", cfg.MetricsAddr))
	}

	handlerObj := handler.NewHandler(handler.Options{
		Config:       &cfg,
		Log:          log,
		LocalStorage: fileStorage,
		Transcoder:   ff,
		Profiles:     profiles,
		Supervisor:   supervisor.New(supervisor.OptionsFromConfig(&cfg), log),
		Decryptor:    ncm.NewDecryptor(&cfg, log),
		Publisher:    rbMQ,
		Consumer:     rbMQ,
	})

	if err := handlerObj.ListenNotifications(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("stopped listening", logger.Error(err))
	}
}
