package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/picccassso/Ariami-sub003/internal/config"
	"github.com/picccassso/Ariami-sub003/internal/library"
	"github.com/picccassso/Ariami-sub003/internal/metadata"
	"github.com/picccassso/Ariami-sub003/internal/scanner"
	"github.com/picccassso/Ariami-sub003/internal/server"
	"github.com/picccassso/Ariami-sub003/internal/session"
	"github.com/picccassso/Ariami-sub003/internal/transcode"
	"github.com/picccassso/Ariami-sub003/internal/tunnel"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the media server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func runServe() error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	logger = newLogger(cfg)

	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Fatal("Music directory does not exist. Please create it and add your music files.")
	}

	metaCache := metadata.NewCache(cfg.Library.MetadataCacheFile, logger)
	extractor := metadata.NewExtractor(metaCache, logger)
	sc := scanner.New(cfg.Library.SupportedFormats, logger)
	lib := library.NewManager(sc, extractor, metaCache, logger)
	lib.OnProgress(func(p library.ScanProgress) {
		logger.WithFields(logrus.Fields{
			"stage":   p.Stage,
			"percent": int(p.Percent),
		}).Debug(p.Message)
	})

	sessions := session.NewManager(
		time.Duration(cfg.Session.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Session.SweepIntervalSeconds)*time.Second,
		logger,
	)

	store, err := transcode.NewStore(cfg.Transcode.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error opening transcode index")
	}
	defer store.Close()

	transcoder := transcode.NewService(transcode.Config{
		FFmpegPath:    cfg.Transcode.FFmpegPath,
		CacheDir:      cfg.Transcode.CacheDir,
		MaxCacheBytes: cfg.Transcode.MaxCacheMB * 1024 * 1024,
	}, store, logger)

	tun, err := tunnel.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Tunnel not available")
		tun = nil
	}

	srv := server.New(cfg, logger, sc, lib, sessions, transcoder, tun)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	select {
	case sig := <-sigs:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errs:
		if err != nil {
			logger.WithError(err).Error("Server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	srv.Shutdown(ctx)

	if err := metaCache.Save(); err != nil {
		logger.WithError(err).Warn("Could not persist metadata cache")
	}
	return nil
}
