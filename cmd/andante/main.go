package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"andante/internal/auth"
	"andante/internal/config"
	"andante/internal/hub"
	"andante/internal/library"
	"andante/internal/persist"
	"andante/internal/playback"
	"andante/internal/server"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "./config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Fatal("Music directory does not exist. Please create it and add your music files.")
	}

	lib, err := library.NewStore(cfg.Library.Path, cfg.Library.SupportedFormats)
	if err != nil {
		logger.WithError(err).Fatal("Error opening music library")
	}

	keys, err := auth.NewStore(cfg.Auth.KeysFile)
	if err != nil {
		logger.WithError(err).Fatal("Error opening API key store")
	}

	notifications := hub.New()
	machine := playback.NewMachine()

	// Resume the last queue, if enabled and a snapshot exists.
	var snapshots *persist.Store
	if cfg.Playback.ResumeLastQueue {
		snapshots, err = persist.NewStore(cfg.Persistence.Path)
		if err != nil {
			logger.WithError(err).Fatal("Error opening snapshot store")
		}
		defer snapshots.Close()

		if state, ok, err := snapshots.Load(lib); err != nil {
			logger.WithError(err).Warn("Could not load saved queue, starting empty")
		} else if ok {
			machine.Restore(state)
			logger.WithFields(logrus.Fields{
				"queue_length": len(state.Queue),
				"revision":     state.Revision,
			}).Info("Resumed last queue")
		}
	}

	serializer := playback.NewSerializer(machine, notifications, cfg.Playback.QueueDepth, cfg.DedupWindow())
	defer serializer.Close()

	// The snapshot saver is just another (coalescing) hub subscriber.
	if snapshots != nil {
		_, updates := notifications.Subscribe()
		go func() {
			for st := range updates {
				if err := snapshots.Save(st); err != nil {
					logger.WithError(err).Warn("Failed to save queue snapshot")
				}
			}
		}()
	}

	playbackServer, err := server.NewPlaybackServer(cfg, lib, keys, serializer, notifications)
	if err != nil {
		logger.WithError(err).Fatal("Error creating playback server")
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := playbackServer.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-c

	logger.Info("Received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	playbackServer.Shutdown(ctx)
}
