package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"andante/internal/auth"
	"andante/internal/config"
	"andante/internal/hub"
	"andante/internal/library"
	"andante/internal/playback"
	"andante/internal/tunnel"

	"github.com/sirupsen/logrus"
)

// PlaybackServer ties the auth gate, track store, command serializer, hub and
// streaming gateway together behind one HTTP surface.
type PlaybackServer struct {
	config     *config.Config
	logger     *logrus.Logger
	library    *library.Store
	keys       *auth.Store
	serializer *playback.Serializer
	hub        *hub.Hub
	watcher    *library.Watcher
	tunnel     *tunnel.Service
	httpServer *http.Server
}

// NewPlaybackServer creates a new server instance around already-constructed
// collaborators.
func NewPlaybackServer(cfg *config.Config, lib *library.Store, keys *auth.Store, ser *playback.Serializer, h *hub.Hub) (*PlaybackServer, error) {
	logger := logrus.New()
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	tun, err := tunnel.NewService(&cfg.Ngrok)
	if err != nil {
		logger.WithError(err).Warn("Remote tunnel not available")
		tun = nil
	}

	return &PlaybackServer{
		config:     cfg,
		logger:     logger,
		library:    lib,
		keys:       keys,
		serializer: ser,
		hub:        h,
		tunnel:     tun,
	}, nil
}

// Handler builds the full route table wrapped in the middleware chain.
// Exposed separately from Start so tests can drive it with httptest.
func (ps *PlaybackServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated surface.
	mux.HandleFunc("/", ps.handleHome)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(ps.config.Server.StaticDir))))
	mux.HandleFunc("/health", ps.handleHealthCheck)

	// Everything below requires a valid API key.
	mux.Handle("/stream/", ps.requireKey(http.HandlerFunc(ps.handleStreamTrack)))
	mux.Handle("/events", ps.requireKey(http.HandlerFunc(ps.handleEvents)))
	mux.Handle("/api/tracks", ps.requireKey(http.HandlerFunc(ps.handleGetTracks)))
	mux.Handle("/api/command", ps.requireKey(http.HandlerFunc(ps.handleCommand)))
	mux.Handle("/api/player/state", ps.requireKey(http.HandlerFunc(ps.handleGetPlayerState)))
	mux.Handle("/api/me", ps.requireKey(http.HandlerFunc(ps.handleMe)))

	var handler http.Handler = mux
	handler = ps.corsMiddleware(handler)
	handler = ps.requestLoggingMiddleware(handler)
	handler = ps.panicRecoveryMiddleware(handler)
	return handler
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (ps *PlaybackServer) Start() error {
	if ps.config.Library.WatchForChanges {
		watcher, err := library.NewWatcher(ps.library)
		if err != nil {
			ps.logger.WithError(err).Warn("Could not start library watcher")
		} else {
			ps.watcher = watcher
		}
	}

	localAddress := fmt.Sprintf("http://%s", ps.config.GetAddress())
	ps.logger.WithFields(logrus.Fields{
		"address":      localAddress,
		"library_path": ps.config.Library.Path,
	}).Info("Andante server starting")

	if ps.tunnel != nil {
		if err := ps.tunnel.Start(context.Background(), localAddress); err != nil {
			ps.logger.WithError(err).Warn("Could not start remote tunnel")
		}
	}

	ps.httpServer = &http.Server{
		Addr:        ps.config.GetAddress(),
		Handler:     ps.Handler(),
		ReadTimeout: time.Duration(ps.config.Server.ReadTimeout) * time.Second,
	}

	err := ps.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and its collaborators.
func (ps *PlaybackServer) Shutdown(ctx context.Context) {
	ps.logger.Info("Shutting down playback server")

	if ps.watcher != nil {
		ps.watcher.Stop()
	}
	if ps.tunnel != nil {
		ps.tunnel.Stop()
	}
	if ps.httpServer != nil {
		if err := ps.httpServer.Shutdown(ctx); err != nil {
			ps.logger.WithError(err).Warn("HTTP shutdown did not complete cleanly")
		}
	}

	ps.logger.Info("Playback server shutdown complete")
}

// handleHome serves the player page from the configured static dir.
func (ps *PlaybackServer) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(ps.config.Server.StaticDir, "index.html"))
}
