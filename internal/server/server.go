package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/picccassso/Ariami-sub003/internal/config"
	"github.com/picccassso/Ariami-sub003/internal/library"
	"github.com/picccassso/Ariami-sub003/internal/scanner"
	"github.com/picccassso/Ariami-sub003/internal/session"
	"github.com/picccassso/Ariami-sub003/internal/transcode"
	"github.com/picccassso/Ariami-sub003/internal/tunnel"
	"github.com/picccassso/Ariami-sub003/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	serverName    = "ariami"
	serverVersion = "0.3.0"
)

// serverFeatures is advertised to clients at connect time.
var serverFeatures = []string{"streaming", "transcoding", "artwork", "websocket"}

// Server composes the library, sessions, streaming and transcoding behind
// the REST + WebSocket API. It is the only public entry point.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	scanner    *scanner.Scanner
	library    *library.Manager
	sessions   *session.Manager
	transcoder *transcode.Service
	hub        *Hub
	tunnel     *tunnel.Service

	watcher     *fsnotify.Watcher
	rescanMu    sync.Mutex
	rescanTimer *time.Timer

	libUpdates chan *models.Library
	httpServer *http.Server
}

// New wires the server together. Event plumbing (session changes and scan
// completions fanning out to the WebSocket hub) is attached here, before
// anything starts.
func New(
	cfg *config.Config,
	logger *logrus.Logger,
	sc *scanner.Scanner,
	lib *library.Manager,
	sessions *session.Manager,
	transcoder *transcode.Service,
	tun *tunnel.Service,
) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		scanner:    sc,
		library:    lib,
		sessions:   sessions,
		transcoder: transcoder,
		hub:        NewHub(logger),
		tunnel:     tun,
	}

	sessions.OnChange(func(evt session.Event) {
		msgType := msgClientConnected
		if evt.Type == session.EventDisconnected {
			msgType = msgClientDisconnected
		}
		s.hub.Broadcast(msgType, map[string]interface{}{
			"deviceName":       evt.Client.DeviceName,
			"platform":         evt.Client.Platform,
			"connectedClients": evt.Count,
		})
	})

	s.libUpdates = lib.Subscribe()
	go func() {
		for snapshot := range s.libUpdates {
			s.hub.Broadcast(msgLibraryUpdated, map[string]interface{}{
				"songCount":  snapshot.SongCount(),
				"albumCount": len(snapshot.Albums),
				"scannedAt":  snapshot.ScannedAt.Format(time.RFC3339),
			})
		}
	}()

	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/api/disconnect", s.handleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)

	r.HandleFunc("/api/library", s.handleLibrary).Methods(http.MethodGet)
	r.HandleFunc("/api/albums", s.handleAlbums).Methods(http.MethodGet)
	r.HandleFunc("/api/albums/{id}", s.handleAlbumDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/songs", s.handleSongs).Methods(http.MethodGet)
	r.HandleFunc("/api/scan", s.handleScan).Methods(http.MethodPost)

	r.HandleFunc("/api/stream/{songId}", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/download/{songId}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/artwork/{albumId}", s.handleArtwork).Methods(http.MethodGet)

	r.HandleFunc("/api/ws", s.handleWebSocket).Methods(http.MethodGet)

	// Middleware wraps the router itself so CORS preflights are answered
	// uniformly even for paths the router would not match by method.
	return s.recoveryMiddleware(s.corsMiddleware(s.loggingMiddleware(r)))
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	s.sessions.Start()

	if s.cfg.Library.ScanOnStartup {
		if err := s.library.StartScan(s.cfg.Library.Path); err != nil {
			s.logger.WithError(err).Warn("Startup scan not started")
		}
	}

	if s.cfg.Library.WatchForChanges {
		if err := s.startWatcher(); err != nil {
			s.logger.WithError(err).Warn("Could not start file watcher")
		}
	}

	localAddress := fmt.Sprintf("http://%s", s.cfg.GetAddress())
	if s.tunnel != nil {
		if err := s.tunnel.Start(context.Background(), localAddress); err != nil {
			s.logger.WithError(err).Warn("Could not start tunnel")
		}
	}

	s.httpServer = &http.Server{
		Addr:        s.cfg.GetAddress(),
		Handler:     s.routes(),
		ReadTimeout: time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
	}

	s.logger.WithFields(logrus.Fields{
		"address": localAddress,
		"library": s.cfg.Library.Path,
	}).Info("Server starting")
	if url := s.tunnel.PublicURL(); url != "" {
		s.logger.WithField("public_url", url).Info("Server reachable publicly")
	}

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops everything gracefully: clients are told the server is
// going away before the listener closes.
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down server")

	s.hub.Shutdown()
	s.stopWatcher()
	s.sessions.Stop()
	s.library.Unsubscribe(s.libUpdates)
	if err := s.tunnel.Stop(); err != nil {
		s.logger.WithError(err).Warn("Tunnel stop failed")
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Warn("HTTP shutdown did not finish cleanly")
		}
	}

	s.logger.Info("Server shutdown complete")
}
