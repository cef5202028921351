// Package server exposes the harness over WebSocket: one endpoint that
// carries both data-plane envelopes and control-plane requests, plus
// plain HTTP for health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/wsreplay/internal/catalog"
	"github.com/snarg/wsreplay/internal/metrics"
	"github.com/snarg/wsreplay/internal/session"
)

// Options carries the listen and bridging configuration.
type Options struct {
	HTTPAddr    string
	SocketPath  string
	UpstreamURL string

	// IdleTimeout applies to keep-alive waits only; read and write
	// deadlines stay off because websocket connections are long-lived.
	IdleTimeout time.Duration

	Version string
}

type Server struct {
	http *http.Server
	opts Options

	sessions *session.Registry
	catalog  *catalog.Catalog
	upgrader websocket.Upgrader

	unixListener net.Listener
	startTime    time.Time
	log          zerolog.Logger
}

// New builds the router and server. catalog may be nil when the
// recording directory is not watched.
func New(opts Options, sessions *session.Registry, cat *catalog.Catalog, log zerolog.Logger) *Server {
	s := &Server{
		opts:     opts,
		sessions: sessions,
		catalog:  cat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The harness fronts local tooling, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
		log:       log.With().Str("component", "server").Logger(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	r.Get("/", s.handleWS)
	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:        opts.HTTPAddr,
		Handler:     r,
		IdleTimeout: opts.IdleTimeout,
	}
	return s
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on TCP and, when configured, a UNIX socket. Blocks
// until Shutdown.
func (s *Server) Start() error {
	if s.opts.SocketPath != "" {
		// A stale socket file from a crashed process blocks the bind.
		if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale socket %s: %w", s.opts.SocketPath, err)
		}
		l, err := net.Listen("unix", s.opts.SocketPath)
		if err != nil {
			return fmt.Errorf("listen unix %s: %w", s.opts.SocketPath, err)
		}
		s.unixListener = l
		s.log.Info().Str("socket", s.opts.SocketPath).Msg("unix listener starting")
		go func() {
			if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
				s.log.Error().Err(err).Msg("unix listener failed")
			}
		}()
	}

	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops both listeners and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	err := s.http.Shutdown(ctx)
	if s.opts.SocketPath != "" {
		os.Remove(s.opts.SocketPath)
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"version":       s.opts.Version,
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"sessions":      s.sessions.Len(),
	})
}

// handleWS upgrades the connection. A session query parameter binds the
// connection to an existing session; without one the connection is a
// top-level control channel restricted to session management.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var sess *session.Session
	if id := r.URL.Query().Get("session"); id != "" {
		var err error
		sess, err = s.sessions.Get(id)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context dies when this handler returns, so the
	// connection runs on its own context until the peer hangs up.
	c := newWSConn(s, conn, sess)
	c.run(context.Background())
}
