// Package server exposes a running harness session over HTTP: liveness,
// a status snapshot and the run's Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/steploop/internal/harness"
	logs "github.com/danmuck/steploop/internal/logging"
	"github.com/danmuck/steploop/internal/observability"
)

const version = "0.1.0"

// StatusSource is the read side of a session.
type StatusSource interface {
	Snapshot() harness.Status
}

type StatusServer struct {
	addr     string
	source   StatusSource
	metrics  *observability.RunMetrics
	router   *gin.Engine
	appeared time.Time

	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error
}

// New builds the router. Nothing listens until Start.
func New(addr string, source StatusSource, metrics *observability.RunMetrics, logger zerolog.Logger, corsOrigins []string) *StatusServer {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	if metrics != nil {
		r.Use(observability.RequestMetricsMiddleware(metrics))
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{
		addr:     addr,
		source:   source,
		metrics:  metrics,
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *StatusServer) HTTPRouter() *gin.Engine {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status server listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.serveErr <- err
	}()
	logs.Infof("server.StatusServer.Start addr=%s", ln.Addr())
	return nil
}

// Addr is the bound address once started, else the configured one.
func (s *StatusServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-s.serveErr
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
