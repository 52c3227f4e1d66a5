// Package server is the transport surface of the sync service: a chi
// HTTP API for session bootstrap and request/response sync cycles, a
// gorilla/websocket push channel that delivers flushed messages the
// moment work appears, and the static route for url-addressed
// dependencies.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/treesync/treesync/internal/config"
	"github.com/treesync/treesync/internal/core/observability/log"
	"github.com/treesync/treesync/internal/core/service"
)

// StaticHandlerFactory builds the handler mounted under /static/ that
// serves url-addressed dependencies. Returning nil leaves the route
// unmounted; applications bundling their own assets substitute their
// handler here.
type StaticHandlerFactory func(cfg *config.Config) http.Handler

// DefaultStaticHandler serves files straight from cfg.StaticDir.
func DefaultStaticHandler(cfg *config.Config) http.Handler {
	if cfg.StaticDir == "" {
		return nil
	}
	return http.FileServer(http.Dir(cfg.StaticDir))
}

// Server hosts the HTTP and websocket endpoints of one sync service.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	static http.Handler
	log    log.Log

	httpServer *http.Server
	listener   net.Listener

	running int32 // atomic bool
	closed  int32 // atomic bool

	workerGroup sync.WaitGroup
	stopChan    chan struct{}
}

// New assembles a server around an existing service. The static
// factory may be nil.
func New(cfg *config.Config, svc *service.Service, static StaticHandlerFactory, logger log.Log) *Server {
	if logger == nil {
		logger = log.Nop()
	}

	s := &Server{
		cfg:      cfg,
		svc:      svc,
		log:      logger.With(log.String("component", "server")),
		stopChan: make(chan struct{}),
	}
	if static != nil {
		s.static = static(cfg)
	}
	return s
}

// Start binds the listen address and begins serving. It returns once
// the listener is up; serving continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}
	s.stopChan = make(chan struct{})

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.log.Error("failed to bind listen address", log.String("addr", s.cfg.Addr), log.Error(err))
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:      s.router(),
		WriteTimeout: 0, // push connections stay open, per-write deadlines apply
	}

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("serve failed", log.Error(err))
		}
	}()

	s.log.Info("server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr reports the bound listen address, useful when the configured
// port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the HTTP server, closes every push connection and
// checkpoints the sessions. The context bounds the drain.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.log.Info("stopping server")
	close(s.stopChan)

	err := s.httpServer.Shutdown(ctx)
	s.workerGroup.Wait()

	err = multierr.Append(err, s.svc.Shutdown(ctx))

	s.log.Info("server stopped")
	return err
}

// Close stops the server if needed and makes further Starts fail.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop(context.Background())
	}
	return nil
}
