// Package thttp serves HTTP on top of a context-driven task tree
package thttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ridge/ddp/tlog"
	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"go.uber.org/zap"
)

const gracefulShutdownTimeout = 5 * time.Second

// Server wraps an HTTP server
type Server struct {
	listener net.Listener
	handler  http.Handler
	active   sync.WaitGroup
}

// NewServer creates a Server
func NewServer(listener net.Listener, handler http.Handler) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
	}
}

// Run serves requests until ctx is closed, then shuts down gracefully,
// waiting for up to gracefulShutdownTimeout for requests in progress
func (s *Server) Run(ctx context.Context) error {
	ctx = tlog.With(ctx, zap.Stringer("httpServer", s.listener.Addr()))
	logger := tlog.Get(ctx)

	// Requests outlive ctx by the shutdown timeout
	reqCtx, reqCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer reqCancel()

	server := &http.Server{
		Handler:           s.track(s.handler),
		ErrorLog:          must.OK1(zap.NewStdLogAt(logger, zap.WarnLevel)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return reqCtx },
		ConnContext: func(ctx context.Context, conn net.Conn) context.Context {
			return tlog.With(ctx, zap.Stringer("remoteAddr", conn.RemoteAddr()))
		},
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("serve", parallel.Fail, func(ctx context.Context) error {
			logger.Info("Serving requests")
			err := server.Serve(s.listener)
			// Serve reports a requested shutdown as ErrServerClosed
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		})
		spawn("shutdown", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(reqCtx, gracefulShutdownTimeout)
			defer cancel()
			defer server.Close()

			if err := server.Shutdown(shutdownCtx); err != nil && shutdownCtx.Err() != nil {
				logger.Info("Shutdown canceled", zap.Error(err))
				return err
			}
			reqCancel()
			s.active.Wait()

			logger.Info("Shutdown complete")
			return ctx.Err()
		})
		return nil
	})
}

// ListenAddr returns the local address of the server's listener
func (s *Server) ListenAddr() net.Addr {
	return s.listener.Addr()
}

// track keeps shutdown waiting for handlers, including those of hijacked
// connections
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.active.Add(1)
		defer s.active.Done()
		next.ServeHTTP(w, r)
	})
}
