package metricsserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
)

// MetricsHandler serves the exposition format
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is the metrics listener. It always runs on its own port so scrapes
// never compete with import traffic.
type Server struct {
	srv    *fasthttp.Server
	ln     net.Listener
	logger *zap.Logger
}

// Start binds cfg.Listen and serves cfg.Path from handler. It returns nil
// when metrics are disabled. Bind errors are returned synchronously.
func Start(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	listen, err := configtypes.NormalizeListen(cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics listen address: %w", err)
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener on %s: %w", listen, err)
	}
	return Serve(ln, cfg.Path, handler, logger), nil
}

// Serve runs the metrics server on an existing listener.
func Serve(ln net.Listener, path string, handler MetricsHandler, logger *zap.Logger) *Server {
	s := &Server{
		srv: &fasthttp.Server{
			Handler:            newHandler(path, handler),
			Name:               "RecipeImporter-Metrics",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxRequestBodySize: 1 * 1024,
			TCPKeepalive:       true,
			TCPKeepalivePeriod: 30 * time.Second,
			MaxConnsPerIP:      100,
			Concurrency:        100,
		},
		ln:     ln,
		logger: logger,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", ln.Addr().String()),
			zap.String("path", path))

		if err := s.srv.Serve(ln); err != nil {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	return s
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func newHandler(path string, handler MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != path {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			return
		}
		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(ctx)
	}
}
