package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/proxy/admin/handlers"
	"github.com/julienstroheker/mavrelay/proxy/admin/middleware"
)

// DefaultAddr is used when Options.Addr is empty
const DefaultAddr = "127.0.0.1:9090"

// Server is the admin HTTP server
type Server struct {
	server *http.Server
	addr   string
	logger *logging.Logger
}

// Options configures the admin server
type Options struct {
	Addr string

	// Status backs /endpoints
	Status handlers.StatusProvider

	// Registry backs /metrics; admin request metrics are registered on it
	Registry *prometheus.Registry

	Logger *logging.Logger
}

// NewServer creates the admin server. It fails only when the admin metrics
// cannot be registered.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	httpMetrics := middleware.NewHTTPMetrics()
	for _, c := range httpMetrics.PrometheusCollectors() {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler)
	mux.HandleFunc("/endpoints", handlers.NewEndpointsHandler(opts.Status))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	// Chain middleware: Telemetry -> Logger -> Metrics -> mux
	var handler http.Handler = mux
	handler = middleware.Metrics(httpMetrics)(handler)
	handler = middleware.Logger(opts.Logger)(handler)
	handler = middleware.Telemetry(handler)

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		logger: opts.Logger,
	}, nil
}

// ListenAndServe starts the server. It returns nil after Shutdown or Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Admin server listening", logging.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.server.Close()
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
