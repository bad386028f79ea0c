// Package server exposes a mesh node over HTTP: the internal mesh API peers
// call, operator endpoints that drive the mesh components, peer status and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/cache"
	"kmesh/pkg/consensus"
	"kmesh/pkg/health"
	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
)

const defaultShutdownTimeout = 10 * time.Second

// Options carries the components a server exposes. Only Node and Dispatcher
// are required; endpoints of absent components answer 503.
type Options struct {
	Node       models.PeerID
	Version    string
	Transport  models.TransportKind
	Backends   []models.BackendKind
	Dispatcher *Dispatcher
	Monitor    *health.Monitor
	Queries    QueryExecutor

	Balancer *balancer.LoadBalancer
	Strategy balancer.Strategy

	Cache     *cache.DistributedCache
	Consensus *consensus.Manager

	Broadcaster *broadcast.Broadcaster
	Federated   *broadcast.FederatedQueryExecutor
	Mode        broadcast.Mode

	Metrics         *metrics.Registry
	ShutdownTimeout time.Duration
}

type Server struct {
	opts    Options
	echo    *echo.Echo
	started time.Time
}

// requestValidator plugs go-playground/validator into echo's Context.Validate.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

func NewServer(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Strategy == "" {
		opts.Strategy = balancer.RoundRobin
	}
	if opts.Mode == "" {
		opts.Mode = broadcast.FirstSuccess
	}

	s := &Server{opts: opts, echo: echo.New(), started: time.Now()}
	s.setupRoutes()
	return s
}

// Handler returns the server as a plain http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	go func() {
		log.Info().
			Str("addr", addr).
			Str("node", s.opts.Node.String()).
			Strs("mesh_paths", s.opts.Dispatcher.Paths()).
			Msg("Starting mesh node server")

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	log.Info().Msg("Server gracefully stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = &requestValidator{validate: validator.New()}

	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
		Skipper: func(c echo.Context) bool {
			// Health probes arrive every few seconds from every peer.
			return c.Path() == models.PathHealth
		},
	}))
	s.echo.Use(middleware.Recover())
	if s.opts.Metrics != nil {
		s.echo.Use(s.metricsMiddleware)
	}

	// Internal mesh API
	for _, path := range s.opts.Dispatcher.Paths() {
		s.echo.POST(path, s.meshHandler(path))
	}

	// Operator API
	s.echo.POST("/api/query", s.localQuery)
	s.echo.POST("/api/route", s.routeQuery)
	s.echo.POST("/api/broadcast", s.broadcastQuery)
	s.echo.POST("/api/federated", s.federatedQuery)
	s.echo.PUT("/api/cache/:key", s.cacheSet)
	s.echo.GET("/api/cache/:key", s.cacheGet)
	s.echo.POST("/api/consensus", s.vote)

	s.echo.GET("/status/node", s.getNodeInfo)
	s.echo.GET("/status/peers", s.peerStatus)
	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}
}

func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.opts.Metrics.HTTPRequestsInFlight.Inc()
		defer s.opts.Metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		s.opts.Metrics.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(c.Response().Status), time.Since(start))
		return nil
	}
}

// fail writes {"error": ...} with the status statusFor derives.
func fail(c echo.Context, err error) error {
	status := statusFor(err)
	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Warn()
	}
	event.Err(err).Str("path", c.Path()).Int("status", status).Msg("Request failed")

	return c.JSON(status, map[string]string{"error": err.Error()})
}
