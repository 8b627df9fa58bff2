package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/leadstream/leadstream/internal/config"
	"github.com/leadstream/leadstream/internal/gateway"
	"github.com/leadstream/leadstream/internal/health"
	"github.com/leadstream/leadstream/internal/registry"
	"github.com/leadstream/leadstream/internal/validator"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	gateway   *gateway.Gateway
	validator *validator.Validator
	registry  *registry.Registry
	monitor   *health.Monitor
	clock     clockwork.Clock
	upgrader  websocket.Upgrader

	heartbeatInterval time.Duration

	// redisClient is nil when no event feed is configured; readiness then
	// skips the redis check.
	redisClient *goredis.Client
}

func NewServer(cfg *config.Config, gw *gateway.Gateway, val *validator.Validator, reg *registry.Registry, monitor *health.Monitor, redisClient *goredis.Client, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		gateway:   gw,
		validator: val,
		registry:  reg,
		monitor:   monitor,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards embed the feed from other origins
			},
		},
		heartbeatInterval: heartbeatInterval,
		redisClient:       redisClient,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Server starting", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
