// Package server exposes the distribution engine over HTTP: a websocket
// subscribe endpoint, a read API for snapshots and connection state, a
// producer endpoint for update events, and administrative operations.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/catalog"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/config"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/engine"
	apperrors "github.com/AlfredMungaMbaru/polling-station-sub000/internal/errors"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/platform/correlation"
	wstransport "github.com/AlfredMungaMbaru/polling-station-sub000/internal/transport/websocket"
)

// ReadinessCheck reports whether one dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	engine    *engine.Engine
	channels  *wstransport.Factory
	labels    catalog.Source
	upgrader  websocket.Upgrader
	readiness map[string]ReadinessCheck
}

// NewServer wires the engine and its supporting services into an echo
// instance. labels may be nil when no option catalog is configured.
func NewServer(cfg *config.Config, eng *engine.Engine, channels *wstransport.Factory, labels catalog.Source, readiness map[string]ReadinessCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(correlationMiddleware())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:     e,
		config:   cfg,
		engine:   eng,
		channels: channels,
		labels:   labels,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		readiness: readiness,
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// correlationMiddleware tags every request context with a correlation ID so
// handler logs can be tied together.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := correlation.WithID(req.Context(), correlation.NewID())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
