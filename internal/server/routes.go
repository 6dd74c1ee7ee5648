package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Subscriber endpoint (websocket upgrade)
	s.echo.GET("/ws/topics/:topic", s.handleSubscribe)

	// Read API
	s.echo.GET("/api/topics/:topic/snapshot", s.handleGetSnapshot)
	s.echo.GET("/api/topics/:topic/options", s.handleGetTopicOptions)
	s.echo.GET("/api/topics/:topic/subscribers", s.handleGetSubscribers)
	s.echo.GET("/api/connections", s.handleGetConnections)

	// Producer API
	s.echo.POST("/api/topics/:topic/events", s.handlePublishEvent)

	// Administrative API
	s.echo.POST("/api/topics/:topic/pending/clear", s.handleClearPending)
	s.echo.POST("/api/topics/:topic/unsubscribe", s.handleUnsubscribeTopic)
	s.echo.POST("/api/admin/flush", s.handleFlush)
	s.echo.POST("/api/admin/optimize", s.handleOptimize)
	s.echo.POST("/api/admin/cleanup", s.handleCleanup)
}
