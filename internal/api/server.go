// Package api exposes the pin-allocation service over HTTP. The
// surface is a small JSON API: session lifecycle, turn processing, and
// direct allocation reads and deletes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ahrav/go-pinwire/internal/application"
	"github.com/ahrav/go-pinwire/internal/domain"
	"github.com/ahrav/go-pinwire/internal/ports"
)

// TurnProcessor is the turn-processing boundary the API depends on.
// It is satisfied by application.TurnPipeline.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID, utterance string) (*application.TurnResult, error)
}

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// messageRequest is the body of a turn-processing request.
type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// Server routes HTTP requests to the session store and turn pipeline.
type Server struct {
	store    ports.SessionStore
	pipeline TurnProcessor
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer builds the HTTP server and its routes.
func NewServer(
	store ports.SessionStore,
	pipeline TurnProcessor,
	logger *zap.Logger,
) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("turn processor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		store:    store,
		pipeline: pipeline,
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", s.handleCreateSession)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.DELETE("/sessions/:id", s.handleDeleteSession)
		v1.POST("/sessions/:id/messages", s.handleMessage)
		v1.GET("/sessions/:id/allocations", s.handleGetAllocations)
		v1.DELETE("/sessions/:id/allocations/:pin", s.handleDeletePin)
	}

	s.router = router
	return s, nil
}

// Handler returns the server's HTTP handler for mounting in an
// http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	sess, err := s.store.Create(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message is required"})
		return
	}

	result, err := s.pipeline.ProcessTurn(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetAllocations(c *gin.Context) {
	sess, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":  sess.ID,
		"allocations": sess.Allocations,
		"devices":     sess.Allocations.DeviceGroups(),
	})
}

func (s *Server) handleDeletePin(c *gin.Context) {
	pin, err := domain.ParsePinID(c.Param("pin"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.store.DeletePin(c.Request.Context(), c.Param("id"), pin); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": string(pin)})
}

// writeError maps domain errors onto HTTP status codes. Unexpected
// errors are logged and reported without internal detail.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
	case errors.Is(err, application.ErrEmptyUtterance):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "upstream request timed out"})
	default:
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// requestLogger logs one line per request with method, path, status,
// and latency.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
