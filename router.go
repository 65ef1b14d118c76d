package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/handler"
	"github.com/limitless/limitless/pkg/llm"
	"github.com/limitless/limitless/pkg/service"
	"github.com/limitless/limitless/pkg/utils"
	"github.com/limitless/limitless/pkg/vectorindex"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int
}

// NewServer opens the database and vector store, builds the model clients
// and wires every service and route.
func NewServer(ctx context.Context, cfg *config.AppConfig) (*Server, error) {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost dev origins only; the engine
	// binds locally.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")
			if !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
	}

	if err := server.SetupRoutes(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// SetupRoutes builds the service graph and registers all API routes.
func (s *Server) SetupRoutes(ctx context.Context) error {
	database, err := db.Open(s.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	index, err := vectorindex.New(s.cfg.VectorStorePath())
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	s.logger.Info("Model providers configured",
		"embedding", s.cfg.Embedding.Provider, "embeddingModel", s.cfg.Embedding.Model,
		"embeddingKey", utils.MaskSensitiveString(s.cfg.Embedding.APIKey),
		"generation", s.cfg.Generation.Provider, "generationModel", s.cfg.Generation.Model,
		"generationKey", utils.MaskSensitiveString(s.cfg.Generation.APIKey))

	embedder, err := llm.NewEmbedder(ctx, s.cfg.Embedding)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	embedder = llm.WithEmbedRetry(llm.WithEmbedTimeout(embedder, 60*time.Second), 3, time.Second)

	generator, err := llm.NewGenerator(ctx, s.cfg.Generation)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	generator = llm.WithGenerateTimeout(generator, 120*time.Second)

	caseService := service.NewCaseService(database, index, embedder, s.cfg)
	convService := service.NewConversationService(database, s.cfg)
	caseService.SetOnCaseDeleted(convService.DeactivateCase)
	queryService := service.NewQueryService(caseService, convService, index, embedder, generator, s.cfg)
	statusService := service.NewStatusService(database, index, embedder, generator, s.cfg)

	apiGroup := s.ginEngine.Group("/api")
	handler.NewCaseHandler(caseService, queryService).RegisterRoutes(apiGroup)
	handler.NewQueryHandler(queryService).RegisterRoutes(apiGroup)
	handler.NewChatHandler(queryService, convService, caseService).RegisterRoutes(apiGroup)
	handler.NewStatusHandler(statusService).RegisterRoutes(apiGroup)

	return nil
}

// Start binds the listener and serves in the background. The server shuts
// down gracefully when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	// LIMITLESS_PORT overrides the configured port.
	port := s.cfg.Port()
	if v := os.Getenv("LIMITLESS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			port = p
		} else {
			s.logger.Warn("Invalid LIMITLESS_PORT value, falling back to config", "value", v)
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Listen first so a busy port fails fast.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = port
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}

	s.logger.Info("API server started", "addr", addr)
	return nil
}
