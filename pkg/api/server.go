// Package api implements the HTTP surface of spec.md §6: the
// view-model read endpoints over executions/steps/tool-calls/stage-
// results/chat, the SSE stream, and the write endpoints (chat post,
// step confirm/reject, cancel). Grounded on the teacher's pkg/api
// (dependency-injected *Server, handler-per-concern files,
// mapServiceError-style error translation), rewritten against Gin —
// the framework the teacher's own go.mod and cmd/tarsy/main.go actually
// use, not the Echo v5 the teacher's pkg/api was (inconsistently)
// written against.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/pkg/chat"
	"github.com/haasonsaas/playbookengine/pkg/config"
	"github.com/haasonsaas/playbookengine/pkg/eventlog"
	"github.com/haasonsaas/playbookengine/pkg/store"
	"github.com/haasonsaas/playbookengine/pkg/stream"
	"github.com/haasonsaas/playbookengine/pkg/version"
)

// Server is the HTTP API server: a thin, dependency-injected wrapper
// around the already-genuine domain packages (pkg/store, pkg/eventlog,
// pkg/stream, pkg/chat). It owns no domain logic of its own.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	client    *ent.Client
	tasks     *store.TaskStore
	events    *eventlog.EventLog
	projector *stream.Projector
	chat      *chat.Service
	stream    *config.StreamConfig
	jwt       *config.JWTConfig
}

// New constructs a Server and registers all routes.
func New(
	client *ent.Client,
	tasks *store.TaskStore,
	events *eventlog.EventLog,
	projector *stream.Projector,
	chatSvc *chat.Service,
	streamCfg *config.StreamConfig,
	jwtCfg *config.JWTConfig,
) *Server {
	if streamCfg == nil {
		streamCfg = &config.StreamConfig{}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		client:    client,
		tasks:     tasks,
		events:    events,
		projector: projector,
		chat:      chatSvc,
		stream:    streamCfg,
		jwt:       jwtCfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) signingKey() string {
	if s.jwt == nil || s.jwt.SigningKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.jwt.SigningKeyEnv)
}

func (s *Server) setupRoutes() {
	s.engine.Use(corsMiddleware(s.stream.AllowedOrigins))
	s.engine.GET("/health", s.healthHandler)

	ws := s.engine.Group("/workspaces/:wid")
	ws.Use(authMiddleware(s.jwt, s.signingKey()))
	{
		ex := ws.Group("/executions")
		ex.GET("", s.listExecutions)
		ex.GET("/:eid", s.getExecution)
		ex.GET("/:eid/steps", s.listSteps)
		ex.GET("/:eid/tool-calls", s.listToolCalls)
		ex.GET("/:eid/stage-results", s.listStageResults)
		ex.GET("/:eid/chat", s.listChat)
		ex.GET("/:eid/stream", s.streamExecution)
		ex.POST("/:eid/chat", s.postChat)
		ex.POST("/:eid/steps/:sid/confirm", s.confirmStep)
		ex.POST("/:eid/steps/:sid/reject", s.rejectStep)
		ex.POST("/:eid/cancel", s.cancelExecution)

		ws.GET("/threads/:tid/bundle", s.threadBundle)
	}
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allowSet[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowSet["*"] || allowSet[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestTimeout bounds every handler's downstream work.
const requestTimeout = 30 * time.Second
