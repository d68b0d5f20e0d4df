// Package api is the HTTP surface of the platform: templates, spawning,
// instance lifecycle, approvals, session settings, MCP server admin, and
// the event catch-up reads. Authentication happens upstream; handlers
// trust the principal headers the proxy injects.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/database"
	"github.com/kestrelops/kestrel/pkg/mcp"
	"github.com/kestrelops/kestrel/pkg/queue"
	"github.com/kestrelops/kestrel/pkg/services"
	"github.com/kestrelops/kestrel/pkg/session"
	"github.com/kestrelops/kestrel/pkg/spawn"
)

// Server holds the handler dependencies.
type Server struct {
	templates *services.TemplateService
	instances *services.InstanceService
	events    *services.EventService
	spawner   *spawn.Spawner
	pool      *queue.RunnerPool
	sessions  *session.Store
	mux       *mcp.Multiplexer
	db        *database.Client // nil in memory-store mode
}

// NewServer creates an API server. db and mux may be nil when the
// deployment runs without PostgreSQL or MCP servers.
func NewServer(
	templates *services.TemplateService,
	instances *services.InstanceService,
	events *services.EventService,
	spawner *spawn.Spawner,
	pool *queue.RunnerPool,
	sessions *session.Store,
	mux *mcp.Multiplexer,
	db *database.Client,
) *Server {
	return &Server{
		templates: templates,
		instances: instances,
		events:    events,
		spawner:   spawner,
		pool:      pool,
		sessions:  sessions,
		mux:       mux,
		db:        db,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Healthz)

	v1 := router.Group("/api/v1")
	v1.Use(principalMiddleware())
	{
		v1.POST("/templates", s.CreateTemplate)
		v1.GET("/templates", s.ListTemplates)
		v1.GET("/templates/:id", s.GetTemplate)
		v1.DELETE("/templates/:id", s.DeactivateTemplate)

		v1.POST("/spawn", s.Spawn)

		v1.GET("/instances", s.ListInstances)
		v1.GET("/instances/:id", s.GetInstance)
		v1.POST("/instances/:id/cancel", s.CancelInstance)
		v1.GET("/instances/:id/events", s.ListInstanceEvents)

		v1.GET("/approvals", s.ListApprovals)
		v1.POST("/approvals/:id/approve", s.ApproveCall)
		v1.POST("/approvals/:id/reject", s.RejectCall)

		v1.GET("/session", s.GetSession)
		v1.PUT("/session/sandbox", s.SetSandbox)
		v1.PUT("/session/mode", s.SetApprovalMode)

		v1.GET("/mcp/servers", s.ListMCPServers)
		v1.POST("/mcp/servers", s.AddMCPServer)
		v1.DELETE("/mcp/servers/:id", s.RemoveMCPServer)
	}

	return router
}

// Healthz reports platform health: the worker pool and, when configured,
// the database.
func (s *Server) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy"}
	healthy := true

	if s.pool != nil {
		poolHealth := s.pool.Health(ctx)
		body["pool"] = poolHealth
		healthy = healthy && poolHealth.Healthy
	}
	if s.db != nil {
		dbHealth, err := database.Health(ctx, s.db.DB())
		body["database"] = dbHealth
		if err != nil {
			healthy = false
			body["error"] = err.Error()
		}
	}
	if s.mux != nil {
		if inactive := s.mux.Inactive(); len(inactive) > 0 {
			body["mcp_inactive"] = inactive
		}
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
