package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/models"
)

// ListMCPServers handles GET /api/v1/mcp/servers, filtered by the role
// visibility table.
func (s *Server) ListMCPServers(c *gin.Context) {
	if s.mux == nil {
		c.JSON(http.StatusOK, gin.H{"servers": []string{}})
		return
	}
	principal := currentPrincipal(c)
	ids := s.mux.VisibleServers(principal.Role)
	inactive := s.mux.Inactive()

	type serverView struct {
		ID       string `json:"id"`
		Active   bool   `json:"active"`
		LastErr  string `json:"last_error,omitempty"`
		ToolsLen int    `json:"tool_count"`
	}
	views := make([]serverView, 0, len(ids))
	for _, id := range ids {
		view := serverView{ID: id, Active: true}
		if reason, down := inactive[id]; down {
			view.Active = false
			view.LastErr = reason
		}
		if descs, err := s.mux.Tools(id); err == nil {
			view.ToolsLen = len(descs)
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"servers": views})
}

// AddMCPServerRequest is the body of POST /api/v1/mcp/servers.
type AddMCPServerRequest struct {
	ID        string `json:"id" binding:"required"`
	Disabled  bool   `json:"disabled"`
	Transport struct {
		Type    string            `json:"type" binding:"required"`
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		URL     string            `json:"url"`
		Env     map[string]string `json:"env"`
		Timeout string            `json:"timeout"`
	} `json:"transport" binding:"required"`
}

// AddMCPServer handles POST /api/v1/mcp/servers: register and connect a
// server at runtime. Admin only.
func (s *Server) AddMCPServer(c *gin.Context) {
	if !requireRole(c, models.RoleAdmin) {
		return
	}
	if s.mux == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mcp support is not configured"})
		return
	}

	var req AddMCPServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := &config.MCPServerConfig{
		Disabled: req.Disabled,
		Transport: config.TransportConfig{
			Type:    config.TransportType(req.Transport.Type),
			Command: req.Transport.Command,
			Args:    req.Transport.Args,
			URL:     req.Transport.URL,
			Env:     req.Transport.Env,
		},
	}
	if req.Transport.Timeout != "" {
		d, err := time.ParseDuration(req.Transport.Timeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transport timeout: " + err.Error()})
			return
		}
		cfg.Transport.Timeout = config.Duration(d)
	}

	if err := s.mux.AddServer(c.Request.Context(), req.ID, cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// RemoveMCPServer handles DELETE /api/v1/mcp/servers/:id. Admin only.
func (s *Server) RemoveMCPServer(c *gin.Context) {
	if !requireRole(c, models.RoleAdmin) {
		return
	}
	if s.mux == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mcp support is not configured"})
		return
	}
	s.mux.RemoveServer(c.Param("id"))
	c.Status(http.StatusNoContent)
}
