package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/models"
)

// CreateTemplate handles POST /api/v1/templates. Re-posting an existing id
// creates the next immutable version. Template authoring needs the
// developer role.
func (s *Server) CreateTemplate(c *gin.Context) {
	if !requireRole(c, models.RoleAgentDeveloper) {
		return
	}

	var req models.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = currentPrincipal(c).ID
	}

	tmpl, err := s.templates.Create(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

// ListTemplates handles GET /api/v1/templates.
func (s *Server) ListTemplates(c *gin.Context) {
	list, err := s.templates.List(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

// GetTemplate handles GET /api/v1/templates/:id, returning the latest
// active version.
func (s *Server) GetTemplate(c *gin.Context) {
	tmpl, err := s.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

// DeactivateTemplate handles DELETE /api/v1/templates/:id. Instances
// pinned to existing versions keep running.
func (s *Server) DeactivateTemplate(c *gin.Context) {
	if !requireRole(c, models.RoleAgentDeveloper) {
		return
	}
	if err := s.templates.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
