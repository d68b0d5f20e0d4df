package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/models"
)

// GetSession handles GET /api/v1/session: the caller's runtime settings.
func (s *Server) GetSession(c *gin.Context) {
	sess := s.sessions.Get(currentPrincipal(c))
	root, _ := sess.Sandbox()
	c.JSON(http.StatusOK, gin.H{
		"sandbox_root":  root,
		"approval_mode": sess.Mode(),
	})
}

// SetSandboxRequest is the body of PUT /api/v1/session/sandbox.
type SetSandboxRequest struct {
	Root string `json:"root" binding:"required"`
}

// SetSandbox handles PUT /api/v1/session/sandbox. A rejected root leaves
// the previous binding untouched.
func (s *Server) SetSandbox(c *gin.Context) {
	var req SetSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess := s.sessions.Get(currentPrincipal(c))
	if err := sess.SetSandbox(req.Root); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	root, _ := sess.Sandbox()
	c.JSON(http.StatusOK, gin.H{"sandbox_root": root})
}

// SetModeRequest is the body of PUT /api/v1/session/mode.
type SetModeRequest struct {
	Mode models.ApprovalMode `json:"mode" binding:"required"`
}

// SetApprovalMode handles PUT /api/v1/session/mode.
func (s *Server) SetApprovalMode(c *gin.Context) {
	var req SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode != models.ModeRequireApproval && req.Mode != models.ModeTrust {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown approval mode"})
		return
	}

	sess := s.sessions.Get(currentPrincipal(c))
	sess.SetMode(req.Mode)
	c.JSON(http.StatusOK, gin.H{"approval_mode": sess.Mode()})
}
