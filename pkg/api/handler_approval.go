package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/approval"
)

// ListApprovals handles GET /api/v1/approvals: the caller's live pending
// tool calls.
func (s *Server) ListApprovals(c *gin.Context) {
	principal := currentPrincipal(c)
	sess, ok := s.sessions.Lookup(principal.ID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"pending": []*approval.PendingCall{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": sess.Pending().List(principal.ID)})
}

// ApproveCall handles POST /api/v1/approvals/:id/approve.
func (s *Server) ApproveCall(c *gin.Context) {
	s.resolveCall(c, true)
}

// RejectCall handles POST /api/v1/approvals/:id/reject.
func (s *Server) RejectCall(c *gin.Context) {
	s.resolveCall(c, false)
}

// resolveCall validates ownership of the pending call, then resumes the
// parked run in the background: the remaining loop segment can take many
// model turns and must not hold the HTTP request open.
func (s *Server) resolveCall(c *gin.Context, approved bool) {
	principal := currentPrincipal(c)
	pendingID := c.Param("id")

	sess, ok := s.sessions.Lookup(principal.ID)
	if !ok {
		abortWithServiceError(c, approval.ErrPendingNotFound)
		return
	}
	call, err := sess.Pending().Get(pendingID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if call.Principal != principal.ID {
		abortWithServiceError(c, approval.ErrPendingNotFound)
		return
	}
	if !s.pool.Holds(pendingID) {
		abortWithServiceError(c, approval.ErrPendingNotFound)
		return
	}

	go func() {
		var err error
		if approved {
			err = s.pool.Approve(context.Background(), pendingID)
		} else {
			err = s.pool.Reject(context.Background(), pendingID)
		}
		if err != nil {
			slog.Error("failed to resume run after approval decision",
				"pending", pendingID, "approved", approved, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"pending_id": pendingID,
		"approved":   approved,
		"status":     "resuming",
	})
}
