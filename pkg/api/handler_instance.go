package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/models"
)

// Spawn handles POST /api/v1/spawn: instantiate a template as a queued
// instance. The worker pool picks it up asynchronously.
func (s *Server) Spawn(c *gin.Context) {
	var req models.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := s.spawner.Spawn(c.Request.Context(), currentPrincipal(c), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, inst)
}

// ListInstances handles GET /api/v1/instances: the caller's instances,
// newest first.
func (s *Server) ListInstances(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := s.instances.ListByPrincipal(c.Request.Context(), currentPrincipal(c).ID, limit)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": list})
}

// GetInstance handles GET /api/v1/instances/:id.
func (s *Server) GetInstance(c *gin.Context) {
	inst, err := s.loadVisibleInstance(c)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if inst == nil {
		return
	}
	c.JSON(http.StatusOK, inst)
}

// CancelInstance handles POST /api/v1/instances/:id/cancel. A running
// instance gets its context cancelled; a queued or awaiting one moves to
// cancelled directly.
func (s *Server) CancelInstance(c *gin.Context) {
	inst, err := s.loadVisibleInstance(c)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if inst == nil {
		return
	}

	if inst.Status == models.StatusRunning {
		if s.pool != nil && s.pool.CancelRun(inst.ID) {
			c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
			return
		}
		// Not active on this pool (stale row or remote pod); fall through
		// to a direct transition, which the state machine may reject.
	}

	cancelled, err := s.instances.Transition(c.Request.Context(), inst.ID, models.StatusCancelled, nil)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelled)
}

// ListInstanceEvents handles GET /api/v1/instances/:id/events: the
// catch-up read over the append-only log. ?root=true widens the read to
// the whole ancestry; ?after_id resumes past a known event.
func (s *Server) ListInstanceEvents(c *gin.Context) {
	inst, err := s.loadVisibleInstance(c)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if inst == nil {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	filter := models.EventFilter{
		InstanceID: inst.ID,
		AfterID:    c.Query("after_id"),
		Limit:      limit,
	}
	if c.Query("root") == "true" {
		filter = models.EventFilter{
			RootID:  inst.RootID,
			AfterID: filter.AfterID,
			Limit:   filter.Limit,
		}
	}

	events, err := s.events.List(c.Request.Context(), filter)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// loadVisibleInstance loads :id and enforces ownership: principals see
// their own instances; admins see all. A nil instance with nil error
// means the request was already answered.
func (s *Server) loadVisibleInstance(c *gin.Context) (*models.Instance, error) {
	inst, err := s.instances.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	principal := currentPrincipal(c)
	if inst.PrincipalID != principal.ID && !principal.Role.AtLeast(models.RoleAdmin) {
		// Hidden rather than forbidden, matching template scope behavior.
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
		return nil, nil
	}
	return inst, nil
}
