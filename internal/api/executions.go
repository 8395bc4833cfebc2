package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
)

func (h *handlers) listExecutions(c *gin.Context) {
	filter := database.ExecutionFilter{
		Status: domain.ExecutionStatus(c.Query("status")),
	}
	page, pageSize := pagingParams(c)
	executions, err := h.svc.Executions.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions, "page": page})
}

func (h *handlers) getExecution(c *gin.Context) {
	execution, err := h.svc.Executions.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *handlers) cancelExecution(c *gin.Context) {
	execution, err := h.svc.Executions.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.svc.Executions.Cancel(c.Request.Context(), execution.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
