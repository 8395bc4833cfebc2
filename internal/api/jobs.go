package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/runtime"
)

type createJobRequest struct {
	TaskUUID           string                 `json:"task_uuid" binding:"required"`
	Input              map[string]any         `json:"input"`
	Priority           string                 `json:"priority"`
	OutputDestinations domain.DestinationList `json:"output_destinations"`
	MaxRetries         int                    `json:"max_retries"`
}

var taskValidator runtime.Validator

// createJob enqueues a Job for an existing Task, enforcing §5's
// back-pressure rule (QueueSoftLimit) and §4.2's input-schema validation
// before the job ever reaches the dispatcher.
func (h *handlers) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}

	task, err := h.svc.Tasks.GetByUUID(c.Request.Context(), req.TaskUUID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !task.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{"kind": domain.KindConflict, "message": "task is disabled"}})
		return
	}

	inputBytes, err := json.Marshal(req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	if h.svc.ExecCfg.ValidateSchemas {
		if verr := taskValidator.ValidateInput(task.InputSchema, inputBytes); verr != nil {
			respondError(c, verr)
			return
		}
	}

	if h.svc.ExecCfg.QueueSoftLimit > 0 {
		queued, err := h.svc.Jobs.CountQueued(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if queued >= h.svc.ExecCfg.QueueSoftLimit {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"kind": domain.KindQueueFull, "message": "job queue is at capacity"},
			})
			return
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	job := &domain.Job{
		TaskID:             task.ID,
		Input:              domain.RawJSON(inputBytes),
		Priority:           domain.ParsePriority(req.Priority),
		Status:             domain.JobQueued,
		MaxRetries:         maxRetries,
		OutputDestinations: req.OutputDestinations,
	}
	if id, ok := c.Get("correlation_id"); ok {
		job.CorrelationID, _ = id.(string)
	}
	if err := h.svc.Jobs.Enqueue(c.Request.Context(), job); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *handlers) listJobs(c *gin.Context) {
	filter := database.JobFilter{
		Status: domain.JobStatus(c.Query("status")),
	}
	page, pageSize := pagingParams(c)
	jobs, err := h.svc.Jobs.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "page": page})
}

func (h *handlers) getJob(c *gin.Context) {
	job, err := h.svc.Jobs.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) retryJob(c *gin.Context) {
	job, err := h.svc.Jobs.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	task, err := h.svc.Tasks.GetByID(c.Request.Context(), job.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}
	next, err := h.svc.Jobs.Retry(c.Request.Context(), job, task.RetryPolicy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, next)
}

func (h *handlers) cancelJob(c *gin.Context) {
	job, err := h.svc.Jobs.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.svc.Jobs.Cancel(c.Request.Context(), job.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
