package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/northcloud/jobforge/internal/database"
	"github.com/northcloud/jobforge/internal/domain"
)

// createTaskRequest is a minimal view struct, not a generated OpenAPI model
// (DTO shape fidelity is out of scope per spec.md §1).
type createTaskRequest struct {
	Name         string         `json:"name" binding:"required"`
	Description  string         `json:"description"`
	Version      string         `json:"version"`
	ScriptSource string         `json:"script_source"`
	InputSchema  domain.JSONDoc `json:"input_schema" binding:"required"`
	OutputSchema domain.JSONDoc `json:"output_schema" binding:"required"`
	Metadata     domain.JSONDoc `json:"metadata"`
	Enabled      *bool          `json:"enabled"`
}

func (h *handlers) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	task := &domain.Task{
		Name: req.Name, Description: req.Description, Version: req.Version,
		ScriptSource: req.ScriptSource, InputSchema: req.InputSchema,
		OutputSchema: req.OutputSchema, Metadata: req.Metadata, Enabled: true,
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.Version == "" {
		task.Version = "1"
	}
	if err := task.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	if err := h.svc.Tasks.Create(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *handlers) listTasks(c *gin.Context) {
	filter := database.TaskFilter{
		NameContains: c.Query("name_contains"),
		SourceType:   c.Query("source_type"),
	}
	if v := c.Query("enabled"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Enabled = &b
		}
	}
	page, pageSize := pagingParams(c)
	tasks, err := h.svc.Tasks.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "page": page})
}

func (h *handlers) getTask(c *gin.Context) {
	task, err := h.svc.Tasks.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *handlers) updateTask(c *gin.Context) {
	existing, err := h.svc.Tasks.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if existing.RegistrySource {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{"kind": domain.KindConflict, "message": "registry-sourced tasks are read-only through this surface"},
		})
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	existing.Name, existing.Description, existing.Version = req.Name, req.Description, req.Version
	existing.ScriptSource, existing.InputSchema, existing.OutputSchema = req.ScriptSource, req.InputSchema, req.OutputSchema
	existing.Metadata = req.Metadata
	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if err := existing.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	if err := h.svc.Tasks.Update(c.Request.Context(), existing); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (h *handlers) deleteTask(c *gin.Context) {
	task, err := h.svc.Tasks.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if task.RegistrySource {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{"kind": domain.KindConflict, "message": "registry-sourced tasks are read-only through this surface"},
		})
		return
	}
	if err := h.svc.Tasks.Delete(c.Request.Context(), c.Param("uuid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pagingParams reads 1-based page/limit query params, defaulting to page 1,
// 20 per page (spec.md's Open Question resolution: 1-based pagination).
func pagingParams(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		pageSize = v
	}
	return page, pageSize
}
