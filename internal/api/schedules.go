package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/northcloud/jobforge/internal/domain"
)

var scheduleCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type createScheduleRequest struct {
	TaskUUID           string                 `json:"task_uuid" binding:"required"`
	CronExpression     string                 `json:"cron_expression" binding:"required"`
	Timezone           string                 `json:"timezone"`
	InputTemplate      domain.JSONDoc         `json:"input_template"`
	OutputDestinations domain.DestinationList `json:"output_destinations"`
	Enabled            *bool                  `json:"enabled"`
}

func (h *handlers) resolveNextRun(cronExpr, timezone string, from time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err == nil {
			loc = l
		}
	}
	schedule, err := scheduleCronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from.In(loc)), nil
}

func (h *handlers) createSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	task, err := h.svc.Tasks.GetByUUID(c.Request.Context(), req.TaskUUID)
	if err != nil {
		respondError(c, err)
		return
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	nextRun, err := h.resolveNextRun(req.CronExpression, timezone, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": "invalid cron_expression: " + err.Error()}})
		return
	}
	sched := &domain.Schedule{
		TaskID:             task.ID,
		CronExpression:     req.CronExpression,
		Timezone:           timezone,
		Enabled:            true,
		NextRunAt:          nextRun,
		InputTemplate:      req.InputTemplate,
		OutputDestinations: req.OutputDestinations,
	}
	if req.Enabled != nil {
		sched.Enabled = *req.Enabled
	}
	if err := h.svc.Schedules.Create(c.Request.Context(), sched); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h *handlers) listSchedules(c *gin.Context) {
	page, pageSize := pagingParams(c)
	schedules, err := h.svc.Schedules.List(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "page": page})
}

func (h *handlers) getSchedule(c *gin.Context) {
	sched, err := h.svc.Schedules.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *handlers) updateSchedule(c *gin.Context) {
	sched, err := h.svc.Schedules.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": err.Error()}})
		return
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = sched.Timezone
	}
	if req.CronExpression != "" {
		if _, err := scheduleCronParser.Parse(req.CronExpression); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": domain.KindConfigError, "message": "invalid cron_expression: " + err.Error()}})
			return
		}
		sched.CronExpression = req.CronExpression
	}
	sched.Timezone = timezone
	sched.InputTemplate = req.InputTemplate
	sched.OutputDestinations = req.OutputDestinations
	if err := h.svc.Schedules.Update(c.Request.Context(), sched); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *handlers) deleteSchedule(c *gin.Context) {
	if err := h.svc.Schedules.Delete(c.Request.Context(), c.Param("uuid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// triggerSchedule fires one Job immediately, outside the cron tick, without
// disturbing next_run_at/missed_runs — those belong only to the scheduler's
// own tick (orchestrator.Scheduler).
func (h *handlers) triggerSchedule(c *gin.Context) {
	sched, err := h.svc.Schedules.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	task, err := h.svc.Tasks.GetByID(c.Request.Context(), sched.TaskID)
	if err != nil {
		respondError(c, err)
		return
	}

	inputBytes, err := json.Marshal(map[string]any(sched.InputTemplate))
	if err != nil {
		respondError(c, err)
		return
	}

	job := &domain.Job{
		TaskID:             task.ID,
		Input:              domain.RawJSON(inputBytes),
		Priority:           domain.PriorityNormal,
		Status:             domain.JobQueued,
		ScheduleID:         &sched.ID,
		MaxRetries:         3,
		OutputDestinations: sched.OutputDestinations,
	}
	if err := h.svc.Jobs.Enqueue(c.Request.Context(), job); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *handlers) pauseSchedule(c *gin.Context) {
	sched, err := h.svc.Schedules.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.svc.Schedules.SetEnabled(c.Request.Context(), sched.ID, false); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) resumeSchedule(c *gin.Context) {
	sched, err := h.svc.Schedules.GetByUUID(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.svc.Schedules.SetEnabled(c.Request.Context(), sched.ID, true); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
