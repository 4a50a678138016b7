package handler

import (
	"net/http"

	"mentor-crm/internal/model"
	"mentor-crm/internal/service"

	"github.com/gin-gonic/gin"
)

// CronHandler is what the external minute poller talks to.
type CronHandler struct {
	cron *service.CronService
}

func NewCronHandler(cron *service.CronService) *CronHandler {
	return &CronHandler{cron: cron}
}

// POST /api/cron/tick - evaluate every job against the current minute.
// Any failed job body surfaces as a 500 so the poller's health check
// notices, but every job still runs and logs.
func (h *CronHandler) Tick(c *gin.Context) {
	results, err := h.cron.Tick(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := model.CronResponse{Success: true, Results: map[string]any{}}
	status := http.StatusOK
	for _, r := range results {
		entry := map[string]any{"skipped": r.Skipped}
		if r.Reason != "" {
			entry["reason"] = r.Reason
		}
		if r.Detail != nil {
			entry["detail"] = r.Detail
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
			resp.Success = false
			status = http.StatusInternalServerError
		}
		resp.Results[r.Job] = entry
	}
	c.JSON(status, resp)
}

// POST /api/cron/run/:job - run a single job through the same gate.
func (h *CronHandler) RunJob(c *gin.Context) {
	result, err := h.cron.RunJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result.Skipped {
		c.JSON(http.StatusOK, model.CronResponse{Skipped: true, Reason: result.Reason, Success: true})
		return
	}
	if result.Err != nil {
		c.JSON(http.StatusInternalServerError, model.CronResponse{
			Success: false,
			Results: map[string]any{"error": result.Err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, model.CronResponse{Success: true, Results: result.Detail})
}
