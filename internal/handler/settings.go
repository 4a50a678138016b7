package handler

import (
	"net/http"

	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/service"

	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	settings  *service.SettingsService
	dashboard *service.DashboardService
}

func NewSettingsHandler(settings *service.SettingsService, dashboard *service.DashboardService) *SettingsHandler {
	return &SettingsHandler{settings: settings, dashboard: dashboard}
}

// GET /api/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

// PUT /api/settings
func (h *SettingsHandler) Update(c *gin.Context) {
	var req model.SystemSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	s, err := h.settings.Update(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Info("settings.updated")
	c.JSON(http.StatusOK, s)
}

// GET /api/dashboard
func (h *SettingsHandler) Dashboard(c *gin.Context) {
	sum, err := h.dashboard.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}
