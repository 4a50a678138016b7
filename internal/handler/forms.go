package handler

import (
	"net/http"

	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/service"

	"github.com/gin-gonic/gin"
)

// FormHandler serves the public, token-gated member forms. No JWT here;
// the single-use token in the query string is the whole authorization.
type FormHandler struct {
	tokens   *service.FormTokenService
	kpi      *service.KpiService
	settings *service.SettingsService
}

func NewFormHandler(tokens *service.FormTokenService, kpi *service.KpiService, settings *service.SettingsService) *FormHandler {
	return &FormHandler{tokens: tokens, kpi: kpi, settings: settings}
}

// POST /api/forms/weekly-kpi?token=...
func (h *FormHandler) WeeklyKpi(c *gin.Context) {
	var req model.WeeklyKpiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.Actuals) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no actuals submitted"})
		return
	}

	ctx := c.Request.Context()
	// validate before consuming: a malformed body must not burn the token
	t, err := h.tokens.Consume(ctx, c.Query("token"), model.PurposeWeeklyKpi)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.settings.Get(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	week, err := h.kpi.SubmitWeekly(ctx, t.MemberID, req, settings)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("form.weekly_kpi", "member_id", t.MemberID, "week_start", week.WeekStart)
	c.JSON(http.StatusOK, week)
}

// POST /api/forms/onboarding?token=...
func (h *FormHandler) Onboarding(c *gin.Context) {
	var req model.OnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	t, err := h.tokens.Consume(ctx, c.Query("token"), model.PurposeOnboarding)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	m, err := h.kpi.CompleteOnboarding(ctx, t.MemberID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("form.onboarding", "member_id", t.MemberID)
	c.JSON(http.StatusOK, m)
}

// POST /api/forms/kpi-setup?token=...
func (h *FormHandler) KpiSetup(c *gin.Context) {
	var req model.KpiSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	for metric, v := range req.Targets {
		if v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target " + metric + " is negative"})
			return
		}
	}

	ctx := c.Request.Context()
	t, err := h.tokens.Consume(ctx, c.Query("token"), model.PurposeKpiSetup)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	m, err := h.kpi.CompleteKpiSetup(ctx, t.MemberID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Info("form.kpi_setup", "member_id", t.MemberID)
	c.JSON(http.StatusOK, m)
}
