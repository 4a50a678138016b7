package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"mentor-crm/internal/model"
	"mentor-crm/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MemberHandler struct {
	members  *service.MemberService
	tokens   *service.FormTokenService
	feedback *service.FeedbackService
	settings *service.SettingsService
}

func NewMemberHandler(members *service.MemberService, tokens *service.FormTokenService, feedback *service.FeedbackService, settings *service.SettingsService) *MemberHandler {
	return &MemberHandler{members: members, tokens: tokens, feedback: feedback, settings: settings}
}

// POST /api/members
func (h *MemberHandler) Create(c *gin.Context) {
	var req model.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := h.members.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

// GET /api/members?status=&flag=
func (h *MemberHandler) List(c *gin.Context) {
	members, err := h.members.List(c.Request.Context(), c.Query("status"), c.Query("flag"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	c.JSON(http.StatusOK, members)
}

// GET /api/members/:id
func (h *MemberHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	m, err := h.members.Get(c.Request.Context(), id)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// PUT /api/members/:id
func (h *MemberHandler) Update(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req model.MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := h.members.Update(c.Request.Context(), id, req)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// DELETE /api/members/:id - soft delete via status
func (h *MemberHandler) Cancel(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.members.Cancel(c.Request.Context(), id); err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /api/members/:id/flags/:flag/clear
func (h *MemberHandler) ClearFlag(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.members.ClearFlag(c.Request.Context(), id, c.Param("flag")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /api/members/:id/weeks
func (h *MemberHandler) Weeks(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	weeks, err := h.members.Weeks(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if weeks == nil {
		weeks = []model.KpiWeek{}
	}
	c.JSON(http.StatusOK, weeks)
}

// POST /api/members/:id/form-tokens
func (h *MemberHandler) MintToken(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req model.FormTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if _, err := h.members.Get(c.Request.Context(), id); err != nil {
		notFoundOr500(c, err)
		return
	}
	t, err := h.tokens.Mint(c.Request.Context(), id, req.Purpose, time.Duration(req.ExpiresIn)*time.Hour)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// POST /api/members/:id/feedback/send - manual override with coded errors
func (h *MemberHandler) SendFeedback(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	settings, err := h.settings.Get(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	err = h.feedback.SendNow(ctx, id, settings)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, service.ErrAlreadySent),
		errors.Is(err, service.ErrNoWhatsApp),
		errors.Is(err, service.ErrQuietHours),
		errors.Is(err, service.ErrBlocked),
		errors.Is(err, service.ErrNotGenerated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func paramID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
