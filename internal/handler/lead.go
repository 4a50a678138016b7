package handler

import (
	"net/http"

	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/service"

	"github.com/gin-gonic/gin"
)

type LeadHandler struct {
	leads   *service.LeadService
	members *service.MemberService
}

func NewLeadHandler(leads *service.LeadService, members *service.MemberService) *LeadHandler {
	return &LeadHandler{leads: leads, members: members}
}

// POST /api/leads
func (h *LeadHandler) Create(c *gin.Context) {
	var req model.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	l, err := h.leads.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, l)
}

// GET /api/leads?stage=
func (h *LeadHandler) List(c *gin.Context) {
	leads, err := h.leads.List(c.Request.Context(), c.Query("stage"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	c.JSON(http.StatusOK, leads)
}

// PUT /api/leads/:id
func (h *LeadHandler) Update(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req model.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	l, err := h.leads.Update(c.Request.Context(), id, req)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// POST /api/leads/:id/convert
func (h *LeadHandler) Convert(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	m, err := h.leads.Convert(c.Request.Context(), id, h.members)
	if err != nil {
		notFoundOr500(c, err)
		return
	}
	logger.Info("lead.converted", "lead_id", id, "member_id", m.ID)
	c.JSON(http.StatusOK, m)
}
