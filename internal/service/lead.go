package service

import (
	"context"
	"fmt"

	"mentor-crm/internal/model"

	"gorm.io/gorm"
)

type LeadService struct{ db *gorm.DB }

func NewLeadService(db *gorm.DB) *LeadService { return &LeadService{db: db} }

func (s *LeadService) Create(ctx context.Context, req model.LeadRequest) (*model.Lead, error) {
	l := model.Lead{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Source: req.Source,
		Notes:  req.Notes,
	}
	if req.Stage != "" {
		l.Stage = req.Stage
	}
	if err := s.db.WithContext(ctx).Create(&l).Error; err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return &l, nil
}

func (s *LeadService) List(ctx context.Context, stage string) ([]model.Lead, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	var leads []model.Lead
	if err := q.Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return leads, nil
}

func (s *LeadService) Update(ctx context.Context, id int, req model.LeadRequest) (*model.Lead, error) {
	var l model.Lead
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, fmt.Errorf("lead %d: %w", id, err)
	}
	updates := map[string]any{
		"name": req.Name, "email": req.Email, "phone": req.Phone,
		"source": req.Source, "notes": req.Notes,
	}
	if req.Stage != "" {
		updates["stage"] = req.Stage
	}
	if err := s.db.WithContext(ctx).Model(&l).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return &l, nil
}

// Convert turns a won lead into a member and links the two records.
// Converting twice returns the existing member.
func (s *LeadService) Convert(ctx context.Context, id int, members *MemberService) (*model.Member, error) {
	var l model.Lead
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, fmt.Errorf("lead %d: %w", id, err)
	}
	if l.MemberID != nil {
		return members.Get(ctx, *l.MemberID)
	}
	if l.Email == "" {
		return nil, fmt.Errorf("lead has no email")
	}

	m, err := members.Create(ctx, model.MemberRequest{
		Name:  l.Name,
		Email: l.Email,
		Phone: l.Phone,
	})
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(&l).
		Updates(map[string]any{"member_id": m.ID, "stage": "won"}).Error
	if err != nil {
		return nil, fmt.Errorf("link lead: %w", err)
	}
	return m, nil
}
