package service

import (
	"context"
	"fmt"

	"mentor-crm/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type MemberService struct{ db *gorm.DB }

func NewMemberService(db *gorm.DB) *MemberService { return &MemberService{db: db} }

func (s *MemberService) Create(ctx context.Context, req model.MemberRequest) (*model.Member, error) {
	m := model.Member{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Targets: toJSONMap(req.Targets),
	}
	if req.Status != "" {
		m.Status = req.Status
	}
	if req.FeedbackStyle != "" {
		m.FeedbackStyle = req.FeedbackStyle
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}
	return &m, nil
}

func (s *MemberService) Get(ctx context.Context, id int) (*model.Member, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, fmt.Errorf("member %d: %w", id, err)
	}
	return &m, nil
}

// List returns members, optionally filtered by status or flag name.
func (s *MemberService) List(ctx context.Context, status, flag string) ([]model.Member, error) {
	q := s.db.WithContext(ctx).Order("name")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	switch flag {
	case "churn_risk", "danger_zone", "review_flag", "upsell_candidate":
		q = q.Where(flag+" = ?", true)
	}
	var members []model.Member
	if err := q.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *MemberService) Update(ctx context.Context, id int, req model.MemberRequest) (*model.Member, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"name":  req.Name,
		"email": req.Email,
		"phone": req.Phone,
	}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if req.FeedbackStyle != "" {
		updates["feedback_style"] = req.FeedbackStyle
	}
	if req.Targets != nil {
		updates["targets"] = toJSONMap(req.Targets)
	}
	if err := s.db.WithContext(ctx).Model(m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}
	return s.Get(ctx, id)
}

// Cancel soft-deletes by status; rows are never removed.
func (s *MemberService) Cancel(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Model(&model.Member{}).
		Where("id = ?", id).
		Update("status", model.StatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("cancel member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearFlag lets an admin reset an automation flag after review.
func (s *MemberService) ClearFlag(ctx context.Context, id int, flag string) error {
	switch flag {
	case "churn_risk", "danger_zone", "review_flag", "upsell_candidate":
	default:
		return fmt.Errorf("unknown flag %q", flag)
	}
	err := s.db.WithContext(ctx).Model(&model.Member{}).
		Where("id = ?", id).
		Update(flag, false).Error
	if err != nil {
		return fmt.Errorf("clear flag: %w", err)
	}
	return nil
}

func (s *MemberService) Weeks(ctx context.Context, memberID int) ([]model.KpiWeek, error) {
	var weeks []model.KpiWeek
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("week_start DESC").
		Find(&weeks).Error
	if err != nil {
		return nil, fmt.Errorf("list weeks: %w", err)
	}
	return weeks, nil
}

func toJSONMap(in map[string]float64) datatypes.JSONMap {
	if in == nil {
		return nil
	}
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}
