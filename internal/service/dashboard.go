package service

import (
	"context"
	"fmt"
	"time"

	"mentor-crm/internal/model"
	"mentor-crm/internal/timeutil"

	"gorm.io/gorm"
)

type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB, loc *time.Location) *DashboardService {
	return &DashboardService{db: db, now: func() time.Time { return time.Now().In(loc) }}
}

func (s *DashboardService) Summary(ctx context.Context) (*model.DashboardSummary, error) {
	db := s.db.WithContext(ctx)
	out := &model.DashboardSummary{}

	counts := []struct {
		dst   *int
		model any
		query string
		args  []any
	}{
		{&out.ActiveMembers, &model.Member{}, "status = ?", []any{model.StatusActive}},
		{&out.OpenLeads, &model.Lead{}, "stage NOT IN ?", []any{[]string{"won", "lost"}}},
		{&out.OpenTasks, &model.Task{}, "status <> ?", []any{model.TaskDone}},
		{&out.ChurnRisk, &model.Member{}, "churn_risk = ? AND status = ?", []any{true, model.StatusActive}},
		{&out.DangerZone, &model.Member{}, "danger_zone = ? AND status = ?", []any{true, model.StatusActive}},
	}
	for _, c := range counts {
		var n int64
		if err := db.Model(c.model).Where(c.query, c.args...).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("dashboard count: %w", err)
		}
		*c.dst = int(n)
	}

	weekStart := timeutil.DateString(timeutil.WeekStart(s.now()))
	var n int64
	if err := db.Model(&model.KpiWeek{}).Where("week_start = ?", weekStart).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("dashboard submissions: %w", err)
	}
	out.SubmissionsWeek = int(n)

	err := db.Where("review_flag = ?", true).Order("updated_at DESC").Limit(10).
		Find(&out.ReviewFlagged).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard flagged: %w", err)
	}

	err = db.Order("created_at DESC").Limit(20).Find(&out.RecentLog).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard log: %w", err)
	}
	return out, nil
}
