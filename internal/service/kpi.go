package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"mentor-crm/internal/automation"
	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/timeutil"

	"gorm.io/gorm"
)

// KpiService handles the weekly submission form and the member setup
// forms. One KpiWeek row exists per (member, week start); a second
// submission in the same week updates it.
type KpiService struct {
	db       *gorm.DB
	feedback *FeedbackService

	now       func() time.Time
	randDelay func(minMin, maxMin int) time.Duration
}

func NewKpiService(db *gorm.DB, feedback *FeedbackService, loc *time.Location) *KpiService {
	return &KpiService{
		db:       db,
		feedback: feedback,
		now:      func() time.Time { return time.Now().In(loc) },
		randDelay: func(minMin, maxMin int) time.Duration {
			if maxMin <= minMin {
				return time.Duration(minMin) * time.Minute
			}
			return time.Duration(minMin+rand.Intn(maxMin-minMin+1)) * time.Minute
		},
	}
}

func (s *KpiService) SubmitWeekly(ctx context.Context, memberID int, req model.WeeklyKpiRequest, settings model.SystemSettings) (*model.KpiWeek, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, memberID).Error; err != nil {
		return nil, fmt.Errorf("member %d: %w", memberID, err)
	}

	now := s.now()
	weekStart := timeutil.DateString(timeutil.WeekStart(now))
	actuals := toJSONMap(req.Actuals)

	var week model.KpiWeek
	err := s.db.WithContext(ctx).
		Where("member_id = ? AND week_start = ?", memberID, weekStart).
		First(&week).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		week = model.KpiWeek{
			MemberID:   memberID,
			WeekStart:  weekStart,
			Actuals:    actuals,
			Feeling:    req.Feeling,
			Reflection: req.Reflection,
		}
		if err := s.db.WithContext(ctx).Create(&week).Error; err != nil {
			return nil, fmt.Errorf("insert kpi week: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("query kpi week: %w", err)
	default:
		updates := map[string]any{
			"actuals":    actuals,
			"feeling":    req.Feeling,
			"reflection": req.Reflection,
		}
		if err := s.db.WithContext(ctx).Model(&week).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update kpi week: %w", err)
		}
		week.Actuals = actuals
		week.Feeling = req.Feeling
		week.Reflection = req.Reflection
	}

	// anomaly check runs before any feedback generation and blocks it
	if reasons := automation.Anomalies(req.Actuals); len(reasons) > 0 {
		s.markAnomaly(ctx, &m, &week, reasons)
		return s.reload(ctx, week.ID)
	}

	if week.AIFeedbackSent || week.AIFeedbackBlocked {
		return s.reload(ctx, week.ID)
	}

	text, err := s.feedback.Generate(ctx, &m, &week)
	if err != nil {
		// submission stands; feedback can be regenerated manually
		logger.Warn("kpi.feedback generation failed", "member_id", m.ID, "err", err)
		return s.reload(ctx, week.ID)
	}
	if text == "" {
		return s.reload(ctx, week.ID)
	}

	sendAt := now.Add(s.randDelay(settings.FeedbackMinDelayMin, settings.FeedbackMaxDelayMin))
	updates := map[string]any{
		"ai_feedback_text":         text,
		"ai_feedback_style":        m.FeedbackStyle,
		"ai_feedback_scheduled_at": sendAt,
		"ai_feedback_sent":         false,
	}
	if err := s.db.WithContext(ctx).Model(&model.KpiWeek{}).Where("id = ?", week.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("schedule feedback: %w", err)
	}
	logger.Info("kpi.submitted", "member_id", m.ID, "week_start", weekStart, "feedback_at", sendAt)
	return s.reload(ctx, week.ID)
}

func (s *KpiService) markAnomaly(ctx context.Context, m *model.Member, week *model.KpiWeek, reasons []string) {
	db := s.db.WithContext(ctx)
	if err := db.Model(&model.KpiWeek{}).Where("id = ?", week.ID).
		Update("ai_feedback_blocked", true).Error; err != nil {
		logger.Error("kpi.block failed", "week_id", week.ID, "err", err)
	}
	if err := db.Model(&model.Member{}).Where("id = ?", m.ID).
		Update("review_flag", true).Error; err != nil {
		logger.Error("kpi.flag failed", "member_id", m.ID, "err", err)
	}
	detail, _ := json.Marshal(map[string]any{"week_start": week.WeekStart, "reasons": reasons})
	memberID := m.ID
	row := model.AutomationLog{
		RuleID:    automation.RuleDataAnomaly,
		MemberID:  &memberID,
		Triggered: true,
		Actions:   "flags,block_feedback",
		Detail:    detail,
	}
	if err := db.Create(&row).Error; err != nil {
		logger.Error("kpi.anomaly log failed", "err", err)
	}
	logger.Warn("kpi.anomaly", "member_id", m.ID, "week_start", week.WeekStart, "reasons", reasons)
}

func (s *KpiService) reload(ctx context.Context, id int) (*model.KpiWeek, error) {
	var week model.KpiWeek
	if err := s.db.WithContext(ctx).First(&week, id).Error; err != nil {
		return nil, fmt.Errorf("reload week: %w", err)
	}
	return &week, nil
}

// CompleteOnboarding records the onboarding form. Idempotent: a second
// submission updates the fields but keeps the original completion time.
func (s *KpiService) CompleteOnboarding(ctx context.Context, memberID int, req model.OnboardingRequest) (*model.Member, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, memberID).Error; err != nil {
		return nil, fmt.Errorf("member %d: %w", memberID, err)
	}
	updates := map[string]any{
		"name":  req.Name,
		"phone": req.Phone,
		"goals": req.Goals,
	}
	if m.OnboardingDoneAt == nil {
		updates["onboarding_done_at"] = s.now()
	}
	if err := s.db.WithContext(ctx).Model(&m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("complete onboarding: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&m, m.ID).Error; err != nil {
		return nil, fmt.Errorf("reload member: %w", err)
	}
	logger.Info("onboarding.completed", "member_id", m.ID)
	return &m, nil
}

// CompleteKpiSetup stores the member's tracked metrics and targets.
func (s *KpiService) CompleteKpiSetup(ctx context.Context, memberID int, req model.KpiSetupRequest) (*model.Member, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	for metric, v := range req.Targets {
		if v < 0 {
			return nil, fmt.Errorf("target %q is negative", metric)
		}
	}
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, memberID).Error; err != nil {
		return nil, fmt.Errorf("member %d: %w", memberID, err)
	}
	updates := map[string]any{"targets": toJSONMap(req.Targets)}
	if m.KpiSetupDoneAt == nil {
		updates["kpi_setup_done_at"] = s.now()
	}
	if err := s.db.WithContext(ctx).Model(&m).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("complete kpi setup: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&m, m.ID).Error; err != nil {
		return nil, fmt.Errorf("reload member: %w", err)
	}
	logger.Info("kpi_setup.completed", "member_id", m.ID)
	return &m, nil
}
