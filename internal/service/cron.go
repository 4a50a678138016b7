package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mentor-crm/internal/automation"
	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"
	"mentor-crm/internal/timeutil"

	"gorm.io/gorm"
)

const (
	JobWeeklyReminder = "weekly_reminder"
	JobAutomationPass = "automation_pass"
	JobFeedbackSender = "feedback_sender"
)

// CronService is the externally polled scheduling shim. An outside
// scheduler hits the tick endpoint once per minute; each job decides
// for itself whether "now" matches its configured trigger, and a
// same-minute log lookup guards against double invocation.
type CronService struct {
	db       *gorm.DB
	engine   *automation.Engine
	feedback *FeedbackService
	disp     *notify.Dispatcher
	settings *SettingsService

	now func() time.Time // overridable in tests
}

func NewCronService(db *gorm.DB, engine *automation.Engine, feedback *FeedbackService, disp *notify.Dispatcher, settings *SettingsService, loc *time.Location) *CronService {
	return &CronService{
		db:       db,
		engine:   engine,
		feedback: feedback,
		disp:     disp,
		settings: settings,
		now:      func() time.Time { return time.Now().In(loc) },
	}
}

type JobResult struct {
	Job     string         `json:"job"`
	Skipped bool           `json:"skipped"`
	Reason  string         `json:"reason,omitempty"`
	Success bool           `json:"success"`
	Detail  map[string]any `json:"detail,omitempty"`
	Err     error          `json:"-"`
}

// Tick evaluates every job against the current minute.
func (s *CronService) Tick(ctx context.Context) ([]JobResult, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]JobResult, 0, 3)
	for _, name := range []string{JobWeeklyReminder, JobAutomationPass, JobFeedbackSender} {
		results = append(results, s.runJob(ctx, name, settings))
	}
	return results, nil
}

// RunJob executes one named job through the same due/dedupe gate.
func (s *CronService) RunJob(ctx context.Context, name string) (JobResult, error) {
	switch name {
	case JobWeeklyReminder, JobAutomationPass, JobFeedbackSender:
	default:
		return JobResult{}, fmt.Errorf("unknown job %q", name)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return JobResult{}, err
	}
	return s.runJob(ctx, name, settings), nil
}

func (s *CronService) runJob(ctx context.Context, name string, settings model.SystemSettings) (result JobResult) {
	result = JobResult{Job: name}
	now := s.now()

	if due, reason := s.due(name, now, settings); !due {
		result.Skipped = true
		result.Reason = reason
		return result
	}

	minute := timeutil.MinuteBucket(now)
	already, err := s.ranThisMinute(ctx, name, minute)
	if err != nil {
		result.Err = err
		return result
	}
	if already {
		result.Skipped = true
		result.Reason = "already ran this minute"
		return result
	}

	// the completion log row is written no matter how the body ends
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("job panic: %v", r)
		}
		s.logExecution(ctx, name, minute, result)
	}()

	detail, err := s.execute(ctx, name, settings)
	if err != nil {
		result.Err = err
		return result
	}
	result.Success = true
	result.Detail = detail
	return result
}

func (s *CronService) due(name string, now time.Time, settings model.SystemSettings) (bool, string) {
	switch name {
	case JobWeeklyReminder:
		wd := time.Weekday(settings.ReminderWeekday)
		if !timeutil.MatchesWeekly(now, wd, settings.ReminderHour, settings.ReminderMinute) {
			return false, fmt.Sprintf("not due: runs %s %02d:%02d", wd, settings.ReminderHour, settings.ReminderMinute)
		}
	case JobAutomationPass:
		if !timeutil.MatchesDaily(now, settings.AutomationHour, settings.AutomationMinute) {
			return false, fmt.Sprintf("not due: runs daily %02d:%02d", settings.AutomationHour, settings.AutomationMinute)
		}
	case JobFeedbackSender:
		// runs on every tick
	}
	return true, ""
}

func (s *CronService) ranThisMinute(ctx context.Context, name, minute string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.AutomationLog{}).
		Where("rule_id = ? AND minute = ?", "cron:"+name, minute).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("minute dedupe lookup: %w", err)
	}
	return count > 0, nil
}

func (s *CronService) execute(ctx context.Context, name string, settings model.SystemSettings) (map[string]any, error) {
	switch name {
	case JobWeeklyReminder:
		return s.sendWeeklyReminders(ctx, settings)
	case JobAutomationPass:
		sum, err := s.engine.RunPass(ctx, settings)
		if err != nil {
			return nil, err
		}
		return map[string]any{"members": sum.Members, "fired": sum.Fired, "errors": sum.Errors}, nil
	case JobFeedbackSender:
		sent, failures, err := s.feedback.SendDue(ctx, settings)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sent": sent, "failures": failures}, nil
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

// sendWeeklyReminders nudges every active member who has not submitted
// for the current week yet.
func (s *CronService) sendWeeklyReminders(ctx context.Context, settings model.SystemSettings) (map[string]any, error) {
	weekStart := timeutil.DateString(timeutil.WeekStart(s.now()))

	var members []model.Member
	err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusActive).
		Where("id NOT IN (?)", s.db.Model(&model.KpiWeek{}).Select("member_id").Where("week_start = ?", weekStart)).
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("load reminder targets: %w", err)
	}

	var sent int
	var failures []string
	for i := range members {
		m := &members[i]
		msg := notify.Message{
			MemberID: m.ID,
			Subject:  "Your weekly KPI check-in",
			Body:     fmt.Sprintf("Hi %s, it's KPI time. Please submit this week's numbers via your form link.", m.Name),
			Type:     "weekly_reminder",
			RuleID:   "weekly_reminder",
		}
		if m.Phone != "" {
			msg.Channel, msg.To = model.ChannelWhatsApp, m.Phone
		} else {
			msg.Channel, msg.To = model.ChannelEmail, m.Email
		}
		res := s.disp.Send(ctx, msg, settings.QuietStartHour, settings.QuietEndHour)
		if res.Sent {
			sent++
		} else if res.Error != "" {
			failures = append(failures, fmt.Sprintf("member %d: %s", m.ID, res.Error))
		}
	}
	return map[string]any{"candidates": len(members), "sent": sent, "failures": failures}, nil
}

func (s *CronService) logExecution(ctx context.Context, name, minute string, result JobResult) {
	payload := map[string]any{"detail": result.Detail}
	if result.Err != nil {
		payload["error"] = result.Err.Error()
	}
	detail, _ := json.Marshal(payload)
	row := model.AutomationLog{
		RuleID:    "cron:" + name,
		Triggered: result.Err == nil,
		Actions:   "executed",
		Detail:    detail,
		Minute:    minute,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		logger.Error("cron.log failed", "job", name, "err", err)
	}
	if result.Err != nil {
		logger.Error("cron.job failed", "job", name, "err", result.Err)
	} else {
		logger.Info("cron.job done", "job", name, "minute", minute)
	}
}
