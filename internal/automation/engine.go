package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine runs the rule catalog over members. The database is the only
// coordination point: cooldown rows and unique keys make overlapping
// passes safe.
type Engine struct {
	db    *gorm.DB
	disp  *notify.Dispatcher
	rules []Rule

	now func() time.Time // overridable in tests
}

func NewEngine(db *gorm.DB, disp *notify.Dispatcher, loc *time.Location) *Engine {
	return &Engine{
		db:    db,
		disp:  disp,
		rules: Rules(),
		now:   func() time.Time { return time.Now().In(loc) },
	}
}

// Summary reports one evaluation pass. Per-member failures land in
// Errors; they never abort the rest of the batch.
type Summary struct {
	Members int            `json:"members"`
	Fired   map[string]int `json:"fired"`
	Errors  []string       `json:"errors,omitempty"`
}

// RunPass evaluates every active member against the full catalog.
// Settings are loaded once by the caller and passed through so a pass
// sees one consistent configuration.
func (e *Engine) RunPass(ctx context.Context, settings model.SystemSettings) (*Summary, error) {
	var members []model.Member
	if err := e.db.WithContext(ctx).Where("status = ?", model.StatusActive).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	sum := &Summary{Members: len(members), Fired: map[string]int{}}
	for i := range members {
		fired, err := e.EvaluateMember(ctx, &members[i], settings)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("member %d: %v", members[i].ID, err))
			logger.Warn("automation.member failed", "member_id", members[i].ID, "err", err)
			continue
		}
		for _, id := range fired {
			sum.Fired[id]++
		}
	}
	logger.Info("automation.pass done", "members", sum.Members, "fired", sum.Fired, "errors", len(sum.Errors))
	return sum, nil
}

// EvaluateMember runs all rules for one member and returns the ids of
// the rules whose side effects were executed.
func (e *Engine) EvaluateMember(ctx context.Context, m *model.Member, settings model.SystemSettings) ([]string, error) {
	var weeks []model.KpiWeek
	err := e.db.WithContext(ctx).
		Where("member_id = ?", m.ID).
		Order("week_start DESC").
		Limit(4).
		Find(&weeks).Error
	if err != nil {
		return nil, fmt.Errorf("load kpi weeks: %w", err)
	}

	in := Input{Member: m, Weeks: weeks, Settings: settings, Now: e.now()}

	var fired []string
	for _, rule := range e.rules {
		firing := rule.Evaluate(in)
		if firing == nil {
			continue
		}
		active, err := e.cooldownActive(ctx, m.ID, rule.ID)
		if err != nil {
			return fired, err
		}
		if active {
			e.logEvaluation(ctx, rule.ID, m.ID, false, "suppressed:cooldown", firing.Detail)
			continue
		}
		if err := e.apply(ctx, m, rule, firing, settings); err != nil {
			return fired, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		fired = append(fired, rule.ID)
	}
	return fired, nil
}

func (e *Engine) cooldownActive(ctx context.Context, memberID int, ruleID string) (bool, error) {
	var cd model.AutomationCooldown
	err := e.db.WithContext(ctx).
		Where("member_id = ? AND rule_id = ?", memberID, ruleID).
		First(&cd).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load cooldown: %w", err)
	}
	return cd.ExpiresAt.After(e.now()), nil
}

func (e *Engine) apply(ctx context.Context, m *model.Member, rule Rule, f *Firing, settings model.SystemSettings) error {
	db := e.db.WithContext(ctx)
	var actions []string

	if len(f.Flags) > 0 {
		if err := db.Model(&model.Member{}).Where("id = ?", m.ID).Updates(f.Flags).Error; err != nil {
			return fmt.Errorf("update flags: %w", err)
		}
		actions = append(actions, "flags")
	}

	if f.Counter != "" {
		err := db.Model(&model.Member{}).Where("id = ?", m.ID).
			UpdateColumn(f.Counter, gorm.Expr(f.Counter+" + ?", 1)).Error
		if err != nil {
			return fmt.Errorf("bump counter: %w", err)
		}
		actions = append(actions, "counter:"+f.Counter)
	}

	if f.BlockWeek != nil {
		err := db.Model(&model.KpiWeek{}).Where("id = ?", f.BlockWeek.ID).
			Updates(map[string]any{"ai_feedback_blocked": true}).Error
		if err != nil {
			return fmt.Errorf("block week: %w", err)
		}
		actions = append(actions, "block_feedback")
	}

	if f.Task != nil {
		if err := db.Create(f.Task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		actions = append(actions, "task")
	}

	detail := f.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	var deferredUntil time.Time
	if f.Message != nil {
		res := e.disp.Send(ctx, *f.Message, settings.QuietStartHour, settings.QuietEndHour)
		switch {
		case res.Sent:
			actions = append(actions, "message")
		case res.Deferred:
			actions = append(actions, "message_deferred")
			detail["message_deferred_until"] = res.DeferUntil
			deferredUntil = res.DeferUntil
		default:
			actions = append(actions, "message_failed")
			detail["message_error"] = res.Error
		}
	}

	e.logEvaluation(ctx, rule.ID, m.ID, true, strings.Join(actions, ","), detail)

	if rule.Cooldown > 0 {
		expires := e.now().Add(rule.Cooldown)
		// a message held by quiet hours shortens the cooldown to the
		// defer horizon; the next pass re-fires and delivers
		if !deferredUntil.IsZero() && deferredUntil.Before(expires) {
			expires = deferredUntil
		}
		cd := model.AutomationCooldown{
			MemberID:  m.ID,
			RuleID:    rule.ID,
			ExpiresAt: expires,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}, {Name: "rule_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).Create(&cd).Error
		if err != nil {
			return fmt.Errorf("upsert cooldown: %w", err)
		}
	}

	logger.Info("automation.fired", "rule", rule.ID, "member_id", m.ID, "actions", actions)
	return nil
}

func (e *Engine) logEvaluation(ctx context.Context, ruleID string, memberID int, triggered bool, actions string, detail map[string]any) {
	payload, _ := json.Marshal(detail)
	row := model.AutomationLog{
		RuleID:    ruleID,
		MemberID:  &memberID,
		Triggered: triggered,
		Actions:   actions,
		Detail:    payload,
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		logger.Error("automation.log failed", "rule", ruleID, "err", err)
	}
}
