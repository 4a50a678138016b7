package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"mentor-crm/internal/automation"
	"mentor-crm/internal/config"
	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"
	"mentor-crm/internal/timeutil"

	"gorm.io/gorm"
)

// Error codes surfaced to the admin UI on the manual "send now" action.
var (
	ErrAlreadySent  = errors.New("already_sent")
	ErrNoWhatsApp   = errors.New("no_whatsapp")
	ErrQuietHours   = errors.New("quiet_hours")
	ErrBlocked      = errors.New("blocked")
	ErrNotGenerated = errors.New("not_generated")
)

// FeedbackService generates the weekly AI feedback text and delivers it
// via WhatsApp once the scheduled send time has passed.
type FeedbackService struct {
	db   *gorm.DB
	disp *notify.Dispatcher
	cfg  config.AIConfig

	client *http.Client
	now    func() time.Time
}

func NewFeedbackService(db *gorm.DB, disp *notify.Dispatcher, cfg config.AIConfig, loc *time.Location) *FeedbackService {
	return &FeedbackService{
		db:     db,
		disp:   disp,
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		now:    func() time.Time { return time.Now().In(loc) },
	}
}

func (s *FeedbackService) Configured() bool {
	return s.cfg.BaseURL != "" && s.cfg.APIKey != ""
}

func (s *FeedbackService) chat(ctx context.Context, system, user string) (string, error) {
	body := map[string]interface{}{
		"model": s.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, data)
	}

	data, _ := io.ReadAll(resp.Body)
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

// Generate produces the WhatsApp feedback text for one submitted week.
// Missing AI configuration degrades to an empty result, not an error.
func (s *FeedbackService) Generate(ctx context.Context, m *model.Member, week *model.KpiWeek) (string, error) {
	if !s.Configured() {
		logger.Warn("feedback.skipped", "reason", "ai not configured", "member_id", m.ID)
		return "", nil
	}

	style := m.FeedbackStyle
	if style == "" {
		style = "supportive"
	}
	system := fmt.Sprintf(`You are a mentoring coach writing a short WhatsApp message (max 120 words) about a mentee's weekly numbers. Tone: %s. Mention one concrete win and one concrete focus for next week. No greetings boilerplate, no emojis overload, write in the second person.`, style)

	user := fmt.Sprintf("Name: %s\nWeek: %s\n%s\nFeeling (1-10): %d\nReflection: %s",
		m.Name, week.WeekStart, formatNumbers(m, week), week.Feeling, week.Reflection)

	text, err := s.chat(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func formatNumbers(m *model.Member, week *model.KpiWeek) string {
	actuals := automation.ActualValues(*week)
	names := make([]string, 0, len(actuals))
	for name := range actuals {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		if t, ok := m.Targets[name]; ok {
			sb.WriteString(fmt.Sprintf("%s: %g (target %v)\n", name, actuals[name], t))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %g\n", name, actuals[name]))
		}
	}
	return sb.String()
}

// SendDue delivers every generated, unblocked, unsent feedback whose
// scheduled time has passed. Quiet hours skip the whole batch; the next
// tick retries. Returns the number sent.
func (s *FeedbackService) SendDue(ctx context.Context, settings model.SystemSettings) (int, []string, error) {
	now := s.now()
	if timeutil.InQuietHours(now, settings.QuietStartHour, settings.QuietEndHour) {
		return 0, nil, nil
	}

	var due []model.KpiWeek
	err := s.db.WithContext(ctx).
		Where("ai_feedback_sent = ? AND ai_feedback_blocked = ? AND ai_feedback_text <> '' AND ai_feedback_scheduled_at <= ?",
			false, false, now).
		Find(&due).Error
	if err != nil {
		return 0, nil, fmt.Errorf("load due feedback: %w", err)
	}

	var sent int
	var failures []string
	for i := range due {
		if err := s.deliver(ctx, &due[i], settings); err != nil {
			failures = append(failures, fmt.Sprintf("week %d: %v", due[i].ID, err))
			continue
		}
		sent++
	}
	return sent, failures, nil
}

func (s *FeedbackService) deliver(ctx context.Context, week *model.KpiWeek, settings model.SystemSettings) error {
	var m model.Member
	if err := s.db.WithContext(ctx).First(&m, week.MemberID).Error; err != nil {
		return fmt.Errorf("member %d: %w", week.MemberID, err)
	}
	if m.Phone == "" {
		return ErrNoWhatsApp
	}

	res := s.disp.Send(ctx, notify.Message{
		MemberID: m.ID,
		Channel:  model.ChannelWhatsApp,
		To:       m.Phone,
		Body:     week.AIFeedbackText,
		Type:     "ai_feedback",
		RuleID:   "ai_feedback",
	}, settings.QuietStartHour, settings.QuietEndHour)

	if res.Deferred {
		err := s.db.WithContext(ctx).Model(&model.KpiWeek{}).
			Where("id = ?", week.ID).
			Update("ai_feedback_scheduled_at", res.DeferUntil).Error
		if err != nil {
			return fmt.Errorf("defer feedback: %w", err)
		}
		return nil
	}
	if !res.Sent {
		if res.Error == "" {
			return fmt.Errorf("whatsapp provider not configured")
		}
		return fmt.Errorf("send failed: %s", res.Error)
	}

	// sent-flag guard in the predicate keeps a racing tick from
	// double-marking; the message dedupe itself rests on this row
	now := s.now()
	upd := s.db.WithContext(ctx).Model(&model.KpiWeek{}).
		Where("id = ? AND ai_feedback_sent = ?", week.ID, false).
		Updates(map[string]any{"ai_feedback_sent": true, "ai_feedback_sent_at": now})
	if upd.Error != nil {
		return fmt.Errorf("mark sent: %w", upd.Error)
	}
	return nil
}

// SendNow is the admin's manual override. It reports coded errors the
// operator can act on instead of generic failures.
func (s *FeedbackService) SendNow(ctx context.Context, memberID int, settings model.SystemSettings) error {
	var week model.KpiWeek
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("week_start DESC").
		First(&week).Error
	if err == gorm.ErrRecordNotFound {
		return ErrNotGenerated
	}
	if err != nil {
		return fmt.Errorf("load week: %w", err)
	}

	switch {
	case week.AIFeedbackSent:
		return ErrAlreadySent
	case week.AIFeedbackBlocked:
		return ErrBlocked
	case week.AIFeedbackText == "":
		return ErrNotGenerated
	}
	if timeutil.InQuietHours(s.now(), settings.QuietStartHour, settings.QuietEndHour) {
		return ErrQuietHours
	}
	return s.deliver(ctx, &week, settings)
}
