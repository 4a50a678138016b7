package notify

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"mentor-crm/internal/logger"
	"mentor-crm/internal/model"
	"mentor-crm/internal/timeutil"

	"gorm.io/gorm"
)

type Message struct {
	MemberID int
	Channel  string // model.ChannelEmail | model.ChannelWhatsApp
	To       string
	Subject  string
	Body     string
	Type     string // e.g. "churn_warning", "weekly_reminder", "ai_feedback"
	RuleID   string
	Urgent   bool
}

type Result struct {
	Sent       bool
	Deferred   bool
	DeferUntil time.Time
	Error      string
}

// Dispatcher delivers messages through the configured senders and writes
// an audit row for every attempt. Ordinary delivery failures never
// surface as errors; callers inspect the Result.
type Dispatcher struct {
	db      *gorm.DB
	senders map[string]Sender

	// overridable in tests
	now    func() time.Time
	jitter func() time.Duration
}

func NewDispatcher(db *gorm.DB, loc *time.Location, senders map[string]Sender) *Dispatcher {
	return &Dispatcher{
		db:      db,
		senders: senders,
		now:     func() time.Time { return time.Now().In(loc) },
		jitter: func() time.Duration {
			return time.Duration(rand.Intn(61)) * time.Minute
		},
	}
}

// SetClock overrides the dispatcher's time source and defer jitter so
// quiet-hours behavior can be pinned to a fixed wall clock.
func (d *Dispatcher) SetClock(now func() time.Time, jitter func() time.Duration) {
	if now != nil {
		d.now = now
	}
	if jitter != nil {
		d.jitter = jitter
	}
}

// Send attempts delivery. Non-urgent messages inside the quiet-hours
// window are not sent; the Result carries the deferred-until time
// (quiet end plus 0-60min jitter) for the caller to persist and retry.
func (d *Dispatcher) Send(ctx context.Context, msg Message, quietStart, quietEnd int) Result {
	now := d.now()

	if !msg.Urgent && timeutil.InQuietHours(now, quietStart, quietEnd) {
		until := timeutil.QuietEnd(now, quietStart, quietEnd).Add(d.jitter())
		d.audit(ctx, msg, false, "deferred: quiet hours")
		logger.Info("notify.deferred", "member_id", msg.MemberID, "type", msg.Type, "until", until)
		return Result{Deferred: true, DeferUntil: until}
	}

	sender, ok := d.senders[msg.Channel]
	if !ok || !sender.Configured() {
		logger.Warn("notify.skipped", "channel", msg.Channel, "reason", "provider not configured")
		d.audit(ctx, msg, false, "provider not configured")
		return Result{}
	}

	if err := sender.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		logger.Warn("notify.failed", "channel", msg.Channel, "member_id", msg.MemberID, "err", err)
		d.audit(ctx, msg, false, err.Error())
		return Result{Error: err.Error()}
	}

	d.audit(ctx, msg, true, "")
	logger.Info("notify.sent", "channel", msg.Channel, "member_id", msg.MemberID, "type", msg.Type)
	return Result{Sent: true}
}

func (d *Dispatcher) audit(ctx context.Context, msg Message, sent bool, errText string) {
	detail, _ := json.Marshal(map[string]any{
		"channel": msg.Channel,
		"to":      msg.To,
		"type":    msg.Type,
		"sent":    sent,
		"error":   errText,
	})
	memberID := msg.MemberID
	row := model.AutomationLog{
		RuleID:    msg.RuleID,
		MemberID:  &memberID,
		Triggered: sent,
		Actions:   "notify:" + msg.Channel,
		Detail:    detail,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		// audit must not break the caller; the send already happened
		logger.Error("notify.audit failed", "err", err)
	}
}
