package model

import (
	"time"

	"gorm.io/datatypes"
)

// Member lifecycle statuses. Members are never hard-deleted; cancelling
// sets the status instead.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
	StatusInactive  = "inactive"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Form token purposes. Each token unlocks exactly one public form for one member.
const (
	PurposeWeeklyKpi  = "weekly_kpi"
	PurposeOnboarding = "onboarding"
	PurposeKpiSetup   = "kpi_setup"
)

// Admin is a staff login for the dashboard.
type Admin struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex" json:"username"`
	Password string `json:"-"`
	Name     string `json:"name"`
	Role     string `gorm:"default:coach" json:"role"`
}

type Member struct {
	ID     int    `gorm:"primaryKey" json:"id"`
	Name   string `json:"name"`
	Email  string `gorm:"uniqueIndex" json:"email"`
	Phone  string `json:"phone"`
	Status string `gorm:"default:active" json:"status"`
	Goals  string `json:"goals"`

	// Targets holds the weekly target value per tracked metric.
	Targets       datatypes.JSONMap `json:"targets"`
	FeedbackStyle string            `gorm:"default:supportive" json:"feedback_style"`

	ChurnRisk       bool `json:"churn_risk"`
	DangerZone      bool `json:"danger_zone"`
	ReviewFlag      bool `json:"review_flag"`
	UpsellCandidate bool `json:"upsell_candidate"`

	OnboardingDoneAt    *time.Time `json:"onboarding_done_at"`
	KpiSetupDoneAt      *time.Time `json:"kpi_setup_done_at"`
	OnboardingReminders int        `json:"onboarding_reminders"`
	KpiSetupReminders   int        `json:"kpi_setup_reminders"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Lead struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Name     string `json:"name"`
	Email    string `gorm:"index" json:"email"`
	Phone    string `json:"phone"`
	Source   string `json:"source"`
	Stage    string `gorm:"default:new" json:"stage"`
	Notes    string `json:"notes"`
	MemberID *int   `json:"member_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KpiWeek is one submission per member per ISO week. WeekStart is the
// Monday of that week; (member_id, week_start) is unique so a second
// submission in the same week updates the row.
type KpiWeek struct {
	ID        int    `gorm:"primaryKey" json:"id"`
	MemberID  int    `gorm:"uniqueIndex:uk_member_week" json:"member_id"`
	WeekStart string `gorm:"size:10;uniqueIndex:uk_member_week" json:"week_start"`

	// Actuals holds the submitted value per tracked metric.
	Actuals    datatypes.JSONMap `json:"actuals"`
	Feeling    int               `json:"feeling"`
	Reflection string            `json:"reflection"`

	AIFeedbackText        string     `json:"ai_feedback_text"`
	AIFeedbackStyle       string     `json:"ai_feedback_style"`
	AIFeedbackBlocked     bool       `json:"ai_feedback_blocked"`
	AIFeedbackScheduledAt *time.Time `json:"ai_feedback_scheduled_at"`
	AIFeedbackSent        bool       `json:"ai_feedback_sent"`
	AIFeedbackSentAt      *time.Time `json:"ai_feedback_sent_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutomationLog is the append-only audit trail: rule evaluations,
// notification send attempts and cron job executions all land here.
type AutomationLog struct {
	ID        int            `gorm:"primaryKey" json:"id"`
	RuleID    string         `gorm:"index" json:"rule_id"`
	MemberID  *int           `gorm:"index" json:"member_id"`
	Triggered bool           `json:"triggered"`
	Actions   string         `json:"actions"`
	Detail    datatypes.JSON `json:"detail"`

	// Minute is the wall-clock minute bucket ("2006-01-02 15:04") of cron
	// executions, used to dedupe double invocations by the external poller.
	Minute    string    `gorm:"index" json:"minute,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AutomationCooldown struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	MemberID  int       `gorm:"uniqueIndex:uk_member_rule" json:"member_id"`
	RuleID    string    `gorm:"uniqueIndex:uk_member_rule" json:"rule_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Task struct {
	ID          int    `gorm:"primaryKey" json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `gorm:"default:normal" json:"priority"`
	Status      string `gorm:"default:open" json:"status"`
	Assignee    string `json:"assignee"`
	MemberID    *int   `gorm:"index" json:"member_id"`
	RuleID      string `json:"rule_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemSettings is a singleton row (id=1). Hours are local business
// time. Initial values come from the service's Defaults(), never from
// column defaults: a zero (quiet hours off, minute zero) must persist
// as written.
type SystemSettings struct {
	ID int `gorm:"primaryKey" json:"id"`

	QuietStartHour int `json:"quiet_start_hour"`
	QuietEndHour   int `json:"quiet_end_hour"`

	// Weekly KPI reminder schedule. Weekday follows time.Weekday (0=Sunday).
	ReminderWeekday int `json:"reminder_weekday"`
	ReminderHour    int `json:"reminder_hour"`
	ReminderMinute  int `json:"reminder_minute"`

	// Daily automation pass schedule.
	AutomationHour   int `json:"automation_hour"`
	AutomationMinute int `json:"automation_minute"`

	// AI feedback is sent a random delay after submission, within these bounds.
	FeedbackMinDelayMin int `json:"feedback_min_delay_min"`
	FeedbackMaxDelayMin int `json:"feedback_max_delay_min"`

	ChurnWeeks  int `json:"churn_weeks"`
	DangerWeeks int `json:"danger_weeks"`

	SetupReminderDays int `json:"setup_reminder_days"`
	SetupReminderMax  int `json:"setup_reminder_max"`
}

type FormToken struct {
	ID        int        `gorm:"primaryKey" json:"id"`
	Token     string     `gorm:"uniqueIndex" json:"token"`
	MemberID  int        `gorm:"index" json:"member_id"`
	Purpose   string     `json:"purpose"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Admin) TableName() string              { return "admins" }
func (Member) TableName() string             { return "members" }
func (Lead) TableName() string               { return "leads" }
func (KpiWeek) TableName() string            { return "kpi_weeks" }
func (AutomationLog) TableName() string      { return "automation_logs" }
func (AutomationCooldown) TableName() string { return "automation_cooldowns" }
func (Task) TableName() string               { return "tasks" }
func (SystemSettings) TableName() string     { return "system_settings" }
func (FormToken) TableName() string          { return "form_tokens" }
