package automation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"
	"mentor-crm/internal/timeutil"
)

const (
	RuleChurnRisk          = "churn_risk"
	RuleDangerZone         = "danger_zone"
	RuleDataAnomaly        = "data_anomaly"
	RuleKpiSetupReminder   = "kpi_setup_reminder"
	RuleOnboardingReminder = "onboarding_reminder"
	RuleUpsellCandidate    = "upsell_candidate"
)

// Input is everything a rule precondition may look at. Rules read the
// pre-pass state only; one rule's firing never feeds another's
// precondition within the same pass.
type Input struct {
	Member   *model.Member
	Weeks    []model.KpiWeek // recent history, newest first
	Settings model.SystemSettings
	Now      time.Time
}

// Firing lists the side effects of a triggered rule. The engine executes
// them only when no unexpired cooldown exists for (member, rule).
type Firing struct {
	Flags     map[string]any
	Task      *model.Task
	Message   *notify.Message
	BlockWeek *model.KpiWeek // week whose AI feedback gets blocked
	Counter   string         // member counter column to increment
	Detail    map[string]any
}

type Rule struct {
	ID       string
	Cooldown time.Duration
	Evaluate func(in Input) *Firing
}

// Rules is the fixed catalog. Adding a rule means appending here.
func Rules() []Rule {
	return []Rule{
		{ID: RuleChurnRisk, Cooldown: 7 * 24 * time.Hour, Evaluate: evalChurnRisk},
		{ID: RuleDangerZone, Cooldown: 7 * 24 * time.Hour, Evaluate: evalDangerZone},
		{ID: RuleDataAnomaly, Cooldown: 0, Evaluate: evalDataAnomaly},
		{ID: RuleKpiSetupReminder, Cooldown: 3 * 24 * time.Hour, Evaluate: evalKpiSetupReminder},
		{ID: RuleOnboardingReminder, Cooldown: 3 * 24 * time.Hour, Evaluate: evalOnboardingReminder},
		{ID: RuleUpsellCandidate, Cooldown: 30 * 24 * time.Hour, Evaluate: evalUpsellCandidate},
	}
}

// weeksIdle returns whole weeks since the member's last submission, or
// -1 when there is no usable baseline. Members without any submission
// measure from KPI setup completion.
func weeksIdle(in Input) int {
	if len(in.Weeks) > 0 {
		last := timeutil.ParseDate(in.Weeks[0].WeekStart, in.Now.Location())
		if last.IsZero() {
			return -1
		}
		return timeutil.WeeksSince(in.Now, last)
	}
	if in.Member.KpiSetupDoneAt != nil {
		return timeutil.WeeksSince(in.Now, *in.Member.KpiSetupDoneAt)
	}
	return -1
}

func evalChurnRisk(in Input) *Firing {
	idle := weeksIdle(in)
	if idle < in.Settings.ChurnWeeks || idle >= in.Settings.DangerWeeks {
		return nil
	}
	mid := in.Member.ID
	return &Firing{
		Flags: map[string]any{"churn_risk": true},
		Task: &model.Task{
			Title:       fmt.Sprintf("Retention check-in: %s", in.Member.Name),
			Description: fmt.Sprintf("No KPI submission for %d weeks. Reach out personally.", idle),
			Priority:    model.PriorityHigh,
			MemberID:    &mid,
			RuleID:      RuleChurnRisk,
		},
		Message: memberMessage(in.Member, "churn_warning", RuleChurnRisk,
			"Your weekly check-in",
			fmt.Sprintf("Hi %s, we haven't seen your weekly numbers in %d weeks. A quick submission keeps your momentum visible - your coach is here if something is in the way.", in.Member.Name, idle)),
		Detail: map[string]any{"weeks_idle": idle},
	}
}

func evalDangerZone(in Input) *Firing {
	idle := weeksIdle(in)
	if idle < in.Settings.DangerWeeks {
		return nil
	}
	mid := in.Member.ID
	return &Firing{
		// danger zone forces churn risk as well
		Flags: map[string]any{"danger_zone": true, "churn_risk": true},
		Task: &model.Task{
			Title:       fmt.Sprintf("Danger zone: %s", in.Member.Name),
			Description: fmt.Sprintf("No KPI submission for %d weeks. Immediate intervention required.", idle),
			Priority:    model.PriorityUrgent,
			MemberID:    &mid,
			RuleID:      RuleDangerZone,
		},
		Detail: map[string]any{"weeks_idle": idle},
	}
}

func evalDataAnomaly(in Input) *Firing {
	if len(in.Weeks) == 0 {
		return nil
	}
	week := in.Weeks[0]
	if week.AIFeedbackBlocked {
		return nil
	}
	reasons := Anomalies(ActualValues(week))
	if len(reasons) == 0 {
		return nil
	}
	return &Firing{
		Flags:     map[string]any{"review_flag": true},
		BlockWeek: &week,
		Detail:    map[string]any{"week_start": week.WeekStart, "reasons": reasons},
	}
}

func evalKpiSetupReminder(in Input) *Firing {
	m := in.Member
	if m.KpiSetupDoneAt != nil || m.OnboardingDoneAt == nil {
		return nil
	}
	if in.Now.Sub(m.CreatedAt) < time.Duration(in.Settings.SetupReminderDays)*24*time.Hour {
		return nil
	}
	if m.KpiSetupReminders >= in.Settings.SetupReminderMax {
		return nil
	}
	nth := m.KpiSetupReminders + 1
	return &Firing{
		Counter: "kpi_setup_reminders",
		Message: memberMessage(m, "kpi_setup_reminder", RuleKpiSetupReminder,
			"Set up your KPIs",
			reminderBody(m.Name, "your KPI targets are still missing", nth, in.Settings.SetupReminderMax)),
		Detail: map[string]any{"reminder": nth},
	}
}

func evalOnboardingReminder(in Input) *Firing {
	m := in.Member
	if m.OnboardingDoneAt != nil {
		return nil
	}
	if in.Now.Sub(m.CreatedAt) < time.Duration(in.Settings.SetupReminderDays)*24*time.Hour {
		return nil
	}
	if m.OnboardingReminders >= in.Settings.SetupReminderMax {
		return nil
	}
	nth := m.OnboardingReminders + 1
	return &Firing{
		Counter: "onboarding_reminders",
		Message: memberMessage(m, "onboarding_reminder", RuleOnboardingReminder,
			"Finish your onboarding",
			reminderBody(m.Name, "your onboarding form is still open", nth, in.Settings.SetupReminderMax)),
		Detail: map[string]any{"reminder": nth},
	}
}

// evalUpsellCandidate fires when the last three submitted weeks each hit
// every configured target.
func evalUpsellCandidate(in Input) *Firing {
	m := in.Member
	if m.UpsellCandidate || len(in.Weeks) < 3 || len(m.Targets) == 0 {
		return nil
	}
	targets := numericMap(m.Targets)
	for _, week := range in.Weeks[:3] {
		actuals := ActualValues(week)
		for metric, target := range targets {
			if actuals[metric] < target {
				return nil
			}
		}
	}
	mid := m.ID
	return &Firing{
		Flags: map[string]any{"upsell_candidate": true},
		Task: &model.Task{
			Title:       fmt.Sprintf("Upsell conversation: %s", m.Name),
			Description: "Hit all targets three weeks in a row. Offer the next program tier.",
			Priority:    model.PriorityNormal,
			MemberID:    &mid,
			RuleID:      RuleUpsellCandidate,
		},
		Detail: map[string]any{"streak_weeks": 3},
	}
}

// Anomalies reports internal inconsistencies in submitted actuals:
// negative values, and sub-metrics ("calls.closed") exceeding their
// parent total ("calls"). Deterministic order for stable logs.
func Anomalies(actuals map[string]float64) []string {
	var out []string
	for name, v := range actuals {
		if v < 0 {
			out = append(out, fmt.Sprintf("%s is negative (%g)", name, v))
		}
		if i := strings.IndexByte(name, '.'); i > 0 {
			parent := name[:i]
			if pv, ok := actuals[parent]; ok && v > pv {
				out = append(out, fmt.Sprintf("%s (%g) exceeds %s (%g)", name, v, parent, pv))
			}
		}
	}
	sort.Strings(out)
	return out
}

// ActualValues flattens a KpiWeek's JSON actuals into float64s.
func ActualValues(w model.KpiWeek) map[string]float64 {
	return numericMap(w.Actuals)
}

// numericMap tolerates both in-memory values and JSON-column round
// trips, which decode numbers as json.Number.
func numericMap(in map[string]any) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				out[k] = f
			}
		}
	}
	return out
}

// memberMessage prefers WhatsApp when a phone number exists, falling
// back to email.
func memberMessage(m *model.Member, msgType, ruleID, subject, body string) *notify.Message {
	msg := &notify.Message{
		MemberID: m.ID,
		Subject:  subject,
		Body:     body,
		Type:     msgType,
		RuleID:   ruleID,
	}
	if m.Phone != "" {
		msg.Channel = model.ChannelWhatsApp
		msg.To = m.Phone
	} else {
		msg.Channel = model.ChannelEmail
		msg.To = m.Email
	}
	return msg
}

func reminderBody(name, what string, nth, max int) string {
	if nth >= max {
		return fmt.Sprintf("Hi %s, last reminder: %s. Please complete it today so we can start properly.", name, what)
	}
	return fmt.Sprintf("Hi %s, friendly reminder %d of %d: %s.", name, nth, max, what)
}
