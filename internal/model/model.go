package model

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// WeeklyKpiRequest is the token-gated weekly submission form body.
// Actuals maps metric name to the submitted value; sub-metrics use the
// "parent.sub" naming convention (e.g. "calls" and "calls.closed").
type WeeklyKpiRequest struct {
	Actuals    map[string]float64 `json:"actuals" binding:"required"`
	Feeling    int                `json:"feeling" binding:"required,min=1,max=10"`
	Reflection string             `json:"reflection"`
}

type OnboardingRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
	Goals string `json:"goals"`
}

// KpiSetupRequest declares the member's tracked metrics and weekly targets.
type KpiSetupRequest struct {
	Targets map[string]float64 `json:"targets" binding:"required"`
}

type MemberRequest struct {
	Name          string             `json:"name" binding:"required"`
	Email         string             `json:"email" binding:"required,email"`
	Phone         string             `json:"phone"`
	Status        string             `json:"status"`
	Targets       map[string]float64 `json:"targets"`
	FeedbackStyle string             `json:"feedback_style"`
}

type LeadRequest struct {
	Name   string `json:"name" binding:"required"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Source string `json:"source"`
	Stage  string `json:"stage"`
	Notes  string `json:"notes"`
}

type TaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
	MemberID    *int   `json:"member_id"`
}

type FormTokenRequest struct {
	Purpose   string `json:"purpose" binding:"required,oneof=weekly_kpi onboarding kpi_setup"`
	ExpiresIn int    `json:"expires_in_hours"`
}

// CronResponse is returned to the external poller for every tick.
type CronResponse struct {
	Skipped bool           `json:"skipped,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Success bool           `json:"success"`
	Results map[string]any `json:"results,omitempty"`
}

// DashboardSummary feeds the admin overview page.
type DashboardSummary struct {
	ActiveMembers   int             `json:"active_members"`
	OpenLeads       int             `json:"open_leads"`
	OpenTasks       int             `json:"open_tasks"`
	ChurnRisk       int             `json:"churn_risk"`
	DangerZone      int             `json:"danger_zone"`
	ReviewFlagged   []Member        `json:"review_flagged"`
	RecentLog       []AutomationLog `json:"recent_log"`
	SubmissionsWeek int             `json:"submissions_week"`
}
