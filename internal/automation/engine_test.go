package automation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"
	"mentor-crm/internal/timeutil"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fixed pass time: Monday 2026-08-24 10:00 UTC
var passNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Member{}, &model.KpiWeek{}, &model.AutomationLog{},
		&model.AutomationCooldown{}, &model.Task{},
	))
	return db
}

type fakeSender struct {
	sent []string
	fail error
}

func (f *fakeSender) Configured() bool { return true }

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestEngine(t *testing.T, db *gorm.DB) (*Engine, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	disp := notify.NewDispatcher(db, time.UTC, map[string]notify.Sender{
		model.ChannelWhatsApp: sender,
		model.ChannelEmail:    sender,
	})
	disp.SetClock(func() time.Time { return passNow }, func() time.Duration { return 0 })
	e := NewEngine(db, disp, time.UTC)
	e.now = func() time.Time { return passNow }
	return e, sender
}

func testSettings() model.SystemSettings {
	return model.SystemSettings{
		ID:                1,
		QuietStartHour:    0, // disabled
		QuietEndHour:      0,
		ChurnWeeks:        2,
		DangerWeeks:       4,
		SetupReminderDays: 3,
		SetupReminderMax:  3,
	}
}

func seedMember(t *testing.T, db *gorm.DB, lastWeekStart string) *model.Member {
	t.Helper()
	done := passNow.AddDate(0, 0, -90)
	m := &model.Member{
		Name:             "Anna Test",
		Email:            fmt.Sprintf("anna%d@example.com", time.Now().UnixNano()),
		Phone:            "+4915112345678",
		Status:           model.StatusActive,
		OnboardingDoneAt: &done,
		KpiSetupDoneAt:   &done,
	}
	require.NoError(t, db.Create(m).Error)
	if lastWeekStart != "" {
		require.NoError(t, db.Create(&model.KpiWeek{
			MemberID:  m.ID,
			WeekStart: lastWeekStart,
			Actuals:   map[string]any{"calls": 10.0},
		}).Error)
	}
	return m
}

func weekStartDaysAgo(days int) string {
	return timeutil.DateString(timeutil.WeekStart(passNow).AddDate(0, 0, -days))
}

func TestChurnRiskBoundaries(t *testing.T) {
	tests := []struct {
		name       string
		lastWeek   string
		churnRisk  bool
		dangerZone bool
	}{
		{"one week idle is fine", weekStartDaysAgo(7), false, false},
		{"thirteen days idle is fine", timeutil.DateString(passNow.AddDate(0, 0, -13)), false, false},
		{"two weeks idle flags churn", weekStartDaysAgo(14), true, false},
		{"three weeks idle flags churn", weekStartDaysAgo(21), true, false},
		{"four weeks idle flags danger and churn", weekStartDaysAgo(28), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			e, _ := newTestEngine(t, db)
			m := seedMember(t, db, tt.lastWeek)

			_, err := e.EvaluateMember(context.Background(), m, testSettings())
			require.NoError(t, err)

			var got model.Member
			require.NoError(t, db.First(&got, m.ID).Error)
			assert.Equal(t, tt.churnRisk, got.ChurnRisk, "churn_risk")
			assert.Equal(t, tt.dangerZone, got.DangerZone, "danger_zone")
		})
	}
}

func TestChurnRiskCreatesTaskAndMessage(t *testing.T) {
	db := newTestDB(t)
	e, sender := newTestEngine(t, db)
	m := seedMember(t, db, weekStartDaysAgo(14))

	fired, err := e.EvaluateMember(context.Background(), m, testSettings())
	require.NoError(t, err)
	assert.Contains(t, fired, RuleChurnRisk)

	var tasks []model.Task
	require.NoError(t, db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.PriorityHigh, tasks[0].Priority)
	assert.Equal(t, RuleChurnRisk, tasks[0].RuleID)
	assert.Equal(t, m.ID, *tasks[0].MemberID)

	assert.Equal(t, []string{m.Phone}, sender.sent)
}

func TestDangerZoneCreatesUrgentTask(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	m := seedMember(t, db, weekStartDaysAgo(28))

	fired, err := e.EvaluateMember(context.Background(), m, testSettings())
	require.NoError(t, err)
	assert.Contains(t, fired, RuleDangerZone)
	assert.NotContains(t, fired, RuleChurnRisk)

	var tasks []model.Task
	require.NoError(t, db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.PriorityUrgent, tasks[0].Priority)
}

func TestCooldownSuppressesRefire(t *testing.T) {
	db := newTestDB(t)
	e, sender := newTestEngine(t, db)
	m := seedMember(t, db, weekStartDaysAgo(14))
	ctx := context.Background()

	fired, err := e.EvaluateMember(ctx, m, testSettings())
	require.NoError(t, err)
	require.Contains(t, fired, RuleChurnRisk)

	fired, err = e.EvaluateMember(ctx, m, testSettings())
	require.NoError(t, err)
	assert.Empty(t, fired)

	var taskCount int64
	require.NoError(t, db.Model(&model.Task{}).Count(&taskCount).Error)
	assert.EqualValues(t, 1, taskCount, "no duplicate task while cooldown active")
	assert.Len(t, sender.sent, 1, "no duplicate message while cooldown active")
}

func TestCooldownExpiryAllowsRefire(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	m := seedMember(t, db, weekStartDaysAgo(14))
	ctx := context.Background()

	_, err := e.EvaluateMember(ctx, m, testSettings())
	require.NoError(t, err)

	// expire the cooldown and re-run
	require.NoError(t, db.Model(&model.AutomationCooldown{}).
		Where("member_id = ?", m.ID).
		Update("expires_at", passNow.Add(-time.Hour)).Error)

	fired, err := e.EvaluateMember(ctx, m, testSettings())
	require.NoError(t, err)
	assert.Contains(t, fired, RuleChurnRisk)
}

func TestDeferredMessageShortensCooldown(t *testing.T) {
	db := newTestDB(t)
	sender := &fakeSender{}
	current := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	disp := notify.NewDispatcher(db, time.UTC, map[string]notify.Sender{
		model.ChannelWhatsApp: sender,
		model.ChannelEmail:    sender,
	})
	disp.SetClock(func() time.Time { return current }, func() time.Duration { return 0 })
	e := NewEngine(db, disp, time.UTC)
	e.now = func() time.Time { return current }

	settings := testSettings()
	settings.QuietStartHour, settings.QuietEndHour = 21, 8
	m := seedMember(t, db, weekStartDaysAgo(14))
	ctx := context.Background()

	fired, err := e.EvaluateMember(ctx, m, settings)
	require.NoError(t, err)
	require.Contains(t, fired, RuleChurnRisk)
	assert.Empty(t, sender.sent, "quiet hours hold the message")

	// the cooldown collapses to the defer horizon, not the full 7 days
	var cd model.AutomationCooldown
	require.NoError(t, db.Where("member_id = ? AND rule_id = ?", m.ID, RuleChurnRisk).First(&cd).Error)
	assert.WithinDuration(t, time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC), cd.ExpiresAt, time.Second)

	// next pass after the quiet window delivers
	current = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	fired, err = e.EvaluateMember(ctx, m, settings)
	require.NoError(t, err)
	require.Contains(t, fired, RuleChurnRisk)
	assert.Equal(t, []string{m.Phone}, sender.sent)
}

func TestWeekStartSurvivesStorage(t *testing.T) {
	db := newTestDB(t)
	m := seedMember(t, db, "")
	require.NoError(t, db.Create(&model.KpiWeek{
		MemberID:  m.ID,
		WeekStart: "2026-08-10",
	}).Error)

	var got model.KpiWeek
	require.NoError(t, db.Where("member_id = ?", m.ID).First(&got).Error)
	assert.Equal(t, "2026-08-10", got.WeekStart)
	assert.False(t, timeutil.ParseDate(got.WeekStart, time.UTC).IsZero())
}

func TestActualValuesFromStoredWeek(t *testing.T) {
	db := newTestDB(t)
	m := seedMember(t, db, "")
	require.NoError(t, db.Create(&model.KpiWeek{
		MemberID:  m.ID,
		WeekStart: weekStartDaysAgo(0),
		Actuals:   map[string]any{"calls": 10.0, "calls.closed": 3.0},
	}).Error)

	var got model.KpiWeek
	require.NoError(t, db.Where("member_id = ?", m.ID).First(&got).Error)
	assert.Equal(t, map[string]float64{"calls": 10, "calls.closed": 3}, ActualValues(got))
}

func TestDataAnomalyBlocksFeedbackAndFlagsMember(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	m := seedMember(t, db, "")
	week := model.KpiWeek{
		MemberID:  m.ID,
		WeekStart: weekStartDaysAgo(0),
		Actuals:   map[string]any{"calls": 10.0, "calls.closed": 12.0},
	}
	require.NoError(t, db.Create(&week).Error)

	fired, err := e.EvaluateMember(context.Background(), m, testSettings())
	require.NoError(t, err)
	assert.Contains(t, fired, RuleDataAnomaly)

	var gotWeek model.KpiWeek
	require.NoError(t, db.First(&gotWeek, week.ID).Error)
	assert.True(t, gotWeek.AIFeedbackBlocked)

	var gotMember model.Member
	require.NoError(t, db.First(&gotMember, m.ID).Error)
	assert.True(t, gotMember.ReviewFlag)
}

func TestUpsellCandidateNeedsThreeFullWeeks(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	m := seedMember(t, db, "")
	require.NoError(t, db.Model(&model.Member{}).Where("id = ?", m.ID).
		Update("targets", datatypes.JSONMap{"calls": 10.0}).Error)
	m.Targets = datatypes.JSONMap{"calls": 10.0}

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&model.KpiWeek{
			MemberID:  m.ID,
			WeekStart: weekStartDaysAgo(i * 7),
			Actuals:   map[string]any{"calls": 12.0},
		}).Error)
	}

	fired, err := e.EvaluateMember(context.Background(), m, testSettings())
	require.NoError(t, err)
	assert.Contains(t, fired, RuleUpsellCandidate)

	var got model.Member
	require.NoError(t, db.First(&got, m.ID).Error)
	assert.True(t, got.UpsellCandidate)
}

func TestUpsellCandidateMissedTargetDoesNotFire(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	m := seedMember(t, db, "")
	require.NoError(t, db.Model(&model.Member{}).Where("id = ?", m.ID).
		Update("targets", datatypes.JSONMap{"calls": 10.0}).Error)
	m.Targets = datatypes.JSONMap{"calls": 10.0}

	for i := 0; i < 3; i++ {
		actual := 12.0
		if i == 1 {
			actual = 8.0
		}
		require.NoError(t, db.Create(&model.KpiWeek{
			MemberID:  m.ID,
			WeekStart: weekStartDaysAgo(i * 7),
			Actuals:   map[string]any{"calls": actual},
		}).Error)
	}

	fired, err := e.EvaluateMember(context.Background(), m, testSettings())
	require.NoError(t, err)
	assert.NotContains(t, fired, RuleUpsellCandidate)
}

func TestOnboardingReminderEscalation(t *testing.T) {
	db := newTestDB(t)
	e, sender := newTestEngine(t, db)
	ctx := context.Background()
	settings := testSettings()

	m := &model.Member{
		Name:   "Ben New",
		Email:  "ben@example.com",
		Phone:  "+4915100000001",
		Status: model.StatusActive,
	}
	require.NoError(t, db.Create(m).Error)
	// created 5 days before the pass
	require.NoError(t, db.Model(m).Update("created_at", passNow.AddDate(0, 0, -5)).Error)
	require.NoError(t, db.First(m, m.ID).Error)

	for i := 1; i <= settings.SetupReminderMax; i++ {
		// cooldown is per firing; clear it to simulate elapsed days
		require.NoError(t, db.Where("member_id = ?", m.ID).Delete(&model.AutomationCooldown{}).Error)
		require.NoError(t, db.First(m, m.ID).Error)

		fired, err := e.EvaluateMember(ctx, m, settings)
		require.NoError(t, err)
		assert.Contains(t, fired, RuleOnboardingReminder, "reminder %d", i)
	}

	require.NoError(t, db.Where("member_id = ?", m.ID).Delete(&model.AutomationCooldown{}).Error)
	require.NoError(t, db.First(m, m.ID).Error)
	assert.Equal(t, settings.SetupReminderMax, m.OnboardingReminders)

	fired, err := e.EvaluateMember(ctx, m, settings)
	require.NoError(t, err)
	assert.NotContains(t, fired, RuleOnboardingReminder, "ceiling reached")
	assert.Len(t, sender.sent, settings.SetupReminderMax)
}

func TestRunPassIsolatesMemberFailures(t *testing.T) {
	db := newTestDB(t)
	e, _ := newTestEngine(t, db)
	seedMember(t, db, weekStartDaysAgo(14))
	seedMember(t, db, weekStartDaysAgo(7))

	sum, err := e.RunPass(context.Background(), testSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Members)
	assert.Equal(t, 1, sum.Fired[RuleChurnRisk])
	assert.Empty(t, sum.Errors)
}

func TestAnomalies(t *testing.T) {
	tests := []struct {
		name    string
		actuals map[string]float64
		count   int
	}{
		{"consistent", map[string]float64{"calls": 10, "calls.closed": 3}, 0},
		{"sub exceeds parent", map[string]float64{"calls": 10, "calls.closed": 12}, 1},
		{"negative value", map[string]float64{"calls": -1}, 1},
		{"sub without parent is ignored", map[string]float64{"calls.closed": 99}, 0},
		{"equal is fine", map[string]float64{"calls": 5, "calls.closed": 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Anomalies(tt.actuals), tt.count)
		})
	}
}
