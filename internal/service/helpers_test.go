package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mentor-crm/internal/model"
	"mentor-crm/internal/notify"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testNow is a Wednesday afternoon, well outside any quiet window, so
// clock-pinned tests behave the same no matter when they run.
var testNow = time.Date(2026, 8, 26, 14, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Admin{}, &model.Member{}, &model.Lead{}, &model.KpiWeek{},
		&model.AutomationLog{}, &model.AutomationCooldown{}, &model.Task{},
		&model.SystemSettings{}, &model.FormToken{},
	))
	return db
}

type stubSender struct {
	sent    []string
	fail    error
	offline bool
}

func (s *stubSender) Configured() bool { return !s.offline }

func (s *stubSender) Send(ctx context.Context, to, subject, body string) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, to)
	return nil
}

func newTestDispatcher(db *gorm.DB, sender *stubSender) *notify.Dispatcher {
	d := notify.NewDispatcher(db, time.UTC, map[string]notify.Sender{
		model.ChannelWhatsApp: sender,
		model.ChannelEmail:    sender,
	})
	d.SetClock(func() time.Time { return testNow }, func() time.Duration { return 0 })
	return d
}

// targetValue reads one numeric target regardless of whether the map
// came straight from memory or through a JSON column round trip.
func targetValue(t *testing.T, targets datatypes.JSONMap, name string) float64 {
	t.Helper()
	switch v := targets[name].(type) {
	case float64:
		return v
	case json.Number:
		f, err := v.Float64()
		require.NoError(t, err)
		return f
	}
	t.Fatalf("target %q missing", name)
	return 0
}

// quiet hours disabled so wall-clock test runs never defer sends
func quietOffSettings(t *testing.T, db *gorm.DB) model.SystemSettings {
	t.Helper()
	s := Defaults()
	s.QuietStartHour = 0
	s.QuietEndHour = 0
	require.NoError(t, db.Create(&s).Error)
	return s
}

func seedActiveMember(t *testing.T, db *gorm.DB, email, phone string) *model.Member {
	t.Helper()
	m := &model.Member{
		Name:   "Mara Client",
		Email:  email,
		Phone:  phone,
		Status: model.StatusActive,
	}
	require.NoError(t, db.Create(m).Error)
	return m
}
