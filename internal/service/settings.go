package service

import (
	"context"
	"fmt"
	"time"

	"mentor-crm/internal/model"

	"gorm.io/gorm"
)

// SettingsService manages the singleton configuration row. Thresholds
// configured here are authoritative for the automation rules; there are
// no hardcoded fallbacks beyond the column defaults of the row itself.
type SettingsService struct{ db *gorm.DB }

func NewSettingsService(db *gorm.DB) *SettingsService { return &SettingsService{db: db} }

// Get loads the settings row, creating it with defaults on first use.
func (s *SettingsService) Get(ctx context.Context) (model.SystemSettings, error) {
	var settings model.SystemSettings
	err := s.db.WithContext(ctx).
		Where("id = ?", 1).
		Attrs(Defaults()).
		FirstOrCreate(&settings).Error
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// Defaults is the initial configuration written on first access.
func Defaults() model.SystemSettings {
	return model.SystemSettings{
		ID:                  1,
		QuietStartHour:      21,
		QuietEndHour:        8,
		ReminderWeekday:     int(time.Monday),
		ReminderHour:        10,
		AutomationHour:      9,
		FeedbackMinDelayMin: 30,
		FeedbackMaxDelayMin: 180,
		ChurnWeeks:          2,
		DangerWeeks:         4,
		SetupReminderDays:   3,
		SetupReminderMax:    3,
	}
}

func (s *SettingsService) Update(ctx context.Context, settings model.SystemSettings) (model.SystemSettings, error) {
	if settings.FeedbackMinDelayMin > settings.FeedbackMaxDelayMin {
		return settings, fmt.Errorf("feedback delay bounds inverted")
	}
	if settings.ChurnWeeks >= settings.DangerWeeks {
		return settings, fmt.Errorf("churn threshold must be below danger threshold")
	}
	settings.ID = 1
	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return settings, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}
