package service

import (
	"context"
	"fmt"
	"time"

	"mentor-crm/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FormTokenService mints and consumes the single-use tokens that gate
// the public member forms.
type FormTokenService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewFormTokenService(db *gorm.DB, loc *time.Location) *FormTokenService {
	return &FormTokenService{db: db, now: func() time.Time { return time.Now().In(loc) }}
}

// Mint creates a token for one member and purpose. expiresIn defaults
// to 72 hours.
func (s *FormTokenService) Mint(ctx context.Context, memberID int, purpose string, expiresIn time.Duration) (*model.FormToken, error) {
	switch purpose {
	case model.PurposeWeeklyKpi, model.PurposeOnboarding, model.PurposeKpiSetup:
	default:
		return nil, fmt.Errorf("unknown purpose %q", purpose)
	}
	if expiresIn <= 0 {
		expiresIn = 72 * time.Hour
	}
	t := model.FormToken{
		Token:     uuid.NewString(),
		MemberID:  memberID,
		Purpose:   purpose,
		ExpiresAt: s.now().Add(expiresIn),
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &t, nil
}

// Consume validates a token for the given purpose and marks it used.
// The used_at guard in the update predicate keeps a racing double
// submission from passing twice.
func (s *FormTokenService) Consume(ctx context.Context, token, purpose string) (*model.FormToken, error) {
	var t model.FormToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if t.Purpose != purpose {
		return nil, fmt.Errorf("token purpose mismatch")
	}
	if t.UsedAt != nil {
		return nil, fmt.Errorf("token already used")
	}
	now := s.now()
	if now.After(t.ExpiresAt) {
		return nil, fmt.Errorf("token expired")
	}

	res := s.db.WithContext(ctx).Model(&model.FormToken{}).
		Where("id = ? AND used_at IS NULL", t.ID).
		Update("used_at", now)
	if res.Error != nil {
		return nil, fmt.Errorf("consume token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("token already used")
	}
	t.UsedAt = &now
	return &t, nil
}
